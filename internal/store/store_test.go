package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

/* ------------ helpers ------------ */

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	st := NewWithClient(rdb, 300*time.Second, 3600*time.Second)
	t.Cleanup(func() { _ = st.Close() })
	return st, mr
}

/* ================= cola ================= */

func TestQueueFIFO(t *testing.T) {
	st, _ := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"job_a", "job_b", "job_c"} {
		if err := st.Enqueue(ctx, &Job{ID: id, Language: "python", Code: "pass"}); err != nil {
			t.Fatalf("enqueue %s: %v", id, err)
		}
	}
	if n, _ := st.QueueLen(ctx); n != 3 {
		t.Fatalf("queue len = %d, esperaba 3", n)
	}
	for _, want := range []string{"job_a", "job_b", "job_c"} {
		j, err := st.Dequeue(ctx, time.Second)
		if err != nil {
			t.Fatalf("dequeue: %v", err)
		}
		if j == nil || j.ID != want {
			t.Fatalf("dequeue = %+v, esperaba %s", j, want)
		}
	}
}

func TestDequeueEmptyReturnsNil(t *testing.T) {
	st, _ := newTestStore(t)
	j, err := st.Dequeue(context.Background(), 50*time.Millisecond)
	if err != nil {
		t.Fatalf("dequeue vacío: %v", err)
	}
	if j != nil {
		t.Fatalf("esperaba nil en cola vacía, got %+v", j)
	}
}

func TestJobRoundTripKeepsFields(t *testing.T) {
	st, _ := newTestStore(t)
	ctx := context.Background()
	in := &Job{
		ID:          "job_x",
		Language:    "c",
		Code:        "int main(){return 0;}",
		SubmittedAt: 1700000000,
		Fingerprint: "abc123",
		ClientFP:    "deadbeef",
	}
	if err := st.Enqueue(ctx, in); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	out, err := st.Dequeue(ctx, time.Second)
	if err != nil || out == nil {
		t.Fatalf("dequeue: %v %+v", err, out)
	}
	if *out != *in {
		t.Fatalf("job alterado en la cola:\n in=%+v\nout=%+v", in, out)
	}
}

/* ================= estado y resultado ================= */

func TestStatusLifecycleAndTTL(t *testing.T) {
	st, mr := newTestStore(t)
	ctx := context.Background()

	if err := st.SetStatus(ctx, "job_1", StatusRecord{Status: StatusPending, CreatedAt: 100}); err != nil {
		t.Fatalf("set status: %v", err)
	}
	rec, err := st.GetStatus(ctx, "job_1")
	if err != nil || rec == nil {
		t.Fatalf("get status: %v %+v", err, rec)
	}
	if rec.Status != StatusPending || rec.CreatedAt != 100 {
		t.Fatalf("estado inesperado: %+v", rec)
	}

	// la clave debe expirar con el TTL de resultado
	mr.FastForward(301 * time.Second)
	rec, err = st.GetStatus(ctx, "job_1")
	if err != nil {
		t.Fatalf("get status tras TTL: %v", err)
	}
	if rec != nil {
		t.Fatalf("el estado debería haber expirado: %+v", rec)
	}
}

func TestClearStatus(t *testing.T) {
	st, _ := newTestStore(t)
	ctx := context.Background()
	_ = st.SetStatus(ctx, "job_1", StatusRecord{Status: StatusProcessing, StartedAt: 5})
	if err := st.ClearStatus(ctx, "job_1"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if rec, _ := st.GetStatus(ctx, "job_1"); rec != nil {
		t.Fatalf("estado no borrado: %+v", rec)
	}
}

func TestResultRoundTrip(t *testing.T) {
	st, _ := newTestStore(t)
	ctx := context.Background()
	in := &Result{Stdout: "hola\n", Stderr: "", ExitCode: 0, ExecutionTimeMs: 42}
	if err := st.SetResult(ctx, "job_1", in); err != nil {
		t.Fatalf("set result: %v", err)
	}
	out, err := st.GetResult(ctx, "job_1")
	if err != nil || out == nil {
		t.Fatalf("get result: %v %+v", err, out)
	}
	if *out != *in {
		t.Fatalf("resultado alterado: %+v", out)
	}
	if missing, _ := st.GetResult(ctx, "job_nope"); missing != nil {
		t.Fatal("resultado fantasma")
	}
}

/* ================= caché ================= */

func TestCacheOnlyStoresSuccesses(t *testing.T) {
	st, _ := newTestStore(t)
	ctx := context.Background()

	ok := &Result{Stdout: "x", ExitCode: 0}
	if err := st.CachePut(ctx, "fp1", ok); err != nil {
		t.Fatalf("cache put éxito: %v", err)
	}
	got, err := st.CacheGet(ctx, "fp1")
	if err != nil || got == nil {
		t.Fatalf("cache get: %v %+v", err, got)
	}
	if got.Stdout != "x" || got.Cached {
		// el flag cached se marca al servir, no al guardar
		t.Fatalf("entrada de caché inesperada: %+v", got)
	}

	for name, bad := range map[string]*Result{
		"exit != 0":      {ExitCode: 1},
		"compile error":  {ExitCode: 0, CompileError: true},
		"error interno":  {ExitCode: -1, Error: true},
	} {
		if err := st.CachePut(ctx, "fp2", bad); err == nil {
			t.Fatalf("%s: CachePut debería rechazar", name)
		}
	}
	if got, _ := st.CacheGet(ctx, "fp2"); got != nil {
		t.Fatalf("se cacheó un fallo: %+v", got)
	}
}

func TestCacheMissAndTTL(t *testing.T) {
	st, mr := newTestStore(t)
	ctx := context.Background()
	if got, err := st.CacheGet(ctx, "nada"); err != nil || got != nil {
		t.Fatalf("miss esperado: %v %+v", err, got)
	}
	_ = st.CachePut(ctx, "fp", &Result{ExitCode: 0})
	mr.FastForward(3601 * time.Second)
	if got, _ := st.CacheGet(ctx, "fp"); got != nil {
		t.Fatalf("la caché debería haber expirado: %+v", got)
	}
}

/* ================= rate limit ================= */

func TestLimiterWindow(t *testing.T) {
	st, mr := newTestStore(t)
	ctx := context.Background()
	lim := NewLimiter(st, 3, 60*time.Second)

	for i := 0; i < 3; i++ {
		ok, err := lim.Allow(ctx, "cliente")
		if err != nil || !ok {
			t.Fatalf("petición %d rechazada: %v", i+1, err)
		}
	}
	if ok, _ := lim.Allow(ctx, "cliente"); ok {
		t.Fatal("la 4ª petición debería rechazarse")
	}
	// otro cliente no comparte ventana
	if ok, _ := lim.Allow(ctx, "otro"); !ok {
		t.Fatal("clientes independientes comparten contador")
	}
	// pasada la ventana se recupera presupuesto
	mr.FastForward(61 * time.Second)
	if ok, _ := lim.Allow(ctx, "cliente"); !ok {
		t.Fatal("la ventana no se reinició")
	}
}
