// Package worker implementa el proceso de ejecución: un dispatcher que
// extrae jobs de la cola y N slots concurrentes que los llevan por el
// pipeline workspace → compilar → sandbox → persistir → limpiar.
package worker

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/rs/zerolog"

	"codebox/internal/lang"
	"codebox/internal/sandbox"
	"codebox/internal/store"
)

// pollTimeout acota el bloqueo del BRPOP para poder atender señales.
const pollTimeout = time.Second

// metricsEvery marca el periodo del snapshot de métricas en el log.
const metricsEvery = time.Minute

// Worker agrupa el dispatcher y los slots de ejecución.
type Worker struct {
	log      zerolog.Logger
	store    *store.Store
	reg      *lang.Registry
	launcher *sandbox.Launcher
	jobsRoot string
	pool     *ants.Pool
	wg       sync.WaitGroup

	dispatched  atomic.Uint64
	completed   atomic.Uint64
	failed      atomic.Uint64
	cacheWrites atomic.Uint64
	waitStat    stat
	runStat     stat
}

// New construye el worker con `concurrency` slots. Crea la raíz de
// workspaces si no existe.
func New(log zerolog.Logger, st *store.Store, reg *lang.Registry, l *sandbox.Launcher, jobsRoot string, concurrency int) (*Worker, error) {
	if concurrency <= 0 {
		concurrency = 1
	}
	if err := os.MkdirAll(jobsRoot, 0o755); err != nil {
		return nil, fmt.Errorf("worker: crear raíz de jobs %s: %w", jobsRoot, err)
	}
	pool, err := ants.NewPool(concurrency, ants.WithLogger(antsLogger{log}))
	if err != nil {
		return nil, fmt.Errorf("worker: crear pool: %w", err)
	}
	return &Worker{
		log:      log,
		store:    st,
		reg:      reg,
		launcher: l,
		jobsRoot: jobsRoot,
		pool:     pool,
	}, nil
}

// Run ejecuta el bucle dispatcher hasta que el contexto se cancele.
// Submit bloquea cuando todos los slots están ocupados: la backpressure
// se queda en la cola de Redis, no en memoria del worker.
func (w *Worker) Run(ctx context.Context) error {
	defer w.pool.Release()

	stopMetrics := make(chan struct{})
	defer close(stopMetrics)
	go func() {
		t := time.NewTicker(metricsEvery)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				w.logMetrics()
			case <-stopMetrics:
				return
			}
		}
	}()

	idle := false
	for {
		if ctx.Err() != nil {
			break
		}
		job, err := w.store.Dequeue(ctx, pollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			w.log.Error().Err(err).Msg("dequeue failed")
			time.Sleep(pollTimeout)
			continue
		}
		if job == nil {
			idle = true
			continue
		}
		if idle {
			// tras un periodo ocioso, deja constancia de la profundidad
			if n, qerr := w.store.QueueLen(ctx); qerr == nil {
				w.log.Debug().Int64("queue_len", n).Msg("queue active")
			}
			idle = false
		}

		w.dispatched.Add(1)
		enqueued := time.Now()
		j := job
		w.wg.Add(1)
		submitErr := w.pool.Submit(func() {
			defer w.wg.Done()
			w.waitStat.add(float64(time.Since(enqueued)) / 1e6)
			w.process(j)
		})
		if submitErr != nil {
			w.wg.Done()
			// pool liberado en pleno apagado: registrar resultado de
			// infraestructura para no dejar al cliente esperando
			w.finish(j, infraResult(fmt.Errorf("worker: slot no disponible: %w", submitErr)))
		}
	}

	w.log.Info().Msg("dispatcher stopping, draining slots")
	w.wg.Wait()
	w.logMetrics()
	return nil
}
