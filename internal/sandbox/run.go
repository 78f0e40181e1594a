package sandbox

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
)

// RunSpec describe una ejecución supervisada de un proceso hijo.
type RunSpec struct {
	Argv    []string // argv explícito, nunca string de shell
	Dir     string   // cwd (workspace del job)
	Env     []string // entorno completo del hijo
	Timeout time.Duration
}

// RunResult es el desenlace crudo de la ejecución.
type RunResult struct {
	Stdout         []byte
	Stderr         []byte
	ExitCode       int
	TimedOut       bool // watchdog de pared disparado
	OutputExceeded bool // tope de captura superado
	Signaled       bool // el hijo murió por señal (incluye nuestros kills)
}

// Run lanza el argv en su propio grupo de procesos y lo supervisa:
// captura stdout/stderr en paralelo con tope de 64 KiB por stream y
// mata al grupo completo si vence el timeout, se excede la salida o se
// cancela el contexto. El error solo es no-nil si el proceso ni siquiera
// pudo arrancar.
func Run(ctx context.Context, spec RunSpec) (*RunResult, error) {
	if len(spec.Argv) == 0 {
		return nil, fmt.Errorf("sandbox: argv vacío")
	}
	cmd := exec.Command(spec.Argv[0], spec.Argv[1:]...)
	cmd.Dir = spec.Dir
	cmd.Env = spec.Env
	// Grupo propio: los kill llegan también a los nietos.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("sandbox: pipe stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("sandbox: pipe stderr: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("sandbox: arrancar %s: %w", spec.Argv[0], err)
	}

	pgid := cmd.Process.Pid
	var killOnce sync.Once
	kill := func() {
		killOnce.Do(func() {
			_ = syscall.Kill(-pgid, syscall.SIGKILL)
		})
	}

	var timedOut, exceeded atomic.Bool
	var timer *time.Timer
	if spec.Timeout > 0 {
		timer = time.AfterFunc(spec.Timeout, func() {
			timedOut.Store(true)
			kill()
		})
		defer timer.Stop()
	}

	// Cancelación externa mientras el hijo vive.
	waitDone := make(chan struct{})
	defer close(waitDone)
	go func() {
		select {
		case <-ctx.Done():
			kill()
		case <-waitDone:
		}
	}()

	overflow := func() {
		exceeded.Store(true)
		kill()
	}

	var outBuf, errBuf []byte
	var g errgroup.Group
	g.Go(func() error {
		outBuf = capture(stdout, MaxCaptureBytes, overflow)
		return nil
	})
	g.Go(func() error {
		errBuf = capture(stderr, MaxCaptureBytes, overflow)
		return nil
	})
	_ = g.Wait()

	waitErr := cmd.Wait()

	res := &RunResult{
		Stdout:         outBuf,
		Stderr:         errBuf,
		ExitCode:       cmd.ProcessState.ExitCode(),
		TimedOut:       timedOut.Load(),
		OutputExceeded: exceeded.Load(),
	}
	if ws, ok := cmd.ProcessState.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		res.Signaled = true
	}
	// Un waitErr con ProcessState válido es un exit distinto de cero o
	// muerte por señal: desenlace, no error de infraestructura.
	if waitErr != nil && cmd.ProcessState == nil {
		return nil, fmt.Errorf("sandbox: wait: %w", waitErr)
	}
	return res, nil
}

// capture lee hasta EOF quedándose con los primeros limit bytes.
// Si el total leído supera limit invoca onOverflow (una vez) y sigue
// drenando para no bloquear al hijo mientras muere.
func capture(r io.Reader, limit int, onOverflow func()) []byte {
	buf := make([]byte, 0, 4096)
	tmp := make([]byte, 4096)
	total := 0
	fired := false
	for {
		n, err := r.Read(tmp)
		if n > 0 {
			total += n
			if len(buf) < limit {
				take := n
				if len(buf)+take > limit {
					take = limit - len(buf)
				}
				buf = append(buf, tmp[:take]...)
			}
			if total > limit && !fired {
				fired = true
				onOverflow()
			}
		}
		if err != nil {
			return buf
		}
	}
}
