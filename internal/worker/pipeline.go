package worker

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"codebox/internal/lang"
	"codebox/internal/sandbox"
	"codebox/internal/store"
	"codebox/internal/util"
)

const (
	compileTimeout = 30 * time.Second
	// margen del watchdog de pared sobre el timeout del lenguaje
	graceTimeout = 5 * time.Second

	msgExecTimeout    = "Execution timeout exceeded"
	msgOutputExceeded = "Output exceeded maximum size (64KB)"
	msgCompileTimeout = "Compilation timeout exceeded"

	// nombre del artefacto compilado dentro del workspace
	binaryName = "prog"
)

// process lleva un job de principio a fin. Nunca deja un job sin
// resultado: cualquier fallo interno se materializa como Result de
// infraestructura para que el cliente que sondea no espere eternamente.
func (w *Worker) process(job *store.Job) {
	start := time.Now()
	res := w.execute(context.Background(), job)
	res.ExecutionTimeMs = time.Since(start).Milliseconds()
	w.runStat.add(float64(res.ExecutionTimeMs))
	w.finish(job, res)
}

// finish persiste el resultado, alimenta la caché en éxito y borra la
// clave de estado.
func (w *Worker) finish(job *store.Job, res *store.Result) {
	ctx := context.Background()

	if err := w.store.SetResult(ctx, job.ID, res); err != nil {
		w.log.Error().Err(err).Str("job", job.ID).Msg("persist result failed")
	}
	if res.ExitCode == 0 && !res.CompileError && !res.Error {
		fp := job.Fingerprint
		if fp == "" {
			fp = util.Fingerprint(job.Language, job.Code)
		}
		if err := w.store.CachePut(ctx, fp, res); err != nil {
			w.log.Warn().Err(err).Str("job", job.ID).Msg("cache write failed")
		} else {
			w.cacheWrites.Add(1)
		}
	}
	if err := w.store.ClearStatus(ctx, job.ID); err != nil {
		w.log.Warn().Err(err).Str("job", job.ID).Msg("clear status failed")
	}

	if res.Error {
		w.failed.Add(1)
	} else {
		w.completed.Add(1)
	}
	w.log.Info().
		Str("job", job.ID).
		Str("language", job.Language).
		Int("exit_code", res.ExitCode).
		Bool("compile_error", res.CompileError).
		Int64("ms", res.ExecutionTimeMs).
		Msg("job finished")
}

// execute materializa el workspace y conduce compilación y ejecución.
// El workspace se destruye en cualquier salida, incluido un panic.
func (w *Worker) execute(ctx context.Context, job *store.Job) (res *store.Result) {
	l, ok := w.reg.Get(job.Language)
	if !ok {
		return infraResult(fmt.Errorf("worker: lenguaje desconocido %q", job.Language))
	}

	if err := w.store.SetStatus(ctx, job.ID, store.StatusRecord{
		Status:    store.StatusProcessing,
		StartedAt: time.Now().Unix(),
	}); err != nil {
		return infraResult(err)
	}

	ws := filepath.Join(w.jobsRoot, job.ID)
	defer func() {
		if r := recover(); r != nil {
			w.log.Error().Str("job", job.ID).Interface("panic", r).Msg("pipeline panic")
			res = infraResult(fmt.Errorf("worker: panic en pipeline: %v", r))
		}
		if err := os.RemoveAll(ws); err != nil {
			w.log.Warn().Err(err).Str("job", job.ID).Msg("workspace cleanup failed")
		}
	}()

	// workspace exclusivo del job, modo 0700
	if err := os.Mkdir(ws, 0o700); err != nil {
		return infraResult(fmt.Errorf("worker: crear workspace: %w", err))
	}
	srcPath := filepath.Join(ws, l.SourceFile)
	if err := os.WriteFile(srcPath, []byte(job.Code), 0o600); err != nil {
		return infraResult(fmt.Errorf("worker: escribir fuente: %w", err))
	}

	vars := map[string]string{
		"WORKSPACE": ws,
		"SRC":       l.SourceFile,
		"BIN":       filepath.Join(ws, binaryName),
	}
	env := os.Environ()
	for k, v := range l.Env {
		env = append(env, k+"="+v)
	}

	if l.Compiled {
		if cres := w.compile(ctx, l, vars, ws, env); cres != nil {
			return cres
		}
	}

	cfgPath, err := w.launcher.RenderConfig(l.SandboxTemplate, ws)
	if err != nil {
		return infraResult(err)
	}

	program := lang.ExpandArgs(l.RunCmd, vars)
	argv := w.launcher.Command(cfgPath, program)
	timeout := time.Duration(l.TimeoutMs)*time.Millisecond + graceTimeout

	rres, err := sandbox.Run(ctx, sandbox.RunSpec{
		Argv:    argv,
		Dir:     ws,
		Env:     env,
		Timeout: timeout,
	})
	if err != nil {
		// el launcher ni siquiera arrancó
		return &store.Result{ExitCode: -1, Stderr: err.Error()}
	}

	switch {
	case rres.OutputExceeded:
		return &store.Result{
			Stdout:   string(rres.Stdout),
			Stderr:   msgOutputExceeded,
			ExitCode: -1,
		}
	case rres.TimedOut:
		return &store.Result{
			Stdout:   string(rres.Stdout),
			Stderr:   msgExecTimeout,
			ExitCode: -1,
		}
	}
	return &store.Result{
		Stdout:   string(rres.Stdout),
		Stderr:   w.launcher.FilterNoise(string(rres.Stderr)),
		ExitCode: rres.ExitCode,
	}
}

// compile corre el compilador fuera del sandbox (argv explícito, cwd en
// el workspace, 30 s de tope). Devuelve nil si la compilación fue bien;
// en otro caso el Result terminal del job (error de compilación como
// desenlace, nunca se cachea y se salta la ejecución).
func (w *Worker) compile(ctx context.Context, l lang.Language, vars map[string]string, ws string, env []string) *store.Result {
	argv := lang.ExpandArgs(l.CompileCmd, vars)
	cres, err := sandbox.Run(ctx, sandbox.RunSpec{
		Argv:    argv,
		Dir:     ws,
		Env:     env,
		Timeout: compileTimeout,
	})
	if err != nil {
		return infraResult(fmt.Errorf("worker: lanzar compilador: %w", err))
	}
	if cres.TimedOut {
		return &store.Result{Stderr: msgCompileTimeout, ExitCode: -1, CompileError: true}
	}
	if cres.ExitCode != 0 {
		return &store.Result{
			Stdout:       "",
			Stderr:       string(cres.Stderr),
			ExitCode:     cres.ExitCode,
			CompileError: true,
		}
	}
	return nil
}

// infraResult colapsa un fallo interno en un Result visible por el
// cliente (exit −1 + error=true).
func infraResult(err error) *store.Result {
	return &store.Result{
		ExitCode: -1,
		Stderr:   err.Error(),
		Error:    true,
	}
}
