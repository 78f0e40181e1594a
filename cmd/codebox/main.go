// codebox: servicio de ejecución de código en sandbox.
// Dos procesos desde un mismo binario: `serve` (API de envíos) y
// `worker` (slots de ejecución). Todo el estado compartido vive en
// Redis; véase internal/config para el contrato de entorno.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"codebox/internal/api"
	"codebox/internal/config"
	"codebox/internal/lang"
	"codebox/internal/sandbox"
	"codebox/internal/store"
	"codebox/internal/worker"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "codebox",
		Short:         "Sandboxed multi-language code execution service",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.AddCommand(serveCmd(), workerCmd())
	return root
}

func newLogger(component string) zerolog.Logger {
	return zerolog.New(os.Stderr).With().
		Timestamp().
		Str("component", component).
		Logger()
}

func newRegistry(cfg config.Config) (*lang.Registry, error) {
	if cfg.LanguagesFile != "" {
		return lang.Load(cfg.LanguagesFile)
	}
	return lang.Default()
}

func newStore(ctx context.Context, cfg config.Config) (*store.Store, error) {
	st := store.New(cfg.RedisAddr(), cfg.RedisPassword, cfg.ResultTTL, cfg.CacheTTL)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := st.Ping(pingCtx); err != nil {
		_ = st.Close()
		return nil, err
	}
	return st, nil
}

// ---------- serve ----------

func serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the submission API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.FromEnv()
			if addr != "" {
				cfg.ListenAddr = addr
			}
			log := newLogger("api")

			st, err := newStore(cmd.Context(), cfg)
			if err != nil {
				log.Error().Err(err).Msg("redis unreachable")
				return err
			}
			defer st.Close()

			reg, err := newRegistry(cfg)
			if err != nil {
				log.Error().Err(err).Msg("language catalog failed")
				return err
			}

			limiter := store.NewLimiter(st, cfg.RateMax, cfg.RateWindow)
			srv := api.New(log, st, reg, limiter, cfg.RateLimitCached)

			httpSrv := &http.Server{
				Addr:              cfg.ListenAddr,
				Handler:           srv.Router(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			go func() {
				<-ctx.Done()
				shCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				_ = httpSrv.Shutdown(shCtx)
			}()

			log.Info().Str("addr", cfg.ListenAddr).Msg("api listening")
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			log.Info().Msg("api stopped")
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides LISTEN_ADDR)")
	return cmd
}

// ---------- worker ----------

func workerCmd() *cobra.Command {
	var concurrency int
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run the execution worker",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.FromEnv()
			if concurrency > 0 {
				cfg.Concurrency = concurrency
			}
			log := newLogger("worker")

			st, err := newStore(cmd.Context(), cfg)
			if err != nil {
				log.Error().Err(err).Msg("redis unreachable")
				return err
			}
			defer st.Close()

			reg, err := newRegistry(cfg)
			if err != nil {
				log.Error().Err(err).Msg("language catalog failed")
				return err
			}

			launcher, err := sandbox.New(cfg.LauncherBin, cfg.ConfigDir, cfg.LauncherLogPat)
			if err != nil {
				log.Error().Err(err).Msg("launcher setup failed")
				return err
			}

			w, err := worker.New(log, st, reg, launcher, cfg.JobsRoot, cfg.Concurrency)
			if err != nil {
				log.Error().Err(err).Msg("worker setup failed")
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log.Info().Int("slots", cfg.Concurrency).Str("jobs_root", cfg.JobsRoot).Msg("worker starting")
			return w.Run(ctx)
		},
	}
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "execution slots (overrides WORKER_CONCURRENCY)")
	return cmd
}
