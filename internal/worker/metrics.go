package worker

import (
	"math"
	"sync"

	"github.com/rs/zerolog"
)

// ---- estadísticos (Welford) ----

type stat struct {
	mu   sync.Mutex
	n    int64
	mean float64
	m2   float64
}

func (s *stat) add(x float64) {
	s.mu.Lock()
	s.n++
	delta := x - s.mean
	s.mean += delta / float64(s.n)
	delta2 := x - s.mean
	s.m2 += delta * delta2
	s.mu.Unlock()
}

func (s *stat) snapshot() (count int64, mean, std float64) {
	s.mu.Lock()
	count = s.n
	mean = s.mean
	if s.n > 1 {
		variance := s.m2 / float64(s.n-1)
		if variance > 0 {
			std = math.Sqrt(variance)
		}
	}
	s.mu.Unlock()
	return
}

// logMetrics vuelca un snapshot del pool al log estructurado.
func (w *Worker) logMetrics() {
	_, meanWait, stdWait := w.waitStat.snapshot()
	_, meanRun, stdRun := w.runStat.snapshot()
	w.log.Info().
		Uint64("dispatched", w.dispatched.Load()).
		Uint64("completed", w.completed.Load()).
		Uint64("failed", w.failed.Load()).
		Uint64("cache_writes", w.cacheWrites.Load()).
		Int("slots", w.pool.Cap()).
		Int("busy", w.pool.Running()).
		Float64("wait_ms_avg", round2(meanWait)).
		Float64("wait_ms_std", round2(stdWait)).
		Float64("run_ms_avg", round2(meanRun)).
		Float64("run_ms_std", round2(stdRun)).
		Msg("pool metrics")
}

func round2(x float64) float64 { return math.Round(x*100) / 100 }

// antsLogger adapta zerolog al logger plano de ants.
type antsLogger struct{ log zerolog.Logger }

func (a antsLogger) Printf(format string, args ...interface{}) {
	a.log.Debug().Msgf(format, args...)
}
