package store

import (
	"context"
	"fmt"
	"time"
)

// Limiter implementa ventana fija con INCR atómico sobre Redis.
// La carrera entre réplicas puede exceder el máximo en N_concurrente-1;
// aceptable según contrato.
type Limiter struct {
	store  *Store
	Max    int
	Window time.Duration
}

// NewLimiter construye el limitador sobre un Store existente.
func NewLimiter(s *Store, max int, window time.Duration) *Limiter {
	return &Limiter{store: s, Max: max, Window: window}
}

// Allow incrementa el contador del cliente y decide.
// La expiración solo se fija cuando el contador pasa de 0 a 1.
func (l *Limiter) Allow(ctx context.Context, clientFP string) (bool, error) {
	key := ratePrefix + clientFP
	n, err := l.store.rdb.Incr(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("store: incr rate limit: %w", err)
	}
	if n == 1 {
		if err := l.store.rdb.Expire(ctx, key, l.Window).Err(); err != nil {
			return false, fmt.Errorf("store: expire rate limit: %w", err)
		}
	}
	// "rechazar si el valor previo al incremento >= max"
	return n <= int64(l.Max), nil
}
