// Package store encapsula todo el estado compartido del servicio sobre
// Redis: cola FIFO de jobs, estado/resultado con TTL, caché de contenido
// y contadores de rate limit. Es el único punto de coordinación entre la
// API y los workers.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Familias de claves (§ layout de estado persistido).
const (
	queueKey     = "queue:code-execution"
	statusPrefix = "job:status:"
	resultPrefix = "job:result:"
	cachePrefix  = "cache:"
	ratePrefix   = "ratelimit:"
)

// Estados de un job. Las transiciones son monótonas por id.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
)

// Job es la entrada completa de la cola (registro, no puntero, para que
// el encolado sea una sola operación).
type Job struct {
	ID          string `json:"id"`
	Language    string `json:"language"`
	Code        string `json:"code"`
	SubmittedAt int64  `json:"submitted_at"`
	Fingerprint string `json:"fingerprint"`
	ClientFP    string `json:"client_fingerprint,omitempty"`
	Attempts    int    `json:"attempts"`
}

// StatusRecord es el valor de job:status:<id>.
type StatusRecord struct {
	Status    string `json:"status"`
	CreatedAt int64  `json:"created_at,omitempty"`
	StartedAt int64  `json:"started_at,omitempty"`
}

// Result es el valor de job:result:<id> y de cache:<hash>.
type Result struct {
	Stdout          string `json:"stdout"`
	Stderr          string `json:"stderr"`
	ExitCode        int    `json:"exit_code"`
	CompileError    bool   `json:"compile_error"`
	ExecutionTimeMs int64  `json:"execution_time_ms"`
	Cached          bool   `json:"cached,omitempty"`
	Error           bool   `json:"error,omitempty"`
}

// Store es el cliente tipado sobre Redis.
type Store struct {
	rdb       *redis.Client
	resultTTL time.Duration
	cacheTTL  time.Duration
}

// New construye el Store. No valida la conexión; usar Ping.
func New(addr, password string, resultTTL, cacheTTL time.Duration) *Store {
	return &Store{
		rdb: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
		}),
		resultTTL: resultTTL,
		cacheTTL:  cacheTTL,
	}
}

// NewWithClient permite inyectar un cliente ya construido (tests).
func NewWithClient(rdb *redis.Client, resultTTL, cacheTTL time.Duration) *Store {
	return &Store{rdb: rdb, resultTTL: resultTTL, cacheTTL: cacheTTL}
}

func (s *Store) Close() error { return s.rdb.Close() }

// Ping comprueba la conexión con Redis.
func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// ---------- cola ----------

// Enqueue empuja el job a la cabeza de la cola (FIFO con BRPOP en cola).
func (s *Store) Enqueue(ctx context.Context, j *Job) error {
	raw, err := json.Marshal(j)
	if err != nil {
		return fmt.Errorf("store: serializar job %s: %w", j.ID, err)
	}
	if err := s.rdb.LPush(ctx, queueKey, raw).Err(); err != nil {
		return fmt.Errorf("store: encolar job %s: %w", j.ID, err)
	}
	return nil
}

// Dequeue extrae de forma atómica el siguiente job, bloqueando hasta
// timeout. Devuelve (nil, nil) si la cola sigue vacía al vencer.
func (s *Store) Dequeue(ctx context.Context, timeout time.Duration) (*Job, error) {
	res, err := s.rdb.BRPop(ctx, timeout, queueKey).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: desencolar: %w", err)
	}
	// BRPOP devuelve [clave, valor].
	var j Job
	if err := json.Unmarshal([]byte(res[1]), &j); err != nil {
		return nil, fmt.Errorf("store: job corrupto en cola: %w", err)
	}
	return &j, nil
}

// QueueLen devuelve la profundidad actual de la cola.
func (s *Store) QueueLen(ctx context.Context) (int64, error) {
	return s.rdb.LLen(ctx, queueKey).Result()
}

// ---------- estado ----------

// SetStatus escribe job:status:<id> con el TTL de resultado.
func (s *Store) SetStatus(ctx context.Context, id string, rec StatusRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("store: serializar estado %s: %w", id, err)
	}
	return s.rdb.Set(ctx, statusPrefix+id, raw, s.resultTTL).Err()
}

// GetStatus lee el estado; (nil, nil) si no existe o expiró.
func (s *Store) GetStatus(ctx context.Context, id string) (*StatusRecord, error) {
	raw, err := s.rdb.Get(ctx, statusPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: leer estado %s: %w", id, err)
	}
	var rec StatusRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("store: estado corrupto %s: %w", id, err)
	}
	return &rec, nil
}

// ClearStatus borra la clave de estado (el resultado ya es visible).
func (s *Store) ClearStatus(ctx context.Context, id string) error {
	return s.rdb.Del(ctx, statusPrefix+id).Err()
}

// ---------- resultado ----------

// SetResult escribe job:result:<id> con TTL.
func (s *Store) SetResult(ctx context.Context, id string, r *Result) error {
	raw, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("store: serializar resultado %s: %w", id, err)
	}
	return s.rdb.Set(ctx, resultPrefix+id, raw, s.resultTTL).Err()
}

// GetResult lee el resultado; (nil, nil) si no existe o expiró.
func (s *Store) GetResult(ctx context.Context, id string) (*Result, error) {
	raw, err := s.rdb.Get(ctx, resultPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: leer resultado %s: %w", id, err)
	}
	var r Result
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("store: resultado corrupto %s: %w", id, err)
	}
	return &r, nil
}
