package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Caché de contenido: clave = huella sha256(lang:code), valor = Result.
// Solo se escriben éxitos (exit 0, sin error de compilación); la
// escritura duplicada entre workers es benigna (valores equivalentes).

// CacheGet lee la caché; (nil, nil) en miss.
func (s *Store) CacheGet(ctx context.Context, fingerprint string) (*Result, error) {
	raw, err := s.rdb.Get(ctx, cachePrefix+fingerprint).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: leer caché: %w", err)
	}
	var r Result
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("store: caché corrupta: %w", err)
	}
	return &r, nil
}

// CachePut escribe un resultado exitoso con el TTL de caché.
// Rechaza valores no cacheables para que el invariante no dependa
// del llamador.
func (s *Store) CachePut(ctx context.Context, fingerprint string, r *Result) error {
	if r.ExitCode != 0 || r.CompileError || r.Error {
		return fmt.Errorf("store: resultado no cacheable (exit=%d)", r.ExitCode)
	}
	cp := *r
	cp.Cached = false // el flag se marca al servir, no al guardar
	raw, err := json.Marshal(&cp)
	if err != nil {
		return fmt.Errorf("store: serializar caché: %w", err)
	}
	return s.rdb.Set(ctx, cachePrefix+fingerprint, raw, s.cacheTTL).Err()
}
