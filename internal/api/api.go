// Package api expone la superficie HTTP del servicio: envío de código,
// consulta de estado y catálogo de lenguajes. Toda la coordinación con
// los workers pasa por el store; los handlers no ejecutan nada.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"codebox/internal/lang"
	"codebox/internal/store"
	"codebox/internal/util"
)

// maxCodeBytes acota el tamaño del código fuente aceptado.
const maxCodeBytes = 64 * 1024

// maxBodyBytes acota el cuerpo JSON. Holgado respecto a maxCodeBytes:
// el escape JSON puede inflar 64 KiB de fuente hasta 6x.
const maxBodyBytes = 512 * 1024

// Server agrupa las dependencias de los handlers.
type Server struct {
	log        zerolog.Logger
	store      *store.Store
	reg        *lang.Registry
	limiter    *store.Limiter
	rateCached bool // si los cache hits consumen presupuesto de rate limit
}

// New construye el servidor de la API.
func New(log zerolog.Logger, st *store.Store, reg *lang.Registry, limiter *store.Limiter, rateCached bool) *Server {
	return &Server{log: log, store: st, reg: reg, limiter: limiter, rateCached: rateCached}
}

// Router arma las rutas con CORS permisivo y preflight.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()
	r.Use(corsMiddleware)
	r.HandleFunc("/execute", s.handleExecute).Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/languages", s.handleLanguages).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	return r
}

// ---------- /execute ----------

type executeRequest struct {
	Language string `json:"language"`
	Code     string `json:"code"`
}

type executeResponse struct {
	Success bool          `json:"success"`
	JobID   string        `json:"job_id"`
	Status  string        `json:"status"`
	Cached  bool          `json:"cached"`
	Result  *store.Result `json:"result,omitempty"`
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req executeRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if !s.reg.Has(req.Language) {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unsupported language: %q", req.Language))
		return
	}
	if len(req.Code) == 0 {
		writeError(w, http.StatusBadRequest, "code is empty")
		return
	}
	if len(req.Code) > maxCodeBytes {
		writeError(w, http.StatusBadRequest, "code exceeds maximum size (64KB)")
		return
	}

	clientFP := util.ClientFingerprint(r.RemoteAddr)
	fingerprint := util.Fingerprint(req.Language, req.Code)

	// Con rateCached los hits de caché también cuestan presupuesto
	// (evita enumeración barata); el contador se incrementa antes de
	// mirar la caché.
	if s.rateCached {
		if !s.allow(w, ctx, clientFP) {
			return
		}
	}

	cached, err := s.store.CacheGet(ctx, fingerprint)
	if err != nil {
		s.internalError(w, err, "cache lookup")
		return
	}
	if cached != nil {
		res := *cached
		res.Cached = true
		writeJSON(w, http.StatusOK, executeResponse{
			Success: true,
			JobID:   util.NewCachedID(),
			Status:  store.StatusCompleted,
			Cached:  true,
			Result:  &res,
		})
		return
	}

	if !s.rateCached {
		if !s.allow(w, ctx, clientFP) {
			return
		}
	}

	id := util.NewJobID()
	now := time.Now().Unix()
	if err := s.store.SetStatus(ctx, id, store.StatusRecord{
		Status:    store.StatusPending,
		CreatedAt: now,
	}); err != nil {
		s.internalError(w, err, "persist status")
		return
	}
	if err := s.store.Enqueue(ctx, &store.Job{
		ID:          id,
		Language:    req.Language,
		Code:        req.Code,
		SubmittedAt: now,
		Fingerprint: fingerprint,
		ClientFP:    clientFP,
	}); err != nil {
		s.internalError(w, err, "enqueue")
		return
	}

	writeJSON(w, http.StatusOK, executeResponse{
		Success: true,
		JobID:   id,
		Status:  "queued",
		Cached:  false,
	})
}

// allow aplica el rate limit; escribe el 429 si no hay presupuesto.
func (s *Server) allow(w http.ResponseWriter, ctx context.Context, clientFP string) bool {
	ok, err := s.limiter.Allow(ctx, clientFP)
	if err != nil {
		s.internalError(w, err, "rate limit")
		return false
	}
	if !ok {
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded, try again later")
		return false
	}
	return true
}

// ---------- /status ----------

type statusResponse struct {
	Success   bool          `json:"success"`
	JobID     string        `json:"job_id"`
	Status    string        `json:"status"`
	CreatedAt int64         `json:"created_at,omitempty"`
	StartedAt int64         `json:"started_at,omitempty"`
	Result    *store.Result `json:"result,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.URL.Query().Get("job_id")
	if id == "" || !util.ValidJobID(id) {
		writeError(w, http.StatusBadRequest, "invalid job_id")
		return
	}

	// orden de búsqueda: resultado → estado → ausente
	res, err := s.store.GetResult(ctx, id)
	if err != nil {
		s.internalError(w, err, "result lookup")
		return
	}
	if res != nil {
		writeJSON(w, http.StatusOK, statusResponse{
			Success: true,
			JobID:   id,
			Status:  store.StatusCompleted,
			Result:  res,
		})
		return
	}

	rec, err := s.store.GetStatus(ctx, id)
	if err != nil {
		s.internalError(w, err, "status lookup")
		return
	}
	if rec != nil {
		writeJSON(w, http.StatusOK, statusResponse{
			Success:   true,
			JobID:     id,
			Status:    rec.Status,
			CreatedAt: rec.CreatedAt,
			StartedAt: rec.StartedAt,
		})
		return
	}

	writeError(w, http.StatusNotFound, "job not found or expired")
}

// ---------- /languages ----------

type languagesResponse struct {
	Success   bool                           `json:"success"`
	Languages map[string]lang.PublicLanguage `json:"languages"`
	RateLimit rateLimitInfo                  `json:"rate_limit"`
}

type rateLimitInfo struct {
	Max           int `json:"max"`
	WindowSeconds int `json:"window_seconds"`
}

func (s *Server) handleLanguages(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, languagesResponse{
		Success:   true,
		Languages: s.reg.PublicView(),
		RateLimit: rateLimitInfo{
			Max:           s.limiter.Max,
			WindowSeconds: int(s.limiter.Window / time.Second),
		},
	})
}

// ---------- /healthz ----------

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "redis unreachable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// internalError loguea el detalle y colapsa a un 500 genérico: nunca
// se exponen errores internos al cliente.
func (s *Server) internalError(w http.ResponseWriter, err error, op string) {
	s.log.Error().Err(err).Str("op", op).Msg("internal error")
	writeError(w, http.StatusInternalServerError, "internal error")
}
