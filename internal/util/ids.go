package util

import (
	"crypto/sha256"
	"encoding/hex"
	"net"
	"regexp"

	"github.com/google/uuid"
)

// Gramática de ids visible en la API: prefijo + token.
// Los UUID crudos llevan '-', que la gramática no admite; por eso hex.
var jobIDRe = regexp.MustCompile(`^(job_|cached_)[A-Za-z0-9._]+$`)

// NewJobID genera un id de job con 122 bits aleatorios (UUID v4 en hex).
func NewJobID() string {
	u := uuid.New()
	return "job_" + hex.EncodeToString(u[:])
}

// NewCachedID genera el id sintético de una respuesta servida desde caché.
func NewCachedID() string {
	u := uuid.New()
	return "cached_" + hex.EncodeToString(u[:])
}

// ValidJobID valida un id recibido por la API antes de tocar el store.
func ValidJobID(id string) bool {
	return jobIDRe.MatchString(id)
}

// Fingerprint calcula la huella de contenido usada como clave de caché.
// El separador ':' no puede aparecer en un identificador de lenguaje,
// así que (lang, code) ↔ huella es inequívoca.
func Fingerprint(language, code string) string {
	h := sha256.New()
	h.Write([]byte(language))
	h.Write([]byte{':'})
	h.Write([]byte(code))
	return hex.EncodeToString(h.Sum(nil))
}

// ClientFingerprint deriva una huella unidireccional del origen de red.
// Solo se usa para rate limit y logs; nunca se persiste la IP en claro.
func ClientFingerprint(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	sum := sha256.Sum256([]byte(host))
	return hex.EncodeToString(sum[:16])
}
