package httpmiddleware

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
)

// APIKeyLookup resolves an HMAC-SHA256 key hash to the stored hash for that
// key, or an error when no such key exists.
type APIKeyLookup interface {
	FindHash(ctx context.Context, hash string) (string, error)
}

// RequireAPIKey returns a middleware that authenticates requests via the
// X-API-Key header. The presented key is HMAC-SHA256 hashed with the pepper,
// looked up, and compared in constant time against the stored hash.
func RequireAPIKey(keys APIKeyLookup, pepper []byte) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				unauthorized(w)
				return
			}

			mac := hmac.New(sha256.New, pepper)
			mac.Write([]byte(key))
			hash := mac.Sum(nil)

			stored, err := keys.FindHash(r.Context(), hex.EncodeToString(hash))
			if err != nil {
				unauthorized(w)
				return
			}

			// Constant-time comparison guards against timing side-channels
			// in case the lookup returns a stale or mismatched row.
			storedBytes, err := hex.DecodeString(stored)
			if err != nil || subtle.ConstantTimeCompare(hash, storedBytes) != 1 {
				unauthorized(w)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func unauthorized(w http.ResponseWriter) {
	writeEnvelope(w, http.StatusUnauthorized, "unauthorized")
}
