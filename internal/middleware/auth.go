package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"
)

// SignatureMiddleware checks the shared-secret signing key on every API
// request. The key travels in the query string, the JSON body, or the
// stream path segment depending on the endpoint. A mismatch always gets
// the same "invalid signature" payload so callers cannot probe which
// endpoints exist.
func SignatureMiddleware(signingKey string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/health" {
			next.ServeHTTP(w, r)
			return
		}

		if strings.HasPrefix(r.URL.Path, "/api/stream/") {
			if strings.TrimPrefix(r.URL.Path, "/api/stream/") != signingKey {
				writeInvalidSignature(w)
				return
			}
			next.ServeHTTP(w, r)
			return
		}

		key := r.URL.Query().Get("signingkey")
		if key == "" && r.Body != nil {
			key = keyFromBody(r)
		}
		if key != signingKey {
			writeInvalidSignature(w)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// keyFromBody peeks at a JSON body for the signingkey field and restores
// the body so the handler can decode it again.
func keyFromBody(r *http.Request) string {
	body, err := io.ReadAll(r.Body)
	r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(body))
	if err != nil {
		return ""
	}

	var payload struct {
		SigningKey string `json:"signingkey"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	return payload.SigningKey
}

// writeInvalidSignature reports an authorization failure as an ordinary
// payload, not an HTTP auth error, keeping all results generic JSON.
func writeInvalidSignature(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode("invalid signature")
}
