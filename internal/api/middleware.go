package api

import (
	"mime"
	"net/http"
)

// RequireMultipart rejects requests whose body is not multipart/form-data.
func RequireMultipart(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
		if err != nil || mediaType != "multipart/form-data" {
			BadRequest(w, "request must be multipart/form-data")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// BodyLimit returns middleware that caps the request body at limit bytes.
// Reads past the cap fail with *http.MaxBytesError.
func BodyLimit(limit int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > limit {
				TooLarge(w, "request body too large")
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, limit)
			next.ServeHTTP(w, r)
		})
	}
}
