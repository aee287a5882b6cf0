package middleware

import (
	"context"
	"net/http"
)

type remoteAddrKey struct{}

// RemoteAddr stashes the request's remote address in the context so
// handlers behind the API adapter can still see who is calling.
func RemoteAddr(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := context.WithValue(r.Context(), remoteAddrKey{}, r.RemoteAddr)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetRemoteAddr returns the remote address from the context.
func GetRemoteAddr(ctx context.Context) string {
	if addr, ok := ctx.Value(remoteAddrKey{}).(string); ok {
		return addr
	}
	return ""
}
