package web

import (
	"context"
	"net/http"

	"github.com/JonMunkholm/product-importer/internal/core"
)

// withRequestMetadata records the client IP for mutation logs. RemoteAddr
// has already been processed by TrustedRealIP.
func withRequestMetadata(r *http.Request) context.Context {
	return core.WithClientIP(r.Context(), clientIP(r))
}
