package httpx

import (
	"context"
	"net/http"
)

// Principal is the authenticated caller as asserted by the gateway.
// Services trust these headers as given; verification happens upstream.
type Principal struct {
	UserID     string
	BusinessID string
	Role       string
}

func (p Principal) IsBusiness() bool {
	return p.Role == "owner" || p.Role == "staff"
}

func PrincipalFromContext(ctx context.Context) Principal {
	v, _ := ctx.Value(ctxKeyPrincipal).(Principal)
	return v
}

func WithPrincipal(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := Principal{
			UserID:     r.Header.Get("X-User-Id"),
			BusinessID: r.Header.Get("X-Business-Id"),
			Role:       r.Header.Get("X-Role"),
		}
		ctx := context.WithValue(r.Context(), ctxKeyPrincipal, p)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
