package auth

import (
	"net/http"

	"github.com/ledgerdesk/ledgerdesk/internal/platform/httpx"
	"github.com/ledgerdesk/ledgerdesk/internal/shared"
)

// RequireUser rejects requests without a logged-in session and places the
// user id in the context for httpx.Actor.
func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess := shared.SessionFromContext(r.Context())
		if sess == nil || sess.User() == 0 {
			httpx.RespondError(w, r, nil, shared.ErrUnauthorized)
			return
		}
		ctx := shared.ContextWithActor(r.Context(), sess.User())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
