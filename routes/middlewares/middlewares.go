package middlewares

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/oauth"
)

type contextKey string

// AccountIDKey carries the authenticated owner's account id through
// the request context.
const AccountIDKey = contextKey("account_id")

// Owner authorizes the bearer token and requires the 'owner' role,
// stashing the account id claim in the context for controllers.
func Owner(tokenSecret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return chi.Chain(oauth.Authorize(tokenSecret, nil), owner).Handler(next)
	}
}

func owner(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := r.Context().Value(oauth.ClaimsContext).(map[string]string)
		if !ok {
			http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
			return
		}

		isOwner := false
		if rolesClaim, ok := claims["roles"]; ok {
			for _, role := range strings.Split(rolesClaim, ",") {
				if role == "owner" {
					isOwner = true
					break
				}
			}
		}
		if !isOwner {
			http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
			return
		}

		accountID, err := strconv.ParseInt(claims["account_id"], 10, 64)
		if err != nil {
			http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
			return
		}

		ctx := context.WithValue(r.Context(), AccountIDKey, accountID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// AccountID extracts the owner id put in place by Owner. The second
// return is false outside authorized routes.
func AccountID(r *http.Request) (int64, bool) {
	id, ok := r.Context().Value(AccountIDKey).(int64)
	return id, ok
}
