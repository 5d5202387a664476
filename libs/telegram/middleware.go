package telegram

import (
	"context"
	"net/http"
)

type ctxKey int

const ctxKeyUser ctxKey = iota

// InitDataHeader carries the raw WebApp initData on authenticated requests.
const InitDataHeader = "X-Tg-Init-Data"

func UserFromContext(ctx context.Context) (*User, bool) {
	u, ok := ctx.Value(ctxKeyUser).(*User)
	return u, ok
}

func ContextWithUser(ctx context.Context, u *User) context.Context {
	return context.WithValue(ctx, ctxKeyUser, u)
}

// RequireUser rejects requests whose initData header is missing or fails
// signature verification, and stores the verified user in the context.
func RequireUser(v *Validator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := r.Header.Get(InitDataHeader)
			if raw == "" {
				http.Error(w, "missing init data", http.StatusUnauthorized)
				return
			}
			user, err := v.Validate(raw)
			if err != nil {
				http.Error(w, "invalid init data", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(ContextWithUser(r.Context(), user)))
		})
	}
}
