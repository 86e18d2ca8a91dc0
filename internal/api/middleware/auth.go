package middleware

import (
	"net/http"
	"strings"

	"tradecore/pkg/crypto"
	"tradecore/pkg/utils"
)

// TokenChecker проверяет токен дашборда; реализуется crypto.TokenSet
type TokenChecker interface {
	Check(token string) bool
}

var _ TokenChecker = (*crypto.TokenSet)(nil)

// Auth - middleware проверки токена API
//
// Назначение:
// Защищает /api/v1 от неавторизованного доступа. Токен передаётся в
// заголовке "Authorization: Bearer <token>"; для WebSocket, где браузер не
// может выставить заголовок, допускается query-параметр ?token=.
//
// Токены хранятся только в виде bcrypt-хешей (API_TOKEN_HASHES).
// checker == nil отключает проверку.
func Auth(checker TokenChecker) func(http.Handler) http.Handler {
	log := utils.L().WithComponent("api_auth")

	return func(next http.Handler) http.Handler {
		if checker == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			token := bearerToken(r)
			if token == "" || !checker.Check(token) {
				log.Warn("unauthorized request",
					utils.String("path", r.URL.Path),
					utils.String("remote", r.RemoteAddr))
				w.Header().Set("WWW-Authenticate", `Bearer realm="tradecore"`)
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		const prefix = "Bearer "
		if len(h) > len(prefix) && strings.EqualFold(h[:len(prefix)], prefix) {
			return strings.TrimSpace(h[len(prefix):])
		}
		return ""
	}
	return r.URL.Query().Get("token")
}
