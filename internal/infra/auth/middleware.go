package auth

import (
	"context"
	"net/http"

	"github.com/xela07ax/netchange-gateway/internal/domain"
	"go.uber.org/zap"
)

type ctxKey string

const (
	// CtxOperatorID — идентификатор оператора из токена
	CtxOperatorID ctxKey = "operator_id"
	// CtxOperatorScopes — права оператора ("changes.submit", "changes.approve", "audit.read")
	CtxOperatorScopes ctxKey = "operator_scopes"
)

// TokenValidator — контракт проверки токена консоли
type TokenValidator interface {
	VerifyToken(tokenStr string) (*domain.CustomClaims, error)
}

func NewMiddleware(v TokenValidator, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			claims, err := v.VerifyToken(authHeader)
			if err != nil {
				logger.Warn("auth failure", zap.Error(err))
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			// Прокидываем данные в контекст
			ctx := context.WithValue(r.Context(), CtxOperatorID, claims.UserID)
			ctx = context.WithValue(ctx, CtxOperatorScopes, claims.Scopes)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// OperatorID достает идентификатор оператора из контекста запроса
func OperatorID(ctx context.Context) string {
	id, _ := ctx.Value(CtxOperatorID).(string)
	return id
}

// HasScope проверяет право оператора из контекста запроса
func HasScope(ctx context.Context, scope string) bool {
	scopes, _ := ctx.Value(CtxOperatorScopes).(map[string]bool)
	return scopes[scope] || scopes["admin"]
}
