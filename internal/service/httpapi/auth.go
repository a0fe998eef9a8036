package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const tokenIssuer = "returns-service"

var signingMethod = jwt.SigningMethodHS256

// Claims — содержимое bearer-токена. Роль в токене справочная:
// права всегда проверяются по профилю пользователя в хранилище.
type Claims struct {
	UserID string `json:"user_id"`
	Role   string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

type actorKey struct{}

// IssueToken подписывает токен пользователя. Используется dev-инструментами и тестами.
func IssueToken(secret []byte, userID, role string, ttl time.Duration, now time.Time) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("jwt secret is required")
	}
	if userID == "" {
		return "", errors.New("user id is required")
	}
	claims := Claims{
		UserID: userID,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(signingMethod, claims).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("sign jwt: %w", err)
	}
	return signed, nil
}

func parseToken(secret []byte, raw string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (any, error) {
		if token.Method != signingMethod {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return secret, nil
	}, jwt.WithIssuer(tokenIssuer), jwt.WithExpirationRequired())
	if err != nil {
		return nil, err
	}
	if claims.UserID == "" {
		return nil, errors.New("token has no user id")
	}
	return claims, nil
}

// authenticate извлекает пользователя из заголовка Authorization.
// Для websocket-рукопожатия токен принимается и из параметра access_token.
func (h *Handler) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := bearerToken(r)
		if raw == "" {
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: errorPayload{Code: "unauthenticated", Message: "missing bearer token"}})
			return
		}
		claims, err := parseToken(h.secret, raw)
		if err != nil {
			h.logger.WithError(err).Debug("rejected bearer token")
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: errorPayload{Code: "unauthenticated", Message: "invalid bearer token"}})
			return
		}
		ctx := context.WithValue(r.Context(), actorKey{}, claims.UserID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func bearerToken(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		scheme, token, ok := strings.Cut(header, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}
	return r.URL.Query().Get("access_token")
}

// actorID возвращает идентификатор аутентифицированного пользователя.
func actorID(ctx context.Context) string {
	id, _ := ctx.Value(actorKey{}).(string)
	return id
}
