// Package middleware содержит HTTP middleware сервиса призового пула.
package middleware

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"net/http"
	"time"
)

type contextKey string

const userIDKey contextKey = "userID"

const (
	sessionCookieName = "pp_session"
	sessionTTL        = 30 * 24 * time.Hour
)

// tokenPayloadLen — длина открытой части токена: идентификатор
// пользователя и срок действия, по 8 байт big-endian.
const tokenPayloadLen = 16

// AuthMiddleware выполняет проверку аутентификации вкладчика по подписанному
// сессионному cookie. Токен несёт идентификатор и срок действия, подпись —
// HMAC-SHA256 над открытой частью.
type AuthMiddleware struct {
	secretKey []byte
}

// NewAuthMiddleware создаёт middleware с указанным секретом. Пустой секрет
// заменяется случайным: такие сессии не переживают перезапуск сервиса.
func NewAuthMiddleware(secret string) *AuthMiddleware {
	key := []byte(secret)
	if len(key) == 0 {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			panic("auth: cannot generate session key: " + err.Error())
		}
	}
	return &AuthMiddleware{secretKey: key}
}

// Middleware проверяет сессионный cookie и добавляет идентификатор
// вкладчика в контекст запроса.
func (a *AuthMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(sessionCookieName)
		if err != nil {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		userID, ok := a.verifyToken(cookie.Value, time.Now())
		if !ok {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), userIDKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// SetAuthCookie выпускает сессионный cookie для указанного вкладчика.
func (a *AuthMiddleware) SetAuthCookie(w http.ResponseWriter, userID int64) {
	expires := time.Now().Add(sessionTTL)

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    a.issueToken(userID, expires),
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// issueToken собирает токен: userID | expiresUnix | HMAC, base64url без
// выравнивания.
func (a *AuthMiddleware) issueToken(userID int64, expires time.Time) string {
	payload := make([]byte, tokenPayloadLen)
	binary.BigEndian.PutUint64(payload[:8], uint64(userID))
	binary.BigEndian.PutUint64(payload[8:], uint64(expires.Unix()))

	mac := hmac.New(sha256.New, a.secretKey)
	mac.Write(payload)
	return base64.RawURLEncoding.EncodeToString(mac.Sum(payload))
}

func (a *AuthMiddleware) verifyToken(token string, now time.Time) (int64, bool) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil || len(raw) != tokenPayloadLen+sha256.Size {
		return 0, false
	}
	payload, sig := raw[:tokenPayloadLen], raw[tokenPayloadLen:]

	mac := hmac.New(sha256.New, a.secretKey)
	mac.Write(payload)
	if !hmac.Equal(sig, mac.Sum(nil)) {
		return 0, false
	}

	if expires := int64(binary.BigEndian.Uint64(payload[8:])); now.Unix() >= expires {
		return 0, false
	}

	userID := int64(binary.BigEndian.Uint64(payload[:8]))
	if userID <= 0 {
		return 0, false
	}
	return userID, true
}

// GetUserIDFromContext извлекает идентификатор вкладчика из контекста запроса.
func GetUserIDFromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(userIDKey).(int64)
	return id, ok
}
