package middleware

import (
	"crypto/hmac"
	"net/http"
)

const adminKeyHeader = "X-Admin-Key"

// AdminKey пропускает запрос только с корректным административным ключом.
// Пустой сконфигурированный ключ полностью закрывает административный контур.
func AdminKey(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if key == "" || !hmac.Equal([]byte(r.Header.Get(adminKeyHeader)), []byte(key)) {
				http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
