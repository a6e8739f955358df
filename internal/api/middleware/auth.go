package middleware

import (
	"crypto/subtle"
	"net/http"
	"os"

	"github.com/rekwert/tesor/pkg/crypto"
)

// Учётные данные debug endpoints. Пароль хранится bcrypt-хэшем,
// чтобы утечка окружения не раскрывала сам пароль.
var (
	debugUsername     = os.Getenv("DEBUG_USERNAME")
	debugPasswordHash = os.Getenv("DEBUG_PASSWORD_HASH")
)

// DebugAuth - middleware для защиты debug/pprof endpoints
//
// Конфигурация:
// - DEBUG_USERNAME: имя пользователя
// - DEBUG_PASSWORD_HASH: bcrypt-хэш пароля (см. pkg/crypto.HashSecret)
// - Если переменные не установлены, доступ открыт только при ENV=development
//   (или пустом ENV), иначе запрещен (403)
//
// Сравнение имени пользователя constant-time, пароль проверяется bcrypt
func DebugAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if debugUsername == "" || debugPasswordHash == "" {
			if env := os.Getenv("ENV"); env == "development" || env == "" {
				next.ServeHTTP(w, r)
				return
			}
			http.Error(w, "Debug endpoints disabled. Set DEBUG_USERNAME and DEBUG_PASSWORD_HASH.", http.StatusForbidden)
			return
		}

		user, pass, ok := r.BasicAuth()
		if !ok {
			w.Header().Set("WWW-Authenticate", `Basic realm="Debug endpoints"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		userMatch := subtle.ConstantTimeCompare([]byte(user), []byte(debugUsername)) == 1
		if !userMatch || !crypto.CheckSecretMatch(pass, debugPasswordHash) {
			w.Header().Set("WWW-Authenticate", `Basic realm="Debug endpoints"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// APIKeyAuth проверяет заголовок X-API-Key по bcrypt-хэшу из конфигурации.
// Пустой хэш отключает проверку: локальное развертывание работает без ключа.
func APIKeyAuth(keyHash string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if keyHash == "" {
				next.ServeHTTP(w, r)
				return
			}

			key := r.Header.Get("X-API-Key")
			if key == "" || !crypto.CheckSecretMatch(key, keyHash) {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
