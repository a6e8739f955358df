package crypto

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// Хеширование секретов управляющего API (API-ключ клиента, debug-пароль).
// В конфигурации хранится только bcrypt-хеш, сам секрет никогда не пишется
// ни в env-файлы процесса, ни в логи.

// Ошибки хеширования
var (
	ErrEmptySecret    = errors.New("secret cannot be empty")
	ErrSecretMismatch = errors.New("secret does not match hash")
	ErrInvalidHash    = errors.New("invalid bcrypt hash format")
	ErrSecretTooLong  = errors.New("secret exceeds maximum length of 72 bytes")
)

// DefaultCost - стоимость хеширования по умолчанию.
// Более высокое значение = больше времени на хеширование = дороже перебор.
const DefaultCost = 12

// MaxSecretLength - максимальная длина секрета для bcrypt (72 байта)
const MaxSecretLength = 72

// HashSecret хеширует секрет с использованием bcrypt.
// Salt генерируется автоматически.
func HashSecret(secret string) (string, error) {
	return HashSecretWithCost(secret, DefaultCost)
}

// HashSecretWithCost хеширует секрет с указанной стоимостью.
// cost ограничивается диапазоном bcrypt.MinCost..bcrypt.MaxCost.
func HashSecretWithCost(secret string, cost int) (string, error) {
	if secret == "" {
		return "", ErrEmptySecret
	}

	// bcrypt ограничен 72 байтами
	if len(secret) > MaxSecretLength {
		return "", ErrSecretTooLong
	}

	if cost < bcrypt.MinCost {
		cost = bcrypt.MinCost
	}
	if cost > bcrypt.MaxCost {
		cost = bcrypt.MaxCost
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(secret), cost)
	if err != nil {
		return "", err
	}

	return string(hash), nil
}

// VerifySecret проверяет соответствие секрета хешу.
// bcrypt выполняет сравнение за константное время.
func VerifySecret(secret, hash string) error {
	if secret == "" {
		return ErrEmptySecret
	}

	if hash == "" {
		return ErrInvalidHash
	}

	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret))
	if err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return ErrSecretMismatch
		}
		// Невалидный формат хеша или другая ошибка
		return ErrInvalidHash
	}

	return nil
}

// CheckSecretMatch - bool-обёртка над VerifySecret для inline-условий
func CheckSecretMatch(secret, hash string) bool {
	return VerifySecret(secret, hash) == nil
}

// GetHashCost извлекает cost из существующего хеша.
// Конфигурация использует это для проверки, что значение в env -
// действительно bcrypt-хеш, а не сам секрет по ошибке.
func GetHashCost(hash string) (int, error) {
	if hash == "" {
		return 0, ErrInvalidHash
	}

	cost, err := bcrypt.Cost([]byte(hash))
	if err != nil {
		return 0, ErrInvalidHash
	}

	return cost, nil
}
