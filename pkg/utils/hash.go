package utils

import (
	"strings"

	"golang.org/x/crypto/bcrypt"
)

const adminHashCost = 10

// bcrypt output always starts with one of these version markers.
var bcryptPrefixes = []string{"$2a$", "$2b$", "$2y$"}

// HashOrRead accepts either a plaintext password or a pre-computed bcrypt
// hash, so operators can put either form in the environment.
func HashOrRead(password string) ([]byte, error) {
	for _, prefix := range bcryptPrefixes {
		if strings.HasPrefix(password, prefix) {
			return []byte(password), nil
		}
	}
	return bcrypt.GenerateFromPassword([]byte(password), adminHashCost)
}
