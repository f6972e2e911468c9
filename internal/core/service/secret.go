package service

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/crypto/argon2"

	"github.com/yndnr/tablesync-go/internal/core/domain"
)

// Access secret limits, counted in characters.
const (
	MinSecretLength = 4
	MaxSecretLength = 128
)

// Argon2id parameters. Hashes are stored as
// $argon2id$v=19$m=16384,t=2,p=2$<salt>$<hash>.
const (
	argon2Time    = 2
	argon2Memory  = 16384
	argon2Threads = 2
	argon2KeyLen  = 32
	argon2SaltLen = 16
)

// ValidateSecret checks the shape of a room access secret.
func ValidateSecret(secret string) error {
	n := utf8.RuneCountInString(secret)
	if n < MinSecretLength || n > MaxSecretLength {
		return domain.ErrInvalidConfig.WithDetails(
			fmt.Sprintf("access secret must be %d-%d characters", MinSecretLength, MaxSecretLength))
	}
	if strings.TrimSpace(secret) != secret {
		return domain.ErrInvalidConfig.WithDetails("access secret has surrounding whitespace")
	}
	for _, r := range secret {
		if unicode.IsControl(r) {
			return domain.ErrInvalidConfig.WithDetails("access secret contains control characters")
		}
	}
	return nil
}

// HashSecret derives an Argon2id hash of secret with a random salt.
func HashSecret(secret string) (string, error) {
	salt := make([]byte, argon2SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	key := argon2.IDKey([]byte(secret), salt, argon2Time, argon2Memory, argon2Threads, argon2KeyLen)
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, argon2Memory, argon2Time, argon2Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// VerifySecret checks secret against a hash produced by HashSecret.
func VerifySecret(secret, hash string) bool {
	parts := strings.Split(hash, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return false
	}

	var m, t uint32
	var p uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &m, &t, &p); err != nil {
		return false
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false
	}
	expected, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return false
	}

	computed := argon2.IDKey([]byte(secret), salt, t, m, p, uint32(len(expected)))
	return subtle.ConstantTimeCompare(computed, expected) == 1
}
