package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

// APIKeyPrefix marks agent keys so they are recognizable in config files and
// process lists without revealing anything.
const APIKeyPrefix = "hlm_"

// GenerateAPIKey creates a random agent key. The plaintext is returned
// exactly once, at registration or rotation; only its hash is stored.
func GenerateAPIKey() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate API key: %w", err)
	}
	return APIKeyPrefix + base64.URLEncoding.EncodeToString(b), nil
}

// HashAPIKey returns the hex SHA-256 digest of a key. The digest is
// deterministic so the store can look entities up by it.
func HashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// VerifyAPIKey reports whether the key matches the stored digest, in
// constant time.
func VerifyAPIKey(key, hash string) bool {
	digest := HashAPIKey(key)
	return subtle.ConstantTimeCompare([]byte(digest), []byte(hash)) == 1
}
