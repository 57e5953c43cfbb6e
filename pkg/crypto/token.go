package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
)

var (
	ErrEmptyToken = errors.New("token and hash cannot be empty")
)

const (
	DefaultTokenLength = 32 // 256 bits
)

type TokenPair struct {
	Token string // value returned to client
	Hash  string // value in storage
}

// GenerateSessionToken returns a hex-encoded random token and its SHA-256 hash.
func GenerateSessionToken() (*TokenPair, error) {
	bytes := make([]byte, DefaultTokenLength)
	if _, err := rand.Read(bytes); err != nil {
		return nil, err
	}

	token := hex.EncodeToString(bytes)

	return &TokenPair{
		Token: token,
		Hash:  HashToken(token),
	}, nil
}

// WellFormedToken reports whether token could have come from GenerateSessionToken.
func WellFormedToken(token string) bool {
	if len(token) != DefaultTokenLength*2 {
		return false
	}
	_, err := hex.DecodeString(token)
	return err == nil
}

func VerifyToken(token, storedHash string) (bool, error) {
	if token == "" || storedHash == "" {
		return false, ErrEmptyToken
	}

	tokenHash := HashToken(token)

	// Constant-time comparison to prevent timing attacks
	return subtle.ConstantTimeCompare([]byte(tokenHash), []byte(storedHash)) == 1, nil
}

func HashToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}
