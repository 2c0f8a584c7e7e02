package util

import (
	"crypto/rand"
	"encoding/hex"
	"io"
	"os"
)

// RandomString returns a string of length n consisting of random alphanumeric
// characters.
func RandomString(n int) string {
	b := make([]byte, (n+1)/2)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		// reading from crypto/rand.Reader should never fail
		panic(err)
	}
	return hex.EncodeToString(b)[:n]
}

// GetEnvDefault returns the value of an environment variable or a default
// value if the variable is not set.
func GetEnvDefault(key string, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}
