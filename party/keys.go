package party

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
)

const partyCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

func assertCryptoPRNG() {
	buf := make([]byte, 1)
	_, err := io.ReadFull(rand.Reader, buf)
	if err != nil {
		panic(fmt.Sprintf("crypto/rand failed with %v, aborting...", err))
	}
}

// GenerateKey returns a cryptographically secure URL safe random string
// of n bytes of entropy, used for leader and viewer tokens.
func GenerateKey(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(buf), nil
}

// NewPartyCode returns a short human-shareable code, e.g. "K4PZ7M".
// Ambiguous characters are left out of the alphabet.
func NewPartyCode(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	code := make([]byte, n)
	for i, b := range buf {
		code[i] = partyCodeAlphabet[int(b)%len(partyCodeAlphabet)]
	}
	return string(code), nil
}
