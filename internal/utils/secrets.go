package utils

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"
)

// PNRAlphabet omits characters that are easy to misread (I, O, 0, 1)
const PNRAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// GenerateSecret generates a cryptographically secure random secret
func GenerateSecret(bytes int) (string, error) {
	b := make([]byte, bytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// GenerateServiceSecrets generates the JWT signing secret and the gateway webhook secret
func GenerateServiceSecrets() (jwtSecret, webhookSecret string, err error) {
	jwtSecret, err = GenerateSecret(32) // 256-bit
	if err != nil {
		return "", "", fmt.Errorf("failed to generate jwt secret: %w", err)
	}

	webhookSecret, err = GenerateSecret(32)
	if err != nil {
		return "", "", fmt.Errorf("failed to generate webhook secret: %w", err)
	}

	return jwtSecret, webhookSecret, nil
}

// GeneratePNR returns a random booking reference of the given length drawn
// from PNRAlphabet. Uniqueness is checked by the caller.
func GeneratePNR(length int) (string, error) {
	if length <= 0 {
		return "", fmt.Errorf("pnr length must be positive")
	}

	max := big.NewInt(int64(len(PNRAlphabet)))
	pnr := make([]byte, length)
	for i := range pnr {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("failed to generate pnr: %w", err)
		}
		pnr[i] = PNRAlphabet[n.Int64()]
	}
	return string(pnr), nil
}
