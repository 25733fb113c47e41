package service

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/blocknetdx/eth-payment-processor/internal/middleware"
)

const apiKeyPrefix = "pk_"

// issuedKey is a freshly generated project key. Only Hash and Prefix are
// persisted; Raw is shown to the client once.
type issuedKey struct {
	Raw    string
	Hash   string
	Prefix string
}

func generateAPIKey() (issuedKey, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return issuedKey{}, fmt.Errorf("crypto/rand failed: %w", err)
	}
	raw := apiKeyPrefix + hex.EncodeToString(b)
	return issuedKey{
		Raw:    raw,
		Hash:   middleware.SHA256Hex(raw),
		Prefix: raw[:16] + "...",
	}, nil
}
