package chain

import (
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/nacl/secretbox"
)

const depositTokenBytes = 32

// NewDepositToken draws a fresh random seed for one deposit address.
func NewDepositToken() (string, error) {
	b := make([]byte, depositTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("crypto/rand failed: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// DeriveKeypair maps a deposit token to its key pair. The private key is
// the keccak256 of the seed bytes, so the same token always yields the
// same address.
func DeriveKeypair(token string) (common.Address, *ecdsa.PrivateKey, error) {
	seed, err := hex.DecodeString(token)
	if err != nil {
		return common.Address{}, nil, fmt.Errorf("decode deposit token: %w", err)
	}
	if len(seed) == 0 {
		return common.Address{}, nil, errors.New("empty deposit token")
	}
	key, err := crypto.ToECDSA(crypto.Keccak256(seed))
	if err != nil {
		return common.Address{}, nil, fmt.Errorf("derive private key: %w", err)
	}
	return crypto.PubkeyToAddress(key.PublicKey), key, nil
}

// Sealer encrypts deposit private keys before they reach the store.
type Sealer struct {
	key [32]byte
}

func NewSealer(hexSecret string) (*Sealer, error) {
	raw, err := hex.DecodeString(hexSecret)
	if err != nil {
		return nil, fmt.Errorf("decode sealing secret: %w", err)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("sealing secret must be 32 bytes, got %d", len(raw))
	}
	s := &Sealer{}
	copy(s.key[:], raw)
	return s, nil
}

// Seal returns nonce || secretbox(privkey).
func (s *Sealer) Seal(key *ecdsa.PrivateKey) ([]byte, error) {
	var nonce [24]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("read nonce: %w", err)
	}
	return secretbox.Seal(nonce[:], crypto.FromECDSA(key), &nonce, &s.key), nil
}

func (s *Sealer) Open(sealed []byte) (*ecdsa.PrivateKey, error) {
	if len(sealed) < 24+secretbox.Overhead {
		return nil, errors.New("sealed key too short")
	}
	var nonce [24]byte
	copy(nonce[:], sealed[:24])
	plain, ok := secretbox.Open(nil, sealed[24:], &nonce, &s.key)
	if !ok {
		return nil, errors.New("sealed key failed authentication")
	}
	return crypto.ToECDSA(plain)
}
