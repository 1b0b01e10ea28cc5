package card

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/tannaco/paygate/internal/gateway"
)

const nonceLength = 12

var ErrKeyNotConfigured = errors.New("card: encryption key not configured")

// Details is the plaintext card data collected from a caller. It must be
// validated before it reaches Encryptor.EncryptCardData.
type Details struct {
	Number         string
	CVV            string
	ExpiryMonth    string
	ExpiryYear     string
	CardholderName string
}

// Encryptor AES-GCM encrypts sensitive card fields with a
// merchant-provisioned symmetric key and a per-request nonce. Plaintext
// card data never leaves the process through this type.
//
// A missing key is a hard configuration failure in production. Sandbox
// setups may opt into plaintext passthrough explicitly; there is no
// silent downgrade.
type Encryptor struct {
	aead        cipher.AEAD
	passthrough bool
}

// NewEncryptor builds an Encryptor from a base64-encoded 256-bit key.
func NewEncryptor(encodedKey string) (*Encryptor, error) {
	if encodedKey == "" {
		return nil, ErrKeyNotConfigured
	}

	key, err := base64.StdEncoding.DecodeString(encodedKey)
	if err != nil {
		return nil, fmt.Errorf("decoding encryption key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("initializing cipher: %w", err)
	}

	aead, err := cipher.NewGCMWithNonceSize(block, nonceLength)
	if err != nil {
		return nil, fmt.Errorf("initializing GCM: %w", err)
	}

	return &Encryptor{aead: aead}, nil
}

// NewPassthroughEncryptor returns an encryptor that transmits card fields
// unencrypted. Only acceptable against sandbox gateways; callers must
// never construct one in production mode.
func NewPassthroughEncryptor() *Encryptor {
	slog.Warn("card encryption disabled, using plaintext passthrough (sandbox only)")

	return &Encryptor{passthrough: true}
}

func (e *Encryptor) Configured() bool {
	return e.aead != nil
}

// EncryptCardData produces the wire shape for a card payment method: each
// sensitive field encrypted under one fresh nonce, cardholder name passed
// through per the upstream contract.
func (e *Encryptor) EncryptCardData(d Details) (*gateway.EncryptedCard, error) {
	if e.passthrough {
		return &gateway.EncryptedCard{
			EncryptedCardNumber:  d.Number,
			EncryptedCVV:         d.CVV,
			EncryptedExpiryMonth: d.ExpiryMonth,
			EncryptedExpiryYear:  d.ExpiryYear,
			CardholderName:       d.CardholderName,
		}, nil
	}

	nonce, err := generateNonce(nonceLength)
	if err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}

	enc := &gateway.EncryptedCard{
		Nonce:          nonce,
		CardholderName: d.CardholderName,
	}

	fields := []struct {
		plain string
		out   *string
	}{
		{d.Number, &enc.EncryptedCardNumber},
		{d.CVV, &enc.EncryptedCVV},
		{d.ExpiryMonth, &enc.EncryptedExpiryMonth},
		{d.ExpiryYear, &enc.EncryptedExpiryYear},
	}

	for _, f := range fields {
		ct, err := e.Encrypt(f.plain, nonce)
		if err != nil {
			return nil, err
		}

		*f.out = ct
	}

	return enc, nil
}

// EncryptValue seals a single value under a fresh nonce. Used for PIN
// authorization payloads, which carry their own nonce.
func (e *Encryptor) EncryptValue(plaintext string) (nonce, ciphertext string, err error) {
	nonce, err = generateNonce(nonceLength)
	if err != nil {
		return "", "", fmt.Errorf("generating nonce: %w", err)
	}

	ciphertext, err = e.Encrypt(plaintext, nonce)
	if err != nil {
		return "", "", err
	}

	return nonce, ciphertext, nil
}

// Encrypt seals one value under the given nonce, returning base64
// ciphertext+tag.
func (e *Encryptor) Encrypt(plaintext, nonce string) (string, error) {
	if e.aead == nil {
		return "", ErrKeyNotConfigured
	}

	if plaintext == "" || nonce == "" {
		return "", errors.New("card: both plaintext and nonce are required")
	}

	ct := e.aead.Seal(nil, []byte(nonce), []byte(plaintext), nil)

	return base64.StdEncoding.EncodeToString(ct), nil
}

// Decrypt reverses Encrypt with the same key and nonce.
func (e *Encryptor) Decrypt(ciphertext, nonce string) (string, error) {
	if e.aead == nil {
		return "", ErrKeyNotConfigured
	}

	ct, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("decoding ciphertext: %w", err)
	}

	pt, err := e.aead.Open(nil, []byte(nonce), ct, nil)
	if err != nil {
		return "", fmt.Errorf("opening ciphertext: %w", err)
	}

	return string(pt), nil
}

const nonceAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

func generateNonce(length int) (string, error) {
	out := make([]byte, length)

	for i := range out {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(nonceAlphabet))))
		if err != nil {
			return "", err
		}

		out[i] = nonceAlphabet[n.Int64()]
	}

	return string(out), nil
}
