package auth

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
	"os"

	"golang.org/x/crypto/chacha20"
)

// integrityTagSize is the truncated HMAC-SHA256 length appended to each
// encrypted payload.
const integrityTagSize = 16

// EncryptedFileStore persists credentials through the same injected FileOps
// as FileStore, but stream-ciphers the JSON payload with ChaCha20 keyed by a
// SHA-256 derivation of a caller-supplied secret and appends a truncated
// HMAC-SHA256 integrity tag. The tag is verified in constant time before
// decryption; a failed check surfaces as ErrIntegrityCheck rather than
// "absent" because it indicates tampering.
//
// This store is a reference implementation, not production-grade key
// management: the secret lives in process memory and there is no key
// rotation. Callers needing real secret storage should implement Store on
// top of their platform's secure storage instead.
type EncryptedFileStore struct {
	ops    FileOps
	encKey [32]byte
	macKey [32]byte
}

// NewEncryptedFileStore creates an encrypted credential store over the given
// file operations, keyed by secret.
func NewEncryptedFileStore(ops FileOps, secret []byte) (*EncryptedFileStore, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("masto auth: encryption secret is empty")
	}
	s := &EncryptedFileStore{ops: ops}
	s.encKey = sha256.Sum256(secret)
	s.macKey = sha256.Sum256(append(s.encKey[:], []byte("masto-integrity")...))
	return s, nil
}

// Save encrypts the serialized credentials and writes nonce || ciphertext || tag.
func (s *EncryptedFileStore) Save(ctx context.Context, creds *Credentials) error {
	if creds == nil {
		return fmt.Errorf("masto auth: credentials are nil")
	}
	plain, err := EncodeCredentials(creds)
	if err != nil {
		return fmt.Errorf("masto auth: encode credentials failed: %w", err)
	}

	nonce := make([]byte, chacha20.NonceSize)
	if _, err = rand.Read(nonce); err != nil {
		return fmt.Errorf("masto auth: generate nonce failed: %w", err)
	}

	cipher, err := chacha20.NewUnauthenticatedCipher(s.encKey[:], nonce)
	if err != nil {
		return fmt.Errorf("masto auth: init cipher failed: %w", err)
	}
	ciphertext := make([]byte, len(plain))
	cipher.XORKeyStream(ciphertext, plain)

	payload := make([]byte, 0, len(nonce)+len(ciphertext)+integrityTagSize)
	payload = append(payload, nonce...)
	payload = append(payload, ciphertext...)
	payload = append(payload, s.integrityTag(nonce, ciphertext)...)

	if err = s.ops.Write(payload); err != nil {
		return fmt.Errorf("masto auth: write encrypted credentials failed: %w", err)
	}
	return nil
}

// Load verifies the integrity tag, decrypts, and decodes the credentials.
// A missing file loads as nil; a payload that fails verification returns
// ErrIntegrityCheck.
func (s *EncryptedFileStore) Load(ctx context.Context) (*Credentials, error) {
	data, err := s.ops.Read()
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("masto auth: read encrypted credentials failed: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}
	if len(data) < chacha20.NonceSize+integrityTagSize {
		return nil, ErrIntegrityCheck
	}

	nonce := data[:chacha20.NonceSize]
	ciphertext := data[chacha20.NonceSize : len(data)-integrityTagSize]
	tag := data[len(data)-integrityTagSize:]

	if subtle.ConstantTimeCompare(tag, s.integrityTag(nonce, ciphertext)) != 1 {
		return nil, ErrIntegrityCheck
	}

	cipher, err := chacha20.NewUnauthenticatedCipher(s.encKey[:], nonce)
	if err != nil {
		return nil, fmt.Errorf("masto auth: init cipher failed: %w", err)
	}
	plain := make([]byte, len(ciphertext))
	cipher.XORKeyStream(plain, ciphertext)

	// The tag already authenticated the payload; anything unparseable at
	// this point was written by an incompatible version, not an attacker.
	return DecodeCredentials(plain), nil
}

// Clear deletes the backing file. A missing file is not an error.
func (s *EncryptedFileStore) Clear(ctx context.Context) error {
	if err := s.ops.Delete(); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("masto auth: delete encrypted credentials failed: %w", err)
	}
	return nil
}

// integrityTag computes the truncated HMAC-SHA256 over nonce || ciphertext.
func (s *EncryptedFileStore) integrityTag(nonce, ciphertext []byte) []byte {
	mac := hmac.New(sha256.New, s.macKey[:])
	mac.Write(nonce)
	mac.Write(ciphertext)
	return mac.Sum(nil)[:integrityTagSize]
}
