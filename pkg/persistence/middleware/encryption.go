package middleware

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aretw0/stepwise/pkg/domain"
	"github.com/aretw0/stepwise/pkg/ports"
)

// sealedPrefix marks an encrypted answer.
const sealedPrefix = "enc:v1:"

// KeySize is the AES-256 key length.
const KeySize = 32

// EncryptionConfig holds the keys for encryption and decryption.
type EncryptionConfig struct {
	// ActiveKey encrypts new answers and payloads.
	ActiveKey []byte

	// FallbackKeys are tried in order when ActiveKey cannot decrypt a value.
	// This enables zero-downtime key rotation.
	FallbackKeys [][]byte
}

// Validate checks key sizes.
func (c EncryptionConfig) Validate() error {
	if len(c.ActiveKey) != KeySize {
		return fmt.Errorf("encryption: active key must be %d bytes, got %d", KeySize, len(c.ActiveKey))
	}
	for i, k := range c.FallbackKeys {
		if len(k) != KeySize {
			return fmt.Errorf("encryption: fallback key %d must be %d bytes, got %d", i, KeySize, len(k))
		}
	}
	return nil
}

type encryptionMiddleware struct {
	next   ports.ProgressStore
	config EncryptionConfig
}

// NewEncryptionMiddleware encrypts answers and payloads at rest with AES-GCM.
func NewEncryptionMiddleware(config EncryptionConfig) (Middleware, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return func(next ports.ProgressStore) ports.ProgressStore {
		return &encryptionMiddleware{next: next, config: config}
	}, nil
}

func (m *encryptionMiddleware) Create(ctx context.Context, record *domain.ConversationRecord) error {
	sealed := record.Clone()
	for step, answer := range sealed.Answers {
		v, err := m.sealString(answer)
		if err != nil {
			return err
		}
		sealed.Answers[step] = v
	}
	if len(sealed.Payload) > 0 {
		p, err := encrypt(sealed.Payload, m.config.ActiveKey)
		if err != nil {
			return fmt.Errorf("encrypt payload: %w", err)
		}
		sealed.Payload = p
	}
	return m.next.Create(ctx, sealed)
}

func (m *encryptionMiddleware) ReadProgress(ctx context.Context, id domain.Identity) (*domain.ConversationRecord, error) {
	rec, err := m.next.ReadProgress(ctx, id)
	if err != nil {
		return nil, err
	}
	for step, answer := range rec.Answers {
		v, err := m.openString(answer)
		if err != nil {
			return nil, fmt.Errorf("answer %d of %s: %w", step, id, err)
		}
		rec.Answers[step] = v
	}
	if len(rec.Payload) > 0 {
		p, err := decryptWithRotation(rec.Payload, m.config.ActiveKey, m.config.FallbackKeys)
		if err != nil {
			return nil, fmt.Errorf("payload of %s: %w", id, err)
		}
		rec.Payload = p
	}
	return rec, nil
}

func (m *encryptionMiddleware) ConditionalAdvance(ctx context.Context, id domain.Identity, adv domain.Advance) (domain.AdvanceResult, error) {
	v, err := m.sealString(adv.Answer)
	if err != nil {
		return domain.AdvanceResult{}, err
	}
	adv.Answer = v
	return m.next.ConditionalAdvance(ctx, id, adv)
}

func (m *encryptionMiddleware) Transition(ctx context.Context, id domain.Identity, t domain.Transition) (bool, error) {
	if t.SetPayload && len(t.Payload) > 0 {
		p, err := encrypt(t.Payload, m.config.ActiveKey)
		if err != nil {
			return false, fmt.Errorf("encrypt payload: %w", err)
		}
		t.Payload = p
	}
	return m.next.Transition(ctx, id, t)
}

func (m *encryptionMiddleware) SetStatus(ctx context.Context, id domain.Identity, status domain.Status) error {
	return m.next.SetStatus(ctx, id, status)
}

func (m *encryptionMiddleware) Delete(ctx context.Context, id domain.Identity) error {
	return m.next.Delete(ctx, id)
}

func (m *encryptionMiddleware) List(ctx context.Context) ([]domain.Identity, error) {
	return m.next.List(ctx)
}

func (m *encryptionMiddleware) sealString(plain string) (string, error) {
	ct, err := encrypt([]byte(plain), m.config.ActiveKey)
	if err != nil {
		return "", fmt.Errorf("encrypt answer: %w", err)
	}
	return sealedPrefix + base64.StdEncoding.EncodeToString(ct), nil
}

func (m *encryptionMiddleware) openString(sealed string) (string, error) {
	encoded, ok := strings.CutPrefix(sealed, sealedPrefix)
	if !ok {
		// Fail secure: a plain value means the store was written without encryption.
		return "", errors.New("value is not encrypted")
	}
	ct, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}
	plain, err := decryptWithRotation(ct, m.config.ActiveKey, m.config.FallbackKeys)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

func encrypt(plaintext []byte, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func decryptWithRotation(ciphertext []byte, activeKey []byte, fallbackKeys [][]byte) ([]byte, error) {
	if plain, err := decrypt(ciphertext, activeKey); err == nil {
		return plain, nil
	}
	for _, key := range fallbackKeys {
		if plain, err := decrypt(ciphertext, key); err == nil {
			return plain, nil
		}
	}
	return nil, errors.New("decryption failed with all available keys")
}

func decrypt(ciphertext []byte, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < gcm.NonceSize() {
		return nil, errors.New("ciphertext too short")
	}
	nonce, body := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
	return gcm.Open(nil, nonce, body, nil)
}
