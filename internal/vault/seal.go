package vault

import (
	"crypto/cipher"
	"crypto/ed25519"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const (
	envelopeVersion = 1

	sealInfo  = "agentpass/vault/v1/seal"
	indexInfo = "agentpass/vault/v1/index"
)

var (
	errAuthFailed = errors.New("vault record authentication failed")
	errInvalid    = errors.New("vault record is invalid")
)

// envelope is the at-rest form of a record. Nothing in it reveals the
// service, the username or the password.
type envelope struct {
	Version    uint32 `json:"v"`
	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ciphertext"`
}

// keys are the per-passport subkeys derived from the Ed25519 seed.
type keys struct {
	aead  cipher.AEAD
	index []byte
}

func deriveKeys(passportID string, privateKey ed25519.PrivateKey) (*keys, error) {
	seed := privateKey.Seed()
	defer zeroBytes(seed)

	sealKey, err := expand(seed, passportID, sealInfo, chacha20poly1305.KeySize)
	if err != nil {
		return nil, err
	}
	defer zeroBytes(sealKey)

	aead, err := chacha20poly1305.NewX(sealKey)
	if err != nil {
		return nil, err
	}
	indexKey, err := expand(seed, passportID, indexInfo, sha256.Size)
	if err != nil {
		return nil, err
	}
	return &keys{aead: aead, index: indexKey}, nil
}

func expand(secret []byte, salt, info string, size int) ([]byte, error) {
	out := make([]byte, size)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, []byte(salt), []byte(info)), out); err != nil {
		return nil, fmt.Errorf("derive %s: %w", info, err)
	}
	return out, nil
}

// slot is the opaque per-service record name.
func (k *keys) slot(service string) string {
	mac := hmac.New(sha256.New, k.index)
	mac.Write([]byte(service))
	return hex.EncodeToString(mac.Sum(nil))
}

func additionalData(passportID, slot string) []byte {
	return []byte(passportID + ":" + slot)
}

func (k *keys) seal(passportID, slot string, plaintext []byte) ([]byte, error) {
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	env := envelope{
		Version:    envelopeVersion,
		Nonce:      nonce,
		Ciphertext: k.aead.Seal(nil, nonce, plaintext, additionalData(passportID, slot)),
	}
	return json.Marshal(env)
}

func (k *keys) open(passportID, slot string, raw []byte) ([]byte, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, errInvalid
	}
	if env.Version != envelopeVersion || len(env.Nonce) != chacha20poly1305.NonceSizeX {
		return nil, errInvalid
	}
	plaintext, err := k.aead.Open(nil, env.Nonce, env.Ciphertext, additionalData(passportID, slot))
	if err != nil {
		return nil, errAuthFailed
	}
	return plaintext, nil
}

// wipe zeroes the index key and drops the cipher.
func (k *keys) wipe() {
	zeroBytes(k.index)
	k.index = nil
	k.aead = nil
}

func (k *keys) wiped() bool { return k.aead == nil }

func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
