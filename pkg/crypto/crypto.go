// Package crypto holds the node identity: an ed25519 keypair used to sign
// ledger transactions and a curve25519 keypair used to address encrypted
// entity fields to a single recipient.
package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/nacl/box"
)

const keyFilePermissions = 0o600

var (
	ErrKeySize       = errors.New("invalid key size")
	ErrDecrypt       = errors.New("unable to decrypt ciphertext")
	ErrKeyFileExists = errors.New("key file already exists")
)

type KeyPair struct {
	signPub  ed25519.PublicKey
	signPriv ed25519.PrivateKey
	encPub   *[32]byte
	encPriv  *[32]byte
}

func Generate() (*KeyPair, error) {
	signPub, signPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	encPub, encPriv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}

	return &KeyPair{
		signPub:  signPub,
		signPriv: signPriv,
		encPub:   encPub,
		encPriv:  encPriv,
	}, nil
}

// PublicKey is the ledger identity of the node, hex encoded.
func (k *KeyPair) PublicKey() string {
	return hex.EncodeToString(k.signPub)
}

// EncryptionKey is the public half of the encryption keypair, hex encoded.
// It is published on the node's identity record so counterparties can
// address encrypted fields to it.
func (k *KeyPair) EncryptionKey() string {
	return hex.EncodeToString(k.encPub[:])
}

func (k *KeyPair) Sign(msg []byte) string {
	return hex.EncodeToString(ed25519.Sign(k.signPriv, msg))
}

func Verify(publicKey string, msg []byte, signature string) bool {
	pub, err := hex.DecodeString(publicKey)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return false
	}
	sig, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}

	return ed25519.Verify(ed25519.PublicKey(pub), msg, sig)
}

// EncryptFor seals plaintext to a single recipient encryption key. The
// sealed box wraps an ephemeral session key with the recipient's public
// key, so only the holder of the matching private key can open it.
func EncryptFor(recipientKey string, plaintext []byte) (string, error) {
	pub, err := hex.DecodeString(recipientKey)
	if err != nil {
		return "", fmt.Errorf("decoding recipient key: %w", err)
	}
	if len(pub) != 32 {
		return "", ErrKeySize
	}
	var key [32]byte
	copy(key[:], pub)

	sealed, err := box.SealAnonymous(nil, plaintext, &key, rand.Reader)
	if err != nil {
		return "", err
	}

	return base64.StdEncoding.EncodeToString(sealed), nil
}

func (k *KeyPair) Decrypt(ciphertext string) ([]byte, error) {
	sealed, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return nil, ErrDecrypt
	}

	plaintext, ok := box.OpenAnonymous(nil, sealed, k.encPub, k.encPriv)
	if !ok {
		return nil, ErrDecrypt
	}

	return plaintext, nil
}

type keyFile struct {
	SignPrivate string `json:"sign_private"`
	EncPrivate  string `json:"enc_private"`
	EncPublic   string `json:"enc_public"`
}

// Save writes the keypair to <dir>/<name>.json. It refuses to overwrite
// existing key material.
func (k *KeyPair) Save(dir, name string) error {
	path := filepath.Join(dir, name+".json")
	if _, err := os.Stat(path); err == nil {
		return ErrKeyFileExists
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := json.Marshal(keyFile{
		SignPrivate: hex.EncodeToString(k.signPriv),
		EncPrivate:  hex.EncodeToString(k.encPriv[:]),
		EncPublic:   hex.EncodeToString(k.encPub[:]),
	})
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, keyFilePermissions)
}

func Load(dir, name string) (*KeyPair, error) {
	data, err := os.ReadFile(filepath.Join(dir, name+".json"))
	if err != nil {
		return nil, err
	}

	var kf keyFile
	if err := json.Unmarshal(data, &kf); err != nil {
		return nil, err
	}

	signPriv, err := hex.DecodeString(kf.SignPrivate)
	if err != nil {
		return nil, err
	}
	if len(signPriv) != ed25519.PrivateKeySize {
		return nil, ErrKeySize
	}
	encPriv, err := hex.DecodeString(kf.EncPrivate)
	if err != nil {
		return nil, err
	}
	encPub, err := hex.DecodeString(kf.EncPublic)
	if err != nil {
		return nil, err
	}
	if len(encPriv) != 32 || len(encPub) != 32 {
		return nil, ErrKeySize
	}

	kp := &KeyPair{
		signPriv: ed25519.PrivateKey(signPriv),
		signPub:  ed25519.PrivateKey(signPriv).Public().(ed25519.PublicKey),
		encPriv:  new([32]byte),
		encPub:   new([32]byte),
	}
	copy(kp.encPriv[:], encPriv)
	copy(kp.encPub[:], encPub)

	return kp, nil
}
