// Package identity holds the desktop trust root: Ed25519 master key
// handling, nonce signing for gateway authentication, and device
// attestation creation and verification.
package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
)

// MasterKeyFile is the filename of the desktop master key inside the state dir.
const MasterKeyFile = "master_key.pem"

// GenerateKey creates a new Ed25519 private key.
func GenerateKey() (ed25519.PrivateKey, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate ed25519 key: %w", err)
	}
	return priv, nil
}

// MarshalPrivateKeyPEM serializes a private key to unencrypted PKCS8 PEM.
func MarshalPrivateKeyPEM(key ed25519.PrivateKey) ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("marshal private key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), nil
}

// ParsePrivateKeyPEM loads a private key from unencrypted PKCS8 PEM bytes.
func ParsePrivateKeyPEM(data []byte) (ed25519.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("no PEM block in key file")
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	priv, ok := key.(ed25519.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("master key must be Ed25519, got %T", key)
	}
	return priv, nil
}

// LoadOrCreateMasterKey loads the desktop master key from dir, generating
// and persisting one on first boot. The key file is chmod 0600 where the
// OS supports it.
func LoadOrCreateMasterKey(dir string) (ed25519.PrivateKey, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	path := filepath.Join(dir, MasterKeyFile)
	if data, err := os.ReadFile(path); err == nil {
		return ParsePrivateKeyPEM(data)
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read master key: %w", err)
	}

	key, err := GenerateKey()
	if err != nil {
		return nil, err
	}
	pemBytes, err := MarshalPrivateKeyPEM(key)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, pemBytes, 0o600); err != nil {
		return nil, fmt.Errorf("write master key: %w", err)
	}
	return key, nil
}

// PublicKeyB64 encodes the key's public half as base64 raw 32 bytes.
func PublicKeyB64(key ed25519.PrivateKey) string {
	return base64.StdEncoding.EncodeToString(key.Public().(ed25519.PublicKey))
}

// ParsePublicKeyB64 decodes a base64 raw Ed25519 public key.
func ParsePublicKeyB64(s string) (ed25519.PublicKey, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode public key: %w", err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("ed25519 public key must be exactly 32 bytes, got %d", len(raw))
	}
	return ed25519.PublicKey(raw), nil
}

// SignB64 signs arbitrary bytes and returns a base64 signature.
func SignB64(key ed25519.PrivateKey, data []byte) string {
	return base64.StdEncoding.EncodeToString(ed25519.Sign(key, data))
}

// SignNonce signs a hex nonce from a gateway challenge. The signature is
// over the decoded nonce bytes, not the hex string.
func SignNonce(key ed25519.PrivateKey, nonceHex string) (string, error) {
	nonce, err := hex.DecodeString(nonceHex)
	if err != nil {
		return "", fmt.Errorf("decode nonce: %w", err)
	}
	return SignB64(key, nonce), nil
}

// VerifyB64 checks a base64 signature over arbitrary bytes.
func VerifyB64(pub ed25519.PublicKey, data []byte, signatureB64 string) bool {
	sig, err := base64.StdEncoding.DecodeString(signatureB64)
	if err != nil {
		return false
	}
	return ed25519.Verify(pub, data, sig)
}

// VerifyNonce checks a base64 signature over the decoded bytes of a hex nonce.
func VerifyNonce(pub ed25519.PublicKey, nonceHex, signatureB64 string) bool {
	nonce, err := hex.DecodeString(nonceHex)
	if err != nil {
		return false
	}
	return VerifyB64(pub, nonce, signatureB64)
}
