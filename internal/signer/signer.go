// Package signer 实现 Orderly key 的派生与签名（ed25519）。
package signer

import (
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/mr-tron/base58"
)

// KeyPrefix 是 Orderly key 的算法前缀。
const KeyPrefix = "ed25519:"

var (
	ErrEmptyKey   = errors.New("orderly key material is empty")
	ErrKeyDecode  = errors.New("orderly key is not valid base58")
	ErrKeyLength  = errors.New("orderly key has unexpected length")
	ErrNilKeyPair = errors.New("key pair not derived")
)

// KeyPair 是从 orderly_secret 派生出的签名密钥对。
type KeyPair struct {
	public  ed25519.PublicKey
	private ed25519.PrivateKey
}

// DeriveKeyPair 解析 "ed25519:<base58>" 或裸 base58 的私钥材料。
// 支持 32 字节 seed 与 64 字节完整私钥两种格式。
func DeriveKeyPair(material string) (*KeyPair, error) {
	raw, err := decodeKey(material)
	if err != nil {
		return nil, err
	}

	var priv ed25519.PrivateKey
	switch len(raw) {
	case ed25519.SeedSize:
		priv = ed25519.NewKeyFromSeed(raw)
	case ed25519.PrivateKeySize:
		priv = ed25519.PrivateKey(raw)
	default:
		return nil, fmt.Errorf("%w: got %d bytes", ErrKeyLength, len(raw))
	}

	return &KeyPair{
		public:  priv.Public().(ed25519.PublicKey),
		private: priv,
	}, nil
}

// Sign 对 msg 签名，返回 base64url 编码的签名串。
func (kp *KeyPair) Sign(msg []byte) (string, error) {
	if kp == nil || len(kp.private) == 0 {
		return "", ErrNilKeyPair
	}
	sig := ed25519.Sign(kp.private, msg)
	return base64.URLEncoding.EncodeToString(sig), nil
}

// PublicKey 返回 "ed25519:<base58>" 形式的公钥，即 orderly_key。
func (kp *KeyPair) PublicKey() string {
	if kp == nil {
		return ""
	}
	return EncodePublicKey(kp.public)
}

// Verify 校验 Sign 产生的签名。
func (kp *KeyPair) Verify(msg []byte, signature string) bool {
	if kp == nil {
		return false
	}
	sig, err := base64.URLEncoding.DecodeString(signature)
	if err != nil {
		return false
	}
	return ed25519.Verify(kp.public, msg, sig)
}

// EncodePublicKey 编码公钥。
func EncodePublicKey(pub ed25519.PublicKey) string {
	return KeyPrefix + base58.Encode(pub)
}

func decodeKey(material string) ([]byte, error) {
	s := strings.TrimSpace(material)
	s = strings.TrimPrefix(s, KeyPrefix)
	if s == "" {
		return nil, ErrEmptyKey
	}
	raw, err := base58.Decode(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyDecode, err)
	}
	return raw, nil
}
