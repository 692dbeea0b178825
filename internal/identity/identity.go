// Package identity manages the signing identities that own ledger objects.
//
// An identity is an ed25519 key pair. Its address is the hex encoded
// blake2b-256 digest of the scheme flag followed by the public key, and its
// portable form is base64(flag || seed), which is what checkpoints store.
package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

// SchemeEd25519 は署名スキームのフラグバイト
const SchemeEd25519 byte = 0x00

var (
	ErrUnknownScheme = errors.New("unknown signature scheme")
	ErrInvalidKey    = errors.New("invalid key encoding")
)

// Identity はワーカーの署名鍵と導出済みアドレス
type Identity struct {
	key     ed25519.PrivateKey
	address string
}

// Generate は新しい鍵ペアを生成する
func Generate() (*Identity, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return fromPrivateKey(priv), nil
}

// FromSeed は32バイトのシードから鍵ペアを復元する
func FromSeed(seed []byte) (*Identity, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("%w: seed must be %d bytes, got %d", ErrInvalidKey, ed25519.SeedSize, len(seed))
	}
	return fromPrivateKey(ed25519.NewKeyFromSeed(seed)), nil
}

func fromPrivateKey(priv ed25519.PrivateKey) *Identity {
	pub := priv.Public().(ed25519.PublicKey)
	return &Identity{
		key:     priv,
		address: DeriveAddress(pub),
	}
}

// DeriveAddress は公開鍵からアドレスを導出する
func DeriveAddress(pub ed25519.PublicKey) string {
	buf := make([]byte, 0, 1+len(pub))
	buf = append(buf, SchemeEd25519)
	buf = append(buf, pub...)
	sum := blake2b.Sum256(buf)
	return "0x" + hex.EncodeToString(sum[:])
}

// Address はアドレスを返す
func (id *Identity) Address() string {
	return id.address
}

// PublicKey は公開鍵を返す
func (id *Identity) PublicKey() ed25519.PublicKey {
	return id.key.Public().(ed25519.PublicKey)
}

// Sign はメッセージに署名する
func (id *Identity) Sign(msg []byte) []byte {
	return ed25519.Sign(id.key, msg)
}

// Verify は署名を検証する
func Verify(pub ed25519.PublicKey, msg, sig []byte) bool {
	if len(pub) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(pub, msg, sig)
}

// Encode はポータブルなbase64表現を返す
func (id *Identity) Encode() string {
	buf := make([]byte, 0, 1+ed25519.SeedSize)
	buf = append(buf, SchemeEd25519)
	buf = append(buf, id.key.Seed()...)
	return base64.StdEncoding.EncodeToString(buf)
}

// Decode はEncodeの出力から鍵ペアを復元する
func Decode(s string) (*Identity, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	if len(raw) != 1+ed25519.SeedSize {
		return nil, fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidKey, 1+ed25519.SeedSize, len(raw))
	}
	if raw[0] != SchemeEd25519 {
		return nil, fmt.Errorf("%w: flag 0x%02x", ErrUnknownScheme, raw[0])
	}
	return FromSeed(raw[1:])
}
