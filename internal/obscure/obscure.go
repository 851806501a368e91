// Package obscure hides credentials stored in the settings file.
//
// This is obfuscation, not encryption: the key is baked into the
// binary so the stored app password is merely unreadable at a glance,
// the same property the browser host's setting storage gives it.
package obscure

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/nacl/secretbox"
)

// Fixed key. Changing it invalidates every stored credential.
var boxKey = [32]byte{
	0x9c, 0x93, 0x5b, 0x48, 0x73, 0x0a, 0x55, 0x4d,
	0x6b, 0xfd, 0x7c, 0x63, 0xc8, 0x86, 0xa9, 0x2b,
	0xd3, 0x90, 0x19, 0x8e, 0xb8, 0x12, 0x8a, 0xfb,
	0xf4, 0xde, 0x16, 0x2b, 0x8b, 0x95, 0xf6, 0x38,
}

const nonceLen = 24

var errTooShort = errors.New("obscured value too short")

// Obscure encodes a plaintext credential for storage.
func Obscure(plain string) (string, error) {
	var nonce [nonceLen]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return "", fmt.Errorf("read nonce: %w", err)
	}

	sealed := secretbox.Seal(nonce[:], []byte(plain), &nonce, &boxKey)
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Reveal decodes a value produced by Obscure.
func Reveal(obscured string) (string, error) {
	sealed, err := base64.RawURLEncoding.DecodeString(obscured)
	if err != nil {
		return "", fmt.Errorf("decode obscured value: %w", err)
	}
	if len(sealed) < nonceLen {
		return "", errTooShort
	}

	var nonce [nonceLen]byte
	copy(nonce[:], sealed[:nonceLen])

	plain, ok := secretbox.Open(nil, sealed[nonceLen:], &nonce, &boxKey)
	if !ok {
		return "", errors.New("obscured value failed to open")
	}
	return string(plain), nil
}

// MustObscure is Obscure for callers that cannot fail, such as tests.
// It panics on error.
func MustObscure(plain string) string {
	s, err := Obscure(plain)
	if err != nil {
		panic(err)
	}
	return s
}
