package credential

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/argon2"
)

const argon2ID = "argon2id"

// Argon2Params tunes the argon2id hasher.
type Argon2Params struct {
	Memory      uint32 // KiB
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// DefaultArgon2Params follows the RFC 9106 second recommended option.
var DefaultArgon2Params = Argon2Params{Memory: 64 * 1024, Time: 3, Parallelism: 4, SaltLength: 16, KeyLength: 32}

type Argon2 struct {
	p Argon2Params
}

// Cost bounds accepted when hashing and when verifying stored hashes.
const (
	argon2MinMemory = 8 * 1024
	argon2MaxMemory = 1024 * 1024
	argon2MaxTime   = 64
	argon2MinBytes  = 16
)

func (p Argon2Params) inBounds() bool {
	return p.Memory >= argon2MinMemory && p.Memory <= argon2MaxMemory &&
		p.Time >= 1 && p.Time <= argon2MaxTime &&
		p.Parallelism >= 1 &&
		p.SaltLength >= argon2MinBytes && p.KeyLength >= argon2MinBytes
}

func NewArgon2(p Argon2Params) (*Argon2, error) {
	if !p.inBounds() {
		return nil, errors.New("argon2id parameters out of bounds")
	}
	return &Argon2{p: p}, nil
}

func (a *Argon2) Name() string { return argon2ID }

// Hash encodes as $argon2id$v=19$m=...,t=...,p=...$salt$key.
func (a *Argon2) Hash(plaintext string) (string, error) {
	salt := make([]byte, a.p.SaltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", err
	}
	key := argon2.IDKey([]byte(plaintext), salt, a.p.Time, a.p.Memory, a.p.Parallelism, a.p.KeyLength)
	return fmt.Sprintf("$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2ID, argon2.Version, a.p.Memory, a.p.Time, a.p.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

func (a *Argon2) Verify(plaintext, encoded string) (bool, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != argon2ID {
		return false, errors.New("invalid argon2id hash format")
	}
	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return false, errors.New("unsupported argon2 version")
	}
	var p Argon2Params
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &p.Memory, &p.Time, &p.Parallelism); err != nil {
		return false, fmt.Errorf("invalid argon2id parameters: %w", err)
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false, fmt.Errorf("invalid argon2id salt: %w", err)
	}
	want, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(want) == 0 {
		return false, errors.New("invalid argon2id key")
	}
	p.SaltLength, p.KeyLength = uint32(len(salt)), uint32(len(want))
	if !p.inBounds() {
		return false, errors.New("argon2id parameters out of bounds")
	}

	got := argon2.IDKey([]byte(plaintext), salt, p.Time, p.Memory, p.Parallelism, uint32(len(want)))
	return subtle.ConstantTimeCompare(got, want) == 1, nil
}

func (a *Argon2) Recognizes(encoded string) bool {
	return strings.HasPrefix(encoded, "$"+argon2ID+"$")
}
