// Package credential hashes and verifies account passwords.
//
// New hashes are produced by the configured Hasher; verification dispatches on
// the encoded prefix so hashes from a previously configured algorithm keep
// working. Hashing is bounded by a weighted semaphore so CPU-heavy work cannot
// starve unrelated requests.
package credential

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/semaphore"

	"github.com/example/reelhub/internal/apperr"
)

const (
	MinPasswordBytes = 8
	// bcrypt silently truncates input beyond 72 bytes.
	MaxPasswordBytes = 72
)

// Hash is an encoded, salted one-way password hash. It is never plaintext.
type Hash string

// Hasher is one password hashing algorithm.
type Hasher interface {
	Name() string
	Hash(plaintext string) (string, error)
	// Verify returns (false, nil) on mismatch and an error for malformed input.
	Verify(plaintext, encoded string) (bool, error)
	Recognizes(encoded string) bool
}

// Change tells Apply whether the plaintext credential was explicitly changed.
// The zero value means unchanged.
type Change struct {
	plaintext string
	changed   bool
}

// Unchanged leaves the stored hash as it is.
func Unchanged() Change { return Change{} }

// Set marks the credential as changed to plaintext.
func Set(plaintext string) Change { return Change{plaintext: plaintext, changed: true} }

// Changed reports whether the change carries a new plaintext credential.
func (c Change) Changed() bool { return c.changed }

type Store struct {
	primary Hasher
	known   []Hasher
	sem     *semaphore.Weighted
	decoy   Hash
}

// NewStore creates a Store hashing with primary. Additional hashers are only
// used for verification. concurrency bounds simultaneous hash computations.
// The decoy used for unknown logins is hashed up front.
func NewStore(primary Hasher, concurrency int, verifyOnly ...Hasher) (*Store, error) {
	if concurrency < 1 {
		concurrency = 1
	}
	decoy, err := primary.Hash("decoy-credential-never-matches")
	if err != nil {
		return nil, fmt.Errorf("decoy hash with %s: %w", primary.Name(), err)
	}
	return &Store{
		primary: primary,
		known:   append([]Hasher{primary}, verifyOnly...),
		sem:     semaphore.NewWeighted(int64(concurrency)),
		decoy:   Hash(decoy),
	}, nil
}

// CheckPolicy validates a plaintext credential before hashing.
func CheckPolicy(plaintext string) error {
	switch {
	case len(plaintext) < MinPasswordBytes:
		return apperr.New(apperr.Validation, fmt.Sprintf("password must be at least %d characters", MinPasswordBytes))
	case len(plaintext) > MaxPasswordBytes:
		return apperr.New(apperr.Validation, fmt.Sprintf("password must be at most %d bytes", MaxPasswordBytes))
	}
	return nil
}

// Hash produces a new salted hash of plaintext.
func (s *Store) Hash(ctx context.Context, plaintext string) (Hash, error) {
	if err := CheckPolicy(plaintext); err != nil {
		return "", err
	}
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer s.sem.Release(1)

	encoded, err := s.primary.Hash(plaintext)
	if err != nil {
		return "", apperr.Internalf(err, "hash password with %s", s.primary.Name())
	}
	return Hash(encoded), nil
}

// Verify reports whether plaintext matches hash. Every failure, including an
// unknown algorithm, a malformed hash or a cancelled context, is a mismatch.
func (s *Store) Verify(ctx context.Context, plaintext string, hash Hash) bool {
	h := s.hasherFor(string(hash))
	if h == nil {
		return false
	}
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return false
	}
	defer s.sem.Release(1)

	ok, err := h.Verify(plaintext, string(hash))
	return err == nil && ok
}

// VerifyDecoy spends the same work as a real verification and always returns
// false. Login uses it for unknown identifiers.
func (s *Store) VerifyDecoy(ctx context.Context, plaintext string) bool {
	s.Verify(ctx, plaintext, s.decoy)
	return false
}

// Apply returns the hash to persist for an identity update. When the change
// is not explicit the existing hash is returned untouched. A plaintext that
// is itself an encoded hash is rejected so a hash is never hashed again.
func (s *Store) Apply(ctx context.Context, existing Hash, c Change) (Hash, error) {
	if !c.changed {
		return existing, nil
	}
	if s.hasherFor(c.plaintext) != nil {
		return "", apperr.New(apperr.Validation, "password must not be an encoded hash")
	}
	return s.Hash(ctx, c.plaintext)
}

func (s *Store) hasherFor(encoded string) Hasher {
	if !strings.HasPrefix(encoded, "$") {
		return nil
	}
	for _, h := range s.known {
		if h.Recognizes(encoded) {
			return h
		}
	}
	return nil
}
