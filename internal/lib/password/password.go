// Package password hashes and verifies account passwords and enforces the
// registration strength policy.
package password

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"

	"golang.org/x/crypto/bcrypt"
)

const (
	MinLength = 8
	// MaxBytes is the longest input bcrypt accepts.
	MaxBytes = 72
	Symbols  = "@$!%*?&"
)

var (
	ErrEmptyPassword = errors.New("password must not be empty")
	ErrWeakPassword  = errors.New("password is too weak")
	ErrTooLong       = errors.New("password is too long")
)

type Hasher struct {
	cost int

	dummyOnce sync.Once
	dummy     []byte
}

// NewHasher returns a bcrypt hasher. A cost outside bcrypt's bounds falls back to bcrypt.DefaultCost.
func NewHasher(cost int) *Hasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &Hasher{cost: cost}
}

// Hash returns a salted bcrypt digest of plaintext.
func (h *Hasher) Hash(plaintext string) ([]byte, error) {
	const op = "password.Hash"

	if plaintext == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrEmptyPassword)
	}
	if len(plaintext) > MaxBytes {
		return nil, fmt.Errorf("%s: %w", op, ErrTooLong)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(plaintext), h.cost)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return hash, nil
}

// Verify reports whether plaintext matches digest. Corrupted digests never match.
func (h *Hasher) Verify(digest []byte, plaintext string) bool {
	if len(digest) == 0 || plaintext == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword(digest, []byte(plaintext)) == nil
}

// VerifyDummy runs a full bcrypt comparison against a fixed digest of the
// hasher's cost and always reports false. Callers use it when there is no
// stored digest so that the miss costs as much as a wrong password.
func (h *Hasher) VerifyDummy(plaintext string) bool {
	h.dummyOnce.Do(func() {
		h.dummy, _ = bcrypt.GenerateFromPassword([]byte("admissions-dummy-password"), h.cost)
	})
	_ = bcrypt.CompareHashAndPassword(h.dummy, []byte(plaintext))
	return false
}

// CheckStrength enforces length, letter case, digit and symbol requirements.
// Length is counted in characters; letters and digits must be ASCII.
// Inputs longer than MaxBytes fail with ErrTooLong.
func CheckStrength(plaintext string) error {
	if utf8.RuneCountInString(plaintext) < MinLength {
		return fmt.Errorf("%w: at least %d characters required", ErrWeakPassword, MinLength)
	}
	if len(plaintext) > MaxBytes {
		return fmt.Errorf("%w: at most %d bytes allowed", ErrTooLong, MaxBytes)
	}

	var upper, lower, digit, symbol bool
	for _, r := range plaintext {
		switch {
		case 'A' <= r && r <= 'Z':
			upper = true
		case 'a' <= r && r <= 'z':
			lower = true
		case '0' <= r && r <= '9':
			digit = true
		case strings.ContainsRune(Symbols, r):
			symbol = true
		}
	}

	switch {
	case !upper:
		return fmt.Errorf("%w: an uppercase letter is required", ErrWeakPassword)
	case !lower:
		return fmt.Errorf("%w: a lowercase letter is required", ErrWeakPassword)
	case !digit:
		return fmt.Errorf("%w: a digit is required", ErrWeakPassword)
	case !symbol:
		return fmt.Errorf("%w: one of %s is required", ErrWeakPassword, Symbols)
	}

	return nil
}
