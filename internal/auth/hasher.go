// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/samber/oops"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

// Supported password hashing algorithms.
const (
	AlgorithmArgon2id = "argon2id"
	AlgorithmBcrypt   = "bcrypt"
)

// BcryptMaxPasswordBytes is the longest input bcrypt accepts.
const BcryptMaxPasswordBytes = 72

// ErrEmptyPassword is returned when attempting to hash an empty password.
var ErrEmptyPassword = oops.Code("PASSWORD_EMPTY").Errorf("password cannot be empty")

// PasswordHasher provides password hashing and verification.
type PasswordHasher interface {
	// Hash produces an encoded hash of the password.
	Hash(password string) (string, error)

	// Verify checks if the password matches the hash.
	// Returns (true, nil) on match, (false, nil) on mismatch, or error on invalid hash.
	Verify(password, hash string) (bool, error)

	// NeedsUpgrade returns true if the hash was produced with a different
	// algorithm or different parameters than the hasher currently uses.
	NeedsUpgrade(hash string) bool
}

// Argon2idParams are the tuning parameters for argon2id.
type Argon2idParams struct {
	Time       uint32 `koanf:"time" yaml:"time" env:"TIME"`
	MemoryKiB  uint32 `koanf:"memory_kib" yaml:"memory_kib" env:"MEMORY_KIB"`
	Threads    uint8  `koanf:"threads" yaml:"threads" env:"THREADS"`
	SaltLength uint32 `koanf:"salt_length" yaml:"salt_length" env:"SALT_LENGTH"`
	KeyLength  uint32 `koanf:"key_length" yaml:"key_length" env:"KEY_LENGTH"`
}

// DefaultArgon2idParams returns the OWASP-recommended argon2id parameters.
func DefaultArgon2idParams() Argon2idParams {
	return Argon2idParams{
		Time:       1,
		MemoryKiB:  64 * 1024,
		Threads:    4,
		SaltLength: 16,
		KeyLength:  32,
	}
}

// Validate checks the parameters are usable.
func (p Argon2idParams) Validate() error {
	switch {
	case p.Time < 1:
		return oops.Code("PASSWORD_INVALID_PARAMS").With("time", p.Time).Errorf("argon2id time must be at least 1")
	case p.Threads < 1:
		return oops.Code("PASSWORD_INVALID_PARAMS").With("threads", p.Threads).Errorf("argon2id threads must be at least 1")
	case p.MemoryKiB < 8*uint32(p.Threads):
		return oops.Code("PASSWORD_INVALID_PARAMS").
			With("memory_kib", p.MemoryKiB).
			With("threads", p.Threads).
			Errorf("argon2id memory must be at least 8 KiB per thread")
	case p.SaltLength < 8:
		return oops.Code("PASSWORD_INVALID_PARAMS").With("salt_length", p.SaltLength).Errorf("argon2id salt must be at least 8 bytes")
	case p.KeyLength < 16:
		return oops.Code("PASSWORD_INVALID_PARAMS").With("key_length", p.KeyLength).Errorf("argon2id key must be at least 16 bytes")
	}
	return nil
}

// Argon2idHasher implements PasswordHasher using argon2id.
type Argon2idHasher struct {
	params Argon2idParams
	random io.Reader
}

// NewArgon2idHasher creates a new Argon2idHasher with the default parameters.
func NewArgon2idHasher() *Argon2idHasher {
	return &Argon2idHasher{params: DefaultArgon2idParams(), random: rand.Reader}
}

// NewArgon2idHasherWithParams creates an Argon2idHasher with custom parameters.
func NewArgon2idHasherWithParams(params Argon2idParams) (*Argon2idHasher, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return &Argon2idHasher{params: params, random: rand.Reader}, nil
}

// Hash produces an argon2id hash of the password.
func (h *Argon2idHasher) Hash(password string) (string, error) {
	if password == "" {
		return "", ErrEmptyPassword
	}

	salt := make([]byte, h.params.SaltLength)
	if _, err := io.ReadFull(h.random, salt); err != nil {
		return "", oops.Code("PASSWORD_SALT_FAILED").Wrap(err)
	}

	key := argon2.IDKey([]byte(password), salt, h.params.Time, h.params.MemoryKiB, h.params.Threads, h.params.KeyLength)

	// $argon2id$v=19$m=65536,t=1,p=4$<salt>$<hash>
	return fmt.Sprintf(
		"$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		h.params.MemoryKiB,
		h.params.Time,
		h.params.Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// argon2idHash is a decoded PHC argon2id string.
type argon2idHash struct {
	version int
	params  Argon2idParams
	salt    []byte
	key     []byte
}

func decodeArgon2id(encoded string) (*argon2idHash, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 {
		return nil, oops.Code("PASSWORD_INVALID_HASH").Errorf("invalid hash format")
	}
	if parts[1] != AlgorithmArgon2id {
		return nil, oops.Code("PASSWORD_INVALID_HASH").Errorf("unsupported hash algorithm: %s", parts[1])
	}

	var decoded argon2idHash
	if _, err := fmt.Sscanf(parts[2], "v=%d", &decoded.version); err != nil {
		return nil, oops.Code("PASSWORD_INVALID_HASH").Wrap(err)
	}
	if decoded.version != argon2.Version {
		return nil, oops.Code("PASSWORD_INVALID_HASH").Errorf("unsupported argon2 version: %d", decoded.version)
	}

	var memory, iterations, threads uint32
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &iterations, &threads); err != nil {
		return nil, oops.Code("PASSWORD_INVALID_HASH").Wrap(err)
	}
	// Validate threads fits in uint8 to prevent silent truncation
	if threads > 255 {
		return nil, oops.Code("PASSWORD_INVALID_HASH").Errorf("threads value %d exceeds uint8 max", threads)
	}
	// argon2.IDKey panics on these
	if iterations < 1 || threads < 1 || memory < 8*threads {
		return nil, oops.Code("PASSWORD_INVALID_HASH").
			With("memory_kib", memory).
			With("time", iterations).
			With("threads", threads).
			Errorf("invalid argon2id parameters")
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return nil, oops.Code("PASSWORD_INVALID_HASH").Wrap(err)
	}
	key, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return nil, oops.Code("PASSWORD_INVALID_HASH").Wrap(err)
	}
	if len(key) == 0 || len(key) > 1<<30 {
		return nil, oops.Code("PASSWORD_INVALID_HASH").Errorf("invalid hash key length: %d", len(key))
	}

	decoded.params = Argon2idParams{
		Time:       iterations,
		MemoryKiB:  memory,
		Threads:    uint8(threads),
		SaltLength: uint32(len(salt)),
		KeyLength:  uint32(len(key)),
	}
	decoded.salt = salt
	decoded.key = key
	return &decoded, nil
}

// Verify checks if the password matches the hash. The parameters are taken
// from the encoded hash, so hashes made with older settings still verify.
func (h *Argon2idHasher) Verify(password, encodedHash string) (bool, error) {
	decoded, err := decodeArgon2id(encodedHash)
	if err != nil {
		return false, err
	}

	p := decoded.params
	computed := argon2.IDKey([]byte(password), decoded.salt, p.Time, p.MemoryKiB, p.Threads, p.KeyLength)

	return subtle.ConstantTimeCompare(computed, decoded.key) == 1, nil
}

// NeedsUpgrade returns true if the hash is not argon2id or was made with
// parameters other than the hasher's.
func (h *Argon2idHasher) NeedsUpgrade(hash string) bool {
	decoded, err := decodeArgon2id(hash)
	if err != nil {
		return true
	}
	return decoded.params != h.params
}

// BcryptHasher implements PasswordHasher using bcrypt.
type BcryptHasher struct {
	cost int
}

// NewBcryptHasher creates a BcryptHasher with the given cost factor.
func NewBcryptHasher(cost int) (*BcryptHasher, error) {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, oops.Code("PASSWORD_INVALID_PARAMS").
			With("cost", cost).
			Errorf("bcrypt cost must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost)
	}
	return &BcryptHasher{cost: cost}, nil
}

// Hash produces a bcrypt hash of the password.
func (h *BcryptHasher) Hash(password string) (string, error) {
	if password == "" {
		return "", ErrEmptyPassword
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", oops.Code("PASSWORD_HASH_FAILED").With("algorithm", AlgorithmBcrypt).Wrap(err)
	}
	return string(hash), nil
}

// Verify checks if the password matches the bcrypt hash.
func (h *BcryptHasher) Verify(password, hash string) (bool, error) {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return false, nil
	}
	return false, oops.Code("PASSWORD_INVALID_HASH").With("algorithm", AlgorithmBcrypt).Wrap(err)
}

// NeedsUpgrade returns true if the hash is not bcrypt or uses another cost.
func (h *BcryptHasher) NeedsUpgrade(hash string) bool {
	if !isBcryptHash(hash) {
		return true
	}
	cost, err := bcrypt.Cost([]byte(hash))
	if err != nil {
		return true
	}
	return cost != h.cost
}

func isBcryptHash(hash string) bool {
	return strings.HasPrefix(hash, "$2a$") || strings.HasPrefix(hash, "$2b$") || strings.HasPrefix(hash, "$2y$")
}

// HashConfig selects the algorithm new hashes are made with and its parameters.
type HashConfig struct {
	Algorithm  string
	Argon2id   Argon2idParams
	BcryptCost int
}

// MigratingHasher hashes with the configured algorithm and verifies hashes
// made by any supported algorithm. Operators change the configuration and
// existing users are rehashed on their next successful login.
type MigratingHasher struct {
	algorithm string
	primary   PasswordHasher
	argon2id  *Argon2idHasher
	bcrypt    *BcryptHasher
}

// NewPasswordHasher builds the hasher described by cfg.
func NewPasswordHasher(cfg HashConfig) (*MigratingHasher, error) {
	m := &MigratingHasher{algorithm: cfg.Algorithm}

	switch cfg.Algorithm {
	case AlgorithmArgon2id:
		h, err := NewArgon2idHasherWithParams(cfg.Argon2id)
		if err != nil {
			return nil, err
		}
		m.argon2id = h
		m.primary = h
		m.bcrypt = &BcryptHasher{cost: bcrypt.DefaultCost}
	case AlgorithmBcrypt:
		h, err := NewBcryptHasher(cfg.BcryptCost)
		if err != nil {
			return nil, err
		}
		m.bcrypt = h
		m.primary = h
		m.argon2id = NewArgon2idHasher()
	default:
		return nil, oops.Code("PASSWORD_UNKNOWN_ALGORITHM").
			With("algorithm", cfg.Algorithm).
			Errorf("unsupported password hashing algorithm %q", cfg.Algorithm)
	}
	return m, nil
}

// Algorithm returns the algorithm new hashes are made with.
func (m *MigratingHasher) Algorithm() string {
	return m.algorithm
}

// Hash produces a hash with the configured algorithm.
func (m *MigratingHasher) Hash(password string) (string, error) {
	start := time.Now()
	hash, err := m.primary.Hash(password)
	passwordHashDuration.WithLabelValues(m.algorithm).Observe(time.Since(start).Seconds())
	return hash, err
}

// Verify dispatches on the hash prefix.
func (m *MigratingHasher) Verify(password, hash string) (bool, error) {
	switch {
	case strings.HasPrefix(hash, "$argon2id$"):
		return m.argon2id.Verify(password, hash)
	case isBcryptHash(hash):
		return m.bcrypt.Verify(password, hash)
	default:
		return false, oops.Code("PASSWORD_INVALID_HASH").Errorf("unrecognized hash format")
	}
}

// NeedsUpgrade reports whether hash differs from what Hash would produce.
func (m *MigratingHasher) NeedsUpgrade(hash string) bool {
	return m.primary.NeedsUpgrade(hash)
}

// Compile-time interface checks.
var (
	_ PasswordHasher = (*Argon2idHasher)(nil)
	_ PasswordHasher = (*BcryptHasher)(nil)
	_ PasswordHasher = (*MigratingHasher)(nil)
)
