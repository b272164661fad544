// Package id generates the opaque tokens that address jobs.
//
// A token is the lowercase hex MD5 of a time-ordered seed. When the
// caller reports a collision the generator mixes a random salt into the
// previous token and hashes again, until a free token is found.
package id

import (
	"crypto/md5" //nolint:gosec // opacity, not integrity
	"encoding/hex"
	"math/rand/v2"

	"github.com/google/uuid"
)

// Length is the length of every generated token.
const Length = md5.Size * 2

// saltLength is the number of random characters mixed in on collision.
const saltLength = 10

const saltAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// Generator produces job tokens. The zero value is not usable; call New.
// A Generator is safe for concurrent use as long as its seed and salt
// functions are.
type Generator struct {
	seed func() string
	salt func() string
}

// Option configures a Generator.
type Option func(*Generator)

// WithSeed replaces the time-based seed source.
func WithSeed(fn func() string) Option {
	return func(g *Generator) { g.seed = fn }
}

// WithSalt replaces the random salt source used after a collision.
func WithSalt(fn func() string) Option {
	return func(g *Generator) { g.salt = fn }
}

// New creates a Generator seeded from UUIDv7 values.
func New(opts ...Option) *Generator {
	g := &Generator{
		seed: timeSeed,
		salt: RandomString,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate returns a token for which exists reports false. A nil exists
// accepts the first candidate.
func (g *Generator) Generate(exists func(string) bool) string {
	token := Hash(g.seed())
	for exists != nil && exists(token) {
		token = Hash(token + g.salt())
	}
	return token
}

// Hash returns the lowercase hex MD5 digest of s.
func Hash(s string) string {
	sum := md5.Sum([]byte(s)) //nolint:gosec // opacity, not integrity
	return hex.EncodeToString(sum[:])
}

// Valid reports whether s has the shape of a generated token.
func Valid(s string) bool {
	if len(s) != Length {
		return false
	}
	for i := range len(s) {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

// RandomString returns saltLength random alphanumeric characters.
func RandomString() string {
	b := make([]byte, saltLength)
	for i := range b {
		b[i] = saltAlphabet[rand.IntN(len(saltAlphabet))] //nolint:gosec // salt, not a secret
	}
	return string(b)
}

// timeSeed returns a UUIDv7, which embeds the current Unix milliseconds.
func timeSeed() string {
	u, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return u.String()
}
