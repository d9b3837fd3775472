package authn

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"github.com/goliatone/go-errors"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/crypto/pbkdf2"
)

// ErrNoEmptyString is returned when hashing an empty password
var ErrNoEmptyString = errors.New("password must not be empty", errors.CategoryBadInput)

// BcryptHasher hashes passwords with bcrypt. When a pepper is set the
// password is HMAC-SHA256'd with it first, which also keeps long passwords
// under the bcrypt 72 byte limit.
type BcryptHasher struct {
	cost   int
	pepper []byte
}

var _ PasswordHasher = (*BcryptHasher)(nil)

// NewBcryptHasher returns a bcrypt hasher, cost out of range uses bcrypt.DefaultCost
func NewBcryptHasher(cost int, pepper string) *BcryptHasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &BcryptHasher{cost: cost, pepper: []byte(pepper)}
}

// Hash will generate a password hash
func (b *BcryptHasher) Hash(plain string) (string, error) {
	if plain == "" {
		return "", ErrNoEmptyString
	}

	h, err := bcrypt.GenerateFromPassword(peppered(b.pepper, plain), b.cost)
	if err != nil {
		return "", errors.Wrap(err, errors.CategoryInternal, "failed to hash password")
	}
	return string(h), nil
}

// Compare will validate the given cleartext password matches the hash. A
// stored hash bcrypt cannot read counts as a mismatch.
func (b *BcryptHasher) Compare(plain, hash string) (bool, error) {
	if plain == "" || hash == "" {
		return false, nil
	}

	if err := bcrypt.CompareHashAndPassword([]byte(hash), peppered(b.pepper, plain)); err != nil {
		return false, nil
	}
	return true, nil
}

const (
	pbkdf2Prefix            = "pbkdf2-sha256"
	pbkdf2DefaultIterations = 600_000
	pbkdf2MinIterations     = 100_000
)

// PBKDF2Hasher hashes passwords with PBKDF2-HMAC-SHA256. Hashes are encoded
// as pbkdf2-sha256$<iterations>$<salt>$<key> with raw base64 parts.
type PBKDF2Hasher struct {
	iterations int
	saltLen    int
	keyLen     int
	pepper     []byte
}

var _ PasswordHasher = (*PBKDF2Hasher)(nil)

// NewPBKDF2Hasher returns a PBKDF2 hasher with the given iteration count
func NewPBKDF2Hasher(iterations int, pepper string) *PBKDF2Hasher {
	if iterations <= 0 {
		iterations = pbkdf2DefaultIterations
	}
	return &PBKDF2Hasher{
		iterations: iterations,
		saltLen:    16,
		keyLen:     32,
		pepper:     []byte(pepper),
	}
}

// Hash will generate a password hash
func (p *PBKDF2Hasher) Hash(plain string) (string, error) {
	if plain == "" {
		return "", ErrNoEmptyString
	}

	salt := make([]byte, p.saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", errors.Wrap(err, errors.CategoryInternal, "failed to generate salt")
	}

	key := pbkdf2.Key(peppered(p.pepper, plain), salt, p.iterations, p.keyLen, sha256.New)

	return fmt.Sprintf("%s$%d$%s$%s",
		pbkdf2Prefix,
		p.iterations,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Compare will validate the given cleartext password matches the hash
func (p *PBKDF2Hasher) Compare(plain, hash string) (bool, error) {
	if plain == "" || hash == "" {
		return false, nil
	}

	parts := strings.Split(hash, "$")
	if len(parts) != 4 || parts[0] != pbkdf2Prefix {
		return false, nil
	}

	iterations, err := strconv.Atoi(parts[1])
	if err != nil || iterations <= 0 {
		return false, nil
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[2])
	if err != nil {
		return false, nil
	}

	want, err := base64.RawStdEncoding.DecodeString(parts[3])
	if err != nil || len(want) == 0 {
		return false, nil
	}

	got := pbkdf2.Key(peppered(p.pepper, plain), salt, iterations, len(want), sha256.New)
	return subtle.ConstantTimeCompare(got, want) == 1, nil
}

// NewHasher builds the hasher named in the definitions
func NewHasher(defs *Definitions) (PasswordHasher, error) {
	switch defs.Hasher {
	case "", "bcrypt":
		return NewBcryptHasher(defs.HashCost, defs.HashingKey), nil
	case "pbkdf2":
		return NewPBKDF2Hasher(defs.HashIterations, defs.HashingKey), nil
	default:
		return nil, configurationError(errors.New("unknown hasher: "+defs.Hasher, errors.CategoryValidation))
	}
}

func peppered(pepper []byte, plain string) []byte {
	if len(pepper) == 0 {
		return []byte(plain)
	}
	mac := hmac.New(sha256.New, pepper)
	mac.Write([]byte(plain))
	return []byte(base64.StdEncoding.EncodeToString(mac.Sum(nil)))
}
