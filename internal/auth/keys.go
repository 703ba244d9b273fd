// ABOUTME: Static API key verification for bearer tokens
// ABOUTME: Supports plain keys (constant-time compare) and bcrypt-hashed keys with an LRU of verified tokens

package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"slices"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/crypto/bcrypt"
)

// ErrUnauthorized is returned when a token matches no configured key.
var ErrUnauthorized = errors.New("unauthorized")

// verifiedCacheSize bounds how many bcrypt-verified tokens are remembered.
const verifiedCacheSize = 1024

// Key is one configured API key. Exactly one of Plain and Hash is set.
type Key struct {
	Name        string
	Plain       string
	Hash        string // bcrypt hash of the key
	Permissions []string
}

// TokenVerifier resolves a bearer token to an identity.
type TokenVerifier interface {
	Verify(token string) (*AuthContext, error)
}

// KeyVerifier checks bearer tokens against a static list of API keys.
type KeyVerifier struct {
	plain  []Key
	hashed []Key

	// verified maps sha256(token) to the identity of a hashed key that
	// already passed bcrypt, so each request does not pay the bcrypt cost.
	verified *lru.Cache[[sha256.Size]byte, *AuthContext]
}

var _ TokenVerifier = (*KeyVerifier)(nil)

// NewKeyVerifier builds a verifier for keys. Keys without a name, or with
// neither or both of Plain and Hash, are rejected.
func NewKeyVerifier(keys []Key) (*KeyVerifier, error) {
	cache, err := lru.New[[sha256.Size]byte, *AuthContext](verifiedCacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating verified-token cache: %w", err)
	}

	v := &KeyVerifier{verified: cache}
	for i, k := range keys {
		if k.Name == "" {
			return nil, fmt.Errorf("api key %d: name is required", i)
		}
		switch {
		case k.Plain != "" && k.Hash != "":
			return nil, fmt.Errorf("api key %q: set either key or key_hash, not both", k.Name)
		case k.Plain != "":
			v.plain = append(v.plain, k)
		case k.Hash != "":
			if _, err := bcrypt.Cost([]byte(k.Hash)); err != nil {
				return nil, fmt.Errorf("api key %q: invalid key_hash: %w", k.Name, err)
			}
			v.hashed = append(v.hashed, k)
		default:
			return nil, fmt.Errorf("api key %q: key or key_hash is required", k.Name)
		}
	}
	return v, nil
}

// Len returns the number of configured keys.
func (v *KeyVerifier) Len() int {
	return len(v.plain) + len(v.hashed)
}

// Verify returns the identity for token, or ErrUnauthorized.
func (v *KeyVerifier) Verify(token string) (*AuthContext, error) {
	if token == "" {
		return nil, ErrUnauthorized
	}

	// Compare against every plain key so timing does not reveal which matched.
	var match *Key
	for i := range v.plain {
		if subtle.ConstantTimeCompare([]byte(v.plain[i].Plain), []byte(token)) == 1 && match == nil {
			match = &v.plain[i]
		}
	}
	if match != nil {
		return contextFor(*match), nil
	}

	if len(v.hashed) == 0 {
		return nil, ErrUnauthorized
	}

	sum := sha256.Sum256([]byte(token))
	if ac, ok := v.verified.Get(sum); ok {
		return ac, nil
	}
	for _, k := range v.hashed {
		if bcrypt.CompareHashAndPassword([]byte(k.Hash), []byte(token)) == nil {
			ac := contextFor(k)
			v.verified.Add(sum, ac)
			return ac, nil
		}
	}
	return nil, ErrUnauthorized
}

func contextFor(k Key) *AuthContext {
	return &AuthContext{
		KeyName:     k.Name,
		Permissions: slices.Clone(k.Permissions),
	}
}

// HashKey returns the bcrypt hash stored as key_hash for a new API key.
func HashKey(plain string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hashing api key: %w", err)
	}
	return string(hash), nil
}
