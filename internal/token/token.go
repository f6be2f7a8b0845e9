// Package token implements the stateless credential scheme. A token is
//
//	pgcrud_{label}.{hex mac}                      (full access)
//	pgcrud_{label}:{base64url claims}.{hex mac}   (scoped)
//
// where the MAC is HMAC-SHA-256 over everything between the prefix and
// the final dot, keyed by the master secret. Because the MAC covers the
// optional claims segment, trimming or grafting claims invalidates the
// token. Verification is constant time and deliberately reports no
// detail on failure.
package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Prefix identifies gateway tokens.
const Prefix = "pgcrud_"

var labelPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ErrInvalidToken is the only error verification returns.
var ErrInvalidToken = errors.New("invalid token")

// Engine mints and verifies tokens under one master secret. Changing
// the secret invalidates every previously minted token at once.
type Engine struct {
	secret []byte
}

// NewEngine creates a credential engine keyed by the master secret.
func NewEngine(secret string) *Engine {
	return &Engine{secret: []byte(secret)}
}

// Generate mints a token. With nil claims the legacy full-access form
// is produced; otherwise the claims are serialized canonically and
// covered by the MAC. A claims value with no entries is rejected.
func (e *Engine) Generate(label string, claims *Claims) (string, error) {
	if !labelPattern.MatchString(label) {
		return "", fmt.Errorf("invalid token label %q: only letters, digits, underscore, and dash are allowed", label)
	}

	data := label
	if claims != nil {
		if claims.Empty() {
			return "", fmt.Errorf("scoped token requires at least one namespace grant")
		}
		encoded := base64.RawURLEncoding.EncodeToString(claims.canonicalJSON())
		data = label + ":" + encoded
	}

	return Prefix + data + "." + e.mac(data), nil
}

// Verify checks a presented token and returns its claims. A nil Claims
// result denotes the full-access form. Any structural or MAC failure
// yields ErrInvalidToken with no further detail.
func (e *Engine) Verify(presented string) (*Claims, error) {
	rest, ok := strings.CutPrefix(presented, Prefix)
	if !ok {
		return nil, ErrInvalidToken
	}

	dot := strings.LastIndex(rest, ".")
	if dot < 0 {
		return nil, ErrInvalidToken
	}
	data, mac := rest[:dot], rest[dot+1:]

	expected := e.mac(data)
	if !hmac.Equal([]byte(mac), []byte(expected)) {
		return nil, ErrInvalidToken
	}

	label := data
	var encodedClaims string
	if idx := strings.Index(data, ":"); idx >= 0 {
		label, encodedClaims = data[:idx], data[idx+1:]
	}
	if !labelPattern.MatchString(label) {
		return nil, ErrInvalidToken
	}

	if encodedClaims == "" {
		return nil, nil
	}

	raw, err := base64.RawURLEncoding.DecodeString(encodedClaims)
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, err := parseClaims(raw)
	if err != nil {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func (e *Engine) mac(data string) string {
	h := hmac.New(sha256.New, e.secret)
	h.Write([]byte(data))
	return hex.EncodeToString(h.Sum(nil))
}
