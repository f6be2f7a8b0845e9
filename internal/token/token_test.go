package token

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndVerify(t *testing.T) {
	e := NewEngine("super-secret")

	t.Run("legacy full-access token", func(t *testing.T) {
		tok, err := e.Generate("ci", nil)
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(tok, "pgcrud_ci."))

		claims, err := e.Verify(tok)
		require.NoError(t, err)
		assert.Nil(t, claims)
	})

	t.Run("scoped token round-trips claims", func(t *testing.T) {
		tok, err := e.Generate("analytics", NewClaims(map[string]Access{
			"public":    AccessRead,
			"reporting": AccessReadWrite,
		}))
		require.NoError(t, err)

		claims, err := e.Verify(tok)
		require.NoError(t, err)
		require.NotNil(t, claims)
		assert.True(t, claims.Permits("public", AccessRead))
		assert.False(t, claims.Permits("public", AccessWrite))
		assert.True(t, claims.Permits("reporting", AccessWrite))
	})

	t.Run("invalid label rejected at generation", func(t *testing.T) {
		_, err := e.Generate("bad label!", nil)
		require.Error(t, err)
	})

	t.Run("empty claims rejected at generation", func(t *testing.T) {
		_, err := e.Generate("x", NewClaims(map[string]Access{}))
		require.Error(t, err)
	})

	t.Run("wrong secret fails verification", func(t *testing.T) {
		tok, err := e.Generate("ci", nil)
		require.NoError(t, err)
		_, err = NewEngine("other-secret").Verify(tok)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
}

func TestCanonicalClaimsOrdering(t *testing.T) {
	// The generator always emits claims with lexicographically sorted
	// keys, so the same logical claims produce identical tokens.
	e := NewEngine("s")
	a, err := e.Generate("t", NewClaims(map[string]Access{"b": AccessRead, "a": AccessWrite, "c": AccessReadWrite}))
	require.NoError(t, err)
	b, err := e.Generate("t", NewClaims(map[string]Access{"c": AccessReadWrite, "a": AccessWrite, "b": AccessRead}))
	require.NoError(t, err)
	assert.Equal(t, a, b)

	rest := strings.TrimPrefix(a, Prefix)
	data := rest[:strings.LastIndex(rest, ".")]
	encoded := strings.SplitN(data, ":", 2)[1]
	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	require.NoError(t, err)
	assert.Equal(t, `{"a":"w","b":"r","c":"rw"}`, string(raw))
}

func TestTamperResistance(t *testing.T) {
	e := NewEngine("super-secret")

	scoped, err := e.Generate("svc", NewClaims(map[string]Access{"public": AccessRead}))
	require.NoError(t, err)
	legacy, err := e.Generate("svc", nil)
	require.NoError(t, err)

	t.Run("any byte flip invalidates", func(t *testing.T) {
		for i := len(Prefix); i < len(scoped); i++ {
			mutated := []byte(scoped)
			if mutated[i] == 'a' {
				mutated[i] = 'b'
			} else {
				mutated[i] = 'a'
			}
			_, err := e.Verify(string(mutated))
			assert.ErrorIs(t, err, ErrInvalidToken, "flip at %d survived", i)
		}
	})

	t.Run("trimming claims does not yield a full-access token", func(t *testing.T) {
		// Keep the label and the original MAC but cut the claims
		// segment: pgcrud_svc.{same mac}.
		dot := strings.LastIndex(scoped, ".")
		mac := scoped[dot+1:]
		forged := Prefix + "svc." + mac
		_, err := e.Verify(forged)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("grafting claims onto a legacy token fails", func(t *testing.T) {
		dot := strings.LastIndex(legacy, ".")
		mac := legacy[dot+1:]
		claims := base64.RawURLEncoding.EncodeToString([]byte(`{"public":"rw"}`))
		forged := Prefix + "svc:" + claims + "." + mac
		_, err := e.Verify(forged)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("upgrading an entry without re-signing fails", func(t *testing.T) {
		dot := strings.LastIndex(scoped, ".")
		mac := scoped[dot+1:]
		upgraded := base64.RawURLEncoding.EncodeToString([]byte(`{"public":"rw"}`))
		forged := Prefix + "svc:" + upgraded + "." + mac
		_, err := e.Verify(forged)
		assert.ErrorIs(t, err, ErrInvalidToken)

		added := base64.RawURLEncoding.EncodeToString([]byte(`{"public":"r","reporting":"rw"}`))
		forged = Prefix + "svc:" + added + "." + mac
		_, err = e.Verify(forged)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("missing prefix or mac fails", func(t *testing.T) {
		_, err := e.Verify("nonsense")
		assert.ErrorIs(t, err, ErrInvalidToken)
		_, err = e.Verify(Prefix + "label-without-mac")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
}

func TestPermissionSemantics(t *testing.T) {
	t.Run("nil claims permit everything", func(t *testing.T) {
		var c *Claims
		assert.True(t, c.Permits("anything", AccessWrite))
		assert.True(t, c.Permits("anything", AccessRead))
	})

	t.Run("unlisted namespace denied", func(t *testing.T) {
		c := NewClaims(map[string]Access{"public": AccessReadWrite})
		assert.False(t, c.Permits("reporting", AccessRead))
	})

	t.Run("wildcard is a fallback", func(t *testing.T) {
		c := NewClaims(map[string]Access{Wildcard: AccessRead})
		assert.True(t, c.Permits("anything", AccessRead))
		assert.False(t, c.Permits("anything", AccessWrite))
	})

	t.Run("explicit entry overrides the wildcard", func(t *testing.T) {
		c := NewClaims(map[string]Access{
			Wildcard: AccessReadWrite,
			"locked": AccessRead,
		})
		assert.True(t, c.Permits("open", AccessWrite))
		assert.False(t, c.Permits("locked", AccessWrite))
		assert.True(t, c.Permits("locked", AccessRead))
	})

	t.Run("rw grants both directions", func(t *testing.T) {
		c := NewClaims(map[string]Access{"ns": AccessReadWrite})
		assert.True(t, c.Permits("ns", AccessRead))
		assert.True(t, c.Permits("ns", AccessWrite))
		assert.True(t, c.Permits("ns", AccessReadWrite))
	})
}
