package token

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// Access is a namespace grant: read, write, or both.
type Access string

const (
	AccessRead      Access = "r"
	AccessWrite     Access = "w"
	AccessReadWrite Access = "rw"
)

// Wildcard matches any namespace not listed explicitly.
const Wildcard = "*"

// Claims maps a namespace (or the wildcard) to its granted access.
// A nil *Claims denotes the full-access legacy form.
type Claims struct {
	Grants map[string]Access
}

// NewClaims builds a claims value from a grant map.
func NewClaims(grants map[string]Access) *Claims {
	return &Claims{Grants: grants}
}

// Empty reports whether the claims carry no grants at all.
func (c *Claims) Empty() bool {
	return c == nil || len(c.Grants) == 0
}

// Permits reports whether the claims allow the requested access on the
// namespace. A nil receiver (full access) permits everything. An
// explicit namespace entry overrides the wildcard; absence of both
// denies.
func (c *Claims) Permits(namespace string, want Access) bool {
	if c == nil {
		return true
	}
	granted, ok := c.Grants[namespace]
	if !ok {
		granted, ok = c.Grants[Wildcard]
	}
	if !ok {
		return false
	}
	switch want {
	case AccessRead:
		return granted == AccessRead || granted == AccessReadWrite
	case AccessWrite:
		return granted == AccessWrite || granted == AccessReadWrite
	case AccessReadWrite:
		return granted == AccessReadWrite
	}
	return false
}

// Namespaces returns the explicitly granted namespaces, sorted, with
// the wildcard excluded.
func (c *Claims) Namespaces() []string {
	if c == nil {
		return nil
	}
	var out []string
	for ns := range c.Grants {
		if ns != Wildcard {
			out = append(out, ns)
		}
	}
	sort.Strings(out)
	return out
}

// HasWildcard reports whether the claims carry a wildcard grant.
func (c *Claims) HasWildcard() bool {
	return c != nil && c.Grants[Wildcard] != ""
}

// canonicalJSON serializes the grants deterministically: a single JSON
// object with keys in lexicographic order and no insignificant
// whitespace. The verifier MACs the bytes as embedded, so any stable
// ordering would verify; this generator always emits sorted keys.
func (c *Claims) canonicalJSON() []byte {
	keys := make([]string, 0, len(c.Grants))
	for k := range c.Grants {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, _ := json.Marshal(k)
		val, _ := json.Marshal(string(c.Grants[k]))
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes()
}

func parseClaims(raw []byte) (*Claims, error) {
	var grants map[string]string
	if err := json.Unmarshal(raw, &grants); err != nil {
		return nil, err
	}
	if len(grants) == 0 {
		return nil, fmt.Errorf("claims carry no grants")
	}
	out := make(map[string]Access, len(grants))
	for ns, a := range grants {
		switch Access(a) {
		case AccessRead, AccessWrite, AccessReadWrite:
			out[ns] = Access(a)
		default:
			return nil, fmt.Errorf("unknown access %q for namespace %q", a, ns)
		}
	}
	return &Claims{Grants: out}, nil
}
