// Package signature implements the canonical string and keyed-hash scheme
// shared by outbound gateway requests and inbound callbacks.
//
// The canonical string is built from every field except the signature
// itself: names are sorted bytewise, each field is rendered as key=value with
// its raw value, and the pairs are joined with '&'. The digest is the
// lowercase hex HMAC of that string.
package signature

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"hash"
	"net/url"
	"sort"
	"strings"
)

// Field is the payload field carrying the digest.
const Field = "signature"

type Algorithm string

const (
	SHA256 Algorithm = "sha256"
	SHA512 Algorithm = "sha512"
)

func (a Algorithm) Valid() bool { return a == SHA256 || a == SHA512 }

func (a Algorithm) hasher() func() hash.Hash {
	if a == SHA512 {
		return sha512.New
	}
	return sha256.New
}

// Canonical renders fields without the signature field.
func Canonical(fields map[string]string) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		if k == Field {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(fields[k])
	}
	return b.String()
}

func Sign(alg Algorithm, canonical, secret string) string {
	m := hmac.New(alg.hasher(), []byte(secret))
	m.Write([]byte(canonical))
	return hex.EncodeToString(m.Sum(nil))
}

// Verify recomputes the digest over payload and compares it with the value
// of its signature field. A payload without a signature never verifies.
func Verify(alg Algorithm, payload map[string]string, secret string) bool {
	got, ok := payload[Field]
	if !ok || got == "" {
		return false
	}
	want := Sign(alg, Canonical(payload), secret)
	return hmac.Equal([]byte(strings.ToLower(got)), []byte(want))
}

// SignFields returns a copy of fields with the signature field set.
func SignFields(alg Algorithm, fields map[string]string, secret string) map[string]string {
	out := make(map[string]string, len(fields)+1)
	for k, v := range fields {
		out[k] = v
	}
	out[Field] = Sign(alg, Canonical(fields), secret)
	return out
}

// FieldsFromQuery takes the first value of every query parameter. Values
// are used as decoded once by the URL parser and never decoded again.
func FieldsFromQuery(q url.Values) map[string]string {
	out := make(map[string]string, len(q))
	for k, v := range q {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return out
}

// FieldsFromJSON flattens a JSON object into raw string values: strings are
// unquoted, numbers keep their literal text, booleans render as true/false,
// null renders empty and nested values keep their compact JSON text.
func FieldsFromJSON(body []byte) (map[string]string, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		v = bytes.TrimSpace(v)
		switch {
		case len(v) == 0 || string(v) == "null":
			out[k] = ""
		case v[0] == '"':
			var s string
			if err := json.Unmarshal(v, &s); err != nil {
				return nil, fmt.Errorf("decode field %q: %w", k, err)
			}
			out[k] = s
		case v[0] == '{' || v[0] == '[':
			var buf bytes.Buffer
			if err := json.Compact(&buf, v); err != nil {
				return nil, fmt.Errorf("decode field %q: %w", k, err)
			}
			out[k] = buf.String()
		default:
			out[k] = string(v)
		}
	}
	return out, nil
}
