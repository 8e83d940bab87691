// Package credentials holds the per-request caller secret that authorizes
// outbound vendor calls.
//
// DESIGN: Credentials are plain values threaded explicitly through
// dispatch -> handler -> upstream client. There is no ambient or
// process-global credential state: a request's secret cannot leak into a
// subsequent unrelated request on a reused worker, and tests need no global
// patching.
package credentials

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"sort"
	"strings"

	"github.com/toolbridge/tool-gateway/internal/envelope"
)

// Header names accepted on the REST surface.
const (
	HeaderToken = "X-Auth-Token" // opaque bearer or composite string
	HeaderData  = "X-Auth-Data"  // base64-encoded JSON object
)

// Credentials is an opaque token or structured secret scoped to one inbound
// request. Token holds the raw value; Fields holds decoded structured parts
// (e.g. account_sid/auth_token for Twilio-style composite secrets).
type Credentials struct {
	Token  string
	Fields map[string]string
}

// Field returns a named structured field, or "" when absent.
func (c *Credentials) Field(name string) string {
	if c == nil || c.Fields == nil {
		return ""
	}
	return c.Fields[name]
}

// Empty reports whether no usable secret is present.
func (c *Credentials) Empty() bool {
	return c == nil || (c.Token == "" && len(c.Fields) == 0)
}

// Require returns a tagged missing_credentials error when no secret is
// present. Upstream clients call this before any HTTP attempt.
func (c *Credentials) Require() error {
	if c.Empty() {
		return envelope.New(envelope.KindMissingCredentials, "no credentials supplied for this call")
	}
	return nil
}

// Fingerprint returns a stable digest of the credential content, used to key
// per-credential caches so distinct callers never share derived state (e.g.
// a minted OAuth bearer). Empty credentials fingerprint to "".
func (c *Credentials) Fingerprint() string {
	if c.Empty() {
		return ""
	}
	h := sha256.New()
	io.WriteString(h, c.Token)
	names := make([]string, 0, len(c.Fields))
	for name := range c.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		h.Write([]byte{0})
		io.WriteString(h, name)
		h.Write([]byte{0})
		io.WriteString(h, c.Fields[name])
	}
	return hex.EncodeToString(h.Sum(nil))
}

// FromHeaders decodes credentials from the inbound request headers.
// Precedence: X-Auth-Data (base64 JSON object) over X-Auth-Token. Returns
// nil when neither header is present; the adapter may then fall back to its
// statically configured secret.
func FromHeaders(h http.Header) (*Credentials, error) {
	if data := h.Get(HeaderData); data != "" {
		raw, err := base64.StdEncoding.DecodeString(data)
		if err != nil {
			return nil, envelope.New(envelope.KindInvalidArguments, "%s is not valid base64: %v", HeaderData, err)
		}
		var fields map[string]string
		if err := json.Unmarshal(raw, &fields); err != nil {
			return nil, envelope.New(envelope.KindInvalidArguments, "%s is not a JSON object of strings: %v", HeaderData, err)
		}
		return &Credentials{Fields: fields}, nil
	}
	if token := h.Get(HeaderToken); token != "" {
		return FromToken(token), nil
	}
	return nil, nil
}

// FromToken wraps a raw token string. Composite "a:b:c" secrets stay intact
// in Token; use Composite to split them into named fields.
func FromToken(token string) *Credentials {
	return &Credentials{Token: token}
}

// Composite splits a ":"-separated secret into named fields, e.g.
// Composite("sid:token:from", "account_sid", "auth_token", "from_number").
// Returns nil if the part count does not match.
func Composite(secret string, names ...string) *Credentials {
	parts := strings.Split(secret, ":")
	if len(parts) != len(names) {
		return nil
	}
	fields := make(map[string]string, len(names))
	for i, name := range names {
		fields[name] = parts[i]
	}
	return &Credentials{Token: secret, Fields: fields}
}

// Static builds credentials from a configured map, used as the fallback for
// MCP stdio clients that cannot send per-request headers. Empty values are
// dropped (unset ${VAR:-} expansions), and nil is returned when nothing
// remains so that Require still fails for unconfigured vendors.
func Static(fields map[string]string) *Credentials {
	cp := make(map[string]string, len(fields))
	for k, v := range fields {
		if v != "" {
			cp[k] = v
		}
	}
	if len(cp) == 0 {
		return nil
	}
	c := &Credentials{Fields: cp}
	if tok, ok := cp["token"]; ok {
		c.Token = tok
	}
	return c
}
