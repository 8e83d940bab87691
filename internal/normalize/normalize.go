// Package normalize maps raw vendor JSON into stable vendor-agnostic shapes
// via declarative field rules.
//
// DESIGN: A rule set is data, not code state. Each rule resolves a target
// field from either a dotted source path (gjson syntax) or a transform
// function over the raw document. The output is "present-fields-only":
// absent and null values are omitted entirely, never emitted as nulls. A
// best-effort field must never abort the whole normalization, so transform
// errors and panics are absorbed as "absent".
package normalize

import (
	"encoding/json"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Transform derives a target value from the whole raw document. Returning
// an error (or panicking) marks the field absent.
type Transform func(source gjson.Result) (any, error)

// Rule maps one target field to a dotted source path or a transform.
// When both are set, Path is resolved first and Transform is ignored.
type Rule struct {
	Target    string
	Path      string
	Transform Transform
}

// Rules is an ordered rule set applied by Apply.
type Rules []Rule

// Apply normalizes source JSON against the rule set. It is pure and
// deterministic: the same source and rules always yield the same output.
// Applying any rule set to an empty document yields "{}".
//
// The result is json.RawMessage so it re-marshals verbatim inside response
// envelopes instead of base64-encoding like a plain byte slice would.
func Apply(source []byte, rules Rules) json.RawMessage {
	doc := gjson.ParseBytes(source)
	out := []byte(`{}`)
	for _, r := range rules {
		value, ok := resolve(doc, r)
		if !ok {
			continue
		}
		patched, err := sjson.SetBytes(out, r.Target, value)
		if err != nil {
			continue
		}
		out = patched
	}
	return out
}

// resolve returns the rule's value and whether it is present. Null and
// missing resolve to absent.
func resolve(doc gjson.Result, r Rule) (value any, ok bool) {
	if r.Path != "" {
		res := doc.Get(r.Path)
		if !res.Exists() || res.Type == gjson.Null {
			return nil, false
		}
		return res.Value(), true
	}
	if r.Transform == nil {
		return nil, false
	}
	defer func() {
		if rec := recover(); rec != nil {
			value, ok = nil, false
		}
	}()
	v, err := r.Transform(doc)
	if err != nil || v == nil {
		return nil, false
	}
	return v, true
}
