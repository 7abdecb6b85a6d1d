// Package schema builds the JSON schemas sent to completion providers and
// validates structured replies against them.
package schema

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Doc is a JSON schema document. Providers serialize it as-is.
type Doc = map[string]any

// String returns a string schema with an optional description.
func String(description string) Doc {
	return withDescription(Doc{"type": "string"}, description)
}

// Boolean returns a boolean schema with an optional description.
func Boolean(description string) Doc {
	return withDescription(Doc{"type": "boolean"}, description)
}

// Number returns a number schema.
func Number(description string) Doc {
	return withDescription(Doc{"type": "number"}, description)
}

// Array returns an array schema of items.
func Array(items Doc) Doc {
	return Doc{"type": "array", "items": items}
}

// Object returns an object schema. Properties not listed in required are optional.
func Object(properties map[string]Doc, required ...string) Doc {
	props := make(map[string]any, len(properties))
	for k, v := range properties {
		props[k] = v
	}
	d := Doc{"type": "object", "properties": props}
	if len(required) > 0 {
		d["required"] = required
	}
	return d
}

// Closed forbids properties other than the declared ones.
func Closed(d Doc) Doc {
	d["additionalProperties"] = false
	return d
}

// Open returns a deep copy of d with every "additionalProperties": false removed.
func Open(d Doc) Doc {
	return openValue(d).(Doc)
}

func openValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			if k == "additionalProperties" && e == false {
				continue
			}
			out[k] = openValue(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = openValue(e)
		}
		return out
	default:
		return v
	}
}

// Nullable allows null in addition to d.
func Nullable(d Doc) Doc {
	return Doc{"anyOf": []any{d, Doc{"type": "null"}}}
}

func withDescription(d Doc, description string) Doc {
	if description != "" {
		d["description"] = description
	}
	return d
}

// ValidationError reports a value that does not conform to a schema.
type ValidationError struct {
	Schema string
	Err    error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("response violates schema %s: %v", e.Schema, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// IsValidationError reports whether err is or wraps a *ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// Validator is a schema compiled once and reused for every reply.
type Validator struct {
	name   string
	doc    Doc
	schema *jsonschema.Schema
}

// Compile compiles doc under name. Validation tolerates properties the
// schema closes off with additionalProperties; callers that need them gone
// strip them after decoding. Doc still returns the closed original.
func Compile(name string, doc Doc) (*Validator, error) {
	raw, err := json.Marshal(Open(doc))
	if err != nil {
		return nil, fmt.Errorf("marshal schema %s: %w", name, err)
	}
	url := name
	if !strings.HasSuffix(url, ".json") {
		url += ".json"
	}
	compiled, err := jsonschema.CompileString(url, string(raw))
	if err != nil {
		return nil, fmt.Errorf("compile schema %s: %w", name, err)
	}
	return &Validator{name: name, doc: doc, schema: compiled}, nil
}

// Name is the schema name providers label the response format with.
func (v *Validator) Name() string { return v.name }

// Doc returns the source document.
func (v *Validator) Doc() Doc { return v.doc }

// Validate checks raw JSON against the schema.
func (v *Validator) Validate(raw json.RawMessage) error {
	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return &ValidationError{Schema: v.name, Err: fmt.Errorf("invalid JSON: %w", err)}
	}
	if err := v.schema.Validate(value); err != nil {
		return &ValidationError{Schema: v.name, Err: err}
	}
	return nil
}

// ParamsSchema builds the object schema of one feature's parameter values
// from its per-parameter schemas. Every parameter is optional.
func ParamsSchema(params map[string]json.RawMessage) (Doc, error) {
	props := make(map[string]Doc, len(params))
	for name, raw := range params {
		var d Doc
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, fmt.Errorf("parameter %s: %w", name, err)
		}
		props[name] = d
	}
	return Closed(Object(props)), nil
}

// ValidateParams checks value against the parameters declared for feature
// name. Unlike reply validation, undeclared parameter names are an error.
func ValidateParams(name string, params map[string]json.RawMessage, value json.RawMessage) error {
	doc, err := ParamsSchema(params)
	if err != nil {
		return fmt.Errorf("feature %s: %w", name, err)
	}
	v, err := Compile("feature-"+name, doc)
	if err != nil {
		return err
	}
	if err := v.Validate(value); err != nil {
		return err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(value, &fields); err != nil {
		return &ValidationError{Schema: v.Name(), Err: err}
	}
	var unknown []string
	for k := range fields {
		if _, ok := params[k]; !ok {
			unknown = append(unknown, k)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return &ValidationError{Schema: v.Name(), Err: fmt.Errorf("undeclared parameters: %s", strings.Join(unknown, ", "))}
	}
	return nil
}

// Strict rewrites d into the subset accepted by strict structured outputs:
// every property is required, properties that were optional become
// nullable, and every object is closed. d is left untouched.
func Strict(d Doc) Doc {
	return strictDoc(d)
}

func strictDoc(d map[string]any) map[string]any {
	out := make(map[string]any, len(d)+2)
	for k, v := range d {
		out[k] = v
	}
	if props, ok := d["properties"].(map[string]any); ok {
		required := requiredSet(d["required"])
		strictProps := make(map[string]any, len(props))
		names := make([]string, 0, len(props))
		for name, p := range props {
			names = append(names, name)
			pd, ok := p.(map[string]any)
			if !ok {
				strictProps[name] = p
				continue
			}
			sp := strictDoc(pd)
			if !required[name] && !isNullable(pd) {
				sp = Nullable(sp)
			}
			strictProps[name] = sp
		}
		sort.Strings(names)
		out["properties"] = strictProps
		out["required"] = names
	}
	if d["type"] == "object" {
		out["additionalProperties"] = false
	}
	if items, ok := d["items"].(map[string]any); ok {
		out["items"] = strictDoc(items)
	}
	if anyOf, ok := d["anyOf"].([]any); ok {
		branches := make([]any, len(anyOf))
		for i, b := range anyOf {
			if bd, ok := b.(map[string]any); ok {
				branches[i] = strictDoc(bd)
			} else {
				branches[i] = b
			}
		}
		out["anyOf"] = branches
	}
	return out
}

// PruneNulls removes the nulls a Strict rendition of d lets through but d
// itself rejects: null values of properties d leaves optional and not
// nullable. Invalid JSON is an error.
func PruneNulls(d Doc, raw json.RawMessage) (json.RawMessage, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var value any
	if err := dec.Decode(&value); err != nil {
		return nil, err
	}
	return json.Marshal(pruneValue(d, value))
}

func pruneValue(d map[string]any, v any) any {
	if anyOf, ok := d["anyOf"].([]any); ok {
		for _, b := range anyOf {
			if bd, ok := b.(map[string]any); ok && sameKind(bd, v) {
				return pruneValue(bd, v)
			}
		}
		return v
	}
	switch t := v.(type) {
	case map[string]any:
		props, _ := d["properties"].(map[string]any)
		required := requiredSet(d["required"])
		for k, e := range t {
			pd, ok := props[k].(map[string]any)
			if !ok {
				continue
			}
			if e == nil && !required[k] && !isNullable(pd) {
				delete(t, k)
				continue
			}
			t[k] = pruneValue(pd, e)
		}
	case []any:
		if items, ok := d["items"].(map[string]any); ok {
			for i := range t {
				t[i] = pruneValue(items, t[i])
			}
		}
	}
	return v
}

func sameKind(d map[string]any, v any) bool {
	switch v.(type) {
	case map[string]any:
		return d["type"] == "object"
	case []any:
		return d["type"] == "array"
	}
	return false
}

func requiredSet(v any) map[string]bool {
	set := make(map[string]bool)
	switch t := v.(type) {
	case []string:
		for _, name := range t {
			set[name] = true
		}
	case []any:
		for _, name := range t {
			if s, ok := name.(string); ok {
				set[s] = true
			}
		}
	}
	return set
}

func isNullable(d map[string]any) bool {
	switch t := d["type"].(type) {
	case string:
		if t == "null" {
			return true
		}
	case []any:
		for _, e := range t {
			if e == "null" {
				return true
			}
		}
	}
	if anyOf, ok := d["anyOf"].([]any); ok {
		for _, b := range anyOf {
			if bd, ok := b.(map[string]any); ok && isNullable(bd) {
				return true
			}
		}
	}
	return false
}
