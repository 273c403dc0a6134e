// Package validate checks step inputs against CUE schemas and reports
// failures per field.
//
// Each step of a wizard declares its required and optional fields as a CUE
// definition. Input values are unified with the definition; anything missing,
// out of bounds or not declared surfaces as a field error.
package validate

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
)

// Errors maps field names to a human-readable message. It implements error so
// callers can return it directly.
type Errors map[string]string

func (e Errors) Error() string {
	fields := make([]string, 0, len(e))
	for f := range e {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	parts := make([]string, len(fields))
	for i, f := range fields {
		parts[i] = f + ": " + e[f]
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Add records msg for field unless the field already has a message.
func (e Errors) Add(field, msg string) {
	if _, ok := e[field]; !ok {
		e[field] = msg
	}
}

// OrNil returns nil when e holds no errors.
func (e Errors) OrNil() error {
	if len(e) == 0 {
		return nil
	}
	return e
}

// Schema is a compiled set of CUE definitions. It is safe for concurrent use
// because every Check works on values derived from a fresh unification.
type Schema struct {
	value cue.Value
}

// Compile parses CUE source holding one or more definitions.
func Compile(src string) (*Schema, error) {
	ctx := cuecontext.New()
	v := ctx.CompileString(src)
	if err := v.Err(); err != nil {
		return nil, fmt.Errorf("validate: compiling schema: %w", err)
	}
	return &Schema{value: v}, nil
}

// MustCompile is like Compile but panics on error. For package-level schemas.
func MustCompile(src string) *Schema {
	s, err := Compile(src)
	if err != nil {
		panic(err)
	}
	return s
}

// Check validates input against the named definition (for example "#Contact").
// input is first converted to its JSON object form, so struct json tags decide
// field names and omitempty fields count as missing.
func (s *Schema) Check(definition string, input any) error {
	def := s.value.LookupPath(cue.ParsePath(definition))
	if !def.Exists() {
		return fmt.Errorf("validate: unknown definition %s", definition)
	}

	fields, err := toObject(input)
	if err != nil {
		return fmt.Errorf("validate: encoding input: %w", err)
	}

	val := s.value.Context().Encode(fields)
	unified := def.Unify(val)
	verr := unified.Validate(cue.Concrete(true), cue.Final())
	if verr == nil {
		return nil
	}

	out := Errors{}
	for _, e := range cueerrors.Errors(verr) {
		field := fieldOf(e.Path())
		raw, present := fields[field]
		switch {
		case !present || isBlank(raw):
			out.Add(field, "is required")
		case strings.Contains(e.Error(), "not allowed"):
			out.Add(field, "is not a recognised field")
		default:
			out.Add(field, "is invalid")
		}
	}
	if len(out) == 0 {
		out["_"] = verr.Error()
	}
	return out
}

// fieldOf returns the top-level input field an error path points at, skipping
// the definition selector CUE reports as the path root.
func fieldOf(path []string) string {
	for _, p := range path {
		if !strings.HasPrefix(p, "#") {
			return p
		}
	}
	return "_"
}

func toObject(input any) (map[string]any, error) {
	b, err := json.Marshal(input)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	if m == nil {
		m = map[string]any{}
	}
	return m, nil
}

func isBlank(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	}
	return false
}
