// Package validate checks raw extraction output against a profile's
// declared field types, coercing where a canonical parse exists.
package validate

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/akio-matsumoto/print-etl/internal/config"
)

// FieldError describes one field that failed validation.
type FieldError struct {
	Field  string
	Reason string
}

func (e FieldError) Error() string {
	return fmt.Sprintf("field %q: %s", e.Field, e.Reason)
}

// Error aggregates all field failures for one task. Validation is
// all-or-nothing: any field failure fails the whole task.
type Error struct {
	Fields []FieldError
}

func (e *Error) Error() string {
	msgs := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		msgs[i] = f.Error()
	}
	return "validation failed: " + strings.Join(msgs, "; ")
}

// Validate checks raw against the profile's declared fields and returns the
// coerced mapping. Missing fields fail; type mismatches are coerced by
// canonical parsing where possible and fail otherwise; undeclared extras
// are dropped silently.
func Validate(raw map[string]any, p *config.Profile) (map[string]any, error) {
	out := make(map[string]any, len(p.Fields))
	var verr Error
	for _, spec := range p.Fields {
		v, ok := raw[spec.Name]
		if !ok || v == nil {
			verr.Fields = append(verr.Fields, FieldError{Field: spec.Name, Reason: "missing field: " + spec.Name})
			continue
		}
		coerced, err := coerce[spec.Type](v)
		if err != nil {
			verr.Fields = append(verr.Fields, FieldError{Field: spec.Name, Reason: err.Error()})
			continue
		}
		out[spec.Name] = coerced
	}
	if len(verr.Fields) > 0 {
		return nil, &verr
	}
	return out, nil
}

// coerce maps each declared type tag to its coercion rule. JSON numbers
// arrive as float64, so integer checks go through math.Trunc.
var coerce = map[config.FieldType]func(any) (any, error){
	config.FieldString:     coerceString,
	config.FieldInteger:    coerceInteger,
	config.FieldNumber:     coerceNumber,
	config.FieldBoolean:    coerceBoolean,
	config.FieldStringList: coerceStringList,
}

func coerceString(v any) (any, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), nil
	case bool:
		return strconv.FormatBool(t), nil
	}
	return nil, fmt.Errorf("expected string, got %T", v)
}

func coerceInteger(v any) (any, error) {
	switch t := v.(type) {
	case float64:
		if t != math.Trunc(t) {
			return nil, fmt.Errorf("expected integer, got non-integral number %v", t)
		}
		return int64(t), nil
	case string:
		s := strings.TrimSpace(t)
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n, nil
		}
		return nil, fmt.Errorf("expected integer, got %q", t)
	}
	return nil, fmt.Errorf("expected integer, got %T", v)
}

func coerceNumber(v any) (any, error) {
	switch t := v.(type) {
	case float64:
		return t, nil
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(t), 64); err == nil {
			return f, nil
		}
		return nil, fmt.Errorf("expected number, got %q", t)
	}
	return nil, fmt.Errorf("expected number, got %T", v)
}

func coerceBoolean(v any) (any, error) {
	switch t := v.(type) {
	case bool:
		return t, nil
	case string:
		if b, err := strconv.ParseBool(strings.TrimSpace(t)); err == nil {
			return b, nil
		}
		return nil, fmt.Errorf("expected boolean, got %q", t)
	}
	return nil, fmt.Errorf("expected boolean, got %T", v)
}

func coerceStringList(v any) (any, error) {
	items, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("expected list of strings, got %T", v)
	}
	out := make([]string, len(items))
	for i, item := range items {
		s, err := coerceString(item)
		if err != nil {
			return nil, fmt.Errorf("list element %d: %v", i, err)
		}
		out[i] = s.(string)
	}
	return out, nil
}
