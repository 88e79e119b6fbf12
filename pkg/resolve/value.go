/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package resolve

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrNotString is returned when a value was configured with something other
// than a string.
var ErrNotString = errors.New("value is not a string")

// Producer computes a value on demand.
type Producer func(ctx context.Context) (string, error)

type kind int

const (
	kindUnset kind = iota
	kindLiteral
	kindProducer
	kindInvalid
)

// Value is either a literal string or a producer that is invoked when the
// value is resolved. The zero Value is unset.
type Value struct {
	kind     kind
	literal  string
	producer Producer
	// describes the producer (or the offending literal) in logs
	source string
}

// Literal returns a Value that always resolves to s.
func Literal(s string) Value {
	return Value{kind: kindLiteral, literal: s}
}

// Func returns a Value that invokes p each time it is resolved.
func Func(p Producer) Value {
	if p == nil {
		return Value{}
	}
	return Value{kind: kindProducer, producer: p, source: "func"}
}

// Invalid returns a Value that was configured with a non-string literal.
// Resolving it always fails with ErrNotString.
func Invalid(raw string) Value {
	return Value{kind: kindInvalid, source: raw}
}

// IsSet reports whether the value was configured at all.
func (v Value) IsSet() bool { return v.kind != kindUnset }

// IsProducer reports whether resolving the value runs a producer.
func (v Value) IsProducer() bool { return v.kind == kindProducer }

// Resolve returns the literal, or runs the producer once and returns its
// result. An unset Value resolves to "".
func (v Value) Resolve(ctx context.Context) (string, error) {
	switch v.kind {
	case kindLiteral:
		return v.literal, nil
	case kindProducer:
		s, err := v.producer(ctx)
		if err != nil {
			return "", fmt.Errorf("producer %s: %w", v.source, err)
		}
		return s, nil
	case kindInvalid:
		return "", fmt.Errorf("%w: %s", ErrNotString, v.source)
	default:
		return "", nil
	}
}

// String renders the value without running any producer.
func (v Value) String() string {
	switch v.kind {
	case kindLiteral:
		return v.literal
	case kindProducer:
		return "<producer " + v.source + ">"
	case kindInvalid:
		return "<invalid " + v.source + ">"
	default:
		return "<unset>"
	}
}

// LogValue implements slog.LogValuer.
func (v Value) LogValue() slog.Value {
	return slog.StringValue(v.String())
}

// Redacted wraps a Value so it can be logged without exposing a literal.
type Redacted Value

// LogValue implements slog.LogValuer.
func (r Redacted) LogValue() slog.Value {
	v := Value(r)
	if v.kind == kindLiteral {
		return slog.StringValue("<redacted>")
	}
	return v.LogValue()
}
