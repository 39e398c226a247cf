// Package bridge executes script payloads inside an embedded web session
// and decodes their results under a uniform error contract.
//
// Scripts run in a sandboxed page context that cannot raise across the
// boundary, so injected payloads catch their own exceptions and return
// them as data: a JSON object whose top-level "__error" field is a string
// is an error by contract, never a real result. The bridge re-raises such
// payloads as a typed ScriptError on this side.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// errorKey is the reserved top-level field scripts use to smuggle thrown
// exceptions back across the sandbox boundary.
const errorKey = "__error"

// ErrInvalidResponse indicates a script returned structurally invalid
// data: not an error payload, but not the expected shape either. This is
// a parse-class failure and must never be treated as auth-class.
var ErrInvalidResponse = errors.New("bridge: invalid script response")

// ScriptError is an exception raised inside the script context, carried
// back as data and re-raised here. Callers classify these by message to
// decide whether the failure is auth-class.
type ScriptError struct {
	Message string
}

func (e *ScriptError) Error() string {
	return "bridge: script failed: " + e.Message
}

// ScriptRunner evaluates a script inside a live session and returns its
// JSON-serialized result.
type ScriptRunner interface {
	Evaluate(ctx context.Context, script string) (string, error)
}

// Bridge wraps a ScriptRunner with the JSON/boolean decoding contract.
type Bridge struct {
	runner ScriptRunner
}

// New returns a bridge over the given runner.
func New(runner ScriptRunner) *Bridge {
	return &Bridge{runner: runner}
}

// RunJSONScript executes a script and returns its raw JSON result.
// A payload carrying the reserved error key is converted to a ScriptError.
func (b *Bridge) RunJSONScript(ctx context.Context, script string) (string, error) {
	raw, err := b.runner.Evaluate(ctx, script)
	if err != nil {
		return "", fmt.Errorf("run script: %w", err)
	}
	if msg, ok := smuggledError(raw); ok {
		return "", &ScriptError{Message: msg}
	}
	return raw, nil
}

// DecodeJSONScript executes a script and strictly decodes its result into T.
// Error payloads surface as ScriptError; anything that fails to decode as T
// surfaces as ErrInvalidResponse. The two are deliberately distinct: only
// script failures are candidates for auth-class classification.
func DecodeJSONScript[T any](ctx context.Context, b *Bridge, script string) (T, error) {
	var out T
	raw, err := b.RunJSONScript(ctx, script)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return out, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	return out, nil
}

// RunBooleanScript executes a script expected to return a boolean. It
// fails closed: any error, error payload, or non-boolean result is false.
// Used for login-status probes, where "cannot determine" must be treated
// as "not logged in".
func (b *Bridge) RunBooleanScript(ctx context.Context, script string) bool {
	raw, err := b.RunJSONScript(ctx, script)
	if err != nil {
		return false
	}
	var result bool
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return false
	}
	return result
}

// smuggledError reports whether raw is an error payload, returning the
// carried message. Only a top-level object with a string __error field
// qualifies.
func smuggledError(raw string) (string, bool) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &probe); err != nil {
		return "", false
	}
	field, ok := probe[errorKey]
	if !ok {
		return "", false
	}
	var msg string
	if err := json.Unmarshal(field, &msg); err != nil {
		return "", false
	}
	return msg, true
}
