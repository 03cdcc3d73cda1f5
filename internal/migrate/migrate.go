// Package migrate adapts older request/response shapes to the current addon
// handler contract, and validates inputs where no migration applies.
package migrate

import (
	"fmt"

	"github.com/mattjoyce/addongw/internal/addon"
	"github.com/mattjoyce/addongw/internal/auth"
)

// Context is shared scratch state between the request and response halves of
// one migration. Data written by the request half is visible to the response
// half of the same request.
type Context struct {
	Addon addon.Addon
	User  *auth.User
	Data  map[string]any
}

// NewContext creates a migration context for one request.
func NewContext(a addon.Addon, user *auth.User) *Context {
	return &Context{
		Addon: a,
		User:  user,
		Data:  make(map[string]any),
	}
}

// RequestFunc transforms an action input before the handler runs.
type RequestFunc func(mc *Context, input any) (any, error)

// ResponseFunc transforms the handler output. input is the migrated input
// the handler actually saw.
type ResponseFunc func(mc *Context, input, output any) (any, error)

// Migration is a versioned transform pair for one action. Either half may be
// nil, in which case that half passes values through unchanged.
type Migration struct {
	Request  RequestFunc
	Response ResponseFunc
}

// Table maps action names to migrations.
type Table map[string]Migration

// Validator is the default schema check applied when no migration covers an
// action. Either half may be nil.
type Validator struct {
	Request  func(input any) (any, error)
	Response func(output any) (any, error)
}

// Validators maps (addonType, action) to default validators. An entry with
// an empty addon type applies to every type.
type Validators map[validatorKey]Validator

type validatorKey struct {
	addonType string
	action    string
}

// Register adds a validator for (addonType, action). addonType may be empty
// to match any type.
func (v Validators) Register(addonType, action string, val Validator) {
	v[validatorKey{addonType, action}] = val
}

func (v Validators) lookup(addonType, action string) (Validator, bool) {
	if val, ok := v[validatorKey{addonType, action}]; ok {
		return val, true
	}
	val, ok := v[validatorKey{"", action}]
	return val, ok
}

// Pair is the resolved transform pair the pipeline runs: the request half
// before the handler, the response half after.
type Pair struct {
	Request  RequestFunc
	Response ResponseFunc
}

// Resolve yields the transform pair for an action: the table's migration
// when one exists, otherwise the default validator for (addonType, action),
// otherwise a permissive passthrough.
func Resolve(table Table, validators Validators, addonType, action string) Pair {
	if m, ok := table[action]; ok {
		return Pair{
			Request:  orPassRequest(m.Request),
			Response: orPassResponse(m.Response),
		}
	}

	if val, ok := validators.lookup(addonType, action); ok {
		return Pair{
			Request: func(_ *Context, input any) (any, error) {
				if val.Request == nil {
					return input, nil
				}
				out, err := val.Request(input)
				if err != nil {
					return nil, fmt.Errorf("validate %s request: %w", action, err)
				}
				return out, nil
			},
			Response: func(_ *Context, _ any, output any) (any, error) {
				if val.Response == nil {
					return output, nil
				}
				out, err := val.Response(output)
				if err != nil {
					return nil, fmt.Errorf("validate %s response: %w", action, err)
				}
				return out, nil
			},
		}
	}

	return Pair{Request: passRequest, Response: passResponse}
}

func passRequest(_ *Context, input any) (any, error)         { return input, nil }
func passResponse(_ *Context, _ any, output any) (any, error) { return output, nil }

func orPassRequest(fn RequestFunc) RequestFunc {
	if fn == nil {
		return passRequest
	}
	return fn
}

func orPassResponse(fn ResponseFunc) ResponseFunc {
	if fn == nil {
		return passResponse
	}
	return fn
}
