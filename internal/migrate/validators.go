package migrate

import (
	"fmt"

	"github.com/mattjoyce/addongw/internal/addon"
)

// DefaultValidators returns the stock validator set. Each covered action
// requires a JSON object input; resolve additionally requires a non-empty
// "url" or "id" field.
func DefaultValidators() Validators {
	v := make(Validators)

	object := Validator{Request: requireObject}
	v.Register("", addon.ActionCaptcha, object)
	v.Register("", addon.ActionSelftest, Validator{Request: allowEmpty})
	v.Register("", addon.ActionAddon, Validator{Request: allowEmpty})
	v.Register("", addon.ActionRepository, Validator{Request: allowEmpty})
	v.Register("", addon.ActionResolve, Validator{Request: validateResolve})

	return v
}

func allowEmpty(input any) (any, error) {
	if input == nil {
		return map[string]any{}, nil
	}
	return requireObject(input)
}

func requireObject(input any) (any, error) {
	obj, ok := input.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("input must be an object, got %T", input)
	}
	return obj, nil
}

func validateResolve(input any) (any, error) {
	raw, err := requireObject(input)
	if err != nil {
		return nil, err
	}
	obj := raw.(map[string]any)

	if s, ok := obj["url"].(string); ok && s != "" {
		return obj, nil
	}
	if s, ok := obj["id"].(string); ok && s != "" {
		return obj, nil
	}
	return nil, fmt.Errorf(`resolve input requires a non-empty "url" or "id"`)
}
