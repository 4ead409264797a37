// Package auth checks the credentials a component presents in its connect
// message.
package auth

import (
	"crypto/subtle"

	"github.com/danmuck/ggipc/ggerr"
	"github.com/danmuck/ggipc/object"
)

var (
	ErrUnauthorized  = ggerr.Errorf(ggerr.Failure, "auth: unauthorized")
	ErrNoCredentials = ggerr.Errorf(ggerr.Invalid, "auth: connect payload carries no credential")
)

// Validator validates a connect credential.
type Validator interface {
	Validate(credential string) error
}

// StaticToken accepts a single shared auth token.
type StaticToken struct {
	Token string
}

func (s StaticToken) Validate(credential string) error {
	if s.Token == "" {
		return ErrUnauthorized
	}
	if subtle.ConstantTimeCompare([]byte(s.Token), []byte(credential)) != 1 {
		return ErrUnauthorized
	}
	return nil
}

// FuncValidator adapts a function into a Validator.
type FuncValidator func(credential string) error

func (f FuncValidator) Validate(credential string) error {
	return f(credential)
}

// Credential extracts the authToken, or failing that the componentName, of
// a connect payload.
func Credential(payload object.Map) (string, error) {
	for _, key := range []string{"authToken", "componentName"} {
		var v object.Value
		if err := object.ValidateMap(payload, object.Optional(key, object.TypeBuffer, &v)); err != nil {
			return "", ggerr.Errorf(ggerr.Invalid, "auth: %w", err)
		}
		if v != nil {
			return string(v.(object.Buffer)), nil
		}
	}
	return "", ErrNoCredentials
}
