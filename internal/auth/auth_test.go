package auth

import (
	"errors"
	"testing"

	"github.com/danmuck/ggipc/ggerr"
	"github.com/danmuck/ggipc/internal/testutil/testlog"
	"github.com/danmuck/ggipc/object"
)

func TestStaticTokenValidate(t *testing.T) {
	tests := []struct {
		name    string
		stored  string
		input   string
		wantErr error
	}{
		{name: "empty token denied", stored: "", input: "abc", wantErr: ErrUnauthorized},
		{name: "mismatched token denied", stored: "abc", input: "xyz", wantErr: ErrUnauthorized},
		{name: "matching token accepted", stored: "abc", input: "abc", wantErr: nil},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			testlog.Start(t)
			err := (StaticToken{Token: tc.stored}).Validate(tc.input)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected err %v, got %v", tc.wantErr, err)
			}
			if tc.wantErr != nil && ggerr.KindOf(err) != ggerr.Failure {
				t.Fatalf("denial kind %s, want %s", ggerr.KindOf(err), ggerr.Failure)
			}
		})
	}
}

func TestFuncValidator(t *testing.T) {
	testlog.Start(t)
	validator := FuncValidator(func(credential string) error {
		if credential != "ok" {
			return ErrUnauthorized
		}
		return nil
	})

	if err := validator.Validate("bad"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized for bad token, got %v", err)
	}
	if err := validator.Validate("ok"); err != nil {
		t.Fatalf("expected success for ok token, got %v", err)
	}
}

func TestCredential(t *testing.T) {
	tests := []struct {
		name    string
		payload object.Map
		want    string
		kind    ggerr.Kind
	}{
		{name: "auth token", payload: object.NewMap(object.Pair("authToken", object.Buf("T"))), want: "T"},
		{name: "component name", payload: object.NewMap(object.Pair("componentName", object.Buf("com.example.A"))), want: "com.example.A"},
		{
			name: "token wins",
			payload: object.NewMap(
				object.Pair("componentName", object.Buf("com.example.A")),
				object.Pair("authToken", object.Buf("T")),
			),
			want: "T",
		},
		{name: "empty payload", payload: object.Map{}, kind: ggerr.Invalid},
		{name: "wrong type", payload: object.NewMap(object.Pair("authToken", object.Int64(1))), kind: ggerr.Invalid},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			testlog.Start(t)
			got, err := Credential(tc.payload)
			if ggerr.KindOf(err) != tc.kind {
				t.Fatalf("kind %s, want %s (err %v)", ggerr.KindOf(err), tc.kind, err)
			}
			if got != tc.want {
				t.Fatalf("credential %q, want %q", got, tc.want)
			}
		})
	}
}
