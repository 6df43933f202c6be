package auth

import (
	"context"
	"errors"
	"testing"
)

func env(vals map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := vals[k]
		return v, ok
	}
}

func TestEnvAuthenticator(t *testing.T) {
	tests := []struct {
		name     string
		provider string
		method   string
		env      map[string]string
		wantErr  error
	}{
		{"key set", "anthropic", "anthropic-api-key", map[string]string{"ANTHROPIC_API_KEY": "k"}, nil},
		{"key empty", "anthropic", "anthropic-api-key", map[string]string{"ANTHROPIC_API_KEY": ""}, ErrMissingCredential},
		{"key missing", "openai", "openai-api-key", nil, ErrMissingCredential},
		{"wrong method", "openai", "gemini-api-key", map[string]string{"GEMINI_API_KEY": "k"}, ErrUnknownMethod},
		{"aws profile", "bedrock", "aws-credentials", map[string]string{"AWS_PROFILE": "dev"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := EnvAuthenticator{Provider: tt.provider, Lookup: env(tt.env)}
			err := a.Authenticate(context.Background(), tt.method)
			if tt.wantErr == nil && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestFor(t *testing.T) {
	if m := For("gemini").Methods(); len(m) != 1 || m[0].ID != "gemini-api-key" {
		t.Errorf("gemini methods = %+v", m)
	}
	a := For("mock")
	if len(a.Methods()) != 0 {
		t.Errorf("mock methods = %+v", a.Methods())
	}
	if err := a.Authenticate(context.Background(), "anything"); !errors.Is(err, ErrUnknownMethod) {
		t.Errorf("err = %v", err)
	}
}
