// Package auth answers ACP authenticate requests. warden never stores
// credentials itself; it checks that the LLM provider can find them.
package auth

import (
	"context"
	"os"

	"github.com/m4xw311/warden/errors"
)

var (
	ErrUnknownMethod     = errors.Sentinel("unknown authentication method")
	ErrMissingCredential = errors.Sentinel("credential not available")
)

type Method struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Authenticator is the credential collaborator of the protocol server.
type Authenticator interface {
	Methods() []Method
	Authenticate(ctx context.Context, methodID string) error
}

type envMethod struct {
	Method
	// any of these variables satisfies the method
	vars []string
}

var providerMethods = map[string]envMethod{
	"anthropic": {Method{ID: "anthropic-api-key", Name: "Anthropic API key", Description: "Reads ANTHROPIC_API_KEY"}, []string{"ANTHROPIC_API_KEY"}},
	"openai":    {Method{ID: "openai-api-key", Name: "OpenAI API key", Description: "Reads OPENAI_API_KEY"}, []string{"OPENAI_API_KEY"}},
	"gemini":    {Method{ID: "gemini-api-key", Name: "Gemini API key", Description: "Reads GEMINI_API_KEY"}, []string{"GEMINI_API_KEY"}},
	"bedrock":   {Method{ID: "aws-credentials", Name: "AWS credentials", Description: "Uses the AWS profile or access key from the environment"}, []string{"AWS_ACCESS_KEY_ID", "AWS_PROFILE", "AWS_WEB_IDENTITY_TOKEN_FILE"}},
}

// EnvAuthenticator offers the environment-variable method of the configured
// LLM provider.
type EnvAuthenticator struct {
	Provider string
	// Lookup defaults to os.LookupEnv.
	Lookup func(string) (string, bool)
}

func (a EnvAuthenticator) Methods() []Method {
	m, ok := providerMethods[a.Provider]
	if !ok {
		return nil
	}
	return []Method{m.Method}
}

func (a EnvAuthenticator) Authenticate(ctx context.Context, methodID string) error {
	m, ok := providerMethods[a.Provider]
	if !ok || m.ID != methodID {
		return errors.Wrapf(ErrUnknownMethod, "%s", methodID)
	}
	lookup := a.Lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}
	for _, v := range m.vars {
		if val, ok := lookup(v); ok && val != "" {
			return nil
		}
	}
	return errors.Wrapf(ErrMissingCredential, "%s: set %s", methodID, m.vars[0])
}

// NoopAuthenticator has no methods and accepts none. Used with the mock LLM.
type NoopAuthenticator struct{}

func (NoopAuthenticator) Methods() []Method { return nil }

func (NoopAuthenticator) Authenticate(ctx context.Context, methodID string) error {
	return errors.Wrapf(ErrUnknownMethod, "%s", methodID)
}

// For picks the authenticator for an LLM provider name.
func For(provider string) Authenticator {
	if _, ok := providerMethods[provider]; ok {
		return EnvAuthenticator{Provider: provider}
	}
	return NoopAuthenticator{}
}
