package secret

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
)

// Source lazily resolves a secret from an environment variable or by
// prompting the operator without echo. The value is cached after the first
// successful retrieval so every use in a CLI session shares the same secret.
type Source struct {
	envVar string
	prompt string

	once  sync.Once
	value string
	err   error
}

// NewSource constructs a source that checks envVar before interactively
// prompting on the terminal. The prompt names the secret in messages, e.g.
// "RPC bearer token".
func NewSource(envVar, prompt string) *Source {
	return &Source{
		envVar: strings.TrimSpace(envVar),
		prompt: strings.TrimSpace(prompt),
	}
}

// Get returns the cached secret or resolves it on first call.
func (s *Source) Get() (string, error) {
	s.once.Do(func() {
		s.value, s.err = s.resolve()
	})
	return s.value, s.err
}

func (s *Source) resolve() (string, error) {
	if s.envVar != "" {
		if value, ok := os.LookupEnv(s.envVar); ok {
			if strings.TrimSpace(value) == "" {
				return "", fmt.Errorf("%s is set but empty", s.envVar)
			}
			return value, nil
		}
	}

	if !term.IsTerminal(int(os.Stdin.Fd())) {
		if s.envVar != "" {
			return "", fmt.Errorf("%s required; set %s or run interactively", s.prompt, s.envVar)
		}
		return "", errors.New(s.prompt + " required and no terminal available")
	}

	fmt.Fprintf(os.Stderr, "%s: ", s.prompt)
	raw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", s.prompt, err)
	}
	if strings.TrimSpace(string(raw)) == "" {
		return "", fmt.Errorf("%s cannot be empty", s.prompt)
	}
	return string(raw), nil
}
