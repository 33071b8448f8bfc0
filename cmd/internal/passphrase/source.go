// Package passphrase resolves keystore passphrases for the daemon.
package passphrase

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
)

// ErrEmpty is returned when the resolved passphrase is blank.
var ErrEmpty = errors.New("passphrase: relay keystore passphrase cannot be empty")

// Source resolves the relay keystore passphrase from an environment variable
// or by prompting the operator. The first result is cached.
type Source struct {
	envVar string
	prompt io.Writer
	fd     int
	isTerm func(int) bool
	read   func(int) ([]byte, error)

	once  sync.Once
	value string
	err   error
}

// NewSource checks envVar before prompting on stderr.
func NewSource(envVar string) *Source {
	return &Source{
		envVar: strings.TrimSpace(envVar),
		prompt: os.Stderr,
		fd:     int(os.Stdin.Fd()),
		isTerm: term.IsTerminal,
		read:   term.ReadPassword,
	}
}

// Get returns the cached passphrase or resolves it on the first call.
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
				return "", fmt.Errorf("%w: %s is set but empty", ErrEmpty, s.envVar)
			}
			return value, nil
		}
	}
	if !s.isTerm(s.fd) {
		if s.envVar != "" {
			return "", fmt.Errorf("passphrase: relay keystore passphrase required; set %s or run interactively", s.envVar)
		}
		return "", errors.New("passphrase: relay keystore passphrase required and no terminal available")
	}
	fmt.Fprint(s.prompt, "Enter relay keystore passphrase: ")
	raw, err := s.read(s.fd)
	fmt.Fprintln(s.prompt)
	if err != nil {
		return "", fmt.Errorf("passphrase: read: %w", err)
	}
	value := string(raw)
	if strings.TrimSpace(value) == "" {
		return "", ErrEmpty
	}
	return value, nil
}
