package credential

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
)

// Source lazily resolves an API bearer token from an environment variable or
// by prompting the operator. The value is cached after the first successful
// retrieval.
type Source struct {
	envVar string
	prompt string

	lookup     func(string) (string, bool)
	isTerminal func(fd int) bool
	readSecret func(fd int) ([]byte, error)
	stdin      *os.File
	stderr     io.Writer

	once  sync.Once
	value string
	err   error
}

// NewSource constructs a token source that checks envVar before interactively
// prompting on the terminal with prompt.
func NewSource(envVar, prompt string) *Source {
	return &Source{
		envVar:     strings.TrimSpace(envVar),
		prompt:     prompt,
		lookup:     os.LookupEnv,
		isTerminal: term.IsTerminal,
		readSecret: term.ReadPassword,
		stdin:      os.Stdin,
		stderr:     os.Stderr,
	}
}

// Get returns the cached token or resolves it on first use. Whitespace is
// trimmed and empty tokens are rejected.
func (s *Source) Get() (string, error) {
	s.once.Do(func() {
		if s.envVar != "" {
			if value, ok := s.lookup(s.envVar); ok {
				if strings.TrimSpace(value) == "" {
					s.err = fmt.Errorf("%s is set but empty", s.envVar)
					return
				}
				s.value = strings.TrimSpace(value)
				return
			}
		}

		fd := int(s.stdin.Fd())
		if !s.isTerminal(fd) {
			if s.envVar != "" {
				s.err = fmt.Errorf("bearer token required; set %s or run interactively", s.envVar)
			} else {
				s.err = errors.New("bearer token required and no terminal available")
			}
			return
		}

		fmt.Fprint(s.stderr, s.prompt)
		raw, err := s.readSecret(fd)
		fmt.Fprintln(s.stderr)
		if err != nil {
			s.err = fmt.Errorf("failed to read token: %w", err)
			return
		}
		token := strings.TrimSpace(string(raw))
		if token == "" {
			s.err = errors.New("bearer token cannot be empty")
			return
		}
		s.value = token
	})

	return s.value, s.err
}
