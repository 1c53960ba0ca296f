package config

import (
	"fmt"
	"net/mail"
	"os"

	"coursetracker/internal/course"

	"github.com/titanous/json5"
)

func readJson5[T any](path string) (T, error) {
	var out T
	contents, err := os.ReadFile(path)
	if err != nil {
		return out, fmt.Errorf("%w: read %s: %w", ErrConfig, path, err)
	}
	err = json5.Unmarshal(contents, &out)
	if err != nil {
		return out, fmt.Errorf("%w: parse %s: %w", ErrConfig, path, err)
	}
	return out, nil
}

// LoadDeclarations reads the subscriber declarations, keyed by an arbitrary
// declaration id.
func LoadDeclarations(path string) (map[string]course.Declaration, error) {
	decls, err := readJson5[map[string]course.Declaration](path)
	if err != nil {
		return nil, err
	}
	for id, decl := range decls {
		if decl.Subject == "" {
			return nil, fmt.Errorf("%w: declaration '%s' has no subject", ErrConfig, id)
		}
		_, err := mail.ParseAddress(decl.Email)
		if err != nil {
			return nil, fmt.Errorf("%w: declaration '%s' email: %w", ErrConfig, id, err)
		}
	}
	return decls, nil
}

func LoadTerms(path string) (course.TermMap, error) {
	terms, err := readJson5[course.TermMap](path)
	if err != nil {
		return nil, err
	}
	for label, code := range terms {
		if code == "" {
			return nil, fmt.Errorf("%w: term '%s' has an empty code", ErrConfig, label)
		}
	}
	return terms, nil
}

// LoadSkeleton reads both inputs and builds the initial snapshot from them.
func (c Config) LoadSkeleton() (course.Snapshot, error) {
	decls, err := LoadDeclarations(c.Paths.Subscribers)
	if err != nil {
		return nil, err
	}
	terms, err := LoadTerms(c.Paths.Terms)
	if err != nil {
		return nil, err
	}
	snap, err := course.BuildSkeleton(decls, terms)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfig, err)
	}
	return snap, nil
}
