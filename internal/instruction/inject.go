// Package instruction fills session state and artifacts into instruction
// templates.
package instruction

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/metalagman/adkx/internal/artifact"
	"github.com/metalagman/adkx/internal/session"
)

var (
	// ErrMissingVariable is returned for a required state key that is unset.
	ErrMissingVariable = errors.New("context variable not found")
	// ErrMissingArtifact is returned for a required artifact that does not
	// exist.
	ErrMissingArtifact = errors.New("artifact not found")
	// ErrArtifactServiceMissing is returned when a template references an
	// artifact but no artifact service is configured.
	ErrArtifactServiceMissing = errors.New("artifact service is not initialized")
)

// missingError reports a missing placeholder source with the exact message
// shown to template authors.
type missingError struct {
	kind error
	msg  string
}

func (e *missingError) Error() string { return e.msg }

func (e *missingError) Unwrap() error { return e.kind }

const artifactPrefix = "artifact."

var placeholder = regexp.MustCompile(`{+[^{}]*}+`)

// Source is what a template can read.
type Source struct {
	State     map[string]any
	Artifacts artifact.Service
	AppName   string
	UserID    string
	SessionID string
}

// Inject replaces {key}, {key?} and {artifact.name} placeholders. Keys that
// are not valid state names are left untouched. A trailing '?' makes the
// placeholder optional; missing optional values render empty.
func Inject(ctx context.Context, template string, src Source) (string, error) {
	var firstErr error
	out := placeholder.ReplaceAllStringFunc(template, func(match string) string {
		if firstErr != nil {
			return match
		}
		value, err := resolve(ctx, match, src)
		if err != nil {
			firstErr = err
			return match
		}
		return value
	})
	if firstErr != nil {
		return "", firstErr
	}
	return out, nil
}

func resolve(ctx context.Context, match string, src Source) (string, error) {
	name := strings.TrimSpace(strings.TrimRight(strings.TrimLeft(match, "{"), "}"))
	optional := strings.HasSuffix(name, "?")
	name = strings.TrimSuffix(name, "?")

	if file, ok := strings.CutPrefix(name, artifactPrefix); ok {
		if src.Artifacts == nil {
			return "", ErrArtifactServiceMissing
		}
		part, err := src.Artifacts.Load(ctx, artifact.Key{
			AppName: src.AppName, UserID: src.UserID, SessionID: src.SessionID, Filename: file,
		}, -1)
		if errors.Is(err, artifact.ErrNotFound) {
			if optional {
				return "", nil
			}
			return "", &missingError{kind: ErrMissingArtifact, msg: fmt.Sprintf("Artifact %s not found.", file)}
		}
		if err != nil {
			return "", fmt.Errorf("load artifact %s: %w", file, err)
		}
		if part.Text != "" {
			return part.Text, nil
		}
		if part.InlineData != nil {
			return string(part.InlineData.Data), nil
		}
		return "", nil
	}

	if !validStateName(name) {
		return match, nil
	}
	v, ok := src.State[name]
	if !ok {
		if optional {
			return "", nil
		}
		return "", &missingError{kind: ErrMissingVariable, msg: fmt.Sprintf("Context variable not found: `%s`.", name)}
	}
	if v == nil {
		return "", nil
	}
	return fmt.Sprint(v), nil
}

func validStateName(name string) bool {
	parts := strings.Split(name, ":")
	switch len(parts) {
	case 1:
		return isIdentifier(name)
	case 2:
		prefix := parts[0] + ":"
		if prefix == session.AppPrefix || prefix == session.UserPrefix || prefix == session.TempPrefix {
			return isIdentifier(parts[1])
		}
	}
	return false
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		if r == '_' || unicode.IsLetter(r) || (i > 0 && unicode.IsDigit(r)) {
			continue
		}
		return false
	}
	return true
}
