// Package artifact stores versioned binary or text parts produced during a
// session.
package artifact

import (
	"context"
	"errors"
	"strings"

	"google.golang.org/genai"
)

// ErrNotFound is returned when an artifact or version does not exist.
var ErrNotFound = errors.New("artifact not found")

// UserScopePrefix marks filenames shared by every session of a user.
const UserScopePrefix = "user:"

// Key identifies an artifact across its versions.
type Key struct {
	AppName   string
	UserID    string
	SessionID string
	Filename  string
}

// scoped drops the session for user-scoped filenames.
func (k Key) scoped() Key {
	if strings.HasPrefix(k.Filename, UserScopePrefix) {
		k.SessionID = ""
	}
	return k
}

// Service stores artifacts. Versions start at 0 and grow by one per Save.
type Service interface {
	Save(ctx context.Context, key Key, part *genai.Part) (int, error)
	// Load returns the given version, or the latest one when version < 0.
	Load(ctx context.Context, key Key, version int) (*genai.Part, error)
	// ListKeys returns the filenames visible to a session, including
	// user-scoped ones.
	ListKeys(ctx context.Context, appName, userID, sessionID string) ([]string, error)
	Delete(ctx context.Context, key Key) error
	Versions(ctx context.Context, key Key) ([]int, error)
}

func validPart(part *genai.Part) bool {
	return part != nil && (part.Text != "" || part.InlineData != nil || part.FileData != nil)
}
