// Package history persists conversations: ordered lists of role-tagged
// messages under an opaque conversation id. No business logic lives
// here.
package history

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"llmhub/internal/chat"
)

// Conversation is one stored conversation row.
type Conversation struct {
	ID        string
	Title     string
	CreatedAt time.Time
	Messages  []chat.Message
}

// Summary is a listing entry without the message payload.
type Summary struct {
	ID        string
	Title     string
	CreatedAt time.Time
}

// Store is the interface for conversation persistence. Title updates
// and message writes target different columns; concurrent writers are
// last-write-wins per field.
type Store interface {
	Create(ctx context.Context, title string, messages []chat.Message) (*Conversation, error)
	Get(ctx context.Context, id string) (*Conversation, error)
	List(ctx context.Context, limit, offset int) ([]Summary, error)
	ReplaceMessages(ctx context.Context, id string, messages []chat.Message) error
	AppendMessage(ctx context.Context, id string, msg chat.Message) error
	UpdateTitle(ctx context.Context, id, title string) error
	Delete(ctx context.Context, id string) error
	Close() error
}

// GetDataDir returns the XDG data directory for llmhub.
// Uses $XDG_DATA_HOME if set, otherwise ~/.local/share.
func GetDataDir() (string, error) {
	if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
		return filepath.Join(xdgData, "llmhub"), nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "llmhub"), nil
}

// DefaultDBPath returns the path to the conversations database.
func DefaultDBPath() (string, error) {
	dataDir, err := GetDataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dataDir, "conversations.db"), nil
}
