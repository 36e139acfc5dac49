// Package vcs is the source-control collaborator: comments on a pull request
// and reading and committing files on its head branch.
package vcs

import (
	"context"
	"errors"

	"github.com/af-corp/wall-e/internal/types"
)

// ErrNotFound is returned by ReadFile when the path does not exist on the branch.
var ErrNotFound = errors.New("vcs: file not found")

// Head is the branch a pull request merges from. For pull requests from a
// fork, Owner and Repo name the fork.
type Head struct {
	Owner string
	Repo  string
	Ref   string
}

// Client is what the worker needs from source control, scoped to one
// installation.
type Client interface {
	PostComment(ctx context.Context, conv types.Conversation, body string) (int64, error)
	EditComment(ctx context.Context, conv types.Conversation, commentID int64, body string) error
	PullRequestHead(ctx context.Context, conv types.Conversation) (Head, error)
	ReadFile(ctx context.Context, head Head, path string) (string, error)
	WriteFile(ctx context.Context, head Head, path, content, message string) error
}

// Factory returns a Client authenticated for an installation.
type Factory interface {
	ForInstallation(installationID int64) (Client, error)
}
