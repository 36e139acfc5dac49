package vcs

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"

	"github.com/bradleyfalzon/ghinstallation/v2"
	"github.com/google/go-github/v84/github"

	"github.com/af-corp/wall-e/internal/config"
	"github.com/af-corp/wall-e/internal/types"
)

// GitHub implements Client with go-github.
type GitHub struct {
	client *github.Client
}

func NewGitHub(client *github.Client) *GitHub {
	return &GitHub{client: client}
}

func (g *GitHub) PostComment(ctx context.Context, conv types.Conversation, body string) (int64, error) {
	c, _, err := g.client.Issues.CreateComment(ctx, conv.Owner, conv.Repo, conv.IssueNumber, &github.IssueComment{
		Body: github.Ptr(body),
	})
	if err != nil {
		return 0, fmt.Errorf("create comment on %s: %w", conv, err)
	}
	return c.GetID(), nil
}

func (g *GitHub) EditComment(ctx context.Context, conv types.Conversation, commentID int64, body string) error {
	_, _, err := g.client.Issues.EditComment(ctx, conv.Owner, conv.Repo, commentID, &github.IssueComment{
		Body: github.Ptr(body),
	})
	if err != nil {
		return fmt.Errorf("edit comment %d on %s: %w", commentID, conv, err)
	}
	return nil
}

func (g *GitHub) PullRequestHead(ctx context.Context, conv types.Conversation) (Head, error) {
	pr, _, err := g.client.PullRequests.Get(ctx, conv.Owner, conv.Repo, conv.IssueNumber)
	if err != nil {
		return Head{}, fmt.Errorf("get pull request %s: %w", conv, err)
	}
	head := pr.GetHead()
	if head == nil || head.GetRef() == "" {
		return Head{}, fmt.Errorf("pull request %s has no head branch", conv)
	}
	h := Head{Owner: conv.Owner, Repo: conv.Repo, Ref: head.GetRef()}
	if repo := head.GetRepo(); repo != nil && repo.GetName() != "" {
		h.Owner = repo.GetOwner().GetLogin()
		h.Repo = repo.GetName()
	}
	return h, nil
}

func (g *GitHub) ReadFile(ctx context.Context, head Head, path string) (string, error) {
	file, _, err := g.get(ctx, head, path)
	if err != nil {
		return "", err
	}
	content, err := file.GetContent()
	if err != nil {
		return "", fmt.Errorf("decode %s: %w", path, err)
	}
	return content, nil
}

// WriteFile creates or replaces path on the head branch in a single commit.
func (g *GitHub) WriteFile(ctx context.Context, head Head, path, content, message string) error {
	opts := &github.RepositoryContentFileOptions{
		Message: github.Ptr(message),
		Content: []byte(content),
		Branch:  github.Ptr(head.Ref),
	}
	existing, _, err := g.get(ctx, head, path)
	switch {
	case errors.Is(err, ErrNotFound):
		_, _, err = g.client.Repositories.CreateFile(ctx, head.Owner, head.Repo, path, opts)
	case err != nil:
		return err
	default:
		opts.SHA = github.Ptr(existing.GetSHA())
		_, _, err = g.client.Repositories.UpdateFile(ctx, head.Owner, head.Repo, path, opts)
	}
	if err != nil {
		return fmt.Errorf("commit %s to %s/%s@%s: %w", path, head.Owner, head.Repo, head.Ref, err)
	}
	return nil
}

func (g *GitHub) get(ctx context.Context, head Head, path string) (*github.RepositoryContent, *github.Response, error) {
	file, dir, resp, err := g.client.Repositories.GetContents(ctx, head.Owner, head.Repo, path,
		&github.RepositoryContentGetOptions{Ref: head.Ref})
	if err != nil {
		var ge *github.ErrorResponse
		if errors.As(err, &ge) && ge.Response != nil && ge.Response.StatusCode == http.StatusNotFound {
			return nil, resp, fmt.Errorf("%s on %s/%s@%s: %w", path, head.Owner, head.Repo, head.Ref, ErrNotFound)
		}
		return nil, resp, fmt.Errorf("get %s: %w", path, err)
	}
	if file == nil || dir != nil {
		return nil, resp, fmt.Errorf("%s is a directory: %w", path, ErrNotFound)
	}
	return file, resp, nil
}

// App builds installation clients for a GitHub App. Clients are cached per
// installation; ghinstallation refreshes their tokens.
type App struct {
	appID     int64
	key       []byte
	baseURL   string
	transport http.RoundTripper

	mu      sync.Mutex
	clients map[int64]*GitHub
}

// NewApp loads the private key from cfg.PrivateKey or cfg.PrivateKeyPath.
func NewApp(cfg config.GitHubConfig, transport http.RoundTripper) (*App, error) {
	if cfg.AppID == 0 {
		return nil, errors.New("github app_id is required")
	}
	key := []byte(cfg.PrivateKey)
	if len(key) == 0 && cfg.PrivateKeyPath != "" {
		b, err := os.ReadFile(cfg.PrivateKeyPath)
		if err != nil {
			return nil, fmt.Errorf("read github private key: %w", err)
		}
		key = b
	}
	if len(key) == 0 {
		return nil, errors.New("github private key is required")
	}
	if transport == nil {
		transport = http.DefaultTransport
	}
	return &App{
		appID:     cfg.AppID,
		key:       key,
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		transport: transport,
		clients:   make(map[int64]*GitHub),
	}, nil
}

func (a *App) ForInstallation(installationID int64) (Client, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if c, ok := a.clients[installationID]; ok {
		return c, nil
	}

	itr, err := ghinstallation.New(a.transport, a.appID, installationID, a.key)
	if err != nil {
		return nil, fmt.Errorf("github installation %d: %w", installationID, err)
	}
	gh := github.NewClient(&http.Client{Transport: itr})
	if a.baseURL != "" {
		itr.BaseURL = a.baseURL
		u, err := url.Parse(a.baseURL + "/")
		if err != nil {
			return nil, fmt.Errorf("github base url: %w", err)
		}
		gh.BaseURL = u
	}

	c := NewGitHub(gh)
	a.clients[installationID] = c
	return c, nil
}
