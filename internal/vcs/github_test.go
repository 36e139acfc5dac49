package vcs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"

	"github.com/google/go-github/v84/github"

	"github.com/af-corp/wall-e/internal/config"
	"github.com/af-corp/wall-e/internal/types"
)

var conv = types.Conversation{Owner: "acme", Repo: "app", IssueNumber: 7}

func newTestGitHub(t *testing.T, mux *http.ServeMux) *GitHub {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	gh := github.NewClient(srv.Client())
	u, _ := url.Parse(srv.URL + "/")
	gh.BaseURL = u
	return NewGitHub(gh)
}

func decodeBody(t *testing.T, r *http.Request) map[string]any {
	t.Helper()
	var body map[string]any
	data, _ := io.ReadAll(r.Body)
	if err := json.Unmarshal(data, &body); err != nil {
		t.Fatalf("decode request body: %v", err)
	}
	return body
}

func TestGitHub_Comments(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /repos/acme/app/issues/7/comments", func(w http.ResponseWriter, r *http.Request) {
		if got := decodeBody(t, r)["body"]; got != "Working on it... ⚙️" {
			t.Errorf("unexpected comment body %v", got)
		}
		w.WriteHeader(http.StatusCreated)
		io.WriteString(w, `{"id": 555}`)
	})
	mux.HandleFunc("PATCH /repos/acme/app/issues/comments/555", func(w http.ResponseWriter, r *http.Request) {
		if got := decodeBody(t, r)["body"]; got != "done" {
			t.Errorf("unexpected edit body %v", got)
		}
		io.WriteString(w, `{"id": 555}`)
	})
	g := newTestGitHub(t, mux)

	id, err := g.PostComment(context.Background(), conv, "Working on it... ⚙️")
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	if id != 555 {
		t.Errorf("expected id 555, got %d", id)
	}
	if err := g.EditComment(context.Background(), conv, id, "done"); err != nil {
		t.Fatalf("edit: %v", err)
	}
}

func TestGitHub_PullRequestHead(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /repos/acme/app/pulls/7", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"number":7,"head":{"ref":"feature/x","repo":{"name":"app-fork","owner":{"login":"contrib"}}}}`)
	})
	mux.HandleFunc("GET /repos/acme/app/pulls/8", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"number":8,"head":{"ref":"main"}}`)
	})
	g := newTestGitHub(t, mux)

	head, err := g.PullRequestHead(context.Background(), conv)
	if err != nil {
		t.Fatal(err)
	}
	if head != (Head{Owner: "contrib", Repo: "app-fork", Ref: "feature/x"}) {
		t.Errorf("unexpected head %+v", head)
	}

	head, err = g.PullRequestHead(context.Background(), types.Conversation{Owner: "acme", Repo: "app", IssueNumber: 8})
	if err != nil {
		t.Fatal(err)
	}
	if head != (Head{Owner: "acme", Repo: "app", Ref: "main"}) {
		t.Errorf("head without repo should fall back to the base repo, got %+v", head)
	}
}

func TestGitHub_ReadFile(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /repos/acme/app/contents/test/index.spec.ts", func(w http.ResponseWriter, r *http.Request) {
		if ref := r.URL.Query().Get("ref"); ref != "feature" {
			t.Errorf("expected ref=feature, got %q", ref)
		}
		content := base64.StdEncoding.EncodeToString([]byte("it('works')"))
		io.WriteString(w, `{"type":"file","encoding":"base64","sha":"abc","content":"`+content+`"}`)
	})
	mux.HandleFunc("GET /repos/acme/app/contents/missing.ts", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		io.WriteString(w, `{"message":"Not Found"}`)
	})
	mux.HandleFunc("GET /repos/acme/app/contents/src", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `[{"type":"file","name":"index.ts"}]`)
	})
	mux.HandleFunc("GET /repos/acme/app/contents/broken.ts", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		io.WriteString(w, `{"message":"boom"}`)
	})
	g := newTestGitHub(t, mux)
	head := Head{Owner: "acme", Repo: "app", Ref: "feature"}

	got, err := g.ReadFile(context.Background(), head, "test/index.spec.ts")
	if err != nil {
		t.Fatal(err)
	}
	if got != "it('works')" {
		t.Errorf("unexpected content %q", got)
	}

	if _, err := g.ReadFile(context.Background(), head, "missing.ts"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := g.ReadFile(context.Background(), head, "src"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for a directory, got %v", err)
	}
	_, err = g.ReadFile(context.Background(), head, "broken.ts")
	if err == nil || errors.Is(err, ErrNotFound) {
		t.Errorf("expected a non-404 error, got %v", err)
	}
}

func TestGitHub_WriteFile(t *testing.T) {
	var mu sync.Mutex
	calls := map[string]map[string]any{}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /repos/acme/app/contents/src/index.ts", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"type":"file","encoding":"base64","sha":"old-sha","content":""}`)
	})
	mux.HandleFunc("GET /repos/acme/app/contents/src/new.ts", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		io.WriteString(w, `{"message":"Not Found"}`)
	})
	record := func(name string) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			mu.Lock()
			calls[name] = decodeBody(t, r)
			mu.Unlock()
			io.WriteString(w, `{"content":{"sha":"new-sha"}}`)
		}
	}
	mux.HandleFunc("PUT /repos/acme/app/contents/src/index.ts", record("update"))
	mux.HandleFunc("PUT /repos/acme/app/contents/src/new.ts", record("create"))
	g := newTestGitHub(t, mux)
	head := Head{Owner: "acme", Repo: "app", Ref: "feature"}

	if err := g.WriteFile(context.Background(), head, "src/index.ts", "code", "feat: generated code 🤖"); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := g.WriteFile(context.Background(), head, "src/new.ts", "code", "msg"); err != nil {
		t.Fatalf("create: %v", err)
	}

	update := calls["update"]
	if update["sha"] != "old-sha" {
		t.Errorf("update should carry the existing sha, got %v", update["sha"])
	}
	if update["branch"] != "feature" {
		t.Errorf("expected branch feature, got %v", update["branch"])
	}
	if update["message"] != "feat: generated code 🤖" {
		t.Errorf("unexpected message %v", update["message"])
	}
	if update["content"] != base64.StdEncoding.EncodeToString([]byte("code")) {
		t.Errorf("unexpected content %v", update["content"])
	}
	if _, ok := calls["create"]["sha"]; ok {
		t.Error("create must not send a sha")
	}
}

func TestGitHub_WriteFileRejected(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /repos/acme/app/contents/src/index.ts", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		io.WriteString(w, `{"message":"Not Found"}`)
	})
	mux.HandleFunc("PUT /repos/acme/app/contents/src/index.ts", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		io.WriteString(w, `{"message":"is at a different sha"}`)
	})
	g := newTestGitHub(t, mux)

	err := g.WriteFile(context.Background(), Head{Owner: "acme", Repo: "app", Ref: "f"}, "src/index.ts", "x", "m")
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestNewApp(t *testing.T) {
	if _, err := NewApp(config.GitHubConfig{}, nil); err == nil {
		t.Error("expected error without app id")
	}
	if _, err := NewApp(config.GitHubConfig{AppID: 1}, nil); err == nil {
		t.Error("expected error without private key")
	}
	if _, err := NewApp(config.GitHubConfig{AppID: 1, PrivateKeyPath: "/nonexistent/key.pem"}, nil); err == nil {
		t.Error("expected error for unreadable key file")
	}
	app, err := NewApp(config.GitHubConfig{AppID: 1, PrivateKey: "not a key"}, nil)
	if err != nil {
		t.Fatalf("NewApp: %v", err)
	}
	if _, err := app.ForInstallation(2); err == nil {
		t.Error("expected error for an invalid private key")
	}
}
