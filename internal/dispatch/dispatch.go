// Package dispatch turns GitHub issue_comment webhooks into queued command
// jobs. It never does the work itself.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/go-github/v84/github"

	"github.com/af-corp/wall-e/internal/command"
	"github.com/af-corp/wall-e/internal/httputil"
	"github.com/af-corp/wall-e/internal/lock"
	"github.com/af-corp/wall-e/internal/policy"
	"github.com/af-corp/wall-e/internal/ratelimit"
	"github.com/af-corp/wall-e/internal/telemetry"
	"github.com/af-corp/wall-e/internal/types"
	"github.com/af-corp/wall-e/internal/vcs"
)

const IndexPage = "<h2>Nothing to see here...</h2>"

// Result is what happened to one webhook delivery.
type Result string

const (
	ResultIgnored     Result = "ignored"
	ResultInvalid     Result = "invalid"
	ResultDenied      Result = "denied"
	ResultRateLimited Result = "rate_limited"
	ResultDuplicate   Result = "duplicate"
	ResultEnqueued    Result = "enqueued"
)

// Enqueuer puts a job on the queue and returns its entry id.
type Enqueuer interface {
	Enqueue(ctx context.Context, job types.Job) (string, error)
}

// Authorizer decides whether an actor may run a command.
type Authorizer interface {
	Authorize(ctx context.Context, input policy.Input) policy.Decision
}

// Throttle applies per-installation limits before a command is queued.
type Throttle interface {
	Allow(ctx context.Context, installationID int64) ratelimit.Decision
}

// Deps are the dispatcher's collaborators. Locks, Policy and Throttle are
// optional.
type Deps struct {
	Secret   []byte
	Prefix   string
	Queue    Enqueuer
	Locks    lock.Store
	VCS      vcs.Factory
	Policy   Authorizer
	Throttle Throttle
	Metrics  *telemetry.Metrics
	Logger   *slog.Logger
}

type Dispatcher struct {
	Deps
}

func New(deps Deps) *Dispatcher {
	deps.Logger = deps.Logger.With("component", "dispatch")
	return &Dispatcher{Deps: deps}
}

// Register mounts GET / and POST /webhooks/github on r.
func (d *Dispatcher) Register(r chi.Router) {
	r.Get("/", Index)
	r.Post("/webhooks/github", d.ServeWebhook)
}

// Index answers the root path for anyone who opens the app URL in a browser.
func Index(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(IndexPage))
}

type webhookResponse struct {
	OK     bool   `json:"ok"`
	Result Result `json:"result"`
	JobID  string `json:"job_id,omitempty"`
}

func (d *Dispatcher) ServeWebhook(w http.ResponseWriter, r *http.Request) {
	reqID := w.Header().Get("X-Request-ID")
	event := github.WebHookType(r)

	payload, err := github.ValidatePayload(r, d.Secret)
	if err != nil {
		d.Logger.Warn("webhook rejected", "request_id", reqID, "event", event, "error", err)
		d.Metrics.RecordWebhook(event, "invalid_signature")
		httputil.WriteAuthError(w, reqID, "invalid webhook signature")
		return
	}

	if event != "issue_comment" {
		d.Metrics.RecordWebhook(event, string(ResultIgnored))
		httputil.WriteJSON(w, http.StatusOK, webhookResponse{OK: true, Result: ResultIgnored})
		return
	}

	parsed, err := github.ParseWebHook(event, payload)
	if err != nil {
		d.Metrics.RecordWebhook(event, "malformed")
		httputil.WriteBadRequestError(w, reqID, "malformed webhook payload")
		return
	}
	ev, ok := parsed.(*github.IssueCommentEvent)
	if !ok {
		d.Metrics.RecordWebhook(event, "malformed")
		httputil.WriteBadRequestError(w, reqID, "unexpected webhook payload")
		return
	}

	result, jobID, err := d.Dispatch(r.Context(), ev)
	if err != nil {
		d.Logger.Error("dispatch failed", "request_id", reqID, "delivery", r.Header.Get("X-GitHub-Delivery"), "error", err)
		d.Metrics.RecordWebhook(event, "error")
		httputil.WriteInternalError(w, reqID, "An error occurred while processing the request. Check the logs for more information.")
		return
	}
	d.Metrics.RecordWebhook(event, string(result))

	status := http.StatusOK
	if result == ResultEnqueued {
		status = http.StatusAccepted
	}
	httputil.WriteJSON(w, status, webhookResponse{OK: true, Result: result, JobID: jobID})
}

// Dispatch filters one comment event and queues its command. Only comments
// created by a human on a pull request that start with the prefix are
// considered. An error is returned only when the job could not be queued.
func (d *Dispatcher) Dispatch(ctx context.Context, ev *github.IssueCommentEvent) (Result, string, error) {
	comment := ev.GetComment()
	if ev.GetAction() != "created" ||
		comment.GetUser().GetType() != "User" ||
		!ev.GetIssue().IsPullRequest() ||
		!command.IsAddressed(comment.GetBody(), d.Prefix) {
		return ResultIgnored, "", nil
	}

	conv := types.Conversation{
		Owner:       ev.GetRepo().GetOwner().GetLogin(),
		Repo:        ev.GetRepo().GetName(),
		IssueNumber: ev.GetIssue().GetNumber(),
	}
	installationID := ev.GetInstallation().GetID()
	logger := d.Logger.With("conversation", conv.String(), "installation_id", installationID, "actor", comment.GetUser().GetLogin())

	cmd, err := command.Parse(comment.GetBody(), d.Prefix)
	if err != nil {
		logger.Info("invalid command", "error", err)
		d.Metrics.RecordCommandReject("invalid")
		d.reply(ctx, installationID, conv, command.InvalidReply(d.Prefix), logger)
		return ResultInvalid, "", nil
	}
	logger = logger.With("command", cmd.Name)

	if cmd.Name != types.CommandHelp {
		if result, ok := d.admit(ctx, ev, cmd, conv, logger); !ok {
			return result, "", nil
		}
	}

	job := types.Job{
		Command:        cmd,
		Context:        conv,
		InstallationID: installationID,
		LockID:         conv.LockID(),
	}
	id, err := d.Queue.Enqueue(ctx, job)
	if err != nil {
		return "", "", fmt.Errorf("enqueue %s for %s: %w", cmd.Name, conv, err)
	}
	logger.Info("command enqueued", "job_id", id)
	return ResultEnqueued, id, nil
}

// admit runs the policy, throttle and duplicate checks for commands that do
// work. A rejected command gets a reply explaining why.
func (d *Dispatcher) admit(ctx context.Context, ev *github.IssueCommentEvent, cmd types.Command, conv types.Conversation, logger *slog.Logger) (Result, bool) {
	installationID := ev.GetInstallation().GetID()

	if d.Policy != nil {
		opts := command.ParseArgs(cmd.Args)
		decision := d.Policy.Authorize(ctx, policy.Input{
			Actor: policy.Actor{
				Login:       ev.GetComment().GetUser().GetLogin(),
				Association: ev.GetComment().GetAuthorAssociation(),
			},
			Repository: policy.Repository{Owner: conv.Owner, Name: conv.Repo},
			Command:    policy.Command{Name: string(cmd.Name), Provider: opts.Provider, Model: opts.Model},
		})
		if !decision.Allowed {
			logger.Info("command denied by policy", "reason", decision.Reason)
			d.Metrics.RecordCommandReject("policy")
			d.reply(ctx, installationID, conv, fmt.Sprintf("Sorry, `%s %s` is not allowed here: %s.", d.Prefix, cmd.Name, decision.Reason), logger)
			return ResultDenied, false
		}
	}

	if d.Throttle != nil {
		if decision := d.Throttle.Allow(ctx, installationID); !decision.Allowed {
			d.Metrics.RecordCommandReject(decision.Reason)
			d.reply(ctx, installationID, conv, decision.Message, logger)
			return ResultRateLimited, false
		}
	}

	if d.Locks != nil {
		running, err := d.Locks.Held(ctx, conv.LockID())
		switch {
		case err != nil:
			// the worker's acquire still serializes; queue anyway
			logger.Warn("duplicate check failed", "error", err)
		case running:
			d.Metrics.RecordLockConflict("dispatch")
			d.Metrics.RecordCommandReject("duplicate")
			d.reply(ctx, installationID, conv, command.ConflictReply, logger)
			return ResultDuplicate, false
		}
	}
	return "", true
}

func (d *Dispatcher) reply(ctx context.Context, installationID int64, conv types.Conversation, body string, logger *slog.Logger) {
	if d.VCS == nil {
		return
	}
	client, err := d.VCS.ForInstallation(installationID)
	if err == nil {
		_, err = client.PostComment(ctx, conv, body)
	}
	if err != nil {
		logger.Error("failed to post reply", "error", err)
	}
}
