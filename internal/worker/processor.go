// Package worker drains command jobs: it takes the conversation lock, drives
// the LLM gateway and commits the result back to the pull request.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/af-corp/wall-e/internal/command"
	"github.com/af-corp/wall-e/internal/config"
	"github.com/af-corp/wall-e/internal/gateway"
	"github.com/af-corp/wall-e/internal/lock"
	"github.com/af-corp/wall-e/internal/prompt"
	"github.com/af-corp/wall-e/internal/redact"
	"github.com/af-corp/wall-e/internal/registry"
	"github.com/af-corp/wall-e/internal/telemetry"
	"github.com/af-corp/wall-e/internal/types"
	"github.com/af-corp/wall-e/internal/vcs"
)

const (
	WorkingMessage = "Working on it... ⚙️"

	maxDumpBytes = 4000
)

// Outcome is the terminal result of one job. Every outcome is acknowledged.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
	OutcomeConflict  Outcome = "conflict"
	OutcomeHelp      Outcome = "help"
	OutcomeDropped   Outcome = "dropped"
)

// Job states, logged and counted as the job moves through Process.
const (
	stateReceived     = "received"
	stateLockRejected = "lock_rejected"
	stateLockAcquired = "lock_acquired"
	stateValidating   = "validating"
	stateExecuting    = "executing"
	stateCommitting   = "committing"
	stateSucceeded    = "succeeded"
	stateFailed       = "failed"
	stateLockReleased = "lock_released"
)

// Generator is the LLM gateway as seen by the worker.
type Generator interface {
	Send(ctx context.Context, req gateway.Request, allowFallback bool) (*gateway.Response, error)
}

// TokenRecorder charges tokens against an installation's budget.
type TokenRecorder interface {
	RecordTokens(ctx context.Context, installationID, tokens int64) error
}

// Deps are the collaborators of a Processor. Budget and Metrics are optional.
type Deps struct {
	Config  config.WorkerConfig
	Prefix  string
	Catalog *registry.Catalog
	Gateway Generator
	Locks   lock.Store
	VCS     vcs.Factory
	Budget  TokenRecorder
	Metrics *telemetry.Metrics
	Logger  *slog.Logger
}

// Processor runs the per-job state machine.
type Processor struct {
	Deps
	now func() time.Time
}

func NewProcessor(deps Deps) *Processor {
	return &Processor{Deps: deps, now: time.Now}
}

// run collects what the debug block reports about one execution.
type run struct {
	options  command.Options
	provider registry.Provider
	model    registry.ModelName
	prompts  types.PromptMessages
	eventID  string
	missing  string
}

// Process handles one job to completion. Failures are reported on the pull
// request rather than returned; the caller acknowledges the message whatever
// the outcome.
func (p *Processor) Process(ctx context.Context, job types.Job) Outcome {
	start := p.now()
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = start
	}
	if job.LockID == "" {
		job.LockID = job.Context.LockID()
	}
	logger := p.Logger.With(
		"lock_id", job.LockID,
		"command", job.Command.Name,
		"installation_id", job.InstallationID,
	)
	p.state(logger, stateReceived)

	outcome := p.process(ctx, job, logger)
	p.Metrics.RecordJob(string(job.Command.Name), string(outcome), float64(p.now().Sub(job.EnqueuedAt).Milliseconds()))
	logger.Info("job finished", "outcome", outcome, "duration_ms", p.now().Sub(start).Milliseconds())
	return outcome
}

func (p *Processor) process(ctx context.Context, job types.Job, logger *slog.Logger) Outcome {
	client, err := p.VCS.ForInstallation(job.InstallationID)
	if err != nil {
		logger.Error("no source control client for installation", "error", err)
		return OutcomeDropped
	}

	switch job.Command.Name {
	case types.CommandHelp:
		p.post(ctx, client, job.Context, command.HelpText(p.Prefix, p.Catalog), logger)
		return OutcomeHelp
	case types.CommandGenerate, types.CommandImprove:
	default:
		p.post(ctx, client, job.Context, command.InvalidReply(p.Prefix), logger)
		return OutcomeDropped
	}

	guard, err := lock.Acquire(ctx, p.Locks, job.LockID)
	if errors.Is(err, lock.ErrConflict) {
		p.state(logger, stateLockRejected)
		p.Metrics.RecordLockConflict("worker")
		p.post(ctx, client, job.Context, command.ConflictReply, logger)
		return OutcomeConflict
	}
	if err != nil {
		logger.Error("lock store unavailable", "error", err)
		body := "An error occurred while processing the command. Please try again.\n\n" +
			FormatDebugInfo([]DebugField{
				{Key: "elapsed", Value: Elapsed(job.EnqueuedAt, p.now())},
				{Key: "error", Value: err.Error()},
			})
		p.post(ctx, client, job.Context, body, logger)
		return OutcomeFailed
	}
	defer func() {
		if err := guard.Release(ctx); err != nil {
			logger.Error("failed to release lock", "error", err)
			return
		}
		p.state(logger, stateLockReleased)
	}()
	p.state(logger, stateLockAcquired)

	commentID, err := client.PostComment(ctx, job.Context, WorkingMessage)
	if err != nil {
		logger.Warn("failed to post working comment", "error", err)
		commentID = 0
	}

	r := &run{}
	err = p.executeSafe(ctx, client, job, r, logger)

	outcome := OutcomeSucceeded
	if err != nil {
		outcome = OutcomeFailed
		p.state(logger, stateFailed)
		logger.Warn("job failed", "error", err)
	} else {
		p.state(logger, stateSucceeded)
	}

	body := p.summary(job, r, err) + "\n\n" + FormatDebugInfo(p.debugFields(job, r, err))
	p.reply(ctx, client, job.Context, commentID, body, logger)
	return outcome
}

func (p *Processor) executeSafe(ctx context.Context, client vcs.Client, job types.Job, r *run, logger *slog.Logger) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("panic recovered in job execution", "panic", rec)
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return p.execute(ctx, client, job, r, logger)
}

func (p *Processor) execute(ctx context.Context, client vcs.Client, job types.Job, r *run, logger *slog.Logger) error {
	p.state(logger, stateValidating)
	r.options = command.ParseArgs(job.Command.Args)
	provider := r.options.Provider
	if provider == "" && r.options.Model == "" {
		if prio := p.Catalog.Priority(); len(prio) > 0 {
			provider = string(prio[0])
		}
	}
	resolved, model, err := p.Catalog.Resolve(provider, r.options.Model)
	if err != nil {
		return err
	}
	r.provider, r.model = resolved, model

	p.state(logger, stateExecuting)
	head, err := client.PullRequestHead(ctx, job.Context)
	if err != nil {
		return fmt.Errorf("get pull request head: %w", err)
	}

	specPath := command.EnsurePath(r.options.BasePath, p.Config.SpecFile)
	outputPath := command.EnsurePath(r.options.BasePath, p.Config.OutputFile)

	spec, err := p.readInput(ctx, client, head, specPath, r)
	if err != nil {
		return err
	}

	switch job.Command.Name {
	case types.CommandImprove:
		current, err := p.readInput(ctx, client, head, outputPath, r)
		if err != nil {
			return err
		}
		r.prompts = prompt.ForImprovement(current, spec, job.Command.Extra)
	default:
		r.prompts = prompt.ForGeneration(spec)
	}

	resp, err := p.Gateway.Send(ctx, gateway.Request{
		Model:       r.model,
		Prompts:     r.prompts,
		Temperature: r.options.Temperature,
	}, r.options.Fallback)
	if err != nil {
		return err
	}
	r.provider, r.eventID = resp.Provider, resp.EventID
	if resp.Model != "" {
		r.model = resp.Model
	}
	if p.Budget != nil {
		if err := p.Budget.RecordTokens(ctx, job.InstallationID, resp.InputTokens+resp.OutputTokens); err != nil {
			logger.Warn("failed to record token usage", "error", err)
		}
	}

	code := prompt.ExtractGeneratedCode(resp.Text)
	if code == "" {
		return ErrNoCodeGenerated
	}

	p.state(logger, stateCommitting)
	if err := client.WriteFile(ctx, head, outputPath, code, p.Config.CommitMsg); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrCommitFailed, outputPath, err)
	}
	logger.Info("generated code committed", "path", outputPath, "ref", head.Ref, "provider", r.provider, "model", r.model)
	return nil
}

func (p *Processor) readInput(ctx context.Context, client vcs.Client, head vcs.Head, path string, r *run) (string, error) {
	content, err := client.ReadFile(ctx, head, path)
	if errors.Is(err, vcs.ErrNotFound) {
		r.missing = path
		return "", fmt.Errorf("%w: %s", ErrMissingInputFile, path)
	}
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return content, nil
}

// summary is the user-facing first line of the reply.
func (p *Processor) summary(job types.Job, r *run, err error) string {
	var gwErr *gateway.GatewayError
	switch {
	case err == nil && job.Command.Name == types.CommandImprove:
		return "Code improved successfully! 🎉"
	case err == nil:
		return "Code generated successfully! 🎉"
	case errors.Is(err, ErrMissingInputFile) && r.missing == command.EnsurePath(r.options.BasePath, p.Config.SpecFile):
		return fmt.Sprintf("Please change the test file (%s) in this pull request. It should contain new requirements for the code you will need me to write.", r.missing)
	case errors.Is(err, ErrMissingInputFile):
		return fmt.Sprintf("The file %s was not found in this pull request. Run `%s generate` first.", r.missing, p.Prefix)
	case errors.Is(err, registry.ErrInvalidProvider), errors.Is(err, registry.ErrInvalidModel), errors.Is(err, registry.ErrModelProviderMismatch):
		return fmt.Sprintf("%s. Please use `%s help` to see the available providers and models.", capitalize(err.Error()), p.Prefix)
	case errors.Is(err, ErrNoCodeGenerated):
		return "No code was generated. Please try again."
	case errors.Is(err, ErrCommitFailed):
		return "An error occurred while pushing the code. Please try again."
	case errors.As(err, &gwErr), errors.Is(err, gateway.ErrUnknownProvider):
		return "An error occurred while generating the code. Please try again."
	default:
		return "An error occurred while processing the command. Please try again."
	}
}

func (p *Processor) debugFields(job types.Job, r *run, err error) []DebugField {
	fields := []DebugField{{Key: "elapsed", Value: Elapsed(job.EnqueuedAt, p.now())}}
	if r.model != "" {
		fields = append(fields,
			DebugField{Key: "provider", Value: string(r.provider)},
			DebugField{Key: "model", Value: string(r.model)},
			DebugField{Key: "temperature", Value: strconv.FormatFloat(r.options.Temperature, 'f', -1, 64)},
			DebugField{Key: "fallback", Value: strconv.FormatBool(r.options.Fallback)},
		)
	}
	if r.eventID != "" {
		fields = append(fields, DebugField{Key: "event id", Value: r.eventID})
	}
	if err == nil {
		return fields
	}
	if r.prompts.User != "" {
		fields = append(fields,
			DebugField{Key: "system prompt", Value: redact.String(r.prompts.System)},
			DebugField{Key: "user prompt", Value: redact.String(r.prompts.User)},
		)
	}
	fields = append(fields, DebugField{Key: "error", Value: redact.String(err.Error())})

	var gwErr *gateway.GatewayError
	if errors.As(err, &gwErr) && len(gwErr.Params) > 0 {
		fields = append(fields, DebugField{Key: "request params", Value: redact.String(gwErr.ParamsJSON())})
	}
	var unknown *gateway.UnknownProviderError
	if errors.As(err, &unknown) && len(unknown.Events) > 0 {
		fields = append(fields, DebugField{Key: "events", Value: redact.String(unknown.Dump(maxDumpBytes))})
	}
	return fields
}

// reply edits the working comment, falling back to a new comment when there
// is none or the edit fails.
func (p *Processor) reply(ctx context.Context, client vcs.Client, conv types.Conversation, commentID int64, body string, logger *slog.Logger) {
	if commentID != 0 {
		err := client.EditComment(ctx, conv, commentID, body)
		if err == nil {
			return
		}
		logger.Warn("failed to edit working comment, posting a new one", "comment_id", commentID, "error", err)
	}
	p.post(ctx, client, conv, body, logger)
}

func (p *Processor) post(ctx context.Context, client vcs.Client, conv types.Conversation, body string, logger *slog.Logger) {
	if _, err := client.PostComment(ctx, conv, body); err != nil {
		logger.Error("failed to post comment", "error", err)
	}
}

func (p *Processor) state(logger *slog.Logger, state string) {
	p.Metrics.RecordJobState(state)
	logger.Debug("job state", "state", state)
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	if c := s[0]; c >= 'a' && c <= 'z' {
		return string(c-'a'+'A') + s[1:]
	}
	return s
}
