// Package policy decides, with OPA, who may run which command in which repository.
package policy

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/af-corp/wall-e/internal/config"
	"github.com/open-policy-agent/opa/rego"
)

const query = "[data.walle.commands.allow, data.walle.commands.reason]"

// Input is the document sent to OPA for evaluation.
type Input struct {
	Actor      Actor      `json:"actor"`
	Repository Repository `json:"repository"`
	Command    Command    `json:"command"`
	Time       Time       `json:"time"`
}

type Actor struct {
	Login string `json:"login"`
	// Association is GitHub's author_association, e.g. OWNER, MEMBER, CONTRIBUTOR.
	Association string `json:"association"`
}

type Repository struct {
	Owner string `json:"owner"`
	Name  string `json:"name"`
}

type Command struct {
	Name     string `json:"name"`
	Provider string `json:"provider,omitempty"`
	Model    string `json:"model,omitempty"`
}

type Time struct {
	Hour int    `json:"hour"`
	Day  string `json:"day"`
}

// Decision is the outcome of a policy evaluation.
type Decision struct {
	Allowed bool
	Reason  string
}

// Evaluator evaluates command policies. Policies are swapped atomically on Load.
type Evaluator struct {
	mu       sync.RWMutex
	prepared *rego.PreparedEvalQuery
	cfg      func() config.PolicyConfig
	logger   *slog.Logger
	now      func() time.Time
}

// NewEvaluator creates a policy evaluator. Call Load to compile policies.
func NewEvaluator(cfg func() config.PolicyConfig, logger *slog.Logger) *Evaluator {
	return &Evaluator{cfg: cfg, logger: logger, now: time.Now}
}

func (e *Evaluator) Enabled() bool { return e != nil && e.cfg().Enabled }

// Load compiles Rego modules from the bundle path.
func (e *Evaluator) Load() error {
	cfg := e.cfg()
	modules, err := readBundle(cfg.BundlePath)
	if err != nil {
		return fmt.Errorf("load rego files: %w", err)
	}
	if len(modules) == 0 {
		e.logger.Warn("no rego files found", "path", cfg.BundlePath)
		return nil
	}
	if err := e.LoadFromModules(modules); err != nil {
		return err
	}
	e.logger.Info("opa policies loaded", "modules", len(modules))
	return nil
}

// Reload recompiles policies, keeping the previous set on failure. It is
// registered with the config loader's OnReload.
func (e *Evaluator) Reload() {
	if !e.Enabled() {
		return
	}
	if err := e.Load(); err != nil {
		e.logger.Error("policy reload failed, keeping previous policies", "error", err)
	}
}

// LoadFromModules compiles policies from provided module sources.
func (e *Evaluator) LoadFromModules(modules map[string]string) error {
	opts := []func(*rego.Rego){rego.Query(query)}
	for name, src := range modules {
		opts = append(opts, rego.Module(name, src))
	}

	prepared, err := rego.New(opts...).PrepareForEval(context.Background())
	if err != nil {
		return fmt.Errorf("prepare rego: %w", err)
	}

	e.mu.Lock()
	e.prepared = &prepared
	e.mu.Unlock()
	return nil
}

// Evaluate runs the policy against the given input.
func (e *Evaluator) Evaluate(ctx context.Context, input Input) (bool, string, error) {
	e.mu.RLock()
	prepared := e.prepared
	e.mu.RUnlock()

	if prepared == nil {
		// No policies loaded, fail closed
		return false, "no policies loaded", nil
	}

	timeout := e.cfg().EvaluationTimeout
	if timeout == 0 {
		timeout = 100 * time.Millisecond
	}

	evalCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	results, err := prepared.Eval(evalCtx, rego.EvalInput(input))
	if err != nil {
		return false, fmt.Sprintf("policy evaluation error: %v", err), err
	}

	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return false, "no policy result", nil
	}

	// Result is [allow, reason]
	arr, ok := results[0].Expressions[0].Value.([]interface{})
	if !ok || len(arr) < 2 {
		return false, "unexpected policy result format", nil
	}

	allowed, _ := arr[0].(bool)
	reason, _ := arr[1].(string)

	return allowed, reason, nil
}

// Authorize evaluates input stamped with the current UTC time. A disabled
// evaluator allows everything; evaluation errors deny.
func (e *Evaluator) Authorize(ctx context.Context, input Input) Decision {
	if !e.Enabled() {
		return Decision{Allowed: true}
	}

	now := e.now().UTC()
	input.Time = Time{Hour: now.Hour(), Day: now.Weekday().String()}

	allowed, reason, err := e.Evaluate(ctx, input)
	if err != nil {
		e.logger.Error("policy evaluation failed", "error", err)
		return Decision{Reason: "policy evaluation failed"}
	}
	return Decision{Allowed: allowed, Reason: reason}
}
