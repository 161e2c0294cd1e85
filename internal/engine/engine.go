// Package engine wires the catalog, tool factory, risk gate and executor
// into the per-turn surface the agent loop consumes.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/gatehouse-io/gatehouse/internal/config"
	"github.com/gatehouse-io/gatehouse/pkg/catalog"
	"github.com/gatehouse-io/gatehouse/pkg/events"
	"github.com/gatehouse-io/gatehouse/pkg/executor"
	"github.com/gatehouse-io/gatehouse/pkg/riskgate"
	"github.com/gatehouse-io/gatehouse/pkg/toolset"
	"github.com/gatehouse-io/gatehouse/pkg/vault"
)

// Engine ties the engine components together behind one construction site
type Engine struct {
	repo   catalog.Repository
	cfg    *config.Manager
	gate   *riskgate.Registry
	exec   *executor.Executor
	bus    *events.Bus
	logger zerolog.Logger
}

// New assembles the engine. The riskgate expire hook is wired into the
// executor so suspended calls resolve when their confirmations lapse.
func New(repo catalog.Repository, cfgMgr *config.Manager, v vault.Vault, audit executor.AuditSink, logger zerolog.Logger, opts executor.Options) *Engine {
	cfg := cfgMgr.Current()

	bus := events.NewBus(logger)

	// Expired confirmations resume their suspended calls with an expiry
	// result instead of leaking them. The executor does not exist yet when
	// the registry is built, so the hook indirects through a pointer.
	var exec *executor.Executor
	gate := riskgate.NewRegistry(
		riskgate.WithTTL(time.Duration(cfg.Confirmation.TTLMinutes)*time.Minute),
		riskgate.WithMaxPending(cfg.Confirmation.MaxPending),
		riskgate.WithExpireHook(func(c riskgate.Confirmation) {
			if exec != nil {
				exec.OnConfirmationExpired(c)
			}
		}),
	)

	injector := vault.NewInjector(v, logger)

	if opts.MaxInFlight <= 0 {
		opts.MaxInFlight = cfg.Executor.MaxInFlightPerConversation
	}
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = time.Duration(cfg.Executor.DefaultTimeoutSeconds) * time.Second
	}

	exec = executor.New(repo, injector, gate, bus, audit, logger, opts)

	return &Engine{
		repo:   repo,
		cfg:    cfgMgr,
		gate:   gate,
		exec:   exec,
		bus:    bus,
		logger: logger,
	}
}

// Start begins the periodic confirmation sweep
func (e *Engine) Start() error {
	return e.gate.StartSweeper(e.cfg.Current().Confirmation.SweepSchedule)
}

// Stop shuts background work down
func (e *Engine) Stop() {
	e.gate.StopSweeper()
}

// Bus exposes the lifecycle event bus for transports
func (e *Engine) Bus() *events.Bus { return e.bus }

// Executor exposes the underlying executor for approval plumbing
func (e *Engine) Executor() *executor.Executor { return e.exec }

// Gate exposes the confirmation registry
func (e *Engine) Gate() *riskgate.Registry { return e.gate }

// Turn is one agent turn's immutable tool snapshot. Resolution happens once
// per turn — not re-checked mid-flight — so an administrator toggling the
// whitelist mid-turn cannot race calls already issued against the snapshot.
type Turn struct {
	engine     *Engine
	caller     executor.Caller
	tools      []toolset.ToolDefinition
	byEndpoint map[string]*toolset.ToolDefinition
}

// BeginTurn snapshots the tool set visible to the caller for one turn
func (e *Engine) BeginTurn(ctx context.Context, caller executor.Caller, scopes *toolset.AccessScopes) (*Turn, error) {
	endpoints, err := e.repo.ListEndpoints(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list endpoints: %w", err)
	}
	systems, err := e.repo.ListSystems(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list systems: %w", err)
	}

	enabled := make(map[string]bool, len(systems))
	for _, s := range systems {
		enabled[s.ID] = s.AgentEnabled
	}

	tools := toolset.Resolve(endpoints, systems, toolset.ResolveOptions{
		Permissions:  caller.Permissions,
		Scopes:       scopes,
		Mode:         e.cfg.AccessMode(),
		AgentEnabled: enabled,
	})

	byEndpoint := make(map[string]*toolset.ToolDefinition, len(tools))
	for i := range tools {
		byEndpoint[tools[i].EndpointID] = &tools[i]
	}

	e.logger.Debug().
		Str("user", caller.UserID).
		Int("tools", len(tools)).
		Msg("Turn tool snapshot resolved")

	return &Turn{engine: e, caller: caller, tools: tools, byEndpoint: byEndpoint}, nil
}

// Tools returns the agent-visible tool definitions of this turn
func (t *Turn) Tools() []toolset.ToolDefinition {
	return t.tools
}

// Execute validates a call against the turn snapshot and runs it. Calls
// against endpoints outside the snapshot fail as configuration errors — the
// tool was never visible, so the agent has nothing legitimate to reference.
// The agent loop always gets a ToolResult back: unexpected failures inside
// the pipeline are caught here and reported as a generic unavailability.
func (t *Turn) Execute(ctx context.Context, call executor.ToolCall) (result executor.ToolResult) {
	defer func() {
		if r := recover(); r != nil {
			t.engine.logger.Error().
				Interface("panic", r).
				Str("call_id", call.CallID).
				Str("endpoint", call.EndpointID).
				Msg("Tool call pipeline failure")
			result = executor.ToolResult{
				CallID:    call.CallID,
				Status:    executor.StatusError,
				ErrorKind: executor.ErrKindConfiguration,
				Message:   "tool execution unavailable",
			}
		}
	}()
	def, ok := t.byEndpoint[call.EndpointID]
	if !ok {
		return executor.ToolResult{
			CallID:    call.CallID,
			Status:    executor.StatusError,
			ErrorKind: executor.ErrKindConfiguration,
			Message:   "endpoint not available",
		}
	}

	args := map[string]interface{}{}
	if len(call.Arguments.Path) > 0 {
		path := make(map[string]interface{}, len(call.Arguments.Path))
		for k, v := range call.Arguments.Path {
			path[k] = v
		}
		args["path"] = path
	}
	if len(call.Arguments.Query) > 0 {
		query := make(map[string]interface{}, len(call.Arguments.Query))
		for k, v := range call.Arguments.Query {
			query[k] = v
		}
		args["query"] = query
	}
	if len(call.Arguments.Body) > 0 {
		args["body"] = call.Arguments.Body
	}

	if err := def.ValidateArguments(args); err != nil {
		return executor.ToolResult{
			CallID:    call.CallID,
			Status:    executor.StatusError,
			ErrorKind: executor.ErrKindInvalidArgument,
			Message:   err.Error(),
		}
	}

	call.ToolName = def.Name
	return t.engine.exec.Execute(ctx, t.caller, call)
}
