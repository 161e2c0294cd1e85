// Package executor orchestrates risk-gated tool execution: resolve the
// endpoint, pass the risk gate, build and guard the request, inject
// credentials, dispatch with timeout and bounded retry, and emit lifecycle
// events. The agent loop only ever sees ToolResults.
package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
	"google.golang.org/grpc"

	"github.com/gatehouse-io/gatehouse/pkg/catalog"
	"github.com/gatehouse-io/gatehouse/pkg/events"
	"github.com/gatehouse-io/gatehouse/pkg/riskgate"
	"github.com/gatehouse-io/gatehouse/pkg/vault"
)

// DefaultMaxInFlight bounds concurrent calls per conversation
const DefaultMaxInFlight = 5

// Options configures an Executor
type Options struct {
	// MaxInFlight caps concurrent in-flight calls per conversation
	MaxInFlight int64

	// GRPCConn is the externally managed RPC channel for grpc endpoints
	GRPCConn grpc.ClientConnInterface

	// DefaultTimeout applies when an endpoint declares none
	DefaultTimeout time.Duration
}

type suspendedCall struct {
	caller   Caller
	call     ToolCall
	endpoint catalog.Endpoint
	system   catalog.System
}

type conversationKey struct {
	conversationID string
	callID         string
}

// Executor runs tool calls end to end
type Executor struct {
	repo     catalog.Repository
	injector *vault.Injector
	gate     *riskgate.Registry
	emitter  events.Emitter
	audit    AuditSink
	logger   zerolog.Logger
	opts     Options

	transport *transport

	mu        sync.Mutex
	sems      map[string]*semaphore.Weighted
	limiters  map[string]*rate.Limiter
	suspended map[conversationKey]suspendedCall
	inflight  map[conversationKey]context.CancelFunc

	// resultHook receives the final result of every call that Execute parked
	// as StatusPending (approve, reject or expiry), so the conversation loop
	// that suspended on the confirmation gets the continuation's outcome.
	resultHook func(ToolResult)
}

// New creates an executor. The riskgate registry's expire hook is wired here
// so suspended calls resolve to confirmation_expired when their TTL lapses.
func New(repo catalog.Repository, injector *vault.Injector, gate *riskgate.Registry, emitter events.Emitter, audit AuditSink, logger zerolog.Logger, opts Options) *Executor {
	if opts.MaxInFlight <= 0 {
		opts.MaxInFlight = DefaultMaxInFlight
	}
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = 30 * time.Second
	}
	if emitter == nil {
		emitter = events.NopEmitter{}
	}
	if audit == nil {
		audit = NopAuditSink{}
	}

	ex := &Executor{
		repo:      repo,
		injector:  injector,
		gate:      gate,
		emitter:   emitter,
		audit:     audit,
		logger:    logger,
		opts:      opts,
		transport: newTransport(opts.GRPCConn),
		sems:      make(map[string]*semaphore.Weighted),
		limiters:  make(map[string]*rate.Limiter),
		suspended: make(map[conversationKey]suspendedCall),
		inflight:  make(map[conversationKey]context.CancelFunc),
	}

	logger.Info().
		Int64("max_in_flight", opts.MaxInFlight).
		Dur("default_timeout", opts.DefaultTimeout).
		Msg("Executor initialized")

	return ex
}

// SetResultHook registers a consumer for asynchronously produced results
func (ex *Executor) SetResultHook(fn func(ToolResult)) {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	ex.resultHook = fn
}

// Execute runs a single tool call. Always returns a ToolResult — guard,
// permission and transport failures come back as typed errors, never as
// panics or raw errors into the agent loop. A StatusPending result means the
// call is parked behind the confirmation gate.
func (ex *Executor) Execute(ctx context.Context, caller Caller, call ToolCall) ToolResult {
	if call.CallID == "" {
		call.CallID = uuid.NewString()
	}

	endpoint, err := ex.repo.GetEndpoint(ctx, call.EndpointID)
	if err != nil {
		return ex.finishUnstarted(caller, call, catalog.Endpoint{},
			errorResult(call.CallID, ErrKindConfiguration, "endpoint not registered"))
	}

	system, err := ex.repo.GetSystem(ctx, endpoint.SystemID)
	if err != nil {
		return ex.finishUnstarted(caller, call, endpoint,
			errorResult(call.CallID, ErrKindConfiguration, "system not registered"))
	}
	if !system.Status.Eligible() {
		return ex.finishUnstarted(caller, call, endpoint,
			errorResult(call.CallID, ErrKindConfiguration, fmt.Sprintf("system is %s", system.Status)))
	}

	if riskgate.Decide(endpoint.Risk, caller.Permissions) == riskgate.DecisionConfirm {
		return ex.park(caller, call, endpoint, system)
	}

	return ex.run(ctx, caller, call, endpoint, system)
}

// park suspends a gated call as a resumable continuation. No goroutine
// blocks on the human: control returns to the agent loop immediately and the
// call resumes when Approve or Reject arrives.
func (ex *Executor) park(caller Caller, call ToolCall, endpoint catalog.Endpoint, system catalog.System) ToolResult {
	summary := fmt.Sprintf("%s %s on %s", endpoint.Method, endpoint.Name, system.Name)

	conf, err := ex.gate.Create(call.ConversationID, call.CallID, endpoint.Risk, summary)
	if err != nil {
		if errors.Is(err, riskgate.ErrTooManyPending) {
			return ex.finishUnstarted(caller, call, endpoint,
				errorResult(call.CallID, ErrKindTooManyPending, "too many pending confirmations for this conversation"))
		}
		return ex.finishUnstarted(caller, call, endpoint,
			errorResult(call.CallID, ErrKindConfiguration, "failed to create confirmation"))
	}

	key := conversationKey{call.ConversationID, call.CallID}
	ex.mu.Lock()
	ex.suspended[key] = suspendedCall{caller: caller, call: call, endpoint: endpoint, system: system}
	ex.mu.Unlock()

	ex.emitter.Emit(events.Event{
		Type:           events.TypeConfirmation,
		CallID:         call.CallID,
		ConversationID: call.ConversationID,
		RiskLevel:      string(endpoint.Risk),
		Summary:        conf.Summary,
		ExpiresAt:      conf.ExpiresAt,
	})

	ex.logger.Info().
		Str("call", call.CallID).
		Str("risk", string(endpoint.Risk)).
		Msg("Call suspended pending confirmation")

	return ToolResult{CallID: call.CallID, Status: StatusPending}
}

// Approve resumes a suspended call after a human approve bound to the same
// (conversation, call) pair. Only then does tool_start fire.
func (ex *Executor) Approve(ctx context.Context, conversationID, callID string) ToolResult {
	_, err := ex.gate.Approve(conversationID, callID)
	if err != nil {
		return ex.gateFailure(conversationID, callID, err)
	}

	sc, ok := ex.popSuspended(conversationID, callID)
	if !ok {
		return errorResult(callID, ErrKindConfiguration, "no suspended call for confirmation")
	}

	result := ex.run(ctx, sc.caller, sc.call, sc.endpoint, sc.system)
	ex.notifyResult(result)
	return result
}

// Reject resolves a suspended call with rejected_by_user. Zero outbound
// requests are made on this path.
func (ex *Executor) Reject(conversationID, callID string) ToolResult {
	_, err := ex.gate.Reject(conversationID, callID)
	if err != nil {
		return ex.gateFailure(conversationID, callID, err)
	}

	sc, ok := ex.popSuspended(conversationID, callID)
	result := errorResult(callID, ErrKindRejected, "rejected by user")
	if ok {
		ex.recordAudit(sc.caller, sc.call, sc.endpoint, result)
		ex.notifyResult(result)
	}
	return result
}

// notifyResult hands an asynchronously produced result to the registered
// conversation-loop consumer, if any.
func (ex *Executor) notifyResult(result ToolResult) {
	ex.mu.Lock()
	hook := ex.resultHook
	ex.mu.Unlock()
	if hook != nil {
		hook(result)
	}
}

func (ex *Executor) gateFailure(conversationID, callID string, err error) ToolResult {
	switch {
	case errors.Is(err, riskgate.ErrExpired):
		ex.popSuspended(conversationID, callID)
		return errorResult(callID, ErrKindExpired, "confirmation expired")
	case errors.Is(err, riskgate.ErrNotFound), errors.Is(err, riskgate.ErrAlreadyResolved):
		return errorResult(callID, ErrKindConfiguration, "no pending confirmation for call")
	default:
		return errorResult(callID, ErrKindConfiguration, "confirmation transition failed")
	}
}

// OnConfirmationExpired is wired as the riskgate registry's expire hook
func (ex *Executor) OnConfirmationExpired(conf riskgate.Confirmation) {
	sc, ok := ex.popSuspended(conf.ConversationID, conf.CallID)
	if !ok {
		return
	}

	result := errorResult(conf.CallID, ErrKindExpired, "confirmation expired")
	ex.recordAudit(sc.caller, sc.call, sc.endpoint, result)
	ex.notifyResult(result)

	ex.logger.Info().Str("call", conf.CallID).Msg("Suspended call expired without approval")
}

// CancelConversation aborts in-flight calls and expires pending
// confirmations for a conversation. Used for teardown and user cancel.
// The conversation's semaphore is dropped here so the sems map does not
// grow with every conversation the daemon ever served.
func (ex *Executor) CancelConversation(conversationID string) {
	ex.mu.Lock()
	for key, cancel := range ex.inflight {
		if key.conversationID == conversationID {
			cancel()
		}
	}
	delete(ex.sems, conversationID)
	ex.mu.Unlock()

	ex.gate.ExpireConversation(conversationID)
}

func (ex *Executor) popSuspended(conversationID, callID string) (suspendedCall, bool) {
	key := conversationKey{conversationID, callID}
	ex.mu.Lock()
	defer ex.mu.Unlock()
	sc, ok := ex.suspended[key]
	if ok {
		delete(ex.suspended, key)
	}
	return sc, ok
}

// run executes a cleared call: concurrency cap, lifecycle events, dispatch
// with retry, audit.
func (ex *Executor) run(ctx context.Context, caller Caller, call ToolCall, endpoint catalog.Endpoint, system catalog.System) ToolResult {
	sem := ex.conversationSemaphore(call.ConversationID)
	if err := sem.Acquire(ctx, 1); err != nil {
		return ex.finishUnstarted(caller, call, endpoint,
			errorResult(call.CallID, ErrKindCancelled, "conversation cancelled"))
	}
	defer sem.Release(1)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	key := conversationKey{call.ConversationID, call.CallID}
	ex.mu.Lock()
	ex.inflight[key] = cancel
	ex.mu.Unlock()
	defer func() {
		ex.mu.Lock()
		delete(ex.inflight, key)
		ex.mu.Unlock()
	}()

	ex.emitter.Emit(events.Event{
		Type:           events.TypeToolStart,
		CallID:         call.CallID,
		ConversationID: call.ConversationID,
		ToolName:       call.ToolName,
	})

	start := time.Now()
	result := ex.dispatchWithRetry(runCtx, call, endpoint, system)
	result.LatencyMS = time.Since(start).Milliseconds()

	ex.emitter.Emit(events.Event{
		Type:           events.TypeToolEnd,
		CallID:         call.CallID,
		ConversationID: call.ConversationID,
		ToolName:       call.ToolName,
		Status:         string(result.Status),
		ErrorKind:      string(result.ErrorKind),
		DurationMS:     result.LatencyMS,
	})

	ex.recordAudit(caller, call, endpoint, result)

	return result
}

// dispatchWithRetry applies the endpoint retry policy with bounded
// exponential backoff. Only read/low_write calls are ever retried: a
// high_write or destructive call must not produce duplicate side effects
// from a single user intent, whatever the transport does.
func (ex *Executor) dispatchWithRetry(ctx context.Context, call ToolCall, endpoint catalog.Endpoint, system catalog.System) ToolResult {
	attempts := 1
	if endpoint.Risk.Retryable() && endpoint.Retry.MaxAttempts > 1 {
		attempts = endpoint.Retry.MaxAttempts
	}

	base := time.Duration(endpoint.Retry.BaseBackoffMS) * time.Millisecond
	if base <= 0 {
		base = 200 * time.Millisecond
	}
	max := time.Duration(endpoint.Retry.MaxBackoffMS) * time.Millisecond
	if max <= 0 {
		max = 5 * time.Second
	}

	var result ToolResult
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			backoff := base << (attempt - 1)
			if backoff > max {
				backoff = max
			}
			ex.logger.Debug().
				Str("call", call.CallID).
				Int("attempt", attempt+1).
				Dur("backoff", backoff).
				Msg("Retrying tool call")
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return errorResult(call.CallID, ErrKindCancelled, "conversation cancelled")
			}
		}

		result = ex.dispatchOnce(ctx, call, endpoint, system)
		if result.Status == StatusSuccess || !result.ErrorKind.retryable() {
			return result
		}
	}

	return result
}

// dispatchOnce builds, guards, authenticates and sends a single attempt
func (ex *Executor) dispatchOnce(ctx context.Context, call ToolCall, endpoint catalog.Endpoint, system catalog.System) ToolResult {
	req, kind, msg := ex.buildRequest(call, endpoint, system)
	if kind != ErrKindNone {
		return errorResult(call.CallID, kind, msg)
	}

	if ex.injector != nil {
		if err := ex.injector.Inject(ctx, req, system.Auth); err != nil {
			return errorResult(call.CallID, ErrKindAuthFailure, "credential injection failed")
		}
	}

	if lim := ex.endpointLimiter(endpoint); lim != nil {
		if err := lim.Wait(ctx); err != nil {
			return errorResult(call.CallID, ErrKindRateLimited, "endpoint rate limit exceeded")
		}
	}

	timeout := time.Duration(endpoint.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = ex.opts.DefaultTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	return ex.transport.dispatch(callCtx, call.CallID, req)
}

func (ex *Executor) conversationSemaphore(conversationID string) *semaphore.Weighted {
	ex.mu.Lock()
	defer ex.mu.Unlock()

	sem, ok := ex.sems[conversationID]
	if !ok {
		sem = semaphore.NewWeighted(ex.opts.MaxInFlight)
		ex.sems[conversationID] = sem
	}
	return sem
}

func (ex *Executor) endpointLimiter(endpoint catalog.Endpoint) *rate.Limiter {
	if endpoint.RateLimit.PerSecond <= 0 {
		return nil
	}

	ex.mu.Lock()
	defer ex.mu.Unlock()

	lim, ok := ex.limiters[endpoint.ID]
	if !ok {
		burst := endpoint.RateLimit.Burst
		if burst <= 0 {
			burst = 1
		}
		lim = rate.NewLimiter(rate.Limit(endpoint.RateLimit.PerSecond), burst)
		ex.limiters[endpoint.ID] = lim
	}
	return lim
}

// finishUnstarted records audit for calls that failed before tool_start
func (ex *Executor) finishUnstarted(caller Caller, call ToolCall, endpoint catalog.Endpoint, result ToolResult) ToolResult {
	ex.recordAudit(caller, call, endpoint, result)
	return result
}

func (ex *Executor) recordAudit(caller Caller, call ToolCall, endpoint catalog.Endpoint, result ToolResult) {
	ex.audit.Record(AuditRecord{
		CallID:       call.CallID,
		UserID:       caller.UserID,
		EndpointID:   call.EndpointID,
		Risk:         endpoint.Risk,
		Arguments:    call.Arguments,
		ResultStatus: result.Status,
		ErrorKind:    result.ErrorKind,
		Timestamp:    time.Now(),
	})
}
