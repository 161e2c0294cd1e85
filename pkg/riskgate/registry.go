package riskgate

import (
	"errors"
	"fmt"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/gatehouse-io/gatehouse/pkg/catalog"
)

// State is the lifecycle state of a confirmation
type State string

const (
	StatePending  State = "pending"
	StateApproved State = "approved"
	StateRejected State = "rejected"
	StateExpired  State = "expired"
)

const (
	// DefaultTTL is how long a pending confirmation stays actionable
	DefaultTTL = 5 * time.Minute

	// DefaultMaxPending caps concurrent pending confirmations per conversation
	DefaultMaxPending = 10
)

var (
	// ErrTooManyPending is returned when a conversation already holds the
	// maximum number of pending confirmations. No queueing: fail fast.
	ErrTooManyPending = errors.New("too many pending confirmations")

	// ErrNotFound is returned when no confirmation exists for the pair
	ErrNotFound = errors.New("confirmation not found")

	// ErrExpired is returned when the confirmation's TTL has lapsed
	ErrExpired = errors.New("confirmation expired")

	// ErrAlreadyResolved is returned on a second transition attempt
	ErrAlreadyResolved = errors.New("confirmation already resolved")
)

// Confirmation is one pending-approval record. Bound to the exact
// (call_id, conversation_id) pair it was created for; an approve from a
// different conversation can never resolve it.
type Confirmation struct {
	ID             string            `json:"id"`
	CallID         string            `json:"call_id"`
	ConversationID string            `json:"conversation_id"`
	State          State             `json:"state"`
	Risk           catalog.RiskLevel `json:"risk_level"`
	Summary        string            `json:"summary"`
	CreatedAt      time.Time         `json:"created_at"`
	ExpiresAt      time.Time         `json:"expires_at"`
}

type confirmationKey struct {
	conversationID string
	callID         string
}

// Registry is the per-conversation pending-confirmation arena. Every
// transition on a given call is a compare-and-transition under one lock:
// single writer, no ambient global state.
type Registry struct {
	mu       sync.Mutex
	byCall   map[confirmationKey]*Confirmation
	ttl      time.Duration
	max      int
	now      func() time.Time
	onExpire func(Confirmation)
	sweeper  *cron.Cron
}

// RegistryOption customizes a Registry
type RegistryOption func(*Registry)

// WithTTL overrides the pending confirmation lifetime
func WithTTL(ttl time.Duration) RegistryOption {
	return func(r *Registry) { r.ttl = ttl }
}

// WithMaxPending overrides the per-conversation pending cap
func WithMaxPending(max int) RegistryOption {
	return func(r *Registry) { r.max = max }
}

// WithClock overrides the time source, for tests
func WithClock(now func() time.Time) RegistryOption {
	return func(r *Registry) { r.now = now }
}

// WithExpireHook registers a callback fired for every confirmation that
// transitions to expired, so suspended calls can be resumed with an
// expiry result.
func WithExpireHook(fn func(Confirmation)) RegistryOption {
	return func(r *Registry) { r.onExpire = fn }
}

// NewRegistry creates a confirmation registry
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		byCall: make(map[confirmationKey]*Confirmation),
		ttl:    DefaultTTL,
		max:    DefaultMaxPending,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Create parks a call as pending. Fails fast with ErrTooManyPending when the
// conversation is already at the cap; expired entries are swept first so a
// stale confirmation never occupies a slot.
func (r *Registry) Create(conversationID, callID string, risk catalog.RiskLevel, summary string) (Confirmation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	r.sweepLocked(now)

	pending := 0
	for key, c := range r.byCall {
		if key.conversationID == conversationID && c.State == StatePending {
			pending++
		}
	}
	if pending >= r.max {
		return Confirmation{}, fmt.Errorf("%w: conversation %s has %d pending", ErrTooManyPending, conversationID, pending)
	}

	id, err := gonanoid.New()
	if err != nil {
		return Confirmation{}, fmt.Errorf("failed to generate confirmation id: %w", err)
	}

	c := &Confirmation{
		ID:             id,
		CallID:         callID,
		ConversationID: conversationID,
		State:          StatePending,
		Risk:           risk,
		Summary:        summary,
		CreatedAt:      now,
		ExpiresAt:      now.Add(r.ttl),
	}
	r.byCall[confirmationKey{conversationID, callID}] = c

	log.Info().
		Str("confirmation", c.ID).
		Str("call", callID).
		Str("conversation", conversationID).
		Str("risk", string(risk)).
		Time("expires_at", c.ExpiresAt).
		Msg("Confirmation created")

	return *c, nil
}

// Approve transitions pending → approved for the bound pair. Returns
// ErrExpired if the TTL lapsed before the approve arrived.
func (r *Registry) Approve(conversationID, callID string) (Confirmation, error) {
	return r.resolve(conversationID, callID, StateApproved)
}

// Reject transitions pending → rejected for the bound pair
func (r *Registry) Reject(conversationID, callID string) (Confirmation, error) {
	return r.resolve(conversationID, callID, StateRejected)
}

func (r *Registry) resolve(conversationID, callID string, target State) (Confirmation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := confirmationKey{conversationID, callID}
	c, ok := r.byCall[key]
	if !ok {
		return Confirmation{}, fmt.Errorf("%w: call %s in conversation %s", ErrNotFound, callID, conversationID)
	}

	if c.State != StatePending {
		return *c, fmt.Errorf("%w: state is %s", ErrAlreadyResolved, c.State)
	}

	if r.now().After(c.ExpiresAt) {
		c.State = StateExpired
		expired := *c
		delete(r.byCall, key)
		if r.onExpire != nil {
			go r.onExpire(expired)
		}
		return expired, fmt.Errorf("%w: call %s", ErrExpired, callID)
	}

	c.State = target
	resolved := *c
	delete(r.byCall, key)

	log.Info().
		Str("confirmation", resolved.ID).
		Str("call", callID).
		Str("state", string(target)).
		Msg("Confirmation resolved")

	return resolved, nil
}

// Get returns the confirmation for a pair, lazily expiring it if stale
func (r *Registry) Get(conversationID, callID string) (Confirmation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := confirmationKey{conversationID, callID}
	c, ok := r.byCall[key]
	if !ok {
		return Confirmation{}, fmt.Errorf("%w: call %s", ErrNotFound, callID)
	}

	if c.State == StatePending && r.now().After(c.ExpiresAt) {
		c.State = StateExpired
		expired := *c
		delete(r.byCall, key)
		if r.onExpire != nil {
			go r.onExpire(expired)
		}
		return expired, fmt.Errorf("%w: call %s", ErrExpired, callID)
	}

	return *c, nil
}

// PendingCount returns the number of pending confirmations for a conversation
func (r *Registry) PendingCount(conversationID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	count := 0
	for key, c := range r.byCall {
		if key.conversationID == conversationID && c.State == StatePending {
			count++
		}
	}
	return count
}

// TotalPending returns the number of pending confirmations across all
// conversations
func (r *Registry) TotalPending() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	count := 0
	for _, c := range r.byCall {
		if c.State == StatePending {
			count++
		}
	}
	return count
}

// ExpireConversation expires every pending confirmation of a conversation.
// Used for conversation teardown and cancellation.
func (r *Registry) ExpireConversation(conversationID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	expired := 0
	for key, c := range r.byCall {
		if key.conversationID != conversationID || c.State != StatePending {
			continue
		}
		c.State = StateExpired
		snapshot := *c
		delete(r.byCall, key)
		expired++
		if r.onExpire != nil {
			go r.onExpire(snapshot)
		}
	}

	if expired > 0 {
		log.Info().
			Str("conversation", conversationID).
			Int("expired", expired).
			Msg("Expired pending confirmations on conversation teardown")
	}

	return expired
}

// Sweep expires every stale pending confirmation and returns how many
func (r *Registry) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sweepLocked(r.now())
}

func (r *Registry) sweepLocked(now time.Time) int {
	expired := 0
	for key, c := range r.byCall {
		if c.State != StatePending || !now.After(c.ExpiresAt) {
			continue
		}
		c.State = StateExpired
		snapshot := *c
		delete(r.byCall, key)
		expired++
		if r.onExpire != nil {
			go r.onExpire(snapshot)
		}
	}
	if expired > 0 {
		log.Debug().Int("expired", expired).Msg("Swept stale confirmations")
	}
	return expired
}

// StartSweeper runs the periodic sweep alongside lazy expiry, so pending
// slots free up even with no registry traffic.
func (r *Registry) StartSweeper(schedule string) error {
	if schedule == "" {
		schedule = "@every 1m"
	}

	c := cron.New()
	if _, err := c.AddFunc(schedule, func() { r.Sweep() }); err != nil {
		return fmt.Errorf("failed to schedule confirmation sweep: %w", err)
	}
	c.Start()
	r.sweeper = c

	log.Info().Str("schedule", schedule).Msg("Confirmation sweeper started")
	return nil
}

// StopSweeper stops the periodic sweep
func (r *Registry) StopSweeper() {
	if r.sweeper != nil {
		r.sweeper.Stop()
		r.sweeper = nil
	}
}
