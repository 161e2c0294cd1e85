package executor

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatehouse-io/gatehouse/pkg/catalog"
	"github.com/gatehouse-io/gatehouse/pkg/events"
	"github.com/gatehouse-io/gatehouse/pkg/protocol"
	"github.com/gatehouse-io/gatehouse/pkg/riskgate"
	"github.com/gatehouse-io/gatehouse/pkg/vault"
)

// collectEmitter records emitted events for ordering assertions
type collectEmitter struct {
	mu     sync.Mutex
	events []events.Event
}

func (c *collectEmitter) Emit(e events.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
}

func (c *collectEmitter) types() []events.Type {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]events.Type, 0, len(c.events))
	for _, e := range c.events {
		out = append(out, e.Type)
	}
	return out
}

// collectAudit records audit records
type collectAudit struct {
	mu      sync.Mutex
	records []AuditRecord
}

func (c *collectAudit) Record(rec AuditRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = append(c.records, rec)
}

func (c *collectAudit) last() (AuditRecord, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.records) == 0 {
		return AuditRecord{}, false
	}
	return c.records[len(c.records)-1], true
}

type fixture struct {
	exec    *Executor
	gate    *riskgate.Registry
	emitter *collectEmitter
	audit   *collectAudit
}

func newFixture(t *testing.T, baseURL string, endpoints []catalog.Endpoint, gateOpts ...riskgate.RegistryOption) *fixture {
	t.Helper()

	systems := []catalog.System{{
		ID:      "sys-1",
		Name:    "orders",
		BaseURL: baseURL,
		Status:  catalog.StatusActive,
		Auth:    catalog.AuthConfig{Type: catalog.AuthNone},
	}}
	repo := catalog.NewStaticRepository(systems, endpoints)

	emitter := &collectEmitter{}
	sink := &collectAudit{}
	gate := riskgate.NewRegistry(gateOpts...)
	injector := vault.NewInjector(nil, zerolog.Nop())

	exec := New(repo, injector, gate, emitter, sink, zerolog.Nop(), Options{})

	return &fixture{exec: exec, gate: gate, emitter: emitter, audit: sink}
}

func readEndpoint(path string) catalog.Endpoint {
	return catalog.Endpoint{
		ID:       "ep-read",
		SystemID: "sys-1",
		Name:     "get_order",
		Method:   "GET",
		Path:     path,
		Protocol: catalog.ProtocolREST,
		Risk:     catalog.RiskRead,
	}
}

func writeEndpoint(risk catalog.RiskLevel) catalog.Endpoint {
	return catalog.Endpoint{
		ID:       "ep-write",
		SystemID: "sys-1",
		Name:     "refund",
		Method:   "POST",
		Path:     "/refunds",
		Protocol: catalog.ProtocolREST,
		Risk:     risk,
	}
}

func TestExecute_ReadRunsImmediately(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"id":"42"}`))
	}))
	defer srv.Close()

	f := newFixture(t, srv.URL, []catalog.Endpoint{readEndpoint("/orders/{id}")})

	result := f.exec.Execute(context.Background(), Caller{UserID: "u-1"}, ToolCall{
		CallID:         "call-1",
		ConversationID: "conv-1",
		EndpointID:     "ep-read",
		ToolName:       "orders_get_order",
		Arguments:      protocol.Arguments{Path: map[string]string{"id": "42"}},
	})

	assert.Equal(t, StatusSuccess, result.Status)
	assert.Equal(t, http.StatusOK, result.HTTPStatus)
	assert.Equal(t, `{"id":"42"}`, result.Body)
	assert.EqualValues(t, 1, atomic.LoadInt32(&hits))

	// tool_start before tool_end, no confirmation for a read.
	assert.Equal(t, []events.Type{events.TypeToolStart, events.TypeToolEnd}, f.emitter.types())
}

func TestExecute_HighWriteIsGated(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
	}))
	defer srv.Close()

	f := newFixture(t, srv.URL, []catalog.Endpoint{writeEndpoint(catalog.RiskHighWrite)})

	call := ToolCall{
		CallID:         "call-1",
		ConversationID: "conv-1",
		EndpointID:     "ep-write",
	}
	result := f.exec.Execute(context.Background(), Caller{UserID: "u-1", Permissions: []string{"catalog:write"}}, call)

	require.Equal(t, StatusPending, result.Status)
	assert.EqualValues(t, 0, atomic.LoadInt32(&hits), "no outbound request before approval")

	types := f.emitter.types()
	require.Len(t, types, 1)
	assert.Equal(t, events.TypeConfirmation, types[0])

	// Reject synthesizes a result with zero outbound calls made.
	rejected := f.exec.Reject("conv-1", "call-1")
	assert.Equal(t, StatusError, rejected.Status)
	assert.Equal(t, ErrKindRejected, rejected.ErrorKind)
	assert.EqualValues(t, 0, atomic.LoadInt32(&hits))
}

func TestExecute_ApproveResumesCall(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	f := newFixture(t, srv.URL, []catalog.Endpoint{writeEndpoint(catalog.RiskHighWrite)})

	call := ToolCall{CallID: "call-1", ConversationID: "conv-1", EndpointID: "ep-write"}
	pending := f.exec.Execute(context.Background(), Caller{UserID: "u-1"}, call)
	require.Equal(t, StatusPending, pending.Status)

	result := f.exec.Approve(context.Background(), "conv-1", "call-1")
	assert.Equal(t, StatusSuccess, result.Status)
	assert.Equal(t, http.StatusCreated, result.HTTPStatus)
	assert.EqualValues(t, 1, atomic.LoadInt32(&hits))

	// confirmation precedes tool_start; tool_start fires only after approve.
	assert.Equal(t, []events.Type{events.TypeConfirmation, events.TypeToolStart, events.TypeToolEnd}, f.emitter.types())
}

func TestExecute_ApproveFromWrongConversationFails(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
	}))
	defer srv.Close()

	f := newFixture(t, srv.URL, []catalog.Endpoint{writeEndpoint(catalog.RiskHighWrite)})

	call := ToolCall{CallID: "call-1", ConversationID: "conv-1", EndpointID: "ep-write"}
	require.Equal(t, StatusPending, f.exec.Execute(context.Background(), Caller{}, call).Status)

	result := f.exec.Approve(context.Background(), "conv-other", "call-1")
	assert.Equal(t, StatusError, result.Status)
	assert.Equal(t, ErrKindConfiguration, result.ErrorKind)
	assert.EqualValues(t, 0, atomic.LoadInt32(&hits))
}

func TestExecute_DestructiveGatedEvenWithWildcard(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	f := newFixture(t, srv.URL, []catalog.Endpoint{writeEndpoint(catalog.RiskDestructive)})

	result := f.exec.Execute(context.Background(), Caller{UserID: "admin", Permissions: []string{"*"}}, ToolCall{
		CallID:         "call-1",
		ConversationID: "conv-1",
		EndpointID:     "ep-write",
	})

	assert.Equal(t, StatusPending, result.Status)
}

func TestExecute_HighWriteWithWildcardRunsImmediately(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	f := newFixture(t, srv.URL, []catalog.Endpoint{writeEndpoint(catalog.RiskHighWrite)})

	result := f.exec.Execute(context.Background(), Caller{UserID: "admin", Permissions: []string{"*"}}, ToolCall{
		CallID:         "call-1",
		ConversationID: "conv-1",
		EndpointID:     "ep-write",
	})

	assert.Equal(t, StatusSuccess, result.Status)
}

func TestExecute_UnsafePathBlockedWithZeroOutbound(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
	}))
	defer srv.Close()

	f := newFixture(t, srv.URL, []catalog.Endpoint{readEndpoint("/orders/{id}")})

	result := f.exec.Execute(context.Background(), Caller{UserID: "u-1"}, ToolCall{
		CallID:         "call-1",
		ConversationID: "conv-1",
		EndpointID:     "ep-read",
		Arguments:      protocol.Arguments{Path: map[string]string{"id": "../../evil.com/steal"}},
	})

	assert.Equal(t, StatusError, result.Status)
	assert.Equal(t, ErrKindUnsafeURL, result.ErrorKind)
	assert.EqualValues(t, 0, atomic.LoadInt32(&hits))

	// The user-facing message never explains the detection heuristic.
	assert.NotContains(t, result.Message, "..")
	assert.NotContains(t, result.Message, "traversal")
}

func TestExecute_RetriesReadOn5xx(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	endpoint := readEndpoint("/orders/{id}")
	endpoint.Retry = catalog.RetryPolicy{MaxAttempts: 3, BaseBackoffMS: 1, MaxBackoffMS: 5}

	f := newFixture(t, srv.URL, []catalog.Endpoint{endpoint})

	result := f.exec.Execute(context.Background(), Caller{}, ToolCall{
		CallID:         "call-1",
		ConversationID: "conv-1",
		EndpointID:     "ep-read",
		Arguments:      protocol.Arguments{Path: map[string]string{"id": "42"}},
	})

	assert.Equal(t, StatusSuccess, result.Status)
	assert.EqualValues(t, 3, atomic.LoadInt32(&hits))
}

func TestExecute_NeverRetriesHighWrite(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	endpoint := writeEndpoint(catalog.RiskHighWrite)
	endpoint.Retry = catalog.RetryPolicy{MaxAttempts: 3, BaseBackoffMS: 1, MaxBackoffMS: 5}

	f := newFixture(t, srv.URL, []catalog.Endpoint{endpoint})

	// Wildcard caller clears the gate; the retry policy must still not apply.
	result := f.exec.Execute(context.Background(), Caller{Permissions: []string{"*"}}, ToolCall{
		CallID:         "call-1",
		ConversationID: "conv-1",
		EndpointID:     "ep-write",
	})

	assert.Equal(t, StatusError, result.Status)
	assert.Equal(t, ErrKindHTTP5xx, result.ErrorKind)
	assert.EqualValues(t, 1, atomic.LoadInt32(&hits), "high_write must never be auto-retried")
}

func TestExecute_4xxIsNotRetried(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	endpoint := readEndpoint("/orders/{id}")
	endpoint.Retry = catalog.RetryPolicy{MaxAttempts: 3, BaseBackoffMS: 1, MaxBackoffMS: 5}

	f := newFixture(t, srv.URL, []catalog.Endpoint{endpoint})

	result := f.exec.Execute(context.Background(), Caller{}, ToolCall{
		CallID:         "call-1",
		ConversationID: "conv-1",
		EndpointID:     "ep-read",
		Arguments:      protocol.Arguments{Path: map[string]string{"id": "42"}},
	})

	assert.Equal(t, ErrKindHTTP4xx, result.ErrorKind)
	assert.Equal(t, http.StatusNotFound, result.HTTPStatus)
	assert.EqualValues(t, 1, atomic.LoadInt32(&hits))
}

func TestExecute_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(2 * time.Second)
	}))
	defer srv.Close()

	endpoint := readEndpoint("/orders/{id}")
	endpoint.TimeoutSeconds = 1

	f := newFixture(t, srv.URL, []catalog.Endpoint{endpoint})

	result := f.exec.Execute(context.Background(), Caller{}, ToolCall{
		CallID:         "call-1",
		ConversationID: "conv-1",
		EndpointID:     "ep-read",
		Arguments:      protocol.Arguments{Path: map[string]string{"id": "42"}},
	})

	assert.Equal(t, StatusError, result.Status)
	assert.Equal(t, ErrKindTimeout, result.ErrorKind)
}

func TestExecute_UnknownEndpointIsConfigurationError(t *testing.T) {
	f := newFixture(t, "https://api.example.com", nil)

	result := f.exec.Execute(context.Background(), Caller{}, ToolCall{
		CallID:         "call-1",
		ConversationID: "conv-1",
		EndpointID:     "ep-ghost",
	})

	assert.Equal(t, StatusError, result.Status)
	assert.Equal(t, ErrKindConfiguration, result.ErrorKind)
}

func TestExecute_PendingCapSurfacesTypedResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	f := newFixture(t, srv.URL, []catalog.Endpoint{writeEndpoint(catalog.RiskHighWrite)},
		riskgate.WithMaxPending(1))

	first := f.exec.Execute(context.Background(), Caller{}, ToolCall{
		CallID: "call-1", ConversationID: "conv-1", EndpointID: "ep-write",
	})
	require.Equal(t, StatusPending, first.Status)

	second := f.exec.Execute(context.Background(), Caller{}, ToolCall{
		CallID: "call-2", ConversationID: "conv-1", EndpointID: "ep-write",
	})
	assert.Equal(t, StatusError, second.Status)
	assert.Equal(t, ErrKindTooManyPending, second.ErrorKind)
}

func TestExecute_CancelConversationExpiresPending(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	f := newFixture(t, srv.URL, []catalog.Endpoint{writeEndpoint(catalog.RiskHighWrite)})

	pending := f.exec.Execute(context.Background(), Caller{}, ToolCall{
		CallID: "call-1", ConversationID: "conv-1", EndpointID: "ep-write",
	})
	require.Equal(t, StatusPending, pending.Status)

	f.exec.CancelConversation("conv-1")

	assert.Equal(t, 0, f.gate.PendingCount("conv-1"))

	result := f.exec.Approve(context.Background(), "conv-1", "call-1")
	assert.Equal(t, StatusError, result.Status)
}

func TestExecute_AuditRecordedWithResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	f := newFixture(t, srv.URL, []catalog.Endpoint{readEndpoint("/orders/{id}")})

	f.exec.Execute(context.Background(), Caller{UserID: "u-9"}, ToolCall{
		CallID:         "call-1",
		ConversationID: "conv-1",
		EndpointID:     "ep-read",
		Arguments:      protocol.Arguments{Path: map[string]string{"id": "42"}},
	})

	rec, ok := f.audit.last()
	require.True(t, ok)
	assert.Equal(t, "call-1", rec.CallID)
	assert.Equal(t, "u-9", rec.UserID)
	assert.Equal(t, catalog.RiskRead, rec.Risk)
	assert.Equal(t, StatusSuccess, rec.ResultStatus)
}

func TestApprove_DeliversResultThroughHook(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	f := newFixture(t, srv.URL, []catalog.Endpoint{writeEndpoint(catalog.RiskHighWrite)})

	var mu sync.Mutex
	var delivered []ToolResult
	f.exec.SetResultHook(func(r ToolResult) {
		mu.Lock()
		delivered = append(delivered, r)
		mu.Unlock()
	})

	pending := f.exec.Execute(context.Background(), Caller{UserID: "u-1"}, ToolCall{
		CallID:         "call-1",
		ConversationID: "conv-1",
		EndpointID:     "ep-write",
	})
	require.Equal(t, StatusPending, pending.Status)

	// Nothing reaches the conversation loop while the call is parked.
	mu.Lock()
	require.Empty(t, delivered)
	mu.Unlock()

	result := f.exec.Approve(context.Background(), "conv-1", "call-1")
	require.Equal(t, StatusSuccess, result.Status)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, delivered, 1)
	assert.Equal(t, result, delivered[0])
}

func TestReject_DeliversResultThroughHook(t *testing.T) {
	f := newFixture(t, "https://api.example.com", []catalog.Endpoint{writeEndpoint(catalog.RiskHighWrite)})

	var mu sync.Mutex
	var delivered []ToolResult
	f.exec.SetResultHook(func(r ToolResult) {
		mu.Lock()
		delivered = append(delivered, r)
		mu.Unlock()
	})

	pending := f.exec.Execute(context.Background(), Caller{UserID: "u-1"}, ToolCall{
		CallID:         "call-1",
		ConversationID: "conv-1",
		EndpointID:     "ep-write",
	})
	require.Equal(t, StatusPending, pending.Status)

	result := f.exec.Reject("conv-1", "call-1")
	require.Equal(t, ErrKindRejected, result.ErrorKind)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, delivered, 1)
	assert.Equal(t, result, delivered[0])
}

func TestCancelConversation_ReleasesSemaphore(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	f := newFixture(t, srv.URL, []catalog.Endpoint{readEndpoint("/orders/{id}")})

	f.exec.Execute(context.Background(), Caller{UserID: "u-1"}, ToolCall{
		CallID:         "call-1",
		ConversationID: "conv-1",
		EndpointID:     "ep-read",
		Arguments:      protocol.Arguments{Path: map[string]string{"id": "42"}},
	})

	f.exec.mu.Lock()
	require.Len(t, f.exec.sems, 1)
	f.exec.mu.Unlock()

	f.exec.CancelConversation("conv-1")

	f.exec.mu.Lock()
	assert.Empty(t, f.exec.sems)
	f.exec.mu.Unlock()
}
