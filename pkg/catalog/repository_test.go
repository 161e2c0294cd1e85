package catalog

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleSystems() []System {
	return []System{
		{ID: "sys-b", Name: "billing", BaseURL: "https://billing.example.com", Status: StatusActive},
		{ID: "sys-a", Name: "orders", BaseURL: "https://orders.example.com", Status: StatusActive},
	}
}

func sampleEndpoints() []Endpoint {
	return []Endpoint{
		{ID: "ep-2", SystemID: "sys-b", Name: "refund", Method: "POST", Path: "/refunds",
			Protocol: ProtocolREST, Risk: RiskHighWrite},
		{ID: "ep-1", SystemID: "sys-a", Name: "get_order", Method: "GET", Path: "/orders/{id}",
			Protocol: ProtocolREST, Risk: RiskRead},
	}
}

func TestStaticRepository_Lookups(t *testing.T) {
	r := NewStaticRepository(sampleSystems(), sampleEndpoints())
	ctx := context.Background()

	s, err := r.GetSystem(ctx, "sys-a")
	require.NoError(t, err)
	assert.Equal(t, "orders", s.Name)

	_, err = r.GetSystem(ctx, "sys-ghost")
	assert.ErrorIs(t, err, ErrSystemNotFound)

	e, err := r.GetEndpoint(ctx, "ep-1")
	require.NoError(t, err)
	assert.Equal(t, "get_order", e.Name)

	_, err = r.GetEndpoint(ctx, "ep-ghost")
	assert.ErrorIs(t, err, ErrEndpointNotFound)
}

func TestStaticRepository_ListsAreSorted(t *testing.T) {
	r := NewStaticRepository(sampleSystems(), sampleEndpoints())
	ctx := context.Background()

	systems, err := r.ListSystems(ctx)
	require.NoError(t, err)
	require.Len(t, systems, 2)
	assert.Equal(t, "sys-a", systems[0].ID)
	assert.Equal(t, "sys-b", systems[1].ID)

	endpoints, err := r.ListEndpoints(ctx)
	require.NoError(t, err)
	require.Len(t, endpoints, 2)
	assert.Equal(t, "ep-1", endpoints[0].ID)
}

func TestStaticRepository_SkipsInvalidRecords(t *testing.T) {
	endpoints := append(sampleEndpoints(),
		// rest endpoint without a path
		Endpoint{ID: "ep-bad", SystemID: "sys-a", Name: "broken", Method: "GET",
			Protocol: ProtocolREST, Risk: RiskRead},
		// endpoint pointing at an unregistered system
		Endpoint{ID: "ep-orphan", SystemID: "sys-ghost", Name: "orphan", Method: "GET",
			Path: "/x", Protocol: ProtocolREST, Risk: RiskRead},
	)

	r := NewStaticRepository(sampleSystems(), endpoints)

	list, err := r.ListEndpoints(context.Background())
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestStaticRepository_Replace(t *testing.T) {
	r := NewStaticRepository(sampleSystems(), sampleEndpoints())

	r.Replace(
		[]System{{ID: "sys-new", Name: "new", BaseURL: "https://new.example.com", Status: StatusActive}},
		[]Endpoint{{ID: "ep-new", SystemID: "sys-new", Name: "ping", Method: "GET", Path: "/ping",
			Protocol: ProtocolREST, Risk: RiskRead}},
	)

	ctx := context.Background()
	_, err := r.GetEndpoint(ctx, "ep-1")
	assert.ErrorIs(t, err, ErrEndpointNotFound)

	e, err := r.GetEndpoint(ctx, "ep-new")
	require.NoError(t, err)
	assert.Equal(t, "ping", e.Name)
}

func TestNewFileRepository(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.json")

	snapshot := `{
		"systems": [
			{"id": "sys-1", "name": "orders", "base_url": "https://api.example.com",
			 "status": "active", "agent_enabled": true}
		],
		"endpoints": [
			{"id": "ep-1", "system_id": "sys-1", "name": "get_order",
			 "method": "GET", "path": "/orders/{id}",
			 "protocol_type": "rest", "risk_level": "read"}
		]
	}`
	require.NoError(t, os.WriteFile(path, []byte(snapshot), 0644))

	r, err := NewFileRepository(path)
	require.NoError(t, err)

	e, err := r.GetEndpoint(context.Background(), "ep-1")
	require.NoError(t, err)
	assert.Equal(t, ProtocolREST, e.Protocol)
	assert.Equal(t, RiskRead, e.Risk)
}

func TestNewFileRepository_EmptyPath(t *testing.T) {
	r, err := NewFileRepository("")
	require.NoError(t, err)

	list, err := r.ListEndpoints(context.Background())
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestNewFileRepository_MissingFile(t *testing.T) {
	_, err := NewFileRepository(filepath.Join(t.TempDir(), "nope.json"))
	assert.Error(t, err)
}
