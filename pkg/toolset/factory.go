package toolset

import (
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/gatehouse-io/gatehouse/pkg/catalog"
)

// AccessMode controls how the whitelist filter behaves
type AccessMode string

const (
	// ModeWhitelist admits only endpoints whose system is explicitly agent-enabled
	ModeWhitelist AccessMode = "whitelist"
	// ModeAllEnabled skips the whitelist check entirely
	ModeAllEnabled AccessMode = "all_enabled"
)

// ResolveOptions carries the per-turn inputs of the tool filter pipeline
type ResolveOptions struct {
	// Permissions held by the calling user; "*" is the admin wildcard
	Permissions []string

	// Scopes restricts which systems the user may touch; nil means no scoping
	Scopes *AccessScopes

	// Mode selects whitelist vs all_enabled filtering
	Mode AccessMode

	// AgentEnabled maps system id to its whitelist flag. A nil map disables
	// the whitelist check for legacy callers; an explicit empty map filters
	// everything out. The asymmetry is deliberate (incremental rollout) and
	// must not be "fixed".
	AgentEnabled map[string]bool
}

var legacyWhitelistWarn sync.Once

// WarnLegacyWhitelist logs the warning for the permissive nil-map default.
// Resolve fires it once on the first resolution that takes the legacy path.
func WarnLegacyWhitelist() {
	log.Warn().Msg("Whitelist mode active without an agent-enabled map: whitelist filtering is DISABLED for legacy compatibility")
}

// Resolve runs the tool filter pipeline: every eligible endpoint becomes an
// agent-visible ToolDefinition. Pure and deterministic — identical inputs
// yield identical, order-stable output (sorted by endpoint id).
//
// An endpoint survives iff all of:
//  1. its parent system exists with an eligible status,
//  2. its required permissions are covered by the user's (or wildcard),
//  3. the access scopes admit the system (or wildcard, or nil scopes),
//  4. in whitelist mode with a non-nil map, the system is agent-enabled.
func Resolve(endpoints []catalog.Endpoint, systems []catalog.System, opts ResolveOptions) []ToolDefinition {
	systemByID := make(map[string]catalog.System, len(systems))
	for _, s := range systems {
		systemByID[s.ID] = s
	}

	ordered := make([]catalog.Endpoint, len(endpoints))
	copy(ordered, endpoints)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].ID < ordered[j].ID })

	if opts.Mode == ModeWhitelist && opts.AgentEnabled == nil {
		legacyWhitelistWarn.Do(WarnLegacyWhitelist)
	}

	wildcard := hasWildcard(opts.Permissions)

	defs := make([]ToolDefinition, 0, len(ordered))
	for _, e := range ordered {
		system, ok := systemByID[e.SystemID]
		if !ok || !system.Status.Eligible() {
			continue
		}
		if !permissionsSatisfied(e.RequiredPermissions, opts.Permissions) {
			continue
		}
		if !wildcard && !opts.Scopes.Allows(e.SystemID) {
			continue
		}
		if opts.Mode == ModeWhitelist && opts.AgentEnabled != nil && !opts.AgentEnabled[e.SystemID] {
			continue
		}

		raw, schema, err := buildInputSchema(e)
		if err != nil {
			log.Warn().Err(err).Str("endpoint", e.ID).Msg("Skipping endpoint with bad parameter schema")
			continue
		}

		defs = append(defs, ToolDefinition{
			Name:        toolName(system, e),
			Description: e.Description,
			EndpointID:  e.ID,
			SystemID:    e.SystemID,
			Risk:        e.Risk,
			InputSchema: raw,
			schema:      schema,
		})
	}

	return defs
}
