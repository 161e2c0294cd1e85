package catalog

import (
	"fmt"
	"strings"
)

// SystemStatus represents the lifecycle state of a registered system
type SystemStatus string

const (
	StatusDraft      SystemStatus = "draft"
	StatusActive     SystemStatus = "active"
	StatusDisabled   SystemStatus = "disabled"
	StatusDegraded   SystemStatus = "degraded"
	StatusDeprecated SystemStatus = "deprecated" // terminal
)

// Eligible reports whether endpoints of this system may be resolved into tools
func (s SystemStatus) Eligible() bool {
	return s == StatusActive || s == StatusDegraded
}

// AuthType identifies the authentication scheme of a system
type AuthType string

const (
	AuthNone      AuthType = "none"
	AuthAPIKey    AuthType = "api_key"
	AuthBearer    AuthType = "bearer"
	AuthBasic     AuthType = "basic"
	AuthOAuth2    AuthType = "oauth2"
	AuthMutualTLS AuthType = "mutual_tls"
)

// AuthConfig describes how outbound requests to a system are authenticated.
// CredentialID points into the external vault; the secret material itself
// never lives in the catalog.
type AuthConfig struct {
	Type         AuthType `json:"type"`
	CredentialID string   `json:"credential_id,omitempty"`
	HeaderName   string   `json:"header_name,omitempty"` // api_key only, defaults to X-API-Key
}

// System is a registered external system. Owned by the catalog service;
// read-only from the engine's point of view.
type System struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	BaseURL      string       `json:"base_url"`
	Status       SystemStatus `json:"status"`
	AgentEnabled bool         `json:"agent_enabled"`
	Auth         AuthConfig   `json:"auth_config"`
}

// ProtocolType identifies the wire protocol of an endpoint
type ProtocolType string

const (
	ProtocolREST      ProtocolType = "rest"
	ProtocolGraphQL   ProtocolType = "graphql"
	ProtocolSOAP      ProtocolType = "soap"
	ProtocolGRPC      ProtocolType = "grpc"
	ProtocolWebSocket ProtocolType = "websocket"
)

// RiskLevel classifies the potential impact of invoking an endpoint
type RiskLevel string

const (
	RiskRead        RiskLevel = "read"
	RiskLowWrite    RiskLevel = "low_write"
	RiskHighWrite   RiskLevel = "high_write"
	RiskDestructive RiskLevel = "destructive"
)

// ParseRiskLevel parses a risk level string, case-insensitively
func ParseRiskLevel(s string) (RiskLevel, error) {
	switch RiskLevel(strings.ToLower(s)) {
	case RiskRead, RiskLowWrite, RiskHighWrite, RiskDestructive:
		return RiskLevel(strings.ToLower(s)), nil
	}
	return "", fmt.Errorf("unknown risk level: %q", s)
}

// Retryable reports whether calls at this risk level may be retried
// automatically. Keyed to risk, not HTTP method: some externally owned GETs
// have side effects, so method alone is not trusted.
func (r RiskLevel) Retryable() bool {
	return r == RiskRead || r == RiskLowWrite
}

// RetryPolicy bounds automatic retries with exponential backoff
type RetryPolicy struct {
	MaxAttempts   int `json:"max_attempts"`
	BaseBackoffMS int `json:"base_backoff_ms"`
	MaxBackoffMS  int `json:"max_backoff_ms"`
}

// RateLimit caps outbound request rate for a single endpoint
type RateLimit struct {
	PerSecond float64 `json:"per_second"`
	Burst     int     `json:"burst"`
}

// ParameterLocation says where an argument is placed in the request
type ParameterLocation string

const (
	InPath  ParameterLocation = "path"
	InQuery ParameterLocation = "query"
	InBody  ParameterLocation = "body"
)

// Parameter declares one argument accepted by an endpoint
type Parameter struct {
	Name        string            `json:"name"`
	In          ParameterLocation `json:"in"`
	Type        string            `json:"type"` // string, number, integer, boolean, object, array
	Description string            `json:"description,omitempty"`
	Required    bool              `json:"required"`
}

// Endpoint is a single callable operation of a system
type Endpoint struct {
	ID                  string       `json:"id"`
	SystemID            string       `json:"system_id"`
	Name                string       `json:"name"`
	Description         string       `json:"description,omitempty"`
	Method              string       `json:"method"`
	Path                string       `json:"path"`
	Protocol            ProtocolType `json:"protocol_type"`
	Risk                RiskLevel    `json:"risk_level"`
	RequiredPermissions []string     `json:"required_permissions,omitempty"`
	TimeoutSeconds      int          `json:"timeout_seconds"`
	Retry               RetryPolicy  `json:"retry_policy"`
	RateLimit           RateLimit    `json:"rate_limit"`
	Parameters          []Parameter  `json:"parameters,omitempty"`

	// Protocol-specific fields
	GraphQLQuery         string `json:"graphql_query,omitempty"`
	GraphQLOperationName string `json:"graphql_operation_name,omitempty"`
	SOAPAction           string `json:"soap_action,omitempty"`
	SOAPTemplate         string `json:"soap_template,omitempty"`
	GRPCService          string `json:"grpc_service,omitempty"`
	GRPCMethod           string `json:"grpc_method,omitempty"`
}

// Validate checks structural consistency of an endpoint record
func (e *Endpoint) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("endpoint id is required")
	}
	if e.SystemID == "" {
		return fmt.Errorf("endpoint %s: system_id is required", e.ID)
	}
	if e.Name == "" {
		return fmt.Errorf("endpoint %s: name is required", e.ID)
	}
	switch e.Protocol {
	case ProtocolREST:
		if e.Method == "" || e.Path == "" {
			return fmt.Errorf("endpoint %s: rest endpoints require method and path", e.ID)
		}
	case ProtocolGraphQL:
		if e.GraphQLQuery == "" {
			return fmt.Errorf("endpoint %s: graphql endpoints require a query", e.ID)
		}
	case ProtocolSOAP:
		if e.SOAPTemplate == "" {
			return fmt.Errorf("endpoint %s: soap endpoints require a body template", e.ID)
		}
	case ProtocolGRPC:
		if e.GRPCService == "" || e.GRPCMethod == "" {
			return fmt.Errorf("endpoint %s: grpc endpoints require service and method", e.ID)
		}
	case ProtocolWebSocket:
		// path optional, base URL alone is a valid target
	default:
		return fmt.Errorf("endpoint %s: unknown protocol type %q", e.ID, e.Protocol)
	}
	if _, err := ParseRiskLevel(string(e.Risk)); err != nil {
		return fmt.Errorf("endpoint %s: %w", e.ID, err)
	}
	return nil
}
