package toolset

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/gatehouse-io/gatehouse/pkg/catalog"
)

// ToolDefinition is the agent-visible schema of one callable operation.
// Definitions are ephemeral: recomputed every turn from the catalog plus the
// caller's permissions and scopes, never persisted and never cached across
// turns, so whitelist or permission changes take effect immediately.
type ToolDefinition struct {
	Name        string            `json:"name"`
	Description string            `json:"description"`
	EndpointID  string            `json:"endpoint_id"`
	SystemID    string            `json:"system_id"`
	Risk        catalog.RiskLevel `json:"risk_level"`
	InputSchema json.RawMessage   `json:"input_schema"`

	schema *gojsonschema.Schema
}

// ValidateArguments checks untrusted call arguments against the tool's
// declared parameter schema. Arguments never reach a request builder without
// passing through here first.
func (d *ToolDefinition) ValidateArguments(args map[string]interface{}) error {
	if d.schema == nil {
		return nil
	}

	result, err := d.schema.Validate(gojsonschema.NewGoLoader(args))
	if err != nil {
		return fmt.Errorf("argument validation: %w", err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("invalid arguments: %s", strings.Join(msgs, "; "))
	}
	return nil
}

var nameSanitizer = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

// toolName derives a stable agent-facing name from system and endpoint names
func toolName(system catalog.System, endpoint catalog.Endpoint) string {
	name := system.Name + "_" + endpoint.Name
	name = nameSanitizer.ReplaceAllString(name, "_")
	return strings.Trim(strings.ToLower(name), "_")
}

// buildInputSchema renders the endpoint's parameter declarations as a JSON
// Schema with one object per argument location (path/query/body).
func buildInputSchema(endpoint catalog.Endpoint) (json.RawMessage, *gojsonschema.Schema, error) {
	locations := map[catalog.ParameterLocation]map[string]interface{}{}
	required := map[catalog.ParameterLocation][]string{}

	for _, p := range endpoint.Parameters {
		props, ok := locations[p.In]
		if !ok {
			props = make(map[string]interface{})
			locations[p.In] = props
		}
		paramSchema := map[string]interface{}{
			"type": p.Type,
		}
		if p.Description != "" {
			paramSchema["description"] = p.Description
		}
		props[p.Name] = paramSchema
		if p.Required {
			required[p.In] = append(required[p.In], p.Name)
		}
	}

	properties := make(map[string]interface{})
	topRequired := []string{}
	for _, loc := range []catalog.ParameterLocation{catalog.InPath, catalog.InQuery, catalog.InBody} {
		props, ok := locations[loc]
		if !ok {
			continue
		}
		locSchema := map[string]interface{}{
			"type":                 "object",
			"additionalProperties": false,
			"properties":           props,
		}
		if req := required[loc]; len(req) > 0 {
			locSchema["required"] = req
			topRequired = append(topRequired, string(loc))
		}
		properties[string(loc)] = locSchema
	}

	schemaMap := map[string]interface{}{
		"type":                 "object",
		"additionalProperties": false,
		"properties":           properties,
	}
	if len(topRequired) > 0 {
		schemaMap["required"] = topRequired
	}

	raw, err := json.Marshal(schemaMap)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal input schema: %w", err)
	}

	schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to compile input schema: %w", err)
	}

	return raw, schema, nil
}
