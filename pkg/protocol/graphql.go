package protocol

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/gatehouse-io/gatehouse/pkg/catalog"
)

// graphqlEnvelope is the standard GraphQL-over-HTTP request body
type graphqlEnvelope struct {
	Query         string                 `json:"query"`
	OperationName string                 `json:"operationName,omitempty"`
	Variables     map[string]interface{} `json:"variables,omitempty"`
}

// buildGraphQL always POSTs to the system base URL. The query text comes
// from the endpoint record, never from the agent — arguments only ever fill
// the variables object.
func buildGraphQL(endpoint catalog.Endpoint, system catalog.System, args Arguments) (*Request, error) {
	envelope := graphqlEnvelope{
		Query:         endpoint.GraphQLQuery,
		OperationName: endpoint.GraphQLOperationName,
		Variables:     mergedArguments(args),
	}

	body, err := json.Marshal(envelope)
	if err != nil {
		return nil, fmt.Errorf("failed to encode graphql request: %w", err)
	}

	header := http.Header{}
	header.Set("Content-Type", "application/json")

	return &Request{
		Protocol: catalog.ProtocolGraphQL,
		Method:   http.MethodPost,
		URL:      strings.TrimRight(system.BaseURL, "/"),
		Header:   header,
		Body:     body,
	}, nil
}
