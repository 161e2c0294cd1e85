// Package protocol turns an agent tool call into a concrete outbound request.
// One builder strategy per wire protocol, dispatched on the endpoint's
// protocol type; REST resolution additionally passes the URL containment
// guard before anything is allowed to leave the process.
package protocol

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gatehouse-io/gatehouse/pkg/catalog"
)

// Arguments are the untrusted, LLM-generated arguments of a tool call,
// already split by location.
type Arguments struct {
	Path  map[string]string      `json:"path,omitempty"`
	Query map[string]string      `json:"query,omitempty"`
	Body  map[string]interface{} `json:"body,omitempty"`
}

// Request is a fully built outbound request, ready for credential injection
// and dispatch. Exactly one of the protocol-specific members is populated
// for grpc/websocket; HTTP-shaped protocols use Method/URL/Header/Body.
type Request struct {
	Protocol catalog.ProtocolType
	Method   string
	URL      string
	Header   http.Header
	Body     []byte

	GRPC *GRPCInvocation
	WS   *WSRequest

	// ClientCertPEM carries mutual-TLS client material resolved from the
	// vault; consumed by the transport, never serialized.
	ClientCertPEM []byte
}

// ErrMissingArgument is returned when a required path token has no value
var ErrMissingArgument = errors.New("missing path argument")

// Build dispatches to the protocol strategy for the endpoint. The returned
// request has passed the URL containment guard where applicable.
func Build(endpoint catalog.Endpoint, system catalog.System, args Arguments) (*Request, error) {
	switch endpoint.Protocol {
	case catalog.ProtocolREST:
		return buildREST(endpoint, system, args)
	case catalog.ProtocolGraphQL:
		return buildGraphQL(endpoint, system, args)
	case catalog.ProtocolSOAP:
		return buildSOAP(endpoint, system, args)
	case catalog.ProtocolGRPC:
		return buildGRPC(endpoint, args)
	case catalog.ProtocolWebSocket:
		return buildWebSocket(endpoint, system, args)
	default:
		return nil, fmt.Errorf("unsupported protocol type: %q", endpoint.Protocol)
	}
}

// mergedArguments flattens query and body arguments into one map, used by
// the envelope protocols (graphql/grpc) that take a single variables object.
func mergedArguments(args Arguments) map[string]interface{} {
	merged := make(map[string]interface{}, len(args.Query)+len(args.Body))
	for k, v := range args.Query {
		merged[k] = v
	}
	for k, v := range args.Body {
		merged[k] = v
	}
	return merged
}
