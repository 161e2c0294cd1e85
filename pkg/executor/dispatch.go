package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"google.golang.org/grpc"

	"github.com/gatehouse-io/gatehouse/pkg/catalog"
	"github.com/gatehouse-io/gatehouse/pkg/protocol"
)

// maxResponseBytes caps how much of a response body is surfaced to the agent
const maxResponseBytes = 256 * 1024

// buildRequest runs the protocol builder and maps its failures to error
// kinds. Guard violations surface only a generic refusal — the detection
// detail stays in the internal security log.
func (ex *Executor) buildRequest(call ToolCall, endpoint catalog.Endpoint, system catalog.System) (*protocol.Request, ErrorKind, string) {
	req, err := protocol.Build(endpoint, system, call.Arguments)
	if err != nil {
		switch {
		case errors.Is(err, protocol.ErrUnsafeURL):
			ex.logger.Warn().
				Str("security_event", "unsafe_url").
				Str("call", call.CallID).
				Str("endpoint", endpoint.ID).
				Err(err).
				Msg("Tool call refused by URL containment guard")
			return nil, ErrKindUnsafeURL, "request refused by safety policy"
		case errors.Is(err, protocol.ErrMissingArgument):
			return nil, ErrKindInvalidArgument, err.Error()
		default:
			return nil, ErrKindConfiguration, "failed to build request"
		}
	}
	return req, ErrKindNone, ""
}

// transport owns the actual network dispatch per protocol family
type transport struct {
	httpClient *http.Client
	grpcConn   grpc.ClientConnInterface
}

func newTransport(grpcConn grpc.ClientConnInterface) *transport {
	return &transport{
		// Per-call deadlines come from the context; no client-level timeout
		// that would fight the endpoint's own setting.
		httpClient: &http.Client{},
		grpcConn:   grpcConn,
	}
}

func (t *transport) dispatch(ctx context.Context, callID string, req *protocol.Request) ToolResult {
	switch req.Protocol {
	case catalog.ProtocolREST, catalog.ProtocolGraphQL, catalog.ProtocolSOAP:
		return t.doHTTP(ctx, callID, req)
	case catalog.ProtocolGRPC:
		return t.doGRPC(ctx, callID, req)
	case catalog.ProtocolWebSocket:
		return t.doWebSocket(ctx, callID, req)
	default:
		return errorResult(callID, ErrKindConfiguration, fmt.Sprintf("no transport for protocol %q", req.Protocol))
	}
}

func (t *transport) doHTTP(ctx context.Context, callID string, req *protocol.Request) ToolResult {
	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return errorResult(callID, ErrKindConfiguration, "failed to create request")
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}

	resp, err := t.httpClient.Do(httpReq)
	if err != nil {
		return classifyTransportError(callID, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return classifyTransportError(callID, err)
	}

	switch {
	case resp.StatusCode >= 500:
		return ToolResult{
			CallID:     callID,
			Status:     StatusError,
			HTTPStatus: resp.StatusCode,
			Body:       string(raw),
			ErrorKind:  ErrKindHTTP5xx,
		}
	case resp.StatusCode >= 400:
		return ToolResult{
			CallID:     callID,
			Status:     StatusError,
			HTTPStatus: resp.StatusCode,
			Body:       string(raw),
			ErrorKind:  ErrKindHTTP4xx,
		}
	default:
		return ToolResult{
			CallID:     callID,
			Status:     StatusSuccess,
			HTTPStatus: resp.StatusCode,
			Body:       string(raw),
		}
	}
}

func (t *transport) doGRPC(ctx context.Context, callID string, req *protocol.Request) ToolResult {
	reply, err := protocol.InvokeGRPC(ctx, t.grpcConn, req.GRPC)
	if err != nil {
		return classifyTransportError(callID, err)
	}

	raw, err := json.Marshal(reply.AsMap())
	if err != nil {
		return errorResult(callID, ErrKindConnection, "failed to decode grpc reply")
	}

	return ToolResult{
		CallID: callID,
		Status: StatusSuccess,
		Body:   string(raw),
	}
}

func (t *transport) doWebSocket(ctx context.Context, callID string, req *protocol.Request) ToolResult {
	session, err := protocol.DialWS(ctx, req.WS)
	if err != nil {
		return classifyTransportError(callID, err)
	}

	deadline := 30 * time.Second
	if d, ok := ctx.Deadline(); ok {
		deadline = time.Until(d)
	}

	frames, err := session.Stream(ctx, deadline)
	if err != nil {
		return classifyTransportError(callID, err)
	}

	return ToolResult{
		CallID: callID,
		Status: StatusSuccess,
		Body:   string(bytes.Join(frames, []byte("\n"))),
	}
}

// classifyTransportError maps low-level failures onto the error taxonomy
func classifyTransportError(callID string, err error) ToolResult {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return errorResult(callID, ErrKindTimeout, "request timed out")
	case errors.Is(err, context.Canceled):
		return errorResult(callID, ErrKindCancelled, "request cancelled")
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return errorResult(callID, ErrKindTimeout, "request timed out")
	}

	return errorResult(callID, ErrKindConnection, "connection failed")
}
