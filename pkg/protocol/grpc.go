package protocol

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/gatehouse-io/gatehouse/pkg/catalog"
)

// GRPCInvocation is the contract handed to an externally supplied RPC
// channel. Channel lifecycle (dialing, TLS, pooling) is a collaborator's
// concern; the builder only names the method and shapes the payload.
type GRPCInvocation struct {
	FullMethod string
	Payload    *structpb.Struct
}

// buildGRPC shapes a tool call into a dynamic struct payload for
// /Service/Method invocation.
func buildGRPC(endpoint catalog.Endpoint, args Arguments) (*Request, error) {
	payload, err := structpb.NewStruct(mergedArguments(args))
	if err != nil {
		return nil, fmt.Errorf("failed to encode grpc payload: %w", err)
	}

	return &Request{
		Protocol: catalog.ProtocolGRPC,
		GRPC: &GRPCInvocation{
			FullMethod: fmt.Sprintf("/%s/%s", endpoint.GRPCService, endpoint.GRPCMethod),
			Payload:    payload,
		},
	}, nil
}

// InvokeGRPC executes the invocation against the supplied channel and
// returns the dynamic response struct.
func InvokeGRPC(ctx context.Context, conn grpc.ClientConnInterface, inv *GRPCInvocation) (*structpb.Struct, error) {
	if conn == nil {
		return nil, fmt.Errorf("no grpc channel configured")
	}

	reply := &structpb.Struct{}
	if err := conn.Invoke(ctx, inv.FullMethod, inv.Payload, reply); err != nil {
		return nil, fmt.Errorf("grpc invoke %s: %w", inv.FullMethod, err)
	}
	return reply, nil
}
