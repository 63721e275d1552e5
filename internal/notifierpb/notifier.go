// Package notifierpb defines the Notifier gRPC service spoken between
// escalator nodes and notifier nodes.
//
// Messages are protobuf well-known types: a volunteer request travels as a
// google.protobuf.Struct holding its JSON form and the reply is the delivery
// ID as a google.protobuf.StringValue.
package notifierpb

import (
	"context"
	"encoding/json"
	"fmt"

	"business-escalation/internal/domain"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const (
	ServiceName                                  = "escalation.notifier.v1.Notifier"
	Notifier_SendVolunteerRequest_FullMethodName = "/" + ServiceName + "/SendVolunteerRequest"
)

// NotifierClient is the client API for the Notifier service.
type NotifierClient interface {
	SendVolunteerRequest(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*wrapperspb.StringValue, error)
}

type notifierClient struct {
	cc grpc.ClientConnInterface
}

func NewNotifierClient(cc grpc.ClientConnInterface) NotifierClient {
	return &notifierClient{cc}
}

func (c *notifierClient) SendVolunteerRequest(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*wrapperspb.StringValue, error) {
	out := new(wrapperspb.StringValue)
	if err := c.cc.Invoke(ctx, Notifier_SendVolunteerRequest_FullMethodName, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// NotifierServer is the server API for the Notifier service.
type NotifierServer interface {
	SendVolunteerRequest(context.Context, *structpb.Struct) (*wrapperspb.StringValue, error)
}

// UnimplementedNotifierServer can be embedded to have forward compatible implementations.
type UnimplementedNotifierServer struct{}

func (UnimplementedNotifierServer) SendVolunteerRequest(context.Context, *structpb.Struct) (*wrapperspb.StringValue, error) {
	return nil, status.Errorf(codes.Unimplemented, "method SendVolunteerRequest not implemented")
}

func RegisterNotifierServer(s grpc.ServiceRegistrar, srv NotifierServer) {
	s.RegisterService(&Notifier_ServiceDesc, srv)
}

func _Notifier_SendVolunteerRequest_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(NotifierServer).SendVolunteerRequest(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: Notifier_SendVolunteerRequest_FullMethodName,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(NotifierServer).SendVolunteerRequest(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// Notifier_ServiceDesc is the grpc.ServiceDesc for the Notifier service.
var Notifier_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*NotifierServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "SendVolunteerRequest",
			Handler:    _Notifier_SendVolunteerRequest_Handler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "notifier.proto",
}

// FromDomain converts a volunteer request to its wire form.
func FromDomain(req *domain.VolunteerRequest) (*structpb.Struct, error) {
	b, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal volunteer request: %w", err)
	}
	s := &structpb.Struct{}
	if err := protojson.Unmarshal(b, s); err != nil {
		return nil, fmt.Errorf("failed to convert volunteer request to struct: %w", err)
	}
	return s, nil
}

// ToDomain converts the wire form back to a volunteer request and checks the
// identifiers a delivery needs.
func ToDomain(s *structpb.Struct) (*domain.VolunteerRequest, error) {
	b, err := protojson.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to convert struct to json: %w", err)
	}
	var req domain.VolunteerRequest
	if err := json.Unmarshal(b, &req); err != nil {
		return nil, fmt.Errorf("failed to unmarshal volunteer request: %w", err)
	}
	if req.BusinessID == "" {
		return nil, fmt.Errorf("volunteer request has no business_id")
	}
	if req.TaskInfo.ID == "" {
		return nil, fmt.Errorf("volunteer request has no task_info.id")
	}
	return &req, nil
}
