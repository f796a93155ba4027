package grpcapi

import (
	"google.golang.org/grpc"

	"github.com/quantedge/mdcore/proto/marketdata"
)

// serviceName matches the path a protoc-gen-go-grpc stub would register;
// kept here by hand since this tree ships no .proto source, only the plain
// structs in proto/marketdata.
const serviceName = "mdcore.marketdata.MarketDataService"

// MarketDataServiceServer is the server-side contract for the one streaming
// RPC this service exposes.
type MarketDataServiceServer interface {
	StreamEvents(*marketdata.StreamRequest, MarketDataService_StreamEventsServer) error
}

// MarketDataService_StreamEventsServer is the send-half of the server
// stream, mirroring the shape protoc-gen-go-grpc emits for a
// server-streaming RPC.
type MarketDataService_StreamEventsServer interface {
	Send(*marketdata.Event) error
	grpc.ServerStream
}

type marketDataServiceStreamEventsServer struct {
	grpc.ServerStream
}

func (s *marketDataServiceStreamEventsServer) Send(e *marketdata.Event) error {
	return s.ServerStream.SendMsg(e)
}

func streamEventsHandler(srv interface{}, stream grpc.ServerStream) error {
	req := new(marketdata.StreamRequest)
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	return srv.(MarketDataServiceServer).StreamEvents(req, &marketDataServiceStreamEventsServer{stream})
}

// serviceDesc is the hand-written equivalent of the grpc.ServiceDesc a
// protoc-gen-go-grpc stub would generate from a .proto service definition.
var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*MarketDataServiceServer)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "StreamEvents",
			Handler:       streamEventsHandler,
			ServerStreams: true,
		},
	},
	Metadata: "mdcore/marketdata.proto",
}

// RegisterMarketDataServiceServer registers srv against an in-flight
// grpc.Server, the same shape generated registration functions take.
func RegisterMarketDataServiceServer(s *grpc.Server, srv MarketDataServiceServer) {
	s.RegisterService(&serviceDesc, srv)
}
