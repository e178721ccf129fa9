package relay

import (
	"google.golang.org/grpc"
)

const (
	serviceName      = "spokeview.Relay"
	subscribeMethod  = "/" + serviceName + "/Subscribe"
	subscribeStreamN = "Subscribe"
)

// relayServer is implemented by Publisher.
type relayServer interface {
	subscribe(req *Frame, stream grpc.ServerStream) error
}

func subscribeHandler(srv any, stream grpc.ServerStream) error {
	req := new(Frame)
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	return srv.(relayServer).subscribe(req, stream)
}

// serviceDesc is written by hand because the service has a single
// server-streaming method carrying raw frames.
var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*relayServer)(nil),
	Streams: []grpc.StreamDesc{
		{
			StreamName:    subscribeStreamN,
			Handler:       subscribeHandler,
			ServerStreams: true,
		},
	},
	Metadata: "spokeview/relay",
}
