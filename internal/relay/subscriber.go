package relay

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/banshee-data/spokeview/internal/wire"
)

// Subscriber is a client of a relay.
type Subscriber struct {
	conn *grpc.ClientConn
}

// Dial connects to a relay at target. Without options the connection is
// insecure, which suits a relay on a ship's local network.
func Dial(target string, opts ...grpc.DialOption) (*Subscriber, error) {
	if len(opts) == 0 {
		opts = []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	}
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("relay dial %s: %w", target, err)
	}
	return &Subscriber{conn: conn}, nil
}

// Close closes the connection.
func (s *Subscriber) Close() error { return s.conn.Close() }

// Stream receives frames from one subscription.
type Stream struct {
	cs grpc.ClientStream
}

// Subscribe opens a subscription that lasts until ctx is cancelled.
func (s *Subscriber) Subscribe(ctx context.Context) (*Stream, error) {
	cs, err := s.conn.NewStream(ctx, &serviceDesc.Streams[0], subscribeMethod, grpc.ForceCodec(rawCodec{}))
	if err != nil {
		return nil, err
	}
	if err := cs.SendMsg(&Frame{}); err != nil {
		return nil, err
	}
	if err := cs.CloseSend(); err != nil {
		return nil, err
	}
	return &Stream{cs: cs}, nil
}

// Recv blocks for the next frame.
func (st *Stream) Recv() (wire.Message, error) {
	f := new(Frame)
	if err := st.cs.RecvMsg(f); err != nil {
		return wire.Message{}, err
	}
	return wire.Decode(f.Data)
}
