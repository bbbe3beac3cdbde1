package grpcclient

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"buoy-svr/internal/pipeline"
)

const sendTimeout = 5 * time.Second

type GRPCClient struct {
	conn *grpc.ClientConn
}

// NewGRPCClient prepares a lazy connection; nothing is dialled until the
// first reading is sent.
func NewGRPCClient(addr string, opts ...grpc.DialOption) (*GRPCClient, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("grpc client %s: %w", addr, err)
	}
	return &GRPCClient{conn: conn}, nil
}

func (g *GRPCClient) Close() error {
	return g.conn.Close()
}

func (g *GRPCClient) SendReading(ctx context.Context, r *pipeline.Reading) error {
	req, err := pipeline.ToStruct(r)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	res := new(wrapperspb.BoolValue)
	if err := g.conn.Invoke(ctx, sendReadingMethod, req, res); err != nil {
		return fmt.Errorf("forward %s: %w", r.DeviceID, err)
	}
	if !res.GetValue() {
		return fmt.Errorf("forwarder rejected reading for device %s", r.DeviceID)
	}
	return nil
}

func (g *GRPCClient) Name() string { return "grpc" }

func (g *GRPCClient) Handle(ctx context.Context, r *pipeline.Reading) error {
	return g.SendReading(ctx, r)
}
