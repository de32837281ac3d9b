package api

import (
	"context"
	"errors"
	"fmt"
	"io"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// Client wraps the gRPC connection to a daemon's admin socket.
type Client struct {
	conn   *grpc.ClientConn
	Health healthpb.HealthClient
}

// Dial connects to the daemon's Unix domain socket.
func Dial(socketPath string) (*Client, error) {
	conn, err := grpc.NewClient(
		"unix://"+socketPath,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("dial daemon: %w", err)
	}
	return &Client{conn: conn, Health: healthpb.NewHealthClient(conn)}, nil
}

// Close closes the gRPC connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) Status(ctx context.Context) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, methodStatus, &emptypb.Empty{}, out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListOnline returns the ids of every online user.
func (c *Client) ListOnline(ctx context.Context) ([]string, error) {
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, methodListOnline, &emptypb.Empty{}, out); err != nil {
		return nil, err
	}
	var users []string
	for _, v := range out.GetFields()["users"].GetListValue().GetValues() {
		users = append(users, v.GetStringValue())
	}
	return users, nil
}

func (c *Client) PutUser(ctx context.Context, id, name, email string) error {
	in, err := structpb.NewStruct(map[string]any{"id": id, "name": name, "email": email})
	if err != nil {
		return err
	}
	return c.conn.Invoke(ctx, methodPutUser, in, new(emptypb.Empty))
}

func (c *Client) PutGroup(ctx context.Context, id, name, admin string, members []string) error {
	list := make([]any, len(members))
	for i, m := range members {
		list[i] = m
	}
	in, err := structpb.NewStruct(map[string]any{"id": id, "name": name, "admin_id": admin, "members": list})
	if err != nil {
		return err
	}
	return c.conn.Invoke(ctx, methodPutGroup, in, new(emptypb.Empty))
}

// WatchEvents calls fn for every event whose kind starts with prefix until
// ctx ends or fn returns an error.
func (c *Client) WatchEvents(ctx context.Context, prefix string, fn func(*structpb.Struct) error) error {
	stream, err := c.conn.NewStream(ctx, &AdminServiceDesc.Streams[0], methodWatchEvents)
	if err != nil {
		return err
	}
	in, err := structpb.NewStruct(map[string]any{"prefix": prefix})
	if err != nil {
		return err
	}
	if err := stream.SendMsg(in); err != nil {
		return err
	}
	if err := stream.CloseSend(); err != nil {
		return err
	}
	for {
		evt := new(structpb.Struct)
		if err := stream.RecvMsg(evt); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if err := fn(evt); err != nil {
			return err
		}
	}
}
