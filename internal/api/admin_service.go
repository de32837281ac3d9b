package api

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/matheus3301/pulse/internal/bus"
	"github.com/matheus3301/pulse/internal/registry"
	"github.com/matheus3301/pulse/internal/status"
	"github.com/matheus3301/pulse/internal/store"
	"github.com/samber/lo"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// Directory is the durable user and group catalog managed by operators.
type Directory interface {
	PutUser(ctx context.Context, u *store.User) error
	PutGroup(ctx context.Context, g *store.Group) error
}

// Counters samples live coordinator sizes for Status.
type Counters struct {
	Channels      func() int
	Conversations func() int
}

// AdminService implements AdminServer.
type AdminService struct {
	instance  string
	startedAt time.Time
	machine   *status.Machine
	registry  *registry.Registry
	dir       Directory
	counters  Counters
	bus       *bus.Bus
	logger    *zap.Logger
}

// NewAdminService creates a new admin service.
func NewAdminService(instance string, machine *status.Machine, reg *registry.Registry, dir Directory, counters Counters, b *bus.Bus, logger *zap.Logger) *AdminService {
	return &AdminService{
		instance:  instance,
		startedAt: time.Now(),
		machine:   machine,
		registry:  reg,
		dir:       dir,
		counters:  counters,
		bus:       b,
		logger:    logger.Named("admin"),
	}
}

func (s *AdminService) Status(_ context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	stats := s.registry.Stats()
	fields := map[string]any{
		"instance":     s.instance,
		"state":        string(s.machine.Current()),
		"uptime_ms":    time.Since(s.startedAt).Milliseconds(),
		"sessions":     stats.Sessions,
		"online_users": stats.Users,
		"bus_dropped":  s.bus.Dropped(),
	}
	if s.counters.Channels != nil {
		fields["channels"] = s.counters.Channels()
	}
	if s.counters.Conversations != nil {
		fields["active_conversations"] = s.counters.Conversations()
	}
	return newStruct(fields)
}

func (s *AdminService) ListOnline(_ context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	users := lo.Map(s.registry.OnlineUsers(), func(u string, _ int) any { return u })
	return newStruct(map[string]any{"users": users})
}

func (s *AdminService) PutUser(ctx context.Context, in *structpb.Struct) (*emptypb.Empty, error) {
	u := &store.User{
		ID:    stringField(in, "id"),
		Name:  stringField(in, "name"),
		Email: stringField(in, "email"),
	}
	if u.ID == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "id is required")
	}
	if err := s.dir.PutUser(ctx, u); err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "put user: %v", err)
	}
	s.logger.Info("user saved", zap.String("user", u.ID))
	return &emptypb.Empty{}, nil
}

func (s *AdminService) PutGroup(ctx context.Context, in *structpb.Struct) (*emptypb.Empty, error) {
	g := &store.Group{
		ID:      stringField(in, "id"),
		Name:    stringField(in, "name"),
		AdminID: stringField(in, "admin_id"),
	}
	if g.ID == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "id is required")
	}
	if v, ok := in.GetFields()["members"]; ok {
		for _, m := range v.GetListValue().GetValues() {
			if id := strings.TrimSpace(m.GetStringValue()); id != "" {
				g.Members = append(g.Members, id)
			}
		}
	}
	g.Members = lo.Uniq(g.Members)
	if err := s.dir.PutGroup(ctx, g); err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "put group: %v", err)
	}
	s.logger.Info("group saved", zap.String("group", g.ID), zap.Int("members", len(g.Members)))
	return &emptypb.Empty{}, nil
}

// WatchEvents streams bus events whose kind starts with the "prefix" field
// until the client goes away.
func (s *AdminService) WatchEvents(in *structpb.Struct, stream grpc.ServerStream) error {
	ch, unsub := s.bus.Subscribe(stringField(in, "prefix"), 256)
	defer unsub()

	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case evt := <-ch:
			out, err := eventStruct(evt)
			if err != nil {
				s.logger.Warn("failed to encode event", zap.String("kind", evt.Kind), zap.Error(err))
				continue
			}
			if err := stream.SendMsg(out); err != nil {
				return err
			}
		}
	}
}

func eventStruct(evt bus.Event) (*structpb.Struct, error) {
	var payload any
	if evt.Payload != nil {
		raw, err := json.Marshal(evt.Payload)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(raw, &payload); err != nil {
			return nil, err
		}
	}
	return newStruct(map[string]any{
		"kind":    evt.Kind,
		"ts":      evt.Timestamp.UTC().Format(time.RFC3339Nano),
		"payload": payload,
	})
}

func newStruct(fields map[string]any) (*structpb.Struct, error) {
	s, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "encode response: %v", err)
	}
	return s, nil
}

func stringField(s *structpb.Struct, key string) string {
	return strings.TrimSpace(s.GetFields()[key].GetStringValue())
}
