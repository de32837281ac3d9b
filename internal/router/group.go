package router

import (
	"context"
	"sync"

	"github.com/matheus3301/pulse/internal/bus"
	"github.com/matheus3301/pulse/internal/fault"
	"github.com/matheus3301/pulse/internal/protocol"
	"github.com/matheus3301/pulse/internal/store"
	"github.com/samber/lo"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// SendGroup persists a group message for every other roster member and fans
// it out. Delivery targets the durable roster, not the live channel.
func (r *Router) SendGroup(ctx context.Context, in protocol.SendGroup) (*Receipt, error) {
	if !hasContent(in.Text, in.FileURLs, in.AudioURL) {
		return nil, fault.Payload("text or attachment required")
	}

	g, err := r.store.GetGroup(ctx, in.GroupID)
	if err != nil {
		return nil, fault.Wrap(err, "load group")
	}
	if g == nil {
		return nil, fault.GroupNotFound(in.GroupID)
	}
	if !lo.Contains(g.Members, in.SenderID) {
		return nil, fault.NotMember(in.SenderID, in.GroupID)
	}
	recipients := lo.Uniq(lo.Without(g.Members, in.SenderID))

	m := &store.Message{
		ID:        r.newID(),
		SenderID:  in.SenderID,
		GroupID:   in.GroupID,
		Receivers: recipients,
		Text:      in.Text,
		FileURLs:  in.FileURLs,
		AudioURL:  in.AudioURL,
		CreatedAt: r.opts.Now().UnixMilli(),
	}
	if err := r.store.InsertMessage(ctx, m); err != nil {
		return nil, fault.Wrap(err, "insert message")
	}

	senderName := r.displayName(ctx, in.SenderID)
	receipt := &Receipt{Message: m}
	var (
		mu   sync.Mutex
		errs error
	)
	var eg errgroup.Group
	eg.SetLimit(r.opts.FanoutLimit)
	for _, rcpt := range recipients {
		eg.Go(func() error {
			res, err := r.deliverOrNotify(ctx, rcpt, m, senderName, groupDelivery)
			mu.Lock()
			defer mu.Unlock()
			if res.live {
				receipt.Live++
			}
			if res.notified {
				receipt.Notified++
			}
			errs = multierr.Append(errs, err)
			return nil
		})
	}
	_ = eg.Wait()
	if errs != nil {
		r.logger.Error("group fan-out incomplete",
			zap.String("message", m.ID),
			zap.String("group", m.GroupID),
			zap.Int("failed", len(multierr.Errors(errs))),
			zap.Error(errs))
	}

	r.sessions.EmitUser(in.SenderID, protocol.Outbound{
		Type: protocol.TypeMessageSent,
		Data: protocol.MessageSent{MessageID: m.ID, Live: receipt.Live},
	})
	r.bus.Emit(bus.KindMessageSent, bus.MessageSent{
		MessageID: m.ID, SenderID: m.SenderID, GroupID: m.GroupID, Recipients: len(recipients), Live: receipt.Live,
	})
	return receipt, nil
}
