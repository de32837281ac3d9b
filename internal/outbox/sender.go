package outbox

import (
	"context"
	"time"

	"github.com/matheus3301/pulse/internal/bus"
	"github.com/matheus3301/pulse/internal/mail"
	"github.com/matheus3301/pulse/internal/store"
	"go.uber.org/zap"
)

// Store is the email outbox the sender drains.
type Store interface {
	PendingEmails(ctx context.Context, limit int) ([]store.EmailEntry, error)
	MarkEmailSending(ctx context.Context, id int64) (bool, error)
	MarkEmailSent(ctx context.Context, id int64) error
	MarkEmailFailed(ctx context.Context, id int64, errMsg string, maxAttempts int) error
}

// Options tunes the polling loop.
type Options struct {
	PollInterval time.Duration
	MaxAttempts  int
	BatchSize    int
}

// Sender drains the email outbox and hands each entry to the mailer.
// Delivery failures never reach the messaging path.
type Sender struct {
	db     Store
	mailer mail.Mailer
	bus    *bus.Bus
	logger *zap.Logger
	opts   Options
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSender creates a new outbox sender.
func NewSender(db Store, mailer mail.Mailer, b *bus.Bus, logger *zap.Logger, opts Options) *Sender {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 50
	}
	return &Sender{
		db:     db,
		mailer: mailer,
		bus:    b,
		logger: logger.Named("outbox"),
		opts:   opts,
	}
}

// Start begins polling the outbox for pending emails.
func (s *Sender) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.loop(ctx)
}

// Stop stops the sender loop and waits for the in-flight batch.
func (s *Sender) Stop() {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
}

func (s *Sender) loop(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.processPending(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Sender) processPending(ctx context.Context) {
	pending, err := s.db.PendingEmails(ctx, s.opts.BatchSize)
	if err != nil {
		s.logger.Error("failed to read outbox", zap.Error(err))
		return
	}

	for _, entry := range pending {
		if ctx.Err() != nil {
			return
		}
		ok, err := s.db.MarkEmailSending(ctx, entry.ID)
		if err != nil {
			s.logger.Error("failed to mark sending", zap.Error(err), zap.Int64("email_id", entry.ID))
			continue
		}
		if !ok {
			continue
		}

		if err := s.mailer.Send(ctx, entry.Recipient, entry.Subject, entry.Body); err != nil {
			s.logger.Warn("failed to send email", zap.Error(err), zap.Int64("email_id", entry.ID), zap.Int("attempt", entry.Attempts+1))
			// The claim must be released even when the loop is being cancelled.
			if err := s.db.MarkEmailFailed(context.WithoutCancel(ctx), entry.ID, err.Error(), s.opts.MaxAttempts); err != nil {
				s.logger.Error("failed to mark failed", zap.Error(err), zap.Int64("email_id", entry.ID))
			}
			s.bus.Emit(bus.KindMailFailed, bus.Mail{ID: entry.ID, Recipient: entry.Recipient, Error: err.Error()})
			continue
		}

		// A sent email left in sending would be requeued and sent again at boot.
		if err := s.db.MarkEmailSent(context.WithoutCancel(ctx), entry.ID); err != nil {
			s.logger.Error("failed to mark sent", zap.Error(err), zap.Int64("email_id", entry.ID))
		}
		s.logger.Info("email sent", zap.Int64("email_id", entry.ID))
		s.bus.Emit(bus.KindMailSent, bus.Mail{ID: entry.ID, Recipient: entry.Recipient})
	}
}
