package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/LeventeLantos/sms-assistant/internal/delivery"
	"github.com/LeventeLantos/sms-assistant/internal/repo"
)

type SweepOptions struct {
	BatchSize  int
	MaxAge     time.Duration
	StaleAfter time.Duration
}

// Sweeper re-queues outbound messages left pending, such as those whose
// process stopped before delivery finished.
type Sweeper struct {
	msgs     repo.MessageRepository
	dispatch Enqueuer
	opts     SweepOptions
	log      *slog.Logger
}

func NewSweeper(msgs repo.MessageRepository, dispatch Enqueuer, opts SweepOptions, log *slog.Logger) *Sweeper {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 50
	}
	if log == nil {
		log = slog.Default()
	}
	return &Sweeper{msgs: msgs, dispatch: dispatch, opts: opts, log: log}
}

// Tick claims one batch and enqueues it. It stops early when the queue is
// full; claimed but unqueued messages become eligible again after StaleAfter.
func (s *Sweeper) Tick(ctx context.Context) (int, error) {
	batch, err := s.msgs.ClaimPending(ctx, s.opts.BatchSize, s.opts.MaxAge, s.opts.StaleAfter)
	if err != nil {
		return 0, err
	}
	if len(batch) == 0 {
		return 0, nil
	}

	queued := 0
	for _, m := range batch {
		job := delivery.Job{MessageID: m.ID, Target: m.To, Text: m.Body, Devices: m.DeviceID}
		if err := s.dispatch.Enqueue(job); err != nil {
			s.log.Warn("sweep enqueue stopped", "message_id", m.ID, "error", err)
			break
		}
		queued++
	}

	s.log.Info("pending messages swept", "claimed", len(batch), "queued", queued)
	return queued, nil
}
