package signatures

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/R3E-Network/signflow/internal/app/domain/audit"
	"github.com/R3E-Network/signflow/internal/app/domain/document"
	"github.com/R3E-Network/signflow/internal/app/domain/notification"
	"github.com/R3E-Network/signflow/internal/app/domain/signature"
	"github.com/R3E-Network/signflow/internal/app/system"
	"github.com/R3E-Network/signflow/pkg/logger"
)

// SweepExpired moves in-progress requests past their expiry to expired and
// returns how many were moved.
func (s *Service) SweepExpired(ctx context.Context) (int, error) {
	reqs, err := s.store.ListRequestsByStatus(ctx, signature.StatusInProgress)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, candidate := range reqs {
		if err := ctx.Err(); err != nil {
			return count, err
		}
		if !candidate.Expired(s.now()) {
			continue
		}
		expired := false
		err := s.withLock(candidate.ID, func() error {
			req, err := s.loadRequest(ctx, candidate.OrganizationID, candidate.ID)
			if err != nil {
				return err
			}
			if req.Status != signature.StatusInProgress || !req.Expired(s.now()) {
				return nil
			}
			if req, err = s.transition(ctx, req, signature.StatusExpired); err != nil {
				return err
			}
			expired = true
			if _, err := s.documents.SetStatus(ctx, req.OrganizationID, req.DocumentID, document.StatusDraft); err != nil {
				s.log.WithError(err).WithField("document_id", req.DocumentID).Warn("reset document status failed")
			}
			s.record(ctx, req.OrganizationID, audit.ActorSystem, "", "signature_request.expired", req.ID, nil)

			data := map[string]any{"Title": req.Title, "ExpiresAt": *req.ExpiresAt}
			s.notifyCreator(ctx, req, notification.KindRequestExpired, data)
			ps, err := s.store.ListParticipants(ctx, req.ID)
			if err != nil {
				return err
			}
			for _, p := range ps {
				if p.NotifiedAt != nil && !p.Status.Done() {
					s.notify(ctx, req.OrganizationID, notification.KindRequestExpired, p.Email, with(data, "Name", p.Name))
				}
			}
			return nil
		})
		if err != nil {
			s.log.WithError(err).WithField("request_id", candidate.ID).Error("expire signature request failed")
			continue
		}
		if expired {
			count++
		}
	}
	return count, nil
}

// SendReminders reminds active participants that have not been contacted for
// ReminderAfter and returns how many were reminded.
func (s *Service) SendReminders(ctx context.Context) (int, error) {
	if s.cfg.ReminderAfter <= 0 {
		return 0, nil
	}
	reqs, err := s.store.ListRequestsByStatus(ctx, signature.StatusInProgress)
	if err != nil {
		return 0, err
	}
	now := s.now()
	due := func(p signature.Participant) bool {
		last := p.NotifiedAt
		if p.LastRemindedAt != nil {
			last = p.LastRemindedAt
		}
		return last != nil && now.Sub(*last) >= s.cfg.ReminderAfter
	}

	total := 0
	for _, candidate := range reqs {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		if candidate.Expired(now) {
			continue
		}
		err := s.withLock(candidate.ID, func() error {
			req, err := s.loadRequest(ctx, candidate.OrganizationID, candidate.ID)
			if err != nil {
				return err
			}
			if req.Status != signature.StatusInProgress {
				return nil
			}
			n, err := s.remind(ctx, req, due)
			total += n
			if n > 0 {
				s.record(ctx, req.OrganizationID, audit.ActorSystem, "", "signature_request.reminded", req.ID,
					map[string]string{"participants": fmt.Sprint(n)})
			}
			return err
		})
		if err != nil {
			s.log.WithError(err).WithField("request_id", candidate.ID).Error("send reminders failed")
		}
	}
	return total, nil
}

var _ system.Service = (*Sweeper)(nil)

// Sweeper runs SweepExpired and SendReminders on a cron schedule.
type Sweeper struct {
	svc      *Service
	expr     string
	schedule cron.Schedule
	log      *logger.Logger

	mu     sync.Mutex
	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
}

// NewSweeper parses expr (standard cron syntax or descriptors such as
// "@every 5m").
func NewSweeper(svc *Service, expr string, log *logger.Logger) (*Sweeper, error) {
	if log == nil {
		log = logger.NewDefault("signature-sweeper")
	}
	schedule, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, fmt.Errorf("parse sweep schedule %q: %w", expr, err)
	}
	return &Sweeper{svc: svc, expr: expr, schedule: schedule, log: log}, nil
}

func (w *Sweeper) Name() string { return "signature-sweeper" }

func (w *Sweeper) Describe() system.Descriptor {
	return system.Descriptor{
		Module:   "signatures",
		Schedule: w.expr,
		Tasks:    []string{"expire-overdue-requests", "remind-idle-participants"},
	}
}

func (w *Sweeper) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cron != nil {
		return nil
	}
	// Sweeps outlive the start call but end with Stop.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c := cron.New()
	c.Schedule(w.schedule, cron.FuncJob(func() { w.Run(runCtx) }))
	c.Start()
	w.cron, w.ctx, w.cancel = c, runCtx, cancel
	w.log.WithContext(ctx).Info("signature sweeper started")
	return nil
}

func (w *Sweeper) Stop(ctx context.Context) error {
	w.mu.Lock()
	c, cancel := w.cron, w.cancel
	w.cron, w.ctx, w.cancel = nil, nil, nil
	w.mu.Unlock()
	if c == nil {
		return nil
	}
	cancel()
	select {
	case <-c.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run performs one sweep.
func (w *Sweeper) Run(ctx context.Context) (expired, reminded int) {
	expired, err := w.svc.SweepExpired(ctx)
	if err != nil {
		w.log.WithError(err).Error("sweep expired requests failed")
	}
	reminded, err = w.svc.SendReminders(ctx)
	if err != nil {
		w.log.WithError(err).Error("send reminders failed")
	}
	if expired > 0 || reminded > 0 {
		w.log.WithField("expired", expired).WithField("reminded", reminded).Info("signature sweep finished")
	}
	return expired, reminded
}
