package app

import (
	"context"
	"time"

	"github.com/appetiteclub/apt"
	"github.com/robfig/cron/v3"

	"github.com/tanoorlab/tanoor/internal/queue"
)

const midnightSpec = "0 0 * * *"

// MidnightJob rolls every bakery over to a fresh numbering day at local
// midnight. The purge snapshots the closing state first, so yesterday
// stays auditable through the journal.
type MidnightJob struct {
	logger  apt.Logger
	service *queue.Service
	cron    *cron.Cron
}

func NewMidnightJob(service *queue.Service, loc *time.Location, logger apt.Logger) *MidnightJob {
	if logger == nil {
		logger = apt.NewNoopLogger()
	}
	if loc == nil {
		loc = time.UTC
	}
	return &MidnightJob{
		logger:  logger,
		service: service,
		cron:    cron.New(cron.WithLocation(loc)),
	}
}

func (m *MidnightJob) Start(ctx context.Context) error {
	_, err := m.cron.AddFunc(midnightSpec, m.rollover)
	if err != nil {
		return err
	}
	m.cron.Start()
	m.logger.Info("midnight rollover scheduled", "spec", midnightSpec)
	return nil
}

func (m *MidnightJob) Stop(ctx context.Context) error {
	stopped := m.cron.Stop()
	select {
	case <-stopped.Done():
	case <-ctx.Done():
	}
	return nil
}

func (m *MidnightJob) rollover() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	m.logger.Info("midnight rollover started")
	if err := m.service.ResetDay(ctx); err != nil {
		m.logger.Error("midnight rollover failed", "error", err)
		return
	}
	m.logger.Info("midnight rollover finished")
}
