package sweeper

import (
	"context"
	"log"
	"parking_reserve/internal/service"
	"time"

	"github.com/go-co-op/gocron/v2"
)

// Sweeper chạy ExpireOverdue định kỳ. Singleton mode đảm bảo hai lần
// quét không bao giờ chạy chồng lên nhau; bản thân ExpireOverdue cũng
// idempotent nên có chạy trùng giữa nhiều instance cũng vô hại.
type Sweeper struct {
	engine    *service.ReservationService
	interval  time.Duration
	scheduler gocron.Scheduler
}

func New(engine *service.ReservationService, interval time.Duration) (*Sweeper, error) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}
	return &Sweeper{
		engine:    engine,
		interval:  interval,
		scheduler: scheduler,
	}, nil
}

func (s *Sweeper) Start(ctx context.Context) error {
	_, err := s.scheduler.NewJob(
		gocron.DurationJob(s.interval),
		gocron.NewTask(func() {
			s.sweep(ctx)
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return err
	}
	s.scheduler.Start()
	log.Printf("Sweeper đã khởi động, chu kỳ quét %s", s.interval)
	return nil
}

func (s *Sweeper) Stop() error {
	return s.scheduler.Shutdown()
}

func (s *Sweeper) sweep(ctx context.Context) {
	sweepCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	expired, err := s.engine.ExpireOverdue(sweepCtx)
	if err != nil {
		log.Printf("Sweeper: lỗi quét reservation quá hạn: %v. Thử lại một lần.", err)
		// ExpireOverdue idempotent nên retry một lần là an toàn.
		expired, err = s.engine.ExpireOverdue(sweepCtx)
		if err != nil {
			log.Printf("Sweeper: retry thất bại: %v", err)
			return
		}
	}
	if len(expired) > 0 {
		log.Printf("Sweeper: đã expire %d reservation quá hạn", len(expired))
	}
}
