package service

import (
	"context"
	"sync"
	"time"

	"github.com/SergeiKhy/deeplink-service/internal/repository"
	"go.uber.org/zap"
)

// ExpirySweeper периодически удаляет истёкшие отложенные ссылки в
// хранилищах без нативного TTL.
type ExpirySweeper struct {
	purger   repository.ExpiredPurger
	interval time.Duration
	logger   *zap.Logger
	wg       sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc
}

const defaultSweepInterval = time.Minute

func NewExpirySweeper(purger repository.ExpiredPurger, interval time.Duration, logger *zap.Logger) *ExpirySweeper {
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &ExpirySweeper{
		purger:   purger,
		interval: interval,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
	}
}

func (s *ExpirySweeper) Start() {
	s.logger.Info("Запуск очистки истёкших ссылок", zap.Duration("interval", s.interval))

	s.wg.Add(1)
	go s.loop()
}

func (s *ExpirySweeper) Stop() {
	s.cancel()
	s.wg.Wait()
	s.logger.Info("Очистка истёкших ссылок остановлена")
}

func (s *ExpirySweeper) loop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(s.ctx)
		}
	}
}

// Sweep один проход очистки
func (s *ExpirySweeper) Sweep(ctx context.Context) int64 {
	purged, err := s.purger.PurgeExpired(ctx)
	if err != nil {
		s.logger.Warn("Не удалось удалить истёкшие ссылки", zap.Error(err))
		return 0
	}
	if purged > 0 {
		s.logger.Debug("Удалены истёкшие ссылки", zap.Int64("count", purged))
	}
	return purged
}
