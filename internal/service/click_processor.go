package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/SergeiKhy/deeplink-service/internal/models"
	"github.com/SergeiKhy/deeplink-service/internal/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Константы worker pool
const (
	defaultWorkerCount   = 3    // Количество воркеров
	defaultChannelBuffer = 1000 // Размер буфера канала
	maxRetries           = 3    // Максимальное количество попыток записи
)

// ErrClickProcessorStopped событие пришло после Stop
var ErrClickProcessorStopped = errors.New("click processor stopped")

// ClickProcessor асинхронно пишет события кликов и совпадений
type ClickProcessor interface {
	Start()
	Stop()
	RecordClick(ctx context.Context, event *models.ClickEvent) error
	GetStats(ctx context.Context) (*models.ClickStats, error)
	QueueStats() QueueStats
}

// QueueStats состояние очереди worker pool
type QueueStats struct {
	BufferSize  int `json:"buffer_size"`  // Общая ёмкость канала
	BufferUsed  int `json:"buffer_used"`  // Текущее использование
	WorkerCount int `json:"worker_count"` // Количество воркеров
}

type clickProcessor struct {
	clickRepo    repository.ClickRepository
	logger       *zap.Logger
	clickChannel chan *models.ClickEvent
	workerCount  int
	wg           sync.WaitGroup
	ctx          context.Context
	cancel       context.CancelFunc
}

func NewClickProcessor(clickRepo repository.ClickRepository, logger *zap.Logger) ClickProcessor {
	ctx, cancel := context.WithCancel(context.Background())
	return &clickProcessor{
		clickRepo:    clickRepo,
		logger:       logger,
		clickChannel: make(chan *models.ClickEvent, defaultChannelBuffer),
		workerCount:  defaultWorkerCount,
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Start запускает worker pool
func (p *clickProcessor) Start() {
	p.logger.Info("Запуск воркеров процессора кликов", zap.Int("count", p.workerCount))

	for i := 0; i < p.workerCount; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
}

// Stop останавливает воркеры, дописав уже принятые события
func (p *clickProcessor) Stop() {
	p.logger.Info("Остановка процессора кликов...")
	p.cancel()
	p.wg.Wait()
	p.logger.Info("Процессор кликов остановлен")
}

func (p *clickProcessor) worker(id int) {
	defer p.wg.Done()

	p.logger.Debug("Воркер кликов запущен", zap.Int("id", id))

	for {
		select {
		case <-p.ctx.Done():
			p.drain()
			p.logger.Debug("Воркер кликов остановлен", zap.Int("id", id))
			return

		case event := <-p.clickChannel:
			p.processClick(context.Background(), event)
		}
	}
}

// drain дописывает то, что осталось в буфере на момент остановки
func (p *clickProcessor) drain() {
	for {
		select {
		case event := <-p.clickChannel:
			p.processClick(context.Background(), event)
		default:
			return
		}
	}
}

// processClick пишет одно событие с retry логикой
func (p *clickProcessor) processClick(parent context.Context, event *models.ClickEvent) {
	ctx, cancel := context.WithTimeout(parent, 5*time.Second)
	defer cancel()

	click := &models.Click{
		ID:          uuid.New(),
		Kind:        event.Kind,
		Platform:    event.Platform,
		MatchSource: event.MatchSource,
		Fingerprint: event.Fingerprint,
		HasDeviceID: event.HasDeviceID,
		OccurredAt:  time.Now(),
	}

	var err error
	for i := 0; i < maxRetries; i++ {
		if err = p.clickRepo.RecordClick(ctx, click); err == nil {
			return
		}
		if i < maxRetries-1 {
			p.logger.Debug("Повторная попытка записи клика",
				zap.String("kind", string(event.Kind)),
				zap.Int("attempt", i+1),
				zap.Error(err),
			)
			time.Sleep(time.Duration(i+1) * 100 * time.Millisecond)
		}
	}

	p.logger.Error("Не удалось записать клик после всех попыток",
		zap.String("kind", string(event.Kind)),
		zap.Error(err),
	)
}

// RecordClick отправляет событие в worker pool (неблокирующая операция)
func (p *clickProcessor) RecordClick(ctx context.Context, event *models.ClickEvent) error {
	// После Stop читать канал некому
	if p.ctx.Err() != nil {
		p.logger.Warn("Процессор кликов остановлен, событие потеряно",
			zap.String("kind", string(event.Kind)),
		)
		return ErrClickProcessorStopped
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case p.clickChannel <- event:
		return nil
	default:
		// Канал заполнен: теряем статистику, но не блокируем запрос
		p.logger.Warn("Буфер канала кликов заполнен, событие потеряно",
			zap.String("kind", string(event.Kind)),
		)
		return nil
	}
}

func (p *clickProcessor) GetStats(ctx context.Context) (*models.ClickStats, error) {
	return p.clickRepo.GetStats(ctx)
}

func (p *clickProcessor) QueueStats() QueueStats {
	return QueueStats{
		BufferSize:  cap(p.clickChannel),
		BufferUsed:  len(p.clickChannel),
		WorkerCount: p.workerCount,
	}
}
