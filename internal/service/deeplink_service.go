package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/SergeiKhy/deeplink-service/internal/fingerprint"
	"github.com/SergeiKhy/deeplink-service/internal/models"
	"github.com/SergeiKhy/deeplink-service/internal/repository"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultPendingLinkTTL сколько живёт отложенная ссылка после клика
const DefaultPendingLinkTTL = 7 * 24 * time.Hour

// DeepLinkService сохраняет клики по диплинкам и отдаёт их приложению
// после установки.
type DeepLinkService interface {
	CaptureLink(ctx context.Context, input *models.CaptureInput) (*models.PendingLink, error)
	GetPendingLink(ctx context.Context, deviceID string) (*models.DeepLinkData, error)
	GetPendingLinkByFingerprint(ctx context.Context, ip string) (*models.DeepLinkData, error)
	DeletePendingLink(ctx context.Context, deviceID string) error
}

type deepLinkService struct {
	repo   repository.PendingLinkRepository
	clicks ClickProcessor
	ttl    time.Duration
	logger *zap.Logger
	now    func() time.Time
}

func NewDeepLinkService(
	repo repository.PendingLinkRepository,
	clicks ClickProcessor,
	ttl time.Duration,
	logger *zap.Logger,
) DeepLinkService {
	if ttl <= 0 {
		ttl = DefaultPendingLinkTTL
	}
	return &deepLinkService{
		repo:   repo,
		clicks: clicks,
		ttl:    ttl,
		logger: logger,
		now:    time.Now,
	}
}

// CaptureLink сохраняет намерение под отпечатком IP и, если известен,
// под идентификатором устройства. Копии живут и истекают независимо.
func (s *deepLinkService) CaptureLink(ctx context.Context, input *models.CaptureInput) (*models.PendingLink, error) {
	params := input.Params
	if params == nil {
		params = map[string]any{}
	}

	now := s.now()
	link := &models.PendingLink{
		URL:       input.URL,
		Params:    params,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}

	fp := fingerprint.FromIP(input.ClientIP)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := s.repo.SavePendingLinkByFingerprint(gctx, fp, link); err != nil {
			return fmt.Errorf("save by fingerprint: %w", err)
		}
		return nil
	})
	if input.DeviceID != "" {
		g.Go(func() error {
			if err := s.repo.SavePendingLink(gctx, input.DeviceID, link); err != nil {
				return fmt.Errorf("save by device: %w", err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	s.logger.Debug("Pending link captured",
		zap.String("fingerprint", fp),
		zap.Bool("has_device_id", input.DeviceID != ""),
		zap.String("platform", string(input.Platform)),
	)

	s.record(ctx, &models.ClickEvent{
		Kind:        models.ClickKindCapture,
		Platform:    input.Platform,
		Fingerprint: fp,
		HasDeviceID: input.DeviceID != "",
	})

	return link, nil
}

// GetPendingLink забирает ссылку по идентификатору устройства
func (s *deepLinkService) GetPendingLink(ctx context.Context, deviceID string) (*models.DeepLinkData, error) {
	link, err := s.repo.GetPendingLink(ctx, deviceID)
	if err != nil {
		return nil, err
	}

	s.record(ctx, &models.ClickEvent{
		Kind:        models.ClickKindMatch,
		MatchSource: models.MatchSourceDevice,
		HasDeviceID: true,
	})

	return toDeepLinkData(link), nil
}

// GetPendingLinkByFingerprint забирает ссылку по отпечатку IP приложения
func (s *deepLinkService) GetPendingLinkByFingerprint(ctx context.Context, ip string) (*models.DeepLinkData, error) {
	fp := fingerprint.FromIP(ip)

	link, err := s.repo.GetPendingLinkByFingerprint(ctx, fp)
	if err != nil {
		return nil, err
	}

	s.record(ctx, &models.ClickEvent{
		Kind:        models.ClickKindMatch,
		MatchSource: models.MatchSourceFingerprint,
		Fingerprint: fp,
	})

	return toDeepLinkData(link), nil
}

func (s *deepLinkService) DeletePendingLink(ctx context.Context, deviceID string) error {
	return s.repo.DeletePendingLink(ctx, deviceID)
}

// record отправляет событие в статистику, ошибки статистики не влияют на запрос
func (s *deepLinkService) record(ctx context.Context, event *models.ClickEvent) {
	if s.clicks == nil {
		return
	}
	if err := s.clicks.RecordClick(ctx, event); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Debug("Failed to record click (non-blocking)", zap.Error(err))
	}
}

func toDeepLinkData(link *models.PendingLink) *models.DeepLinkData {
	return &models.DeepLinkData{
		URL:        link.URL,
		Params:     link.Params,
		IsDeferred: true,
	}
}
