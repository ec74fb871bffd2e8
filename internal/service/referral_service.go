package service

import (
	"context"
	"time"

	"github.com/SergeiKhy/deeplink-service/internal/models"
	"github.com/SergeiKhy/deeplink-service/internal/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ReferralService учитывает приглашения. Первый записанный реферал для
// пользователя окончательный.
type ReferralService interface {
	TrackReferral(ctx context.Context, referralCode, refereeID string, metadata map[string]any) (bool, error)
	GetReferrals(ctx context.Context, referrerID string) ([]models.Referral, error)
	GetReferralForUser(ctx context.Context, refereeID string) (*models.Referral, error)
}

type referralService struct {
	repo   repository.ReferralRepository
	logger *zap.Logger
	now    func() time.Time
}

func NewReferralService(repo repository.ReferralRepository, logger *zap.Logger) ReferralService {
	return &referralService{
		repo:   repo,
		logger: logger,
		now:    time.Now,
	}
}

// TrackReferral привязывает refereeID к владельцу кода. Возвращает false,
// если у пользователя уже есть реферал: повторная попытка не ошибка.
func (s *referralService) TrackReferral(ctx context.Context, referralCode, refereeID string, metadata map[string]any) (bool, error) {
	referral := &models.Referral{
		ID:           uuid.New(),
		ReferrerID:   referralCode,
		RefereeID:    refereeID,
		ReferralCode: referralCode,
		Timestamp:    s.now(),
		Metadata:     metadata,
	}

	recorded, err := s.repo.SaveReferral(ctx, referral)
	if err != nil {
		return false, err
	}

	if !recorded {
		s.logger.Debug("Referral already attributed, attempt ignored",
			zap.String("referral_code", referralCode),
			zap.String("referee_id", refereeID),
		)
	}

	return recorded, nil
}

func (s *referralService) GetReferrals(ctx context.Context, referrerID string) ([]models.Referral, error) {
	return s.repo.GetReferralsByReferrer(ctx, referrerID)
}

func (s *referralService) GetReferralForUser(ctx context.Context, refereeID string) (*models.Referral, error) {
	return s.repo.GetReferralByReferee(ctx, refereeID)
}
