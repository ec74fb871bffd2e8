package repository

import (
	"context"
	"errors"

	"github.com/SergeiKhy/deeplink-service/internal/models"
)

// NotFound ошибки. Истёкшая запись неотличима от отсутствующей.
var (
	ErrPendingLinkNotFound = errors.New("pending link not found")
	ErrReferralNotFound    = errors.New("referral not found")
)

// Пространства ключей отложенных ссылок. Одинаковые строки в разных
// пространствах не пересекаются.
const (
	namespaceDevice      = "device"
	namespaceFingerprint = "fingerprint"
)

// PendingLinkRepository хранит отложенные ссылки. Get* атомарно забирает
// запись: её получит не более одного вызывающего.
type PendingLinkRepository interface {
	SavePendingLink(ctx context.Context, deviceID string, link *models.PendingLink) error
	GetPendingLink(ctx context.Context, deviceID string) (*models.PendingLink, error)
	DeletePendingLink(ctx context.Context, deviceID string) error

	SavePendingLinkByFingerprint(ctx context.Context, fingerprint string, link *models.PendingLink) error
	GetPendingLinkByFingerprint(ctx context.Context, fingerprint string) (*models.PendingLink, error)
	DeletePendingLinkByFingerprint(ctx context.Context, fingerprint string) error
}

// ReferralRepository хранит рефералов. SaveReferral сохраняет запись,
// только если для RefereeID её ещё нет, и сообщает, была ли она записана.
type ReferralRepository interface {
	SaveReferral(ctx context.Context, referral *models.Referral) (bool, error)
	GetReferralsByReferrer(ctx context.Context, referrerID string) ([]models.Referral, error)
	GetReferralByReferee(ctx context.Context, refereeID string) (*models.Referral, error)
}

type ClickRepository interface {
	RecordClick(ctx context.Context, click *models.Click) error
	GetStats(ctx context.Context) (*models.ClickStats, error)
}

// ExpiredPurger реализуют хранилища без собственного TTL
type ExpiredPurger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// Storage полный набор возможностей одного бэкенда
type Storage interface {
	PendingLinkRepository
	ReferralRepository
	ClickRepository
	Close() error
}
