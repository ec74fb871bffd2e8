package repository

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/SergeiKhy/deeplink-service/internal/models"
)

type pendingKey struct {
	namespace string
	key       string
}

// MemoryStorage хранит всё в памяти процесса. Доступ к картам только через
// методы под мьютексом. Истёкшие записи удаляются при чтении и через
// PurgeExpired.
type MemoryStorage struct {
	mu         sync.Mutex
	pending    map[pendingKey]models.PendingLink
	referrals  map[string]models.Referral // refereeID -> referral
	byReferrer map[string][]string        // referrerID -> refereeIDs в порядке записи
	stats      *models.ClickStats
	now        func() time.Time
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		pending:    make(map[pendingKey]models.PendingLink),
		referrals:  make(map[string]models.Referral),
		byReferrer: make(map[string][]string),
		stats:      models.NewClickStats(),
		now:        time.Now,
	}
}

func (s *MemoryStorage) SavePendingLink(ctx context.Context, deviceID string, link *models.PendingLink) error {
	return s.savePending(pendingKey{namespaceDevice, deviceID}, link)
}

func (s *MemoryStorage) GetPendingLink(ctx context.Context, deviceID string) (*models.PendingLink, error) {
	return s.takePending(pendingKey{namespaceDevice, deviceID})
}

func (s *MemoryStorage) DeletePendingLink(ctx context.Context, deviceID string) error {
	s.deletePending(pendingKey{namespaceDevice, deviceID})
	return nil
}

func (s *MemoryStorage) SavePendingLinkByFingerprint(ctx context.Context, fingerprint string, link *models.PendingLink) error {
	return s.savePending(pendingKey{namespaceFingerprint, fingerprint}, link)
}

func (s *MemoryStorage) GetPendingLinkByFingerprint(ctx context.Context, fingerprint string) (*models.PendingLink, error) {
	return s.takePending(pendingKey{namespaceFingerprint, fingerprint})
}

func (s *MemoryStorage) DeletePendingLinkByFingerprint(ctx context.Context, fingerprint string) error {
	s.deletePending(pendingKey{namespaceFingerprint, fingerprint})
	return nil
}

func (s *MemoryStorage) savePending(key pendingKey, link *models.PendingLink) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if link.Expired(s.now()) {
		delete(s.pending, key)
		return nil
	}
	s.pending[key] = clonePendingLink(*link)
	return nil
}

// takePending читает и удаляет запись под одной блокировкой
func (s *MemoryStorage) takePending(key pendingKey) (*models.PendingLink, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	link, ok := s.pending[key]
	if !ok {
		return nil, ErrPendingLinkNotFound
	}
	delete(s.pending, key)

	if link.Expired(s.now()) {
		return nil, ErrPendingLinkNotFound
	}
	link = clonePendingLink(link)
	return &link, nil
}

func (s *MemoryStorage) deletePending(key pendingKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, key)
}

// PurgeExpired удаляет все истёкшие отложенные ссылки
func (s *MemoryStorage) PurgeExpired(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var purged int64
	for key, link := range s.pending {
		if link.Expired(now) {
			delete(s.pending, key)
			purged++
		}
	}
	return purged, nil
}

func (s *MemoryStorage) SaveReferral(ctx context.Context, referral *models.Referral) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.referrals[referral.RefereeID]; exists {
		return false, nil
	}

	s.referrals[referral.RefereeID] = cloneReferral(*referral)
	s.byReferrer[referral.ReferrerID] = append(s.byReferrer[referral.ReferrerID], referral.RefereeID)
	return true, nil
}

func (s *MemoryStorage) GetReferralsByReferrer(ctx context.Context, referrerID string) ([]models.Referral, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	refereeIDs := s.byReferrer[referrerID]
	referrals := make([]models.Referral, 0, len(refereeIDs))
	for _, id := range refereeIDs {
		referrals = append(referrals, cloneReferral(s.referrals[id]))
	}
	return referrals, nil
}

func (s *MemoryStorage) GetReferralByReferee(ctx context.Context, refereeID string) (*models.Referral, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	referral, ok := s.referrals[refereeID]
	if !ok {
		return nil, ErrReferralNotFound
	}
	referral = cloneReferral(referral)
	return &referral, nil
}

func (s *MemoryStorage) RecordClick(ctx context.Context, click *models.Click) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stats.Add(click.Kind, click.Platform, click.MatchSource, 1)
	return nil
}

func (s *MemoryStorage) GetStats(ctx context.Context) (*models.ClickStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := models.NewClickStats()
	stats.TotalCaptures = s.stats.TotalCaptures
	stats.TotalMatches = s.stats.TotalMatches
	for k, v := range s.stats.ByPlatform {
		stats.ByPlatform[k] = v
	}
	for k, v := range s.stats.ByMatchSource {
		stats.ByMatchSource[k] = v
	}
	return stats, nil
}

func (s *MemoryStorage) Close() error {
	return nil
}

// Карты параметров копируются на входе и на выходе: записи в хранилище
// не разделяют их ни с вызывающим, ни друг с другом.
func clonePendingLink(link models.PendingLink) models.PendingLink {
	link.Params = maps.Clone(link.Params)
	return link
}

func cloneReferral(referral models.Referral) models.Referral {
	referral.Metadata = maps.Clone(referral.Metadata)
	return referral
}
