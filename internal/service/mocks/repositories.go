package mocks

import (
	"context"
	"sync"

	"github.com/SergeiKhy/deeplink-service/internal/models"
	"github.com/SergeiKhy/deeplink-service/internal/repository"
	"github.com/SergeiKhy/deeplink-service/internal/service"
)

// MockPendingLinkRepository implements repository.PendingLinkRepository for testing.
// Err, если задан, возвращается из всех методов.
type MockPendingLinkRepository struct {
	mu            sync.Mutex
	byDevice      map[string]*models.PendingLink
	byFingerprint map[string]*models.PendingLink
	Err           error
}

func NewMockPendingLinkRepository() *MockPendingLinkRepository {
	return &MockPendingLinkRepository{
		byDevice:      make(map[string]*models.PendingLink),
		byFingerprint: make(map[string]*models.PendingLink),
	}
}

func (m *MockPendingLinkRepository) SavePendingLink(ctx context.Context, deviceID string, link *models.PendingLink) error {
	return m.save(m.byDevice, deviceID, link)
}

func (m *MockPendingLinkRepository) GetPendingLink(ctx context.Context, deviceID string) (*models.PendingLink, error) {
	return m.take(m.byDevice, deviceID)
}

func (m *MockPendingLinkRepository) DeletePendingLink(ctx context.Context, deviceID string) error {
	return m.delete(m.byDevice, deviceID)
}

func (m *MockPendingLinkRepository) SavePendingLinkByFingerprint(ctx context.Context, fingerprint string, link *models.PendingLink) error {
	return m.save(m.byFingerprint, fingerprint, link)
}

func (m *MockPendingLinkRepository) GetPendingLinkByFingerprint(ctx context.Context, fingerprint string) (*models.PendingLink, error) {
	return m.take(m.byFingerprint, fingerprint)
}

func (m *MockPendingLinkRepository) DeletePendingLinkByFingerprint(ctx context.Context, fingerprint string) error {
	return m.delete(m.byFingerprint, fingerprint)
}

func (m *MockPendingLinkRepository) save(store map[string]*models.PendingLink, key string, link *models.PendingLink) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	store[key] = link
	return nil
}

func (m *MockPendingLinkRepository) take(store map[string]*models.PendingLink, key string) (*models.PendingLink, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	link, exists := store[key]
	if !exists {
		return nil, repository.ErrPendingLinkNotFound
	}
	delete(store, key)
	return link, nil
}

func (m *MockPendingLinkRepository) delete(store map[string]*models.PendingLink, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	delete(store, key)
	return nil
}

// DeviceKeys возвращает сохранённые идентификаторы устройств
func (m *MockPendingLinkRepository) DeviceKeys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return keys(m.byDevice)
}

// FingerprintKeys возвращает сохранённые отпечатки
func (m *MockPendingLinkRepository) FingerprintKeys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return keys(m.byFingerprint)
}

func keys(store map[string]*models.PendingLink) []string {
	out := make([]string, 0, len(store))
	for k := range store {
		out = append(out, k)
	}
	return out
}

// MockReferralRepository implements repository.ReferralRepository for testing
type MockReferralRepository struct {
	mu        sync.Mutex
	referrals []models.Referral
	Err       error
}

func NewMockReferralRepository() *MockReferralRepository {
	return &MockReferralRepository{}
}

func (m *MockReferralRepository) SaveReferral(ctx context.Context, referral *models.Referral) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return false, m.Err
	}
	for _, r := range m.referrals {
		if r.RefereeID == referral.RefereeID {
			return false, nil
		}
	}
	m.referrals = append(m.referrals, *referral)
	return true, nil
}

func (m *MockReferralRepository) GetReferralsByReferrer(ctx context.Context, referrerID string) ([]models.Referral, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	out := []models.Referral{}
	for _, r := range m.referrals {
		if r.ReferrerID == referrerID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *MockReferralRepository) GetReferralByReferee(ctx context.Context, refereeID string) (*models.Referral, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	for _, r := range m.referrals {
		if r.RefereeID == refereeID {
			referral := r
			return &referral, nil
		}
	}
	return nil, repository.ErrReferralNotFound
}

// MockClickProcessor implements service.ClickProcessor synchronously for testing
type MockClickProcessor struct {
	mu     sync.Mutex
	events []models.ClickEvent
}

func NewMockClickProcessor() *MockClickProcessor {
	return &MockClickProcessor{}
}

func (m *MockClickProcessor) Start() {}

func (m *MockClickProcessor) Stop() {}

func (m *MockClickProcessor) RecordClick(ctx context.Context, event *models.ClickEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, *event)
	return nil
}

func (m *MockClickProcessor) GetStats(ctx context.Context) (*models.ClickStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := models.NewClickStats()
	for _, e := range m.events {
		stats.Add(e.Kind, e.Platform, e.MatchSource, 1)
	}
	return stats, nil
}

func (m *MockClickProcessor) QueueStats() service.QueueStats {
	return service.QueueStats{}
}

// Events возвращает копию записанных событий
func (m *MockClickProcessor) Events() []models.ClickEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.ClickEvent(nil), m.events...)
}
