package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/SergeiKhy/deeplink-service/internal/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

// fakeClock управляемые часы для проверки истечения срока
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Now().UTC().Truncate(time.Millisecond)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// storageFactory создаёт чистое хранилище с заданными часами
type storageFactory func(t *testing.T, now func() time.Time) Storage

func newPendingLink(clock *fakeClock, ttl time.Duration) *models.PendingLink {
	created := clock.Now()
	return &models.PendingLink{
		URL:       "https://example.com/link?type=referral&code=ABC123",
		Params:    map[string]any{"type": "referral", "code": "ABC123"},
		CreatedAt: created,
		ExpiresAt: created.Add(ttl),
	}
}

func newReferral(referrerID, refereeID string) *models.Referral {
	return &models.Referral{
		ID:           uuid.New(),
		ReferrerID:   referrerID,
		RefereeID:    refereeID,
		ReferralCode: referrerID,
		Timestamp:    time.Now().UTC().Truncate(time.Millisecond),
		Metadata:     map[string]any{"source": "email"},
	}
}

// runStorageContract проверяет поведение, общее для всех бэкендов
func runStorageContract(t *testing.T, factory storageFactory) {
	ctx := context.Background()

	t.Run("consume once", func(t *testing.T) {
		clock := newFakeClock()
		s := factory(t, clock.Now)
		link := newPendingLink(clock, time.Hour)

		require.NoError(t, s.SavePendingLink(ctx, "device-1", link))

		got, err := s.GetPendingLink(ctx, "device-1")
		require.NoError(t, err)
		assert.Equal(t, link.URL, got.URL)
		assert.Equal(t, link.Params, got.Params)
		assert.WithinDuration(t, link.ExpiresAt, got.ExpiresAt, time.Millisecond)

		for i := 0; i < 3; i++ {
			_, err = s.GetPendingLink(ctx, "device-1")
			assert.ErrorIs(t, err, ErrPendingLinkNotFound)
		}
	})

	t.Run("fingerprint consume once", func(t *testing.T) {
		clock := newFakeClock()
		s := factory(t, clock.Now)
		link := newPendingLink(clock, time.Hour)

		require.NoError(t, s.SavePendingLinkByFingerprint(ctx, "fp-1", link))

		got, err := s.GetPendingLinkByFingerprint(ctx, "fp-1")
		require.NoError(t, err)
		assert.Equal(t, link.URL, got.URL)

		_, err = s.GetPendingLinkByFingerprint(ctx, "fp-1")
		assert.ErrorIs(t, err, ErrPendingLinkNotFound)
	})

	t.Run("expired at save time", func(t *testing.T) {
		clock := newFakeClock()
		s := factory(t, clock.Now)

		require.NoError(t, s.SavePendingLink(ctx, "device-1", newPendingLink(clock, -time.Second)))
		require.NoError(t, s.SavePendingLinkByFingerprint(ctx, "fp-1", newPendingLink(clock, -time.Second)))

		_, err := s.GetPendingLink(ctx, "device-1")
		assert.ErrorIs(t, err, ErrPendingLinkNotFound)
		_, err = s.GetPendingLinkByFingerprint(ctx, "fp-1")
		assert.ErrorIs(t, err, ErrPendingLinkNotFound)
	})

	t.Run("expired save replaces live record", func(t *testing.T) {
		clock := newFakeClock()
		s := factory(t, clock.Now)

		require.NoError(t, s.SavePendingLink(ctx, "device-1", newPendingLink(clock, time.Hour)))
		require.NoError(t, s.SavePendingLink(ctx, "device-1", newPendingLink(clock, -time.Second)))

		_, err := s.GetPendingLink(ctx, "device-1")
		assert.ErrorIs(t, err, ErrPendingLinkNotFound)
	})

	t.Run("expired before read", func(t *testing.T) {
		clock := newFakeClock()
		s := factory(t, clock.Now)

		require.NoError(t, s.SavePendingLink(ctx, "device-1", newPendingLink(clock, time.Minute)))
		clock.Advance(time.Minute)

		_, err := s.GetPendingLink(ctx, "device-1")
		assert.ErrorIs(t, err, ErrPendingLinkNotFound)

		// Следов не остаётся даже если часы "вернутся"
		clock.Advance(-time.Hour)
		_, err = s.GetPendingLink(ctx, "device-1")
		assert.ErrorIs(t, err, ErrPendingLinkNotFound)
	})

	t.Run("namespaces are independent", func(t *testing.T) {
		clock := newFakeClock()
		s := factory(t, clock.Now)

		require.NoError(t, s.SavePendingLink(ctx, "X", newPendingLink(clock, time.Hour)))

		_, err := s.GetPendingLinkByFingerprint(ctx, "X")
		assert.ErrorIs(t, err, ErrPendingLinkNotFound)

		_, err = s.GetPendingLink(ctx, "X")
		assert.NoError(t, err)
	})

	t.Run("delete is idempotent", func(t *testing.T) {
		clock := newFakeClock()
		s := factory(t, clock.Now)

		require.NoError(t, s.SavePendingLink(ctx, "device-1", newPendingLink(clock, time.Hour)))
		require.NoError(t, s.SavePendingLinkByFingerprint(ctx, "fp-1", newPendingLink(clock, time.Hour)))

		require.NoError(t, s.DeletePendingLink(ctx, "device-1"))
		require.NoError(t, s.DeletePendingLink(ctx, "device-1"))
		require.NoError(t, s.DeletePendingLinkByFingerprint(ctx, "fp-1"))
		require.NoError(t, s.DeletePendingLinkByFingerprint(ctx, "never-saved"))

		_, err := s.GetPendingLink(ctx, "device-1")
		assert.ErrorIs(t, err, ErrPendingLinkNotFound)
		_, err = s.GetPendingLinkByFingerprint(ctx, "fp-1")
		assert.ErrorIs(t, err, ErrPendingLinkNotFound)
	})

	t.Run("concurrent reads deliver once", func(t *testing.T) {
		clock := newFakeClock()
		s := factory(t, clock.Now)
		require.NoError(t, s.SavePendingLink(ctx, "device-1", newPendingLink(clock, time.Hour)))

		const readers = 32
		var (
			mu        sync.Mutex
			successes int
			misses    int
		)
		var g errgroup.Group
		for i := 0; i < readers; i++ {
			g.Go(func() error {
				_, err := s.GetPendingLink(ctx, "device-1")
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					successes++
				case errors.Is(err, ErrPendingLinkNotFound):
					misses++
				default:
					return err
				}
				return nil
			})
		}
		require.NoError(t, g.Wait())

		assert.Equal(t, 1, successes)
		assert.Equal(t, readers-1, misses)
	})

	t.Run("unknown keys", func(t *testing.T) {
		s := factory(t, time.Now)

		_, err := s.GetPendingLink(ctx, "never-saved")
		assert.ErrorIs(t, err, ErrPendingLinkNotFound)

		_, err = s.GetReferralByReferee(ctx, "never-saved")
		assert.ErrorIs(t, err, ErrReferralNotFound)

		referrals, err := s.GetReferralsByReferrer(ctx, "never-saved")
		require.NoError(t, err)
		assert.NotNil(t, referrals)
		assert.Empty(t, referrals)
	})

	t.Run("referral first writer wins", func(t *testing.T) {
		s := factory(t, time.Now)

		saved, err := s.SaveReferral(ctx, newReferral("R1", "U1"))
		require.NoError(t, err)
		assert.True(t, saved)

		saved, err = s.SaveReferral(ctx, newReferral("R2", "U1"))
		require.NoError(t, err)
		assert.False(t, saved)

		saved, err = s.SaveReferral(ctx, newReferral("R1", "U1"))
		require.NoError(t, err)
		assert.False(t, saved)

		got, err := s.GetReferralByReferee(ctx, "U1")
		require.NoError(t, err)
		assert.Equal(t, "R1", got.ReferrerID)
		assert.Equal(t, "email", got.Metadata["source"])

		r1, err := s.GetReferralsByReferrer(ctx, "R1")
		require.NoError(t, err)
		assert.Len(t, r1, 1)

		r2, err := s.GetReferralsByReferrer(ctx, "R2")
		require.NoError(t, err)
		assert.Empty(t, r2)
	})

	t.Run("referrer fan-out keeps order", func(t *testing.T) {
		s := factory(t, time.Now)

		for i := 1; i <= 5; i++ {
			_, err := s.SaveReferral(ctx, newReferral("R1", fmt.Sprintf("U%d", i)))
			require.NoError(t, err)
		}

		referrals, err := s.GetReferralsByReferrer(ctx, "R1")
		require.NoError(t, err)
		require.Len(t, referrals, 5)
		for i, referral := range referrals {
			assert.Equal(t, fmt.Sprintf("U%d", i+1), referral.RefereeID)
			assert.Equal(t, "R1", referral.ReferralCode)
		}
	})

	t.Run("concurrent referrals for one referee", func(t *testing.T) {
		s := factory(t, time.Now)

		const writers = 16
		var (
			mu      sync.Mutex
			created int
		)
		var g errgroup.Group
		for i := 0; i < writers; i++ {
			referrer := fmt.Sprintf("R%d", i)
			g.Go(func() error {
				saved, err := s.SaveReferral(ctx, newReferral(referrer, "U1"))
				if err != nil {
					return err
				}
				if saved {
					mu.Lock()
					created++
					mu.Unlock()
				}
				return nil
			})
		}
		require.NoError(t, g.Wait())
		assert.Equal(t, 1, created)

		winner, err := s.GetReferralByReferee(ctx, "U1")
		require.NoError(t, err)

		total := 0
		for i := 0; i < writers; i++ {
			referrals, err := s.GetReferralsByReferrer(ctx, fmt.Sprintf("R%d", i))
			require.NoError(t, err)
			total += len(referrals)
			if len(referrals) == 1 {
				assert.Equal(t, winner.ReferrerID, referrals[0].ReferrerID)
			}
		}
		assert.Equal(t, 1, total)
	})

	t.Run("click stats", func(t *testing.T) {
		s := factory(t, time.Now)

		clicks := []*models.Click{
			{ID: uuid.New(), Kind: models.ClickKindCapture, Platform: models.PlatformIOS, OccurredAt: time.Now()},
			{ID: uuid.New(), Kind: models.ClickKindCapture, Platform: models.PlatformIOS, OccurredAt: time.Now()},
			{ID: uuid.New(), Kind: models.ClickKindCapture, Platform: models.PlatformAndroid, OccurredAt: time.Now()},
			{ID: uuid.New(), Kind: models.ClickKindMatch, MatchSource: models.MatchSourceFingerprint, OccurredAt: time.Now()},
		}
		for _, click := range clicks {
			require.NoError(t, s.RecordClick(ctx, click))
		}

		stats, err := s.GetStats(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(3), stats.TotalCaptures)
		assert.Equal(t, int64(1), stats.TotalMatches)
		assert.Equal(t, int64(2), stats.ByPlatform["ios"])
		assert.Equal(t, int64(1), stats.ByPlatform["android"])
		assert.Equal(t, int64(1), stats.ByMatchSource["fingerprint"])
	})
}
