package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/SergeiKhy/deeplink-service/internal/models"
	"github.com/redis/go-redis/v9"
)

const (
	redisKeyPrefix = "deeplink:"
	redisStatsKey  = redisKeyPrefix + "stats"
)

// SET NX по приглашённому и добавление в список пригласившего одной
// атомарной операцией.
var saveReferralScript = redis.NewScript(`
if redis.call('SET', KEYS[1], ARGV[1], 'NX') then
	redis.call('RPUSH', KEYS[2], ARGV[2])
	return 1
end
return 0
`)

// RedisStorage хранилище на Redis. Срок жизни отложенных ссылок задаётся
// нативным TTL ключа, чтение выполняется через GETDEL.
type RedisStorage struct {
	redis *RedisDB
	now   func() time.Time
}

func NewRedisStorage(redis *RedisDB) *RedisStorage {
	return &RedisStorage{redis: redis, now: time.Now}
}

func (r *RedisStorage) SavePendingLink(ctx context.Context, deviceID string, link *models.PendingLink) error {
	return r.savePending(ctx, r.pendingKey(namespaceDevice, deviceID), link)
}

func (r *RedisStorage) GetPendingLink(ctx context.Context, deviceID string) (*models.PendingLink, error) {
	return r.takePending(ctx, r.pendingKey(namespaceDevice, deviceID))
}

func (r *RedisStorage) DeletePendingLink(ctx context.Context, deviceID string) error {
	return r.deletePending(ctx, r.pendingKey(namespaceDevice, deviceID))
}

func (r *RedisStorage) SavePendingLinkByFingerprint(ctx context.Context, fingerprint string, link *models.PendingLink) error {
	return r.savePending(ctx, r.pendingKey(namespaceFingerprint, fingerprint), link)
}

func (r *RedisStorage) GetPendingLinkByFingerprint(ctx context.Context, fingerprint string) (*models.PendingLink, error) {
	return r.takePending(ctx, r.pendingKey(namespaceFingerprint, fingerprint))
}

func (r *RedisStorage) DeletePendingLinkByFingerprint(ctx context.Context, fingerprint string) error {
	return r.deletePending(ctx, r.pendingKey(namespaceFingerprint, fingerprint))
}

func (r *RedisStorage) savePending(ctx context.Context, key string, link *models.PendingLink) error {
	ttl := link.ExpiresAt.Sub(r.now())
	if ttl < time.Millisecond {
		// Уже истекла: затираем старую запись и ничего не сохраняем
		return r.deletePending(ctx, key)
	}

	data, err := json.Marshal(link)
	if err != nil {
		return fmt.Errorf("failed to marshal pending link: %w", err)
	}

	if err := r.redis.Client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to save pending link: %w", err)
	}
	return nil
}

func (r *RedisStorage) takePending(ctx context.Context, key string) (*models.PendingLink, error) {
	data, err := r.redis.Client.GetDel(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrPendingLinkNotFound
		}
		return nil, fmt.Errorf("failed to get pending link: %w", err)
	}

	var link models.PendingLink
	if err := json.Unmarshal(data, &link); err != nil {
		return nil, fmt.Errorf("failed to unmarshal pending link: %w", err)
	}

	if link.Expired(r.now()) {
		return nil, ErrPendingLinkNotFound
	}
	return &link, nil
}

func (r *RedisStorage) deletePending(ctx context.Context, key string) error {
	if err := r.redis.Client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to delete pending link: %w", err)
	}
	return nil
}

func (r *RedisStorage) SaveReferral(ctx context.Context, referral *models.Referral) (bool, error) {
	data, err := json.Marshal(referral)
	if err != nil {
		return false, fmt.Errorf("failed to marshal referral: %w", err)
	}

	keys := []string{r.refereeKey(referral.RefereeID), r.referrerKey(referral.ReferrerID)}
	saved, err := saveReferralScript.Run(ctx, r.redis.Client, keys, data, referral.RefereeID).Int()
	if err != nil {
		return false, fmt.Errorf("failed to save referral: %w", err)
	}

	return saved == 1, nil
}

func (r *RedisStorage) GetReferralsByReferrer(ctx context.Context, referrerID string) ([]models.Referral, error) {
	refereeIDs, err := r.redis.Client.LRange(ctx, r.referrerKey(referrerID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list referees: %w", err)
	}

	referrals := make([]models.Referral, 0, len(refereeIDs))
	if len(refereeIDs) == 0 {
		return referrals, nil
	}

	keys := make([]string, len(refereeIDs))
	for i, id := range refereeIDs {
		keys[i] = r.refereeKey(id)
	}

	values, err := r.redis.Client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get referrals: %w", err)
	}

	for _, value := range values {
		raw, ok := value.(string)
		if !ok {
			continue
		}
		var referral models.Referral
		if err := json.Unmarshal([]byte(raw), &referral); err != nil {
			return nil, fmt.Errorf("failed to unmarshal referral: %w", err)
		}
		referrals = append(referrals, referral)
	}

	return referrals, nil
}

func (r *RedisStorage) GetReferralByReferee(ctx context.Context, refereeID string) (*models.Referral, error) {
	data, err := r.redis.Client.Get(ctx, r.refereeKey(refereeID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrReferralNotFound
		}
		return nil, fmt.Errorf("failed to get referral: %w", err)
	}

	var referral models.Referral
	if err := json.Unmarshal(data, &referral); err != nil {
		return nil, fmt.Errorf("failed to unmarshal referral: %w", err)
	}
	return &referral, nil
}

// RecordClick увеличивает счётчики в хэше статистики
func (r *RedisStorage) RecordClick(ctx context.Context, click *models.Click) error {
	_, err := r.redis.Client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HIncrBy(ctx, redisStatsKey, string(click.Kind), 1)
		switch {
		case click.Kind == models.ClickKindCapture && click.Platform != "":
			pipe.HIncrBy(ctx, redisStatsKey, "platform:"+string(click.Platform), 1)
		case click.Kind == models.ClickKindMatch && click.MatchSource != "":
			pipe.HIncrBy(ctx, redisStatsKey, "source:"+click.MatchSource, 1)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to record click: %w", err)
	}
	return nil
}

func (r *RedisStorage) GetStats(ctx context.Context) (*models.ClickStats, error) {
	fields, err := r.redis.Client.HGetAll(ctx, redisStatsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get click stats: %w", err)
	}

	stats := models.NewClickStats()
	for field, raw := range fields {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("malformed stats counter %q: %w", field, err)
		}

		switch {
		case field == string(models.ClickKindCapture):
			stats.TotalCaptures = n
		case field == string(models.ClickKindMatch):
			stats.TotalMatches = n
		case strings.HasPrefix(field, "platform:"):
			stats.ByPlatform[strings.TrimPrefix(field, "platform:")] = n
		case strings.HasPrefix(field, "source:"):
			stats.ByMatchSource[strings.TrimPrefix(field, "source:")] = n
		}
	}
	return stats, nil
}

func (r *RedisStorage) Close() error {
	return r.redis.Close()
}

func (r *RedisStorage) pendingKey(namespace, key string) string {
	return redisKeyPrefix + "pending:" + namespace + ":" + key
}

func (r *RedisStorage) refereeKey(refereeID string) string {
	return redisKeyPrefix + "referral:" + refereeID
}

func (r *RedisStorage) referrerKey(referrerID string) string {
	return redisKeyPrefix + "referrer:" + referrerID
}
