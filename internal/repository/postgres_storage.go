package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/SergeiKhy/deeplink-service/internal/models"
	"github.com/jackc/pgx/v5"
)

// PostgresStorage хранилище на PostgreSQL. Нативного TTL нет, поэтому
// истёкшие ссылки отсекаются при чтении и удаляются через PurgeExpired.
type PostgresStorage struct {
	db  *PostgresDB
	now func() time.Time
}

func NewPostgresStorage(db *PostgresDB) *PostgresStorage {
	return &PostgresStorage{db: db, now: time.Now}
}

func (r *PostgresStorage) SavePendingLink(ctx context.Context, deviceID string, link *models.PendingLink) error {
	return r.savePending(ctx, namespaceDevice, deviceID, link)
}

func (r *PostgresStorage) GetPendingLink(ctx context.Context, deviceID string) (*models.PendingLink, error) {
	return r.takePending(ctx, namespaceDevice, deviceID)
}

func (r *PostgresStorage) DeletePendingLink(ctx context.Context, deviceID string) error {
	return r.deletePending(ctx, namespaceDevice, deviceID)
}

func (r *PostgresStorage) SavePendingLinkByFingerprint(ctx context.Context, fingerprint string, link *models.PendingLink) error {
	return r.savePending(ctx, namespaceFingerprint, fingerprint, link)
}

func (r *PostgresStorage) GetPendingLinkByFingerprint(ctx context.Context, fingerprint string) (*models.PendingLink, error) {
	return r.takePending(ctx, namespaceFingerprint, fingerprint)
}

func (r *PostgresStorage) DeletePendingLinkByFingerprint(ctx context.Context, fingerprint string) error {
	return r.deletePending(ctx, namespaceFingerprint, fingerprint)
}

func (r *PostgresStorage) savePending(ctx context.Context, namespace, key string, link *models.PendingLink) error {
	if link.Expired(r.now()) {
		return r.deletePending(ctx, namespace, key)
	}

	params := link.Params
	if params == nil {
		params = map[string]any{}
	}

	query := `
		INSERT INTO pending_links (namespace, key, url, params, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (namespace, key) DO UPDATE SET
			url = EXCLUDED.url,
			params = EXCLUDED.params,
			created_at = EXCLUDED.created_at,
			expires_at = EXCLUDED.expires_at
	`

	_, err := r.db.Pool.Exec(ctx, query, namespace, key, link.URL, params, link.CreatedAt, link.ExpiresAt)
	if err != nil {
		return fmt.Errorf("failed to save pending link: %w", err)
	}
	return nil
}

// takePending удаляет строку и возвращает её одним запросом: из двух
// конкурентных DELETE строку получит только один.
func (r *PostgresStorage) takePending(ctx context.Context, namespace, key string) (*models.PendingLink, error) {
	query := `
		DELETE FROM pending_links
		WHERE namespace = $1 AND key = $2
		RETURNING url, params, created_at, expires_at
	`

	var link models.PendingLink
	err := r.db.Pool.QueryRow(ctx, query, namespace, key).Scan(
		&link.URL,
		&link.Params,
		&link.CreatedAt,
		&link.ExpiresAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPendingLinkNotFound
		}
		return nil, fmt.Errorf("failed to get pending link: %w", err)
	}

	if link.Expired(r.now()) {
		return nil, ErrPendingLinkNotFound
	}
	return &link, nil
}

func (r *PostgresStorage) deletePending(ctx context.Context, namespace, key string) error {
	query := `DELETE FROM pending_links WHERE namespace = $1 AND key = $2`

	if _, err := r.db.Pool.Exec(ctx, query, namespace, key); err != nil {
		return fmt.Errorf("failed to delete pending link: %w", err)
	}
	return nil
}

func (r *PostgresStorage) PurgeExpired(ctx context.Context) (int64, error) {
	query := `DELETE FROM pending_links WHERE expires_at <= $1`

	result, err := r.db.Pool.Exec(ctx, query, r.now())
	if err != nil {
		return 0, fmt.Errorf("failed to purge expired links: %w", err)
	}
	return result.RowsAffected(), nil
}

func (r *PostgresStorage) SaveReferral(ctx context.Context, referral *models.Referral) (bool, error) {
	query := `
		INSERT INTO referrals (id, referrer_id, referee_id, referral_code, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (referee_id) DO NOTHING
	`

	result, err := r.db.Pool.Exec(ctx, query,
		referral.ID,
		referral.ReferrerID,
		referral.RefereeID,
		referral.ReferralCode,
		referral.Metadata,
		referral.Timestamp,
	)
	if err != nil {
		return false, fmt.Errorf("failed to save referral: %w", err)
	}

	return result.RowsAffected() == 1, nil
}

func (r *PostgresStorage) GetReferralsByReferrer(ctx context.Context, referrerID string) ([]models.Referral, error) {
	query := `
		SELECT id, referrer_id, referee_id, referral_code, metadata, created_at
		FROM referrals
		WHERE referrer_id = $1
		ORDER BY seq
	`

	rows, err := r.db.Pool.Query(ctx, query, referrerID)
	if err != nil {
		return nil, fmt.Errorf("failed to get referrals: %w", err)
	}
	defer rows.Close()

	referrals := make([]models.Referral, 0)
	for rows.Next() {
		var referral models.Referral
		if err := scanReferral(rows, &referral); err != nil {
			return nil, fmt.Errorf("failed to scan referral: %w", err)
		}
		referrals = append(referrals, referral)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating referrals: %w", err)
	}

	return referrals, nil
}

func (r *PostgresStorage) GetReferralByReferee(ctx context.Context, refereeID string) (*models.Referral, error) {
	query := `
		SELECT id, referrer_id, referee_id, referral_code, metadata, created_at
		FROM referrals
		WHERE referee_id = $1
	`

	var referral models.Referral
	if err := scanReferral(r.db.Pool.QueryRow(ctx, query, refereeID), &referral); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrReferralNotFound
		}
		return nil, fmt.Errorf("failed to get referral: %w", err)
	}

	return &referral, nil
}

func scanReferral(row pgx.Row, referral *models.Referral) error {
	return row.Scan(
		&referral.ID,
		&referral.ReferrerID,
		&referral.RefereeID,
		&referral.ReferralCode,
		&referral.Metadata,
		&referral.Timestamp,
	)
}

func (r *PostgresStorage) RecordClick(ctx context.Context, click *models.Click) error {
	query := `
		INSERT INTO clicks (id, kind, platform, match_source, fingerprint, has_device_id, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := r.db.Pool.Exec(ctx, query,
		click.ID,
		string(click.Kind),
		string(click.Platform),
		click.MatchSource,
		click.Fingerprint,
		click.HasDeviceID,
		click.OccurredAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record click: %w", err)
	}

	return nil
}

func (r *PostgresStorage) GetStats(ctx context.Context) (*models.ClickStats, error) {
	query := `
		SELECT kind, platform, match_source, COUNT(*)
		FROM clicks
		GROUP BY kind, platform, match_source
	`

	rows, err := r.db.Pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to get click stats: %w", err)
	}
	defer rows.Close()

	stats := models.NewClickStats()
	for rows.Next() {
		var (
			kind, platform, source string
			count                  int64
		)
		if err := rows.Scan(&kind, &platform, &source, &count); err != nil {
			return nil, fmt.Errorf("failed to scan click stats: %w", err)
		}
		stats.Add(models.ClickKind(kind), models.Platform(platform), source, count)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating click stats: %w", err)
	}

	return stats, nil
}

func (r *PostgresStorage) Close() error {
	r.db.Close()
	return nil
}
