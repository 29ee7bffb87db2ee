/**
 * @description
 * This file implements the `Repository` interface against PostgreSQL using the
 * pgx connection pool. Every invariant that must hold under concurrent request
 * handling is enforced here with database-level mechanisms rather than
 * application-level read-then-write sequences:
 *
 * - Idempotent activation uses `ON CONFLICT (external_txn_id) DO NOTHING`
 *   followed by a conditional status update inside one transaction, so two
 *   racing deliveries of the same payment event cannot both create a row or
 *   both flip state.
 * - Download admission takes a per-user advisory transaction lock, re-counts
 *   active downloads, and inserts in the same transaction; duplicates are
 *   caught by a partial unique index on (user_id, media_id) WHERE NOT expired.
 * - The user's cached subscription_status column is recomputed inside the same
 *   transaction as every transition that can change it.
 */

package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cinelux/entitlement-service/internal/domain"
)

const subscriptionColumns = `id, user_id, plan_tier, status, start_date, end_date, external_txn_id, created_at, updated_at`

const downloadColumns = `id, user_id, media_id, storage_path, size_bytes, created_at, expires_at, expired, artifact_removed`

// recomputeUserStatusQuery sets the user's cached status to the status of
// their current active (preferred) or pending subscription, or inactive when
// neither exists. Used inside every transaction that changes a subscription.
const recomputeUserStatusQuery = `
	UPDATE users SET subscription_status = COALESCE(
		(SELECT s.status FROM subscriptions s
		 WHERE s.user_id = users.id AND s.status IN ('active', 'pending')
		 ORDER BY (s.status = 'active') DESC, s.updated_at DESC
		 LIMIT 1),
		'inactive')
	WHERE id = $1
`

// PostgresRepository is the pgx-backed implementation of Repository.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new repository backed by the given pool.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSubscription(row rowScanner) (*domain.Subscription, error) {
	var sub domain.Subscription
	err := row.Scan(
		&sub.ID,
		&sub.UserID,
		&sub.PlanTier,
		&sub.Status,
		&sub.StartDate,
		&sub.EndDate,
		&sub.ExternalTxnID,
		&sub.CreatedAt,
		&sub.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func scanDownload(row rowScanner) (*domain.Download, error) {
	var dl domain.Download
	err := row.Scan(
		&dl.ID,
		&dl.UserID,
		&dl.MediaID,
		&dl.StoragePath,
		&dl.SizeBytes,
		&dl.CreatedAt,
		&dl.ExpiresAt,
		&dl.Expired,
		&dl.ArtifactRemoved,
	)
	if err != nil {
		return nil, err
	}
	return &dl, nil
}

// FindSubscriptionByID retrieves a subscription by its primary key.
func (r *PostgresRepository) FindSubscriptionByID(ctx context.Context, id uuid.UUID) (*domain.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE id = $1`
	sub, err := scanSubscription(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrSubscriptionNotFound
		}
		return nil, err
	}
	return sub, nil
}

// FindSubscriptionByTransactionID retrieves the subscription correlated to an
// external payment transaction id.
func (r *PostgresRepository) FindSubscriptionByTransactionID(ctx context.Context, txnID string) (*domain.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE external_txn_id = $1`
	sub, err := scanSubscription(r.db.QueryRow(ctx, query, txnID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrSubscriptionNotFound
		}
		return nil, err
	}
	return sub, nil
}

// FindCurrentSubscriptionByUserID retrieves the user's active subscription,
// falling back to a pending one when no active subscription exists.
func (r *PostgresRepository) FindCurrentSubscriptionByUserID(ctx context.Context, userID uuid.UUID) (*domain.Subscription, error) {
	query := `
		SELECT ` + subscriptionColumns + ` FROM subscriptions
		WHERE user_id = $1 AND status IN ('active', 'pending')
		ORDER BY (status = 'active') DESC, updated_at DESC
		LIMIT 1
	`
	sub, err := scanSubscription(r.db.QueryRow(ctx, query, userID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrSubscriptionNotFound
		}
		return nil, err
	}
	return sub, nil
}

// CreatePendingSubscription inserts a pending subscription keyed by its
// external transaction id. A genuinely new checkout supersedes whatever the
// user held before: every other active/pending subscription is cancelled in
// the same transaction, so the user never carries two live rows. Re-delivery
// of the same transaction id returns the existing row with transitioned=false.
func (r *PostgresRepository) CreatePendingSubscription(ctx context.Context, sub *domain.Subscription) (*domain.Subscription, bool, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback(ctx)

	insert := `
		INSERT INTO subscriptions (id, user_id, plan_tier, status, start_date, end_date, external_txn_id)
		VALUES ($1, $2, $3, 'pending', $4, $5, $6)
		ON CONFLICT (external_txn_id) WHERE external_txn_id IS NOT NULL DO NOTHING
		RETURNING ` + subscriptionColumns
	created, err := scanSubscription(tx.QueryRow(ctx, insert,
		sub.ID, sub.UserID, sub.PlanTier, sub.StartDate, sub.EndDate, sub.ExternalTxnID,
	))
	if err != nil {
		if err != pgx.ErrNoRows {
			return nil, false, err
		}
		// Transaction id already recorded; this delivery is a replay.
		existing, err := scanSubscription(tx.QueryRow(ctx,
			`SELECT `+subscriptionColumns+` FROM subscriptions WHERE external_txn_id = $1`, sub.ExternalTxnID))
		if err != nil {
			return nil, false, err
		}
		if err := tx.Commit(ctx); err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}

	// Single-active-subscription invariant: the new checkout replaces every
	// other active/pending subscription the user holds.
	if _, err := tx.Exec(ctx, `
		UPDATE subscriptions SET status = 'cancelled', updated_at = NOW()
		WHERE user_id = $1 AND status IN ('active', 'pending') AND id <> $2
	`, created.UserID, created.ID); err != nil {
		return nil, false, err
	}
	if _, err := tx.Exec(ctx, recomputeUserStatusQuery, created.UserID); err != nil {
		return nil, false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, false, err
	}
	return created, true, nil
}

// ActivateSubscriptionByTransactionID applies a completed payment. In one
// transaction it either creates the subscription directly in active state or
// promotes the existing pending row for the same transaction id, then cancels
// any other active/pending subscription of the user and refreshes the cached
// status. A transaction id whose subscription is already active is a no-op.
func (r *PostgresRepository) ActivateSubscriptionByTransactionID(ctx context.Context, sub *domain.Subscription) (*domain.Subscription, bool, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback(ctx)

	insert := `
		INSERT INTO subscriptions (id, user_id, plan_tier, status, start_date, end_date, external_txn_id)
		VALUES ($1, $2, $3, 'active', $4, $5, $6)
		ON CONFLICT (external_txn_id) WHERE external_txn_id IS NOT NULL DO NOTHING
		RETURNING ` + subscriptionColumns
	activated, err := scanSubscription(tx.QueryRow(ctx, insert,
		sub.ID, sub.UserID, sub.PlanTier, sub.StartDate, sub.EndDate, sub.ExternalTxnID,
	))
	transitioned := true
	if err != nil {
		if err != pgx.ErrNoRows {
			return nil, false, err
		}
		// Row exists for this transaction id: promote pending to active. The
		// WHERE clause is the compare-and-set that makes replays no-ops.
		promote := `
			UPDATE subscriptions SET status = 'active', updated_at = NOW()
			WHERE external_txn_id = $1 AND status = 'pending'
			RETURNING ` + subscriptionColumns
		activated, err = scanSubscription(tx.QueryRow(ctx, promote, sub.ExternalTxnID))
		if err != nil {
			if err != pgx.ErrNoRows {
				return nil, false, err
			}
			// Already active (or terminal): return the existing record unchanged.
			activated, err = scanSubscription(tx.QueryRow(ctx,
				`SELECT `+subscriptionColumns+` FROM subscriptions WHERE external_txn_id = $1`, sub.ExternalTxnID))
			if err != nil {
				return nil, false, err
			}
			transitioned = false
		}
	}

	if transitioned {
		// Single-active-subscription invariant: terminate every other
		// active/pending subscription the user holds.
		if _, err := tx.Exec(ctx, `
			UPDATE subscriptions SET status = 'cancelled', updated_at = NOW()
			WHERE user_id = $1 AND status IN ('active', 'pending') AND id <> $2
		`, activated.UserID, activated.ID); err != nil {
			return nil, false, err
		}
		if _, err := tx.Exec(ctx, recomputeUserStatusQuery, activated.UserID); err != nil {
			return nil, false, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, false, err
	}
	return activated, transitioned, nil
}

// CancelSubscriptionByTransactionID cancels the pending subscription recorded
// for a transaction id. Anything other than a pending subscription is left
// untouched (forward-only transitions).
func (r *PostgresRepository) CancelSubscriptionByTransactionID(ctx context.Context, txnID string) (*domain.Subscription, bool, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback(ctx)

	cancel := `
		UPDATE subscriptions SET status = 'cancelled', updated_at = NOW()
		WHERE external_txn_id = $1 AND status = 'pending'
		RETURNING ` + subscriptionColumns
	cancelled, err := scanSubscription(tx.QueryRow(ctx, cancel, txnID))
	if err != nil {
		if err != pgx.ErrNoRows {
			return nil, false, err
		}
		existing, err := scanSubscription(tx.QueryRow(ctx,
			`SELECT `+subscriptionColumns+` FROM subscriptions WHERE external_txn_id = $1`, txnID))
		if err != nil {
			if err == pgx.ErrNoRows {
				return nil, false, ErrSubscriptionNotFound
			}
			return nil, false, err
		}
		if err := tx.Commit(ctx); err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}

	if _, err := tx.Exec(ctx, recomputeUserStatusQuery, cancelled.UserID); err != nil {
		return nil, false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, false, err
	}
	return cancelled, true, nil
}

// RenewSubscription extends an active subscription's end date by the given
// duration from its current value, not from now, so remaining paid time is
// never discarded.
func (r *PostgresRepository) RenewSubscription(ctx context.Context, id uuid.UUID, extension time.Duration) (*domain.Subscription, error) {
	query := `
		UPDATE subscriptions
		SET end_date = end_date + ($2 * INTERVAL '1 second'), updated_at = NOW()
		WHERE id = $1 AND status = 'active'
		RETURNING ` + subscriptionColumns
	sub, err := scanSubscription(r.db.QueryRow(ctx, query, id, int64(extension.Seconds())))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrSubscriptionNotFound
		}
		return nil, err
	}
	return sub, nil
}

// UpdateSubscriptionPlan changes the plan tier of an active subscription in
// place without altering the validity window.
func (r *PostgresRepository) UpdateSubscriptionPlan(ctx context.Context, id uuid.UUID, tier domain.PlanTier) (*domain.Subscription, error) {
	query := `
		UPDATE subscriptions SET plan_tier = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'active'
		RETURNING ` + subscriptionColumns
	sub, err := scanSubscription(r.db.QueryRow(ctx, query, id, tier))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrSubscriptionNotFound
		}
		return nil, err
	}
	return sub, nil
}

// CancelSubscription cancels an active subscription by id and refreshes the
// owner's cached status.
func (r *PostgresRepository) CancelSubscription(ctx context.Context, id uuid.UUID) (*domain.Subscription, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	cancel := `
		UPDATE subscriptions SET status = 'cancelled', updated_at = NOW()
		WHERE id = $1 AND status = 'active'
		RETURNING ` + subscriptionColumns
	cancelled, err := scanSubscription(tx.QueryRow(ctx, cancel, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrSubscriptionNotFound
		}
		return nil, err
	}
	if _, err := tx.Exec(ctx, recomputeUserStatusQuery, cancelled.UserID); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return cancelled, nil
}

// ExpireLapsedSubscriptions moves every active subscription whose window has
// closed to expired and recomputes the affected users' cached status.
func (r *PostgresRepository) ExpireLapsedSubscriptions(ctx context.Context, now time.Time) ([]domain.Subscription, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	expire := `
		UPDATE subscriptions SET status = 'expired', updated_at = NOW()
		WHERE status = 'active' AND end_date <= $1
		RETURNING ` + subscriptionColumns
	rows, err := tx.Query(ctx, expire, now)
	if err != nil {
		return nil, err
	}
	var expired []domain.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		expired = append(expired, *sub)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, sub := range expired {
		if _, err := tx.Exec(ctx, recomputeUserStatusQuery, sub.UserID); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return expired, nil
}

// CreateDownloadIfUnderQuota inserts a download row only if the user's count
// of non-expired downloads is below the given limit. The count and the insert
// happen under a per-user advisory transaction lock so two concurrent
// requests cannot both pass the check; duplicates of the same media are
// rejected by the partial unique index.
func (r *PostgresRepository) CreateDownloadIfUnderQuota(ctx context.Context, dl *domain.Download, limit int) (*domain.Download, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1::text))`, dl.UserID.String()); err != nil {
		return nil, err
	}

	var active int
	if err := tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM downloads WHERE user_id = $1 AND NOT expired`, dl.UserID,
	).Scan(&active); err != nil {
		return nil, err
	}
	if active >= limit {
		return nil, ErrDownloadQuotaExceeded
	}

	insert := `
		INSERT INTO downloads (id, user_id, media_id, storage_path, size_bytes, created_at, expires_at, expired, artifact_removed)
		VALUES ($1, $2, $3, $4, $5, $6, $7, FALSE, FALSE)
		RETURNING ` + downloadColumns
	created, err := scanDownload(tx.QueryRow(ctx, insert,
		dl.ID, dl.UserID, dl.MediaID, dl.StoragePath, dl.SizeBytes, dl.CreatedAt, dl.ExpiresAt,
	))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicateDownload
		}
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return created, nil
}

// MarkExpiredDownloads flips the expired flag on every download of the user
// whose expiry has passed, then returns all expired rows whose backing
// artifact has not yet been removed. Rows stay in the result set across calls
// until MarkDownloadArtifactRemoved confirms the eviction, so a failed
// removal is retried on the next sweep.
func (r *PostgresRepository) MarkExpiredDownloads(ctx context.Context, userID uuid.UUID, now time.Time) ([]domain.Download, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`UPDATE downloads SET expired = TRUE WHERE user_id = $1 AND NOT expired AND expires_at <= $2`,
		userID, now,
	); err != nil {
		return nil, err
	}

	rows, err := tx.Query(ctx,
		`SELECT `+downloadColumns+` FROM downloads WHERE user_id = $1 AND expired AND NOT artifact_removed`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	var pending []domain.Download
	for rows.Next() {
		dl, err := scanDownload(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		pending = append(pending, *dl)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return pending, nil
}

// MarkDownloadArtifactRemoved records that an expired download's backing
// artifact is confirmed gone, taking it out of the eviction retry set.
func (r *PostgresRepository) MarkDownloadArtifactRemoved(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `UPDATE downloads SET artifact_removed = TRUE WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrDownloadNotFound
	}
	return nil
}

// ListActiveDownloads returns the user's non-expired downloads, newest first.
func (r *PostgresRepository) ListActiveDownloads(ctx context.Context, userID uuid.UUID) ([]domain.Download, error) {
	query := `
		SELECT ` + downloadColumns + ` FROM downloads
		WHERE user_id = $1 AND NOT expired
		ORDER BY created_at DESC
	`
	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var downloads []domain.Download
	for rows.Next() {
		dl, err := scanDownload(rows)
		if err != nil {
			return nil, err
		}
		downloads = append(downloads, *dl)
	}
	return downloads, rows.Err()
}

// FindDownloadByID retrieves a download owned by the given user.
func (r *PostgresRepository) FindDownloadByID(ctx context.Context, id uuid.UUID, userID uuid.UUID) (*domain.Download, error) {
	query := `SELECT ` + downloadColumns + ` FROM downloads WHERE id = $1 AND user_id = $2`
	dl, err := scanDownload(r.db.QueryRow(ctx, query, id, userID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrDownloadNotFound
		}
		return nil, err
	}
	return dl, nil
}

// DeleteDownload removes a download's metadata row.
func (r *PostgresRepository) DeleteDownload(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM downloads WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrDownloadNotFound
	}
	return nil
}

// FindMediaFileByID retrieves a catalog entry for a streamable media file.
func (r *PostgresRepository) FindMediaFileByID(ctx context.Context, id uuid.UUID) (*domain.MediaFile, error) {
	query := `SELECT id, title, storage_path, size_bytes, content_type FROM media_files WHERE id = $1`
	var media domain.MediaFile
	err := r.db.QueryRow(ctx, query, id).Scan(
		&media.ID,
		&media.Title,
		&media.StoragePath,
		&media.SizeBytes,
		&media.ContentType,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrMediaNotFound
		}
		return nil, err
	}
	return &media, nil
}
