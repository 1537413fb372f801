package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/lensfolio/backend/internal/db"
	"github.com/lensfolio/backend/internal/models"
)

// PostgresEntitlementRepository provides PostgreSQL-backed persistence for
// download entitlements.
type PostgresEntitlementRepository struct {
	pool db.Pool
}

// NewPostgresEntitlementRepository constructs an entitlement repository
// backed by PostgreSQL.
func NewPostgresEntitlementRepository(pool db.Pool) *PostgresEntitlementRepository {
	return &PostgresEntitlementRepository{pool: pool}
}

// Create persists a new entitlement.
func (r *PostgresEntitlementRepository) Create(ctx context.Context, entitlement models.DownloadEntitlement) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	expiresAt := sql.NullTime{}
	if !entitlement.ExpiresAt.IsZero() {
		expiresAt = sql.NullTime{Valid: true, Time: entitlement.ExpiresAt.UTC()}
	}

	_, err = conn.Exec(ctx, `
        INSERT INTO download_entitlements (id, session_id, client_id, photo_ids, max_downloads, expires_at, order_ref, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
    `, entitlement.ID, entitlement.SessionID, entitlement.ClientID, entitlement.PhotoIDs, entitlement.MaxDownloads, expiresAt, entitlement.OrderRef, entitlement.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			switch pgErr.Code {
			case "23505":
				return ErrConflict
			case "23503":
				return ErrNotFound
			}
		}
		return fmt.Errorf("insert entitlement: %w", err)
	}

	return nil
}

// ActiveForClient returns the unexpired entitlements for a client within a
// session, oldest purchase first so earlier grants are consumed first.
func (r *PostgresEntitlementRepository) ActiveForClient(ctx context.Context, sessionID, clientID string, now time.Time) ([]models.DownloadEntitlement, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	rows, err := conn.Query(ctx, `
        SELECT id, session_id, client_id, photo_ids, max_downloads, expires_at, order_ref, created_at
        FROM download_entitlements
        WHERE session_id = $1
          AND client_id = $2
          AND (expires_at IS NULL OR expires_at > $3)
        ORDER BY created_at ASC
    `, sessionID, clientID, now.UTC())
	if err != nil {
		return nil, fmt.Errorf("query entitlements: %w", err)
	}
	defer rows.Close()

	var entitlements []models.DownloadEntitlement
	for rows.Next() {
		var (
			ent       models.DownloadEntitlement
			expiresAt sql.NullTime
		)
		if err := rows.Scan(&ent.ID, &ent.SessionID, &ent.ClientID, &ent.PhotoIDs, &ent.MaxDownloads, &expiresAt, &ent.OrderRef, &ent.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan entitlement: %w", err)
		}
		if expiresAt.Valid {
			ent.ExpiresAt = expiresAt.Time.UTC()
		}
		entitlements = append(entitlements, ent)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entitlements: %w", err)
	}

	return entitlements, nil
}

const (
	reserveMaxRetries  = 3
	reserveBaseBackoff = 25 * time.Millisecond
	reserveMaxBackoff  = 500 * time.Millisecond
)

var retryablePgErrorCodes = map[string]struct{}{
	"40001": {}, // serialization_failure
	"40P01": {}, // deadlock_detected
	"55P03": {}, // lock_not_available
}

func isRetryableTxError(err error) bool {
	if err == nil {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if _, ok := retryablePgErrorCodes[pgErr.Code]; ok {
			return true
		}
	}

	return errors.Is(err, pgx.ErrTxClosed)
}

// PostgresDownloadRepository provides the quota-accounting persistence for
// gallery downloads. Every reserve path runs inside a serializable
// transaction with a bounded retry on serialization conflicts; the count and
// the insert commit together or not at all.
type PostgresDownloadRepository struct {
	pool db.Pool
}

// NewPostgresDownloadRepository constructs a download repository backed by
// PostgreSQL.
func NewPostgresDownloadRepository(pool db.Pool) *PostgresDownloadRepository {
	return &PostgresDownloadRepository{pool: pool}
}

// inSerializableTx runs fn inside a serializable transaction, retrying a
// small bounded number of times on serialization conflicts. Sentinel
// rejections from fn are returned as-is and never retried.
func (r *PostgresDownloadRepository) inSerializableTx(ctx context.Context, fn func(pgx.Tx) error) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	var lastErr error
	for attempt := 0; attempt < reserveMaxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(math.Pow(2, float64(attempt-1))) * reserveBaseBackoff
			if backoff > reserveMaxBackoff {
				backoff = reserveMaxBackoff
			}
			timer := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
			timer.Stop()
		}

		tx, err := conn.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
		if err != nil {
			return fmt.Errorf("begin reservation transaction: %w", err)
		}

		if err := fn(tx); err != nil {
			_ = tx.Rollback(ctx)
			if isRetryableTxError(err) {
				lastErr = err
				continue
			}
			return err
		}

		if err := tx.Commit(ctx); err != nil {
			_ = tx.Rollback(ctx)
			if isRetryableTxError(err) {
				lastErr = err
				continue
			}
			return fmt.Errorf("commit reservation: %w", err)
		}

		return nil
	}

	return fmt.Errorf("reserve download: exceeded max retries (%d): %w", reserveMaxRetries, lastErr)
}

// ReserveWithinQuota inserts the reserved row only while the client's count
// of prior attempts stays below limit. Failed attempts count too: the slot
// consumed at reservation is never returned, so repeated failures cannot be
// farmed into extra grants. The count and the insert are one statement inside
// a serializable transaction, so two concurrent requests for the last slot
// cannot both succeed.
func (r *PostgresDownloadRepository) ReserveWithinQuota(ctx context.Context, row models.GalleryDownload, limit int) error {
	return r.inSerializableTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
            INSERT INTO gallery_downloads (id, session_id, client_id, filename, photo_id, entitlement_id, status, created_at)
            SELECT $1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8
            WHERE (
                SELECT COUNT(*)
                FROM gallery_downloads
                WHERE session_id = $2
                  AND client_id = $3
                  AND status IN ('reserved', 'completed', 'failed')
            ) < $9
        `, row.ID, row.SessionID, row.ClientID, row.Filename, row.PhotoID, row.EntitlementID, row.Status, row.CreatedAt.UTC(), limit)
		if err != nil {
			return fmt.Errorf("insert reserved download: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrQuotaExhausted
		}
		return nil
	})
}

// ReserveEntitled inserts the reserved row against its entitlement, checking
// expiry and the download cap inside the same serializable transaction that
// records the consumption. Failed attempts stay counted against the cap.
func (r *PostgresDownloadRepository) ReserveEntitled(ctx context.Context, row models.GalleryDownload, now time.Time) error {
	return r.inSerializableTx(ctx, func(tx pgx.Tx) error {
		var (
			maxDownloads int
			expiresAt    sql.NullTime
		)
		err := tx.QueryRow(ctx, `
            SELECT max_downloads, expires_at
            FROM download_entitlements
            WHERE id = $1
        `, row.EntitlementID).Scan(&maxDownloads, &expiresAt)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrNotFound
			}
			return fmt.Errorf("select entitlement: %w", err)
		}

		if expiresAt.Valid && !now.UTC().Before(expiresAt.Time) {
			return ErrEntitlementExpired
		}

		tag, err := tx.Exec(ctx, `
            INSERT INTO gallery_downloads (id, session_id, client_id, filename, photo_id, entitlement_id, status, created_at)
            SELECT $1, $2, $3, $4, $5, $6, $7, $8
            WHERE $9 <= 0 OR (
                SELECT COUNT(*)
                FROM gallery_downloads
                WHERE entitlement_id = $6
                  AND status IN ('reserved', 'completed', 'failed')
            ) < $9
        `, row.ID, row.SessionID, row.ClientID, row.Filename, row.PhotoID, row.EntitlementID, row.Status, row.CreatedAt.UTC(), maxDownloads)
		if err != nil {
			return fmt.Errorf("insert entitled download: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrEntitlementExhausted
		}
		return nil
	})
}

// Create inserts a reserved row without any quota condition.
func (r *PostgresDownloadRepository) Create(ctx context.Context, row models.GalleryDownload) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	_, err = conn.Exec(ctx, `
        INSERT INTO gallery_downloads (id, session_id, client_id, filename, photo_id, entitlement_id, status, created_at)
        VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8)
    `, row.ID, row.SessionID, row.ClientID, row.Filename, row.PhotoID, row.EntitlementID, row.Status, row.CreatedAt.UTC())
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			switch pgErr.Code {
			case "23505":
				return ErrConflict
			case "23503":
				return ErrNotFound
			}
		}
		return fmt.Errorf("insert download: %w", err)
	}

	return nil
}

// MintToken stores a single-use download token.
func (r *PostgresDownloadRepository) MintToken(ctx context.Context, token models.DownloadToken) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	_, err = conn.Exec(ctx, `
        INSERT INTO download_tokens (token, download_id, session_id, filename, expires_at, is_used)
        VALUES ($1, $2, $3, $4, $5, FALSE)
    `, token.Token, token.DownloadID, token.SessionID, token.Filename, token.ExpiresAt.UTC())
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			switch pgErr.Code {
			case "23505":
				return ErrConflict
			case "23503":
				return ErrNotFound
			}
		}
		return fmt.Errorf("insert download token: %w", err)
	}

	return nil
}

// Complete redeems a token and finalizes its download in one transaction, so
// is_used flips exactly when the row reaches completed.
func (r *PostgresDownloadRepository) Complete(ctx context.Context, token string, now time.Time) (models.GalleryDownload, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return models.GalleryDownload{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	tx, err := conn.Begin(ctx)
	if err != nil {
		return models.GalleryDownload{}, fmt.Errorf("begin completion: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	ts := now.UTC()

	var downloadID string
	err = tx.QueryRow(ctx, `
        UPDATE download_tokens
        SET is_used = TRUE
        WHERE token = $1 AND is_used = FALSE AND expires_at > $2
        RETURNING download_id
    `, token, ts).Scan(&downloadID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			var used bool
			checkErr := tx.QueryRow(ctx, `SELECT is_used FROM download_tokens WHERE token = $1`, token).Scan(&used)
			if checkErr == nil && used {
				return models.GalleryDownload{}, ErrTokenUsed
			}
			return models.GalleryDownload{}, ErrNotFound
		}
		return models.GalleryDownload{}, fmt.Errorf("redeem download token: %w", err)
	}

	var (
		download    models.GalleryDownload
		completedAt sql.NullTime
	)
	err = tx.QueryRow(ctx, `
        UPDATE gallery_downloads
        SET status = $2, completed_at = $3
        WHERE id = $1 AND status = $4
        RETURNING id, session_id, client_id, filename, photo_id, COALESCE(entitlement_id, ''), status, created_at, completed_at
    `, downloadID, models.DownloadStatusCompleted, ts, models.DownloadStatusReserved).Scan(
		&download.ID,
		&download.SessionID,
		&download.ClientID,
		&download.Filename,
		&download.PhotoID,
		&download.EntitlementID,
		&download.Status,
		&download.CreatedAt,
		&completedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.GalleryDownload{}, ErrNotFound
		}
		return models.GalleryDownload{}, fmt.Errorf("finalize download: %w", err)
	}

	if completedAt.Valid {
		t := completedAt.Time.UTC()
		download.CompletedAt = &t
	}

	if err := tx.Commit(ctx); err != nil {
		return models.GalleryDownload{}, fmt.Errorf("commit completion: %w", err)
	}

	return download, nil
}

// Fail marks a reserved download as failed. Rows in a terminal state are
// never touched.
func (r *PostgresDownloadRepository) Fail(ctx context.Context, downloadID string) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	tag, err := conn.Exec(ctx, `
        UPDATE gallery_downloads
        SET status = $2
        WHERE id = $1 AND status = $3
    `, downloadID, models.DownloadStatusFailed, models.DownloadStatusReserved)
	if err != nil {
		return fmt.Errorf("fail download: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}

// FailStale marks reserved rows older than the cutoff as failed and returns
// the number of rows moved.
func (r *PostgresDownloadRepository) FailStale(ctx context.Context, cutoff time.Time) (int64, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return 0, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	tag, err := conn.Exec(ctx, `
        UPDATE gallery_downloads
        SET status = $1
        WHERE status = $2 AND created_at < $3
    `, models.DownloadStatusFailed, models.DownloadStatusReserved, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("fail stale downloads: %w", err)
	}

	return tag.RowsAffected(), nil
}

// ListBySession returns a session's download history, newest first.
func (r *PostgresDownloadRepository) ListBySession(ctx context.Context, sessionID string, limit int) ([]models.GalleryDownload, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	if limit <= 0 {
		limit = 100
	}

	rows, err := conn.Query(ctx, `
        SELECT id, session_id, client_id, filename, photo_id, COALESCE(entitlement_id, ''), status, created_at, completed_at
        FROM gallery_downloads
        WHERE session_id = $1
        ORDER BY created_at DESC
        LIMIT $2
    `, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("query downloads: %w", err)
	}
	defer rows.Close()

	var downloads []models.GalleryDownload
	for rows.Next() {
		var (
			download    models.GalleryDownload
			completedAt sql.NullTime
		)
		if err := rows.Scan(&download.ID, &download.SessionID, &download.ClientID, &download.Filename, &download.PhotoID, &download.EntitlementID, &download.Status, &download.CreatedAt, &completedAt); err != nil {
			return nil, fmt.Errorf("scan download: %w", err)
		}
		if completedAt.Valid {
			t := completedAt.Time.UTC()
			download.CompletedAt = &t
		}
		downloads = append(downloads, download)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate downloads: %w", err)
	}

	return downloads, nil
}

var _ EntitlementRepository = (*PostgresEntitlementRepository)(nil)
var _ DownloadRepository = (*PostgresDownloadRepository)(nil)
