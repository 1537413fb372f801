package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/lensfolio/backend/internal/db"
	"github.com/lensfolio/backend/internal/models"
)

// PostgresUserRepository provides PostgreSQL-backed persistence for
// photographer accounts.
type PostgresUserRepository struct {
	pool db.Pool
}

// NewPostgresUserRepository constructs a user repository backed by PostgreSQL.
func NewPostgresUserRepository(pool db.Pool) *PostgresUserRepository {
	return &PostgresUserRepository{pool: pool}
}

// Create persists a new user record.
func (r *PostgresUserRepository) Create(ctx context.Context, user models.User) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	_, err = conn.Exec(ctx, `
        INSERT INTO users (id, email, password_hash, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5)
    `, user.ID, user.Email, user.Password, user.CreatedAt, user.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrConflict
		}
		return fmt.Errorf("insert user: %w", err)
	}

	return nil
}

// FindByEmail fetches a user by their email address.
func (r *PostgresUserRepository) FindByEmail(ctx context.Context, email string) (models.User, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return models.User{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	row := conn.QueryRow(ctx, `
        SELECT id, email, password_hash, created_at, updated_at
        FROM users
        WHERE email = $1
    `, email)

	var user models.User
	if err := row.Scan(&user.ID, &user.Email, &user.Password, &user.CreatedAt, &user.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.User{}, ErrNotFound
		}
		return models.User{}, fmt.Errorf("select user by email: %w", err)
	}

	return user, nil
}

// PostgresGallerySessionRepository reads gallery sessions owned by the
// scheduling subsystem.
type PostgresGallerySessionRepository struct {
	pool db.Pool
}

// NewPostgresGallerySessionRepository constructs a session reader backed by
// PostgreSQL.
func NewPostgresGallerySessionRepository(pool db.Pool) *PostgresGallerySessionRepository {
	return &PostgresGallerySessionRepository{pool: pool}
}

// FindByID fetches one gallery session.
func (r *PostgresGallerySessionRepository) FindByID(ctx context.Context, sessionID string) (models.GallerySession, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return models.GallerySession{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	row := conn.QueryRow(ctx, `
        SELECT id, owner_id, title, gallery_token, gallery_expires_at, created_at
        FROM gallery_sessions
        WHERE id = $1
    `, sessionID)

	var session models.GallerySession
	if err := row.Scan(&session.ID, &session.OwnerID, &session.Title, &session.GalleryToken, &session.GalleryExpiresAt, &session.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.GallerySession{}, ErrNotFound
		}
		return models.GallerySession{}, fmt.Errorf("select gallery session: %w", err)
	}

	return session, nil
}

// PostgresFileRepository reads session files written by the upload subsystem.
type PostgresFileRepository struct {
	pool db.Pool
}

// NewPostgresFileRepository constructs a file repository backed by PostgreSQL.
func NewPostgresFileRepository(pool db.Pool) *PostgresFileRepository {
	return &PostgresFileRepository{pool: pool}
}

const fileColumns = `id, session_id, filename, original_name, folder_type, storage_key, size_bytes, content_type, created_at`

func scanFileRecord(row pgx.Row) (models.FileRecord, error) {
	var record models.FileRecord
	err := row.Scan(
		&record.ID,
		&record.SessionID,
		&record.Filename,
		&record.OriginalName,
		&record.FolderType,
		&record.StorageKey,
		&record.SizeBytes,
		&record.ContentType,
		&record.CreatedAt,
	)
	return record, err
}

// FindByPhotoID fetches a file by its photo id within one session.
func (r *PostgresFileRepository) FindByPhotoID(ctx context.Context, sessionID, photoID string) (models.FileRecord, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return models.FileRecord{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	record, err := scanFileRecord(conn.QueryRow(ctx, `
        SELECT `+fileColumns+`
        FROM session_files
        WHERE session_id = $1 AND id = $2
    `, sessionID, photoID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.FileRecord{}, ErrNotFound
		}
		return models.FileRecord{}, fmt.Errorf("select file by photo id: %w", err)
	}

	return record, nil
}

// FindByFilename fetches a file by filename within one session.
func (r *PostgresFileRepository) FindByFilename(ctx context.Context, sessionID, filename string) (models.FileRecord, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return models.FileRecord{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	record, err := scanFileRecord(conn.QueryRow(ctx, `
        SELECT `+fileColumns+`
        FROM session_files
        WHERE session_id = $1 AND filename = $2
    `, sessionID, filename))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.FileRecord{}, ErrNotFound
		}
		return models.FileRecord{}, fmt.Errorf("select file by filename: %w", err)
	}

	return record, nil
}

// PostgresPolicyRepository provides PostgreSQL-backed persistence for
// download policies.
type PostgresPolicyRepository struct {
	pool db.Pool
}

// NewPostgresPolicyRepository constructs a policy repository backed by
// PostgreSQL.
func NewPostgresPolicyRepository(pool db.Pool) *PostgresPolicyRepository {
	return &PostgresPolicyRepository{pool: pool}
}

// FindBySession fetches the policy configured for a session.
func (r *PostgresPolicyRepository) FindBySession(ctx context.Context, sessionID string) (models.DownloadPolicy, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return models.DownloadPolicy{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	row := conn.QueryRow(ctx, `
        SELECT session_id, mode, price_cents, free_count, bulk_tiers, currency, watermark, screenshot_protection, created_at, updated_at
        FROM download_policies
        WHERE session_id = $1
    `, sessionID)

	var (
		policy        models.DownloadPolicy
		fields        models.PolicyFields
		priceCents    sql.NullInt64
		freeCount     sql.NullInt32
		bulkTiers     []byte
		watermarkJSON []byte
	)
	if err := row.Scan(&policy.SessionID, &fields.Mode, &priceCents, &freeCount, &bulkTiers, &fields.Currency, &watermarkJSON, &fields.ScreenshotProt, &policy.CreatedAt, &policy.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.DownloadPolicy{}, ErrNotFound
		}
		return models.DownloadPolicy{}, fmt.Errorf("select download policy: %w", err)
	}

	if priceCents.Valid {
		v := priceCents.Int64
		fields.PricePerPhoto = &v
	}
	if freeCount.Valid {
		v := int(freeCount.Int32)
		fields.FreeCount = &v
	}
	if len(bulkTiers) > 0 {
		if err := json.Unmarshal(bulkTiers, &fields.BulkTiers); err != nil {
			return models.DownloadPolicy{}, fmt.Errorf("decode bulk tiers: %w", err)
		}
	}
	if len(watermarkJSON) > 0 {
		var settings models.WatermarkSettings
		if err := json.Unmarshal(watermarkJSON, &settings); err != nil {
			return models.DownloadPolicy{}, fmt.Errorf("decode watermark settings: %w", err)
		}
		fields.Watermark = &settings
	}

	mode, err := models.NewPricingMode(fields)
	if err != nil {
		return models.DownloadPolicy{}, fmt.Errorf("stored policy for %s: %w", sessionID, err)
	}

	policy.Mode = mode
	policy.Currency = fields.Currency
	policy.Watermark = fields.Watermark
	policy.ScreenshotProtection = fields.ScreenshotProt
	return policy, nil
}

// Upsert writes the policy for a session, creating it on first write.
func (r *PostgresPolicyRepository) Upsert(ctx context.Context, policy models.DownloadPolicy) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	fields := policy.Fields()

	var bulkTiers []byte
	if len(fields.BulkTiers) > 0 {
		bulkTiers, err = json.Marshal(fields.BulkTiers)
		if err != nil {
			return fmt.Errorf("encode bulk tiers: %w", err)
		}
	}

	var watermarkJSON []byte
	if fields.Watermark != nil {
		watermarkJSON, err = json.Marshal(fields.Watermark)
		if err != nil {
			return fmt.Errorf("encode watermark settings: %w", err)
		}
	}

	_, err = conn.Exec(ctx, `
        INSERT INTO download_policies (session_id, mode, price_cents, free_count, bulk_tiers, currency, watermark, screenshot_protection, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
        ON CONFLICT (session_id)
        DO UPDATE SET mode = EXCLUDED.mode,
                      price_cents = EXCLUDED.price_cents,
                      free_count = EXCLUDED.free_count,
                      bulk_tiers = EXCLUDED.bulk_tiers,
                      currency = EXCLUDED.currency,
                      watermark = EXCLUDED.watermark,
                      screenshot_protection = EXCLUDED.screenshot_protection,
                      updated_at = EXCLUDED.updated_at
    `, policy.SessionID, fields.Mode, fields.PricePerPhoto, fields.FreeCount, bulkTiers, fields.Currency, watermarkJSON, fields.ScreenshotProt, policy.CreatedAt, policy.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return ErrNotFound
		}
		return fmt.Errorf("upsert download policy: %w", err)
	}

	return nil
}

var _ UserRepository = (*PostgresUserRepository)(nil)
var _ GallerySessionRepository = (*PostgresGallerySessionRepository)(nil)
var _ FileRepository = (*PostgresFileRepository)(nil)
var _ PolicyRepository = (*PostgresPolicyRepository)(nil)
