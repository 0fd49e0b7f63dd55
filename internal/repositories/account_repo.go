package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aitimetable/accounts/internal/database"
	"github.com/aitimetable/accounts/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const accountColumns = `id, name, email, password_hash, role, faculty_id, usn, otp_code, otp_expires_at,
		is_verified, is_approved, version, created_at, updated_at`

type AccountRepository struct {
	db      *database.DB
	timeout time.Duration
}

// NewAccountRepository bounds every call with timeout; zero disables the bound
func NewAccountRepository(db *database.DB, timeout time.Duration) *AccountRepository {
	return &AccountRepository{db: db, timeout: timeout}
}

// rowScanner is satisfied by both pgx.Row and pgx.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAccountRow(scanner rowScanner) (*models.Account, error) {
	var a models.Account

	err := scanner.Scan(
		&a.ID, &a.Name, &a.Email, &a.PasswordHash, &a.Role,
		&a.FacultyID, &a.USN, &a.OTPCode, &a.OTPExpiresAt,
		&a.IsVerified, &a.IsApproved, &a.Version, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &a, nil
}

func scanAccountRows(rows pgx.Rows) ([]*models.Account, error) {
	defer rows.Close()

	accounts := make([]*models.Account, 0)
	for rows.Next() {
		a, err := scanAccountRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		accounts = append(accounts, a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return accounts, nil
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// Create inserts a new account. Email uniqueness is left to the database so
// concurrent registrations of one address cannot both succeed.
func (r *AccountRepository) Create(ctx context.Context, account *models.Account) (*models.Account, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	if account.ID == "" {
		account.ID = uuid.New().String()
	}
	now := time.Now().UTC()

	query := `
		INSERT INTO accounts (id, name, email, password_hash, role, faculty_id, usn, otp_code, otp_expires_at,
			is_verified, is_approved, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, 1, $12, $12)
		RETURNING ` + accountColumns

	created, err := scanAccountRow(r.db.Pool.QueryRow(ctx, query,
		account.ID, account.Name, account.Email, account.PasswordHash, account.Role,
		account.FacultyID, account.USN, account.OTPCode, account.OTPExpiresAt,
		account.IsVerified, account.IsApproved, now,
	))
	if err != nil {
		if errors.Is(err, models.ErrConflict) {
			return nil, models.ErrDuplicateEmail
		}
		return nil, err
	}

	return created, nil
}

func (r *AccountRepository) GetByID(ctx context.Context, id string) (*models.Account, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	if _, err := uuid.Parse(id); err != nil {
		return nil, models.ErrNotFound
	}

	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`
	return scanAccountRow(r.db.Pool.QueryRow(ctx, query, id))
}

// GetByEmail matches the address exactly as stored
func (r *AccountRepository) GetByEmail(ctx context.Context, email string) (*models.Account, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	query := `SELECT ` + accountColumns + ` FROM accounts WHERE email = $1`
	return scanAccountRow(r.db.Pool.QueryRow(ctx, query, email))
}

// Save writes the mutable fields if nobody else saved the account since it was read.
// Returns models.ErrStaleAccount when the version moved on.
func (r *AccountRepository) Save(ctx context.Context, account *models.Account) (*models.Account, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	return saveAccount(ctx, r.db.Pool, account)
}

// queryRower is satisfied by the pool and by a transaction
type queryRower interface {
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

func saveAccount(ctx context.Context, q queryRower, account *models.Account) (*models.Account, error) {
	query := `
		UPDATE accounts SET name = $1, password_hash = $2, otp_code = $3, otp_expires_at = $4,
			is_verified = $5, is_approved = $6, version = version + 1, updated_at = $7
		WHERE id = $8 AND version = $9
		RETURNING ` + accountColumns

	saved, err := scanAccountRow(q.QueryRow(ctx, query,
		account.Name, account.PasswordHash, account.OTPCode, account.OTPExpiresAt,
		account.IsVerified, account.IsApproved, time.Now().UTC(),
		account.ID, account.Version,
	))
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrStaleAccount
		}
		return nil, err
	}

	return saved, nil
}

// ListPendingFaculty returns verified faculty awaiting approval, oldest first
func (r *AccountRepository) ListPendingFaculty(ctx context.Context) ([]*models.Account, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT ` + accountColumns + `
		FROM accounts
		WHERE role = 'faculty' AND is_verified AND NOT is_approved
		ORDER BY created_at ASC, id ASC
	`

	rows, err := r.db.Pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending faculty: %w", err)
	}

	return scanAccountRows(rows)
}
