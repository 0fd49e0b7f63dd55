package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/aitimetable/accounts/internal/database"
	"github.com/aitimetable/accounts/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type FacultyProfileRepository struct {
	db       *database.DB
	timeout  time.Duration
	defaults models.FacultyProfile
}

// NewFacultyProfileRepository creates profiles with the given department and weekly hours
func NewFacultyProfileRepository(db *database.DB, timeout time.Duration, department string, maxWeeklyHours int) *FacultyProfileRepository {
	if department == "" {
		department = models.DefaultFacultyDepartment
	}
	if maxWeeklyHours <= 0 {
		maxWeeklyHours = models.DefaultFacultyMaxWeeklyHours
	}

	return &FacultyProfileRepository{
		db:      db,
		timeout: timeout,
		defaults: models.FacultyProfile{
			Department:     department,
			MaxWeeklyHours: maxWeeklyHours,
		},
	}
}

func scanProfileRow(scanner rowScanner) (*models.FacultyProfile, error) {
	var p models.FacultyProfile
	if err := scanner.Scan(&p.ID, &p.AccountID, &p.Department, &p.MaxWeeklyHours, &p.CreatedAt); err != nil {
		return nil, database.MapPostgresError(err)
	}
	return &p, nil
}

func (r *FacultyProfileRepository) GetByAccountID(ctx context.Context, accountID string) (*models.FacultyProfile, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT id, account_id, department, max_weekly_hours, created_at
		FROM faculty_profiles WHERE account_id = $1
	`
	return scanProfileRow(r.db.Pool.QueryRow(ctx, query, accountID))
}

// Approve saves the approved account and makes sure it has exactly one
// profile, in a single transaction. An existing profile is returned untouched.
func (r *FacultyProfileRepository) Approve(ctx context.Context, account *models.Account) (*models.Account, *models.FacultyProfile, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	var (
		saved   *models.Account
		profile *models.FacultyProfile
	)

	err := r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		var err error
		saved, err = saveAccount(ctx, tx, account)
		if err != nil {
			return err
		}

		profile, err = ensureProfile(ctx, tx, saved.ID, r.defaults)
		return err
	})
	if err != nil {
		return nil, nil, err
	}

	return saved, profile, nil
}

func ensureProfile(ctx context.Context, tx pgx.Tx, accountID string, defaults models.FacultyProfile) (*models.FacultyProfile, error) {
	insert := `
		INSERT INTO faculty_profiles (id, account_id, department, max_weekly_hours, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (account_id) DO NOTHING
	`
	if _, err := tx.Exec(ctx, insert,
		uuid.New().String(), accountID, defaults.Department, defaults.MaxWeeklyHours, time.Now().UTC(),
	); err != nil {
		return nil, fmt.Errorf("failed to upsert faculty profile: %w", database.MapPostgresError(err))
	}

	query := `
		SELECT id, account_id, department, max_weekly_hours, created_at
		FROM faculty_profiles WHERE account_id = $1
	`
	return scanProfileRow(tx.QueryRow(ctx, query, accountID))
}
