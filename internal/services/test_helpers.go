package services

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/aitimetable/accounts/internal/models"
	"github.com/google/uuid"
)

// MockAccountRepository implements AccountRepository for testing
type MockAccountRepository struct {
	CreateFunc             func(ctx context.Context, account *models.Account) (*models.Account, error)
	GetByEmailFunc         func(ctx context.Context, email string) (*models.Account, error)
	GetByIDFunc            func(ctx context.Context, id string) (*models.Account, error)
	SaveFunc               func(ctx context.Context, account *models.Account) (*models.Account, error)
	ListPendingFacultyFunc func(ctx context.Context) ([]*models.Account, error)
}

func (m *MockAccountRepository) Create(ctx context.Context, account *models.Account) (*models.Account, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, account)
	}
	return nil, models.ErrInternalServer
}

func (m *MockAccountRepository) GetByEmail(ctx context.Context, email string) (*models.Account, error) {
	if m.GetByEmailFunc != nil {
		return m.GetByEmailFunc(ctx, email)
	}
	return nil, models.ErrNotFound
}

func (m *MockAccountRepository) GetByID(ctx context.Context, id string) (*models.Account, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	return nil, models.ErrNotFound
}

func (m *MockAccountRepository) Save(ctx context.Context, account *models.Account) (*models.Account, error) {
	if m.SaveFunc != nil {
		return m.SaveFunc(ctx, account)
	}
	return account, nil
}

func (m *MockAccountRepository) ListPendingFaculty(ctx context.Context) ([]*models.Account, error) {
	if m.ListPendingFacultyFunc != nil {
		return m.ListPendingFacultyFunc(ctx)
	}
	return []*models.Account{}, nil
}

// MockEmailService records every send and fails when Err is set
type MockEmailService struct {
	mu   sync.Mutex
	Err  error
	Sent []models.Notification
}

func (m *MockEmailService) Notify(ctx context.Context, address string, template models.NotificationTemplate, data map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.Sent = append(m.Sent, models.Notification{Address: address, Template: template, Data: data})
	return nil
}

// MockNotificationQueue collects queued notifications; Full makes Enqueue reject
type MockNotificationQueue struct {
	mu     sync.Mutex
	Full   bool
	Queued []models.Notification
}

func (m *MockNotificationQueue) Enqueue(n models.Notification) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Full {
		return false
	}
	m.Queued = append(m.Queued, n)
	return true
}

func (m *MockNotificationQueue) Templates() []models.NotificationTemplate {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.NotificationTemplate, 0, len(m.Queued))
	for _, n := range m.Queued {
		out = append(out, n.Template)
	}
	return out
}

// MemoryAccountStore is an in-memory AccountRepository and FacultyApprovalRepository
// with the same uniqueness and version rules as the Postgres store.
type MemoryAccountStore struct {
	mu       sync.Mutex
	accounts map[string]models.Account
	profiles map[string]models.FacultyProfile
	clock    time.Time
}

func NewMemoryAccountStore() *MemoryAccountStore {
	return &MemoryAccountStore{
		accounts: make(map[string]models.Account),
		profiles: make(map[string]models.FacultyProfile),
		clock:    time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

// tick gives each write a distinct, increasing timestamp
func (s *MemoryAccountStore) tick() time.Time {
	s.clock = s.clock.Add(time.Second)
	return s.clock
}

func (s *MemoryAccountStore) Create(ctx context.Context, account *models.Account) (*models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.accounts {
		if existing.Email == account.Email {
			return nil, models.ErrDuplicateEmail
		}
	}

	stored := *account
	if stored.ID == "" {
		stored.ID = uuid.New().String()
	}
	stored.Version = 1
	stored.CreatedAt = s.tick()
	stored.UpdatedAt = stored.CreatedAt
	s.accounts[stored.ID] = stored

	out := stored
	return &out, nil
}

func (s *MemoryAccountStore) GetByEmail(ctx context.Context, email string) (*models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, a := range s.accounts {
		if a.Email == email {
			out := a
			return &out, nil
		}
	}
	return nil, models.ErrNotFound
}

func (s *MemoryAccountStore) GetByID(ctx context.Context, id string) (*models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &a, nil
}

func (s *MemoryAccountStore) Save(ctx context.Context, account *models.Account) (*models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(account)
}

func (s *MemoryAccountStore) saveLocked(account *models.Account) (*models.Account, error) {
	current, ok := s.accounts[account.ID]
	if !ok || current.Version != account.Version {
		return nil, models.ErrStaleAccount
	}

	stored := *account
	stored.Version++
	stored.UpdatedAt = s.tick()
	s.accounts[stored.ID] = stored

	out := stored
	return &out, nil
}

func (s *MemoryAccountStore) ListPendingFaculty(ctx context.Context) ([]*models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pending := make([]*models.Account, 0)
	for _, a := range s.accounts {
		if a.IsFaculty() && a.IsVerified && !a.IsApproved {
			out := a
			pending = append(pending, &out)
		}
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].CreatedAt.Before(pending[j].CreatedAt) })
	return pending, nil
}

func (s *MemoryAccountStore) Approve(ctx context.Context, account *models.Account) (*models.Account, *models.FacultyProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	saved, err := s.saveLocked(account)
	if err != nil {
		return nil, nil, err
	}

	profile, ok := s.profiles[saved.ID]
	if !ok {
		profile = models.FacultyProfile{
			ID:             uuid.New().String(),
			AccountID:      saved.ID,
			Department:     models.DefaultFacultyDepartment,
			MaxWeeklyHours: models.DefaultFacultyMaxWeeklyHours,
			CreatedAt:      s.tick(),
		}
		s.profiles[saved.ID] = profile
	}

	out := profile
	return saved, &out, nil
}

// ProfileCount reports how many profiles exist for accountID
func (s *MemoryAccountStore) ProfileCount(accountID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.profiles[accountID]; ok {
		return 1
	}
	return 0
}

// AccountCount reports how many accounts use email
func (s *MemoryAccountStore) AccountCount(email string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, a := range s.accounts {
		if a.Email == email {
			n++
		}
	}
	return n
}
