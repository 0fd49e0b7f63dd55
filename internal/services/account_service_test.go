package services

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aitimetable/accounts/internal/auth"
	"github.com/aitimetable/accounts/internal/models"
	pkglogger "github.com/aitimetable/accounts/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPassword = "Correct-Horse-42"

type testHarness struct {
	svc     *AccountService
	store   *MemoryAccountStore
	emailer *MockEmailService
	queue   *MockNotificationQueue
	tokens  *auth.TokenManager
	now     time.Time
}

func (h *testHarness) advance(d time.Duration) {
	h.now = h.now.Add(d)
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()

	h := &testHarness{
		store:   NewMemoryAccountStore(),
		emailer: &MockEmailService{},
		queue:   &MockNotificationQueue{},
		tokens:  auth.NewTokenManager("services-test-secret-32-chars!!!"),
		now:     time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
	}

	logger := slog.Default()
	h.svc = NewAccountService(
		h.store,
		h.store,
		auth.NewOTPIssuerWithClock(func() time.Time { return h.now }),
		h.tokens,
		nil, // no timing padding in unit tests
		h.emailer,
		h.queue,
		nil,
		AccountServiceConfig{ResendCooldown: time.Minute, SendTimeout: time.Second},
		logger,
		pkglogger.NewAuditLogger(logger),
	)
	return h
}

func studentInput(email string) RegisterInput {
	return RegisterInput{Name: "Sam Student", Email: email, Password: testPassword, Role: models.RoleStudent, USN: "1RV22CS001"}
}

func facultyInput(email string) RegisterInput {
	return RegisterInput{Name: "Fran Faculty", Email: email, Password: testPassword, Role: models.RoleFaculty, FacultyID: "FAC-77"}
}

// sentCode returns the OTP that was emailed to address most recently
func (h *testHarness) sentCode(t *testing.T, address string) string {
	t.Helper()
	for i := len(h.emailer.Sent) - 1; i >= 0; i-- {
		n := h.emailer.Sent[i]
		if n.Address == address && n.Template == models.TemplateOTPCode {
			return n.Data["code"]
		}
	}
	t.Fatalf("no OTP email sent to %s", address)
	return ""
}

func (h *testHarness) register(t *testing.T, in RegisterInput) (*OTPResult, string) {
	t.Helper()
	result, err := h.svc.Register(context.Background(), in)
	require.NoError(t, err)
	return result, h.sentCode(t, in.Email)
}

// ============================================================================
// Register
// ============================================================================

func TestAccountService_Register_Student(t *testing.T) {
	h := newTestHarness(t)

	result, code := h.register(t, studentInput("sam@college.edu"))

	assert.Equal(t, "OTP sent to email", result.Message)
	assert.Empty(t, result.OTP)
	assert.NotEmpty(t, result.AccountID)
	assert.Regexp(t, `^[0-9]{6}$`, code)

	stored, err := h.store.GetByID(context.Background(), result.AccountID)
	require.NoError(t, err)
	assert.Equal(t, models.RoleStudent, stored.Role)
	require.NotNil(t, stored.USN)
	assert.Equal(t, "1RV22CS001", *stored.USN)
	assert.Nil(t, stored.FacultyID)
	assert.False(t, stored.IsVerified)
	assert.False(t, stored.IsApproved)
	require.True(t, stored.HasPendingOTP())
	assert.Equal(t, code, *stored.OTPCode)
	assert.Equal(t, h.now.Add(5*time.Minute), *stored.OTPExpiresAt)
	assert.NotEqual(t, testPassword, stored.PasswordHash)
}

func TestAccountService_Register_RoleIdentifierRules(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*RegisterInput)
		wantErr error
	}{
		{name: "missing role", mutate: func(in *RegisterInput) { in.Role = "" }, wantErr: models.ErrMissingRole},
		{name: "unknown role", mutate: func(in *RegisterInput) { in.Role = "dean" }, wantErr: models.ErrInvalidRole},
		{name: "student without usn", mutate: func(in *RegisterInput) { in.USN = "" }, wantErr: models.ErrMissingRoleIdentifier},
		{name: "student with faculty id too", mutate: func(in *RegisterInput) { in.FacultyID = "FAC-1" }, wantErr: models.ErrMissingRoleIdentifier},
		{name: "faculty without faculty id", mutate: func(in *RegisterInput) { in.Role = models.RoleFaculty; in.USN = "" }, wantErr: models.ErrMissingRoleIdentifier},
		{name: "faculty with usn", mutate: func(in *RegisterInput) { in.Role = models.RoleFaculty; in.FacultyID = "FAC-1" }, wantErr: models.ErrMissingRoleIdentifier},
		{name: "admin with usn", mutate: func(in *RegisterInput) { in.Role = models.RoleAdmin }, wantErr: models.ErrMissingRoleIdentifier},
		{name: "blank usn counts as missing", mutate: func(in *RegisterInput) { in.USN = "   " }, wantErr: models.ErrMissingRoleIdentifier},
		{name: "weak password", mutate: func(in *RegisterInput) { in.Password = "short" }, wantErr: models.ErrWeakPassword},
		{name: "common password", mutate: func(in *RegisterInput) { in.Password = "Password123" }, wantErr: models.ErrWeakPassword},
		{name: "password past bcrypt limit", mutate: func(in *RegisterInput) { in.Password = strings.Repeat("x", 73) }, wantErr: models.ErrWeakPassword},
		{name: "blank name", mutate: func(in *RegisterInput) { in.Name = " " }, wantErr: models.ErrBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHarness(t)
			in := studentInput("sam@college.edu")
			tt.mutate(&in)

			result, err := h.svc.Register(context.Background(), in)

			assert.Nil(t, result)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, 0, h.store.AccountCount("sam@college.edu"), "no account may be created")
			assert.Empty(t, h.emailer.Sent)
		})
	}
}

func TestAccountService_Register_AdminHasNoIdentifier(t *testing.T) {
	h := newTestHarness(t)

	result, _ := h.register(t, RegisterInput{Name: "Ada", Email: "ada@college.edu", Password: testPassword, Role: models.RoleAdmin})

	stored, err := h.store.GetByID(context.Background(), result.AccountID)
	require.NoError(t, err)
	assert.Nil(t, stored.FacultyID)
	assert.Nil(t, stored.USN)
}

func TestAccountService_Register_DuplicateEmail(t *testing.T) {
	h := newTestHarness(t)
	h.register(t, studentInput("sam@college.edu"))

	result, err := h.svc.Register(context.Background(), facultyInput("sam@college.edu"))

	assert.Nil(t, result)
	assert.ErrorIs(t, err, models.ErrDuplicateEmail)
	assert.ErrorIs(t, err, models.ErrConflict)
	assert.Equal(t, 1, h.store.AccountCount("sam@college.edu"))
}

func TestAccountService_Register_EmailIsCaseSensitive(t *testing.T) {
	h := newTestHarness(t)
	h.register(t, studentInput("sam@college.edu"))

	_, err := h.svc.Register(context.Background(), studentInput("Sam@college.edu"))

	assert.NoError(t, err)
}

func TestAccountService_Register_ConcurrentSameEmail(t *testing.T) {
	h := newTestHarness(t)

	const attempts = 4
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.svc.Register(context.Background(), studentInput("race@college.edu"))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, models.ErrDuplicateEmail):
				conflicts++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, attempts-1, conflicts)
	assert.Equal(t, 1, h.store.AccountCount("race@college.edu"))
}

func TestAccountService_Register_EmailFailureFallsBackToCode(t *testing.T) {
	h := newTestHarness(t)
	h.emailer.Err = errors.New("smtp down")

	result, err := h.svc.Register(context.Background(), studentInput("sam@college.edu"))

	require.NoError(t, err)
	require.Regexp(t, `^[0-9]{6}$`, result.OTP)
	assert.True(t, strings.HasSuffix(result.Message, "OTP: "+result.OTP))

	stored, err := h.store.GetByEmail(context.Background(), "sam@college.edu")
	require.NoError(t, err)
	assert.Equal(t, result.OTP, *stored.OTPCode, "fallback code must be the stored one")
}

func TestAccountService_Register_StoreFailureIsInternal(t *testing.T) {
	h := newTestHarness(t)
	h.svc.repo = &MockAccountRepository{
		CreateFunc: func(ctx context.Context, account *models.Account) (*models.Account, error) {
			return nil, errors.New("connection refused")
		},
	}

	_, err := h.svc.Register(context.Background(), studentInput("sam@college.edu"))

	assert.ErrorIs(t, err, models.ErrInternalServer)
	assert.Empty(t, h.emailer.Sent)
}

// ============================================================================
// VerifyOTP
// ============================================================================

func TestAccountService_VerifyOTP_StudentAutoApproved(t *testing.T) {
	h := newTestHarness(t)
	_, code := h.register(t, studentInput("sam@college.edu"))

	h.advance(60 * time.Second)
	msg, err := h.svc.VerifyOTP(context.Background(), "sam@college.edu", code)

	require.NoError(t, err)
	assert.Equal(t, "Account verified successfully. You can now login.", msg)

	stored, _ := h.store.GetByEmail(context.Background(), "sam@college.edu")
	assert.True(t, stored.IsVerified)
	assert.True(t, stored.IsApproved)
	assert.Nil(t, stored.OTPCode)
	assert.Nil(t, stored.OTPExpiresAt)
	assert.Equal(t, []models.NotificationTemplate{models.TemplateWelcome}, h.queue.Templates())
}

func TestAccountService_VerifyOTP_FacultyAwaitsApproval(t *testing.T) {
	h := newTestHarness(t)
	_, code := h.register(t, facultyInput("fran@college.edu"))

	msg, err := h.svc.VerifyOTP(context.Background(), "fran@college.edu", code)

	require.NoError(t, err)
	assert.Equal(t, "Email verified successfully. Awaiting admin approval.", msg)

	stored, _ := h.store.GetByEmail(context.Background(), "fran@college.edu")
	assert.True(t, stored.IsVerified)
	assert.False(t, stored.IsApproved)
}

func TestAccountService_VerifyOTP_Expired(t *testing.T) {
	h := newTestHarness(t)
	_, code := h.register(t, studentInput("sam@college.edu"))
	before, _ := h.store.GetByEmail(context.Background(), "sam@college.edu")

	h.advance(301 * time.Second)
	_, err := h.svc.VerifyOTP(context.Background(), "sam@college.edu", code)

	assert.ErrorIs(t, err, models.ErrOTPExpired)
	after, _ := h.store.GetByEmail(context.Background(), "sam@college.edu")
	assert.Equal(t, before, after, "account state must be unchanged")
	assert.Empty(t, h.queue.Templates())
}

func TestAccountService_VerifyOTP_WrongCodeLeavesCodeUsable(t *testing.T) {
	h := newTestHarness(t)
	_, code := h.register(t, studentInput("sam@college.edu"))
	before, _ := h.store.GetByEmail(context.Background(), "sam@college.edu")

	wrong := "000000"
	if code == wrong {
		wrong = "111111"
	}
	_, err := h.svc.VerifyOTP(context.Background(), "sam@college.edu", wrong)
	assert.ErrorIs(t, err, models.ErrInvalidOTP)

	after, _ := h.store.GetByEmail(context.Background(), "sam@college.edu")
	assert.Equal(t, before, after)

	_, err = h.svc.VerifyOTP(context.Background(), "sam@college.edu", code)
	assert.NoError(t, err)
}

func TestAccountService_VerifyOTP_UnknownEmail(t *testing.T) {
	h := newTestHarness(t)

	_, err := h.svc.VerifyOTP(context.Background(), "ghost@college.edu", "123456")

	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestAccountService_VerifyOTP_SecondVerifyIsInvalid(t *testing.T) {
	h := newTestHarness(t)
	_, code := h.register(t, studentInput("sam@college.edu"))

	_, err := h.svc.VerifyOTP(context.Background(), "sam@college.edu", code)
	require.NoError(t, err)

	_, err = h.svc.VerifyOTP(context.Background(), "sam@college.edu", code)
	assert.ErrorIs(t, err, models.ErrInvalidOTP)
	assert.Len(t, h.queue.Templates(), 1, "welcome must be sent once")
}

func TestAccountService_VerifyOTP_LostRaceIsInvalid(t *testing.T) {
	h := newTestHarness(t)
	_, code := h.register(t, studentInput("sam@college.edu"))

	// Both requests read the same version; the competing save lands first
	store := h.store
	h.svc.repo = &MockAccountRepository{
		GetByEmailFunc: store.GetByEmail,
		SaveFunc: func(ctx context.Context, account *models.Account) (*models.Account, error) {
			competitor := *account
			if _, err := store.Save(ctx, &competitor); err != nil {
				return nil, err
			}
			return store.Save(ctx, account)
		},
	}

	_, err := h.svc.VerifyOTP(context.Background(), "sam@college.edu", code)

	assert.ErrorIs(t, err, models.ErrInvalidOTP)
	assert.Empty(t, h.queue.Templates())
}

func TestAccountService_VerifyOTP_ConcurrentOnlyOneSucceeds(t *testing.T) {
	h := newTestHarness(t)
	_, code := h.register(t, studentInput("sam@college.edu"))

	const attempts = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.svc.VerifyOTP(context.Background(), "sam@college.edu", code)
			if err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, models.ErrInvalidOTP)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Len(t, h.queue.Templates(), 1)
}

func TestAccountService_VerifyOTP_Throttled(t *testing.T) {
	h := newTestHarness(t)
	_, code := h.register(t, studentInput("sam@college.edu"))
	_, client := newTestRedis(t)
	h.svc.limiter = NewOTPAttemptLimiter(client, 2, time.Minute, slog.Default())

	for i := 0; i < 2; i++ {
		_, err := h.svc.VerifyOTP(context.Background(), "sam@college.edu", "999999x")
		require.ErrorIs(t, err, models.ErrInvalidOTP)
	}

	_, err := h.svc.VerifyOTP(context.Background(), "sam@college.edu", code)
	assert.ErrorIs(t, err, models.ErrTooManyAttempts)
}

func TestAccountService_VerifyOTP_NotificationQueueFullStillVerifies(t *testing.T) {
	h := newTestHarness(t)
	h.queue.Full = true
	_, code := h.register(t, studentInput("sam@college.edu"))

	_, err := h.svc.VerifyOTP(context.Background(), "sam@college.edu", code)

	require.NoError(t, err)
	stored, _ := h.store.GetByEmail(context.Background(), "sam@college.edu")
	assert.True(t, stored.IsVerified)
}

// ============================================================================
// ResendOTP
// ============================================================================

func TestAccountService_ResendOTP(t *testing.T) {
	h := newTestHarness(t)
	_, first := h.register(t, studentInput("sam@college.edu"))

	_, err := h.svc.ResendOTP(context.Background(), "sam@college.edu")
	assert.ErrorIs(t, err, models.ErrResendCooldown)

	h.advance(61 * time.Second)
	result, err := h.svc.ResendOTP(context.Background(), "sam@college.edu")
	require.NoError(t, err)
	assert.Empty(t, result.OTP)

	second := h.sentCode(t, "sam@college.edu")
	stored, _ := h.store.GetByEmail(context.Background(), "sam@college.edu")
	assert.Equal(t, second, *stored.OTPCode)
	assert.Equal(t, h.now.Add(5*time.Minute), *stored.OTPExpiresAt)

	if first != second {
		_, err = h.svc.VerifyOTP(context.Background(), "sam@college.edu", first)
		assert.ErrorIs(t, err, models.ErrInvalidOTP, "replaced code must stop working")
	}
	_, err = h.svc.VerifyOTP(context.Background(), "sam@college.edu", second)
	assert.NoError(t, err)
}

func TestAccountService_ResendOTP_AlreadyVerified(t *testing.T) {
	h := newTestHarness(t)
	_, code := h.register(t, studentInput("sam@college.edu"))
	_, err := h.svc.VerifyOTP(context.Background(), "sam@college.edu", code)
	require.NoError(t, err)

	_, err = h.svc.ResendOTP(context.Background(), "sam@college.edu")

	assert.ErrorIs(t, err, models.ErrAlreadyVerified)
}

func TestAccountService_ResendOTP_FallbackOnEmailFailure(t *testing.T) {
	h := newTestHarness(t)
	h.register(t, studentInput("sam@college.edu"))
	h.emailer.Err = errors.New("ses throttled")
	h.advance(2 * time.Minute)

	result, err := h.svc.ResendOTP(context.Background(), "sam@college.edu")

	require.NoError(t, err)
	stored, _ := h.store.GetByEmail(context.Background(), "sam@college.edu")
	assert.Equal(t, *stored.OTPCode, result.OTP)
}

// racingStore returns a snapshot taken before interleave runs, so the caller
// acts on a version that another request has already replaced.
type racingStore struct {
	*MemoryAccountStore
	once       sync.Once
	interleave func()
}

func (r *racingStore) GetByID(ctx context.Context, id string) (*models.Account, error) {
	snapshot, err := r.MemoryAccountStore.GetByID(ctx, id)
	r.once.Do(r.interleave)
	return snapshot, err
}

func (r *racingStore) GetByEmail(ctx context.Context, email string) (*models.Account, error) {
	snapshot, err := r.MemoryAccountStore.GetByEmail(ctx, email)
	r.once.Do(r.interleave)
	return snapshot, err
}

// serviceOver builds a second service that shares the harness clock, mocks and store
func (h *testHarness) serviceOver(repo *racingStore) *AccountService {
	logger := slog.Default()
	return NewAccountService(
		repo,
		repo.MemoryAccountStore,
		auth.NewOTPIssuerWithClock(func() time.Time { return h.now }),
		h.tokens,
		nil,
		h.emailer,
		h.queue,
		nil,
		AccountServiceConfig{ResendCooldown: time.Minute, SendTimeout: time.Second},
		logger,
		nil,
	)
}

func TestAccountService_ResendOTP_LostRaceIsConflict(t *testing.T) {
	h := newTestHarness(t)
	h.register(t, studentInput("sam@college.edu"))
	h.advance(2 * time.Minute)

	repo := &racingStore{MemoryAccountStore: h.store}
	repo.interleave = func() {
		_, err := h.svc.ResendOTP(context.Background(), "sam@college.edu")
		require.NoError(t, err)
	}
	winner := func() string {
		stored, _ := h.store.GetByEmail(context.Background(), "sam@college.edu")
		return *stored.OTPCode
	}

	_, err := h.serviceOver(repo).ResendOTP(context.Background(), "sam@college.edu")

	assert.ErrorIs(t, err, models.ErrStaleAccount)
	assert.NotErrorIs(t, err, models.ErrResendCooldown)

	_, err = h.svc.VerifyOTP(context.Background(), "sam@college.edu", winner())
	assert.NoError(t, err, "the code from the winning resend stays valid")
}

// ============================================================================
// Login
// ============================================================================

func TestAccountService_Login_Unverified(t *testing.T) {
	h := newTestHarness(t)
	h.register(t, studentInput("sam@college.edu"))

	for _, password := range []string{testPassword, "wrong-password"} {
		_, err := h.svc.Login(context.Background(), "sam@college.edu", password, "203.0.113.1")
		assert.ErrorIs(t, err, models.ErrUnverified)
	}
}

func TestAccountService_Login_FacultyPendingApproval(t *testing.T) {
	h := newTestHarness(t)
	_, code := h.register(t, facultyInput("fran@college.edu"))
	_, err := h.svc.VerifyOTP(context.Background(), "fran@college.edu", code)
	require.NoError(t, err)

	for _, password := range []string{testPassword, "wrong-password"} {
		_, err = h.svc.Login(context.Background(), "fran@college.edu", password, "")
		assert.ErrorIs(t, err, models.ErrPendingApproval)
	}
}

func TestAccountService_Login_WrongPassword(t *testing.T) {
	h := newTestHarness(t)
	_, code := h.register(t, studentInput("sam@college.edu"))
	_, err := h.svc.VerifyOTP(context.Background(), "sam@college.edu", code)
	require.NoError(t, err)

	_, err = h.svc.Login(context.Background(), "sam@college.edu", "Wrong-Horse-42", "")

	assert.ErrorIs(t, err, models.ErrInvalidCredentials)
}

func TestAccountService_Login_UnknownEmail(t *testing.T) {
	h := newTestHarness(t)

	_, err := h.svc.Login(context.Background(), "ghost@college.edu", testPassword, "")

	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestAccountService_Login_PaddedOnFailure(t *testing.T) {
	h := newTestHarness(t)
	h.svc.timing = auth.NewTimingDelay(auth.TimingConfig{BaseDelayMs: 30})

	start := time.Now()
	_, err := h.svc.Login(context.Background(), "ghost@college.edu", testPassword, "")

	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

// ============================================================================
// ApproveFaculty / ListPendingFaculty
// ============================================================================

func TestAccountService_ApproveFaculty_Idempotent(t *testing.T) {
	h := newTestHarness(t)
	reg, code := h.register(t, facultyInput("fran@college.edu"))
	_, err := h.svc.VerifyOTP(context.Background(), "fran@college.edu", code)
	require.NoError(t, err)

	first, err := h.svc.ApproveFaculty(context.Background(), reg.AccountID, "admin-1")
	require.NoError(t, err)
	assert.Equal(t, "Faculty approved successfully", first.Message)
	assert.Equal(t, reg.AccountID, first.Faculty.AccountID)
	assert.Equal(t, "unassigned", first.Faculty.Department)
	assert.Equal(t, 20, first.Faculty.MaxWeeklyHours)

	second, err := h.svc.ApproveFaculty(context.Background(), reg.AccountID, "admin-1")
	require.NoError(t, err)
	assert.Equal(t, first.Faculty.ID, second.Faculty.ID, "existing profile must be reused")
	assert.Equal(t, 1, h.store.ProfileCount(reg.AccountID))

	approvals := 0
	for _, tpl := range h.queue.Templates() {
		if tpl == models.TemplateFacultyApproved {
			approvals++
		}
	}
	assert.Equal(t, 1, approvals, "approval email sent once")
}

func TestAccountService_ApproveFaculty_NotAFaculty(t *testing.T) {
	h := newTestHarness(t)
	reg, _ := h.register(t, studentInput("sam@college.edu"))

	_, err := h.svc.ApproveFaculty(context.Background(), reg.AccountID, "admin-1")

	assert.ErrorIs(t, err, models.ErrNotAFaculty)
	assert.Equal(t, 0, h.store.ProfileCount(reg.AccountID))
}

func TestAccountService_ApproveFaculty_NotFound(t *testing.T) {
	h := newTestHarness(t)

	_, err := h.svc.ApproveFaculty(context.Background(), "missing", "admin-1")

	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestAccountService_ApproveFaculty_BeforeVerification(t *testing.T) {
	h := newTestHarness(t)
	reg, code := h.register(t, facultyInput("fran@college.edu"))

	_, err := h.svc.ApproveFaculty(context.Background(), reg.AccountID, "admin-1")
	require.NoError(t, err)

	stored, _ := h.store.GetByID(context.Background(), reg.AccountID)
	assert.True(t, stored.IsApproved)
	assert.False(t, stored.IsVerified)

	_, err = h.svc.Login(context.Background(), "fran@college.edu", testPassword, "")
	assert.ErrorIs(t, err, models.ErrUnverified, "approval does not bypass verification")

	_, err = h.svc.VerifyOTP(context.Background(), "fran@college.edu", code)
	require.NoError(t, err)
	_, err = h.svc.Login(context.Background(), "fran@college.edu", testPassword, "")
	assert.NoError(t, err)
}

func TestAccountService_ApproveFaculty_SurvivesConcurrentVerify(t *testing.T) {
	h := newTestHarness(t)
	reg, code := h.register(t, facultyInput("fran@college.edu"))

	var verifyMsg string
	repo := &racingStore{MemoryAccountStore: h.store}
	repo.interleave = func() {
		msg, err := h.svc.VerifyOTP(context.Background(), "fran@college.edu", code)
		require.NoError(t, err)
		verifyMsg = msg
	}

	result, err := h.serviceOver(repo).ApproveFaculty(context.Background(), reg.AccountID, "admin-1")

	require.NoError(t, err)
	require.NotNil(t, result.Faculty)
	assert.Equal(t, "Email verified successfully. Awaiting admin approval.", verifyMsg)

	stored, _ := h.store.GetByID(context.Background(), reg.AccountID)
	assert.True(t, stored.IsVerified, "the verify that won the race is kept")
	assert.True(t, stored.IsApproved)
	assert.Nil(t, stored.OTPCode)
	assert.Equal(t, 1, h.store.ProfileCount(reg.AccountID))

	login, err := h.svc.Login(context.Background(), "fran@college.edu", testPassword, "")
	require.NoError(t, err)
	assert.NotEmpty(t, login.Token)
}

func TestAccountService_ApproveFaculty_GivesUpAfterRepeatedConflicts(t *testing.T) {
	h := newTestHarness(t)
	reg, _ := h.register(t, facultyInput("fran@college.edu"))

	calls := 0
	approvals := &conflictingApprovals{approve: func() { calls++ }}
	svc := NewAccountService(h.store, approvals, auth.NewOTPIssuer(), h.tokens, nil,
		h.emailer, h.queue, nil, AccountServiceConfig{}, slog.Default(), nil)

	_, err := svc.ApproveFaculty(context.Background(), reg.AccountID, "admin-1")

	assert.ErrorIs(t, err, models.ErrStaleAccount)
	assert.Equal(t, approveAttempts, calls)
	assert.Empty(t, h.queue.Templates(), "no approval email for a failed approval")
}

type conflictingApprovals struct {
	approve func()
}

func (c *conflictingApprovals) Approve(ctx context.Context, account *models.Account) (*models.Account, *models.FacultyProfile, error) {
	c.approve()
	return nil, nil, models.ErrStaleAccount
}

func TestAccountService_ListPendingFaculty(t *testing.T) {
	h := newTestHarness(t)

	older, olderCode := h.register(t, facultyInput("older@college.edu"))
	h.register(t, facultyInput("unverified@college.edu"))
	newer, newerCode := h.register(t, facultyInput("newer@college.edu"))
	_, studentCode := h.register(t, studentInput("sam@college.edu"))

	for email, code := range map[string]string{
		"newer@college.edu": newerCode,
		"older@college.edu": olderCode,
		"sam@college.edu":   studentCode,
	} {
		_, err := h.svc.VerifyOTP(context.Background(), email, code)
		require.NoError(t, err)
	}

	pending, err := h.svc.ListPendingFaculty(context.Background())
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, older.AccountID, pending[0].ID)
	assert.Equal(t, newer.AccountID, pending[1].ID)

	_, err = h.svc.ApproveFaculty(context.Background(), older.AccountID, "admin-1")
	require.NoError(t, err)

	pending, err = h.svc.ListPendingFaculty(context.Background())
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, newer.AccountID, pending[0].ID)
}

// ============================================================================
// Round trip / projection
// ============================================================================

func TestAccountService_RoundTrip(t *testing.T) {
	roles := []RegisterInput{
		studentInput("sam@college.edu"),
		facultyInput("fran@college.edu"),
		{Name: "Ada", Email: "ada@college.edu", Password: testPassword, Role: models.RoleAdmin},
	}

	for _, in := range roles {
		t.Run(string(in.Role), func(t *testing.T) {
			h := newTestHarness(t)
			reg, code := h.register(t, in)

			_, err := h.svc.VerifyOTP(context.Background(), in.Email, code)
			require.NoError(t, err)

			if in.Role == models.RoleFaculty {
				_, err = h.svc.ApproveFaculty(context.Background(), reg.AccountID, "admin-1")
				require.NoError(t, err)
			}

			result, err := h.svc.Login(context.Background(), in.Email, in.Password, "")
			require.NoError(t, err)
			assert.Equal(t, "Login successful", result.Message)
			assert.Equal(t, reg.AccountID, result.User.ID)
			assert.True(t, result.User.IsVerified)
			assert.True(t, result.User.IsApproved)

			claims, err := h.tokens.Validate(result.Token)
			require.NoError(t, err)
			assert.Equal(t, reg.AccountID, claims.AccountID)
			assert.Equal(t, in.Role, claims.Role)

			raw, err := json.Marshal(result.User)
			require.NoError(t, err)
			var projected map[string]interface{}
			require.NoError(t, json.Unmarshal(raw, &projected))
			for key := range projected {
				assert.NotContains(t, key, "password")
				assert.NotContains(t, key, "otp")
			}
			assert.NotContains(t, string(raw), "$2a$")
		})
	}
}

func TestAccountService_GetAccount(t *testing.T) {
	h := newTestHarness(t)
	reg, _ := h.register(t, facultyInput("fran@college.edu"))

	resp, err := h.svc.GetAccount(context.Background(), reg.AccountID)
	require.NoError(t, err)
	assert.Equal(t, "fran@college.edu", resp.Email)
	require.NotNil(t, resp.FacultyID)
	assert.Equal(t, "FAC-77", *resp.FacultyID)

	_, err = h.svc.GetAccount(context.Background(), "missing")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

// ============================================================================
// EnsureAdmin
// ============================================================================

func TestAccountService_EnsureAdmin(t *testing.T) {
	h := newTestHarness(t)

	require.NoError(t, h.svc.EnsureAdmin(context.Background(), "root@college.edu", testPassword))
	require.NoError(t, h.svc.EnsureAdmin(context.Background(), "root@college.edu", testPassword))
	assert.Equal(t, 1, h.store.AccountCount("root@college.edu"))

	result, err := h.svc.Login(context.Background(), "root@college.edu", testPassword, "")
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, result.User.Role)
}

func TestAccountService_EnsureAdmin_Disabled(t *testing.T) {
	h := newTestHarness(t)
	h.svc.repo = &MockAccountRepository{
		GetByEmailFunc: func(ctx context.Context, email string) (*models.Account, error) {
			t.Fatal("store must not be touched without an admin email")
			return nil, nil
		},
	}

	assert.NoError(t, h.svc.EnsureAdmin(context.Background(), "", ""))
}

func TestAccountService_EnsureAdmin_WeakPassword(t *testing.T) {
	h := newTestHarness(t)

	err := h.svc.EnsureAdmin(context.Background(), "root@college.edu", "admin")

	assert.ErrorIs(t, err, models.ErrWeakPassword)
	assert.Equal(t, 0, h.store.AccountCount("root@college.edu"))
}
