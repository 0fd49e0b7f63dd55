package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aitimetable/accounts/internal/auth"
	"github.com/aitimetable/accounts/internal/models"
	pkgauth "github.com/aitimetable/accounts/pkg/auth"
	pkglogger "github.com/aitimetable/accounts/pkg/logger"
)

// AccountRepository is the credential store used by AccountService
type AccountRepository interface {
	Create(ctx context.Context, account *models.Account) (*models.Account, error)
	GetByEmail(ctx context.Context, email string) (*models.Account, error)
	GetByID(ctx context.Context, id string) (*models.Account, error)
	Save(ctx context.Context, account *models.Account) (*models.Account, error)
	ListPendingFaculty(ctx context.Context) ([]*models.Account, error)
}

// FacultyApprovalRepository persists an approval together with the faculty profile
type FacultyApprovalRepository interface {
	Approve(ctx context.Context, account *models.Account) (*models.Account, *models.FacultyProfile, error)
}

// NotificationQueue accepts fire-and-forget emails. Enqueue must not block.
type NotificationQueue interface {
	Enqueue(n models.Notification) bool
}

// AttemptLimiter throttles OTP verification and resend per email
type AttemptLimiter interface {
	Allow(ctx context.Context, scope, email string) error
	Reset(ctx context.Context, scope, email string)
}

// AccountServiceConfig holds the tunables of the lifecycle
type AccountServiceConfig struct {
	ResendCooldown time.Duration
	SendTimeout    time.Duration // bound on the synchronous OTP email
}

const (
	msgOTPSent          = "OTP sent to email"
	msgOTPFallback      = "Account created. Email service temporarily unavailable. Use OTP: "
	msgOTPResent        = "A new OTP has been sent to your email"
	msgResendFallback   = "Email service temporarily unavailable. Use OTP: "
	msgVerifiedFaculty  = "Email verified successfully. Awaiting admin approval."
	msgVerifiedReady    = "Account verified successfully. You can now login."
	msgLoginSuccess     = "Login successful"
	msgFacultyApproved  = "Faculty approved successfully"
	otpExpiryPhrase     = "5 minutes"
	adminBootstrapName  = "Administrator"
	defaultSendDeadline = 10 * time.Second
	approveAttempts     = 3
)

// AccountService drives the signup, verify, approve and login lifecycle
type AccountService struct {
	repo        AccountRepository
	approvals   FacultyApprovalRepository
	otp         *auth.OTPIssuer
	tokens      *auth.TokenManager
	timing      *auth.TimingDelay
	emailer     EmailService
	queue       NotificationQueue
	limiter     AttemptLimiter
	config      AccountServiceConfig
	logger      *slog.Logger
	auditLogger *pkglogger.AuditLogger
}

// NewAccountService creates a new AccountService. timing, queue, limiter and
// auditLogger may be nil.
func NewAccountService(
	repo AccountRepository,
	approvals FacultyApprovalRepository,
	otp *auth.OTPIssuer,
	tokens *auth.TokenManager,
	timing *auth.TimingDelay,
	emailer EmailService,
	queue NotificationQueue,
	limiter AttemptLimiter,
	config AccountServiceConfig,
	logger *slog.Logger,
	auditLogger *pkglogger.AuditLogger,
) *AccountService {
	if config.SendTimeout <= 0 {
		config.SendTimeout = defaultSendDeadline
	}

	return &AccountService{
		repo:        repo,
		approvals:   approvals,
		otp:         otp,
		tokens:      tokens,
		timing:      timing,
		emailer:     emailer,
		queue:       queue,
		limiter:     limiter,
		config:      config,
		logger:      logger,
		auditLogger: auditLogger,
	}
}

// AccountResponse is the public projection of an account.
// It never carries the password hash or OTP material.
type AccountResponse struct {
	ID         string      `json:"id"`
	Name       string      `json:"name"`
	Email      string      `json:"email"`
	Role       models.Role `json:"role"`
	FacultyID  *string     `json:"faculty_id,omitempty"`
	USN        *string     `json:"usn,omitempty"`
	IsVerified bool        `json:"is_verified"`
	IsApproved bool        `json:"is_approved"`
	CreatedAt  time.Time   `json:"created_at"`
}

func accountToResponse(a *models.Account) *AccountResponse {
	return &AccountResponse{
		ID:         a.ID,
		Name:       a.Name,
		Email:      a.Email,
		Role:       a.Role,
		FacultyID:  a.FacultyID,
		USN:        a.USN,
		IsVerified: a.IsVerified,
		IsApproved: a.IsApproved,
		CreatedAt:  a.CreatedAt,
	}
}

// RegisterInput is one signup request
type RegisterInput struct {
	Name      string
	Email     string
	Password  string
	Role      models.Role
	FacultyID string
	USN       string
}

// OTPResult reports how a freshly issued code reached the user.
// OTP is only set when email delivery failed.
type OTPResult struct {
	AccountID string `json:"user_id,omitempty"`
	Message   string `json:"message"`
	OTP       string `json:"otp,omitempty"`
}

// LoginResult is a minted session and the caller's projection
type LoginResult struct {
	Message   string           `json:"message"`
	Token     string           `json:"token"`
	ExpiresAt time.Time        `json:"expires_at"`
	User      *AccountResponse `json:"user"`
}

// ApprovalResult is the outcome of ApproveFaculty
type ApprovalResult struct {
	Message string                 `json:"message"`
	Faculty *models.FacultyProfile `json:"faculty"`
}

func validateRoleIdentifiers(in RegisterInput) error {
	if in.Role == "" {
		return models.ErrMissingRole
	}
	if !in.Role.Valid() {
		return models.ErrInvalidRole
	}

	hasFaculty, hasUSN := in.FacultyID != "", in.USN != ""
	switch in.Role {
	case models.RoleFaculty:
		if !hasFaculty || hasUSN {
			return models.ErrMissingRoleIdentifier
		}
	case models.RoleStudent:
		if !hasUSN || hasFaculty {
			return models.ErrMissingRoleIdentifier
		}
	case models.RoleAdmin:
		if hasFaculty || hasUSN {
			return models.ErrMissingRoleIdentifier
		}
	}
	return nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// storeError passes domain errors through and hides everything else behind ErrInternalServer
func (s *AccountService) storeError(operation string, err error) error {
	if errors.Is(err, models.ErrNotFound) || errors.Is(err, models.ErrConflict) || errors.Is(err, models.ErrBadRequest) {
		return err
	}
	s.logger.Error("account store failure", slog.String("operation", operation), slog.Any("error", err))
	return models.ErrInternalServer
}

// Register creates an account with a pending OTP and emails the code.
// If the email cannot be sent the account still exists and the code is returned instead.
func (s *AccountService) Register(ctx context.Context, in RegisterInput) (*OTPResult, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = strings.TrimSpace(in.Email)
	in.FacultyID = strings.TrimSpace(in.FacultyID)
	in.USN = strings.TrimSpace(in.USN)

	if err := validateRoleIdentifiers(in); err != nil {
		return nil, err
	}
	if in.Name == "" || in.Email == "" {
		return nil, fmt.Errorf("%w: name and email are required", models.ErrBadRequest)
	}
	if err := pkgauth.ValidatePassword(in.Password); err != nil {
		return nil, models.ErrWeakPassword
	}

	hash, err := pkgauth.HashPassword(in.Password)
	if err != nil {
		s.logger.Error("failed to hash password", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	code, expiresAt, err := s.otp.Issue()
	if err != nil {
		s.logger.Error("failed to issue otp", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	account := &models.Account{
		Name:         in.Name,
		Email:        in.Email,
		PasswordHash: hash,
		Role:         in.Role,
		FacultyID:    optional(in.FacultyID),
		USN:          optional(in.USN),
	}
	account.AttachOTP(code, expiresAt)

	created, err := s.repo.Create(ctx, account)
	if err != nil {
		if errors.Is(err, models.ErrDuplicateEmail) {
			s.auditLogger.Log(ctx, pkglogger.AuditEvent{
				EventType:     pkglogger.EventRegister,
				Email:         in.Email,
				Role:          string(in.Role),
				FailureReason: "duplicate_email",
			})
			return nil, models.ErrDuplicateEmail
		}
		return nil, s.storeError("create", err)
	}

	s.logger.Info("account registered",
		slog.String("account_id", created.ID),
		slog.String("role", string(created.Role)))
	s.auditLogger.Log(ctx, pkglogger.AuditEvent{
		EventType: pkglogger.EventRegister,
		AccountID: created.ID,
		Email:     created.Email,
		Role:      string(created.Role),
		Success:   true,
	})

	result := s.deliverOTP(ctx, created, code, msgOTPSent, msgOTPFallback)
	result.AccountID = created.ID
	return result, nil
}

// deliverOTP sends the code synchronously within the send timeout
func (s *AccountService) deliverOTP(ctx context.Context, account *models.Account, code, sentMsg, fallbackMsg string) *OTPResult {
	err := models.ErrDependency
	if s.emailer != nil {
		sendCtx, cancel := context.WithTimeout(ctx, s.config.SendTimeout)
		err = s.emailer.Notify(sendCtx, account.Email, models.TemplateOTPCode, map[string]string{
			"name":       account.Name,
			"code":       code,
			"expires_in": otpExpiryPhrase,
		})
		cancel()
	}

	if err != nil {
		s.logger.Warn("otp email not delivered, returning code in response",
			slog.String("account_id", account.ID),
			slog.Any("error", err))
		return &OTPResult{Message: fallbackMsg + code, OTP: code}
	}

	return &OTPResult{Message: sentMsg}
}

// VerifyOTP checks the code and activates the account. Faculty stay unapproved.
func (s *AccountService) VerifyOTP(ctx context.Context, email, code string) (string, error) {
	email = strings.TrimSpace(email)

	account, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		return "", s.storeError("get_by_email", err)
	}

	if err := s.allowAttempt(ctx, ScopeVerify, email); err != nil {
		s.auditVerifyFailure(ctx, account, "too_many_attempts")
		return "", err
	}

	if err := s.otp.Validate(account, code); err != nil {
		// A verified account has already consumed its code
		if errors.Is(err, models.ErrOTPNotFound) && account.IsVerified {
			err = models.ErrInvalidOTP
		}
		s.auditVerifyFailure(ctx, account, err.Error())
		return "", err
	}

	account.MarkVerified()

	saved, err := s.repo.Save(ctx, account)
	if err != nil {
		if errors.Is(err, models.ErrStaleAccount) {
			// Another request verified or replaced the code first
			s.auditVerifyFailure(ctx, account, "concurrent_update")
			return "", models.ErrInvalidOTP
		}
		return "", s.storeError("save", err)
	}

	if s.limiter != nil {
		s.limiter.Reset(ctx, ScopeVerify, email)
	}

	s.logger.Info("account verified",
		slog.String("account_id", saved.ID),
		slog.String("role", string(saved.Role)),
		slog.Bool("approved", saved.IsApproved))
	s.auditLogger.Log(ctx, pkglogger.AuditEvent{
		EventType: pkglogger.EventVerifyOTP,
		AccountID: saved.ID,
		Role:      string(saved.Role),
		Success:   true,
	})

	s.notify(saved.Email, models.TemplateWelcome, map[string]string{
		"name": saved.Name,
		"role": string(saved.Role),
	})

	if saved.IsFaculty() {
		return msgVerifiedFaculty, nil
	}
	return msgVerifiedReady, nil
}

func (s *AccountService) auditVerifyFailure(ctx context.Context, account *models.Account, reason string) {
	s.auditLogger.Log(ctx, pkglogger.AuditEvent{
		EventType:     pkglogger.EventVerifyOTP,
		AccountID:     account.ID,
		FailureReason: reason,
	})
}

// ResendOTP replaces the pending code of an unverified account
func (s *AccountService) ResendOTP(ctx context.Context, email string) (*OTPResult, error) {
	email = strings.TrimSpace(email)

	account, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		return nil, s.storeError("get_by_email", err)
	}

	if account.IsVerified {
		return nil, models.ErrAlreadyVerified
	}

	if issuedAt, ok := s.otp.IssuedAt(account); ok && s.otp.Now().Sub(issuedAt) < s.config.ResendCooldown {
		return nil, models.ErrResendCooldown
	}

	if err := s.allowAttempt(ctx, ScopeResend, email); err != nil {
		return nil, err
	}

	code, expiresAt, err := s.otp.Issue()
	if err != nil {
		s.logger.Error("failed to issue otp", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	account.AttachOTP(code, expiresAt)

	saved, err := s.repo.Save(ctx, account)
	if err != nil {
		// Another request changed the account first; the caller may simply retry
		return nil, s.storeError("save", err)
	}

	s.auditLogger.Log(ctx, pkglogger.AuditEvent{
		EventType: pkglogger.EventResendOTP,
		AccountID: saved.ID,
		Success:   true,
	})

	return s.deliverOTP(ctx, saved, code, msgOTPResent, msgResendFallback), nil
}

// Login applies the approval gate before the password check, then mints a session token.
// Failed attempts are padded to a common duration.
func (s *AccountService) Login(ctx context.Context, email, password, ipAddress string) (*LoginResult, error) {
	start := time.Now()
	email = strings.TrimSpace(email)

	fail := func(accountID, reason string, err error) (*LoginResult, error) {
		s.auditLogger.Log(ctx, pkglogger.AuditEvent{
			EventType:     pkglogger.EventLogin,
			AccountID:     accountID,
			Email:         email,
			IPAddress:     ipAddress,
			FailureReason: reason,
		})
		s.timing.WaitFrom(start)
		return nil, err
	}

	account, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return fail("", "not_found", models.ErrNotFound)
		}
		return nil, s.storeError("get_by_email", err)
	}

	if err := auth.CheckLoginEligibility(account); err != nil {
		return fail(account.ID, err.Error(), err)
	}

	if err := pkgauth.ComparePassword(account.PasswordHash, password); err != nil {
		return fail(account.ID, "invalid_credentials", models.ErrInvalidCredentials)
	}

	token, expiresAt, err := s.tokens.Mint(account.ID, account.Role)
	if err != nil {
		s.logger.Error("failed to mint session token", slog.String("account_id", account.ID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	s.logger.Info("account logged in", slog.String("account_id", account.ID))
	s.auditLogger.Log(ctx, pkglogger.AuditEvent{
		EventType: pkglogger.EventLogin,
		AccountID: account.ID,
		Role:      string(account.Role),
		IPAddress: ipAddress,
		Success:   true,
	})

	return &LoginResult{
		Message:   msgLoginSuccess,
		Token:     token,
		ExpiresAt: expiresAt,
		User:      accountToResponse(account),
	}, nil
}

// ApproveFaculty marks a faculty account approved and ensures its profile exists.
// Verification is not required first; login still checks it independently.
func (s *AccountService) ApproveFaculty(ctx context.Context, accountID, actingAdminID string) (*ApprovalResult, error) {
	var (
		saved       *models.Account
		profile     *models.FacultyProfile
		wasApproved bool
	)

	// A concurrent verify or resend bumps the version; approval reapplies on a fresh read
	for attempt := 1; ; attempt++ {
		account, err := s.repo.GetByID(ctx, accountID)
		if err != nil {
			return nil, s.storeError("get_by_id", err)
		}

		if !account.IsFaculty() {
			return nil, models.ErrNotAFaculty
		}

		wasApproved = account.IsApproved
		account.IsApproved = true

		saved, profile, err = s.approvals.Approve(ctx, account)
		if err == nil {
			break
		}
		if !errors.Is(err, models.ErrStaleAccount) || attempt >= approveAttempts {
			return nil, s.storeError("approve", err)
		}
		s.logger.Debug("approval lost a version race, retrying",
			slog.String("account_id", accountID),
			slog.Int("attempt", attempt))
	}

	s.logger.Info("faculty approved",
		slog.String("account_id", saved.ID),
		slog.String("admin_id", actingAdminID),
		slog.String("profile_id", profile.ID))
	s.auditLogger.Log(ctx, pkglogger.AuditEvent{
		EventType: pkglogger.EventFacultyApprove,
		AccountID: saved.ID,
		Role:      string(saved.Role),
		Success:   true,
		Metadata:  map[string]string{"admin_id": actingAdminID},
	})

	if !wasApproved {
		s.notify(saved.Email, models.TemplateFacultyApproved, map[string]string{"name": saved.Name})
	}

	return &ApprovalResult{Message: msgFacultyApproved, Faculty: profile}, nil
}

// ListPendingFaculty returns verified faculty awaiting approval, oldest first
func (s *AccountService) ListPendingFaculty(ctx context.Context) ([]*AccountResponse, error) {
	accounts, err := s.repo.ListPendingFaculty(ctx)
	if err != nil {
		return nil, s.storeError("list_pending_faculty", err)
	}

	resp := make([]*AccountResponse, 0, len(accounts))
	for _, a := range accounts {
		resp = append(resp, accountToResponse(a))
	}
	return resp, nil
}

// GetAccount returns the public projection of one account
func (s *AccountService) GetAccount(ctx context.Context, id string) (*AccountResponse, error) {
	account, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, s.storeError("get_by_id", err)
	}
	return accountToResponse(account), nil
}

// EnsureAdmin creates a verified, approved admin when email is set and unused.
// An existing account with that email is left alone.
func (s *AccountService) EnsureAdmin(ctx context.Context, email, password string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil
	}

	existing, err := s.repo.GetByEmail(ctx, email)
	if err == nil {
		if existing.Role != models.RoleAdmin {
			s.logger.Warn("bootstrap admin email belongs to a non-admin account",
				slog.String("account_id", existing.ID),
				slog.String("role", string(existing.Role)))
		}
		return nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return fmt.Errorf("look up bootstrap admin: %w", err)
	}

	if err := pkgauth.ValidatePassword(password); err != nil {
		return fmt.Errorf("ADMIN_PASSWORD: %w", models.ErrWeakPassword)
	}

	hash, err := pkgauth.HashPassword(password)
	if err != nil {
		return fmt.Errorf("hash bootstrap admin password: %w", err)
	}

	created, err := s.repo.Create(ctx, &models.Account{
		Name:         adminBootstrapName,
		Email:        email,
		PasswordHash: hash,
		Role:         models.RoleAdmin,
		IsVerified:   true,
		IsApproved:   true,
	})
	if err != nil {
		if errors.Is(err, models.ErrDuplicateEmail) {
			// Another instance won the race
			return nil
		}
		return fmt.Errorf("create bootstrap admin: %w", err)
	}

	s.logger.Info("bootstrap admin created", slog.String("account_id", created.ID))
	s.auditLogger.Log(ctx, pkglogger.AuditEvent{
		EventType: pkglogger.EventAdminBootstrap,
		AccountID: created.ID,
		Role:      string(created.Role),
		Success:   true,
	})
	return nil
}

func (s *AccountService) allowAttempt(ctx context.Context, scope, email string) error {
	if s.limiter == nil {
		return nil
	}
	return s.limiter.Allow(ctx, scope, email)
}

// notify queues a best-effort email; a full queue only costs the email
func (s *AccountService) notify(address string, template models.NotificationTemplate, data map[string]string) {
	if s.queue == nil {
		return
	}
	if !s.queue.Enqueue(models.Notification{Address: address, Template: template, Data: data}) {
		s.logger.Warn("notification dropped",
			slog.String("template", string(template)),
			slog.String("email", pkglogger.SanitizedEmail(address)))
	}
}
