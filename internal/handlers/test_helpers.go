package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aitimetable/accounts/internal/auth"
	"github.com/aitimetable/accounts/internal/models"
	"github.com/aitimetable/accounts/internal/services"
	pkghttp "github.com/aitimetable/accounts/pkg/http"
	"github.com/stretchr/testify/assert"
)

// NewTestRequest creates an HTTP request with JSON body for testing
func NewTestRequest(t *testing.T, method, url string, body interface{}) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, url, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// WithSession adds session claims to the request context, as AuthMiddleware would
func WithSession(req *http.Request, accountID string, role models.Role) *http.Request {
	claims := &models.SessionClaims{AccountID: accountID, Role: role}
	ctx := context.WithValue(req.Context(), auth.ClaimsContextKey, claims)
	return req.WithContext(ctx)
}

// AssertJSONResponse checks the status and decodes the body into target
func AssertJSONResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, target interface{}) {
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	if target != nil {
		err := json.Unmarshal(w.Body.Bytes(), target)
		assert.NoError(t, err, "Failed to decode response JSON")
	}
}

// AssertErrorResponse checks the status and the stable error code
func AssertErrorResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, expectedError string) {
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	var resp pkghttp.ErrorResponse
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	assert.NoError(t, err, "Failed to decode error response")
	assert.Equal(t, expectedError, resp.Error, "Error code mismatch")
	assert.NotEmpty(t, resp.Message, "Error message should not be empty")
}

// MockAuthService implements AuthServiceInterface for testing
type MockAuthService struct {
	RegisterFunc   func(ctx context.Context, in services.RegisterInput) (*services.OTPResult, error)
	VerifyOTPFunc  func(ctx context.Context, email, code string) (string, error)
	ResendOTPFunc  func(ctx context.Context, email string) (*services.OTPResult, error)
	LoginFunc      func(ctx context.Context, email, password, ipAddress string) (*services.LoginResult, error)
	GetAccountFunc func(ctx context.Context, id string) (*services.AccountResponse, error)
}

func (m *MockAuthService) Register(ctx context.Context, in services.RegisterInput) (*services.OTPResult, error) {
	if m.RegisterFunc != nil {
		return m.RegisterFunc(ctx, in)
	}
	return nil, models.ErrInternalServer
}

func (m *MockAuthService) VerifyOTP(ctx context.Context, email, code string) (string, error) {
	if m.VerifyOTPFunc != nil {
		return m.VerifyOTPFunc(ctx, email, code)
	}
	return "", models.ErrInternalServer
}

func (m *MockAuthService) ResendOTP(ctx context.Context, email string) (*services.OTPResult, error) {
	if m.ResendOTPFunc != nil {
		return m.ResendOTPFunc(ctx, email)
	}
	return nil, models.ErrInternalServer
}

func (m *MockAuthService) Login(ctx context.Context, email, password, ipAddress string) (*services.LoginResult, error) {
	if m.LoginFunc != nil {
		return m.LoginFunc(ctx, email, password, ipAddress)
	}
	return nil, models.ErrInternalServer
}

func (m *MockAuthService) GetAccount(ctx context.Context, id string) (*services.AccountResponse, error) {
	if m.GetAccountFunc != nil {
		return m.GetAccountFunc(ctx, id)
	}
	return nil, models.ErrNotFound
}

// MockAdminService implements AdminServiceInterface for testing
type MockAdminService struct {
	ListPendingFacultyFunc func(ctx context.Context) ([]*services.AccountResponse, error)
	ApproveFacultyFunc     func(ctx context.Context, accountID, actingAdminID string) (*services.ApprovalResult, error)
}

func (m *MockAdminService) ListPendingFaculty(ctx context.Context) ([]*services.AccountResponse, error) {
	if m.ListPendingFacultyFunc != nil {
		return m.ListPendingFacultyFunc(ctx)
	}
	return []*services.AccountResponse{}, nil
}

func (m *MockAdminService) ApproveFaculty(ctx context.Context, accountID, actingAdminID string) (*services.ApprovalResult, error) {
	if m.ApproveFacultyFunc != nil {
		return m.ApproveFacultyFunc(ctx, accountID, actingAdminID)
	}
	return nil, models.ErrInternalServer
}
