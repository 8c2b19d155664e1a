package http

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	apierrors "signcast/internal/errors"
	"signcast/internal/services"
	"signcast/pkg/contracts/domain"
)

// mockAdminService is a testify mock of services.AdminService
type mockAdminService struct {
	mock.Mock
}

func (m *mockAdminService) Login(ctx context.Context, apiKey, sourceIP string) error {
	return m.Called(ctx, apiKey, sourceIP).Error(0)
}

func (m *mockAdminService) Authorize(apiKey string) error {
	return m.Called(apiKey).Error(0)
}

func (m *mockAdminService) CreateLicense(ctx context.Context, req services.CreateLicenseRequest, sourceIP string) (*domain.LicenseRecord, error) {
	args := m.Called(ctx, req, sourceIP)
	if record := args.Get(0); record != nil {
		return record.(*domain.LicenseRecord), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockAdminService) UpdateLicense(ctx context.Context, id string, req services.UpdateLicenseRequest, sourceIP string) (*domain.LicenseRecord, error) {
	args := m.Called(ctx, id, req, sourceIP)
	if record := args.Get(0); record != nil {
		return record.(*domain.LicenseRecord), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockAdminService) GetLicense(ctx context.Context, id string) (*domain.LicenseRecord, error) {
	args := m.Called(ctx, id)
	if record := args.Get(0); record != nil {
		return record.(*domain.LicenseRecord), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockAdminService) ListAudit(ctx context.Context, licenseID string, limit, offset int) ([]domain.AuditRecord, error) {
	args := m.Called(ctx, licenseID, limit, offset)
	if records := args.Get(0); records != nil {
		return records.([]domain.AuditRecord), args.Error(1)
	}
	return nil, args.Error(1)
}

func adminRequest(t *testing.T, handler http.Handler, method, path, key string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("X-Admin-Key", key)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestAdminLoginEndpoint(t *testing.T) {
	t.Run("accepts the configured key", func(t *testing.T) {
		svc := new(mockAdminService)
		handler := NewAdminHandler(svc, slog.Default())
		svc.On("Login", mock.Anything, "good-key", mock.Anything).Return(nil)

		rec := adminRequest(t, handler.Routes(), http.MethodPost, "/login", "good-key", nil)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("rejects a bad key", func(t *testing.T) {
		svc := new(mockAdminService)
		handler := NewAdminHandler(svc, slog.Default())
		svc.On("Login", mock.Anything, "bad-key", mock.Anything).Return(apierrors.ErrUnauthorized)

		rec := adminRequest(t, handler.Routes(), http.MethodPost, "/login", "bad-key", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestAdminAuthGuard(t *testing.T) {
	svc := new(mockAdminService)
	handler := NewAdminHandler(svc, slog.Default())
	svc.On("Authorize", "").Return(apierrors.ErrUnauthorized)

	rec := adminRequest(t, handler.Routes(), http.MethodGet, "/licenses/lic-1", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	svc.AssertNotCalled(t, "GetLicense")
}

func TestCreateLicenseEndpoint(t *testing.T) {
	now := time.Now()
	body := services.CreateLicenseRequest{
		OrganizationID: "org-acme",
		Plan:           domain.PlanPro,
		ValidFrom:      now,
		ValidUntil:     now.Add(8760 * time.Hour),
	}

	t.Run("creates and answers 201", func(t *testing.T) {
		svc := new(mockAdminService)
		handler := NewAdminHandler(svc, slog.Default())
		svc.On("Authorize", "admin-key").Return(nil)
		svc.On("CreateLicense", mock.Anything, mock.Anything, mock.Anything).
			Return(&domain.LicenseRecord{ID: "lic-new", Key: "SGN-AAAA-BBBB-CCCC-DDDD", Plan: domain.PlanPro}, nil)

		rec := adminRequest(t, handler.Routes(), http.MethodPost, "/licenses", "admin-key", body)
		require.Equal(t, http.StatusCreated, rec.Code)

		var record domain.LicenseRecord
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &record))
		assert.Equal(t, "lic-new", record.ID)
	})

	t.Run("rejects missing organization", func(t *testing.T) {
		svc := new(mockAdminService)
		handler := NewAdminHandler(svc, slog.Default())
		svc.On("Authorize", "admin-key").Return(nil)

		bad := body
		bad.OrganizationID = ""
		rec := adminRequest(t, handler.Routes(), http.MethodPost, "/licenses", "admin-key", bad)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		svc.AssertNotCalled(t, "CreateLicense")
	})
}

func TestGetLicenseEndpoint(t *testing.T) {
	svc := new(mockAdminService)
	handler := NewAdminHandler(svc, slog.Default())
	svc.On("Authorize", "admin-key").Return(nil)
	svc.On("GetLicense", mock.Anything, "lic-404").Return(nil, apierrors.ErrLicenseNotFound)

	rec := adminRequest(t, handler.Routes(), http.MethodGet, "/licenses/lic-404", "admin-key", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUpdateLicenseEndpoint(t *testing.T) {
	svc := new(mockAdminService)
	handler := NewAdminHandler(svc, slog.Default())
	suspended := domain.LicenseStatusSuspended

	svc.On("Authorize", "admin-key").Return(nil)
	svc.On("UpdateLicense", mock.Anything, "lic-1", mock.Anything, mock.Anything).
		Return(&domain.LicenseRecord{ID: "lic-1", Status: domain.LicenseStatusSuspended}, nil)

	rec := adminRequest(t, handler.Routes(), http.MethodPatch, "/licenses/lic-1", "admin-key",
		services.UpdateLicenseRequest{Status: &suspended})
	require.Equal(t, http.StatusOK, rec.Code)

	var record domain.LicenseRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &record))
	assert.Equal(t, domain.LicenseStatusSuspended, record.Status)
}

func TestListAuditEndpoint(t *testing.T) {
	svc := new(mockAdminService)
	handler := NewAdminHandler(svc, slog.Default())
	svc.On("Authorize", "admin-key").Return(nil)
	svc.On("ListAudit", mock.Anything, "lic-1", 25, 50).
		Return([]domain.AuditRecord{{ID: "a-1", Action: domain.AuditActionActivation}}, nil)

	rec := adminRequest(t, handler.Routes(), http.MethodGet, "/licenses/lic-1/audit?limit=25&offset=50", "admin-key", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var records []domain.AuditRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &records))
	require.Len(t, records, 1)
	assert.Equal(t, domain.AuditActionActivation, records[0].Action)
}
