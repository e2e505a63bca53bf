package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/costwarden/costwarden/internal/application/auth"
	"github.com/costwarden/costwarden/internal/application/jobs"
	"github.com/costwarden/costwarden/internal/domain"
	"github.com/costwarden/costwarden/internal/infrastructure/http/handler"
	"github.com/costwarden/costwarden/internal/infrastructure/keygen"
)

// fakeStore implements jobs.Store with overridable behavior per method.
var _ jobs.Store = (*fakeStore)(nil)

type fakeStore struct {
	enqueueFn       func(ctx context.Context, params jobs.EnqueueParams) (*domain.Job, error)
	findByIDFn      func(ctx context.Context, id uuid.UUID) (*domain.Job, error)
	listByTenantFn  func(ctx context.Context, tenantID uuid.UUID, params domain.ListJobsParams) ([]*domain.Job, error)
	countByStatusFn func(ctx context.Context, tenantID uuid.UUID) (domain.StatusCounts, error)
	requestCancelFn func(ctx context.Context, id uuid.UUID) error
	hardDeleteFn    func(ctx context.Context, id uuid.UUID, deletedBy, reason string) error
}

func (f *fakeStore) Enqueue(ctx context.Context, params jobs.EnqueueParams) (*domain.Job, error) {
	return f.enqueueFn(ctx, params)
}

func (f *fakeStore) FindByID(ctx context.Context, id uuid.UUID) (*domain.Job, error) {
	return f.findByIDFn(ctx, id)
}

func (f *fakeStore) ListByTenant(ctx context.Context, tenantID uuid.UUID, params domain.ListJobsParams) ([]*domain.Job, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return f.listByTenantFn(ctx, tenantID, params)
}

func (f *fakeStore) CountByStatus(ctx context.Context, tenantID uuid.UUID) (domain.StatusCounts, error) {
	return f.countByStatusFn(ctx, tenantID)
}

func (f *fakeStore) RequestCancel(ctx context.Context, id uuid.UUID) error {
	return f.requestCancelFn(ctx, id)
}

func (f *fakeStore) HardDelete(ctx context.Context, id uuid.UUID, deletedBy, reason string) error {
	return f.hardDeleteFn(ctx, id, deletedBy, reason)
}

func (f *fakeStore) ClaimDue(context.Context, int) ([]*domain.Job, error) { return nil, nil }
func (f *fakeStore) MarkCompleted(context.Context, uuid.UUID, map[string]any) error {
	return nil
}
func (f *fakeStore) ScheduleRetry(context.Context, uuid.UUID, string, time.Duration) error {
	return nil
}
func (f *fakeStore) ScheduleCancelled(context.Context, uuid.UUID, string, time.Duration) error {
	return nil
}
func (f *fakeStore) MarkDeadLetter(context.Context, uuid.UUID, string) error      { return nil }
func (f *fakeStore) SaveCheckpoint(context.Context, uuid.UUID, string, any) error { return nil }
func (f *fakeStore) SubscribeCancellations(context.Context) (<-chan uuid.UUID, error) {
	return nil, nil
}
func (f *fakeStore) SoftDelete(context.Context, uuid.UUID) error { return nil }
func (f *fakeStore) ListDeadLetter(context.Context, int) ([]*domain.Job, error) {
	return []*domain.Job{}, nil
}
func (f *fakeStore) RetryDeadLetter(context.Context, uuid.UUID) error   { return nil }
func (f *fakeStore) DiscardDeadLetter(context.Context, uuid.UUID) error { return nil }
func (f *fakeStore) ReapStale(context.Context, time.Duration) (int, error) {
	return 0, nil
}
func (f *fakeStore) ArchiveTerminal(context.Context, time.Duration) (int, error) {
	return 0, nil
}

// fakeAuthRepo backs a real Authenticator with an in-memory key set.
type fakeAuthRepo struct {
	keys map[string]*domain.APIKey // key hash -> record
}

func (r *fakeAuthRepo) FindAPIKeyByHash(_ context.Context, keyHash string) (*domain.APIKey, error) {
	if key, ok := r.keys[keyHash]; ok {
		return key, nil
	}
	return nil, domain.ErrAPIKeyNotFound
}

func (r *fakeAuthRepo) CreateAPIKey(_ context.Context, key *domain.APIKey) error {
	r.keys[key.KeyHash] = key
	return nil
}

func (r *fakeAuthRepo) TouchAPIKeyLastUsed(context.Context, uuid.UUID, time.Time) error {
	return nil
}

type fakeProcessor struct {
	fn func(ctx context.Context, limit int) (*jobs.BatchResult, error)
}

func (p *fakeProcessor) ProcessDueBatch(ctx context.Context, limit int) (*jobs.BatchResult, error) {
	if p.fn != nil {
		return p.fn(ctx, limit)
	}
	return &jobs.BatchResult{}, nil
}

type okPinger struct{ err error }

func (p okPinger) Ping(context.Context) error { return p.err }

type testEnv struct {
	server    *APIServer
	store     *fakeStore
	memberKey string
	adminKey  string
	tenantID  uuid.UUID
}

func newTestEnv(t *testing.T, processor *fakeProcessor, internalSecret string) *testEnv {
	t.Helper()

	repo := &fakeAuthRepo{keys: map[string]*domain.APIKey{}}
	tenantID := uuid.New()

	memberKey, _, err := auth.CreateAPIKey(context.Background(), repo, tenantID, domain.APIKeyRoleMember)
	require.NoError(t, err)
	adminKey, _, err := auth.CreateAPIKey(context.Background(), repo, tenantID, domain.APIKeyRoleAdmin)
	require.NoError(t, err)

	authenticator := auth.NewAuthenticator(context.Background(), repo, auth.Config{UpdateQueueSize: 16})
	t.Cleanup(func() { _ = authenticator.Shutdown(context.Background()) })

	store := &fakeStore{}
	if processor == nil {
		processor = &fakeProcessor{}
	}

	server := NewAPIServer(Dependencies{
		Authenticator: authenticator,
		Jobs:          handler.NewJobHandler(store),
		Process:       handler.NewProcessHandler(processor, internalSecret),
		DB:            okPinger{},
	}, ServerConfig{})

	return &testEnv{
		server:    server,
		store:     store,
		memberKey: memberKey,
		adminKey:  adminKey,
		tenantID:  tenantID,
	}
}

func (e *testEnv) request(t *testing.T, method, path, bearer string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoints(t *testing.T) {
	env := newTestEnv(t, nil, "")

	rec := env.request(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.request(t, http.MethodGet, "/readyz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReadyz_DatabaseDown(t *testing.T) {
	repo := &fakeAuthRepo{keys: map[string]*domain.APIKey{}}
	authenticator := auth.NewAuthenticator(context.Background(), repo, auth.Config{})
	t.Cleanup(func() { _ = authenticator.Shutdown(context.Background()) })

	server := NewAPIServer(Dependencies{
		Authenticator: authenticator,
		Jobs:          handler.NewJobHandler(&fakeStore{}),
		Process:       handler.NewProcessHandler(&fakeProcessor{}, ""),
		DB:            okPinger{err: context.DeadlineExceeded},
	}, ServerConfig{})

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestEnqueue_RequiresAuth(t *testing.T) {
	env := newTestEnv(t, nil, "")

	rec := env.request(t, http.MethodPost, "/v1/jobs", "", map[string]any{"type": "zombie_scan"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.request(t, http.MethodPost, "/v1/jobs", "cw_not-a-key", map[string]any{"type": "zombie_scan"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestEnqueue_MemberAllowedType(t *testing.T) {
	env := newTestEnv(t, nil, "")
	env.store.enqueueFn = func(_ context.Context, params jobs.EnqueueParams) (*domain.Job, error) {
		require.NotNil(t, params.TenantID)
		assert.Equal(t, env.tenantID, *params.TenantID)
		return &domain.Job{
			ID:       uuid.New(),
			Type:     params.Type,
			TenantID: params.TenantID,
			Status:   domain.JobStatusPending,
		}, nil
	}

	rec := env.request(t, http.MethodPost, "/v1/jobs", env.memberKey, map[string]any{
		"type":    "zombie_scan",
		"payload": map[string]any{"region": "us-east-1"},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp jobResponseBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "zombie_scan", resp.Type)
	assert.Equal(t, "pending", resp.Status)
}

type jobResponseBody struct {
	Type   string `json:"type"`
	Status string `json:"status"`
}

func TestEnqueue_MemberForbiddenType(t *testing.T) {
	env := newTestEnv(t, nil, "")

	rec := env.request(t, http.MethodPost, "/v1/jobs", env.memberKey, map[string]any{"type": "recurring_billing"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestEnqueue_AdminAnyType(t *testing.T) {
	env := newTestEnv(t, nil, "")
	env.store.enqueueFn = func(_ context.Context, params jobs.EnqueueParams) (*domain.Job, error) {
		return &domain.Job{ID: uuid.New(), Type: params.Type, Status: domain.JobStatusPending}, nil
	}

	rec := env.request(t, http.MethodPost, "/v1/jobs", env.adminKey, map[string]any{"type": "recurring_billing"})
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestEnqueue_UnknownType(t *testing.T) {
	env := newTestEnv(t, nil, "")

	rec := env.request(t, http.MethodPost, "/v1/jobs", env.memberKey, map[string]any{"type": "mine_bitcoin"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListJobs_InvalidLimit(t *testing.T) {
	env := newTestEnv(t, nil, "")
	env.store.listByTenantFn = func(_ context.Context, _ uuid.UUID, _ domain.ListJobsParams) ([]*domain.Job, error) {
		return nil, nil
	}

	rec := env.request(t, http.MethodGet, "/v1/jobs?limit=500", env.memberKey, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStatusCounts(t *testing.T) {
	env := newTestEnv(t, nil, "")
	env.store.countByStatusFn = func(_ context.Context, tenantID uuid.UUID) (domain.StatusCounts, error) {
		assert.Equal(t, env.tenantID, tenantID)
		return domain.StatusCounts{domain.JobStatusPending: 3, domain.JobStatusCompleted: 7}, nil
	}

	rec := env.request(t, http.MethodGet, "/v1/jobs/status", env.memberKey, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var counts map[string]int
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &counts))
	assert.Equal(t, 3, counts["pending"])
	assert.Equal(t, 7, counts["completed"])
}

func TestCancel_OtherTenantReadsAsNotFound(t *testing.T) {
	env := newTestEnv(t, nil, "")
	otherTenant := uuid.New()
	jobID := uuid.New()
	env.store.findByIDFn = func(_ context.Context, id uuid.UUID) (*domain.Job, error) {
		return &domain.Job{ID: id, TenantID: &otherTenant, Status: domain.JobStatusPending}, nil
	}

	rec := env.request(t, http.MethodPost, "/v1/jobs/"+jobID.String()+"/cancel", env.memberKey, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCancel_OwnJob(t *testing.T) {
	env := newTestEnv(t, nil, "")
	jobID := uuid.New()
	cancelled := false
	env.store.findByIDFn = func(_ context.Context, id uuid.UUID) (*domain.Job, error) {
		return &domain.Job{ID: id, TenantID: &env.tenantID, Status: domain.JobStatusRunning}, nil
	}
	env.store.requestCancelFn = func(_ context.Context, id uuid.UUID) error {
		cancelled = true
		assert.Equal(t, jobID, id)
		return nil
	}

	rec := env.request(t, http.MethodPost, "/v1/jobs/"+jobID.String()+"/cancel", env.memberKey, nil)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.True(t, cancelled)
}

func TestCancel_TerminalJobConflicts(t *testing.T) {
	env := newTestEnv(t, nil, "")
	jobID := uuid.New()
	env.store.findByIDFn = func(_ context.Context, id uuid.UUID) (*domain.Job, error) {
		return &domain.Job{ID: id, TenantID: &env.tenantID, Status: domain.JobStatusCompleted}, nil
	}
	env.store.requestCancelFn = func(context.Context, uuid.UUID) error {
		return domain.ErrJobNotCancellable
	}

	rec := env.request(t, http.MethodPost, "/v1/jobs/"+jobID.String()+"/cancel", env.memberKey, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestAdminEndpoints_RequireAdminRole(t *testing.T) {
	env := newTestEnv(t, nil, "")

	rec := env.request(t, http.MethodGet, "/v1/admin/jobs/dead-letter", env.memberKey, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.request(t, http.MethodGet, "/v1/admin/jobs/dead-letter", env.adminKey, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAdminHardDelete_RequiresReason(t *testing.T) {
	env := newTestEnv(t, nil, "")
	jobID := uuid.New()

	rec := env.request(t, http.MethodDelete, "/v1/admin/jobs/"+jobID.String(), env.adminKey, map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var deletedBy string
	env.store.hardDeleteFn = func(_ context.Context, id uuid.UUID, by, reason string) error {
		deletedBy = by
		assert.Equal(t, "tenant requested erasure", reason)
		return nil
	}
	rec = env.request(t, http.MethodDelete, "/v1/admin/jobs/"+jobID.String(), env.adminKey,
		map[string]any{"reason": "tenant requested erasure"})
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Contains(t, deletedBy, "api_key:")
}

func TestAdminProcess_LimitCapped(t *testing.T) {
	processor := &fakeProcessor{
		fn: func(_ context.Context, limit int) (*jobs.BatchResult, error) {
			return &jobs.BatchResult{Claimed: limit}, nil
		},
	}
	env := newTestEnv(t, processor, "")

	rec := env.request(t, http.MethodPost, "/v1/admin/jobs/process", env.adminKey, map[string]any{"limit": 51})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.request(t, http.MethodPost, "/v1/admin/jobs/process", env.adminKey, map[string]any{"limit": 25})
	require.Equal(t, http.StatusOK, rec.Code)

	var result map[string]int
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, 25, result["claimed"])
}

func TestInternalProcess_SecretCompare(t *testing.T) {
	dispatched := make(chan int, 1)
	processor := &fakeProcessor{
		fn: func(_ context.Context, limit int) (*jobs.BatchResult, error) {
			dispatched <- limit
			return &jobs.BatchResult{}, nil
		},
	}
	env := newTestEnv(t, processor, "s3cret")

	req := httptest.NewRequest(http.MethodPost, "/internal/jobs/process", nil)
	req.Header.Set("X-Internal-Secret", "wrong")
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/internal/jobs/process", nil)
	req.Header.Set("X-Internal-Secret", "s3cret")
	rec = httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusAccepted, rec.Code)

	select {
	case limit := <-dispatched:
		assert.Equal(t, 10, limit)
	case <-time.After(time.Second):
		t.Fatal("async batch was never dispatched")
	}
}

func TestInternalProcess_DisabledWithoutSecret(t *testing.T) {
	env := newTestEnv(t, nil, "")

	rec := env.request(t, http.MethodPost, "/internal/jobs/process", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// Keygen sanity: a stored hash never contains the raw key.
func TestAPIKeyHashNeverStoresRawKey(t *testing.T) {
	rawKey, err := keygen.GenerateAPIKey()
	require.NoError(t, err)
	assert.NotContains(t, keygen.HashKey(rawKey), rawKey)
}
