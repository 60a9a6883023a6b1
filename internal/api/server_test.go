package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poddigest/poddigest/internal/database"
	"github.com/poddigest/poddigest/internal/models"
	"github.com/poddigest/poddigest/internal/services/configs"
	"github.com/poddigest/poddigest/internal/services/digests"
	"github.com/poddigest/poddigest/internal/services/jobs"
	"github.com/poddigest/poddigest/internal/services/orchestrator"
	"github.com/poddigest/poddigest/pkg/config"
)

type testEnv struct {
	server  *Server
	digests digests.Service
	configs configs.Service
	jobs    jobs.Service
	orch    orchestrator.Service
}

func setupTestServer(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := database.Initialize(":memory:", false)
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { _ = db.Close() })

	digestService := digests.NewService(digests.NewRepository(db.DB))
	configService := configs.NewService(configs.NewRepository(db.DB))
	jobService := jobs.NewService(jobs.NewRepository(db.DB, time.Millisecond))
	orch := orchestrator.NewService(digestService, configService, jobService)

	cfg := &config.Config{
		Server: config.ServerConfig{Host: "127.0.0.1", Port: 0},
		Security: config.SecurityConfig{
			EnableCORS:     true,
			EnableRecovery: true,
		},
	}

	server := NewServer(cfg, Dependencies{
		DB:           db,
		Digests:      digestService,
		Orchestrator: orch,
		Jobs:         jobService,
	})

	return &testEnv{
		server:  server,
		digests: digestService,
		configs: configService,
		jobs:    jobService,
		orch:    orch,
	}
}

func (e *testEnv) request(method, path string, body any) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	w := httptest.NewRecorder()
	e.server.Engine().ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func (e *testEnv) seedConfig(t *testing.T, userID string) *models.DigestConfig {
	t.Helper()
	cfg := &models.DigestConfig{UserID: userID}
	require.NoError(t, e.configs.CreateConfig(context.Background(), cfg))
	return cfg
}

func TestHealthEndpoint(t *testing.T) {
	env := setupTestServer(t)

	w := env.request(http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)

	body := decodeBody(t, w)
	assert.Equal(t, "ok", body["status"])
	dbStatus, ok := body["database"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "healthy", dbStatus["status"])
}

func TestTriggerDigestEndpoint(t *testing.T) {
	env := setupTestServer(t)
	cfg := env.seedConfig(t, "user-1")

	w := env.request(http.MethodPost, "/api/v1/digests",
		gin.H{"userId": "user-1", "configId": cfg.ID})
	require.Equal(t, http.StatusAccepted, w.Code)

	var digest models.Digest
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &digest))
	assert.Equal(t, models.DigestStatusPending, digest.Status)
	assert.Equal(t, "user-1", digest.UserID)

	_, err := env.jobs.GetJobByDedupKey(context.Background(), "crawl-"+digest.ID)
	require.NoError(t, err)

	// A second trigger is refused while the run is in flight
	w = env.request(http.MethodPost, "/api/v1/digests",
		gin.H{"userId": "user-1", "configId": cfg.ID})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestTriggerDigestValidation(t *testing.T) {
	env := setupTestServer(t)

	w := env.request(http.MethodPost, "/api/v1/digests", gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.request(http.MethodPost, "/api/v1/digests", gin.H{"userId": "user-1"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.request(http.MethodPost, "/api/v1/digests",
		gin.H{"userId": "user-1", "configId": 9999})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestTriggerDigestForeignConfig(t *testing.T) {
	env := setupTestServer(t)
	cfg := env.seedConfig(t, "user-a")

	w := env.request(http.MethodPost, "/api/v1/digests",
		gin.H{"userId": "user-b", "configId": cfg.ID})
	require.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, decodeBody(t, w)["message"], "does not belong")
}

func TestGetDigestEndpoint(t *testing.T) {
	env := setupTestServer(t)
	cfg := env.seedConfig(t, "user-1")
	digest, err := env.orch.Trigger(context.Background(), "user-1", cfg.ID)
	require.NoError(t, err)

	w := env.request(http.MethodGet, "/api/v1/digests/"+digest.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)

	body := decodeBody(t, w)
	assert.Equal(t, digest.ID, body["id"])
	assert.Equal(t, models.DigestStatusPending, body["status"])

	w = env.request(http.MethodGet, "/api/v1/digests/no-such-digest", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListUserDigestsEndpoint(t *testing.T) {
	env := setupTestServer(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		cfg := env.seedConfig(t, "user-1")
		_, err := env.orch.Trigger(ctx, "user-1", cfg.ID)
		require.NoError(t, err)
	}

	w := env.request(http.MethodGet, "/api/v1/users/user-1/digests", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 2, decodeBody(t, w)["count"])

	w = env.request(http.MethodGet, "/api/v1/users/user-1/digests?limit=1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, decodeBody(t, w)["count"])

	w = env.request(http.MethodGet, "/api/v1/users/user-1/digests?limit=abc", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.request(http.MethodGet, "/api/v1/users/nobody/digests", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 0, decodeBody(t, w)["count"])
}

func TestCancelDigestEndpoint(t *testing.T) {
	env := setupTestServer(t)
	ctx := context.Background()
	cfg := env.seedConfig(t, "user-1")
	digest, err := env.orch.Trigger(ctx, "user-1", cfg.ID)
	require.NoError(t, err)

	w := env.request(http.MethodPost, "/api/v1/digests/"+digest.ID+"/cancel", nil)
	require.Equal(t, http.StatusOK, w.Code)

	cancelled, err := env.digests.GetDigest(ctx, digest.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DigestStatusFailed, cancelled.Status)
	assert.Equal(t, "cancelled", cancelled.Error)

	// Cancelling a finished digest is refused
	w = env.request(http.MethodPost, "/api/v1/digests/"+digest.ID+"/cancel", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestRetryDigestEndpoint(t *testing.T) {
	env := setupTestServer(t)
	ctx := context.Background()
	cfg := env.seedConfig(t, "user-1")
	digest, err := env.orch.Trigger(ctx, "user-1", cfg.ID)
	require.NoError(t, err)

	// Only failed digests may be retried
	w := env.request(http.MethodPost, "/api/v1/digests/"+digest.ID+"/retry", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	require.NoError(t, env.digests.MarkFailed(ctx, digest.ID, "no-episodes"))

	w = env.request(http.MethodPost, "/api/v1/digests/"+digest.ID+"/retry", nil)
	require.Equal(t, http.StatusAccepted, w.Code)

	reset, err := env.digests.GetDigest(ctx, digest.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DigestStatusPending, reset.Status)
}

func TestClipFeedbackEndpoint(t *testing.T) {
	env := setupTestServer(t)
	ctx := context.Background()
	cfg := env.seedConfig(t, "user-1")
	digest, err := env.orch.Trigger(ctx, "user-1", cfg.ID)
	require.NoError(t, err)

	require.NoError(t, env.digests.SaveSelection(ctx, digest.ID, []models.DigestClip{
		{EpisodeID: 1, StartSec: 10, EndSec: 250, Score: 7.5, Position: 0},
	}))
	loaded, err := env.digests.GetDigest(ctx, digest.ID)
	require.NoError(t, err)
	require.Len(t, loaded.Clips, 1)
	clipID := loaded.Clips[0].ID

	w := env.request(http.MethodPost, fmt.Sprintf("/api/v1/clips/%d/feedback", clipID),
		gin.H{"tag": "up"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "up", decodeBody(t, w)["feedback_tag"])

	w = env.request(http.MethodPost, fmt.Sprintf("/api/v1/clips/%d/feedback", clipID),
		gin.H{"tag": "sideways"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.request(http.MethodPost, "/api/v1/clips/99999/feedback", gin.H{"tag": "down"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.request(http.MethodPost, "/api/v1/clips/not-a-number/feedback", gin.H{"tag": "down"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestQueueStatsEndpoint(t *testing.T) {
	env := setupTestServer(t)
	cfg := env.seedConfig(t, "user-1")
	_, err := env.orch.Trigger(context.Background(), "user-1", cfg.ID)
	require.NoError(t, err)

	w := env.request(http.MethodGet, "/api/v1/queue/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)

	queues, ok := decodeBody(t, w)["queues"].(map[string]any)
	require.True(t, ok)
	crawl, ok := queues["crawl"].(map[string]any)
	require.True(t, ok)
	assert.EqualValues(t, 1, crawl["pending"])
}

func TestMetricsEndpoint(t *testing.T) {
	env := setupTestServer(t)

	w := env.request(http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "# HELP")
}

func TestCORSPreflight(t *testing.T) {
	env := setupTestServer(t)

	w := env.request(http.MethodOptions, "/api/v1/digests", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestNotFoundRoute(t *testing.T) {
	env := setupTestServer(t)

	w := env.request(http.MethodGet, "/no/such/route", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "Resource not found", decodeBody(t, w)["message"])
}
