package generations

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/killallgit/vibematch-api/api/types"
	"github.com/killallgit/vibematch-api/internal/database"
	"github.com/killallgit/vibematch-api/internal/models"
	"github.com/killallgit/vibematch-api/internal/services/audiocache"
	"github.com/killallgit/vibematch-api/internal/services/generation"
	"github.com/killallgit/vibematch-api/internal/services/jobs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingDispatcher struct {
	mu   sync.Mutex
	jobs []string
}

func (d *recordingDispatcher) Dispatch(ctx context.Context, jobID, prompt string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.jobs = append(d.jobs, jobID)
	return nil
}

type testEnv struct {
	router     *gin.Engine
	jobs       jobs.Service
	store      audiocache.Store
	dispatcher *recordingDispatcher
}

func setupEnv(t *testing.T, configured bool) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := database.Initialize(":memory:", false)
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(database.Models()...))
	t.Cleanup(func() { _ = db.Close() })

	storage, err := audiocache.NewFilesystemStorage(t.TempDir())
	require.NoError(t, err)
	store := audiocache.NewService(audiocache.NewRepository(db.DB), storage)

	jobSvc := jobs.NewService(jobs.NewRepository(db.DB))
	dispatcher := &recordingDispatcher{}

	deps := &types.Dependencies{
		DB:         db,
		Generation: generation.NewService(jobSvc, dispatcher, configured),
		Generated:  store,
	}

	router := gin.New()
	RegisterRoutes(router.Group("/api/v1/generations"), deps)

	return &testEnv{router: router, jobs: jobSvc, store: store, dispatcher: dispatcher}
}

func (e *testEnv) do(method, path string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func TestPost(t *testing.T) {
	tests := []struct {
		name           string
		configured     bool
		body           string
		expectedStatus int
		expectedCode   string
	}{
		{name: "accepted", configured: true, body: `{"prompt":"dreamy synthwave"}`, expectedStatus: http.StatusAccepted},
		{name: "missing prompt", configured: true, body: `{}`, expectedStatus: http.StatusBadRequest, expectedCode: "MISSING_FIELD"},
		{name: "blank prompt", configured: true, body: `{"prompt":"   "}`, expectedStatus: http.StatusBadRequest, expectedCode: "MISSING_FIELD"},
		{name: "malformed json", configured: true, body: `{"prompt":`, expectedStatus: http.StatusBadRequest},
		{name: "prompt too long", configured: true, body: `{"prompt":"` + strings.Repeat("a", generation.MaxPromptLength+1) + `"}`, expectedStatus: http.StatusBadRequest, expectedCode: "VALIDATION"},
		{name: "missing api key", configured: false, body: `{"prompt":"dreamy synthwave"}`, expectedStatus: http.StatusServiceUnavailable, expectedCode: "MISCONFIGURATION"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := setupEnv(t, tt.configured)

			w := env.do(http.MethodPost, "/api/v1/generations", []byte(tt.body))
			assert.Equal(t, tt.expectedStatus, w.Code)

			if tt.expectedStatus != http.StatusAccepted {
				if tt.expectedCode != "" {
					var resp types.ErrorResponse
					require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
					assert.Equal(t, tt.expectedCode, resp.Error)
				}
				assert.Empty(t, env.dispatcher.jobs)
				return
			}

			var resp types.GenerationSubmitResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Regexp(t, `^[0-9a-f]{32}$`, resp.JobID)
			assert.Equal(t, "/api/v1/generations/"+resp.JobID, w.Header().Get("Location"))
			assert.Equal(t, []string{resp.JobID}, env.dispatcher.jobs)
		})
	}
}

func TestGet(t *testing.T) {
	env := setupEnv(t, true)
	ctx := context.Background()

	job, err := env.jobs.Create(ctx, "ambient piano")
	require.NoError(t, err)
	_, err = env.jobs.Update(ctx, job.JobID, models.GenerationPatch{
		Status:         models.GenerationStatusGenerating,
		Progress:       40,
		ElapsedSeconds: 12,
	})
	require.NoError(t, err)

	t.Run("in progress", func(t *testing.T) {
		w := env.do(http.MethodGet, "/api/v1/generations/"+job.JobID, nil)
		require.Equal(t, http.StatusOK, w.Code)

		var resp types.GenerationStatusResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "generating", resp.Status)
		assert.Equal(t, 40, resp.Progress)
		assert.Equal(t, 12.0, resp.Elapsed)
		assert.Empty(t, resp.AudioRef)
	})

	t.Run("unknown id is pending", func(t *testing.T) {
		w := env.do(http.MethodGet, "/api/v1/generations/0123456789abcdef0123456789abcdef", nil)
		require.Equal(t, http.StatusOK, w.Code)

		var resp types.GenerationStatusResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "pending", resp.Status)
		assert.Equal(t, 0, resp.Progress)
	})

	t.Run("invalid id", func(t *testing.T) {
		w := env.do(http.MethodGet, "/api/v1/generations/bad.id", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("failed job reports reason", func(t *testing.T) {
		failed, err := env.jobs.Create(ctx, "x")
		require.NoError(t, err)
		_, err = env.jobs.Update(ctx, failed.JobID, models.GenerationPatch{
			Status:       models.GenerationStatusError,
			ErrorMessage: "timeout",
		})
		require.NoError(t, err)

		w := env.do(http.MethodGet, "/api/v1/generations/"+failed.JobID, nil)
		var resp types.GenerationStatusResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "error", resp.Status)
		assert.Equal(t, "timeout", resp.Error)
	})

	t.Run("terminal snapshot is stable across polls", func(t *testing.T) {
		for _, patch := range []models.GenerationPatch{
			{Status: models.GenerationStatusError, ErrorMessage: "upstream failed", ElapsedSeconds: 7},
			{Status: models.GenerationStatusComplete, Progress: 100, ElapsedSeconds: 31, AudioRef: "x.mp3"},
		} {
			terminal, err := env.jobs.Create(ctx, "repeat poll")
			require.NoError(t, err)
			_, err = env.jobs.Update(ctx, terminal.JobID, patch)
			require.NoError(t, err)

			first := env.do(http.MethodGet, "/api/v1/generations/"+terminal.JobID, nil)
			require.Equal(t, http.StatusOK, first.Code)
			time.Sleep(20 * time.Millisecond)
			second := env.do(http.MethodGet, "/api/v1/generations/"+terminal.JobID, nil)
			require.Equal(t, http.StatusOK, second.Code)

			assert.Equal(t, first.Body.Bytes(), second.Body.Bytes(), string(patch.Status))
		}
	})
}

func TestGetAudio(t *testing.T) {
	env := setupEnv(t, true)
	ctx := context.Background()

	pending, err := env.jobs.Create(ctx, "pending prompt")
	require.NoError(t, err)

	done, err := env.jobs.Create(ctx, "finished prompt")
	require.NoError(t, err)
	entry, err := env.store.Store(ctx, done.JobID, []byte("ID3fake-mp3"), "mp3")
	require.NoError(t, err)
	_, err = env.jobs.Update(ctx, done.JobID, models.GenerationPatch{
		Status:   models.GenerationStatusComplete,
		Progress: 100,
		AudioRef: entry.Key(),
	})
	require.NoError(t, err)

	orphan, err := env.jobs.Create(ctx, "artifact lost")
	require.NoError(t, err)
	_, err = env.jobs.Update(ctx, orphan.JobID, models.GenerationPatch{
		Status:   models.GenerationStatusComplete,
		AudioRef: orphan.JobID + ".mp3",
	})
	require.NoError(t, err)

	t.Run("complete", func(t *testing.T) {
		w := env.do(http.MethodGet, "/api/v1/generations/"+done.JobID+"/audio", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "audio/mpeg", w.Header().Get("Content-Type"))
		assert.Equal(t, "ID3fake-mp3", w.Body.String())

		status := env.do(http.MethodGet, "/api/v1/generations/"+done.JobID, nil)
		var resp types.GenerationStatusResponse
		require.NoError(t, json.Unmarshal(status.Body.Bytes(), &resp))
		assert.Equal(t, done.JobID+".mp3", resp.AudioRef)
		assert.Equal(t, "/api/v1/generations/"+done.JobID+"/audio", resp.AudioURL)
	})

	t.Run("not complete", func(t *testing.T) {
		w := env.do(http.MethodGet, "/api/v1/generations/"+pending.JobID+"/audio", nil)
		assert.Equal(t, http.StatusConflict, w.Code)
	})

	t.Run("artifact missing", func(t *testing.T) {
		w := env.do(http.MethodGet, "/api/v1/generations/"+orphan.JobID+"/audio", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}
