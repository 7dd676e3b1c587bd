package generation

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/killallgit/vibematch-api/internal/database"
	"github.com/killallgit/vibematch-api/internal/models"
	"github.com/killallgit/vibematch-api/internal/services/audiocache"
	"github.com/killallgit/vibematch-api/internal/services/jobs"
	"github.com/killallgit/vibematch-api/pkg/download"
	apperrors "github.com/killallgit/vibematch-api/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fakeMP3 = []byte("ID3\x03\x00fake-mp3-frames")

func setupJobs(t *testing.T) jobs.Service {
	db, err := database.Initialize(":memory:", false)
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(database.Models()...))
	t.Cleanup(func() { _ = db.Close() })
	return jobs.NewService(jobs.NewRepository(db.DB))
}

func setupStore(t *testing.T) *audiocache.ServiceImpl {
	storage, err := audiocache.NewFilesystemStorage(t.TempDir())
	require.NoError(t, err)
	return audiocache.NewService(nil, storage)
}

// upstream emulates the generation API. statuses are served in order and the
// last one repeats.
type upstream struct {
	server     *httptest.Server
	statuses   []TaskStatus
	polls      atomic.Int32
	submits    atomic.Int32
	submitCode int
}

func newUpstream(t *testing.T, statuses ...TaskStatus) *upstream {
	u := &upstream{statuses: statuses, submitCode: http.StatusOK}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/generate-music", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		var body map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.NotEmpty(t, body["prompt"])
		u.submits.Add(1)

		if u.submitCode != http.StatusOK {
			http.Error(w, "upstream down", u.submitCode)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"task_id": "task-1"})
	})
	mux.HandleFunc("/api/check-status/task-1", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		i := int(u.polls.Add(1)) - 1
		if i >= len(u.statuses) {
			i = len(u.statuses) - 1
		}
		_ = json.NewEncoder(w).Encode(u.statuses[i])
	})
	mux.HandleFunc("/files/out.mp3", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write(fakeMP3)
	})
	u.server = httptest.NewServer(mux)
	t.Cleanup(u.server.Close)
	return u
}

func (u *upstream) client() *Client {
	return NewClient(ClientConfig{APIKey: "test-key", BaseURL: u.server.URL, Timeout: time.Second})
}

func fastConfig() Config {
	return Config{PollInterval: 2 * time.Millisecond, Budget: 2 * time.Second}
}

func TestRun_CompletesAndStoresArtifact(t *testing.T) {
	up := newUpstream(t,
		TaskStatus{Status: "processing"},
		TaskStatus{Status: "processing"},
		TaskStatus{},
	)
	up.statuses[2] = TaskStatus{Status: TaskCompleted, AudioURL: up.server.URL + "/files/out.mp3"}

	jobStore := setupJobs(t)
	store := setupStore(t)
	job, err := jobStore.Create(context.Background(), "chill lofi")
	require.NoError(t, err)

	orch := NewOrchestrator(jobStore, up.client(), download.NewDownloader(download.DefaultOptions()), store, fastConfig())
	require.NoError(t, orch.Run(context.Background(), job.JobID, "chill lofi"))

	got, err := jobStore.Read(context.Background(), job.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.GenerationStatusComplete, got.Status)
	assert.Equal(t, 100, got.Progress)
	assert.Equal(t, job.JobID+".mp3", got.AudioRef)
	assert.Equal(t, "task-1", got.UpstreamTaskID)
	assert.Empty(t, got.ErrorMessage)
	assert.EqualValues(t, 3, up.polls.Load())

	entry, err := store.Lookup(context.Background(), job.JobID)
	require.NoError(t, err)
	data, err := store.ReadAll(context.Background(), entry)
	require.NoError(t, err)
	assert.Equal(t, fakeMP3, data)
}

func TestRun_WaitsBeforeEachStatusPoll(t *testing.T) {
	up := newUpstream(t, TaskStatus{Status: "processing"}, TaskStatus{})
	up.statuses[1] = TaskStatus{Status: TaskCompleted, AudioURL: up.server.URL + "/files/out.mp3"}

	jobStore := setupJobs(t)
	job, err := jobStore.Create(context.Background(), "p")
	require.NoError(t, err)

	var pollsAtSleep []int32
	sleep := func(ctx context.Context, d time.Duration) error {
		assert.Equal(t, fastConfig().PollInterval, d)
		pollsAtSleep = append(pollsAtSleep, up.polls.Load())
		return nil
	}

	orch := NewOrchestrator(jobStore, up.client(), download.NewDownloader(download.DefaultOptions()), setupStore(t), fastConfig(), WithSleep(sleep))
	require.NoError(t, orch.Run(context.Background(), job.JobID, "p"))

	assert.Equal(t, []int32{0, 1}, pollsAtSleep)
	assert.EqualValues(t, 2, up.polls.Load())
}

func TestRun_UpstreamFailurePreservesReason(t *testing.T) {
	up := newUpstream(t,
		TaskStatus{Status: "processing"},
		TaskStatus{Status: TaskFailed, Error: "prompt rejected by content filter"},
	)
	jobStore := setupJobs(t)
	job, err := jobStore.Create(context.Background(), "p")
	require.NoError(t, err)

	orch := NewOrchestrator(jobStore, up.client(), download.NewDownloader(download.DefaultOptions()), setupStore(t), fastConfig())
	err = orch.Run(context.Background(), job.JobID, "p")
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeUpstreamGeneration))

	got, err := jobStore.Read(context.Background(), job.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.GenerationStatusError, got.Status)
	assert.Equal(t, "prompt rejected by content filter", got.ErrorMessage)
	assert.Empty(t, got.AudioRef)
}

func TestRun_BudgetExhausted(t *testing.T) {
	up := newUpstream(t, TaskStatus{Status: "processing"})
	jobStore := setupJobs(t)
	job, err := jobStore.Create(context.Background(), "p")
	require.NoError(t, err)

	cfg := Config{PollInterval: 2 * time.Millisecond, Budget: 30 * time.Millisecond}
	orch := NewOrchestrator(jobStore, up.client(), download.NewDownloader(download.DefaultOptions()), setupStore(t), cfg)

	err = orch.Run(context.Background(), job.JobID, "p")
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeTimeout))

	got, err := jobStore.Read(context.Background(), job.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.GenerationStatusError, got.Status)
	assert.Equal(t, TimeoutMessage, got.ErrorMessage)
	assert.Less(t, got.Progress, 100)
}

func TestRun_SkipsJobAlreadyInterrupted(t *testing.T) {
	up := newUpstream(t, TaskStatus{Status: "processing"})
	jobStore := setupJobs(t)
	ctx := context.Background()

	job, err := jobStore.Create(ctx, "p")
	require.NoError(t, err)
	_, err = jobStore.Update(ctx, job.JobID, models.GenerationPatch{
		Status:       models.GenerationStatusError,
		ErrorMessage: jobs.InterruptedMessage,
	})
	require.NoError(t, err)

	orch := NewOrchestrator(jobStore, up.client(), download.NewDownloader(download.DefaultOptions()), setupStore(t), fastConfig())
	require.NoError(t, orch.Run(ctx, job.JobID, "p"))
	assert.Zero(t, up.submits.Load())
	assert.Zero(t, up.polls.Load())

	got, err := jobStore.Read(ctx, job.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.GenerationStatusError, got.Status)
	assert.Equal(t, jobs.InterruptedMessage, got.ErrorMessage)
}

func TestRun_SubmissionFailure(t *testing.T) {
	up := newUpstream(t, TaskStatus{Status: "processing"})
	up.submitCode = http.StatusInternalServerError

	jobStore := setupJobs(t)
	job, err := jobStore.Create(context.Background(), "p")
	require.NoError(t, err)

	orch := NewOrchestrator(jobStore, up.client(), download.NewDownloader(download.DefaultOptions()), setupStore(t), fastConfig())
	err = orch.Run(context.Background(), job.JobID, "p")
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeUpstreamSubmission))
	assert.Zero(t, up.polls.Load(), "no polling after a failed submission")

	got, err := jobStore.Read(context.Background(), job.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.GenerationStatusError, got.Status)
	assert.Contains(t, got.ErrorMessage, "submission failed")
}

func TestRun_ArtifactDownloadFailure(t *testing.T) {
	up := newUpstream(t, TaskStatus{})
	up.statuses[0] = TaskStatus{Status: TaskCompleted, AudioURL: up.server.URL + "/files/missing.mp3"}

	jobStore := setupJobs(t)
	job, err := jobStore.Create(context.Background(), "p")
	require.NoError(t, err)

	orch := NewOrchestrator(jobStore, up.client(), download.NewDownloader(download.DefaultOptions()), setupStore(t), fastConfig())
	require.Error(t, orch.Run(context.Background(), job.JobID, "p"))

	got, err := jobStore.Read(context.Background(), job.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.GenerationStatusError, got.Status)
	assert.Contains(t, got.ErrorMessage, "download failed")
}

type panickingUpstream struct{}

func (panickingUpstream) Submit(ctx context.Context, prompt string) (string, error) {
	return "task", nil
}

func (panickingUpstream) Status(ctx context.Context, taskID string) (*TaskStatus, error) {
	panic("decoder exploded")
}

func TestRun_RecoversPanic(t *testing.T) {
	jobStore := setupJobs(t)
	job, err := jobStore.Create(context.Background(), "p")
	require.NoError(t, err)

	orch := NewOrchestrator(jobStore, panickingUpstream{}, nil, setupStore(t), fastConfig())

	var runErr error
	assert.NotPanics(t, func() {
		runErr = orch.Run(context.Background(), job.JobID, "p")
	})
	assert.True(t, apperrors.Is(runErr, apperrors.ErrCodeInternal))

	got, err := jobStore.Read(context.Background(), job.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.GenerationStatusError, got.Status)
	assert.Contains(t, got.ErrorMessage, "decoder exploded")
}

// flakyUpstream fails status checks a few times before reporting failure
type flakyUpstream struct {
	calls atomic.Int32
}

func (f *flakyUpstream) Submit(ctx context.Context, prompt string) (string, error) {
	return "task", nil
}

func (f *flakyUpstream) Status(ctx context.Context, taskID string) (*TaskStatus, error) {
	if f.calls.Add(1) <= 3 {
		return nil, errors.New("connection reset by peer")
	}
	return &TaskStatus{Status: TaskFailed, Error: "gpu unavailable"}, nil
}

func TestRun_StatusErrorsAreTransient(t *testing.T) {
	jobStore := setupJobs(t)
	job, err := jobStore.Create(context.Background(), "p")
	require.NoError(t, err)

	up := &flakyUpstream{}
	orch := NewOrchestrator(jobStore, up, nil, setupStore(t), fastConfig())
	_ = orch.Run(context.Background(), job.JobID, "p")

	assert.EqualValues(t, 4, up.calls.Load())
	got, err := jobStore.Read(context.Background(), job.JobID)
	require.NoError(t, err)
	assert.Equal(t, "gpu unavailable", got.ErrorMessage)
}

// recordingJobs captures every patch written through the service
type recordingJobs struct {
	jobs.Service
	mu      sync.Mutex
	patches []models.GenerationPatch
}

func (r *recordingJobs) Update(ctx context.Context, jobID string, patch models.GenerationPatch) (*models.GenerationJob, error) {
	r.mu.Lock()
	r.patches = append(r.patches, patch)
	r.mu.Unlock()
	return r.Service.Update(ctx, jobID, patch)
}

func TestRun_ProgressIsMonotonicAndCapped(t *testing.T) {
	up := newUpstream(t, TaskStatus{Status: "processing"})

	// Each clock read advances 40s against a 5m budget.
	base := time.Now()
	var ticks atomic.Int64
	clock := func() time.Time {
		return base.Add(time.Duration(ticks.Add(1)) * 40 * time.Second)
	}

	rec := &recordingJobs{Service: setupJobs(t)}
	job, err := rec.Create(context.Background(), "p")
	require.NoError(t, err)

	cfg := Config{PollInterval: time.Millisecond, Budget: 5 * time.Minute}
	orch := NewOrchestrator(rec, up.client(), nil, setupStore(t), cfg, WithClock(clock))
	err = orch.Run(context.Background(), job.JobID, "p")
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeTimeout))

	last := -1
	for _, p := range rec.patches {
		if p.Status != models.GenerationStatusGenerating || p.Progress == 0 {
			continue
		}
		assert.GreaterOrEqual(t, p.Progress, last)
		assert.LessOrEqual(t, p.Progress, 99)
		last = p.Progress
	}
	assert.Greater(t, last, 0)

	got, err := rec.Read(context.Background(), job.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.GenerationStatusError, got.Status)
	assert.Equal(t, TimeoutMessage, got.ErrorMessage)
}

func TestProgressFor(t *testing.T) {
	tests := []struct {
		elapsed, budget time.Duration
		want            int
	}{
		{0, time.Minute, 0},
		{30 * time.Second, time.Minute, 50},
		{59 * time.Second, time.Minute, 98},
		{2 * time.Minute, time.Minute, 99},
		{time.Second, 0, 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, progressFor(tt.elapsed, tt.budget))
	}
}
