package search

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/killallgit/vibematch-api/internal/models"
	"github.com/killallgit/vibematch-api/internal/services/cache"
	apperrors "github.com/killallgit/vibematch-api/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockSearcher struct {
	mock.Mock
}

func (m *MockSearcher) Search(ctx context.Context, query string, maxResults int) ([]models.SearchResult, error) {
	args := m.Called(ctx, query, maxResults)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.SearchResult), args.Error(1)
}

func TestMemoKey(t *testing.T) {
	assert.Equal(t, "lofi beats_10", MemoKey("  LoFi Beats ", 10))
	assert.Equal(t, MemoKey("jazz", 5), MemoKey("JAZZ", 5))
	assert.NotEqual(t, MemoKey("jazz", 5), MemoKey("jazz", 6))
}

func TestService_SearchMemoizes(t *testing.T) {
	searcher := new(MockSearcher)
	want := []models.SearchResult{{VideoID: "v1", Title: "t"}}
	searcher.On("Search", mock.Anything, "Lofi", 10).Return(want, nil).Once()

	memo := cache.NewMemoryCache(10, 0)
	defer memo.Stop()
	svc := NewService(searcher, memo, time.Minute)

	got, err := svc.Search(context.Background(), "Lofi", 0)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	again, err := svc.Search(context.Background(), " lofi ", 10)
	require.NoError(t, err)
	assert.Equal(t, want, again)

	searcher.AssertNumberOfCalls(t, "Search", 1)
}

func TestService_SearchClampsMaxResults(t *testing.T) {
	searcher := new(MockSearcher)
	searcher.On("Search", mock.Anything, "q", MaxResultsLimit).Return([]models.SearchResult{}, nil)

	svc := NewService(searcher, nil, 0)
	_, err := svc.Search(context.Background(), "q", 500)
	require.NoError(t, err)
	searcher.AssertExpectations(t)
}

func TestService_SearchErrors(t *testing.T) {
	tests := []struct {
		name     string
		query    string
		upstream error
		wantCode apperrors.ErrorCode
	}{
		{"empty query", "   ", nil, apperrors.ErrCodeMissingField},
		{"missing key", "q", ErrMissingAPIKey, apperrors.ErrCodeMisconfiguration},
		{"rate limited", "q", ErrRateLimited, apperrors.ErrCodeAPIRateLimit},
		{"timeout", "q", context.DeadlineExceeded, apperrors.ErrCodeTimeout},
		{"other", "q", errors.New("boom"), apperrors.ErrCodeExternalService},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			searcher := new(MockSearcher)
			if tt.upstream != nil {
				searcher.On("Search", mock.Anything, mock.Anything, mock.Anything).Return(nil, tt.upstream)
			}

			svc := NewService(searcher, nil, 0)
			_, err := svc.Search(context.Background(), tt.query, 5)
			require.Error(t, err)
			assert.Equal(t, tt.wantCode, apperrors.GetCode(err))
		})
	}
}

func TestService_FailuresAreNotMemoized(t *testing.T) {
	searcher := new(MockSearcher)
	searcher.On("Search", mock.Anything, "q", 5).Return(nil, errors.New("boom")).Once()
	searcher.On("Search", mock.Anything, "q", 5).Return([]models.SearchResult{{VideoID: "v"}}, nil).Once()

	memo := cache.NewMemoryCache(10, 0)
	defer memo.Stop()
	svc := NewService(searcher, memo, time.Minute)

	_, err := svc.Search(context.Background(), "q", 5)
	require.Error(t, err)

	got, err := svc.Search(context.Background(), "q", 5)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}
