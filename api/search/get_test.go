package search

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/killallgit/vibematch-api/api/types"
	"github.com/killallgit/vibematch-api/internal/models"
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
	results, _ := args.Get(0).([]models.SearchResult)
	return results, args.Error(1)
}

func setupRouter(deps *types.Dependencies) *gin.Engine {
	router := gin.New()
	RegisterRoutes(router.Group("/api/v1/search"), deps)
	return router
}

func TestGet(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name           string
		url            string
		setupMock      func(m *MockSearcher)
		expectedStatus int
		checkResponse  func(t *testing.T, body []byte)
	}{
		{
			name: "successful search",
			url:  "/api/v1/search?q=lofi&max_results=2",
			setupMock: func(m *MockSearcher) {
				m.On("Search", mock.Anything, "lofi", 2).Return([]models.SearchResult{
					{VideoID: "abc123def45", Title: "Lofi beats", Channel: "Chill", Thumbnail: "https://i.ytimg.com/vi/abc/mqdefault.jpg"},
					{VideoID: "zyx987wvu65", Title: "Rainy lofi", Channel: "Chill"},
				}, nil)
			},
			expectedStatus: http.StatusOK,
			checkResponse: func(t *testing.T, body []byte) {
				var resp types.SearchResponse
				require.NoError(t, json.Unmarshal(body, &resp))
				assert.Equal(t, "ok", resp.Status)
				assert.Equal(t, "lofi", resp.Query)
				assert.Equal(t, 2, resp.Count)
				assert.Equal(t, "abc123def45", resp.Results[0].VideoID)
			},
		},
		{
			name: "default max results passes zero through",
			url:  "/api/v1/search?q=jazz",
			setupMock: func(m *MockSearcher) {
				m.On("Search", mock.Anything, "jazz", 0).Return(nil, nil)
			},
			expectedStatus: http.StatusOK,
			checkResponse: func(t *testing.T, body []byte) {
				assert.Contains(t, string(body), `"results":[]`)
			},
		},
		{
			name:           "non numeric max results",
			url:            "/api/v1/search?q=jazz&max_results=lots",
			setupMock:      func(m *MockSearcher) {},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name: "missing query",
			url:  "/api/v1/search",
			setupMock: func(m *MockSearcher) {
				m.On("Search", mock.Anything, "", 0).Return(nil, apperrors.MissingFieldError("q"))
			},
			expectedStatus: http.StatusBadRequest,
			checkResponse: func(t *testing.T, body []byte) {
				assert.Contains(t, string(body), "MISSING_FIELD")
			},
		},
		{
			name: "quota exhausted",
			url:  "/api/v1/search?q=jazz",
			setupMock: func(m *MockSearcher) {
				m.On("Search", mock.Anything, "jazz", 0).Return(nil, apperrors.RateLimitError("youtube search", "quota exceeded"))
			},
			expectedStatus: http.StatusTooManyRequests,
		},
		{
			name: "upstream failure",
			url:  "/api/v1/search?q=jazz",
			setupMock: func(m *MockSearcher) {
				m.On("Search", mock.Anything, "jazz", 0).Return(nil, apperrors.ExternalServiceError("youtube", errors.New("boom")))
			},
			expectedStatus: http.StatusBadGateway,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			searcher := new(MockSearcher)
			tt.setupMock(searcher)

			router := setupRouter(&types.Dependencies{Search: searcher})
			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, tt.url, nil))

			assert.Equal(t, tt.expectedStatus, w.Code)
			if tt.checkResponse != nil {
				tt.checkResponse(t, w.Body.Bytes())
			}
			searcher.AssertExpectations(t)
		})
	}
}

func TestGetWithoutSearchService(t *testing.T) {
	gin.SetMode(gin.TestMode)

	router := setupRouter(&types.Dependencies{})
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/search?q=jazz", nil))

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "MISCONFIGURATION")
}
