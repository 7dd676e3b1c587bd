package version

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/killallgit/vibematch-api/api/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGet(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name         string
		deps         *types.Dependencies
		expectedBody map[string]interface{}
	}{
		{
			name: "stamped build",
			deps: &types.Dependencies{Build: types.BuildInfo{Version: "1.0.0", GitCommit: "abc123", BuildTime: "2025-01-01"}},
			expectedBody: map[string]interface{}{
				"name":       "VibeMatch API",
				"status":     "running",
				"version":    "1.0.0",
				"git_commit": "abc123",
				"build_time": "2025-01-01",
			},
		},
		{
			name: "nil dependencies",
			deps: nil,
			expectedBody: map[string]interface{}{
				"name":    "VibeMatch API",
				"version": "dev",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			c.Request = httptest.NewRequest(http.MethodGet, "/", nil)

			Get(tt.deps)(c)

			assert.Equal(t, http.StatusOK, w.Code)

			var body map[string]interface{}
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			for key, expected := range tt.expectedBody {
				assert.Equal(t, expected, body[key], "field %s", key)
			}
		})
	}
}
