package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestHealthHandler_HandleHealth(t *testing.T) {
	handler := NewHealthHandler(zap.NewNop(), VersionInfo{})
	// 存活探针不执行依赖检查
	handler.RegisterCheck(NewCheck("database", func(context.Context) error { return errors.New("down") }))

	w := httptest.NewRecorder()
	handler.HandleHealth(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	var status ServiceHealthResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&status))
	assert.Equal(t, "healthy", status.Status)
	assert.False(t, status.Timestamp.IsZero())
	assert.Empty(t, status.Checks)
}

func TestHealthHandler_HandleReady(t *testing.T) {
	tests := []struct {
		name       string
		checks     map[string]error
		wantCode   int
		wantStatus string
	}{
		{name: "no checks", wantCode: http.StatusOK, wantStatus: "healthy"},
		{
			name:       "all pass",
			checks:     map[string]error{"database": nil, "redis": nil},
			wantCode:   http.StatusOK,
			wantStatus: "healthy",
		},
		{
			name:       "redis down",
			checks:     map[string]error{"database": nil, "redis": errors.New("connection refused")},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "unhealthy",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := NewHealthHandler(zap.NewNop(), VersionInfo{})
			for name, err := range tt.checks {
				handler.RegisterCheck(NewCheck(name, func(context.Context) error { return err }))
			}

			w := httptest.NewRecorder()
			handler.HandleReady(w, httptest.NewRequest(http.MethodGet, "/ready", nil))

			assert.Equal(t, tt.wantCode, w.Code)
			var status ServiceHealthResponse
			require.NoError(t, json.NewDecoder(w.Body).Decode(&status))
			assert.Equal(t, tt.wantStatus, status.Status)
			require.Len(t, status.Checks, len(tt.checks))
			for name, err := range tt.checks {
				if err != nil {
					assert.Equal(t, "fail", status.Checks[name].Status)
					assert.Equal(t, err.Error(), status.Checks[name].Message)
				} else {
					assert.Equal(t, "pass", status.Checks[name].Status)
				}
			}
		})
	}
}

func TestHealthHandler_HandleVersion(t *testing.T) {
	handler := NewHealthHandler(nil, VersionInfo{Version: "v0.3.0", GitCommit: "abc123"})

	w := httptest.NewRecorder()
	handler.HandleVersion(w, httptest.NewRequest(http.MethodGet, "/version", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Success bool        `json:"success"`
		Data    VersionInfo `json:"data"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.True(t, resp.Success)
	assert.Equal(t, "v0.3.0", resp.Data.Version)
	assert.Equal(t, "abc123", resp.Data.GitCommit)
}
