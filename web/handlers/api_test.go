package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/storyline/internal/changes"
	"github.com/scrypster/storyline/internal/entities"
	"github.com/scrypster/storyline/internal/storage"
	"github.com/scrypster/storyline/internal/stories"
	"github.com/scrypster/storyline/pkg/types"
)

// MockEngine is a mock implementation of Engine for testing.
type MockEngine struct {
	mock.Mock
}

func (m *MockEngine) ProcessArticles(ctx context.Context, articles []types.Article) (*changes.Result, error) {
	args := m.Called(ctx, articles)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*changes.Result), args.Error(1)
}

func (m *MockEngine) RebuildGraph(ctx context.Context) (*entities.Report, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.Report), args.Error(1)
}

func (m *MockEngine) RebuildClusters(ctx context.Context) (*stories.Report, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*stories.Report), args.Error(1)
}

func (m *MockEngine) Changelog(ctx context.Context, articleID string) ([]types.ChangelogEntry, error) {
	args := m.Called(ctx, articleID)
	entries, _ := args.Get(0).([]types.ChangelogEntry)
	return entries, args.Error(1)
}

func (m *MockEngine) RecentChanges(ctx context.Context, limit int) ([]types.ChangelogEntry, error) {
	args := m.Called(ctx, limit)
	entries, _ := args.Get(0).([]types.ChangelogEntry)
	return entries, args.Error(1)
}

func (m *MockEngine) ResetChangelog(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockEngine) Graph(ctx context.Context) (*types.EntityGraph, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.EntityGraph), args.Error(1)
}

func (m *MockEngine) RelatedEntities(ctx context.Context, entityID string) ([]entities.RelatedEntity, error) {
	args := m.Called(ctx, entityID)
	related, _ := args.Get(0).([]entities.RelatedEntity)
	return related, args.Error(1)
}

func (m *MockEngine) EntityArticles(ctx context.Context, entityID string) ([]types.Article, error) {
	args := m.Called(ctx, entityID)
	articles, _ := args.Get(0).([]types.Article)
	return articles, args.Error(1)
}

func (m *MockEngine) Clusters(ctx context.Context) ([]types.StoryCluster, error) {
	args := m.Called(ctx)
	clusters, _ := args.Get(0).([]types.StoryCluster)
	return clusters, args.Error(1)
}

func (m *MockEngine) Cluster(ctx context.Context, id string) (*types.StoryCluster, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.StoryCluster), args.Error(1)
}

func (m *MockEngine) Stats(ctx context.Context) (*types.Stats, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.Stats), args.Error(1)
}

func (m *MockEngine) AIConfig(ctx context.Context) (*types.AIConfig, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.AIConfig), args.Error(1)
}

func (m *MockEngine) SaveAIConfig(ctx context.Context, ai types.AIConfig) error {
	return m.Called(ctx, ai).Error(0)
}

func TestProcessArticles_InvalidJSON(t *testing.T) {
	h := NewAPIHandlers(new(MockEngine))

	req := httptest.NewRequest("POST", "/api/articles", bytes.NewBufferString("{not json"))
	w := httptest.NewRecorder()
	h.ProcessArticles(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestProcessArticles_SingleObject(t *testing.T) {
	eng := new(MockEngine)
	eng.On("ProcessArticles", mock.Anything, mock.MatchedBy(func(a []types.Article) bool {
		return len(a) == 1 && a[0].ID == "a1"
	})).Return(&changes.Result{New: 1}, nil)
	h := NewAPIHandlers(eng)

	req := httptest.NewRequest("POST", "/api/articles", bytes.NewBufferString(`{"id":"a1","title":"T"}`))
	w := httptest.NewRecorder()
	h.ProcessArticles(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp ProcessResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.New)
	assert.NotNil(t, resp.Entries)
	eng.AssertExpectations(t)
}

func TestProcessArticles_PersistWarning(t *testing.T) {
	eng := new(MockEngine)
	eng.On("ProcessArticles", mock.Anything, mock.Anything).
		Return(&changes.Result{Updated: 1, PersistErr: errors.New("disk full")}, nil)
	h := NewAPIHandlers(eng)

	req := httptest.NewRequest("POST", "/api/articles", bytes.NewBufferString(`[{"id":"a1","title":"T"}]`))
	w := httptest.NewRecorder()
	h.ProcessArticles(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "disk full")
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"invalid input", fmt.Errorf("%w: bad", storage.ErrInvalidInput), http.StatusBadRequest},
		{"not found", fmt.Errorf("cluster x: %w", storage.ErrNotFound), http.StatusNotFound},
		{"cancelled", context.Canceled, http.StatusServiceUnavailable},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng := new(MockEngine)
			eng.On("Cluster", mock.Anything, "x").Return(nil, tt.err)
			h := NewAPIHandlers(eng)

			req := httptest.NewRequest("GET", "/api/clusters/x", nil)
			req.SetPathValue("id", "x")
			w := httptest.NewRecorder()
			h.GetCluster(w, req)

			assert.Equal(t, tt.want, w.Code)
			var resp ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, http.StatusText(tt.want), resp.Code)
		})
	}
}

func TestGetRecentChanges_LimitCapped(t *testing.T) {
	eng := new(MockEngine)
	eng.On("RecentChanges", mock.Anything, 1000).Return([]types.ChangelogEntry{}, nil)
	h := NewAPIHandlers(eng)

	w := httptest.NewRecorder()
	h.GetRecentChanges(w, httptest.NewRequest("GET", "/api/changes?limit=5000", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	eng.AssertExpectations(t)
}

func TestGetAISettings_MasksKey(t *testing.T) {
	eng := new(MockEngine)
	eng.On("AIConfig", mock.Anything).Return(&types.AIConfig{
		Provider: "anthropic",
		APIKey:   "sk-ant-1234567890abcd",
		Model:    "m",
	}, nil)
	h := NewAPIHandlers(eng)

	w := httptest.NewRecorder()
	h.GetAISettings(w, httptest.NewRequest("GET", "/api/settings/ai", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), "1234567890")
	var resp AIConfigResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "****abcd", resp.APIKey)
	assert.True(t, resp.Enabled)
}

func TestMaskKey(t *testing.T) {
	assert.Equal(t, "", maskKey(""))
	assert.Equal(t, "****", maskKey("short"))
	assert.Equal(t, "****wxyz", maskKey("abcdefghwxyz"))
}
