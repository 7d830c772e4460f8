package rules_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/splashkes/eventlinter/internal/rules"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memCache struct {
	mu     sync.Mutex
	data   map[string][]byte
	getErr error
}

func newMemCache() *memCache { return &memCache{data: make(map[string][]byte)} }

func (m *memCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, false, m.getErr
	}
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func catalogueServer(t *testing.T, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/yaml")
		_, _ = w.Write([]byte(yamlCatalogue))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestCatalogue_LoadHTTP_Cached(t *testing.T) {
	var hits atomic.Int32
	srv := catalogueServer(t, &hits)
	cat := &rules.Catalogue{Source: srv.URL + "/rules.yaml", Cache: newMemCache(), TTL: time.Minute}

	got, err := cat.Load(context.Background())
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, err = cat.Load(context.Background())
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Equal(t, int32(1), hits.Load(), "second load served from cache")
}

func TestCatalogue_CacheErrorFallsThrough(t *testing.T) {
	var hits atomic.Int32
	srv := catalogueServer(t, &hits)
	mc := newMemCache()
	mc.getErr = errors.New("redis down")
	cat := &rules.Catalogue{Source: srv.URL, Cache: mc, TTL: time.Minute}

	got, err := cat.Load(context.Background())
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Equal(t, int32(1), hits.Load())
}

func TestCatalogue_NoCache(t *testing.T) {
	var hits atomic.Int32
	srv := catalogueServer(t, &hits)
	cat := &rules.Catalogue{Source: srv.URL}

	_, err := cat.Load(context.Background())
	require.NoError(t, err)
	_, err = cat.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), hits.Load())
}

func TestCatalogue_HTTPStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()
	cat := &rules.Catalogue{Source: srv.URL}

	_, err := cat.Load(context.Background())
	assert.ErrorIs(t, err, rules.ErrCatalogueUnavailable)
}

func TestCatalogue_LocalFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "eventLinterRules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yamlCatalogue), 0o600))
	cat := &rules.Catalogue{Source: path}

	got, err := cat.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "missing_city", got[0].ID)
}

func TestCatalogue_MissingFile(t *testing.T) {
	cat := &rules.Catalogue{Source: filepath.Join(t.TempDir(), "nope.yaml")}
	_, err := cat.Load(context.Background())
	assert.ErrorIs(t, err, rules.ErrCatalogueUnavailable)
}

func TestCatalogue_EmptySource(t *testing.T) {
	cat := &rules.Catalogue{}
	got, err := cat.Load(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}
