package backup

import (
	"context"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/lupppig/dotvault/internal/catalog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockStorage struct {
	mock.Mock
	dir string
}

func (m *MockStorage) Save(ctx context.Context, name string, r io.Reader) (string, error) {
	args := m.Called(ctx, name, r)
	return args.String(0), args.Error(1)
}

func (m *MockStorage) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	args := m.Called(ctx, name)
	return args.Get(0).(io.ReadCloser), args.Error(1)
}

func (m *MockStorage) Delete(ctx context.Context, name string) error {
	args := m.Called(ctx, name)
	return args.Error(0)
}

func (m *MockStorage) List(ctx context.Context, prefix string) ([]string, error) {
	args := m.Called(ctx, prefix)
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockStorage) Location() string {
	return m.dir
}

type MockCatalog struct {
	mock.Mock
}

func (m *MockCatalog) List(ctx context.Context) ([]catalog.Entry, error) {
	args := m.Called(ctx)
	return args.Get(0).([]catalog.Entry), args.Error(1)
}

func (m *MockCatalog) Delete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

const backupDir = "/backups"

func entry(id, name string, age time.Duration, now time.Time) catalog.Entry {
	return catalog.Entry{ID: id, Path: filepath.Join(backupDir, name), CreatedAt: now.Add(-age)}
}

func TestPruneManager_Keep(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	ms := &MockStorage{dir: backupDir}
	mc := new(MockCatalog)

	mc.On("List", ctx).Return([]catalog.Entry{
		entry("b3", "b3.zip", 0, now),
		entry("b1", "b1.zip", 24*time.Hour, now),
		entry("b2", "b2.zip.enc", 12*time.Hour, now),
		{ID: "elsewhere", Path: "/other/b0.zip", CreatedAt: now.Add(-100 * time.Hour)},
	}, nil)
	ms.On("List", ctx, "").Return([]string{"b1.zip", "b2.zip.enc", "b3.zip"}, nil)

	// keep 2: b1 is the oldest in /backups, the /other entry is out of scope
	ms.On("Delete", ctx, "b1.zip").Return(nil)
	mc.On("Delete", ctx, "b1").Return(nil)

	pm := NewPruneManager(ms, mc, PruneOptions{Keep: 2})

	pruned, err := pm.Prune(ctx)
	require.NoError(t, err)
	require.Len(t, pruned, 1)
	assert.Equal(t, "b1", pruned[0].ID)

	ms.AssertExpectations(t)
	mc.AssertExpectations(t)
}

func TestPruneManager_Retention(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	ms := &MockStorage{dir: backupDir}
	mc := new(MockCatalog)

	mc.On("List", ctx).Return([]catalog.Entry{
		entry("old", "old.zip", 48*time.Hour, now),
		entry("new", "new.zip", time.Hour, now),
	}, nil)
	ms.On("List", ctx, "").Return([]string{"new.zip"}, nil)

	// old.zip is already gone from disk, only its catalog row is dropped
	mc.On("Delete", ctx, "old").Return(nil)

	pm := NewPruneManager(ms, mc, PruneOptions{
		Retention: 24 * time.Hour,
		Now:       func() time.Time { return now },
	})

	pruned, err := pm.Prune(ctx)
	require.NoError(t, err)
	require.Len(t, pruned, 1)
	assert.Equal(t, "old", pruned[0].ID)

	ms.AssertNotCalled(t, "Delete", mock.Anything, mock.Anything)
	mc.AssertExpectations(t)
}

func TestPruneManager_KeepProtectsFromRetention(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	ms := &MockStorage{dir: backupDir}
	mc := new(MockCatalog)

	mc.On("List", ctx).Return([]catalog.Entry{
		entry("a", "a.zip", 72*time.Hour, now),
		entry("b", "b.zip", 96*time.Hour, now),
	}, nil)
	ms.On("List", ctx, "").Return([]string{"a.zip", "b.zip"}, nil)
	ms.On("Delete", ctx, "b.zip").Return(nil)
	mc.On("Delete", ctx, "b").Return(nil)

	pm := NewPruneManager(ms, mc, PruneOptions{
		Keep:      1,
		Retention: 24 * time.Hour,
		Now:       func() time.Time { return now },
	})

	pruned, err := pm.Prune(ctx)
	require.NoError(t, err)
	require.Len(t, pruned, 1)
	assert.Equal(t, "b", pruned[0].ID)
	ms.AssertExpectations(t)
}

func TestPruneManager_GFS(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)
	ms := &MockStorage{dir: backupDir}
	mc := new(MockCatalog)

	mc.On("List", ctx).Return([]catalog.Entry{
		entry("today-late", "1.zip", 0, now),
		entry("today-early", "2.zip", 2*time.Hour, now),
		entry("yesterday", "3.zip", 24*time.Hour, now),
		entry("two-days", "4.zip", 48*time.Hour, now),
	}, nil)
	ms.On("List", ctx, "").Return([]string{"1.zip", "2.zip", "3.zip", "4.zip"}, nil)
	ms.On("Delete", ctx, "2.zip").Return(nil)
	ms.On("Delete", ctx, "4.zip").Return(nil)
	mc.On("Delete", ctx, "today-early").Return(nil)
	mc.On("Delete", ctx, "two-days").Return(nil)

	pm := NewPruneManager(ms, mc, PruneOptions{RetentionPolicy: RetentionPolicy{KeepDaily: 2}})

	pruned, err := pm.Prune(ctx)
	require.NoError(t, err)
	assert.Len(t, pruned, 2)
	ms.AssertExpectations(t)
	mc.AssertExpectations(t)
}

func TestPruneManager_DryRun(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	ms := &MockStorage{dir: backupDir}
	mc := new(MockCatalog)

	mc.On("List", ctx).Return([]catalog.Entry{
		entry("new", "new.zip", 0, now),
		entry("old", "old.zip", time.Hour, now),
	}, nil)
	ms.On("List", ctx, "").Return([]string{"new.zip", "old.zip"}, nil)

	pm := NewPruneManager(ms, mc, PruneOptions{Keep: 1, DryRun: true})
	pruned, err := pm.Prune(ctx)
	require.NoError(t, err)
	require.Len(t, pruned, 1)
	assert.Equal(t, "old", pruned[0].ID)

	ms.AssertNotCalled(t, "Delete", mock.Anything, mock.Anything)
	mc.AssertNotCalled(t, "Delete", mock.Anything, mock.Anything)
}

func TestPruneManager_NoPolicy(t *testing.T) {
	ms := &MockStorage{dir: backupDir}
	mc := new(MockCatalog)

	pruned, err := NewPruneManager(ms, mc, PruneOptions{}).Prune(context.Background())
	require.NoError(t, err)
	assert.Empty(t, pruned)
	mc.AssertNotCalled(t, "List", mock.Anything)
}

func TestParseRetention(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{"", 0, false},
		{"7d", 7 * 24 * time.Hour, false},
		{"36h", 36 * time.Hour, false},
		{"xd", 0, true},
		{"-1h", 0, true},
		{"forever", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseRetention(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}
