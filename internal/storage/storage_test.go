package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"liveactivity/pkg/logx"
)

func TestOpenDisabled(t *testing.T) {
	for _, driver := range []string{"", "none", " NONE "} {
		st, err := Open(Config{Driver: driver}, logx.Nop())
		require.NoError(t, err)
		assert.Nil(t, st)
	}
}

func TestOpenErrors(t *testing.T) {
	_, err := Open(Config{Driver: "redis"}, logx.Nop())
	assert.ErrorContains(t, err, "unknown storage driver")

	_, err = Open(Config{Driver: "file"}, logx.Nop())
	assert.Error(t, err)

	_, err = Open(Config{Driver: "sqlite"}, logx.Nop())
	assert.Error(t, err)
}

func TestDrivers(t *testing.T) {
	for _, driver := range []string{"file", "sqlite"} {
		t.Run(driver, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "state", "journal.db")
			st, err := Open(Config{Driver: driver, Path: path, BusyTimeout: time.Second}, logx.Nop())
			require.NoError(t, err)
			require.NotNil(t, st)
			ctx := context.Background()

			base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
			for i, typ := range []string{"activity.created", "activity.updated", "activity.completed"} {
				require.NoError(t, st.Append(ctx, Entry{
					At:           base.Add(time.Duration(i) * time.Hour),
					Type:         typ,
					ActivityID:   "a1",
					Tag:          "t1",
					Backend:      "recorder",
					Progress:     float32(i) * 0.5,
					ProgressText: "x",
				}))
			}

			got, err := st.Recent(ctx, 2)
			require.NoError(t, err)
			require.Len(t, got, 2)
			assert.Equal(t, "activity.updated", got[0].Type)
			assert.Equal(t, "activity.completed", got[1].Type)
			assert.Equal(t, float32(1), got[1].Progress)
			assert.Equal(t, "a1", got[1].ActivityID)
			assert.True(t, got[1].At.Equal(base.Add(2*time.Hour)))
			assert.Empty(t, got[1].Error)

			n, err := st.Prune(ctx, base.Add(90*time.Minute))
			require.NoError(t, err)
			assert.Equal(t, 2, n)

			got, err = st.Recent(ctx, 10)
			require.NoError(t, err)
			require.Len(t, got, 1)
			assert.Equal(t, "activity.completed", got[0].Type)

			// Appends keep working after a prune.
			require.NoError(t, st.Append(ctx, Entry{Type: "activity.removed", Error: "boom"}))
			got, err = st.Recent(ctx, 10)
			require.NoError(t, err)
			require.Len(t, got, 2)
			assert.Equal(t, "boom", got[1].Error)
			assert.False(t, got[1].At.IsZero())

			require.NoError(t, st.Close())

			// Reopening sees the persisted journal.
			st, err = Open(Config{Driver: driver, Path: path}, logx.Nop())
			require.NoError(t, err)
			defer st.Close()
			got, err = st.Recent(ctx, 10)
			require.NoError(t, err)
			assert.Len(t, got, 2)
		})
	}
}

func TestFileSkipsMalformedLines(t *testing.T) {
	dir := t.TempDir()
	st, err := Open(Config{Driver: "file", Path: filepath.Join(dir, "la.json")}, logx.Nop())
	require.NoError(t, err)
	defer st.Close()
	ctx := context.Background()

	require.NoError(t, st.Append(ctx, Entry{Type: "activity.created"}))
	f, err := os.OpenFile(filepath.Join(dir, "la.journal.jsonl"), os.O_APPEND|os.O_WRONLY, 0o600)
	require.NoError(t, err)
	_, err = f.WriteString("{not json\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())
	require.NoError(t, st.Append(ctx, Entry{Type: "activity.removed"}))

	got, err := st.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "activity.removed", got[1].Type)
}

func TestFilePruneNothing(t *testing.T) {
	st, err := Open(Config{Driver: "file", Path: filepath.Join(t.TempDir(), "la.json")}, logx.Nop())
	require.NoError(t, err)
	defer st.Close()

	require.NoError(t, st.Append(context.Background(), Entry{Type: "activity.created"}))
	n, err := st.Prune(context.Background(), time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n)
}
