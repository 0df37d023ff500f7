package storage

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "agent.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenIsIdempotent(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "agent.db")
	s, err := Open(path, nil)
	require.NoError(t, err)
	require.NoError(t, s.SetOpenID(context.Background(), "oid-1"))
	require.NoError(t, s.Close())

	s, err = Open(path, nil)
	require.NoError(t, err)
	defer s.Close()
	id, err := s.OpenID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "oid-1", id)
}

func TestOpenRotatesCorruptDatabase(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "agent.db")
	require.NoError(t, os.WriteFile(path, []byte("this is not a sqlite database, just garbage bytes"), 0644))

	s, err := Open(path, nil)
	require.NoError(t, err)
	defer s.Close()

	backups, _ := filepath.Glob(path + ".backup.*")
	assert.Len(t, backups, 1)
}

func TestSettings(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore(t)

	id, err := s.OpenID(ctx)
	require.NoError(t, err)
	assert.Empty(t, id)

	require.NoError(t, s.SetOpenID(ctx, "o-123"))
	id, err = s.OpenID(ctx)
	require.NoError(t, err)
	assert.Equal(t, "o-123", id)

	require.NoError(t, s.SetOpenID(ctx, ""))
	id, err = s.OpenID(ctx)
	require.NoError(t, err)
	assert.Empty(t, id)

	type blob struct{ A int }
	require.NoError(t, s.SetValue(ctx, "blob", blob{A: 7}))
	var got blob
	found, err := s.GetValue(ctx, "blob", &got)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 7, got.A)
}

func TestProvenance(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.MarkInstalled(ctx, "HP", "usb://HP/P1007", "drv:///sample.drv/generic.ppd"))
	require.NoError(t, s.MarkInstalled(ctx, "Gone", "ipp://10.0.0.9/ipp/print", "everywhere"))
	require.NoError(t, s.UpdateDriver(ctx, "HP", "raw"))

	sources, err := s.Sources(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"HP": SourceAgent, "Gone": SourceAgent}, sources)

	removed, err := s.Reconcile(ctx, []string{"HP", "Manual"})
	require.NoError(t, err)
	assert.Equal(t, []string{"Gone"}, removed)

	require.NoError(t, s.Forget(ctx, "HP"))
	sources, err = s.Sources(ctx)
	require.NoError(t, err)
	assert.Empty(t, sources)
}

func TestPrintHistory(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore(t)

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, st.Total)
	assert.Nil(t, st.LastPrint)

	old := time.Now().Add(-48 * time.Hour)
	require.NoError(t, s.RecordPrint(ctx, PrintRecord{TaskID: "t1", Printer: "HP", Copies: 1, Success: true, CreatedAt: old}))
	require.NoError(t, s.RecordPrint(ctx, PrintRecord{TaskID: "t2", Printer: "HP", Copies: 2, Success: false, Message: "conversion failed"}))

	recent, err := s.RecentPrints(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "t2", recent[0].TaskID)
	assert.Equal(t, "conversion failed", recent[0].Message)

	st, err = s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, st.Total)
	assert.Equal(t, 1, st.Failed)
	require.NotNil(t, st.LastPrint)

	n, err := s.PruneHistory(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	recent, err = s.RecentPrints(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "t2", recent[0].TaskID)
}

func TestCleanupOldBackups(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	dbPath := filepath.Join(dir, "agent.db")
	var names []string
	for i, stamp := range []string{"a", "b", "c"} {
		p := dbPath + ".backup." + stamp
		require.NoError(t, os.WriteFile(p, nil, 0644))
		mt := time.Now().Add(time.Duration(i) * time.Hour)
		require.NoError(t, os.Chtimes(p, mt, mt))
		names = append(names, p)
	}

	removed, err := CleanupOldBackups(dbPath, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	left, _ := filepath.Glob(dbPath + ".backup.*")
	sort.Strings(left)
	assert.Equal(t, []string{names[2]}, left)
}
