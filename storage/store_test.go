package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/richinex/tagloop/model"
)

func sampleTranscript() model.Transcript {
	t := model.NewTranscript()
	t.Messages = []model.Message{
		model.NewMessage(model.RoleSystem, "prompt", "加载提示词 tools.txt", model.TagPrompt),
		model.NewMessage(model.RoleUser, "Hello", "Hello"),
		{Role: model.RoleAssistant, ForModel: "Hi there", ForUser: "Hi there", Think: "greeting"},
	}
	t.PromptSettings["tools"] = true
	t.ToolSettings["search"] = false
	return t
}

// backends returns every SessionStore implementation, freshly created.
func backends(t *testing.T) map[string]SessionStore {
	t.Helper()
	jsonStore, err := NewJSONDirStorage(filepath.Join(t.TempDir(), "history"))
	require.NoError(t, err)

	sqliteStore, err := NewSqliteInMemory("demo")
	require.NoError(t, err)
	t.Cleanup(func() { sqliteStore.Close() })

	return map[string]SessionStore{
		"memory": NewInMemoryStorage(),
		"json":   jsonStore,
		"sqlite": sqliteStore,
	}
}

func TestSessionStoreContract(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			want := sampleTranscript()

			require.NoError(t, store.Save(ctx, "s1", want))

			got, err := store.Load(ctx, "s1")
			require.NoError(t, err)
			require.Equal(t, want, got)

			exists, err := store.Exists(ctx, "s1")
			require.NoError(t, err)
			require.True(t, exists)

			// overwrite with fewer messages
			want.Messages = want.Messages[:1]
			require.NoError(t, store.Save(ctx, "s1", want))
			got, err = store.Load(ctx, "s1")
			require.NoError(t, err)
			require.Len(t, got.Messages, 1)

			require.NoError(t, store.Delete(ctx, "s1"))
			exists, err = store.Exists(ctx, "s1")
			require.NoError(t, err)
			require.False(t, exists)
		})
	}
}

func TestSessionStoreLoadMissing(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			got, err := store.Load(context.Background(), "nonexistent")
			require.NoError(t, err)
			require.Empty(t, got.Messages)
			require.NotNil(t, got.PromptSettings)
		})
	}
}

func TestSessionStoreListNewestFirst(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for _, s := range []string{"old", "mid", "new"} {
				require.NoError(t, store.Save(ctx, s, model.NewTranscript()))
				time.Sleep(5 * time.Millisecond)
			}
			names, err := store.ListSessions(ctx)
			require.NoError(t, err)
			require.Equal(t, []string{"new", "mid", "old"}, names)
		})
	}
}

func TestSessionStoreRejectsPathNames(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			err := store.Save(context.Background(), "../x", model.NewTranscript())
			require.ErrorIs(t, err, ErrInvalidName)
		})
	}
}

func TestJSONDirReadsLegacyFile(t *testing.T) {
	dir := t.TempDir()
	store, err := NewJSONDirStorage(dir)
	require.NoError(t, err)

	legacy := `[{"role": "user", "for_model": "hi", "for_user": "hi", "think": ""}]`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "2024-01-01_00-00-00.json"), []byte(legacy), 0644))

	got, err := store.Load(context.Background(), "2024-01-01_00-00-00")
	require.NoError(t, err)
	require.Len(t, got.Messages, 1)
	require.Empty(t, got.ToolSettings)
}

func TestSqliteProjectsAreIsolated(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.db")
	a, err := OpenSqlite(path, "a")
	require.NoError(t, err)
	defer a.Close()
	b, err := OpenSqlite(path, "b")
	require.NoError(t, err)
	defer b.Close()

	ctx := context.Background()
	require.NoError(t, a.Save(ctx, "s", sampleTranscript()))

	exists, err := b.Exists(ctx, "s")
	require.NoError(t, err)
	require.False(t, exists)

	names, err := b.ListSessions(ctx)
	require.NoError(t, err)
	require.Empty(t, names)
}

func TestOpenBackends(t *testing.T) {
	dir := t.TempDir()
	s, closeFn, err := Open("json", "", filepath.Join(dir, "history"), "p")
	require.NoError(t, err)
	require.IsType(t, &JSONDirStorage{}, s)
	require.NoError(t, closeFn())

	s, closeFn, err = Open("sqlite", filepath.Join(dir, "db", "s.db"), "", "p")
	require.NoError(t, err)
	require.IsType(t, &SqliteStorage{}, s)
	require.NoError(t, closeFn())

	_, _, err = Open("redis", "", "", "p")
	require.Error(t, err)
}
