package artifact

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/metalagman/adkx/internal/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

func services(t *testing.T) map[string]Service {
	t.Helper()
	sqlDB, err := db.Open(filepath.Join(t.TempDir(), "artifacts.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return map[string]Service{
		"memory": NewInMemoryService(),
		"sqlite": NewSQLiteService(sqlDB),
	}
}

func TestSaveLoadVersions(t *testing.T) {
	for name, svc := range services(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			key := Key{AppName: "app", UserID: "u", SessionID: "s", Filename: "notes.txt"}

			v0, err := svc.Save(ctx, key, genai.NewPartFromText("first"))
			require.NoError(t, err)
			assert.Equal(t, 0, v0)
			v1, err := svc.Save(ctx, key, genai.NewPartFromBytes([]byte("png"), "image/png"))
			require.NoError(t, err)
			assert.Equal(t, 1, v1)

			latest, err := svc.Load(ctx, key, -1)
			require.NoError(t, err)
			require.NotNil(t, latest.InlineData)
			assert.Equal(t, "image/png", latest.InlineData.MIMEType)
			assert.Equal(t, []byte("png"), latest.InlineData.Data)

			first, err := svc.Load(ctx, key, 0)
			require.NoError(t, err)
			assert.Equal(t, "first", first.Text)

			_, err = svc.Load(ctx, key, 5)
			require.ErrorIs(t, err, ErrNotFound)

			versions, err := svc.Versions(ctx, key)
			require.NoError(t, err)
			assert.Equal(t, []int{0, 1}, versions)

			require.NoError(t, svc.Delete(ctx, key))
			_, err = svc.Load(ctx, key, -1)
			require.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestUserScopedKeysVisibleAcrossSessions(t *testing.T) {
	for name, svc := range services(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, err := svc.Save(ctx, Key{AppName: "app", UserID: "u", SessionID: "s1", Filename: "user:profile"}, genai.NewPartFromText("p"))
			require.NoError(t, err)
			_, err = svc.Save(ctx, Key{AppName: "app", UserID: "u", SessionID: "s1", Filename: "local.txt"}, genai.NewPartFromText("l"))
			require.NoError(t, err)

			keys, err := svc.ListKeys(ctx, "app", "u", "s2")
			require.NoError(t, err)
			assert.Equal(t, []string{"user:profile"}, keys)

			keys, err = svc.ListKeys(ctx, "app", "u", "s1")
			require.NoError(t, err)
			assert.Equal(t, []string{"local.txt", "user:profile"}, keys)

			part, err := svc.Load(ctx, Key{AppName: "app", UserID: "u", SessionID: "s2", Filename: "user:profile"}, -1)
			require.NoError(t, err)
			assert.Equal(t, "p", part.Text)
		})
	}
}

func TestSaveRejectsEmptyPart(t *testing.T) {
	svc := NewInMemoryService()
	_, err := svc.Save(context.Background(), Key{Filename: "x"}, &genai.Part{})
	require.Error(t, err)
}
