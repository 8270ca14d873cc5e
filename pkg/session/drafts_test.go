package session

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"maunium.net/go/mautrix/id"
)

func openTestDrafts(t *testing.T, userID id.UserID) *DraftStore {
	t.Helper()
	uri := "file:" + filepath.Join(t.TempDir(), "drafts.db") + "?_txlock=immediate"
	store, err := OpenDraftStore(context.Background(), uri, userID)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestDraftSetGet(t *testing.T) {
	ctx := context.Background()
	store := openTestDrafts(t, "@alice:example.org")
	updated := time.UnixMilli(1714560000000)

	require.NoError(t, store.Set(ctx, Draft{
		RoomID:    "!room:example.org",
		Body:      "half-written",
		ReplyTo:   "$parent",
		UpdatedAt: updated,
	}))

	draft, found, err := store.Get(ctx, "!room:example.org")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, Draft{
		RoomID:    "!room:example.org",
		Body:      "half-written",
		ReplyTo:   "$parent",
		UpdatedAt: updated,
	}, draft)

	_, found, err = store.Get(ctx, "!other:example.org")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestDraftOverwriteAndEmptyDeletes(t *testing.T) {
	ctx := context.Background()
	store := openTestDrafts(t, "@alice:example.org")

	require.NoError(t, store.Set(ctx, Draft{RoomID: "!room:example.org", Body: "first"}))
	require.NoError(t, store.Set(ctx, Draft{RoomID: "!room:example.org", Body: "fixed", EditOf: "$sent"}))

	draft, found, err := store.Get(ctx, "!room:example.org")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "fixed", draft.Body)
	assert.Equal(t, id.EventID("$sent"), draft.EditOf)

	require.NoError(t, store.Set(ctx, Draft{RoomID: "!room:example.org"}))
	_, found, err = store.Get(ctx, "!room:example.org")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestDraftListOrderAndUserScope(t *testing.T) {
	ctx := context.Background()
	store := openTestDrafts(t, "@alice:example.org")
	other := NewDraftStore(store.db, "@bob:example.org")

	require.NoError(t, store.Set(ctx, Draft{RoomID: "!old:example.org", Body: "old", UpdatedAt: time.UnixMilli(1000)}))
	require.NoError(t, store.Set(ctx, Draft{RoomID: "!new:example.org", Body: "new", UpdatedAt: time.UnixMilli(2000)}))
	require.NoError(t, other.Set(ctx, Draft{RoomID: "!old:example.org", Body: "bob's", UpdatedAt: time.UnixMilli(3000)}))

	drafts, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, drafts, 2)
	assert.Equal(t, id.RoomID("!new:example.org"), drafts[0].RoomID)
	assert.Equal(t, id.RoomID("!old:example.org"), drafts[1].RoomID)

	require.NoError(t, store.Clear(ctx))
	drafts, err = store.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, drafts)

	bobs, err := other.List(ctx)
	require.NoError(t, err)
	assert.Len(t, bobs, 1, "clearing one user's drafts must not touch another's")
}

func TestDraftRequiresRoom(t *testing.T) {
	store := openTestDrafts(t, "@alice:example.org")
	assert.Error(t, store.Set(context.Background(), Draft{Body: "orphan"}))
}
