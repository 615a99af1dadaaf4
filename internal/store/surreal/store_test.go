package surreal

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/nfrund/pairchat/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// openTestStore connects to the SurrealDB named by SURREAL_URL using a
// throwaway database so runs do not see each other's rows.
func openTestStore(t *testing.T) *Store {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping SurrealDB integration test in short mode")
	}
	url := os.Getenv("SURREAL_URL")
	if url == "" {
		t.Skip("SURREAL_URL not set")
	}
	ns := os.Getenv("SURREAL_NS")
	if ns == "" {
		ns = "pairchat_test"
	}

	s, err := Open(context.Background(), Config{
		URL:       url,
		Namespace: ns,
		Database:  "t_" + uuid.NewString()[:8],
		Username:  os.Getenv("SURREAL_USER"),
		Password:  os.Getenv("SURREAL_PASS"),
		Timeout:   5 * time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSurrealStore_UsersAndMessages(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	a, err := s.CreateUser(ctx, "alice")
	require.NoError(t, err)
	b, err := s.CreateUser(ctx, "bob")
	require.NoError(t, err)
	assert.Greater(t, b.ID, a.ID)

	_, err = s.CreateUser(ctx, "alice")
	assert.ErrorIs(t, err, domain.ErrUserExists)

	_, err = s.GetUser(ctx, 424242)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	var ids []int64
	for i := 0; i < 4; i++ {
		m, err := s.CreateMessage(ctx, a.ID, b.ID, fmt.Sprintf("msg %d", i))
		require.NoError(t, err)
		if len(ids) > 0 {
			assert.Greater(t, m.ID, ids[len(ids)-1])
		}
		ids = append(ids, m.ID)
	}

	n, err := s.UnreadCount(ctx, a.ID, b.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)

	updated, err := s.MarkRead(ctx, ids, a.ID)
	require.NoError(t, err)
	assert.Zero(t, updated, "sender cannot mark its own messages")

	owned, err := s.FilterReceived(ctx, ids, b.ID)
	require.NoError(t, err)
	assert.Equal(t, ids, owned)

	updated, err = s.MarkRead(ctx, ids, b.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(4), updated)

	n, err = s.UnreadCount(ctx, a.ID, b.ID)
	require.NoError(t, err)
	assert.Zero(t, n)

	conv, err := s.Conversation(ctx, b.ID, a.ID, 2)
	require.NoError(t, err)
	require.Len(t, conv, 2)
	assert.Equal(t, ids[2], conv[0].ID)
	assert.Equal(t, ids[3], conv[1].ID)

	require.NoError(t, s.SetOnline(ctx, a.ID, true, time.Now()))
	got, err := s.GetUser(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, got.Online)
}
