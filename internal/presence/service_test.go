package presence

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nfrund/pairchat/internal/chat"
	"github.com/nfrund/pairchat/internal/pubsub"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type write struct {
	UserID int64
	Online bool
}

// fakeDirectory records SetOnline calls.
type fakeDirectory struct {
	mu     sync.Mutex
	writes []write
}

func (d *fakeDirectory) SetOnline(_ context.Context, id int64, online bool, _ time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.writes = append(d.writes, write{id, online})
	return nil
}

func (d *fakeDirectory) getWrites() []write {
	d.mu.Lock()
	defer d.mu.Unlock()
	result := make([]write, len(d.writes))
	copy(result, d.writes)
	return result
}

func lifecycle(session string, user int64) chat.SessionLifecycle {
	return chat.SessionLifecycle{SessionID: session, UserID: user, Room: "chat_1_2", At: Now()}
}

func TestService_MultipleSessions(t *testing.T) {
	dir := &fakeDirectory{}
	service := NewService(dir, WithOfflineDebounce(0))
	ctx := context.Background()

	require.NoError(t, service.handleConnected(ctx, lifecycle("s1", 1)))
	require.NoError(t, service.handleConnected(ctx, lifecycle("s2", 1)))
	assert.Equal(t, []int64{1}, service.OnlineUsers())

	p, ok := service.GetPresence(1)
	require.True(t, ok)
	assert.Equal(t, 2, p.Sessions)
	assert.Equal(t, StatusOnline, p.Status)

	require.NoError(t, service.handleDisconnected(ctx, lifecycle("s1", 1)))
	assert.Equal(t, []write{{1, true}}, dir.getWrites(), "one remaining session keeps the user online")

	require.NoError(t, service.handleDisconnected(ctx, lifecycle("s2", 1)))
	assert.Equal(t, []write{{1, true}, {1, false}}, dir.getWrites())
	assert.Empty(t, service.OnlineUsers())

	_, ok = service.GetPresence(1)
	assert.False(t, ok)
}

func TestService_ReconnectDuringDebounce(t *testing.T) {
	dir := &fakeDirectory{}
	service := NewService(dir, WithOfflineDebounce(200*time.Millisecond))
	defer service.Shutdown()
	ctx := context.Background()

	require.NoError(t, service.handleConnected(ctx, lifecycle("s1", 1)))
	require.NoError(t, service.handleDisconnected(ctx, lifecycle("s1", 1)))
	require.NoError(t, service.handleConnected(ctx, lifecycle("s2", 1)))

	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, []write{{1, true}}, dir.getWrites())
	assert.Equal(t, []int64{1}, service.OnlineUsers())
}

func TestService_DebouncedOffline(t *testing.T) {
	dir := &fakeDirectory{}
	service := NewService(dir, WithOfflineDebounce(50*time.Millisecond))
	defer service.Shutdown()
	ctx := context.Background()

	require.NoError(t, service.handleConnected(ctx, lifecycle("s1", 1)))
	require.NoError(t, service.handleDisconnected(ctx, lifecycle("s1", 1)))
	assert.Equal(t, []write{{1, true}}, dir.getWrites())

	assert.Eventually(t, func() bool {
		return len(dir.getWrites()) == 2
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, write{1, false}, dir.getWrites()[1])
}

func TestService_DisconnectBeforeConnect(t *testing.T) {
	dir := &fakeDirectory{}
	service := NewService(dir, WithOfflineDebounce(0))
	ctx := context.Background()

	require.NoError(t, service.handleDisconnected(ctx, lifecycle("s1", 1)))
	require.NoError(t, service.handleConnected(ctx, lifecycle("s1", 1)))

	assert.Empty(t, service.OnlineUsers())
	assert.Empty(t, dir.getWrites())
}

func TestService_ShutdownFlushesOffline(t *testing.T) {
	dir := &fakeDirectory{}
	service := NewService(dir, WithOfflineDebounce(time.Hour))
	ctx := context.Background()

	require.NoError(t, service.handleConnected(ctx, lifecycle("s1", 1)))
	require.NoError(t, service.handleConnected(ctx, lifecycle("s2", 2)))
	require.NoError(t, service.handleDisconnected(ctx, lifecycle("s1", 1)))

	service.Shutdown()
	service.Shutdown()

	writes := dir.getWrites()
	assert.Len(t, writes, 4)
	assert.ElementsMatch(t, []write{{1, false}, {2, false}}, writes[2:])

	// Events after shutdown are ignored.
	require.NoError(t, service.handleConnected(ctx, lifecycle("s3", 3)))
	assert.Len(t, dir.getWrites(), 4)
}

func TestService_ConsumesLifecycleEvents(t *testing.T) {
	bus := pubsub.NewWatermillBridge()
	defer bus.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dir := &fakeDirectory{}
	service := NewService(dir, WithOfflineDebounce(0), WithPublisher(bus))
	defer service.Shutdown()
	require.NoError(t, service.Start(ctx, bus))

	updates := make(chan StatusUpdate, 4)
	require.NoError(t, pubsub.Subscribe(ctx, bus, TopicStatusUpdate, func(_ context.Context, u StatusUpdate) error {
		updates <- u
		return nil
	}))

	require.NoError(t, pubsub.Publish(ctx, bus, chat.SessionConnected, 7, lifecycle("s1", 7)))

	select {
	case u := <-updates:
		assert.Equal(t, int64(7), u.UserID)
		assert.Equal(t, StatusOnline, u.Status)
	case <-time.After(2 * time.Second):
		t.Fatal("no status update published")
	}
	assert.Equal(t, []write{{7, true}}, dir.getWrites())

	require.NoError(t, pubsub.Publish(ctx, bus, chat.SessionDisconnected, 7, lifecycle("s1", 7)))
	select {
	case u := <-updates:
		assert.Equal(t, StatusOffline, u.Status)
	case <-time.After(2 * time.Second):
		t.Fatal("no offline update published")
	}
}
