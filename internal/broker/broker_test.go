package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/nfrund/pairchat/internal/pubsub"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu     sync.Mutex
	events []string
	fail   bool
}

func (r *recorder) Deliver(e string) error {
	if r.fail {
		return errors.New("transport gone")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recorder) got() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func TestJoinPublishLeave(t *testing.T) {
	b := New[string]()
	s1, s2 := &recorder{}, &recorder{}

	require.NoError(t, b.Join("chat_1_2", s1))
	require.NoError(t, b.Join("chat_1_2", s2))
	require.NoError(t, b.Join("chat_1_2", s1))
	assert.Equal(t, 2, b.Members("chat_1_2"))

	assert.Equal(t, 2, b.Publish(context.Background(), "chat_1_2", "hello"))
	assert.Equal(t, []string{"hello"}, s1.got())
	assert.Equal(t, []string{"hello"}, s2.got())

	b.Leave("chat_1_2", s1)
	b.Leave("chat_1_2", s1)
	assert.Equal(t, 1, b.Publish(context.Background(), "chat_1_2", "again"))
	assert.Equal(t, []string{"hello"}, s1.got())

	b.Leave("chat_1_2", s2)
	assert.Equal(t, 0, b.Groups())
}

func TestPublish_UnknownGroupIsNoop(t *testing.T) {
	b := New[string]()
	assert.Equal(t, 0, b.Publish(context.Background(), "user_9", "unread"))
	b.Leave("user_9", &recorder{})
	assert.Equal(t, 0, b.Groups())
}

func TestPublish_GroupsAreIsolated(t *testing.T) {
	b := New[string]()
	room, personal := &recorder{}, &recorder{}
	require.NoError(t, b.Join("chat_1_2", room))
	require.NoError(t, b.Join("user_2", personal))

	b.Publish(context.Background(), "user_2", "unread")
	assert.Empty(t, room.got())
	assert.Equal(t, []string{"unread"}, personal.got())
}

func TestPublish_FailedSubscriberDoesNotAffectOthers(t *testing.T) {
	b := New[string]()
	bad, good := &recorder{fail: true}, &recorder{}
	require.NoError(t, b.Join("chat_1_2", bad))
	require.NoError(t, b.Join("chat_1_2", good))

	assert.Equal(t, 1, b.Publish(context.Background(), "chat_1_2", "hi"))
	assert.Equal(t, []string{"hi"}, good.got())
}

func TestPublish_OrderPreservedPerSubscriber(t *testing.T) {
	b := New[string]()
	sub := &recorder{}
	require.NoError(t, b.Join("chat_1_2", sub))

	for i := 0; i < 100; i++ {
		b.Publish(context.Background(), "chat_1_2", fmt.Sprint(i))
	}
	got := sub.got()
	require.Len(t, got, 100)
	for i, e := range got {
		assert.Equal(t, fmt.Sprint(i), e)
	}
}

func TestConcurrentJoinLeavePublish(t *testing.T) {
	b := New[string]()
	anchor := &recorder{}
	require.NoError(t, b.Join("chat_1_2", anchor))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			s := &recorder{}
			for j := 0; j < 20; j++ {
				_ = b.Join("chat_1_2", s)
				_ = b.Join("chat_churn", s)
				b.Leave("chat_churn", s)
				b.Leave("chat_1_2", s)
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				b.Publish(context.Background(), "chat_1_2", "x")
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, b.Members("chat_1_2"))
	assert.Len(t, anchor.got(), 50*20)
	assert.Equal(t, 0, b.Members("chat_churn"))
}

func TestJoinSurvivesGroupDiscard(t *testing.T) {
	b := New[string]()
	for i := 0; i < 200; i++ {
		a, c := &recorder{}, &recorder{}
		require.NoError(t, b.Join("chat_1_2", a))
		done := make(chan struct{})
		go func() {
			b.Leave("chat_1_2", a)
			close(done)
		}()
		require.NoError(t, b.Join("chat_1_2", c))
		<-done
		require.Equal(t, 1, b.Members("chat_1_2"), "iteration %d", i)
		b.Leave("chat_1_2", c)
	}
}

func TestClose(t *testing.T) {
	b := New[string]()
	require.NoError(t, b.Join("chat_1_2", &recorder{}))
	require.NoError(t, b.Close())
	assert.Equal(t, 0, b.Groups())
	assert.ErrorIs(t, b.Join("chat_1_2", &recorder{}), ErrClosed)
}

func TestMirror_DeliversAcrossBrokers(t *testing.T) {
	bus := pubsub.NewWatermillBridge()
	defer bus.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	encode := func(s string) ([]byte, error) { return json.Marshal(s) }
	decode := func(b []byte) (string, error) {
		var s string
		err := json.Unmarshal(b, &s)
		return s, err
	}

	nodeA := New(WithMirror[string](bus, encode))
	nodeB := New(WithMirror[string](bus, encode))
	require.NoError(t, nodeA.Attach(ctx, bus, decode))
	require.NoError(t, nodeB.Attach(ctx, bus, decode))

	onA, onB := &recorder{}, &recorder{}
	require.NoError(t, nodeA.Join("chat_1_2", onA))
	require.NoError(t, nodeB.Join("chat_1_2", onB))

	nodeA.Publish(ctx, "chat_1_2", "from-a")

	assert.Eventually(t, func() bool {
		return len(onB.got()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"from-a"}, onB.got())

	// The origin must not receive its own mirrored copy.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, []string{"from-a"}, onA.got())
}
