package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wilsonzlin/aero/proxy/peerjs-signaling/internal/protocol"
)

type fakeConn struct {
	mu        sync.Mutex
	frames    []string
	closed    bool
	closeCode int
	reason    string
}

func (c *fakeConn) Send(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("closed")
	}
	c.frames = append(c.frames, string(frame))
	return nil
}

func (c *fakeConn) Close(code int, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.closeCode = code
	c.reason = reason
}

func (c *fakeConn) Frames() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.frames...)
}

func (c *fakeConn) Closed() (bool, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed, c.closeCode
}

func decode(t *testing.T, frame string) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(frame), &m))
	return m
}

func TestRegister_BadRequest(t *testing.T) {
	r := New()
	c := &fakeConn{}

	_, err := r.Register("", "tok", c)
	require.ErrorIs(t, err, ErrBadRequest)
	_, err = r.Register("alice", "", c)
	require.ErrorIs(t, err, ErrBadRequest)

	require.Empty(t, c.Frames())
	closed, _ := c.Closed()
	require.False(t, closed)
	require.Zero(t, r.Len())
}

func TestRegister_SeatsAndSendsOpen(t *testing.T) {
	r := New()
	c := &fakeConn{}

	outcome, err := r.Register("alice", "t1", c)
	require.NoError(t, err)
	require.Equal(t, OutcomeSeated, outcome)
	require.Equal(t, []string{protocol.Open}, c.Frames())
	require.Equal(t, []string{"alice"}, r.ListIdentifiers())
}

func TestRegister_ReconnectReplacesOldConnection(t *testing.T) {
	r := New()
	ch1, ch2 := &fakeConn{}, &fakeConn{}

	_, err := r.Register("alice", "t1", ch1)
	require.NoError(t, err)
	outcome, err := r.Register("alice", "t1", ch2)
	require.NoError(t, err)
	require.Equal(t, OutcomeReplaced, outcome)

	closed, code := ch1.Closed()
	require.True(t, closed)
	require.Equal(t, protocol.CloseTakeover, code)
	require.Equal(t, []string{protocol.Open}, ch2.Frames())

	require.NoError(t, r.Dispatch("bob", []byte(`{"dst":"alice","n":1}`)))
	require.Len(t, ch2.Frames(), 2)
	require.Equal(t, []string{protocol.Open}, ch1.Frames())
}

func TestRegister_CollisionRejectsNewConnection(t *testing.T) {
	r := New()
	ch1, ch2 := &fakeConn{}, &fakeConn{}

	_, err := r.Register("alice", "tokenA", ch1)
	require.NoError(t, err)
	outcome, err := r.Register("alice", "tokenB", ch2)
	require.ErrorIs(t, err, ErrIDTaken)
	require.Equal(t, OutcomeRejected, outcome)

	require.Equal(t, []string{protocol.IDTaken}, ch2.Frames())
	closed, code := ch2.Closed()
	require.True(t, closed)
	require.Equal(t, protocol.CloseIDTaken, code)

	closed, _ = ch1.Closed()
	require.False(t, closed)

	require.NoError(t, r.Dispatch("bob", []byte(`{"dst":"alice"}`)))
	require.Len(t, ch1.Frames(), 2)
}

func TestDispatch_StampsSourceAndDeliversOnlyToDestination(t *testing.T) {
	r := New()
	a, b, c := &fakeConn{}, &fakeConn{}, &fakeConn{}
	for id, conn := range map[string]*fakeConn{"alice": a, "bob": b, "carol": c} {
		_, err := r.Register(id, "tok-"+id, conn)
		require.NoError(t, err)
	}

	require.NoError(t, r.Dispatch("alice", []byte(`{"dst":"bob","src":"mallory","text":"hi"}`)))

	frames := b.Frames()
	require.Len(t, frames, 2)
	got := decode(t, frames[1])
	require.Equal(t, "alice", got["src"])
	require.Equal(t, "bob", got["dst"])
	require.Equal(t, "hi", got["text"])

	require.Equal(t, []string{protocol.Open}, a.Frames())
	require.Equal(t, []string{protocol.Open}, c.Frames())
}

func TestDispatch_DropsMissingDestination(t *testing.T) {
	r := New()
	a := &fakeConn{}
	_, err := r.Register("alice", "t1", a)
	require.NoError(t, err)

	err = r.Dispatch("alice", []byte(`{"dst":"carol"}`))
	require.ErrorIs(t, err, ErrDestinationNotFound)
	require.Equal(t, []string{protocol.Open}, a.Frames())
}

func TestDispatch_MalformedMessage(t *testing.T) {
	r := New()
	for _, frame := range []string{`not json`, `{"text":"hi"}`, `{"dst":7}`, `[]`} {
		err := r.Dispatch("alice", []byte(frame))
		require.ErrorIs(t, err, ErrMalformedMessage, "frame %s", frame)
	}
}

func TestDispatch_PreservesOrderPerPair(t *testing.T) {
	r := New()
	b := &fakeConn{}
	_, err := r.Register("bob", "t", b)
	require.NoError(t, err)

	for i := 0; i < 100; i++ {
		require.NoError(t, r.Dispatch("alice", []byte(fmt.Sprintf(`{"dst":"bob","seq":%d}`, i))))
	}

	frames := b.Frames()[1:]
	require.Len(t, frames, 100)
	for i, f := range frames {
		require.Equal(t, float64(i), decode(t, f)["seq"])
	}
}

func TestDeregister_OnlyRemovesMatchingConnection(t *testing.T) {
	r := New()
	ch1, ch2 := &fakeConn{}, &fakeConn{}

	_, err := r.Register("alice", "t1", ch1)
	require.NoError(t, err)
	_, err = r.Register("alice", "t1", ch2)
	require.NoError(t, err)

	// The replaced connection's close path runs after the takeover.
	require.False(t, r.Deregister("alice", ch1))
	require.Equal(t, []string{"alice"}, r.ListIdentifiers())

	require.True(t, r.Deregister("alice", ch2))
	require.False(t, r.Deregister("alice", ch2))
	require.Empty(t, r.ListIdentifiers())
}

func TestDeregister_FreesIdentifierForFreshRegistration(t *testing.T) {
	r := New()
	a := &fakeConn{}
	_, err := r.Register("alice", "t1", a)
	require.NoError(t, err)
	require.True(t, r.Deregister("alice", a))
	require.NotContains(t, r.ListIdentifiers(), "alice")

	c := &fakeConn{}
	outcome, err := r.Register("alice", "tNew", c)
	require.NoError(t, err)
	require.Equal(t, OutcomeSeated, outcome)
	require.Equal(t, []string{protocol.Open}, c.Frames())
}

func TestRegister_ConcurrentClaimsLeaveOneHolder(t *testing.T) {
	r := New()
	const n = 64

	conns := make([]*fakeConn, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		conns[i] = &fakeConn{}
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = r.Register("alice", fmt.Sprintf("tok-%d", i), conns[i])
		}(i)
	}
	wg.Wait()

	seated := 0
	for _, c := range conns {
		frames := c.Frames()
		require.Len(t, frames, 1)
		if frames[0] == protocol.Open {
			seated++
			closed, _ := c.Closed()
			require.False(t, closed)
		}
	}
	require.Equal(t, 1, seated)
	require.Equal(t, 1, r.Len())
}

func TestRegister_ConcurrentTakeoversLeaveOneLiveConnection(t *testing.T) {
	r := New()
	const n = 64

	conns := make([]*fakeConn, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		conns[i] = &fakeConn{}
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = r.Register("alice", "same", conns[i])
		}(i)
	}
	wg.Wait()

	live := 0
	for _, c := range conns {
		if closed, _ := c.Closed(); !closed {
			live++
		}
	}
	require.Equal(t, 1, live)
	require.Equal(t, []string{"alice"}, r.ListIdentifiers())
}
