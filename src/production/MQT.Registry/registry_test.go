package registry

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	mqtmodels "gitlab.com/maplesense1/smarthome.telemetry_server/src/production/MQT.Models"
)

type fakeConn struct {
	id     string
	closed bool
}

func (c *fakeConn) ID() string          { return c.id }
func (c *fakeConn) Send(msg []byte) bool { return !c.closed }
func (c *fakeConn) Open() bool          { return !c.closed }
func (c *fakeConn) Close() error        { c.closed = true; return nil }

type presenceLog struct {
	mu     sync.Mutex
	events []string
	counts map[int64]int
}

func newPresenceLog() *presenceLog {
	return &presenceLog{counts: map[int64]int{}}
}

func (p *presenceLog) UserConnected(userID int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, "connected")
	p.counts[userID]++
}

func (p *presenceLog) UserDisconnected(userID int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, "disconnected")
	p.counts[userID]--
}

var alice = mqtmodels.UserInfo{ID: 1, Username: "alice", Email: "alice@example.com"}

func TestAuthenticate_CreatesEntryAndNotifies(t *testing.T) {
	presence := newPresenceLog()
	reg := New(nil, presence)
	conn := &fakeConn{id: "c1"}

	reg.Attach(conn)
	_, ok := reg.Lookup(conn)
	assert.False(t, ok, "attached socket has no identity yet")

	entry, err := reg.Authenticate(conn, alice)
	require.NoError(t, err)
	assert.Equal(t, int64(1), entry.UserID)
	assert.Equal(t, "alice", entry.Username)
	assert.Equal(t, "c1", entry.ConnID)
	assert.False(t, entry.ConnectedAt.IsZero())

	got, ok := reg.Lookup(conn)
	require.True(t, ok)
	assert.Equal(t, entry, got)
	assert.Equal(t, []string{"connected"}, presence.events)
}

func TestAuthenticate_Errors(t *testing.T) {
	reg := New(nil)
	conn := &fakeConn{id: "c1"}

	_, err := reg.Authenticate(conn, alice)
	assert.ErrorIs(t, err, ErrUnknownConn)

	reg.Attach(conn)
	_, err = reg.Authenticate(conn, alice)
	require.NoError(t, err)
	_, err = reg.Authenticate(conn, alice)
	assert.ErrorIs(t, err, ErrAlreadyAuthenticated)
}

func TestRemove_IsIdempotent(t *testing.T) {
	presence := newPresenceLog()
	reg := New(nil, presence)
	conn := &fakeConn{id: "c1"}
	reg.Attach(conn)
	_, err := reg.Authenticate(conn, alice)
	require.NoError(t, err)

	reg.Remove(conn)
	reg.Remove(conn)

	_, ok := reg.Lookup(conn)
	assert.False(t, ok)
	assert.Zero(t, reg.Count())
	assert.Equal(t, []string{"connected", "disconnected"}, presence.events)
}

func TestRemove_UnauthenticatedDoesNotNotify(t *testing.T) {
	presence := newPresenceLog()
	reg := New(nil, presence)
	conn := &fakeConn{id: "c1"}
	reg.Attach(conn)

	reg.Remove(conn)
	assert.Empty(t, presence.events)
	assert.Zero(t, reg.Count())
}

func TestOpenSocketsAndConnsForUser(t *testing.T) {
	reg := New(nil)
	a1 := &fakeConn{id: "a1"}
	a2 := &fakeConn{id: "a2"}
	b := &fakeConn{id: "b"}
	anon := &fakeConn{id: "anon"}
	for _, c := range []*fakeConn{a1, a2, b, anon} {
		reg.Attach(c)
	}
	_, _ = reg.Authenticate(a1, alice)
	_, _ = reg.Authenticate(a2, alice)
	_, _ = reg.Authenticate(b, mqtmodels.UserInfo{ID: 2, Username: "bob"})

	assert.Len(t, reg.OpenSockets(), 4)
	assert.Len(t, reg.ConnsForUser(1), 2)
	assert.Len(t, reg.ConnsForUser(2), 1)
	assert.Empty(t, reg.ConnsForUser(3))
	assert.Len(t, reg.Entries(), 3)

	a2.closed = true
	assert.Len(t, reg.OpenSockets(), 3)
	assert.Len(t, reg.ConnsForUser(1), 1)
}

func TestConcurrentAttachAuthenticateRemove(t *testing.T) {
	presence := newPresenceLog()
	reg := New(nil, presence)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conn := &fakeConn{id: string(rune('A'+i%26)) + string(rune('0'+i/26))}
			reg.Attach(conn)
			_, _ = reg.Authenticate(conn, mqtmodels.UserInfo{ID: int64(i % 3)})
			reg.OpenSockets()
			reg.Remove(conn)
		}(i)
	}
	wg.Wait()

	assert.Zero(t, reg.Count())
	for user, n := range presence.counts {
		assert.Zero(t, n, "user %d presence must balance", user)
	}
}

func TestCloseAll(t *testing.T) {
	reg := New(nil)
	a := &fakeConn{id: "a"}
	b := &fakeConn{id: "b"}
	reg.Attach(a)
	reg.Attach(b)

	reg.CloseAll()
	assert.True(t, a.closed)
	assert.True(t, b.closed)
}
