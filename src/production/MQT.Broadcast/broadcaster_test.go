package broadcast

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	mqtmodels "gitlab.com/maplesense1/smarthome.telemetry_server/src/production/MQT.Models"
	registry "gitlab.com/maplesense1/smarthome.telemetry_server/src/production/MQT.Registry"
)

type fakeConn struct {
	id     string
	mu     sync.Mutex
	closed bool
	msgs   [][]byte
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Send(msg []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.msgs = append(c.msgs, msg)
	return true
}

func (c *fakeConn) Open() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) received() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.msgs...)
}

func setup(t *testing.T) (*Broadcaster, *registry.Registry) {
	t.Helper()
	reg := registry.New(nil)
	return New(reg, nil), reg
}

func TestBroadcast_ReachesEveryOpenSocket(t *testing.T) {
	b, reg := setup(t)
	a := &fakeConn{id: "a"}
	c := &fakeConn{id: "c"}
	anon := &fakeConn{id: "anon"}
	gone := &fakeConn{id: "gone"}
	for _, conn := range []*fakeConn{a, c, anon, gone} {
		reg.Attach(conn)
	}
	_, _ = reg.Authenticate(a, mqtmodels.UserInfo{ID: 1})
	_, _ = reg.Authenticate(c, mqtmodels.UserInfo{ID: 2})
	_ = gone.Close()

	env := mqtmodels.NewSensorDataEnvelope("iot/temperature", "25.5", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	n, err := b.Broadcast(env)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	for _, conn := range []*fakeConn{a, c, anon} {
		msgs := conn.received()
		require.Len(t, msgs, 1, conn.id)
		var got map[string]interface{}
		require.NoError(t, json.Unmarshal(msgs[0], &got))
		assert.Equal(t, "sensor_data", got["type"])
		assert.Equal(t, "iot/temperature", got["topic"])
		assert.Equal(t, "25.5", got["value"])
		assert.Equal(t, "2024-01-01T00:00:00.000Z", got["timestamp"])
	}
	assert.Empty(t, gone.received())
}

func TestSendToUser_OnlyThatUsersSockets(t *testing.T) {
	b, reg := setup(t)
	a1 := &fakeConn{id: "a1"}
	a2 := &fakeConn{id: "a2"}
	other := &fakeConn{id: "b"}
	for _, conn := range []*fakeConn{a1, a2, other} {
		reg.Attach(conn)
	}
	_, _ = reg.Authenticate(a1, mqtmodels.UserInfo{ID: 1})
	_, _ = reg.Authenticate(a2, mqtmodels.UserInfo{ID: 1})
	_, _ = reg.Authenticate(other, mqtmodels.UserInfo{ID: 2})

	n, err := b.SendToUser(1, mqtmodels.NewPongEnvelope(time.Now()))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Len(t, a1.received(), 1)
	assert.Len(t, a2.received(), 1)
	assert.Empty(t, other.received())
}

func TestSendTo_ClosedConn(t *testing.T) {
	b, _ := setup(t)
	conn := &fakeConn{id: "x", closed: true}
	err := b.SendTo(conn, mqtmodels.NewErrorEnvelope("nope"))
	assert.Error(t, err)
}

func TestBroadcast_ConcurrentWithRegistryChurn(t *testing.T) {
	b, reg := setup(t)
	stable := &fakeConn{id: "stable"}
	reg.Attach(stable)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			conn := &fakeConn{id: "churn"}
			reg.Attach(conn)
			reg.Remove(conn)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			_, err := b.Broadcast(mqtmodels.NewPongEnvelope(time.Now()))
			assert.NoError(t, err)
		}
	}()
	wg.Wait()

	assert.Len(t, stable.received(), 200, "no double or missed delivery to a stable socket")
}

func TestBroadcast_MarshalError(t *testing.T) {
	b, _ := setup(t)
	_, err := b.Broadcast(map[string]interface{}{"bad": make(chan int)})
	assert.Error(t, err)
}
