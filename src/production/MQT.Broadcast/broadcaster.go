package broadcast

import (
	"encoding/json"
	"fmt"

	logger "gitlab.com/maplesense1/smarthome.telemetry_server/src/production/MQT.Logger"
	registry "gitlab.com/maplesense1/smarthome.telemetry_server/src/production/MQT.Registry"
)

// Broadcaster serializes envelopes once and hands them to registry sockets
type Broadcaster struct {
	registry *registry.Registry
	log      *logger.Logger
}

func New(reg *registry.Registry, log *logger.Logger) *Broadcaster {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &Broadcaster{registry: reg, log: log.WithComponent("broadcast")}
}

// Broadcast delivers envelope to every socket open when it is called and
// returns how many accepted it
func (b *Broadcaster) Broadcast(envelope interface{}) (int, error) {
	msg, err := json.Marshal(envelope)
	if err != nil {
		return 0, fmt.Errorf("marshal broadcast: %w", err)
	}
	return b.deliver(b.registry.OpenSockets(), msg), nil
}

// SendToUser delivers envelope to the authenticated sockets of one user
func (b *Broadcaster) SendToUser(userID int64, envelope interface{}) (int, error) {
	msg, err := json.Marshal(envelope)
	if err != nil {
		return 0, fmt.Errorf("marshal message for user %d: %w", userID, err)
	}
	return b.deliver(b.registry.ConnsForUser(userID), msg), nil
}

// SendTo delivers envelope to a single socket, authenticated or not
func (b *Broadcaster) SendTo(conn registry.Conn, envelope interface{}) error {
	msg, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	if !conn.Send(msg) {
		return fmt.Errorf("connection %s did not accept the message", conn.ID())
	}
	return nil
}

func (b *Broadcaster) deliver(conns []registry.Conn, msg []byte) int {
	delivered := 0
	for _, conn := range conns {
		if conn.Send(msg) {
			delivered++
			continue
		}
		b.log.Logger.Debug().Str("conn_id", conn.ID()).Msg("Dropped message for closed or slow connection")
	}
	return delivered
}
