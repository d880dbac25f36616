package command

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	broadcast "gitlab.com/maplesense1/smarthome.telemetry_server/src/production/MQT.Broadcast"
	logger "gitlab.com/maplesense1/smarthome.telemetry_server/src/production/MQT.Logger"
	mqtmodels "gitlab.com/maplesense1/smarthome.telemetry_server/src/production/MQT.Models"
	registry "gitlab.com/maplesense1/smarthome.telemetry_server/src/production/MQT.Registry"
	interfaces "gitlab.com/maplesense1/smarthome.telemetry_server/src/production/MQT.Repository/Interfaces"
)

// Publisher relays a command to the device over the transport
type Publisher interface {
	PublishCommand(ctx context.Context, sensor mqtmodels.Sensor, value string) error
}

// Channel handles frames sent by viewers
type Channel struct {
	registry  *registry.Registry
	out       *broadcast.Broadcaster
	publisher Publisher
	store     interfaces.LatestFetcher
	log       *logger.Logger
	now       func() time.Time
}

func NewChannel(reg *registry.Registry, out *broadcast.Broadcaster, publisher Publisher, store interfaces.LatestFetcher, log *logger.Logger) *Channel {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &Channel{
		registry:  reg,
		out:       out,
		publisher: publisher,
		store:     store,
		log:       log.WithComponent("command"),
		now:       time.Now,
	}
}

// Handle decodes and executes one frame from conn. Every failure a viewer
// caused is answered with an error frame to that socket; the returned error
// is for logging only and never means the socket should close.
func (ch *Channel) Handle(ctx context.Context, conn registry.Conn, frame []byte) error {
	cmd, err := Decode(frame)
	if err != nil {
		return ch.reject(conn, err)
	}

	switch c := cmd.(type) {
	case Ping:
		return ch.out.SendTo(conn, mqtmodels.NewPongEnvelope(ch.now()))
	case ControlLight:
		return ch.controlLight(ctx, conn, c)
	case GetLatestData:
		return ch.latestData(ctx, conn)
	default:
		return ch.reject(conn, mqtmodels.NewValidationError(mqtmodels.MsgUnknownType))
	}
}

func (ch *Channel) controlLight(ctx context.Context, conn registry.Conn, c ControlLight) error {
	entry, ok := ch.registry.Lookup(conn)
	if !ok {
		return ch.reject(conn, mqtmodels.NewValidationError(mqtmodels.MsgNotAuthenticated))
	}
	status, err := c.LightStatus()
	if err != nil {
		return ch.reject(conn, err)
	}

	if err := ch.publisher.PublishCommand(ctx, mqtmodels.SensorLight, strconv.Itoa(status)); err != nil {
		ch.log.WithUser(entry.UserID).ErrorWithError(err, "Failed to publish light command")
		if sendErr := ch.out.SendTo(conn, mqtmodels.NewErrorEnvelope(mqtmodels.MsgLightFailed)); sendErr != nil {
			return errors.Join(err, sendErr)
		}
		return fmt.Errorf("control light: %w", err)
	}

	ch.log.WithUser(entry.UserID).Logger.Info().Int("status", status).Msg("Light command published")
	_, err = ch.out.SendToUser(entry.UserID, mqtmodels.NewLightControlEnvelope(status, ch.now()))
	return err
}

func (ch *Channel) latestData(ctx context.Context, conn registry.Conn) error {
	entry, ok := ch.registry.Lookup(conn)
	if !ok {
		return ch.reject(conn, mqtmodels.NewValidationError(mqtmodels.MsgNotAuthenticated))
	}

	data, err := LatestSnapshot(ctx, ch.store, entry.UserID)
	if err != nil {
		ch.log.WithUser(entry.UserID).ErrorWithError(err, "Failed to fetch latest data")
		if sendErr := ch.out.SendTo(conn, mqtmodels.NewErrorEnvelope(mqtmodels.MsgLatestDataFailed)); sendErr != nil {
			return errors.Join(err, sendErr)
		}
		return err
	}

	_, err = ch.out.SendToUser(entry.UserID, mqtmodels.LatestDataEnvelope{
		Type:      mqtmodels.EnvelopeLatestData,
		Data:      data,
		Timestamp: mqtmodels.Timestamp(ch.now()),
	})
	return err
}

// LatestSnapshot reads the newest dht, motion and action records of a user.
// Kinds without a record keep their zero defaults.
func LatestSnapshot(ctx context.Context, store interfaces.LatestFetcher, userID int64) (mqtmodels.LatestData, error) {
	dht, err := store.FetchLatest(ctx, mqtmodels.KindDht, userID)
	if err != nil {
		return mqtmodels.LatestData{}, fmt.Errorf("latest dht: %w", err)
	}
	motion, err := store.FetchLatest(ctx, mqtmodels.KindMotion, userID)
	if err != nil {
		return mqtmodels.LatestData{}, fmt.Errorf("latest motion: %w", err)
	}
	action, err := store.FetchLatest(ctx, mqtmodels.KindAction, userID)
	if err != nil {
		return mqtmodels.LatestData{}, fmt.Errorf("latest action: %w", err)
	}
	return mqtmodels.NewLatestData(dht, motion, action), nil
}

// reject answers conn with the message carried by a ValidationError
func (ch *Channel) reject(conn registry.Conn, err error) error {
	message := mqtmodels.MsgInvalidFormat
	var verr *mqtmodels.ValidationError
	if errors.As(err, &verr) {
		message = verr.Message
	}
	ch.log.Logger.Debug().Str("conn_id", conn.ID()).Str("reason", message).Msg("Rejected viewer frame")
	if sendErr := ch.out.SendTo(conn, mqtmodels.NewErrorEnvelope(message)); sendErr != nil {
		return errors.Join(err, sendErr)
	}
	return err
}
