package mqtingestor

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	config "gitlab.com/maplesense1/smarthome.telemetry_server/src/production/MQT.Config"
	correlation "gitlab.com/maplesense1/smarthome.telemetry_server/src/production/MQT.Correlation"
	logger "gitlab.com/maplesense1/smarthome.telemetry_server/src/production/MQT.Logger"
	mqtmodels "gitlab.com/maplesense1/smarthome.telemetry_server/src/production/MQT.Models"
)

var ErrNotConnected = fmt.Errorf("mqtt client is not connected: %w", mqtmodels.ErrTransientIO)

// subscribedSensors is the fixed set of device topics, relative to the prefix
var subscribedSensors = []mqtmodels.Sensor{
	mqtmodels.SensorTemperature,
	mqtmodels.SensorHumidity,
	mqtmodels.SensorMotion,
}

// Correlator is the part of the correlation cache the ingestor feeds
type Correlator interface {
	UpdateDht(ctx context.Context, userID int64, sensor mqtmodels.Sensor, value float64) (correlation.Result, error)
	UpdateMotion(ctx context.Context, userID int64, value int) (correlation.Result, error)
}

// Broadcaster fans an envelope out to every open viewer socket
type Broadcaster interface {
	Broadcast(envelope interface{}) (int, error)
}

type rawMessage struct {
	topic      string
	payload    []byte
	receivedAt time.Time
}

// Stats are cumulative message counters since start
type Stats struct {
	Received      int64 `json:"received"`
	Processed     int64 `json:"processed"`
	QueueDropped  int64 `json:"queue_dropped"`
	ParseFailures int64 `json:"parse_failures"`
}

// Ingestor owns the MQTT session: it subscribes to the device topics, turns
// each message into cache updates for every active user and broadcasts it once
type Ingestor struct {
	cfg        config.MQTTConfig
	cache      Correlator
	out        Broadcaster
	mqttClient mqtt.Client
	newClient  func(*mqtt.ClientOptions) mqtt.Client
	logger     *logger.Logger
	now        func() time.Time

	connected atomic.Bool

	// queueMu guards the queues against sends after Stop closed them
	queueMu sync.RWMutex
	queues  map[string]chan rawMessage
	stopped bool
	wg      sync.WaitGroup

	presenceMu sync.RWMutex
	presence   map[int64]int

	received      atomic.Int64
	processed     atomic.Int64
	queueDropped  atomic.Int64
	parseFailures atomic.Int64
}

type Option func(*Ingestor)

// WithClientFactory replaces mqtt.NewClient
func WithClientFactory(f func(*mqtt.ClientOptions) mqtt.Client) Option {
	return func(i *Ingestor) { i.newClient = f }
}

func WithClock(now func() time.Time) Option {
	return func(i *Ingestor) { i.now = now }
}

func New(cfg config.MQTTConfig, cache Correlator, out Broadcaster, log *logger.Logger, opts ...Option) *Ingestor {
	if log == nil {
		log = logger.NewNopLogger()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	i := &Ingestor{
		cfg:       cfg,
		cache:     cache,
		out:       out,
		newClient: mqtt.NewClient,
		logger:    log.WithComponent("ingestor"),
		now:       time.Now,
		queues:    make(map[string]chan rawMessage, len(subscribedSensors)),
		presence:  make(map[int64]int),
	}
	for _, opt := range opts {
		opt(i)
	}
	for _, sensor := range subscribedSensors {
		i.queues[i.Topic(sensor)] = make(chan rawMessage, cfg.QueueSize)
	}
	return i
}

// Topic returns the full topic string for a sensor
func (i *Ingestor) Topic(sensor mqtmodels.Sensor) string {
	return i.cfg.TopicPrefix + string(sensor)
}

// Start connects to the broker and starts one worker per subscribed topic.
// The client keeps reconnecting on its own afterwards; Start only fails when
// no connection is made within the connect timeout.
func (i *Ingestor) Start(ctx context.Context) error {
	opts := mqtt.NewClientOptions().
		AddBroker(i.cfg.GetMQTTBrokerURL()).
		SetClientID(i.cfg.ClientID).
		SetOrderMatters(true).
		SetKeepAlive(i.cfg.KeepAlive).
		SetPingTimeout(i.cfg.PingTimeout).
		SetConnectTimeout(i.cfg.ConnectTimeout).
		SetAutoReconnect(true).
		SetMaxReconnectInterval(i.cfg.ReconnectPeriod).
		SetConnectRetry(true).
		SetConnectRetryInterval(i.cfg.ReconnectPeriod).
		SetCleanSession(true)

	if i.cfg.BrokerUser != "" {
		opts.SetUsername(i.cfg.BrokerUser)
		opts.SetPassword(i.cfg.BrokerPass)
	}

	if i.cfg.UseTLS {
		tlsCfg, err := i.tlsConfig(i.cfg.CACertPath)
		if err != nil {
			return fmt.Errorf("mqtt tls: %w: %w", mqtmodels.ErrStartup, err)
		}
		opts.SetTLSConfig(tlsCfg)
	}

	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		i.connected.Store(false)
		i.logger.Logger.Error().Err(err).Msg("MQTT connection lost")
	}
	opts.OnReconnecting = func(_ mqtt.Client, _ *mqtt.ClientOptions) {
		i.connected.Store(false)
		i.logger.Logger.Warn().Msg("MQTT reconnecting")
	}
	opts.OnConnect = func(c mqtt.Client) {
		i.connected.Store(true)
		i.subscribe(c)
	}

	i.mqttClient = i.newClient(opts)

	// workers outlive ctx: Stop drains the queues, and those writes must
	// still reach the store after a shutdown signal cancelled ctx
	workCtx := context.WithoutCancel(ctx)
	for topic, queue := range i.queues {
		i.wg.Add(1)
		go func(topic string, queue chan rawMessage) {
			defer i.wg.Done()
			i.worker(workCtx, topic, queue)
		}(topic, queue)
	}

	tk := i.mqttClient.Connect()
	if !tk.WaitTimeout(i.cfg.ConnectTimeout) {
		i.Stop()
		return fmt.Errorf("mqtt connect to %s timed out after %s: %w", i.cfg.GetMQTTBrokerURL(), i.cfg.ConnectTimeout, mqtmodels.ErrStartup)
	}
	if err := tk.Error(); err != nil {
		i.Stop()
		return fmt.Errorf("mqtt connect: %w: %w", mqtmodels.ErrStartup, err)
	}
	return nil
}

func (i *Ingestor) subscribe(c mqtt.Client) {
	filters := make(map[string]byte, len(subscribedSensors))
	for _, sensor := range subscribedSensors {
		filters[i.Topic(sensor)] = byte(i.cfg.QoS)
	}
	i.logger.Logger.Info().Strs("topics", sortedKeys(filters)).Msg("MQTT connected, subscribing to topics")
	if token := c.SubscribeMultiple(filters, i.onMessage); token.Wait() && token.Error() != nil {
		i.logger.Logger.Error().Err(token.Error()).Msg("Failed to subscribe to MQTT topics")
	}
}

// Stop disconnects from the broker and waits for queued messages to drain
func (i *Ingestor) Stop() {
	if i.mqttClient != nil && i.mqttClient.IsConnected() {
		i.mqttClient.Disconnect(250)
	}
	i.connected.Store(false)

	i.queueMu.Lock()
	if !i.stopped {
		i.stopped = true
		for _, q := range i.queues {
			close(q)
		}
	}
	i.queueMu.Unlock()
	i.wg.Wait()
}

func (i *Ingestor) IsConnected() bool {
	return i.connected.Load()
}

// onMessage runs on the paho router goroutine and must not block: it only
// enqueues onto the topic's queue
func (i *Ingestor) onMessage(_ mqtt.Client, m mqtt.Message) {
	i.enqueue(m.Topic(), m.Payload())
}

func (i *Ingestor) enqueue(topic string, payload []byte) bool {
	i.received.Add(1)

	i.queueMu.RLock()
	defer i.queueMu.RUnlock()
	if i.stopped {
		return false
	}
	queue, ok := i.queues[topic]
	if !ok {
		i.logger.Logger.Warn().Str("topic", topic).Msg("Message on unexpected topic")
		return false
	}

	msg := rawMessage{topic: topic, payload: append([]byte(nil), payload...), receivedAt: i.now()}
	select {
	case queue <- msg:
		return true
	default:
		i.queueDropped.Add(1)
		i.logger.Logger.Warn().Str("topic", topic).Msg("Ingest queue full, dropping message")
		return false
	}
}

func (i *Ingestor) worker(ctx context.Context, topic string, queue <-chan rawMessage) {
	for msg := range queue {
		i.Ingest(ctx, msg.topic, msg.payload)
	}
	i.logger.Logger.Debug().Str("topic", topic).Msg("Ingest worker stopped")
}

// Ingest processes one device message: every active user gets the reading
// fed into the correlation cache, then the raw value is broadcast once
func (i *Ingestor) Ingest(ctx context.Context, topic string, payload []byte) {
	defer i.processed.Add(1)

	sensor, ok := i.sensorFor(topic)
	if !ok {
		i.logger.Logger.Warn().Str("topic", topic).Msg("Ignoring message on unknown topic")
		return
	}
	value := string(payload)
	log := i.logger.WithField("topic", topic)

	if users := i.ActiveUsers(); len(users) > 0 {
		i.correlate(ctx, log, sensor, value, users)
	} else {
		log.Debug("No active users, reading not attributed")
	}

	if _, err := i.out.Broadcast(mqtmodels.NewSensorDataEnvelope(topic, value, i.now())); err != nil {
		log.ErrorWithError(err, "Failed to broadcast sensor data")
	}
}

func (i *Ingestor) correlate(ctx context.Context, log *logger.Logger, sensor mqtmodels.Sensor, value string, users []int64) {
	switch sensor {
	case mqtmodels.SensorTemperature, mqtmodels.SensorHumidity:
		v, err := ParseReading(value)
		if err != nil {
			i.parseFailures.Add(1)
			log.Logger.Warn().Err(err).Str("payload", value).Msg("Dropping non-numeric reading")
			return
		}
		for _, userID := range users {
			if _, err := i.cache.UpdateDht(ctx, userID, sensor, v); err != nil {
				log.WithUser(userID).Logger.Debug().Err(err).Msg("dht update failed")
			}
		}
	case mqtmodels.SensorMotion:
		v, err := ParseMotion(value)
		if err != nil {
			i.parseFailures.Add(1)
			log.Logger.Warn().Err(err).Str("payload", value).Msg("Dropping non-numeric motion value")
			return
		}
		for _, userID := range users {
			if _, err := i.cache.UpdateMotion(ctx, userID, v); err != nil {
				log.WithUser(userID).Logger.Debug().Err(err).Msg("motion update failed")
			}
		}
	}
}

func (i *Ingestor) sensorFor(topic string) (mqtmodels.Sensor, bool) {
	if !strings.HasPrefix(topic, i.cfg.TopicPrefix) {
		return "", false
	}
	sensor := mqtmodels.Sensor(strings.TrimPrefix(topic, i.cfg.TopicPrefix))
	for _, s := range subscribedSensors {
		if s == sensor {
			return sensor, true
		}
	}
	return "", false
}

// PublishCommand sends value to the sensor's command topic. It fails fast
// with ErrNotConnected while the broker is unreachable.
func (i *Ingestor) PublishCommand(ctx context.Context, sensor mqtmodels.Sensor, value string) error {
	if i.mqttClient == nil || !i.IsConnected() {
		i.logger.Logger.Warn().Str("sensor", string(sensor)).Msg("MQTT not connected, command not published")
		return ErrNotConnected
	}

	topic := i.Topic(sensor)
	token := i.mqttClient.Publish(topic, byte(i.cfg.QoS), false, value)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return fmt.Errorf("publish %s: %w: %w", topic, mqtmodels.ErrTransientIO, ctx.Err())
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w: %w", topic, mqtmodels.ErrTransientIO, err)
	}
	i.logger.Logger.Info().Str("topic", topic).Str("value", value).Msg("Published command")
	return nil
}

// UserConnected marks a user active; readings are attributed to it while at
// least one of its sockets is authenticated
func (i *Ingestor) UserConnected(userID int64) {
	i.presenceMu.Lock()
	defer i.presenceMu.Unlock()
	i.presence[userID]++
}

func (i *Ingestor) UserDisconnected(userID int64) {
	i.presenceMu.Lock()
	defer i.presenceMu.Unlock()
	if i.presence[userID] <= 1 {
		delete(i.presence, userID)
		return
	}
	i.presence[userID]--
}

// ActiveUsers returns the distinct active user ids in ascending order
func (i *Ingestor) ActiveUsers() []int64 {
	i.presenceMu.RLock()
	users := make([]int64, 0, len(i.presence))
	for id := range i.presence {
		users = append(users, id)
	}
	i.presenceMu.RUnlock()
	sort.Slice(users, func(a, b int) bool { return users[a] < users[b] })
	return users
}

func (i *Ingestor) Stats() Stats {
	return Stats{
		Received:      i.received.Load(),
		Processed:     i.processed.Load(),
		QueueDropped:  i.queueDropped.Load(),
		ParseFailures: i.parseFailures.Load(),
	}
}

func (i *Ingestor) tlsConfig(caFile string) (*tls.Config, error) {
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if caFile == "" {
		return cfg, nil
	}
	ca, err := os.ReadFile(caFile)
	if err != nil {
		return nil, err
	}
	cp := x509.NewCertPool()
	if !cp.AppendCertsFromPEM(ca) {
		return nil, errors.New("bad CA file")
	}
	cfg.RootCAs = cp
	return cfg, nil
}

func sortedKeys(m map[string]byte) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
