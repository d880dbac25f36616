package pipeline

import (
	"context"
	"sync"

	broadcast "gitlab.com/maplesense1/smarthome.telemetry_server/src/production/MQT.Broadcast"
	command "gitlab.com/maplesense1/smarthome.telemetry_server/src/production/MQT.Command"
	config "gitlab.com/maplesense1/smarthome.telemetry_server/src/production/MQT.Config"
	correlation "gitlab.com/maplesense1/smarthome.telemetry_server/src/production/MQT.Correlation"
	mqtingestor "gitlab.com/maplesense1/smarthome.telemetry_server/src/production/MQT.IngestorService/ingestor"
	logger "gitlab.com/maplesense1/smarthome.telemetry_server/src/production/MQT.Logger"
	registry "gitlab.com/maplesense1/smarthome.telemetry_server/src/production/MQT.Registry"
	interfaces "gitlab.com/maplesense1/smarthome.telemetry_server/src/production/MQT.Repository/Interfaces"
)

// Pipeline owns the shared state of the telemetry path: the correlation
// cache and the connection registry, plus the components wired around them.
// Build one per process and hand it to the HTTP layer.
type Pipeline struct {
	cfg *config.Config
	log *logger.Logger

	Store       interfaces.ReadingRepository
	Cache       *correlation.Cache
	Registry    *registry.Registry
	Broadcaster *broadcast.Broadcaster
	Ingestor    *mqtingestor.Ingestor
	Commands    *command.Channel

	sweepCancel context.CancelFunc
	sweepWG     sync.WaitGroup
}

// Options tweak construction, tests use them to inject fakes
type Options struct {
	CacheOptions    []correlation.Option
	IngestorOptions []mqtingestor.Option
}

func New(cfg *config.Config, store interfaces.ReadingRepository, log *logger.Logger, opts Options) *Pipeline {
	if log == nil {
		log = logger.NewNopLogger()
	}

	cacheOpts := append([]correlation.Option{
		correlation.WithMotionWindow(cfg.Pipeline.MotionWindow),
		correlation.WithLogger(log),
	}, opts.CacheOptions...)
	cache := correlation.NewCache(store, cacheOpts...)

	reg := registry.New(log)
	out := broadcast.New(reg, log)
	ing := mqtingestor.New(cfg.MQTT, cache, out, log, opts.IngestorOptions...)
	reg.AddObserver(ing)

	return &Pipeline{
		cfg:         cfg,
		log:         log.WithComponent("pipeline"),
		Store:       store,
		Cache:       cache,
		Registry:    reg,
		Broadcaster: out,
		Ingestor:    ing,
		Commands:    command.NewChannel(reg, out, ing, store, log),
	}
}

// Start connects the ingestor and, when an idle TTL is configured, starts
// the cache sweeper
func (p *Pipeline) Start(ctx context.Context) error {
	if err := p.Ingestor.Start(ctx); err != nil {
		return err
	}

	if ttl := p.cfg.Pipeline.CacheIdleTTL; ttl > 0 {
		sweepCtx, cancel := context.WithCancel(ctx)
		p.sweepCancel = cancel
		p.sweepWG.Add(1)
		go func() {
			defer p.sweepWG.Done()
			p.Cache.Run(sweepCtx, ttl, p.cfg.Pipeline.CacheSweepInterval)
		}()
		p.log.Logger.Info().Dur("ttl", ttl).Msg("Cache eviction enabled")
	}

	p.log.Info("Pipeline started")
	return nil
}

// Stop drains the MQTT session first so queued readings are still
// attributed to the viewers present, then closes every viewer socket and
// the sweeper
func (p *Pipeline) Stop() {
	p.Ingestor.Stop()
	p.Registry.CloseAll()
	if p.sweepCancel != nil {
		p.sweepCancel()
	}
	p.sweepWG.Wait()
	p.log.Info("Pipeline stopped")
}

// Status is the read-only view served by the debug endpoint
type Status struct {
	MQTTConnected bool                      `json:"mqtt_connected"`
	Connections   int                       `json:"connections"`
	ActiveUsers   []int64                   `json:"active_users"`
	Cache         correlation.Snapshot      `json:"cache"`
	Ingest        mqtingestor.Stats         `json:"ingest"`
	Live          []registry.LiveConnection `json:"live"`
}

func (p *Pipeline) Status() Status {
	return Status{
		MQTTConnected: p.Ingestor.IsConnected(),
		Connections:   p.Registry.Count(),
		ActiveUsers:   p.Ingestor.ActiveUsers(),
		Cache:         p.Cache.Snapshot(),
		Ingest:        p.Ingestor.Stats(),
		Live:          p.Registry.Entries(),
	}
}
