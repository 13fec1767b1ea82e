package ecs

import (
	"fmt"
	"time"

	"github.com/TheBitDrifter/table"
	"github.com/spf13/viper"
)

// Config holds global configuration for the table system plus the
// engine-wide tunables in Config.Engine.
var Config config = config{
	Engine: defaultEngineConfig(),
}

type config struct {
	tableEvents table.TableEvents
	Engine      EngineConfig
}

// SetTableEvents configures the table event callbacks
func (c *config) SetTableEvents(te table.TableEvents) {
	c.tableEvents = te
}

// EngineConfig holds process-wide tunables for the event bus, scheduler,
// and worker entity systems.
type EngineConfig struct {
	// DefaultListenerCap bounds how many handlers a single event type may
	// register before EventBus.On starts returning ListenerLimitExceededError.
	DefaultListenerCap int

	// DefaultBatchSize is how many pending events trigger an automatic
	// drain of a batched event type whose BatchConfig.BatchSize is zero.
	DefaultBatchSize int

	// DefaultBatchInterval is the flush cadence for batched event types
	// that are drained on a timer rather than an explicit Flush call.
	DefaultBatchInterval time.Duration

	// WorkerDispatchMode controls what a Worker Entity System does when a
	// new batch is requested while one is already in flight: "skip" drops
	// the new request, "queue" holds the latest one request for dispatch
	// once the in-flight batch completes.
	WorkerDispatchMode string
}

func defaultEngineConfig() EngineConfig {
	return EngineConfig{
		DefaultListenerCap:    100,
		DefaultBatchSize:      64,
		DefaultBatchInterval:  16 * time.Millisecond,
		WorkerDispatchMode:    "skip",
	}
}

// LoadEngineConfig reads EngineConfig overrides from path (any format
// viper supports: yaml, json, toml, ...) and installs them as Config.Engine.
// Unset keys keep their current value as the default.
func LoadEngineConfig(path string) error {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetDefault("listenerCap", Config.Engine.DefaultListenerCap)
	v.SetDefault("batchSize", Config.Engine.DefaultBatchSize)
	v.SetDefault("batchIntervalMs", int(Config.Engine.DefaultBatchInterval/time.Millisecond))
	v.SetDefault("workerDispatchMode", Config.Engine.WorkerDispatchMode)

	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("load engine config: %w", err)
	}

	Config.Engine = EngineConfig{
		DefaultListenerCap:   v.GetInt("listenerCap"),
		DefaultBatchSize:     v.GetInt("batchSize"),
		DefaultBatchInterval: time.Duration(v.GetInt("batchIntervalMs")) * time.Millisecond,
		WorkerDispatchMode:   v.GetString("workerDispatchMode"),
	}
	return nil
}
