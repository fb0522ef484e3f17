package scheduler

import (
	"time"

	"github.com/govwatch/archive/go/catalog"
)

// Config is the scheduler configuration.
type Config struct {
	MaxConcurrentCrawls int           `long:"max-concurrent-crawls" env:"MAX_CONCURRENT_CRAWLS" default:"3" description:"Upper bound on concurrently running captures"`
	ProcessingInterval  time.Duration `long:"processing-interval" env:"QUEUE_PROCESSING_INTERVAL" default:"10s" description:"Spacing between scheduling ticks"`
	ShutdownGrace       time.Duration `long:"shutdown-grace" env:"SHUTDOWN_GRACE_PERIOD" default:"30s" description:"Window granted to in-flight captures to finish after a stop signal"`

	HighThreshold   int           `long:"high-priority-threshold" env:"HIGH_PRIORITY_THRESHOLD" default:"1" description:"Site priorities at or below this re-check on the high-priority interval"`
	NormalThreshold int           `long:"normal-priority-threshold" env:"NORMAL_PRIORITY_THRESHOLD" default:"3" description:"Site priorities at or below this re-check on the normal-priority interval"`
	HighInterval    time.Duration `long:"high-priority-interval" env:"HIGH_PRIORITY_INTERVAL" default:"168h" description:"Re-check interval of high-priority sites"`
	NormalInterval  time.Duration `long:"normal-priority-interval" env:"NORMAL_PRIORITY_INTERVAL" default:"336h" description:"Re-check interval of normal-priority sites"`
	LowInterval     time.Duration `long:"low-priority-interval" env:"LOW_PRIORITY_INTERVAL" default:"720h" description:"Re-check interval of low-priority sites"`
}

// Tiers projects the configuration onto the catalog's tier mapping.
func (c Config) Tiers() catalog.Tiers {
	return catalog.Tiers{
		HighThreshold:   c.HighThreshold,
		NormalThreshold: c.NormalThreshold,
		HighInterval:    c.HighInterval,
		NormalInterval:  c.NormalInterval,
		LowInterval:     c.LowInterval,
	}
}
