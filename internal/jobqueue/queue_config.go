package jobqueue

import (
	"time"

	"github.com/riverqueue/river"
)

// Queue drivers selectable in configuration.
const (
	DriverGoroutine = "goroutine"
	DriverRiver     = "river"
)

// QueueConfig holds the tunables shared by both dispatchers.
type QueueConfig struct {
	// MaxWorkers bounds concurrently executing runs (default: 4).
	MaxWorkers int
	// JobTimeout bounds one run. River cancels the job context after it;
	// its own default of one minute is too short for a reasoning call.
	JobTimeout time.Duration
	// Queue is the river queue analyses are inserted into.
	Queue string
}

// DefaultQueueConfig returns the default configuration
func DefaultQueueConfig() QueueConfig {
	return QueueConfig{
		MaxWorkers: 4,
		JobTimeout: 10 * time.Minute,
		Queue:      river.QueueDefault,
	}
}

func (c QueueConfig) withDefaults() QueueConfig {
	d := DefaultQueueConfig()
	if c.MaxWorkers <= 0 {
		c.MaxWorkers = d.MaxWorkers
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = d.JobTimeout
	}
	if c.Queue == "" {
		c.Queue = d.Queue
	}
	return c
}

// RiverQueueConfig converts our config to River's queue configuration format
func (c QueueConfig) RiverQueueConfig() map[string]river.QueueConfig {
	return map[string]river.QueueConfig{
		c.Queue: {MaxWorkers: c.MaxWorkers},
	}
}
