package config

// WorkerConfig describes one worker slot the demo scheduler dispatches to.
type WorkerConfig struct {
	Concurrency int            `json:"concurrency,omitempty"` // dispatch slots for this worker; loaded and saved, but cmd/meshsched gives every worker SchedulerConfig.Concurrency
	Locality    map[string]int `json:"locality,omitempty"`     // task id -> affinity score; loaded and saved, but not applied by cmd/meshsched
}

// RetryBackoffConfig configures the delay before a generically failed task
// rejoins the executable set.
type RetryBackoffConfig struct {
	InitialInterval string  `json:"initial_interval,omitempty"` // duration string, e.g. "50ms"
	MaxInterval     string  `json:"max_interval,omitempty"`
	Multiplier      float64 `json:"multiplier,omitempty"`
}

// SchedulerConfig is the top-level configuration for a scheduler run.
type SchedulerConfig struct {
	Concurrency  int                     `json:"concurrency,omitempty"` // default per-worker dispatch slots
	Attempts     int                     `json:"attempts,omitempty"`    // max executions per task before terminal failure
	RetryBackoff RetryBackoffConfig      `json:"retry_backoff,omitempty"`
	Workers      map[string]WorkerConfig `json:"workers"`
}
