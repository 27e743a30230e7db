package config

// DefaultConfig returns the default configuration: a single worker, serial
// per-worker dispatch, and one attempt per task (no automatic retries).
func DefaultConfig() *SchedulerConfig {
	return &SchedulerConfig{
		Concurrency: 1,
		Attempts:    1,
		RetryBackoff: RetryBackoffConfig{
			InitialInterval: "0s",
		},
		Workers: map[string]WorkerConfig{
			"worker-1": {Concurrency: 1},
		},
	}
}
