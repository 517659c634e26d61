package config

import (
	"fmt"
	"time"
)

const (
	EnvEngineMaxAttempts    = "SITEGRAPH_ENGINE_MAX_ATTEMPTS"
	EnvEngineBackoffInitial = "SITEGRAPH_ENGINE_BACKOFF_INITIAL"
	EnvEngineBackoffMax     = "SITEGRAPH_ENGINE_BACKOFF_MAX"
	EnvEngineNodeTimeout    = "SITEGRAPH_ENGINE_NODE_TIMEOUT"
	EnvEngineWorkerLimit    = "SITEGRAPH_ENGINE_WORKER_LIMIT"
	EnvEngineAnswerWait     = "SITEGRAPH_ENGINE_ANSWER_WAIT"
	EnvEngineRecoverEvery   = "SITEGRAPH_ENGINE_RECOVER_EVERY"
)

// EngineConfig bounds node retries, per-call timeouts, and fan-out width.
type EngineConfig struct {
	MaxAttempts    int    `toml:"max_attempts"`
	BackoffInitial string `toml:"backoff_initial"`
	BackoffMax     string `toml:"backoff_max"`
	NodeTimeout    string `toml:"node_timeout"`
	// WorkerLimit caps concurrently executing nodes per run. Zero uses the CPU count.
	WorkerLimit int `toml:"worker_limit"`
	// AnswerWait is how long a question submission waits for its answer.
	AnswerWait string `toml:"answer_wait"`
	// RecoverEvery is how often a server re-dispatches runs left running,
	// such as those a CLI process stopped mid-run.
	RecoverEvery string `toml:"recover_every"`
}

func (c *EngineConfig) BackoffInitialDuration() time.Duration {
	d, _ := time.ParseDuration(c.BackoffInitial)
	return d
}

func (c *EngineConfig) BackoffMaxDuration() time.Duration {
	d, _ := time.ParseDuration(c.BackoffMax)
	return d
}

func (c *EngineConfig) NodeTimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(c.NodeTimeout)
	return d
}

func (c *EngineConfig) AnswerWaitDuration() time.Duration {
	d, _ := time.ParseDuration(c.AnswerWait)
	return d
}

func (c *EngineConfig) RecoverEveryDuration() time.Duration {
	d, _ := time.ParseDuration(c.RecoverEvery)
	return d
}

// Finalize applies defaults, environment variable overrides, and validation.
func (c *EngineConfig) Finalize() error {
	c.loadDefaults()
	c.loadEnv()
	return c.validate()
}

// Merge overwrites non-zero fields from overlay.
func (c *EngineConfig) Merge(overlay *EngineConfig) {
	if overlay.MaxAttempts != 0 {
		c.MaxAttempts = overlay.MaxAttempts
	}
	if overlay.BackoffInitial != "" {
		c.BackoffInitial = overlay.BackoffInitial
	}
	if overlay.BackoffMax != "" {
		c.BackoffMax = overlay.BackoffMax
	}
	if overlay.NodeTimeout != "" {
		c.NodeTimeout = overlay.NodeTimeout
	}
	if overlay.WorkerLimit != 0 {
		c.WorkerLimit = overlay.WorkerLimit
	}
	if overlay.AnswerWait != "" {
		c.AnswerWait = overlay.AnswerWait
	}
	if overlay.RecoverEvery != "" {
		c.RecoverEvery = overlay.RecoverEvery
	}
}

func (c *EngineConfig) loadDefaults() {
	if c.MaxAttempts == 0 {
		c.MaxAttempts = 3
	}
	if c.BackoffInitial == "" {
		c.BackoffInitial = "500ms"
	}
	if c.BackoffMax == "" {
		c.BackoffMax = "10s"
	}
	if c.NodeTimeout == "" {
		c.NodeTimeout = "2m"
	}
	if c.AnswerWait == "" {
		c.AnswerWait = "30s"
	}
	if c.RecoverEvery == "" {
		c.RecoverEvery = "1m"
	}
}

func (c *EngineConfig) loadEnv() {
	envInt(EnvEngineMaxAttempts, &c.MaxAttempts)
	envString(EnvEngineBackoffInitial, &c.BackoffInitial)
	envString(EnvEngineBackoffMax, &c.BackoffMax)
	envString(EnvEngineNodeTimeout, &c.NodeTimeout)
	envInt(EnvEngineWorkerLimit, &c.WorkerLimit)
	envString(EnvEngineAnswerWait, &c.AnswerWait)
	envString(EnvEngineRecoverEvery, &c.RecoverEvery)
}

func (c *EngineConfig) validate() error {
	if c.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be at least 1: %d", c.MaxAttempts)
	}
	if c.WorkerLimit < 0 {
		return fmt.Errorf("invalid worker_limit: %d", c.WorkerLimit)
	}
	durations := []struct {
		name  string
		value string
	}{
		{"backoff_initial", c.BackoffInitial},
		{"backoff_max", c.BackoffMax},
		{"node_timeout", c.NodeTimeout},
		{"answer_wait", c.AnswerWait},
		{"recover_every", c.RecoverEvery},
	}
	for _, d := range durations {
		if _, err := time.ParseDuration(d.value); err != nil {
			return fmt.Errorf("invalid %s: %w", d.name, err)
		}
	}
	if c.RecoverEveryDuration() <= 0 {
		return fmt.Errorf("recover_every must be positive: %s", c.RecoverEvery)
	}
	if c.BackoffInitialDuration() > c.BackoffMaxDuration() {
		return fmt.Errorf("backoff_initial %s exceeds backoff_max %s", c.BackoffInitial, c.BackoffMax)
	}
	return nil
}
