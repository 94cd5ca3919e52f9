package drawing

import "time"

type Config struct {
	Interval  time.Duration
	BatchSize int

	// PendingRetryAfter is how long a drawing may sit in pending before
	// another pass treats its worker as dead and resumes it.
	PendingRetryAfter time.Duration
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = time.Minute
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
	if c.PendingRetryAfter <= 0 {
		c.PendingRetryAfter = 10 * time.Minute
	}
	return c
}
