package cfg

import (
	"os"
	"strconv"
	"sync/atomic"
	"time"
)

// MinPollIntervalEnv names the environment variable holding the wait-next floor in nanoseconds
const MinPollIntervalEnv = "DB2Q_MIN_POLL_INTERVAL_NS"

// DefaultMinPollInterval applies when the environment does not set a usable floor
const DefaultMinPollInterval = time.Millisecond

// Zero means not yet computed. Concurrent first readers may each compute the value;
// they store the same result.
var minPollInterval atomic.Int64

// MinimumPollInterval returns the process-wide lower bound for wait-next intervals.
// The environment is consulted on first use only.
func MinimumPollInterval() time.Duration {
	if v := minPollInterval.Load(); v > 0 {
		return time.Duration(v)
	}
	d := parseMinPollInterval(os.Getenv(MinPollIntervalEnv))
	minPollInterval.Store(int64(d))
	return d
}

func parseMinPollInterval(raw string) time.Duration {
	if raw == "" {
		return DefaultMinPollInterval
	}
	ns, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || ns <= 0 {
		return DefaultMinPollInterval
	}
	return time.Duration(ns)
}

// ClampInterval raises d to the minimum poll interval
func ClampInterval(d time.Duration) time.Duration {
	if floor := MinimumPollInterval(); d < floor {
		return floor
	}
	return d
}

// resetMinPollInterval forgets the cached floor so tests can change the environment
func resetMinPollInterval() {
	minPollInterval.Store(0)
}
