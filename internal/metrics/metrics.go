package metrics

import (
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/uber-go/tally/v4"
	tallyprom "github.com/uber-go/tally/v4/prometheus"
)

// Config holds metrics configuration
type Config struct {
	Prometheus    bool
	Prefix        string
	FlushInterval time.Duration
}

// DefaultConfig returns default metrics configuration
func DefaultConfig() *Config {
	return &Config{
		Prometheus:    true,
		Prefix:        "yarn_ec2",
		FlushInterval: time.Second,
	}
}

// InitScope creates the root metrics scope and its closer. The returned handler serves the
// prometheus exposition format and is nil when prometheus is disabled.
func InitScope(cfg *Config, log *logrus.Entry) (tally.Scope, io.Closer, http.Handler) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	if !cfg.Prometheus {
		log.Warn("No metrics backend configured, metrics are discarded")
		return tally.NoopScope, nopCloser{}, nil
	}

	// tally panics if scope name contains "-"
	prefix := strings.ReplaceAll(cfg.Prefix, "-", "_")

	reporter := tallyprom.NewReporter(tallyprom.Options{})
	scope, closer := tally.NewRootScope(tally.ScopeOptions{
		Prefix:         prefix,
		Tags:           map[string]string{},
		CachedReporter: reporter,
		Separator:      tallyprom.DefaultSeparator,
	}, cfg.FlushInterval)

	log.Info("Prometheus metrics enabled")
	return scope, closer, reporter.HTTPHandler()
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
