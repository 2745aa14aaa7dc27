package reactor

import (
	"os"
	"strings"

	"github.com/corenet-io/reactor/internal/demux"
)

// Feature mirrors demux.Feature so callers can express backend
// requirements without importing the internal package.
type Feature = demux.Feature

const (
	FeatureEdgeTriggered = demux.FeatureEdgeTriggered
	FeatureO1            = demux.FeatureO1
	FeatureArbitraryFD   = demux.FeatureArbitraryFD
)

// Config configures a new Reactor (spec §4.3, §6 "Configuration
// options enumerated").
type Config struct {
	// NoLock is stored but not read: the reactor takes its internal
	// lock whether or not it is set.
	NoLock bool
	// IgnoreEnv suppresses NO<BACKEND> environment-variable overrides.
	IgnoreEnv bool
	// NoCacheTime forces a syscall on every time query.
	NoCacheTime bool
	// RequireFeatures filters eligible demultiplexer back-ends.
	RequireFeatures Feature
	// Avoid lists backend names (by demux.Backend.Name()) that must
	// not be selected, regardless of environment overrides.
	Avoid []string
	// Priorities sets the initial number of activation-queue
	// priority levels (default 3 if zero).
	Priorities int
}

// DefaultConfig returns a Config with the teacher's conservative
// defaults: locking enabled, environment overrides honored, time
// cached, 3 priority levels.
func DefaultConfig() *Config {
	return &Config{Priorities: 3}
}

// Option mutates a Config. New takes no options; an Option takes effect
// only when applied to a Config that is then passed to NewWithConfig.
type Option func(*Config)

func WithNoLock() Option             { return func(c *Config) { c.NoLock = true } }
func WithIgnoreEnv() Option          { return func(c *Config) { c.IgnoreEnv = true } }
func WithNoCacheTime() Option        { return func(c *Config) { c.NoCacheTime = true } }
func WithPriorities(n int) Option    { return func(c *Config) { c.Priorities = n } }
func WithRequireFeatures(f Feature) Option {
	return func(c *Config) { c.RequireFeatures = f }
}
func WithAvoidMethod(name string) Option {
	return func(c *Config) { c.Avoid = append(c.Avoid, name) }
}

// envAvoidSet builds the backend-name avoid set from both cfg.Avoid
// and NO<NAME> environment variables (spec §6), unless IgnoreEnv.
func envAvoidSet(cfg *Config, candidateNames []string) map[string]bool {
	avoid := make(map[string]bool, len(cfg.Avoid))
	for _, n := range cfg.Avoid {
		avoid[strings.ToLower(n)] = true
	}
	if cfg.IgnoreEnv {
		return avoid
	}
	for _, name := range candidateNames {
		envName := "NO" + strings.ToUpper(name)
		if v := os.Getenv(envName); v != "" {
			avoid[name] = true
		}
	}
	if os.Getenv("SHOW_METHOD") != "" {
		// Printed by the reactor after a backend is chosen; see reactor.go New.
	}
	return avoid
}
