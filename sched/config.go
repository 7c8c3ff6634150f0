package sched

import (
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/coresched/vgsched/sched/vglog"
)

// Default fixed-capacity limits and timing constants. All are compile-time
// in spirit (spec.md §6 "Capacity limits"): Config just makes the constants
// visible to embedders and tests instead of baking them into #defines.
const (
	DefaultMaxThreads  = 256
	DefaultMaxMutexes  = 1024
	DefaultMaxSems     = 256
	DefaultMaxRWLocks  = 256
	DefaultMaxFDWaits  = 1024
	DefaultMaxKeys     = 128
	DefaultMaxConds    = 1024
	DefaultQuantum     = 10000 // basic blocks per dispatch quantum
	DefaultEpochBlocks = 1 << 20
	DefaultPollBackoff = time.Millisecond
)

// Config governs the scheduler's fixed-capacity tables and scheduling
// constants. It is built with functional options, following the option
// pattern used throughout the retrieval pack's service constructors rather
// than a public struct literal, so zero-value tables never leak into a live
// Scheduler.
type Config struct {
	MaxThreads  int
	MaxMutexes  int
	MaxSems     int
	MaxRWLocks  int
	MaxFDWaits  int
	MaxKeys     int
	MaxConds    int
	Quantum     uint64
	EpochBlocks uint64
	PollBackoff time.Duration
	BlockBudget uint64 // 0 means unbounded

	// Clock returns the current time; overridden in tests so that sleep and
	// timed-wait deadlines don't require the test to sleep for real.
	Clock func() time.Time

	// Fatal is invoked for capacity exhaustion and invariant violations. It
	// must not return (spec.md §7); the default calls os.Exit(1). Tests
	// override it with a function that panics with a recoverable sentinel.
	Fatal func(msg string)

	// Logger receives diagnostic and fatal messages.
	Logger zerolog.Logger

	// CodeCache is the external collaborator that ages the guest code
	// cache's LRU epoch. Out of scope per spec.md §1; NullCodeCache is a
	// no-op default.
	CodeCache CodeCache
}

// Option mutates a Config under construction.
type Option func(*Config)

// WithCapacities overrides the fixed-capacity table sizes.
func WithCapacities(threads, mutexes, sems, rwlocks, fdwaits, keys, conds int) Option {
	return func(c *Config) {
		c.MaxThreads = threads
		c.MaxMutexes = mutexes
		c.MaxSems = sems
		c.MaxRWLocks = rwlocks
		c.MaxFDWaits = fdwaits
		c.MaxKeys = keys
		c.MaxConds = conds
	}
}

// WithQuantum overrides the basic-block dispatch quantum.
func WithQuantum(q uint64) Option { return func(c *Config) { c.Quantum = q } }

// WithBlockBudget sets the global basic-block budget; 0 means unbounded.
func WithBlockBudget(b uint64) Option { return func(c *Config) { c.BlockBudget = b } }

// WithClock overrides the time source, for deterministic tests.
func WithClock(clock func() time.Time) Option { return func(c *Config) { c.Clock = clock } }

// WithPollBackoff overrides the Phase 1 step 6 host backoff interval.
func WithPollBackoff(d time.Duration) Option { return func(c *Config) { c.PollBackoff = d } }

// WithLogger overrides the diagnostic logger.
func WithLogger(l zerolog.Logger) Option { return func(c *Config) { c.Logger = l } }

// WithFatal overrides the fatal-error handler.
func WithFatal(f func(msg string)) Option { return func(c *Config) { c.Fatal = f } }

// WithCodeCache overrides the code-cache epoch collaborator.
func WithCodeCache(cc CodeCache) Option { return func(c *Config) { c.CodeCache = cc } }

func defaultConfig() Config {
	return Config{
		MaxThreads:  DefaultMaxThreads,
		MaxMutexes:  DefaultMaxMutexes,
		MaxSems:     DefaultMaxSems,
		MaxRWLocks:  DefaultMaxRWLocks,
		MaxFDWaits:  DefaultMaxFDWaits,
		MaxKeys:     DefaultMaxKeys,
		MaxConds:    DefaultMaxConds,
		Quantum:     DefaultQuantum,
		EpochBlocks: DefaultEpochBlocks,
		PollBackoff: DefaultPollBackoff,
		Clock:       time.Now,
		Fatal: func(string) {
			os.Exit(1)
		},
		Logger:    vglog.New(nil, zerolog.InfoLevel),
		CodeCache: NullCodeCache{},
	}
}

func newConfig(opts ...Option) Config {
	c := defaultConfig()
	for _, opt := range opts {
		opt(&c)
	}
	return c
}
