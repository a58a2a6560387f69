package lifecycle

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// PhaseTimeouts holds the collective (phase) timeout durations. The
// zero value is invalid; use DefaultPhaseTimeouts or LoadConfig.
type PhaseTimeouts struct {
	FastShutdownParallel     time.Duration
	FastShutdownSequential   time.Duration
	NormalShutdownSequential time.Duration
	NormalShutdownParallel   time.Duration
	RunUpSequential          time.Duration
	RunUpParallel            time.Duration
}

// Config bundles every tunable the transition engine needs beyond its
// Option-configured behavior: the collective timeout table, and an
// aggregate-timeout warning ceiling (diagnostic only, never enforced).
type Config struct {
	Phases PhaseTimeouts

	// AggregateTimeoutCeilingMS is a diagnostic ceiling, checked per
	// phase at phase-arm time: the engine logs a warning when a
	// sequential phase's summed client timeouts, or a parallel phase's
	// largest client timeout, exceeds it. The sequential sum and the
	// parallel maximum of one transition are not added together. It
	// never changes scheduling.
	AggregateTimeoutCeilingMS uint32

	// ExternalNodeStateBlockedDefault seeds SetExternalNodeStateBlocked
	// at construction.
	ExternalNodeStateBlockedDefault bool
}

// DefaultPhaseTimeouts returns the built-in phase timeout table.
func DefaultPhaseTimeouts() PhaseTimeouts {
	return PhaseTimeouts{
		FastShutdownParallel:     2 * time.Second,
		FastShutdownSequential:   3 * time.Second,
		NormalShutdownSequential: 60 * time.Second,
		NormalShutdownParallel:   60 * time.Second,
		RunUpSequential:          60 * time.Second,
		RunUpParallel:            60 * time.Second,
	}
}

// DefaultConfig returns the built-in default configuration.
func DefaultConfig() Config {
	return Config{
		Phases:                    DefaultPhaseTimeouts(),
		AggregateTimeoutCeilingMS: 30_000,
	}
}

// LoadConfig reads a TOML/YAML/JSON config file (whichever extension
// path carries) plus LIFECYCLE_-prefixed environment overrides via
// viper. Missing keys fall back to DefaultConfig's values; path may be
// empty to skip the file and use environment + defaults only.
func LoadConfig(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("LIFECYCLE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := DefaultConfig()
	v.SetDefault("phases.fast_shutdown_parallel_ms", cfg.Phases.FastShutdownParallel.Milliseconds())
	v.SetDefault("phases.fast_shutdown_sequential_ms", cfg.Phases.FastShutdownSequential.Milliseconds())
	v.SetDefault("phases.normal_shutdown_sequential_ms", cfg.Phases.NormalShutdownSequential.Milliseconds())
	v.SetDefault("phases.normal_shutdown_parallel_ms", cfg.Phases.NormalShutdownParallel.Milliseconds())
	v.SetDefault("phases.run_up_sequential_ms", cfg.Phases.RunUpSequential.Milliseconds())
	v.SetDefault("phases.run_up_parallel_ms", cfg.Phases.RunUpParallel.Milliseconds())
	v.SetDefault("aggregate_timeout_ceiling_ms", cfg.AggregateTimeoutCeilingMS)
	v.SetDefault("external_node_state_blocked_default", cfg.ExternalNodeStateBlockedDefault)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("lifecycle: loading config %q: %w", path, err)
		}
	}

	cfg.Phases.FastShutdownParallel = time.Duration(v.GetInt64("phases.fast_shutdown_parallel_ms")) * time.Millisecond
	cfg.Phases.FastShutdownSequential = time.Duration(v.GetInt64("phases.fast_shutdown_sequential_ms")) * time.Millisecond
	cfg.Phases.NormalShutdownSequential = time.Duration(v.GetInt64("phases.normal_shutdown_sequential_ms")) * time.Millisecond
	cfg.Phases.NormalShutdownParallel = time.Duration(v.GetInt64("phases.normal_shutdown_parallel_ms")) * time.Millisecond
	cfg.Phases.RunUpSequential = time.Duration(v.GetInt64("phases.run_up_sequential_ms")) * time.Millisecond
	cfg.Phases.RunUpParallel = time.Duration(v.GetInt64("phases.run_up_parallel_ms")) * time.Millisecond
	cfg.AggregateTimeoutCeilingMS = uint32(v.GetUint("aggregate_timeout_ceiling_ms"))
	cfg.ExternalNodeStateBlockedDefault = v.GetBool("external_node_state_blocked_default")

	return cfg, nil
}

// durationFor returns the collective timeout for the given phase kind.
func (p PhaseTimeouts) durationFor(phaseKind phaseKind) time.Duration {
	switch phaseKind {
	case phaseFastShutdownParallel:
		return p.FastShutdownParallel
	case phaseFastShutdownSequential:
		return p.FastShutdownSequential
	case phaseNormalShutdownSequential:
		return p.NormalShutdownSequential
	case phaseNormalShutdownParallel:
		return p.NormalShutdownParallel
	case phaseRunUpSequential:
		return p.RunUpSequential
	case phaseRunUpParallel:
		return p.RunUpParallel
	default:
		return 60 * time.Second
	}
}
