// Package config loads swarmkit configuration from defaults, the user config
// file, a project override file and SWARMKIT_ environment variables.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/blackms/swarmkit/internal/application/auction"
	"github.com/blackms/swarmkit/internal/application/balancer"
	"github.com/blackms/swarmkit/internal/application/coordinator"
	"github.com/blackms/swarmkit/internal/application/emergent"
	"github.com/blackms/swarmkit/internal/application/fault"
	"github.com/blackms/swarmkit/internal/application/orchestrator"
	"github.com/blackms/swarmkit/internal/application/pheromone"
	"github.com/blackms/swarmkit/internal/application/voting"
	"github.com/blackms/swarmkit/internal/domain/swarm"
)

const (
	appName           = "swarmkit"
	projectConfigName = ".swarmkit.yaml"
	envPrefix         = "SWARMKIT"

	defaultInterval = time.Second
)

// Config holds all swarmkit configuration.
type Config struct {
	Swarm     SwarmConfig     `mapstructure:"swarm" yaml:"swarm"`
	Pheromone PheromoneConfig `mapstructure:"pheromone" yaml:"pheromone"`
	Voting    VotingConfig    `mapstructure:"voting" yaml:"voting"`
	Auction   AuctionConfig   `mapstructure:"auction" yaml:"auction"`
	Balancer  BalancerConfig  `mapstructure:"balancer" yaml:"balancer"`
	Fault     FaultConfig     `mapstructure:"fault" yaml:"fault"`
	Emergent  EmergentConfig  `mapstructure:"emergent" yaml:"emergent"`
	Optimize  OptimizeConfig  `mapstructure:"optimize" yaml:"optimize"`
	Log       LogConfig       `mapstructure:"log" yaml:"log"`
}

// SwarmConfig holds default swarm sizes.
type SwarmConfig struct {
	MinSize int `mapstructure:"min_size" yaml:"min_size"`
	MaxSize int `mapstructure:"max_size" yaml:"max_size"`
}

// PheromoneConfig holds marker decay settings.
type PheromoneConfig struct {
	DecayRate    float64 `mapstructure:"decay_rate" yaml:"decay_rate"`
	MinIntensity float64 `mapstructure:"min_intensity" yaml:"min_intensity"`
}

// VotingConfig holds vote resolution settings.
type VotingConfig struct {
	Threshold float64 `mapstructure:"threshold" yaml:"threshold"`
}

// AuctionConfig holds auction settings.
type AuctionConfig struct {
	FairnessWeight float64 `mapstructure:"fairness_weight" yaml:"fairness_weight"`
}

// BalancerConfig holds load balancing settings.
type BalancerConfig struct {
	Strategy         string  `mapstructure:"strategy" yaml:"strategy"`
	DefaultCapacity  float64 `mapstructure:"default_capacity" yaml:"default_capacity"`
	TasksPerCapacity float64 `mapstructure:"tasks_per_capacity" yaml:"tasks_per_capacity"`
	RebalanceMargin  float64 `mapstructure:"rebalance_margin" yaml:"rebalance_margin"`
}

// FaultConfig holds fault tolerance settings.
type FaultConfig struct {
	MaxRetries int `mapstructure:"max_retries" yaml:"max_retries"`
}

// EmergentConfig holds pattern detection windows.
type EmergentConfig struct {
	Window       int `mapstructure:"window" yaml:"window"`
	RecentWindow int `mapstructure:"recent_window" yaml:"recent_window"`
}

// OptimizeConfig holds maintenance tick settings.
type OptimizeConfig struct {
	HealPolicy     string        `mapstructure:"heal_policy" yaml:"heal_policy"`
	HealAfterTicks int           `mapstructure:"heal_after_ticks" yaml:"heal_after_ticks"`
	Interval       time.Duration `mapstructure:"interval" yaml:"interval"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// Load loads configuration. Precedence (highest to lowest):
// 1. Environment variables (SWARMKIT_SWARM_MIN_SIZE, ...)
// 2. Project config (.swarmkit.yaml in the current directory or a parent)
// 3. User config (~/.config/swarmkit/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	v := newViper()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(getUserConfigDir())

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	if projectConfig := findProjectConfig(); projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading project config %s: %w", projectConfig, err)
		}
		if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
			return nil, fmt.Errorf("merging project config: %w", err)
		}
	}

	return unmarshal(v)
}

// LoadFromPath loads configuration from a specific file. Environment
// overrides still apply.
func LoadFromPath(path string) (*Config, error) {
	v := newViper()

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return unmarshal(v)
}

// Default returns the built-in defaults. Environment variables and config
// files are not consulted.
func Default() *Config {
	orch := orchestrator.DefaultConfig()
	return &Config{
		Swarm:     SwarmConfig{MinSize: orch.Swarm.MinSize, MaxSize: orch.Swarm.MaxSize},
		Pheromone: PheromoneConfig{DecayRate: orch.Pheromone.DecayRate, MinIntensity: orch.Pheromone.MinIntensity},
		Voting:    VotingConfig{Threshold: orch.Voting.DefaultThreshold},
		Auction:   AuctionConfig{FairnessWeight: orch.Auction.FairnessWeight},
		Balancer: BalancerConfig{
			Strategy:         string(orch.Balancer.Strategy),
			DefaultCapacity:  orch.Balancer.DefaultCapacity,
			TasksPerCapacity: orch.Balancer.TasksPerCapacity,
			RebalanceMargin:  orch.Balancer.RebalanceMargin,
		},
		Fault:    FaultConfig{MaxRetries: orch.Fault.MaxRetries},
		Emergent: EmergentConfig{Window: orch.Emergent.Window, RecentWindow: orch.Emergent.RecentWindow},
		Optimize: OptimizeConfig{
			HealPolicy:     string(orch.HealPolicy),
			HealAfterTicks: orch.HealAfterTicks,
			Interval:       defaultInterval,
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func unmarshal(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("swarm.min_size", d.Swarm.MinSize)
	v.SetDefault("swarm.max_size", d.Swarm.MaxSize)

	v.SetDefault("pheromone.decay_rate", d.Pheromone.DecayRate)
	v.SetDefault("pheromone.min_intensity", d.Pheromone.MinIntensity)

	v.SetDefault("voting.threshold", d.Voting.Threshold)

	v.SetDefault("auction.fairness_weight", d.Auction.FairnessWeight)

	v.SetDefault("balancer.strategy", d.Balancer.Strategy)
	v.SetDefault("balancer.default_capacity", d.Balancer.DefaultCapacity)
	v.SetDefault("balancer.tasks_per_capacity", d.Balancer.TasksPerCapacity)
	v.SetDefault("balancer.rebalance_margin", d.Balancer.RebalanceMargin)

	v.SetDefault("fault.max_retries", d.Fault.MaxRetries)

	v.SetDefault("emergent.window", d.Emergent.Window)
	v.SetDefault("emergent.recent_window", d.Emergent.RecentWindow)

	v.SetDefault("optimize.heal_policy", d.Optimize.HealPolicy)
	v.SetDefault("optimize.heal_after_ticks", d.Optimize.HealAfterTicks)
	v.SetDefault("optimize.interval", d.Optimize.Interval.String())

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
}

// Validate rejects out-of-range values.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.Swarm.MinSize >= 1, "swarm.min_size must be at least 1, got %d", c.Swarm.MinSize)
	check(c.Swarm.MaxSize >= c.Swarm.MinSize, "swarm.max_size (%d) must not be below swarm.min_size (%d)", c.Swarm.MaxSize, c.Swarm.MinSize)
	check(c.Pheromone.DecayRate > 0 && c.Pheromone.DecayRate < 1, "pheromone.decay_rate must be in (0, 1), got %v", c.Pheromone.DecayRate)
	check(c.Pheromone.MinIntensity > 0 && c.Pheromone.MinIntensity < 1, "pheromone.min_intensity must be in (0, 1), got %v", c.Pheromone.MinIntensity)
	check(c.Voting.Threshold > 0 && c.Voting.Threshold <= 1, "voting.threshold must be in (0, 1], got %v", c.Voting.Threshold)
	check(c.Auction.FairnessWeight > 0, "auction.fairness_weight must be positive, got %v", c.Auction.FairnessWeight)
	check(swarm.BalanceStrategy(c.Balancer.Strategy).IsValid(), "balancer.strategy %q is unknown", c.Balancer.Strategy)
	check(c.Balancer.DefaultCapacity > 0, "balancer.default_capacity must be positive, got %v", c.Balancer.DefaultCapacity)
	check(c.Balancer.TasksPerCapacity > 0, "balancer.tasks_per_capacity must be positive, got %v", c.Balancer.TasksPerCapacity)
	check(c.Balancer.RebalanceMargin > 0, "balancer.rebalance_margin must be positive, got %v", c.Balancer.RebalanceMargin)
	check(c.Fault.MaxRetries > 0, "fault.max_retries must be positive, got %d", c.Fault.MaxRetries)
	check(c.Emergent.Window > 0, "emergent.window must be positive, got %d", c.Emergent.Window)
	check(c.Emergent.RecentWindow > 0, "emergent.recent_window must be positive, got %d", c.Emergent.RecentWindow)
	check(orchestrator.HealPolicy(c.Optimize.HealPolicy).IsValid(), "optimize.heal_policy %q is unknown", c.Optimize.HealPolicy)
	check(c.Optimize.HealAfterTicks > 0, "optimize.heal_after_ticks must be positive, got %d", c.Optimize.HealAfterTicks)
	check(c.Optimize.Interval > 0, "optimize.interval must be positive, got %s", c.Optimize.Interval)

	_, levelErr := parseLevel(c.Log.Level)
	check(levelErr == nil, "log.level %q is unknown", c.Log.Level)
	check(c.Log.Format == "text" || c.Log.Format == "json", "log.format must be text or json, got %q", c.Log.Format)

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// Orchestrator converts the configuration into orchestrator settings.
func (c *Config) Orchestrator() orchestrator.Config {
	return orchestrator.Config{
		Swarm:     coordinator.Config{MinSize: c.Swarm.MinSize, MaxSize: c.Swarm.MaxSize},
		Pheromone: pheromone.Config{DecayRate: c.Pheromone.DecayRate, MinIntensity: c.Pheromone.MinIntensity},
		Voting:    voting.Config{DefaultThreshold: c.Voting.Threshold},
		Auction:   auction.Config{FairnessWeight: c.Auction.FairnessWeight},
		Balancer: balancer.Config{
			Strategy:         swarm.BalanceStrategy(c.Balancer.Strategy),
			DefaultCapacity:  c.Balancer.DefaultCapacity,
			TasksPerCapacity: c.Balancer.TasksPerCapacity,
			RebalanceMargin:  c.Balancer.RebalanceMargin,
		},
		Fault:          fault.Config{MaxRetries: c.Fault.MaxRetries},
		Emergent:       emergent.Config{Window: c.Emergent.Window, RecentWindow: c.Emergent.RecentWindow},
		HealPolicy:     orchestrator.HealPolicy(c.Optimize.HealPolicy),
		HealAfterTicks: c.Optimize.HealAfterTicks,
	}
}

// NewLogger builds a slog logger writing to w.
func (c *Config) NewLogger(w io.Writer) *slog.Logger {
	level, err := parseLevel(c.Log.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	err := level.UnmarshalText([]byte(s))
	return level, err
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// GetProjectConfigPath returns the project config file path, or "" if none.
func GetProjectConfigPath() string {
	return findProjectConfig()
}

// getUserConfigDir returns the XDG config directory for swarmkit.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, appName)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", appName)
	}
	return filepath.Join(home, ".config", appName)
}

// findProjectConfig searches for .swarmkit.yaml in the current directory and
// its parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		configPath := filepath.Join(cwd, projectConfigName)
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}
		parent := filepath.Dir(cwd)
		if parent == cwd {
			return ""
		}
		cwd = parent
	}
}
