package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

const envPrefix = "ACCESSORYD_"

// Config holds the application configuration.
type Config struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	GRPCPort int    `yaml:"grpc_port"`

	PollInterval    time.Duration `yaml:"poll_interval"`
	TelemetryTTL    time.Duration `yaml:"telemetry_ttl"`
	StaleSourceTTL  time.Duration `yaml:"stale_source_ttl"`
	RefreshSchedule string        `yaml:"refresh_schedule"`

	ProfilerCommand []string      `yaml:"profiler_command"`
	ProfilerTimeout time.Duration `yaml:"profiler_timeout"`
	BreakerFailures uint32        `yaml:"breaker_failures"`
	BreakerCooldown time.Duration `yaml:"breaker_cooldown"`
	PrefsPath       string        `yaml:"prefs_path"`
	BluezAdapter    string        `yaml:"bluez_adapter"`
	DisableRegistry bool          `yaml:"disable_registry"`
	DisablePrefs    bool          `yaml:"disable_prefs"`
	DisableProfiler bool          `yaml:"disable_profiler"`

	MQTTBroker   string `yaml:"mqtt_broker"`
	MQTTTopic    string `yaml:"mqtt_topic"`
	MQTTUsername string `yaml:"mqtt_username"`
	// MQTTPassword is read from YAML or the environment only.
	MQTTPassword string `yaml:"mqtt_password"`

	MockMode bool `yaml:"mock"`
	Debug    bool `yaml:"debug"`
	Trace    bool `yaml:"trace"`

	// ConfigPath is the YAML file the configuration was read from, if any.
	ConfigPath string `yaml:"-"`
}

// Defaults returns the built-in configuration.
func Defaults() *Config {
	return &Config{
		Enabled:         true,
		Addr:            "127.0.0.1:8080",
		GRPCPort:        9090,
		PollInterval:    3 * time.Second,
		TelemetryTTL:    20 * time.Second,
		StaleSourceTTL:  5 * time.Minute,
		RefreshSchedule: "@every 10s",
		ProfilerCommand: []string{"system_profiler", "SPBluetoothDataType", "-json"},
		ProfilerTimeout: 10 * time.Second,
		BreakerFailures: 3,
		BreakerCooldown: 2 * time.Minute,
		PrefsPath:       "/Library/Preferences/com.apple.Bluetooth.plist",
		BluezAdapter:    "hci0",
		MQTTTopic:       "accessoryd/accessories",
	}
}

// Load builds the configuration with precedence
// defaults < YAML file < ACCESSORYD_* environment < command line flags.
func Load(args []string) (*Config, error) {
	cfg := Defaults()

	if path := configPath(args); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()

	fs := cfg.flagSet(io.Discard)
	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("parse flags: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// configPath resolves the YAML path from -config, falling back to ACCESSORYD_CONFIG.
// Parse errors are ignored here; the real parse in Load reports them.
func configPath(args []string) string {
	pre := Defaults()
	fs := pre.flagSet(io.Discard)
	_ = fs.Parse(args)
	if pre.ConfigPath != "" {
		return pre.ConfigPath
	}
	return os.Getenv(envPrefix + "CONFIG")
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	c.ConfigPath = path
	return nil
}

func (c *Config) applyEnv() {
	c.Enabled = getEnvBool("ENABLED", c.Enabled)
	c.Addr = getEnv("ADDR", c.Addr)
	c.GRPCPort = getEnvInt("GRPC_PORT", c.GRPCPort)
	c.PollInterval = getEnvDuration("POLL_INTERVAL", c.PollInterval)
	c.TelemetryTTL = getEnvDuration("TELEMETRY_TTL", c.TelemetryTTL)
	c.StaleSourceTTL = getEnvDuration("STALE_SOURCE_TTL", c.StaleSourceTTL)
	c.RefreshSchedule = getEnv("REFRESH_SCHEDULE", c.RefreshSchedule)
	if v := os.Getenv(envPrefix + "PROFILER_CMD"); v != "" {
		c.ProfilerCommand = strings.Fields(v)
	}
	c.ProfilerTimeout = getEnvDuration("PROFILER_TIMEOUT", c.ProfilerTimeout)
	c.BreakerFailures = getEnvUint32("BREAKER_FAILURES", c.BreakerFailures)
	c.BreakerCooldown = getEnvDuration("BREAKER_COOLDOWN", c.BreakerCooldown)
	c.PrefsPath = getEnv("PREFS_PATH", c.PrefsPath)
	c.BluezAdapter = getEnv("BLUEZ_ADAPTER", c.BluezAdapter)
	c.DisableRegistry = getEnvBool("DISABLE_REGISTRY", c.DisableRegistry)
	c.DisablePrefs = getEnvBool("DISABLE_PREFS", c.DisablePrefs)
	c.DisableProfiler = getEnvBool("DISABLE_PROFILER", c.DisableProfiler)
	c.MQTTBroker = getEnv("MQTT_BROKER", c.MQTTBroker)
	c.MQTTTopic = getEnv("MQTT_TOPIC", c.MQTTTopic)
	c.MQTTUsername = getEnv("MQTT_USERNAME", c.MQTTUsername)
	c.MQTTPassword = getEnv("MQTT_PASSWORD", c.MQTTPassword)
	c.MockMode = getEnvBool("MOCK", c.MockMode)
	c.Debug = getEnvBool("DEBUG", c.Debug)
	c.Trace = getEnvBool("TRACE", c.Trace)
}

func (c *Config) flagSet(out io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet("accessoryd", flag.ContinueOnError)
	fs.SetOutput(out)

	fs.StringVar(&c.ConfigPath, "config", c.ConfigPath, "Path to a YAML configuration file")
	fs.BoolVar(&c.Enabled, "enabled", c.Enabled, "Dispatch accessory connect events")
	fs.StringVar(&c.Addr, "addr", c.Addr, "HTTP status server address")
	fs.IntVar(&c.GRPCPort, "grpc-port", c.GRPCPort, "gRPC health server port (0 disables)")
	fs.DurationVar(&c.PollInterval, "poll-interval", c.PollInterval, "Device directory poll interval")
	fs.DurationVar(&c.TelemetryTTL, "telemetry-ttl", c.TelemetryTTL, "Minimum age before a non-forced telemetry refresh")
	fs.DurationVar(&c.StaleSourceTTL, "stale-source-ttl", c.StaleSourceTTL, "How long a failing source keeps its last values")
	fs.StringVar(&c.RefreshSchedule, "refresh-schedule", c.RefreshSchedule, "Cron schedule for refreshing connected accessories")
	fs.Func("profiler-cmd", "Profiler command line (space separated)", func(s string) error {
		c.ProfilerCommand = strings.Fields(s)
		return nil
	})
	fs.DurationVar(&c.ProfilerTimeout, "profiler-timeout", c.ProfilerTimeout, "Profiler invocation timeout")
	fs.Func("breaker-failures", "Consecutive profiler failures before the breaker opens", func(s string) error {
		n, err := strconv.ParseUint(s, 10, 32)
		if err != nil {
			return err
		}
		c.BreakerFailures = uint32(n)
		return nil
	})
	fs.DurationVar(&c.BreakerCooldown, "breaker-cooldown", c.BreakerCooldown, "Profiler breaker cool-down")
	fs.StringVar(&c.PrefsPath, "prefs", c.PrefsPath, "Bluetooth preferences plist path")
	fs.StringVar(&c.BluezAdapter, "adapter", c.BluezAdapter, "BlueZ adapter name")
	fs.BoolVar(&c.DisableRegistry, "no-registry", c.DisableRegistry, "Disable the BlueZ battery source")
	fs.BoolVar(&c.DisablePrefs, "no-prefs", c.DisablePrefs, "Disable the preferences source")
	fs.BoolVar(&c.DisableProfiler, "no-profiler", c.DisableProfiler, "Disable the profiler source")
	fs.StringVar(&c.MQTTBroker, "mqtt-broker", c.MQTTBroker, "MQTT broker URL (empty disables MQTT)")
	fs.StringVar(&c.MQTTTopic, "mqtt-topic", c.MQTTTopic, "MQTT topic prefix")
	fs.StringVar(&c.MQTTUsername, "mqtt-username", c.MQTTUsername, "MQTT username")
	fs.BoolVar(&c.MockMode, "mock", c.MockMode, "Run against a scripted accessory environment")
	fs.BoolVar(&c.Debug, "debug", c.Debug, "Enable debug logging")
	fs.BoolVar(&c.Trace, "trace", c.Trace, "Export traces to stdout")
	return fs
}

// Validate checks the configuration for values the engine cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.PollInterval <= 0 {
		errs = append(errs, errors.New("poll interval must be positive"))
	}
	if c.TelemetryTTL <= 0 {
		errs = append(errs, errors.New("telemetry ttl must be positive"))
	}
	if c.StaleSourceTTL < 0 {
		errs = append(errs, errors.New("stale source ttl must not be negative"))
	}
	if c.ProfilerTimeout <= 0 {
		errs = append(errs, errors.New("profiler timeout must be positive"))
	}
	if !c.DisableProfiler && len(c.ProfilerCommand) == 0 {
		errs = append(errs, errors.New("profiler command is empty"))
	}
	if c.GRPCPort < 0 || c.GRPCPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid grpc port %d", c.GRPCPort))
	}
	if _, err := cron.ParseStandard(c.RefreshSchedule); err != nil {
		errs = append(errs, fmt.Errorf("invalid refresh schedule %q: %w", c.RefreshSchedule, err))
	}
	if c.MQTTBroker != "" && c.MQTTTopic == "" {
		errs = append(errs, errors.New("mqtt topic is required when a broker is set"))
	}
	return errors.Join(errs...)
}

// Helper functions for env vars
func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(envPrefix + key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(envPrefix + key); ok {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(envPrefix + key); ok {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvUint32(key string, fallback uint32) uint32 {
	if value, ok := os.LookupEnv(envPrefix + key); ok {
		if n, err := strconv.ParseUint(value, 10, 32); err == nil {
			return uint32(n)
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(envPrefix + key); ok {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}
