package infra

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"mt5_copier/internal/domain"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Gateway kinds.
const (
	GatewayBridge = "bridge"
	GatewayPaper  = "paper"
)

// Ledger checkpoint backends.
const (
	CheckpointStorage = "storage"
	CheckpointRedis   = "redis"
	CheckpointNone    = "none"
)

// LoggingConfig controls the slog handler and file rotation.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Dir        string `yaml:"dir"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// StorageConfig selects the database.
type StorageConfig struct {
	Driver string `yaml:"driver"` // sqlite | postgres
	Path   string `yaml:"path"`   // sqlite file; empty uses the OS config dir
	DSN    string `yaml:"dsn"`    // postgres
}

// GatewayConfig selects and configures the venue gateway.
type GatewayConfig struct {
	Kind              string `yaml:"kind"`
	URL               string `yaml:"url"`
	Key               string `yaml:"key"`
	Secret            string `yaml:"secret"`
	RequestTimeoutSec int    `yaml:"request_timeout_sec"`
	MaxSlippage       int    `yaml:"max_slippage"`
	Magic             int64  `yaml:"magic"`
}

// RedisConfig is used by the redis ledger checkpoint.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Key      string `yaml:"key"`
}

// KafkaConfig is used by the kafka event sink.
type KafkaConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Brokers        []string `yaml:"brokers"`
	Topic          string   `yaml:"topic"`
	BufferSize     int      `yaml:"buffer_size"`
	WriteTimeoutMS int      `yaml:"write_timeout_ms"`
}

// Config는 애플리케이션의 모든 설정을 담습니다.
// LoadConfig로 로드된 후에 환경 변수를 통해 민감 내용을 덮어씁니다.
type Config struct {
	App struct {
		Name      string `yaml:"name"`
		Version   string `yaml:"version"`
		PprofAddr string `yaml:"pprof_addr"`
	} `yaml:"app"`

	Logging LoggingConfig `yaml:"logging"`
	Storage StorageConfig `yaml:"storage"`
	Gateway GatewayConfig `yaml:"gateway"`

	Replication struct {
		PollIntervalSec        int    `yaml:"poll_interval_sec"`
		StopTimeoutSec         int    `yaml:"stop_timeout_sec"`
		CycleTimeoutSec        int    `yaml:"cycle_timeout_sec"`
		MaxParallelMasters     int    `yaml:"max_parallel_masters"`
		SkipExistingPositions  bool   `yaml:"skip_existing_positions"`
		PairingSyncIntervalSec int    `yaml:"pairing_sync_interval_sec"`
		DumpPath               string `yaml:"dump_path"`
	} `yaml:"replication"`

	Pairing struct {
		DefaultVolumePercent decimal.Decimal `yaml:"default_volume_percent"`
		DefaultMinVolume     decimal.Decimal `yaml:"default_min_volume"`
		DefaultMaxVolume     decimal.Decimal `yaml:"default_max_volume"`
	} `yaml:"pairing"`

	Risk struct {
		LotStep    decimal.Decimal              `yaml:"lot_step"`
		PerLotRisk decimal.Decimal              `yaml:"per_lot_risk"`
		Symbols    map[string]domain.SymbolSpec `yaml:"symbols"`
	} `yaml:"risk"`

	Monitor struct {
		IntervalSec        int             `yaml:"interval_sec"`
		MarginLevelAlert   decimal.Decimal `yaml:"margin_level_alert"`
		EquityDropAlertPct decimal.Decimal `yaml:"equity_drop_alert_pct"`
		StatsEnabled       bool            `yaml:"stats_enabled"`
	} `yaml:"monitor"`

	Ledger struct {
		Checkpoint string `yaml:"checkpoint"`
	} `yaml:"ledger"`

	Redis RedisConfig `yaml:"redis"`
	Kafka KafkaConfig `yaml:"kafka"`
}

// Default returns a configuration that runs against the paper gateway with
// a local sqlite file.
func Default() *Config {
	var cfg Config

	cfg.App.Name = "mt5copier"
	cfg.App.Version = "dev"

	cfg.Logging = LoggingConfig{
		Level:      "info",
		Dir:        "logs",
		File:       "mt5copier.log",
		MaxSizeMB:  10,
		MaxBackups: 3,
		MaxAgeDays: 28,
		Compress:   true,
	}

	cfg.Storage.Driver = "sqlite"

	cfg.Gateway = GatewayConfig{
		Kind:              GatewayPaper,
		RequestTimeoutSec: 10,
		MaxSlippage:       5,
		Magic:             123456,
	}

	cfg.Replication.PollIntervalSec = 1
	cfg.Replication.StopTimeoutSec = 5
	cfg.Replication.MaxParallelMasters = 4
	cfg.Replication.PairingSyncIntervalSec = 10
	cfg.Replication.DumpPath = "ledger_dump.json"

	cfg.Pairing.DefaultVolumePercent = domain.DefaultVolumePercent
	cfg.Pairing.DefaultMinVolume = domain.DefaultMinVolume
	cfg.Pairing.DefaultMaxVolume = domain.DefaultMaxVolume

	cfg.Risk.LotStep = decimal.RequireFromString("0.01")
	cfg.Risk.PerLotRisk = decimal.NewFromInt(100)

	cfg.Monitor.IntervalSec = 60
	cfg.Monitor.MarginLevelAlert = decimal.NewFromInt(200)
	cfg.Monitor.EquityDropAlertPct = decimal.NewFromInt(5)
	cfg.Monitor.StatsEnabled = true

	cfg.Ledger.Checkpoint = CheckpointStorage

	cfg.Redis = RedisConfig{Addr: "localhost:6379", Key: "mt5copier:ledger"}
	cfg.Kafka = KafkaConfig{Topic: "mt5copier.events", BufferSize: 1024, WriteTimeoutMS: 5000}

	return &cfg
}

// LoadConfig는 설정 파일을 읽고 파싱합니다.
// 파일에 없는 값은 Default()의 값을 유지합니다.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", domain.ErrConfigNotFound, path)
		}
		return nil, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	overrideWithEnv(cfg)
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// SaveToFile writes the configuration as YAML. The file may hold secrets.
func (c *Config) SaveToFile(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0600)
}

// Validate checks configuration validity
func (c *Config) Validate() error {
	switch c.Gateway.Kind {
	case GatewayBridge:
		if !hasPrefix(c.Gateway.URL, "ws://") && !hasPrefix(c.Gateway.URL, "wss://") {
			return &domain.ConfigError{Field: "gateway.url", Err: fmt.Errorf("invalid bridge URL: %q", c.Gateway.URL)}
		}
		if c.Gateway.RequestTimeoutSec <= 0 {
			return &domain.ConfigError{Field: "gateway.request_timeout_sec", Err: errors.New("must be positive")}
		}
	case GatewayPaper:
	default:
		return &domain.ConfigError{Field: "gateway.kind", Err: fmt.Errorf("unknown gateway %q", c.Gateway.Kind)}
	}
	if c.Gateway.MaxSlippage < 0 {
		return &domain.ConfigError{Field: "gateway.max_slippage", Err: errors.New("must not be negative")}
	}

	switch c.Storage.Driver {
	case "sqlite":
	case "postgres":
		if c.Storage.DSN == "" {
			return &domain.ConfigError{Field: "storage.dsn", Err: errors.New("required for postgres")}
		}
	default:
		return &domain.ConfigError{Field: "storage.driver", Err: fmt.Errorf("unknown driver %q", c.Storage.Driver)}
	}

	if c.Replication.PollIntervalSec <= 0 {
		return &domain.ConfigError{Field: "replication.poll_interval_sec", Err: errors.New("must be positive")}
	}
	if c.Replication.PairingSyncIntervalSec <= 0 {
		return &domain.ConfigError{Field: "replication.pairing_sync_interval_sec", Err: errors.New("must be positive")}
	}
	if c.Replication.MaxParallelMasters < 1 {
		return &domain.ConfigError{Field: "replication.max_parallel_masters", Err: errors.New("must be at least 1")}
	}
	if c.Replication.CycleTimeoutSec < 0 || c.Replication.StopTimeoutSec < 0 {
		return &domain.ConfigError{Field: "replication", Err: errors.New("timeouts must not be negative")}
	}

	defaults := domain.NewPairing("master", "follower")
	defaults.VolumePercent = c.Pairing.DefaultVolumePercent
	defaults.MinVolume = c.Pairing.DefaultMinVolume
	defaults.MaxVolume = c.Pairing.DefaultMaxVolume
	if err := defaults.Validate(); err != nil {
		return fmt.Errorf("pairing defaults: %w", err)
	}

	if !c.Risk.LotStep.IsPositive() {
		return &domain.ConfigError{Field: "risk.lot_step", Err: errors.New("must be positive")}
	}
	if c.Risk.PerLotRisk.IsNegative() {
		return &domain.ConfigError{Field: "risk.per_lot_risk", Err: errors.New("must not be negative")}
	}

	if c.Monitor.IntervalSec <= 0 {
		return &domain.ConfigError{Field: "monitor.interval_sec", Err: errors.New("must be positive")}
	}

	switch c.Ledger.Checkpoint {
	case CheckpointStorage, CheckpointNone:
	case CheckpointRedis:
		if c.Redis.Addr == "" || c.Redis.Key == "" {
			return &domain.ConfigError{Field: "redis", Err: errors.New("addr and key are required for redis checkpoints")}
		}
	default:
		return &domain.ConfigError{Field: "ledger.checkpoint", Err: fmt.Errorf("unknown backend %q", c.Ledger.Checkpoint)}
	}

	if c.Kafka.Enabled && (len(c.Kafka.Brokers) == 0 || c.Kafka.Topic == "") {
		return &domain.ConfigError{Field: "kafka", Err: errors.New("brokers and topic are required when enabled")}
	}

	return nil
}

// PollInterval returns the replication interval.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Replication.PollIntervalSec) * time.Second
}

// PairingSyncInterval returns the registry reload interval.
func (c *Config) PairingSyncInterval() time.Duration {
	return time.Duration(c.Replication.PairingSyncIntervalSec) * time.Second
}

// MonitorInterval returns the account monitor interval.
func (c *Config) MonitorInterval() time.Duration {
	return time.Duration(c.Monitor.IntervalSec) * time.Second
}

// StopTimeout returns how long a scheduler waits for an in-flight cycle.
func (c *Config) StopTimeout() time.Duration {
	return time.Duration(c.Replication.StopTimeoutSec) * time.Second
}

// CycleTimeout returns the per-cycle deadline, zero for none.
func (c *Config) CycleTimeout() time.Duration {
	return time.Duration(c.Replication.CycleTimeoutSec) * time.Second
}

// RequestTimeout returns the bridge request timeout.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Gateway.RequestTimeoutSec) * time.Second
}

// normalize upper-cases symbol keys so lookups are case-insensitive.
func (c *Config) normalize() {
	if len(c.Risk.Symbols) == 0 {
		return
	}
	symbols := make(map[string]domain.SymbolSpec, len(c.Risk.Symbols))
	for k, v := range c.Risk.Symbols {
		symbols[strings.ToUpper(k)] = v
	}
	c.Risk.Symbols = symbols
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[0:len(prefix)] == prefix
}

// overrideWithEnv는 환경 변수가 존재할 경우 설정 값을 덮어씁니다.
func overrideWithEnv(cfg *Config) {
	if key := os.Getenv("MT5COPIER_BRIDGE_KEY"); key != "" {
		cfg.Gateway.Key = key
	}
	if secret := os.Getenv("MT5COPIER_BRIDGE_SECRET"); secret != "" {
		cfg.Gateway.Secret = secret
	}
	if dsn := os.Getenv("MT5COPIER_DB_DSN"); dsn != "" {
		cfg.Storage.DSN = dsn
	}
	if pass := os.Getenv("MT5COPIER_REDIS_PASSWORD"); pass != "" {
		cfg.Redis.Password = pass
	}
	if brokers := os.Getenv("MT5COPIER_KAFKA_BROKERS"); brokers != "" {
		cfg.Kafka.Brokers = strings.Split(brokers, ",")
	}
}
