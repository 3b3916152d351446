package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/JoeShih716/go-wallet-ledger/internal/app/wallet/adapter/out/kafka"
	"github.com/JoeShih716/go-wallet-ledger/internal/app/wallet/adapter/out/nats"
	"github.com/JoeShih716/go-wallet-ledger/internal/app/wallet/domain"
	"github.com/JoeShih716/go-wallet-ledger/pkg/logger"
	"github.com/JoeShih716/go-wallet-ledger/pkg/mysql"
	"github.com/JoeShih716/go-wallet-ledger/pkg/postgres"
)

const (
	DriverMemory   = "memory"
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"

	EventsNone  = "none"
	EventsKafka = "kafka"
	EventsNATS  = "nats"
)

// Config 服務設定
// mysql / postgres / kafka / nats 區段只有在被選用時才會驗證
type Config struct {
	Server   ServerConfig    `yaml:"server"`
	Log      logger.Config   `yaml:"log"`
	Storage  StorageConfig   `yaml:"storage"`
	MySQL    mysql.Config    `yaml:"mysql" validate:"-"`
	Postgres postgres.Config `yaml:"postgres" validate:"-"`
	Ledger   LedgerConfig    `yaml:"ledger"`
	Events   EventsConfig    `yaml:"events"`
}

type ServerConfig struct {
	GRPCAddr        string        `yaml:"grpc_addr" validate:"required"`
	MetricsAddr     string        `yaml:"metrics_addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type StorageConfig struct {
	Driver string `yaml:"driver" validate:"oneof=memory mysql postgres"`
	// WALPath memory driver 的 WAL 檔案，空字串代表不落地
	WALPath string `yaml:"wal_path"`
	// LockTimeout 等待帳戶鎖的上限
	LockTimeout time.Duration `yaml:"lock_timeout" validate:"gte=0"`
	// Migrate 啟動時建立資料表
	Migrate bool `yaml:"migrate"`
}

// LedgerConfig 新帳戶的預設上下限，金額以字串表示
type LedgerConfig struct {
	DefaultMinBalance string `yaml:"default_min_balance" validate:"omitempty,numeric"`
	DefaultMaxBalance string `yaml:"default_max_balance" validate:"omitempty,numeric"`
}

type EventsConfig struct {
	Driver string       `yaml:"driver" validate:"oneof=none kafka nats"`
	Kafka  kafka.Config `yaml:"kafka" validate:"-"`
	NATS   nats.Config  `yaml:"nats" validate:"-"`
}

// Load 讀取設定檔
// 1. 載入 envFiles (預設 .env，不存在則略過)
// 2. 展開設定檔中的 ${VAR}
// 3. 補上預設值並驗證
func Load(path string, envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load env file %s: %w", f, err)
		}
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return Parse([]byte(os.ExpandEnv(string(raw))))
}

// Parse 解析 YAML 內容 (不展開環境變數)
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate 驗證設定，只檢查被選用的 storage / events 區段
func (c *Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	switch c.Storage.Driver {
	case DriverMySQL:
		if err := v.Struct(c.MySQL); err != nil {
			return fmt.Errorf("invalid mysql config: %w", err)
		}
	case DriverPostgres:
		if err := v.Struct(c.Postgres); err != nil {
			return fmt.Errorf("invalid postgres config: %w", err)
		}
	}

	switch c.Events.Driver {
	case EventsKafka:
		if err := v.Struct(c.Events.Kafka); err != nil {
			return fmt.Errorf("invalid kafka config: %w", err)
		}
	case EventsNATS:
		if err := v.Struct(c.Events.NATS); err != nil {
			return fmt.Errorf("invalid nats config: %w", err)
		}
	}

	if _, err := c.Ledger.Limits(); err != nil {
		return err
	}
	return nil
}

// Limits 轉為 domain.Limits
func (l LedgerConfig) Limits() (domain.Limits, error) {
	limits := domain.Limits{MinBalance: decimal.Zero}
	if l.DefaultMinBalance != "" {
		v, err := decimal.NewFromString(l.DefaultMinBalance)
		if err != nil {
			return domain.Limits{}, fmt.Errorf("default_min_balance: %w", err)
		}
		limits.MinBalance = v
	}
	if l.DefaultMaxBalance != "" {
		v, err := decimal.NewFromString(l.DefaultMaxBalance)
		if err != nil {
			return domain.Limits{}, fmt.Errorf("default_max_balance: %w", err)
		}
		limits.MaxBalance = &v
	}
	if err := limits.Validate(); err != nil {
		return domain.Limits{}, err
	}
	return limits, nil
}

func (c *Config) applyDefaults() {
	if c.Server.GRPCAddr == "" {
		c.Server.GRPCAddr = ":50051"
	}
	if c.Server.MetricsAddr == "" {
		c.Server.MetricsAddr = ":9090"
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.TimeFormat == "" {
		c.Log.TimeFormat = time.RFC3339
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = DriverMemory
	}
	if c.Storage.LockTimeout == 0 {
		c.Storage.LockTimeout = 5 * time.Second
	}

	// 補全 MySQL 預設配置 (如果 yaml 沒寫)
	if c.MySQL.Port == 0 {
		c.MySQL.Port = 3306
	}
	if c.MySQL.MaxOpenConns == 0 {
		c.MySQL.MaxOpenConns = 100
	}
	if c.MySQL.MaxIdleConns == 0 {
		c.MySQL.MaxIdleConns = 10
	}
	if c.MySQL.ConnMaxLifetime == 0 {
		c.MySQL.ConnMaxLifetime = 30 * time.Minute
	}
	if c.MySQL.LockWaitTimeout == 0 {
		c.MySQL.LockWaitTimeout = c.Storage.LockTimeout
	}

	if c.Postgres.Port == 0 {
		c.Postgres.Port = 5432
	}
	if c.Postgres.LockTimeout == 0 {
		c.Postgres.LockTimeout = c.Storage.LockTimeout
	}

	if c.Events.Driver == "" {
		c.Events.Driver = EventsNone
	}
	if c.Events.Kafka.WriteTimeout == 0 {
		c.Events.Kafka.WriteTimeout = 5 * time.Second
	}
}
