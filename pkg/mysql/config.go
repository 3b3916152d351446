package mysql

import (
	"fmt"
	"time"
)

// Config 定義 MySQL 連線與連線池的配置
type Config struct {
	Host     string `yaml:"host" validate:"required"`
	Port     int    `yaml:"port" validate:"min=1,max=65535"`
	User     string `yaml:"user" validate:"required"`
	Password string `yaml:"password"`
	DBName   string `yaml:"db_name" validate:"required"`

	// 連線池設定 (Connection Pool)
	// 參考: https://github.com/go-sql-driver/mysql#important-settings
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`

	// LockWaitTimeout 等待列鎖 (SELECT ... FOR UPDATE) 的上限，對應 innodb_lock_wait_timeout
	// 只能是整數秒，0 代表使用伺服器預設值
	LockWaitTimeout time.Duration `yaml:"lock_wait_timeout"`

	// GORM Log 等級: "silent", "error", "warn", "info"
	LogLevel string `yaml:"log_level" validate:"omitempty,oneof=silent error warn info"`
}

// DSN (Data Source Name) 產生連線字串
// 格式: user:password@tcp(host:port)/dbname?charset=utf8mb4&parseTime=True&loc=UTC
// 帳務時間一律以 UTC 存取
func (c *Config) DSN() string {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		c.User,
		c.Password,
		c.Host,
		c.Port,
		c.DBName,
	)
	if secs := c.lockWaitSeconds(); secs > 0 {
		// go-sql-driver 會把未知參數當作 session 變數，在每條連線建立時 SET
		dsn += fmt.Sprintf("&innodb_lock_wait_timeout=%d", secs)
	}
	return dsn
}

func (c *Config) lockWaitSeconds() int {
	if c.LockWaitTimeout <= 0 {
		return 0
	}
	secs := int(c.LockWaitTimeout / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}
