package mysql

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	pkglogger "github.com/JoeShih716/go-wallet-ledger/pkg/logger"
)

const (
	maxRetries    = 10
	retryInterval = 2 * time.Second
	slowThreshold = 200 * time.Millisecond
)

// Client 封裝 GORM DB 實例
type Client struct {
	db *gorm.DB
}

// NewClient 建立並回傳一個新的 MySQL 客戶端實例 (GORM)
//
// 參數:
//
//	cfg: Config - MySQL 連線配置
//	log: GORM 的 SQL 日誌與重試訊息寫到這個 logger
//
// 回傳值:
//
//	*Client: 封裝後的 MySQL 客戶端
//	error: 若連線失敗則回傳錯誤
func NewClient(cfg Config, log zerolog.Logger) (*Client, error) {
	gormConfig := &gorm.Config{
		// 預設跳過事務模式，需要原子性的地方 (帳戶異動) 明確使用 Transaction
		SkipDefaultTransaction: true,
		Logger:                 newLogger(cfg.LogLevel, log),
		NowFunc:                func() time.Time { return time.Now().UTC() },
	}

	var db *gorm.DB
	var err error

	// Retry mechanism for database connection
	for i := 0; i < maxRetries; i++ {
		db, err = gorm.Open(mysql.Open(cfg.DSN()), gormConfig)
		if err == nil {
			// Try pinging to ensure connection is actually alive
			rawDB, pingErr := db.DB()
			if pingErr == nil {
				if err = rawDB.Ping(); err == nil {
					break // Connection successful
				}
			} else {
				err = pingErr
			}
		}

		if i < maxRetries-1 {
			log.Warn().Err(err).
				Int("attempt", i+1).
				Int("max_attempts", maxRetries).
				Dur("retry_in", retryInterval).
				Msg("failed to connect to mysql, retrying")
			time.Sleep(retryInterval)
		}
	}

	if err != nil {
		return nil, fmt.Errorf("failed to connect to mysql after %d attempts: %w", maxRetries, err)
	}

	// 取得底層 sql.DB 物件以設定連線池
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.db: %w", err)
	}

	// 設定連線池參數
	// 同帳戶的異動會持有列鎖，連線數太少會讓其他帳戶的交易排隊
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	// 測試連線
	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("mysql ping failed: %w", err)
	}

	return &Client{db: db}, nil
}

// NewClientWithDB 包裝既有的 *gorm.DB (測試時搭配 sqlmock 使用)
func NewClientWithDB(db *gorm.DB) *Client {
	return &Client{db: db}
}

// DB 回傳底層的 *gorm.DB 實例，供業務邏輯層使用
func (c *Client) DB() *gorm.DB {
	return c.db
}

// Close 關閉資料庫連線
func (c *Client) Close() error {
	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// newLogger 根據配置建立 GORM Logger，輸出導向 zerolog
func newLogger(level string, log zerolog.Logger) logger.Interface {
	var logLevel logger.LogLevel
	switch level {
	case "info":
		logLevel = logger.Info
	case "warn":
		logLevel = logger.Warn
	case "error":
		logLevel = logger.Error
	case "silent":
		logLevel = logger.Silent
	default:
		logLevel = logger.Error // 預設只記錄錯誤
	}

	writer := pkglogger.Printf{
		Logger: log.With().Str("component", "gorm").Logger(),
		Level:  zerolog.InfoLevel,
	}
	return logger.New(writer, logger.Config{
		SlowThreshold:             slowThreshold,
		LogLevel:                  logLevel,
		IgnoreRecordNotFoundError: true,
		Colorful:                  false,
	})
}
