package conn

import (
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	defaultMaxOpenConns    = 8
	defaultConnMaxLifetime = time.Hour
)

// Option defines connection options for the bar archive database.
type Option struct {
	// DSN is the full postgres connection string.
	DSN string
	// MaxOpenConns bounds the pool. Zero means the default.
	MaxOpenConns int
	// ConnMaxLifetime recycles connections. Zero means the default.
	ConnMaxLifetime time.Duration
	Config          *gorm.Config
}

// Client wraps the archive connection pool.
type Client struct {
	opt Option
	db  *gorm.DB
}

// New opens the archive database.
func New(option Option) (*Client, error) {
	if option.DSN == "" {
		return nil, fmt.Errorf("invalid archive option: DSN is empty")
	}

	config := option.Config
	if config == nil {
		config = &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)}
	}

	db, err := gorm.Open(postgres.Open(option.DSN), config)
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	maxOpen := option.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = defaultMaxOpenConns
	}
	lifetime := option.ConnMaxLifetime
	if lifetime <= 0 {
		lifetime = defaultConnMaxLifetime
	}
	sqlDB.SetMaxOpenConns(maxOpen)
	sqlDB.SetConnMaxLifetime(lifetime)

	return &Client{opt: option, db: db}, nil
}

// DB returns the underlying gorm.DB instance.
func (c *Client) DB() *gorm.DB {
	if c == nil {
		return nil
	}
	return c.db
}

// Close closes the underlying connection pool.
func (c *Client) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
