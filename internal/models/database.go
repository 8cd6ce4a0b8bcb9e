package models

import (
	"fmt"
	"net"
	"strconv"

	"orgregistry/internal/config"

	mysqldriver "github.com/go-sql-driver/mysql"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// InitDB opens the configured database and migrates the schema.
func InitDB(cfg *config.Config) (*gorm.DB, error) {
	var dialector gorm.Dialector

	switch cfg.Database.Type {
	case "sqlite":
		dialector = sqlite.Open(cfg.Database.SQLite.Path)
	case "mysql":
		dialector = mysql.Open(MySQLDSN(cfg.Database.MySQL))
	default:
		return nil, fmt.Errorf("unsupported database type: %s", cfg.Database.Type)
	}

	logLevel := logger.Silent
	if cfg.Server.Mode == "debug" {
		logLevel = logger.Info
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         logger.Default.LogMode(logLevel),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// Migrate creates or updates every table the registry owns.
func Migrate(db *gorm.DB) error {
	if err := db.SetupJoinTable(&Group{}, "Permissions", &GroupPermission{}); err != nil {
		return fmt.Errorf("failed to set up group_permissions: %w", err)
	}
	if err := db.AutoMigrate(&Permission{}, &Group{}, &GroupPermission{}, &User{}, &Session{}, &UserActivity{}); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	return nil
}

// MySQLDSN builds a go-sql-driver DSN from the configuration.
func MySQLDSN(c config.MySQLConfig) string {
	dsn := mysqldriver.NewConfig()
	dsn.User = c.Username
	dsn.Passwd = c.Password
	dsn.Net = "tcp"
	dsn.Addr = net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
	dsn.DBName = c.Database
	dsn.ParseTime = true
	if c.Charset != "" {
		dsn.Params = map[string]string{"charset": c.Charset}
	}
	return dsn.FormatDSN()
}
