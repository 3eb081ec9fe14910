package db

import (
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"github.com/solocore/textloom/internal/platform/envutil"
	"github.com/solocore/textloom/internal/platform/logger"
)

// Open connects to the task store. Postgres is the production driver;
// DB_DRIVER=sqlite opens a local file database for development.
func Open(log *logger.Logger) (*gorm.DB, error) {
	driver := strings.ToLower(envutil.String("DB_DRIVER", "postgres"))

	cfg := &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		Logger:                                   gormLogger.Default.LogMode(gormLogger.Silent),
	}

	var (
		handle *gorm.DB
		err    error
	)
	switch driver {
	case "sqlite":
		path := envutil.String("SQLITE_PATH", "textloom.db")
		handle, err = gorm.Open(sqlite.Open(path), cfg)
		if err != nil {
			return nil, fmt.Errorf("open sqlite %q: %w", path, err)
		}
		log.Info("Connected to sqlite store", "path", path)
	default:
		dsn := envutil.String("DATABASE_URL", "")
		if dsn == "" {
			return nil, fmt.Errorf("missing env var DATABASE_URL")
		}
		dsn = withDSNOptions(dsn)
		handle, err = gorm.Open(postgres.Open(dsn), cfg)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		log.Info("Connected to postgres store")
	}

	sqlDB, err := handle.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(envutil.Int("DB_MAX_OPEN_CONNS", 20))
	sqlDB.SetMaxIdleConns(envutil.Int("DB_MAX_IDLE_CONNS", 5))
	sqlDB.SetConnMaxLifetime(envutil.Duration("DB_CONN_MAX_LIFETIME", 30*time.Minute))

	return handle, nil
}

// withDSNOptions pins the statement timeout and search path expected by
// the textloom_core schema onto a keyword/value DSN.
func withDSNOptions(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		if !strings.Contains(dsn, "statement_timeout") {
			dsn += sep + "statement_timeout=60000"
			sep = "&"
		}
		if !strings.Contains(dsn, "search_path") {
			dsn += sep + "search_path=textloom_core,public"
		}
		return dsn
	}
	if !strings.Contains(dsn, "statement_timeout") {
		dsn += " statement_timeout=60000"
	}
	if !strings.Contains(dsn, "search_path") {
		dsn += " search_path=textloom_core,public"
	}
	return dsn
}
