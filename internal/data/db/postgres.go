package db

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"github.com/yungbote/botforge-backend/internal/platform/envutil"
	"github.com/yungbote/botforge-backend/internal/platform/logger"
)

type PostgresService struct {
	db      *gorm.DB
	log     *logger.Logger
	dialect string
}

// NewPostgresService opens the relational store. DB_DRIVER=sqlite switches to a
// local SQLite file (SQLITE_PATH) for single-node development.
func NewPostgresService(logg *logger.Logger) (*PostgresService, error) {
	serviceLog := logg.With("service", "PostgresService")

	gormLog := gormLogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormLogger.Config{
			SlowThreshold:             1 * time.Second,
			LogLevel:                  gormLogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	cfg := &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		NowFunc:                                  func() time.Time { return time.Now().UTC() },
		Logger:                                   gormLog,
	}

	if strings.EqualFold(envutil.String("DB_DRIVER", "postgres"), "sqlite") {
		path := envutil.String("SQLITE_PATH", "botforge.db")
		db, err := gorm.Open(sqlite.Open(path+"?_busy_timeout=5000&_journal_mode=WAL"), cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite %q: %w", path, err)
		}
		serviceLog.Warn("Using SQLite store; row locking is unavailable, run a single worker process", "path", path)
		return &PostgresService{db: db, log: serviceLog, dialect: "sqlite"}, nil
	}

	dsn := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if dsn == "" {
		dsn = fmt.Sprintf(
			"postgres://%s:%s@%s:%s/%s?sslmode=%s",
			envutil.String("POSTGRES_USER", "postgres"),
			envutil.String("POSTGRES_PASSWORD", ""),
			envutil.String("POSTGRES_HOST", "localhost"),
			envutil.String("POSTGRES_PORT", "5432"),
			envutil.String("POSTGRES_NAME", "botforge"),
			envutil.String("POSTGRES_SSLMODE", "disable"),
		)
	}

	db, err := gorm.Open(postgres.Open(dsn), cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Postgres: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("postgres pool: %w", err)
	}
	sqlDB.SetMaxOpenConns(envutil.Int("POSTGRES_MAX_OPEN_CONNS", 20))
	sqlDB.SetMaxIdleConns(envutil.Int("POSTGRES_MAX_IDLE_CONNS", 10))
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	return &PostgresService{db: db, log: serviceLog, dialect: "postgres"}, nil
}

func (s *PostgresService) DB() *gorm.DB { return s.db }

func (s *PostgresService) Dialect() string { return s.dialect }

func (s *PostgresService) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
