package main

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"strings"
	"time"

	notify "github.com/goliatone/go-notify"
	configviper "github.com/goliatone/go-notify/config/viper"
	"github.com/goliatone/go-notify/core"
	notifymigrations "github.com/goliatone/go-notify/migrations"
	persistence "github.com/goliatone/go-persistence-bun"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/schema"
)

// persistenceConfig exposes the database section in the shape
// go-persistence-bun expects.
type persistenceConfig struct {
	db core.DatabaseConfig
}

func (c persistenceConfig) GetDebug() bool {
	return c.db.Debug
}

func (c persistenceConfig) GetDriver() string {
	return driverName(c.db.Driver)
}

func (c persistenceConfig) GetServer() string {
	return c.db.DSN
}

func (c persistenceConfig) GetPingTimeout() time.Duration {
	return 5 * time.Second
}

func (c persistenceConfig) GetOtelIdentifier() string {
	return ""
}

func driverName(driver string) string {
	if strings.TrimSpace(driver) == "" {
		return "postgres"
	}
	return strings.TrimSpace(driver)
}

func loadConfig(ctx context.Context, path string) (core.Config, error) {
	cfg, err := core.NewCfgxConfigProvider(configviper.NewLoader(path)).Load(ctx, core.DefaultConfig())
	if err != nil {
		return core.Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return core.Config{}, err
	}
	return cfg, nil
}

func openClient(ctx context.Context, cfg core.Config) (*persistence.Client, error) {
	pcfg := persistenceConfig{db: cfg.Database}
	if strings.TrimSpace(pcfg.GetServer()) == "" {
		return nil, fmt.Errorf("notifyd: database.dsn is required")
	}
	var dialect schema.Dialect
	switch pcfg.GetDriver() {
	case "sqlite3":
		dialect = sqlitedialect.New()
	default:
		dialect = pgdialect.New()
	}
	sqlDB, err := sql.Open(pcfg.GetDriver(), pcfg.GetServer())
	if err != nil {
		return nil, fmt.Errorf("notifyd: open database: %w", err)
	}
	client, err := persistence.New(pcfg, sqlDB, dialect)
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("notifyd: persistence client: %w", err)
	}

	target, err := notifymigrations.DialectForDriver(pcfg.GetDriver())
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	if _, err := notifymigrations.Register(ctx,
		notifymigrations.ForDialect(target, func(fsys fs.FS) {
			client.RegisterSQLMigrations(fsys)
		}),
		notifymigrations.WithValidationTargets(target),
	); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

// openRuntime loads the config, connects the database and builds the
// runtime. The returned closer releases both.
func openRuntime(ctx context.Context, configPath string) (*notify.Runtime, *persistence.Client, func(), error) {
	cfg, err := loadConfig(ctx, configPath)
	if err != nil {
		return nil, nil, nil, err
	}
	client, err := openClient(ctx, cfg)
	if err != nil {
		return nil, nil, nil, err
	}
	rt, err := notify.New(cfg, notify.Dependencies{DB: client.DB()})
	if err != nil {
		_ = client.Close()
		return nil, nil, nil, err
	}
	return rt, client, func() {
		_ = rt.Close()
		_ = client.Close()
	}, nil
}
