package main

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"

	goSession "github.com/MrEthical07/goSession"
	"github.com/MrEthical07/goSession/directory"
	"github.com/MrEthical07/goSession/internal/db"
	"github.com/MrEthical07/goSession/password"
)

// deps are the resources shared by every command.
type deps struct {
	cfg fileConfig
	db  *sqlx.DB
	dir *directory.Directory

	redis  *redis.Client
	engine *goSession.Engine
}

func (d *deps) close() {
	if d.engine != nil {
		d.engine.Close()
	}
	if d.redis != nil {
		_ = d.redis.Close()
	}
	if d.db != nil {
		_ = d.db.Close()
	}
}

type cmdFunc func(ctx context.Context, clicmd *cli.Command, d *deps) error

// withDB initializes logging, loads the configuration and opens the database.
func withDB(fn cmdFunc) cli.ActionFunc {
	return func(ctx context.Context, clicmd *cli.Command) error {
		initializeLogger(clicmd.String("log.level"), clicmd.String("log.format"))
		ctx = log.Logger.WithContext(ctx)

		cfg, err := loadConfig(clicmd.String("config"), clicmd.String("env-file"))
		if err != nil {
			return err
		}

		conn, err := db.Open(ctx, cfg.Database.Driver, cfg.Database.DSN)
		if err != nil {
			return fmt.Errorf("connect to database failed: %w", err)
		}

		d := &deps{cfg: cfg, db: conn}
		defer d.close()

		hasher, err := password.NewArgon2(cfg.Password)
		if err != nil {
			return fmt.Errorf("password config: %w", err)
		}
		if d.dir, err = directory.New(conn, hasher); err != nil {
			return err
		}

		return fn(ctx, clicmd, d)
	}
}

// withEngine extends withDB with the Redis client and a built engine.
func withEngine(fn cmdFunc) cli.ActionFunc {
	return withDB(func(ctx context.Context, clicmd *cli.Command, d *deps) error {
		d.redis = redis.NewClient(&redis.Options{
			Addr:     d.cfg.Redis.Addr,
			Password: d.cfg.Redis.Password,
			DB:       d.cfg.Redis.DB,
		})

		engine, err := goSession.New().
			WithConfig(d.cfg.Engine).
			WithRedis(d.redis).
			WithDB(d.db).
			WithVerifier(d.dir).
			WithLogger(log.Logger).
			Build()
		if err != nil {
			return fmt.Errorf("build engine: %w", err)
		}
		d.engine = engine

		return fn(ctx, clicmd, d)
	})
}
