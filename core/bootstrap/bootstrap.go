package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	coreconfig "github.com/leadrelay/leadrelay/core/config"
	coredatabase "github.com/leadrelay/leadrelay/core/database"
	"github.com/leadrelay/leadrelay/core/logger"
	"log/slog"
)

// Options control the bootstrap pipeline.
type Options struct {
	Config *coreconfig.Config

	LoggerInit func(*coreconfig.Config) error
	Connect    func(coreconfig.DatabaseConfig) (*sqlx.DB, error)
	Migrate    func(coreconfig.DatabaseConfig) error
}

// Result exposes infrastructure initialized by the bootstrap pipeline.
type Result struct {
	DB    *sqlx.DB
	Redis *redis.Client
	S3    *s3.Client
}

// Run initializes the logger, connects to the database, applies migrations,
// and builds the Redis and S3 clients.
func Run(ctx context.Context, opts Options) (*Result, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("bootstrap: nil config provided")
	}

	loggerInit := opts.LoggerInit
	if loggerInit == nil {
		loggerInit = logger.InitLogger
	}
	if err := loggerInit(opts.Config); err != nil {
		return nil, fmt.Errorf("bootstrap: logger init failed: %w", err)
	}

	connect := opts.Connect
	if connect == nil {
		connect = coredatabase.Connect
	}
	db, err := connect(opts.Config.Database)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: database initialization failed: %w", err)
	}

	migrate := opts.Migrate
	if migrate == nil {
		migrate = coredatabase.RunMigrations
	}
	if err := migrate(opts.Config.Database); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bootstrap: migrations failed: %w", err)
	}

	rdb := BuildRedisClient(ctx, opts.Config.Redis)
	s3Client, err := BuildS3Client(ctx, opts.Config.S3)
	if err != nil {
		_ = db.Close()
		_ = rdb.Close()
		return nil, fmt.Errorf("bootstrap: s3 client failed: %w", err)
	}

	return &Result{DB: db, Redis: rdb, S3: s3Client}, nil
}

// BuildRedisClient constructs the session store client and verifies connectivity.
// A failed ping is logged but not fatal: redis may come up after the service.
func BuildRedisClient(ctx context.Context, cfg coreconfig.RedisConfig) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.L.Warn("redis not available",
			slog.String("component", "redis"),
			slog.String("event", "redis.ping"),
			slog.String("addr", cfg.Addr),
			slog.String("err", err.Error()),
		)
	} else {
		logger.L.Info("redis connected",
			slog.String("component", "redis"),
			slog.String("event", "redis.connect"),
			slog.String("addr", cfg.Addr),
		)
	}
	return client
}

// BuildS3Client constructs the object storage client. A custom endpoint
// switches the client to path-style addressing for S3-compatible stores.
func BuildS3Client(ctx context.Context, cfg coreconfig.S3Config) (*s3.Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	logger.S3.Info("s3 client ready",
		slog.String("event", "s3.init"),
		slog.String("bucket", cfg.Bucket),
		slog.String("endpoint", cfg.Endpoint),
	)
	return client, nil
}
