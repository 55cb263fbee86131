package config

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/mitchellh/mapstructure"

	"github.com/marmos91/moji/internal/logger"
	"github.com/marmos91/moji/internal/ratelimiter"
	"github.com/marmos91/moji/pkg/tracker"
	trackerBadger "github.com/marmos91/moji/pkg/tracker/badger"
	trackerMemory "github.com/marmos91/moji/pkg/tracker/memory"
	"github.com/marmos91/moji/pkg/transport"
	transportHTTP "github.com/marmos91/moji/pkg/transport/http"
	transportMemory "github.com/marmos91/moji/pkg/transport/memory"
	transportMinio "github.com/marmos91/moji/pkg/transport/minio"
	transportS3 "github.com/marmos91/moji/pkg/transport/s3"
)

// decode decodes a type-specific section into out, accepting duration strings.
func decode(options map[string]any, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return fmt.Errorf("failed to create decoder: %w", err)
	}
	return decoder.Decode(options)
}

// CreateTracker creates a tracker based on configuration.
//
// This factory function uses the Type field to determine which tracker implementation
// to create, then decodes the type-specific configuration from the corresponding
// map and passes it to the tracker's constructor.
//
// Supported types:
//   - "memory": Uses pkg/tracker/memory (in-process, ephemeral)
//   - "badger": Uses pkg/tracker/badger (BadgerDB storage, persistent)
//
// Parameters:
//   - ctx: Context for initialization operations
//   - cfg: Tracker configuration
//
// Returns:
//   - tracker.Tracker: Initialized tracker
//   - error: Configuration or initialization error
func CreateTracker(ctx context.Context, cfg *TrackerConfig) (tracker.Tracker, error) {
	switch cfg.Type {
	case "memory":
		return createMemoryTracker(ctx, cfg.Nodes)
	case "badger":
		return createBadgerTracker(ctx, cfg.Badger, cfg.Nodes)
	default:
		return nil, fmt.Errorf("unknown tracker type: %q (supported: memory, badger)", cfg.Type)
	}
}

// createMemoryTracker creates an in-memory tracker.
func createMemoryTracker(ctx context.Context, nodes []tracker.Node) (tracker.Tracker, error) {
	// Check context before creating tracker
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	t, err := trackerMemory.NewMemoryTracker(trackerMemory.MemoryTrackerConfig{Nodes: nodes})
	if err != nil {
		return nil, fmt.Errorf("failed to create memory tracker: %w", err)
	}
	return t, nil
}

// createBadgerTracker creates a BadgerDB-based persistent tracker.
func createBadgerTracker(ctx context.Context, options map[string]any, nodes []tracker.Node) (tracker.Tracker, error) {
	// Check context before creating tracker
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	type BadgerTrackerOptions struct {
		DBPath           string        `mapstructure:"db_path"`
		BlockCacheSizeMB int64         `mapstructure:"block_cache_size_mb"`
		IndexCacheSizeMB int64         `mapstructure:"index_cache_size_mb"`
		PendingTTL       time.Duration `mapstructure:"pending_ttl"`
	}

	var opts BadgerTrackerOptions
	if err := decode(options, &opts); err != nil {
		return nil, fmt.Errorf("failed to decode badger tracker options: %w", err)
	}

	// Validate required fields
	if opts.DBPath == "" {
		return nil, fmt.Errorf("badger tracker: db_path is required")
	}

	t, err := trackerBadger.NewBadgerTracker(ctx, trackerBadger.BadgerTrackerConfig{
		DBPath:           opts.DBPath,
		BlockCacheSizeMB: opts.BlockCacheSizeMB,
		IndexCacheSizeMB: opts.IndexCacheSizeMB,
		PendingTTL:       opts.PendingTTL,
		Nodes:            nodes,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create badger tracker: %w", err)
	}

	logger.Info("Badger tracker initialized: db_path=%s, nodes=%d", opts.DBPath, len(nodes))
	return t, nil
}

// CreateRateLimiter creates the tracker request limiter.
// Returns nil when no rate is configured.
func CreateRateLimiter(cfg *RateLimitConfig) *ratelimiter.RateLimiter {
	if cfg.RequestsPerSecond == 0 {
		return nil
	}
	return ratelimiter.New(cfg.RequestsPerSecond, cfg.Burst)
}

// CreateConnections creates a connection factory routing every enabled
// transport by URL scheme.
//
// Parameters:
//   - ctx: Context for initialization operations (S3 credential loading)
//   - cfg: Transport configuration
//
// Returns:
//   - *transport.Router: Router with one factory per enabled scheme
//   - error: Configuration or initialization error
func CreateConnections(ctx context.Context, cfg *TransportConfig) (*transport.Router, error) {
	router := transport.NewRouter()

	if cfg.Memory != nil {
		router.Register(transportMemory.NewMemoryTransport(), transportMemory.Scheme)
	}

	if cfg.HTTP != nil {
		t, err := createHTTPTransport(cfg.HTTP)
		if err != nil {
			return nil, err
		}
		router.Register(t, "http", "https")
	}

	if cfg.S3 != nil {
		t, err := createS3Transport(ctx, cfg.S3)
		if err != nil {
			return nil, err
		}
		router.Register(t, transportS3.Scheme)
	}

	if cfg.Minio != nil {
		t, err := createMinioTransport(cfg.Minio)
		if err != nil {
			return nil, err
		}
		router.Register(t, transportMinio.Scheme)
	}

	if len(router.Schemes()) == 0 {
		return nil, fmt.Errorf("no transport enabled")
	}

	logger.Debug("Transports enabled for schemes: %v", router.Schemes())
	return router, nil
}

// createHTTPTransport creates the transport for HTTP storage nodes.
func createHTTPTransport(options map[string]any) (transport.ConnectionFactory, error) {
	type HTTPTransportOptions struct {
		Timeout         time.Duration `mapstructure:"timeout"`
		MaxIdleConns    int           `mapstructure:"max_idle_conns"`
		ContinueTimeout time.Duration `mapstructure:"continue_timeout"`
	}

	var opts HTTPTransportOptions
	if err := decode(options, &opts); err != nil {
		return nil, fmt.Errorf("failed to decode http transport options: %w", err)
	}

	return transportHTTP.NewHTTPTransport(transportHTTP.HTTPTransportConfig{
		Timeout:         opts.Timeout,
		MaxIdleConns:    opts.MaxIdleConns,
		ContinueTimeout: opts.ContinueTimeout,
	}), nil
}

// createS3Transport creates an S3-based transport.
func createS3Transport(ctx context.Context, options map[string]any) (transport.ConnectionFactory, error) {
	type S3TransportOptions struct {
		Region          string `mapstructure:"region"`
		Endpoint        string `mapstructure:"endpoint"`
		AccessKeyID     string `mapstructure:"access_key_id"`
		SecretAccessKey string `mapstructure:"secret_access_key"`
		ForcePathStyle  bool   `mapstructure:"force_path_style"`
		PartSize        int64  `mapstructure:"part_size"`
		MaxRetries      int    `mapstructure:"max_retries"`
	}

	var opts S3TransportOptions
	if err := decode(options, &opts); err != nil {
		return nil, fmt.Errorf("failed to decode S3 transport options: %w", err)
	}

	// Validate required fields
	if opts.Region == "" {
		return nil, fmt.Errorf("S3 transport: region is required")
	}

	// ========================================================================
	// Step 1: Build AWS Config
	// ========================================================================

	configOptions := []func(*awsConfig.LoadOptions) error{
		awsConfig.WithRegion(opts.Region),
	}

	// Set credentials if provided, otherwise use default credential chain
	if opts.AccessKeyID != "" && opts.SecretAccessKey != "" {
		credProvider := credentials.NewStaticCredentialsProvider(
			opts.AccessKeyID,
			opts.SecretAccessKey,
			"", // session token (empty for static credentials)
		)
		configOptions = append(configOptions, awsConfig.WithCredentialsProvider(credProvider))
	}

	// Default to 10 attempts (AWS default is 3)
	maxRetries := opts.MaxRetries
	if maxRetries == 0 {
		maxRetries = 10
	}
	configOptions = append(configOptions, awsConfig.WithRetryer(func() aws.Retryer {
		return retry.NewStandard(func(o *retry.StandardOptions) {
			o.MaxAttempts = maxRetries
		})
	}))

	awsCfg, err := awsConfig.LoadDefaultConfig(ctx, configOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	// ========================================================================
	// Step 2: Create S3 Client
	// ========================================================================

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		// Custom endpoints (MinIO, Localstack, ...) need path-style addressing
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
		if opts.ForcePathStyle {
			o.UsePathStyle = true
		}
	})

	// ========================================================================
	// Step 3: Create S3 Transport
	// ========================================================================

	t, err := transportS3.NewS3Transport(transportS3.S3TransportConfig{
		Client:   client,
		PartSize: opts.PartSize,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 transport: %w", err)
	}

	logger.Info("S3 transport initialized: region=%s, endpoint=%s", opts.Region, opts.Endpoint)
	return t, nil
}

// createMinioTransport creates a MinIO-based transport.
func createMinioTransport(options map[string]any) (transport.ConnectionFactory, error) {
	type MinioTransportOptions struct {
		Endpoint        string `mapstructure:"endpoint"`
		AccessKeyID     string `mapstructure:"access_key_id"`
		SecretAccessKey string `mapstructure:"secret_access_key"`
		UseSSL          bool   `mapstructure:"use_ssl"`
		Region          string `mapstructure:"region"`
	}

	var opts MinioTransportOptions
	if err := decode(options, &opts); err != nil {
		return nil, fmt.Errorf("failed to decode minio transport options: %w", err)
	}

	if opts.Endpoint == "" {
		return nil, fmt.Errorf("minio transport: endpoint is required")
	}

	t, err := transportMinio.NewMinioTransport(transportMinio.MinioTransportConfig{
		Endpoint:        opts.Endpoint,
		AccessKeyID:     opts.AccessKeyID,
		SecretAccessKey: opts.SecretAccessKey,
		UseSSL:          opts.UseSSL,
		Region:          opts.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio transport: %w", err)
	}

	logger.Info("MinIO transport initialized: endpoint=%s, ssl=%v", opts.Endpoint, opts.UseSSL)
	return t, nil
}
