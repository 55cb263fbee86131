package config

import (
	"context"
	"fmt"

	"github.com/marmos91/moji/pkg/moji"
	"github.com/marmos91/moji/pkg/transport"
)

// NewClient creates a moji client from configuration.
//
// This function orchestrates the complete initialization process:
//  1. Creates the tracker from cfg.Tracker
//  2. Creates one transport per enabled section of cfg.Transport
//  3. Attaches the rate limiter and the metrics collectors in m
//
// m may be nil, in which case no metrics are collected. The returned client
// owns the tracker; close it with Client.Close.
func NewClient(ctx context.Context, cfg *Config, m *MetricsResult) (*moji.Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration is nil")
	}
	if m == nil {
		m = &MetricsResult{}
	}

	// Step 1: Tracker
	tr, err := CreateTracker(ctx, &cfg.Tracker)
	if err != nil {
		return nil, err
	}

	// Step 2: Transports
	router, err := CreateConnections(ctx, &cfg.Transport)
	if err != nil {
		_ = tr.Close()
		return nil, err
	}

	// Step 3: Options
	opts := []moji.Option{moji.WithMetrics(m.Client)}
	if limiter := CreateRateLimiter(&cfg.Tracker.RateLimit); limiter != nil {
		opts = append(opts, moji.WithRateLimiter(limiter))
	}

	return moji.New(tr, transport.Instrument(router, m.Transport), opts...), nil
}
