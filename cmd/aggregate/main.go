// Package main computes experiment variant metrics once and prints them as
// JSON.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"github.com/onnwee/foryou/internal/config"
	"github.com/onnwee/foryou/internal/db"
	"github.com/onnwee/foryou/internal/experiment"
	"github.com/onnwee/foryou/internal/exposure"
	"github.com/onnwee/foryou/internal/interaction"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML configuration file")
	lookback := flag.Duration("lookback", 0, "aggregation window (default: metrics_lookback)")
	help := flag.Bool("help", false, "display help message")
	flag.Parse()

	if *help {
		fmt.Println("For You Variant Metrics")
		fmt.Println()
		fmt.Println("Usage: aggregate [options]")
		fmt.Println()
		fmt.Println("Options:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	cfg, errs := config.Load(*configPath)
	// Logs go to stderr so stdout carries only the report.
	var logger *slog.Logger
	if cfg != nil && cfg.Env == "production" {
		logger = slog.New(slog.NewJSONHandler(os.Stderr, nil))
	} else {
		logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	slog.SetDefault(logger)
	if len(errs) > 0 {
		for _, err := range errs {
			logger.Error("invalid configuration", "error", err)
		}
		os.Exit(1)
	}
	if *lookback == 0 {
		*lookback = cfg.MetricsLookback
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := run(ctx, cfg, *lookback, os.Stdout, logger)
	stop()
	if err != nil {
		logger.Error("aggregation failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, lookback time.Duration, out io.Writer, logger *slog.Logger) error {
	if cfg.DatabaseURL == "" {
		return errors.New("database_url is required to read interaction events")
	}
	pool, err := db.Open(ctx, cfg.DatabaseURL, db.DefaultPoolConfig())
	if err != nil {
		return err
	}
	defer pool.Close()

	var exposures exposure.Source = exposure.NewPostgresStore(pool)
	if cfg.ExposureSink == config.SinkRedis {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("parse redis url: %w", err)
		}
		client := redis.NewClient(opts)
		defer client.Close()
		exposures = exposure.NewRedisStreamSink(client, exposure.RedisStreamConfig{})
	}

	return report(ctx, exposures, interaction.NewPostgresStore(pool), cfg, lookback, out, logger)
}

// report computes one variant report and writes it to out as indented JSON.
func report(ctx context.Context, exposures exposure.Source, events interaction.EventSource, cfg *config.Config, lookback time.Duration, out io.Writer, logger *slog.Logger) error {
	agg := experiment.NewAggregator(exposures, events, experiment.AggregatorConfig{
		MaxLookback: cfg.MetricsMaxLookback,
		Variants:    cfg.Variants,
		Logger:      logger,
	})
	r, err := agg.ComputeForLookback(ctx, lookback)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	data = append(data, '\n')
	_, err = out.Write(data)
	return err
}
