package config

import (
	"context"
	"os"
	"time"

	"motorent/internal/pricing"
)

// WatchPricing reloads the config file on change and calls onUpdate with the
// pricing section. It performs an initial load before entering the watch loop.
// Reloads that fail to parse or validate are skipped.
func WatchPricing(ctx context.Context, path string, interval time.Duration, onUpdate func(pricing.Rates)) error {
	if path == "" {
		path = DefaultPath
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}

	cfg, err := Load(path)
	if err != nil {
		return err
	}
	if onUpdate != nil {
		onUpdate(cfg.Pricing)
	}

	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	lastMod := info.ModTime()

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				info, err := os.Stat(path)
				if err != nil {
					continue // transient errors
				}
				if !info.ModTime().After(lastMod) {
					continue
				}
				cfg, err := Load(path)
				if err != nil {
					continue
				}
				lastMod = info.ModTime()
				if onUpdate != nil {
					onUpdate(cfg.Pricing)
				}
			}
		}
	}()

	return nil
}
