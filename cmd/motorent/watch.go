package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"motorent/internal/availability"
	"motorent/internal/config"
	"motorent/internal/models"
	"motorent/internal/pricing"
	"motorent/internal/realtime"
)

func WatchCmd() *cobra.Command {
	var (
		rng   rangeFlags
		typ   string
		units []int64
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow live availability for a date range",
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := rng.dateRange()
			if err != nil {
				return err
			}
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			if a.cfg.Realtime.URL == "" {
				return fmt.Errorf("realtime.url is not configured")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			typeID, err := a.resolveType(ctx, typ)
			if err != nil {
				return err
			}

			a.startMonitoring(ctx)
			err = config.WatchPricing(ctx, configPath, 30*time.Second, func(rates pricing.Rates) {
				if err := a.calc.SetRates(rates); err != nil {
					a.logger.Warn().Err(err).Msg("pricing reload rejected")
					return
				}
				a.logger.Debug().Interface("rates", rates).Msg("pricing loaded")
			})
			if err != nil {
				a.logger.Warn().Err(err).Msg("pricing watcher disabled")
			}

			return watch(ctx, a, availability.QueryFor(r, typeID), units)
		},
	}
	rng.register(cmd)
	cmd.Flags().StringVar(&typ, "type", "", "motorcycle type id or slug")
	cmd.Flags().Int64SliceVar(&units, "unit", nil, "also join the room of these unit ids")
	return cmd
}

func watch(ctx context.Context, a *app, q availability.Query, unitIDs []int64) error {
	header := http.Header{}
	if a.cfg.API.APIKey != "" {
		header.Set("x-api-key", a.cfg.API.APIKey)
	}
	ws := realtime.NewWSTransport(a.cfg.Realtime.URL, header, a.logger)
	ws.MinBackoff, ws.MaxBackoff = a.cfg.RealtimeBackoff()

	engine := realtime.NewEngine(ws, a.logger)
	active := q.Range()

	load := func() error {
		units, err := a.avail.Refresh(ctx, q)
		if err != nil {
			return err
		}
		engine.Load(units, &active)
		return nil
	}

	engine.OnBookingCreated(func(_ int64, booked models.DateRange) {
		if n := a.avail.InvalidateOverlapping(ctx, booked); n > 0 {
			a.logger.Debug().Int("dropped", n).Str("range", booked.String()).Msg("availability cache invalidated")
		}
	})
	engine.OnResync(func() {
		if err := load(); err != nil {
			a.logger.Warn().Err(err).Msg("resync after reconnect failed")
		}
	})
	unsubscribe := engine.Subscribe(func() {
		printUnits(os.Stdout, engine.Available(), active, a.calc)
	})
	defer unsubscribe()

	if err := load(); err != nil {
		return err
	}

	runErr := make(chan error, 1)
	go func() { runErr <- ws.Run(ctx) }()

	if err := ws.WaitConnected(ctx); err != nil {
		return err
	}

	rooms := []string{realtime.RoomAvailability, realtime.RoomMotorcycles}
	for _, id := range unitIDs {
		rooms = append(rooms, realtime.UnitRoom(id))
	}
	for _, room := range rooms {
		if err := engine.Join(ctx, room); err != nil {
			return err
		}
	}
	a.logger.Info().Strs("rooms", engine.Rooms()).Msg("watching")

	err := <-runErr
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
