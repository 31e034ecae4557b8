// Command oriructl is the Oriru administration CLI.
//
// Usage:
//
//	oriructl stations list
//	oriructl stations add --name "Shibuya" --lat 35.658 --lon 139.7016 --lines JR-Y
//	oriructl alerts list --all
//	oriructl alerts pause --id <uuid>
//	oriructl history prune --days 30
//	oriructl simulate --lat 35.658 --lon 139.7016 --threshold 500 --start 3000
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/oriru-app/oriru-core/internal/alert"
	"github.com/oriru-app/oriru-core/internal/config"
	"github.com/oriru-app/oriru-core/internal/geo"
	"github.com/oriru-app/oriru-core/internal/monitor"
	"github.com/oriru-app/oriru-core/internal/registry"
	"github.com/oriru-app/oriru-core/internal/store"
)

var logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

func main() {
	// Load .env if present
	_ = godotenv.Load(".env")

	root := &cobra.Command{
		Use:   "oriructl",
		Short: "Oriru alert engine administration CLI",
	}

	root.AddCommand(stationsCmd())
	root.AddCommand(alertsCmd())
	root.AddCommand(historyCmd())
	root.AddCommand(simulateCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// --------------------------------------------------------------------------
// stations command
// --------------------------------------------------------------------------

func stationsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stations",
		Short: "Manage target stations",
	}
	cmd.AddCommand(stationsListCmd())
	cmd.AddCommand(stationsAddCmd())
	return cmd
}

func stationsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List saved stations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStore(func(ctx context.Context, _ *config.Config, st store.Store) error {
				stations, err := st.ListStations(ctx)
				if err != nil {
					return err
				}
				for _, s := range stations {
					fav := " "
					if s.Favorite {
						fav = "*"
					}
					fmt.Printf("%s %s  %-24s  %9.5f,%10.5f  %v\n",
						fav, s.ID, s.Name, s.Latitude, s.Longitude, s.Lines)
				}
				fmt.Printf("%d station(s)\n", len(stations))
				return nil
			})
		},
	}
}

func stationsAddCmd() *cobra.Command {
	var (
		name     string
		lat, lon float64
		lines    []string
	)
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Save a new target station",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStore(func(ctx context.Context, _ *config.Config, st store.Store) error {
				s := alert.Station{
					ID:        uuid.New(),
					Name:      name,
					Latitude:  lat,
					Longitude: lon,
					Lines:     lines,
				}
				if err := s.Validate(); err != nil {
					return err
				}
				if err := st.SaveStation(ctx, &s); err != nil {
					return err
				}
				fmt.Printf("created station %s (%s)\n", s.ID, s.Name)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Station name")
	cmd.Flags().Float64Var(&lat, "lat", 0, "Latitude")
	cmd.Flags().Float64Var(&lon, "lon", 0, "Longitude")
	cmd.Flags().StringSliceVar(&lines, "lines", nil, "Line identifiers")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

// --------------------------------------------------------------------------
// alerts command
// --------------------------------------------------------------------------

func alertsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "alerts",
		Short: "Manage alerts",
	}
	cmd.AddCommand(alertsListCmd())
	cmd.AddCommand(alertsSetActiveCmd("pause", false))
	cmd.AddCommand(alertsSetActiveCmd("resume", true))
	cmd.AddCommand(alertsDeleteCmd())
	return cmd
}

func alertsListCmd() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List alerts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStore(func(ctx context.Context, _ *config.Config, st store.Store) error {
				alerts, err := st.ListAlerts(ctx, all)
				if err != nil {
					return err
				}
				for _, a := range alerts {
					state := "paused"
					if a.Active {
						state = "active"
					}
					fmt.Printf("%s  %-8s  %-8s  %-8s  %s\n",
						a.ID, a.Mode, a.Persona, state, describeTrigger(a))
				}
				fmt.Printf("%d alert(s)\n", len(alerts))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "Include inactive alerts")
	return cmd
}

func describeTrigger(a alert.Alert) string {
	switch a.Mode {
	case alert.TriggerTime:
		return fmt.Sprintf("%dmin before %s", a.LeadMinutes, a.TargetArrival.Format(time.RFC3339))
	case alert.TriggerDistance:
		return fmt.Sprintf("within %.0fm", a.ThresholdMeters)
	case alert.TriggerStops:
		return fmt.Sprintf("%d stop(s) remaining", a.StopCount)
	}
	return ""
}

// alertsSetActiveCmd covers pause and resume; the server picks the change up
// on its next restart or registry reload.
func alertsSetActiveCmd(use string, active bool) *cobra.Command {
	var id string
	cmd := &cobra.Command{
		Use:   use,
		Short: use + " an alert",
		RunE: func(cmd *cobra.Command, args []string) error {
			alertID, err := uuid.Parse(id)
			if err != nil {
				return fmt.Errorf("--id must be a UUID: %w", err)
			}
			return runStore(func(ctx context.Context, _ *config.Config, st store.Store) error {
				a, err := st.GetAlert(ctx, alertID)
				if err != nil {
					return err
				}
				a.Active = active
				if err := st.SaveAlert(ctx, a); err != nil {
					return err
				}
				fmt.Printf("alert %s %sd\n", alertID, use)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "Alert ID")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func alertsDeleteCmd() *cobra.Command {
	var id string
	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete an alert and its history",
		RunE: func(cmd *cobra.Command, args []string) error {
			alertID, err := uuid.Parse(id)
			if err != nil {
				return fmt.Errorf("--id must be a UUID: %w", err)
			}
			return runStore(func(ctx context.Context, _ *config.Config, st store.Store) error {
				if err := st.DeleteAlert(ctx, alertID); err != nil {
					return err
				}
				fmt.Printf("alert %s deleted\n", alertID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "Alert ID")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

// --------------------------------------------------------------------------
// history command
// --------------------------------------------------------------------------

func historyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect and prune notification history",
	}
	cmd.AddCommand(historyListCmd())
	cmd.AddCommand(historyPruneCmd())
	return cmd
}

func historyListCmd() *cobra.Command {
	var (
		id    string
		limit int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List delivered notifications for an alert",
		RunE: func(cmd *cobra.Command, args []string) error {
			alertID, err := uuid.Parse(id)
			if err != nil {
				return fmt.Errorf("--alert must be a UUID: %w", err)
			}
			return runStore(func(ctx context.Context, _ *config.Config, st store.Store) error {
				rows, err := st.ListHistory(ctx, alertID, limit)
				if err != nil {
					return err
				}
				for _, h := range rows {
					fmt.Printf("%s  %s\n", h.DeliveredAt.Format(time.RFC3339), h.Message)
				}
				fmt.Printf("%d notification(s)\n", len(rows))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&id, "alert", "", "Alert ID")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum rows")
	_ = cmd.MarkFlagRequired("alert")
	return cmd
}

func historyPruneCmd() *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete history rows older than --days",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStore(func(ctx context.Context, _ *config.Config, st store.Store) error {
				cutoff := time.Now().AddDate(0, 0, -days)
				n, err := st.PruneHistory(ctx, cutoff)
				if err != nil {
					return err
				}
				fmt.Printf("pruned %d row(s) older than %s\n", n, cutoff.Format(time.RFC3339))
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&days, "days", 90, "Retention in days")
	return cmd
}

// --------------------------------------------------------------------------
// simulate command
// --------------------------------------------------------------------------

// simulateCmd replays a straight-line approach toward a station against an
// in-memory engine, logging each notification. Useful for tuning thresholds
// without a device.
func simulateCmd() *cobra.Command {
	var (
		lat, lon  float64
		threshold float64
		startDist float64
		pace      time.Duration
	)
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Replay an approach against an in-memory engine",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
			defer cancel()

			mem := store.NewMemory()
			station := alert.Station{
				ID: uuid.New(), Name: "Simulated Target", Latitude: lat, Longitude: lon,
			}
			if err := mem.SaveStation(ctx, &station); err != nil {
				return err
			}
			a := alert.Alert{
				ID:              uuid.New(),
				StationID:       station.ID,
				Mode:            alert.TriggerDistance,
				ThresholdMeters: threshold,
				Persona:         alert.PersonaPlain,
				Active:          true,
				CreatedAt:       time.Now(),
			}
			if err := a.Validate(); err != nil {
				return err
			}
			if err := mem.SaveAlert(ctx, &a); err != nil {
				return err
			}
			reg, err := registry.Load(ctx, mem)
			if err != nil {
				return err
			}

			provider := geo.NewReplayProvider(approachTrack(lat, lon, startDist, 20), pace)
			engine := monitor.New(monitor.Options{
				Store:    mem,
				Registry: reg,
				Provider: provider,
				Logger:   logger,
			})
			go provider.Run(ctx)
			go engine.Run(ctx)

			// Poll until the session completes or the rider gives up.
			ticker := time.NewTicker(200 * time.Millisecond)
			defer ticker.Stop()
			deadline := time.After(2 * time.Minute)
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-deadline:
					return fmt.Errorf("simulation did not complete")
				case <-ticker.C:
					status, err := engine.Snapshot(ctx)
					if err != nil {
						return err
					}
					if len(status.Sessions) == 0 {
						logger.Info("Simulation complete: alert fired and completed")
						return nil
					}
				}
			}
		},
	}
	cmd.Flags().Float64Var(&lat, "lat", 35.6580, "Target station latitude")
	cmd.Flags().Float64Var(&lon, "lon", 139.7016, "Target station longitude")
	cmd.Flags().Float64Var(&threshold, "threshold", 500, "Trigger radius in meters")
	cmd.Flags().Float64Var(&startDist, "start", 3000, "Starting distance in meters")
	cmd.Flags().DurationVar(&pace, "pace", 300*time.Millisecond, "Delay between replayed samples")
	return cmd
}

// approachTrack builds samples moving due south toward the target from
// startDist meters north, in steps.
func approachTrack(lat, lon, startDist float64, steps int) []geo.Sample {
	const metersPerDegree = 111195.08
	track := make([]geo.Sample, 0, steps+1)
	for i := 0; i <= steps; i++ {
		d := startDist * float64(steps-i) / float64(steps)
		track = append(track, geo.Sample{
			Latitude:  lat + d/metersPerDegree,
			Longitude: lon,
			Timestamp: time.Now(),
		})
	}
	return track
}

// --------------------------------------------------------------------------
// Shared setup
// --------------------------------------------------------------------------

// runStore handles config loading, store opening, and context cancellation.
func runStore(fn func(ctx context.Context, cfg *config.Config, st store.Store) error) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	st, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	return fn(ctx, cfg, st)
}

func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.StoreDriver {
	case config.DriverPostgres:
		return store.NewPostgres(ctx, store.PostgresConfig{
			URL:         cfg.DatabaseURL,
			MinConns:    cfg.DBPoolMinConns,
			MaxConns:    cfg.DBPoolMaxConns,
			MaxConnLife: cfg.DBPoolMaxLife,
		})
	case config.DriverSQLite:
		return store.NewSQLite(cfg.SQLitePath)
	case config.DriverMemory:
		return store.NewMemory(), nil
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
}
