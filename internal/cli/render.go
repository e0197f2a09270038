package cli

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/me/reflow/internal/cache"
	"github.com/me/reflow/internal/clock"
	"github.com/me/reflow/internal/engine"
	"github.com/me/reflow/internal/scene"
	"github.com/me/reflow/internal/store"
	"github.com/me/reflow/pkg/model"
)

func newRenderCmd() *cobra.Command {
	var resources []string
	var dbPath string
	var priority string
	var sync bool
	var latencyMS int
	var stepMS int
	var untilMS int
	var showMutations bool

	cmd := &cobra.Command{
		Use:   "render <scene-file>",
		Short: "Render a scene locally under a virtual clock",
		Long: `One-shot simulation that never contacts a server: loads the scene,
schedules it on a local engine, and advances virtual time in fixed steps,
printing every frame as it commits.

Resources come from repeated --resource key=value@latency flags or from the
catalog in a SQLite database given with --db. Keys the scene reads but the
catalog lacks reject with NOT_FOUND, which exercises fallbacks.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := model.ParsePriority(priority)
			if err != nil {
				return err
			}
			if stepMS <= 0 {
				return fmt.Errorf("--step must be positive, got %d", stepMS)
			}

			sc, err := scene.New(logger).LoadFile(args[0])
			if err != nil {
				return err
			}

			clk := clock.New()
			fetcher, err := buildFetcher(clk, resources, dbPath, time.Duration(latencyMS)*time.Millisecond)
			if err != nil {
				return err
			}

			eng := engine.New(engine.Config{Clock: clk, Fetcher: fetcher}, logger)
			subID, frames := eng.Subscribe(64)
			defer eng.Unsubscribe(subID)

			if sync {
				st, err := eng.ScheduleSync(sc.Tree)
				if err != nil {
					fmt.Printf("update %s dropped: %v\n", st.ID, err)
				}
			} else {
				eng.Schedule(sc.Tree, p, nil)
			}
			drainFrames(frames, showMutations)

			// Step the virtual clock until the horizon, printing commits as
			// they land. The engine runs in virtual mode; each Advance is a
			// complete expire-and-flush turn.
			step := time.Duration(stepMS) * time.Millisecond
			for elapsed := 0; elapsed < untilMS; elapsed += stepMS {
				eng.Advance(step)
				drainFrames(frames, showMutations)
			}

			fmt.Printf("--- done (t=%dms) ---\n", eng.Time().NowMS)
			for _, u := range eng.Updates() {
				fmt.Printf("update %s: %s", u.ID, u.State)
				if len(u.BlockedOn) > 0 {
					fmt.Printf(" (blocked on %s)", strings.Join(u.BlockedOn, ", "))
				}
				if u.Error != "" {
					fmt.Printf(" (%s)", u.Error)
				}
				fmt.Println()
			}
			return nil
		},
	}

	cmd.Flags().StringArrayVar(&resources, "resource", nil, "Resource as key=value@latency_ms (repeatable)")
	cmd.Flags().StringVar(&dbPath, "db", "", "SQLite catalog to serve resources from")
	cmd.Flags().StringVarP(&priority, "priority", "p", "normal", "Priority (immediate, user_blocking, normal, low, idle)")
	cmd.Flags().BoolVar(&sync, "sync", false, "Forced-synchronous mode: suspensions show fallbacks immediately")
	cmd.Flags().IntVar(&latencyMS, "latency", 100, "Default fetch latency in virtual milliseconds")
	cmd.Flags().IntVar(&stepMS, "step", 10, "Virtual milliseconds per simulation step")
	cmd.Flags().IntVar(&untilMS, "until", 1000, "Virtual time horizon in milliseconds")
	cmd.Flags().BoolVar(&showMutations, "mutations", false, "Also print each frame's mutation list")
	return cmd
}

// buildFetcher assembles the resource side of the simulation: a SQLite
// catalog when --db is given, otherwise the --resource flags.
func buildFetcher(clk *clock.Virtual, resources []string, dbPath string, defaultLatency time.Duration) (cache.Fetcher, error) {
	if dbPath != "" {
		if len(resources) > 0 {
			return nil, fmt.Errorf("give --resource flags or --db, not both")
		}
		st, err := store.NewSQLiteStore(dbPath, logger)
		if err != nil {
			return nil, fmt.Errorf("open catalog: %w", err)
		}
		if err := st.Migrate(context.Background()); err != nil {
			return nil, fmt.Errorf("migrate catalog: %w", err)
		}
		return store.NewCatalogFetcher(st, clk, defaultLatency), nil
	}

	records := make(map[string]cache.Record, len(resources))
	for _, spec := range resources {
		key, rec, err := parseResourceSpec(spec, defaultLatency)
		if err != nil {
			return nil, err
		}
		records[key] = rec
	}
	return &cache.TimedFetcher{
		Clock: clk,
		Lookup: func(key string) (cache.Record, error) {
			rec, ok := records[key]
			if !ok {
				return cache.Record{}, model.NewNotFoundError("Resource", key)
			}
			return rec, nil
		},
	}, nil
}

// parseResourceSpec splits key=value@latency_ms; the latency suffix is
// optional.
func parseResourceSpec(spec string, defaultLatency time.Duration) (string, cache.Record, error) {
	key, rest, ok := strings.Cut(spec, "=")
	if !ok || key == "" {
		return "", cache.Record{}, fmt.Errorf("bad --resource %q (want key=value@latency_ms)", spec)
	}
	rec := cache.Record{Value: rest, Latency: defaultLatency}
	if value, latency, ok := strings.Cut(rest, "@"); ok {
		ms, err := strconv.Atoi(latency)
		if err != nil || ms < 0 {
			return "", cache.Record{}, fmt.Errorf("bad latency in --resource %q", spec)
		}
		rec.Value = value
		rec.Latency = time.Duration(ms) * time.Millisecond
	}
	return key, rec, nil
}

// drainFrames prints whatever frames the engine delivered since the last
// call. The engine is driven from this goroutine, so an empty channel means
// no more frames exist yet.
func drainFrames(frames <-chan model.Frame, showMutations bool) {
	for {
		select {
		case f := <-frames:
			printFrame("frame", f, showMutations)
		default:
			return
		}
	}
}
