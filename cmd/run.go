package cmd

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"sort"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/browser"
	"github.com/sarchlab/hybridmem/monitoring"
	"github.com/sarchlab/hybridmem/sim/hooking"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// Environment variables that provide defaults for flags. They can also be
// set in a .env file in the working directory.
const (
	envConfig          = "HYBRIDMEM_CONFIG"
	envTraceClickHouse = "HYBRIDMEM_TRACE_CLICKHOUSE"
)

var (
	configPath      string // YAML file overriding the default configuration
	logLevel        string // Log verbosity level
	seed            int64  // Seed of the traffic generator
	numReads        int    // Number of reads to send
	numWrites       int    // Number of writes to send
	traceDB         string // SQLite file for task traces
	traceClickHouse string // ClickHouse DSN for task traces
	traceKind       string // Only trace tasks of this kind
	monitor         bool   // Serve the monitoring API while running
	monitorPort     int    // Port of the monitoring API
	openMonitor     bool   // Open the monitoring API in a browser
)

// runCmd executes the simulation using the configuration file and flags.
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the hybrid memory simulation",
	Run: func(cmd *cobra.Command, args []string) {
		level, err := logrus.ParseLevel(logLevel)
		if err != nil {
			logrus.Fatalf("Invalid log level: %s", logLevel)
		}
		logrus.SetLevel(level)

		cfg, err := loadRunConfig(cmd)
		if err != nil {
			logrus.Fatalf("Unable to load configuration: %v", err)
		}

		s := BuildSimulation(cfg, logrus.StandardLogger())
		attachTracers(s, level)

		if monitor || openMonitor {
			m := monitoring.NewMonitor().WithPortNumber(monitorPort)
			s.AttachMonitor(m)
			url := m.StartServer()

			if openMonitor {
				if err := browser.OpenURL(url + "/api/component/HybridCtrl"); err != nil {
					logrus.Warnf("Cannot open browser: %v", err)
				}
			}
		}

		logrus.Infof("Starting simulation with %d reads and %d writes",
			cfg.Traffic.NumReads, cfg.Traffic.NumWrites)

		startTime := time.Now()
		if err := s.Run(); err != nil {
			logrus.Fatalf("Simulation failed: %v", err)
		}

		printStats(os.Stdout, s, time.Since(startTime))

		if s.Agent.NumMismatches() > 0 {
			logrus.Fatalf("%d reads returned wrong data",
				s.Agent.NumMismatches())
		}

		logrus.Info("Simulation complete.")
	},
}

// loadRunConfig reads the configuration file, if any, and applies the flags
// the user set explicitly.
func loadRunConfig(cmd *cobra.Command) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("loading .env: %w", err)
	}

	path := configPath
	if path == "" {
		path = os.Getenv(envConfig)
	}

	cfg := DefaultConfig()
	if path != "" {
		var err error
		if cfg, err = LoadConfig(path); err != nil {
			return cfg, err
		}
	}

	flags := cmd.Flags()
	if flags.Changed("seed") {
		cfg.Traffic.Seed = seed
	}

	if flags.Changed("num-reads") {
		cfg.Traffic.NumReads = numReads
	}

	if flags.Changed("num-writes") {
		cfg.Traffic.NumWrites = numWrites
	}

	if traceClickHouse == "" {
		traceClickHouse = os.Getenv(envTraceClickHouse)
	}

	return cfg, cfg.Validate()
}

func attachTracers(s *Simulation, level logrus.Level) {
	if level >= logrus.TraceLevel {
		s.Ctrl.AcceptHook(hooking.NewLogHook(logrus.StandardLogger(), s.Clock()))
	}

	if traceDB != "" {
		backend := hooking.NewSQLiteBackend(traceDB)
		s.Ctrl.AcceptHook(newDBTracer(s, backend))
		logrus.Infof("Tracing tasks into %s", backend.FileName())
	}

	if traceClickHouse != "" {
		backend, err := hooking.NewClickHouseBackend(traceClickHouse)
		if err != nil {
			logrus.Fatalf("Unable to trace into ClickHouse: %v", err)
		}

		s.Ctrl.AcceptHook(newDBTracer(s, backend))
		logrus.Infof("Tracing tasks into ClickHouse run %s", backend.RunID())
	}
}

func newDBTracer(s *Simulation, backend hooking.TracerBackend) *hooking.DBTracer {
	tracer := hooking.NewDBTracer(s.Clock(), backend)

	if traceKind != "" {
		tracer.SetFilter(func(t hooking.TaskStart) bool {
			return t.Kind == traceKind
		})
	}

	return tracer
}

func printStats(w io.Writer, s *Simulation, wallTime time.Duration) {
	stats := s.Ctrl.Stats()
	now := s.Engine.CurrentTime()

	fmt.Fprintf(w, "=== Simulation ===\n")
	fmt.Fprintf(w, "Simulated cycles     : %d (%.6f s)\n",
		now, s.Clock().Now())
	fmt.Fprintf(w, "Wall time            : %s\n", wallTime)

	fmt.Fprintf(w, "=== Requests ===\n")
	fmt.Fprintf(w, "Reads / writes       : %d / %d\n",
		stats.ReadReqs, stats.WriteReqs)
	fmt.Fprintf(w, "Refused reads/writes : %d / %d\n",
		stats.RefusedReads, stats.RefusedWrites)
	fmt.Fprintf(w, "Write queue serviced : %d\n", stats.ServicedByWriteQueue)
	fmt.Fprintf(w, "Merged writes        : %d\n", stats.MergedWrites)
	fmt.Fprintf(w, "Avg read latency     : %.2f cycles\n",
		stats.AvgReadLatency())
	fmt.Fprintf(w, "Avg request latency  : %.3f ns over %d requests\n",
		s.Latency.AverageTime()*1e9, s.Latency.TotalCount())

	fmt.Fprintf(w, "=== Tag store ===\n")
	fmt.Fprintf(w, "Hits                 : %d (%.2f%%)\n",
		stats.Hits, stats.HitRate()*100)
	fmt.Fprintf(w, "Clean / dirty misses : %d / %d\n",
		stats.CleanMisses, stats.DirtyMisses)
	fmt.Fprintf(w, "Stale probes         : %d\n", stats.StaleProbes)

	fmt.Fprintf(w, "=== Bursts ===\n")
	fmt.Fprintf(w, "Fast read / write    : %d / %d\n",
		stats.ReadBursts[0], stats.WriteBursts[0])
	fmt.Fprintf(w, "Backing read / write : %d / %d\n",
		stats.ReadBursts[1], stats.WriteBursts[1])
	fmt.Fprintf(w, "Fills / victims      : %d / %d\n",
		stats.Fills, stats.Victims)
	fmt.Fprintf(w, "Backing writes       : %d\n", stats.BackingWrites)
	fmt.Fprintf(w, "Parked routes        : %d\n", stats.ParkedRoutes)
	fmt.Fprintf(w, "Bus turnarounds      : %d\n", stats.BusTurnarounds)
	fmt.Fprintf(w, "Row hits (fast)      : %d of %d activates\n",
		s.Fast.NumRowHits(), s.Fast.NumActivates())
	fmt.Fprintf(w, "Row hits (backing)   : %d of %d activates\n",
		s.Backing.NumRowHits(), s.Backing.NumActivates())

	printProbeClasses(w, s)

	fmt.Fprintf(w, "=== Queue occupancy ===\n")
	s.Buffers.Report(w)
}

func printProbeClasses(w io.Writer, s *Simulation) {
	names := s.Tags.GetTagNames()
	if len(names) == 0 {
		return
	}

	sort.Strings(names)

	fmt.Fprintf(w, "=== Task tags ===\n")
	for _, name := range names {
		fmt.Fprintf(w, "%-21s: %d\n", name, s.Tags.GetTagCount(name))
	}
}

// init sets up CLI flags and subcommands
func init() {
	runCmd.Flags().StringVar(&configPath, "config", "",
		"YAML configuration file (default from $"+envConfig+")")
	runCmd.Flags().StringVar(&logLevel, "log", "warn",
		"Log level (trace, debug, info, warn, error, fatal, panic)")
	runCmd.Flags().Int64Var(&seed, "seed", 1,
		"Seed of the random traffic")
	runCmd.Flags().IntVar(&numReads, "num-reads", 10000,
		"Number of read requests")
	runCmd.Flags().IntVar(&numWrites, "num-writes", 10000,
		"Number of write requests")
	runCmd.Flags().StringVar(&traceDB, "trace-db", "",
		"Record task traces into this SQLite file (without extension)")
	runCmd.Flags().StringVar(&traceClickHouse, "trace-clickhouse", "",
		"Record task traces into this ClickHouse DSN (default from $"+
			envTraceClickHouse+")")
	runCmd.Flags().StringVar(&traceKind, "trace-kind", "",
		"Only trace tasks of this kind (req_in or probe)")
	runCmd.Flags().BoolVar(&monitor, "monitor", false,
		"Serve the monitoring API while the simulation runs")
	runCmd.Flags().IntVar(&monitorPort, "monitor-port", 0,
		"Port of the monitoring API, random if 0")
	runCmd.Flags().BoolVar(&openMonitor, "open-monitor", false,
		"Open the monitoring API in a browser")

	rootCmd.AddCommand(runCmd)
}
