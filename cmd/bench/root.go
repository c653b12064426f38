package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/aristath/sentinel-offload/internal/benchmark"
	"github.com/aristath/sentinel-offload/internal/executor"
	"github.com/aristath/sentinel-offload/internal/reactor"
	"github.com/aristath/sentinel-offload/pkg/logger"
)

var (
	benchConcurrency int
	benchPayload     string
	benchSleep       time.Duration
	benchBars        int
	benchRounds      int
	benchHeartbeat   time.Duration
	benchThreads     int
	benchProcesses   int
	benchOutput      string
	benchLogLevel    string
	benchMailboxSize int
	benchStopTimeout time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "sentinel-bench",
	Short: "Compare inline and offloaded execution of blocking work",
	Long: `Runs a payload N times directly on an event loop (baseline), then the
same N operations through the offload executor (optimized), and reports wall
time, throughput and event-loop heartbeat lag for both.

Examples:
  # 8 concurrent 50ms sleeps
  sentinel-bench --concurrency 8 --payload sleep --sleep 50ms

  # CPU-bound indicator computation on worker processes
  sentinel-bench --payload features-process --process-workers 4

  # Machine-readable output
  sentinel-bench --output json`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runBench,
}

func init() {
	flags := rootCmd.Flags()
	flags.IntVarP(&benchConcurrency, "concurrency", "c", benchmark.DefaultConcurrency, "Number of operations per scenario")
	flags.StringVarP(&benchPayload, "payload", "p", "sleep", "Payload (sleep|features|features-process)")
	flags.DurationVar(&benchSleep, "sleep", 50*time.Millisecond, "Duration of each sleep payload")
	flags.IntVar(&benchBars, "bars", 2000, "Price bars per feature computation")
	flags.IntVar(&benchRounds, "rounds", 20, "Indicator passes per feature computation")
	flags.DurationVar(&benchHeartbeat, "heartbeat", benchmark.DefaultHeartbeatInterval, "Event loop heartbeat interval")
	flags.IntVar(&benchThreads, "threads", 0, "Thread workers (default: 2x CPUs)")
	flags.IntVar(&benchProcesses, "process-workers", 0, "Process workers, 0 disables the process pool")
	flags.StringVarP(&benchOutput, "output", "o", "table", "Output format (table|json)")
	flags.StringVar(&benchLogLevel, "log-level", "warn", "Log level (debug|info|warn|error)")
	flags.IntVar(&benchMailboxSize, "mailbox", 4096, "Event loop mailbox size")
	flags.DurationVar(&benchStopTimeout, "stop-timeout", 10*time.Second, "Time allowed for executor shutdown")
}

func selectPayload() (benchmark.Payload, error) {
	switch benchPayload {
	case "sleep":
		return benchmark.SleepPayload(benchSleep), nil
	case "features":
		return benchmark.FeaturePayload(benchBars, benchRounds), nil
	case "features-process":
		if benchProcesses < 1 {
			return benchmark.Payload{}, fmt.Errorf("payload %q needs --process-workers > 0", benchPayload)
		}
		return benchmark.FeatureProcessPayload(benchBars, benchRounds), nil
	default:
		return benchmark.Payload{}, fmt.Errorf("unknown payload %q (use sleep|features|features-process)", benchPayload)
	}
}

func runBench(cmd *cobra.Command, args []string) error {
	if benchOutput != "table" && benchOutput != "json" {
		return fmt.Errorf("unknown output format %q (use table|json)", benchOutput)
	}

	payload, err := selectPayload()
	if err != nil {
		return err
	}

	log := logger.New(logger.Config{
		Level:  benchLogLevel,
		Pretty: true,
		Output: os.Stderr,
	})

	cfg := executor.DefaultPoolConfiguration()
	if benchThreads > 0 {
		cfg.ThreadWorkers = benchThreads
	}
	cfg.ProcessWorkers = benchProcesses

	exec, err := executor.New(cfg, log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := exec.Start(ctx); err != nil {
		return fmt.Errorf("starting executor: %w", err)
	}

	loop := reactor.New("bench", benchMailboxSize, log)
	loop.Start()

	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), benchStopTimeout)
		defer cancel()
		if err := loop.Stop(stopCtx); err != nil {
			log.Warn().Err(err).Msg("Event loop did not stop cleanly")
		}
		if err := exec.Stop(stopCtx); err != nil {
			log.Warn().Err(err).Msg("Executor did not stop cleanly")
		}
	}()

	report, err := benchmark.NewRunner(exec, loop, log).Run(ctx, benchmark.Config{
		Concurrency:       benchConcurrency,
		Payload:           payload,
		HeartbeatInterval: benchHeartbeat,
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if benchOutput == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}
	report.Render(out)
	return nil
}
