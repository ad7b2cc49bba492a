package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"runtime/pprof"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tpaschalis/goshm/backend"
	"github.com/tpaschalis/goshm/internal/logging"
	"github.com/tpaschalis/goshm/internal/telemetry"
	"github.com/tpaschalis/goshm/shm"
)

var (
	app = kingpin.New("shmproviderd", "Shared-memory buffer provider daemon.")

	sizeStr     = app.Flag("size", "Size of the backing segment (e.g. 64M, 1G).").Default("64M").String()
	prefix      = app.Flag("prefix", "OS-name prefix for the backend's segment.").Default("goshm").String()
	metricsAddr = app.Flag("metrics-addr", "Address to expose Prometheus metrics on.").Default(":9090").String()
	verbose     = app.Flag("v", "Verbose (debug-level) logging.").Bool()
	chunkSize   = app.Flag("chunk-size", "Size of each demo chunk to allocate.").Default("4096").Uint64()
	deallocN    = app.Flag("dealloc-attempts", "Maximum forced evictions per allocation under load.").Default("3").Int()
)

func main() {
	kingpin.MustParse(app.Parse(os.Args[1:]))

	logConfig := logging.DefaultConfig()
	if *verbose {
		logConfig.Level = logging.LevelDebug
	}
	logger := logging.NewLogger(logConfig)
	logging.SetDefault(logger)

	size, err := parseSize(*sizeStr)
	if err != nil {
		logger.Error("invalid size", "value", *sizeStr, "error", err)
		os.Exit(1)
	}

	posix, err := backend.NewPosix(*prefix, size)
	if err != nil {
		logger.Error("failed to create backend segment", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := posix.Close(); err != nil {
			logger.Error("error closing backend segment", "error", err)
		}
	}()

	reg := prometheus.NewRegistry()
	observer := telemetry.NewPrometheusObserver(reg, "goshmproviderd")

	cfg := shm.DefaultConfig()
	cfg.HeaderPrefix = *prefix + "_hdr"
	cfg.WatchdogPrefix = *prefix + "_wd"
	cfg.DefaultChunkSize = *chunkSize

	provider := shm.NewProvider(cfg, posix,
		shm.WithObserver(observer),
		shm.WithLogger(logger),
	)
	defer func() {
		if err := provider.Close(); err != nil {
			logger.Error("error closing provider", "error", err)
		}
	}()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	metricsServer := &http.Server{Addr: *metricsAddr, Handler: mux}
	go func() {
		logger.Info("serving metrics", "addr", *metricsAddr)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server failed", "error", err)
		}
	}()

	logger.Info("provider started",
		"segment_id", posix.SegmentID(),
		"size", formatSize(size),
		"chunk_size", *chunkSize)

	fmt.Printf("Backend segment id: %d (size %s)\n", posix.SegmentID(), formatSize(size))
	fmt.Printf("Metrics:            http://%s/metrics\n", *metricsAddr)
	fmt.Printf("\nPress Ctrl+C to stop...\n")
	fmt.Printf("Send SIGUSR1 (kill -USR1 %d) to dump goroutine stacks\n", os.Getpid())

	policy := shm.NewDeallocate(*deallocN, shm.JustAlloc{}, shm.JustAlloc{}, shm.DeallocOptimal{})

	demoCtx, cancelDemo := context.WithCancel(context.Background())
	defer cancelDemo()
	go runDemoWorkload(demoCtx, provider, policy, *chunkSize, logger)

	stackDumpCh := make(chan os.Signal, 1)
	signal.Notify(stackDumpCh, syscall.SIGUSR1)
	go func() {
		for range stackDumpCh {
			buf := make([]byte, 1024*1024)
			n := runtime.Stack(buf, true)
			fmt.Fprintf(os.Stderr, "\n=== GOROUTINE STACK DUMP ===\n%s\n", buf[:n])
			pprof.Lookup("goroutine").WriteTo(os.Stderr, 2)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("received shutdown signal")
	cancelDemo()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer shutdownCancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("error shutting down metrics server", "error", err)
	}
}

// runDemoWorkload continuously allocates and frees chunks from provider so
// the busy list, the watchdog machinery and the Prometheus collectors all
// have something to observe while the daemon runs. Its policy never runs
// GarbageCollect or Defragment. It stops as soon as ctx is canceled.
func runDemoWorkload(ctx context.Context, provider *shm.Provider, policy shm.AllocPolicy, chunkSize uint64, logger *logging.Logger) {
	layout, err := provider.Layout().Size(chunkSize).Build()
	if err != nil {
		logger.Error("invalid demo layout", "error", err)
		return
	}

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	var held []*shm.SharedMemoryBuf
	for {
		select {
		case <-ctx.Done():
			for _, b := range held {
				_ = b.Close()
			}
			return
		case <-ticker.C:
			if len(held) > 4 {
				held[0].Close()
				held = held[1:]
				continue
			}
			buf, err := provider.AllocContext(ctx, layout, policy)
			if err != nil {
				logger.Debug("demo alloc failed", "error", err)
				continue
			}
			held = append(held, buf)
		}
	}
}

// parseSize parses a size string like "64M", "1G", "512K".
func parseSize(s string) (uint64, error) {
	s = strings.ToUpper(s)

	var multiplier uint64 = 1
	var numStr string

	switch {
	case strings.HasSuffix(s, "K"):
		multiplier = 1024
		numStr = strings.TrimSuffix(s, "K")
	case strings.HasSuffix(s, "M"):
		multiplier = 1024 * 1024
		numStr = strings.TrimSuffix(s, "M")
	case strings.HasSuffix(s, "G"):
		multiplier = 1024 * 1024 * 1024
		numStr = strings.TrimSuffix(s, "G")
	default:
		numStr = s
	}

	num, err := strconv.ParseUint(numStr, 10, 64)
	if err != nil {
		return 0, err
	}

	return num * multiplier, nil
}

// formatSize formats a byte count as a human-readable string.
func formatSize(bytes uint64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}

	div, exp := uint64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}

	units := []string{"K", "M", "G", "T"}
	return fmt.Sprintf("%.1f %sB", float64(bytes)/float64(div), units[exp])
}
