package cli

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/tahsin716/fiberjobs"
	"github.com/tahsin716/fiberjobs/internal/logging"
	"github.com/tahsin716/fiberjobs/promstats"
)

var (
	flagLogLevel    string
	flagConfig      string
	flagWorkers     int
	flagMetricsAddr string

	logger *logging.Logger
	config FileConfig
)

// NewRootCmd creates the root cobra command for the fiberjobs CLI.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "fiberjobs",
		Short: "fiberjobs fiber scheduler tools",
		Long:  "fiberjobs runs workloads on the fiber job scheduler and reports how it behaves.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			config = FileConfig{}
			if flagConfig != "" {
				fc, err := LoadFileConfig(flagConfig)
				if err != nil {
					return err
				}
				config = fc
			}
			if cmd.Flags().Changed("log-level") || config.LogLevel == "" {
				config.LogLevel = flagLogLevel
			}
			if cmd.Flags().Changed("workers") {
				config.Workers = flagWorkers
			}
			if cmd.Flags().Changed("metrics-addr") {
				config.MetricsAddr = flagMetricsAddr
			}

			logger = logging.NewLogger(logging.ParseLevel(config.LogLevel))

			if _, err := maxprocs.Set(maxprocs.Logger(func(format string, args ...interface{}) {
				logger.Debug().Log(fmt.Sprintf(format, args...))
			})); err != nil {
				logger.Warning().Err(err).Log("automaxprocs failed")
			}
			return nil
		},
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&flagLogLevel, "log-level", "info", "Log level (trace, debug, info, warn, error)")
	root.PersistentFlags().StringVar(&flagConfig, "config", "", "YAML scheduler config file")
	root.PersistentFlags().IntVar(&flagWorkers, "workers", 0, "Number of workers (0 = GOMAXPROCS)")
	root.PersistentFlags().StringVar(&flagMetricsAddr, "metrics-addr", "", "Serve Prometheus /metrics on this address")

	root.AddCommand(
		newBenchCmd(),
		newPriorityCmd(),
	)

	return root
}

// newScheduler builds a scheduler from the loaded config, with extra options
// applied last.
func newScheduler(extra ...fiberjobs.Option) (*fiberjobs.Scheduler, error) {
	opts, err := config.Options()
	if err != nil {
		return nil, err
	}
	opts = append(opts, fiberjobs.WithLogger(logger))
	opts = append(opts, extra...)

	s, err := fiberjobs.New(opts...)
	if err != nil {
		return nil, errors.Wrap(err, "create scheduler")
	}
	return s, nil
}

// serveMetrics exposes the scheduler's stats on config.MetricsAddr until
// the returned stop function is called. It is a no-op when no address is set.
func serveMetrics(s *fiberjobs.Scheduler) (stop func(), err error) {
	if config.MetricsAddr == "" {
		return func() {}, nil
	}

	reg := prometheus.NewRegistry()
	if err := reg.Register(promstats.NewCollector(s)); err != nil {
		return nil, errors.Wrap(err, "register collector")
	}

	ln, err := net.Listen("tcp", config.MetricsAddr)
	if err != nil {
		return nil, errors.Wrap(err, "listen metrics")
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			logger.Err().Err(err).Log("metrics server failed")
		}
	}()
	logger.Info().Str("addr", ln.Addr().String()).Log("serving metrics")

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}

// shutdown stops s, giving queued work a bounded time to drain.
func shutdown(s *fiberjobs.Scheduler, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return errors.Wrap(s.Shutdown(ctx), "shutdown")
}

func printf(w io.Writer, format string, args ...interface{}) {
	_, _ = fmt.Fprintf(w, format, args...)
}
