package cli

import (
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/elifgo/elif"
	"github.com/elifgo/elif/internal/errs"
)

// flagKeys maps serve flags to configuration keys.
var flagKeys = map[string]string{
	"bind":            "bind_addr",
	"request-timeout": "request_timeout_secs",
	"max-body":        "max_request_size",
	"metrics":         "enable_metrics",
	"debug":           "debug",
}

func newServeCommand(module *elif.Module, o *options, configFile *string) *cobra.Command {
	var logLevel string

	cmd := &cobra.Command{
		Use:     "serve",
		Aliases: []string{"s"},
		Short:   "Start the HTTP server",
		Long: `Start the HTTP server and block until SIGINT or SIGTERM.

A second signal during shutdown stops waiting for in-flight requests.`,
		Args: cobra.NoArgs,
	}

	flags := cmd.Flags()
	flags.String("bind", "", "listen address, host:port")
	flags.Int("request-timeout", 0, "per-request timeout in seconds")
	flags.Int64("max-body", 0, "maximum request body size in bytes")
	flags.Bool("metrics", false, "expose Prometheus metrics")
	flags.Bool("debug", false, "panic on middleware contract violations")
	flags.StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(*configFile, cmd.Flags())
		if err != nil {
			return err
		}

		logger, err := newLogger(logLevel, cfg)
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()

		opts := append([]elif.Option{elif.WithConfig(cfg), elif.WithLogger(logger)}, o.appOpts...)
		return elif.New(module, opts...).Run(cmd.Context())
	}
	return cmd
}

// loadConfig reads the configuration with every changed flag in flags
// taking priority.
func loadConfig(path string, flags *pflag.FlagSet) (elif.Config, error) {
	v := elif.NewViper()
	if flags != nil {
		if err := bindFlags(v, flags); err != nil {
			return elif.Config{}, err
		}
	}
	return elif.ReadConfig(v, path)
}

func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	var bindErr error
	flags.VisitAll(func(f *pflag.Flag) {
		key, ok := flagKeys[f.Name]
		if !ok || !f.Changed || bindErr != nil {
			return
		}
		if err := v.BindPFlag(key, f); err != nil {
			bindErr = errs.New(elif.ErrCodeInvalidConfig, "cannot bind flag --"+f.Name, err)
		}
	})
	return bindErr
}

func newLogger(level string, cfg elif.Config) (*zap.Logger, error) {
	if !cfg.EnableTracing {
		return zap.NewNop(), nil
	}

	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, errs.New(elif.ErrCodeInvalidConfig, "invalid --log-level "+level, err)
	}

	zc := zap.NewProductionConfig()
	if cfg.Debug {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(lvl)

	logger, err := zc.Build()
	if err != nil {
		return nil, errs.New(elif.ErrCodeInvalidConfig, "cannot build logger", err)
	}
	return logger, nil
}
