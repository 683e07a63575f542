// Command wisent inspects and maintains wisent database environments.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wisentdb/wisent"
)

var (
	flagPath     string
	flagNoSubdir bool
	flagVerbose  bool
)

func main() {
	root := &cobra.Command{
		Use:           "wisent",
		Short:         "Inspect and maintain wisent database environments",
		Version:       wisent.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&flagPath, "path", "p", "", "environment path")
	root.PersistentFlags().BoolVar(&flagNoSubdir, "nosubdir", false, "path is the data file, not a directory")
	root.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(statCmd(), copyCmd(), dumpCmd(), readersCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "wisent:", err)
		os.Exit(1)
	}
}

// zapLogger adapts a zap sugared logger to the engine's Logger interface.
type zapLogger struct{ s *zap.SugaredLogger }

func (l zapLogger) Debug(msg string, args ...any) { l.s.Debugw(msg, args...) }
func (l zapLogger) Info(msg string, args ...any)  { l.s.Infow(msg, args...) }
func (l zapLogger) Warn(msg string, args ...any)  { l.s.Warnw(msg, args...) }
func (l zapLogger) Error(msg string, args ...any) { l.s.Errorw(msg, args...) }

func newLogger() (wisent.Logger, func(), error) {
	cfg := zap.NewProductionConfig()
	if flagVerbose {
		cfg = zap.NewDevelopmentConfig()
	}
	log, err := cfg.Build()
	if err != nil {
		return nil, nil, err
	}
	return zapLogger{s: log.Sugar()}, func() { _ = log.Sync() }, nil
}

// openEnv opens the environment named by the global flags.
func openEnv(readOnly bool) (*wisent.Env, func(), error) {
	if flagPath == "" {
		return nil, nil, fmt.Errorf("--path is required")
	}
	log, flush, err := newLogger()
	if err != nil {
		return nil, nil, err
	}
	env := wisent.NewEnv()
	env.SetLogger(log)

	flags := wisent.EnvFlags{}
	if readOnly {
		flags = flags.With(wisent.ReadOnly)
	}
	if flagNoSubdir {
		flags = flags.With(wisent.NoSubdir)
	}
	if err := env.Open(flagPath, flags, 0o644); err != nil {
		flush()
		return nil, nil, err
	}
	cleanup := func() {
		_ = env.Close()
		flush()
	}
	return env, cleanup, nil
}
