// Package cmd implements the pesthub command line.
package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/GoosieGav/PestHub/internal/classifier"
	"github.com/GoosieGav/PestHub/internal/config"
	"github.com/GoosieGav/PestHub/internal/logging"
)

// errCallFailed marks a command whose backend call failed after its
// result was already printed.
var errCallFailed = errors.New("call failed")

type app struct {
	v          *viper.Viper
	cfg        *config.Config
	logger     *zap.Logger
	out        io.Writer
	configFile string
	envFile    string
}

// RootCommand creates the pesthub command tree writing results to out.
func RootCommand(out io.Writer) *cobra.Command {
	a := &app{v: config.NewViper(), out: out, logger: zap.NewNop()}

	rootCmd := &cobra.Command{
		Use:           "pesthub",
		Short:         "PestHub garden pest identification",
		Long:          "Identify garden pests from photos through the PestHub classification service and browse the pest encyclopedia.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.initialize()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = a.logger.Sync()
		},
	}

	if err := setupFlags(rootCmd, a); err != nil {
		panic(err)
	}

	rootCmd.AddCommand(
		classifyCommand(a),
		searchCommand(a),
		detailsCommand(a),
		pestsCommand(a),
		pestCommand(a),
		serveCommand(a),
	)
	return rootCmd
}

func setupFlags(rootCmd *cobra.Command, a *app) error {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&a.configFile, "config", "", "Path to a YAML config file")
	flags.StringVar(&a.envFile, "env-file", ".env", "Path to a .env file loaded before the environment is read")
	flags.String("base-url", "", "Base URL of the classification service")
	flags.Duration("timeout", 0, "Timeout for each classification service call")
	flags.String("log-level", "", "Log level: debug, info, warn, error")

	for key, flag := range map[string]string{
		"api.base_url": "base-url",
		"api.timeout":  "timeout",
		"log.level":    "log-level",
	} {
		if err := a.v.BindPFlag(key, flags.Lookup(flag)); err != nil {
			return fmt.Errorf("error binding flag %s: %w", flag, err)
		}
	}
	return nil
}

func (a *app) initialize() error {
	if err := config.LoadEnvFile(a.envFile); err != nil {
		return err
	}
	cfg, err := config.Load(a.v, a.configFile)
	if err != nil {
		return err
	}
	logger, err := logging.NewLogger(logging.Options{Level: cfg.Log.Level, Development: cfg.Log.Development})
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = logger
	return nil
}

func (a *app) newClient(opts ...classifier.Option) (*classifier.Client, error) {
	opts = append([]classifier.Option{classifier.WithLogger(a.logger)}, opts...)
	return classifier.New(classifier.Config{
		BaseURL: a.cfg.API.BaseURL,
		Timeout: a.cfg.API.Timeout,
	}, opts...)
}

func (a *app) printJSON(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printResult prints res and reports errCallFailed for failures.
func printResult[T any](a *app, res classifier.Result[T]) error {
	if err := a.printJSON(res); err != nil {
		return err
	}
	if !res.OK() {
		return errCallFailed
	}
	return nil
}

// Execute runs the command line and returns the process exit code.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := RootCommand(os.Stdout).ExecuteContext(ctx); err != nil {
		if !errors.Is(err, errCallFailed) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		return 1
	}
	return 0
}
