package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"natprobe/internal/config"
)

// cmdGlobal holds flags shared by every subcommand.
type cmdGlobal struct {
	flagConfig   string
	flagLogLevel string
}

// exitCodeError ends the process with a specific code without printing.
type exitCodeError struct {
	code int
}

func (e *exitCodeError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

func main() {
	global := cmdGlobal{}

	app := &cobra.Command{
		Use:               "natprobe",
		Short:             "Peer discovery and NAT reachability test harness",
		SilenceUsage:      true,
		SilenceErrors:     true,
		CompletionOptions: cobra.CompletionOptions{DisableDefaultCmd: true},
	}

	app.PersistentFlags().StringVarP(&global.flagConfig, "config", "c", "", "path to YAML config")
	app.PersistentFlags().StringVar(&global.flagLogLevel, "log-level", "", "log level override (debug, info, warn, error)")

	var cmdRun = cmdRun{global: &global}
	app.AddCommand(cmdRun.Command())

	var cmdDiscover = cmdDiscover{global: &global}
	app.AddCommand(cmdDiscover.Command())

	var cmdRegistry = cmdRegistry{global: &global}
	app.AddCommand(cmdRegistry.Command())

	var cmdStatus = cmdStatus{global: &global}
	app.AddCommand(cmdStatus.Command())

	var cmdStats = cmdStats{global: &global}
	app.AddCommand(cmdStats.Command())

	var cmdConfig = cmdConfig{global: &global}
	app.AddCommand(cmdConfig.Command())

	app.InitDefaultHelpCmd()

	err := app.Execute()
	var exitErr *exitCodeError
	if errors.As(err, &exitErr) {
		os.Exit(exitErr.code)
	}
	fatal(err)
}

// load reads the config file when one is given and applies defaults.
func (g *cmdGlobal) load() (config.Config, error) {
	cfg, err := loadConfig(g.flagConfig)
	if err != nil {
		return config.Config{}, err
	}
	if g.flagLogLevel != "" {
		cfg.Log.Level = g.flagLogLevel
	}
	config.ApplyDefaults(&cfg)
	return cfg, nil
}

func loadConfig(path string) (config.Config, error) {
	if path == "" {
		return config.Config{}, nil
	}
	return config.Load(path)
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-signals
		cancel()
	}()
	return ctx, cancel
}

func fatal(err error) {
	if err == nil {
		return
	}
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
