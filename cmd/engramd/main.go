package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cuemby/engram/pkg/config"
	"github.com/cuemby/engram/pkg/daemon"
	"github.com/cuemby/engram/pkg/log"
	"github.com/cuemby/engram/pkg/pidguard"
)

var (
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "engramd",
	Short:   "engramd is the Engram personal-memory daemon",
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("engramd version %s\nCommit: %s\n", Version, Commit))
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(stopCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(logLevel), JSONOutput: logJSON})
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the Engram daemon in the foreground",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		d, err := daemon.New(cfg)
		if err != nil {
			return fmt.Errorf("initialize daemon: %w", err)
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		if err := d.Start(ctx); err != nil {
			return fmt.Errorf("start daemon: %w", err)
		}

		fmt.Println("engramd is running. Press Ctrl+C to stop.")

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

		select {
		case <-sigCh:
			fmt.Println("\nShutting down...")
		case <-d.Done():
			fmt.Println("\nMemory guard requested a restart, shutting down...")
		}

		stopCtx, stopCancel := context.WithCancel(context.Background())
		defer stopCancel()
		if err := d.Stop(stopCtx); err != nil {
			if errors.Is(err, daemon.RestartRequested) {
				fmt.Println("✓ Shutdown complete (restart requested)")
				os.Exit(75) // EX_TEMPFAIL: supervisors should restart engramd
			}
			return fmt.Errorf("shutdown: %w", err)
		}

		fmt.Println("✓ Shutdown complete")
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report whether the Engram daemon is running",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		pid, alive, err := pidguard.IsLive(cfg.PidPath())
		if err != nil {
			fmt.Println("engramd is not running")
			return nil
		}
		if !alive {
			fmt.Printf("engramd is not running (stale pid file for pid %d)\n", pid)
			return nil
		}
		fmt.Printf("engramd is running (pid %d)\n", pid)
		return nil
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Signal a running Engram daemon to shut down",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		pid, alive, err := pidguard.IsLive(cfg.PidPath())
		if err != nil {
			return fmt.Errorf("engramd is not running")
		}
		if !alive {
			return fmt.Errorf("engramd is not running (stale pid file for pid %d)", pid)
		}

		proc, err := os.FindProcess(pid)
		if err != nil {
			return fmt.Errorf("find process %d: %w", pid, err)
		}
		if err := proc.Signal(syscall.SIGTERM); err != nil {
			return fmt.Errorf("signal process %d: %w", pid, err)
		}
		fmt.Printf("sent SIGTERM to pid %d\n", pid)
		return nil
	},
}
