package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"pocketbridge/internal/bridge"
	"pocketbridge/internal/config"
	"pocketbridge/internal/lifecycle"
	"pocketbridge/internal/logger"
	"pocketbridge/internal/state"
)

func main() {
	var configPath string

	root := &cobra.Command{
		Use:   "pocketbridge",
		Short: "pocketbridge — control a local AI editor from your phone",
		Long:  "Bridges a locally running AI editor to a messaging bot: streams responses out, injects messages and confirmations back in.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBridge(configPath)
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")

	root.AddCommand(
		runCmd(&configPath),
		restartCmd(),
		statusCmd(&configPath),
		unpairCmd(&configPath),
	)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func runCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the bridge in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBridge(*configPath)
		},
	}
}

func runBridge(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := logger.Init(cfg.Logging.Level, cfg.Logging.File); err != nil {
		return fmt.Errorf("init logging: %w", err)
	}

	dataDir, err := config.DataDir()
	if err != nil {
		return err
	}
	lock, err := lifecycle.AcquireLock(dataDir)
	if err != nil {
		if errors.Is(err, lifecycle.ErrAlreadyRunning) {
			return fmt.Errorf("%w (use `pocketbridge restart` to replace it)", err)
		}
		return err
	}
	defer lock.Release()

	b, err := bridge.New(cfg)
	if err != nil {
		return err
	}
	b.SetRestart(func() error { return lifecycle.Restart(dataDir) })

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("bridge starting", "data_dir", dataDir)
	return b.Run(ctx)
}

func restartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restart",
		Short: "Replace the running bridge with a fresh process",
		RunE: func(cmd *cobra.Command, args []string) error {
			dataDir, err := config.DataDir()
			if err != nil {
				return err
			}
			return lifecycle.Restart(dataDir)
		},
	}
}

func statusCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show pairing, focus, and pause state",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Peek(*configPath)
			if err != nil {
				return err
			}
			dataDir, err := config.DataDir()
			if err != nil {
				return err
			}
			if pid, held := lifecycle.LockHolder(dataDir); held {
				fmt.Printf("bridge: running (pid %d)\n", pid)
			} else {
				fmt.Println("bridge: not running")
			}

			statePath, err := cfg.StatePath()
			if err != nil {
				return err
			}
			store, err := state.Open(statePath)
			if err != nil {
				return fmt.Errorf("open state: %w", err)
			}
			defer store.Close()

			if p, ok, _ := store.Pairing(); ok {
				fmt.Printf("paired: owner %d\n", p.OwnerID)
			} else {
				fmt.Println("paired: no")
			}
			if f, ok, _ := store.Focus(); ok {
				fmt.Printf("focus: %s · %s\n", f.Workspace, f.ConversationTitle)
			} else {
				fmt.Println("focus: none")
			}
			if paused, _ := store.Paused(); paused {
				fmt.Println("delivery: paused")
			} else {
				fmt.Println("delivery: live")
			}
			return nil
		},
	}
}

func unpairCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "unpair",
		Short: "Release the owner lock",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Peek(*configPath)
			if err != nil {
				return err
			}
			statePath, err := cfg.StatePath()
			if err != nil {
				return err
			}
			store, err := state.Open(statePath)
			if err != nil {
				return fmt.Errorf("open state: %w", err)
			}
			defer store.Close()
			if err := store.ClearPairing(); err != nil {
				return err
			}
			fmt.Println("pairing cleared")
			return nil
		},
	}
}
