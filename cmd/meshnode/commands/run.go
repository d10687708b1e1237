package commands

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/greenpdx/fipa-wasm/internal/config"
	"github.com/greenpdx/fipa-wasm/public/node"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the node and block until shutdown",
	RunE:  runNode,
}

// runNode loads the node's configuration with CLI-then-env-then-default
// precedence, wires every subsystem via node.New, and blocks until an
// interrupt or terminate signal arrives.
func runNode(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("meshnode: %w", err)
	}
	applyFlagOverrides(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("meshnode: %w", err)
	}

	n, err := node.New(cfg)
	if err != nil {
		return fmt.Errorf("meshnode: build node: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := n.Start(ctx); err != nil {
		return fmt.Errorf("meshnode: start node: %w", err)
	}

	log.Printf("meshnode %s listening on %s", cfg.NodeID, n.Addr())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		log.Printf("meshnode: received %s, shutting down", sig)
	case <-ctx.Done():
	}

	cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := n.Close(); err != nil {
			log.Printf("meshnode: shutdown error: %v", err)
		}
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		log.Printf("meshnode: shutdown timed out after 10s")
	}
	return nil
}

// applyFlagOverrides layers explicitly-set CLI flags on top of cfg, which
// already reflects file-then-FIPA_-env precedence from config.Load. A
// flag only takes effect when the user actually set it, so an unset
// flag never clobbers a value config.Load already resolved.
func applyFlagOverrides(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("listen") {
		cfg.ListenAddr = listenAddr
	}
	if flags.Changed("data-dir") {
		cfg.DataDir = dataDir
	}
	if flags.Changed("log-format") {
		cfg.LogFormat = logFormat
	}
	if flags.Changed("bootstrap-peers") {
		cfg.BootstrapPeers = strings.Split(bootstrapPeers, ",")
	}
	if flags.Changed("raft-role") {
		cfg.RaftBootstrap = raftRole != "voter"
	}
}
