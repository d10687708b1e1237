// Package commands holds the meshnode CLI's cobra command tree: a root
// command carrying the persistent node flags, a run subcommand that
// brings up the node and blocks until shutdown, and a version
// subcommand, following the teacher's cmd/substrate/commands layout
// (package-level rootCmd, package-level flag vars, an Execute entry
// point called from a thin main).
package commands

import (
	"github.com/spf13/cobra"
)

var (
	// configFile points at an optional YAML file read before flags and
	// FIPA_-prefixed environment variables are applied on top.
	configFile string

	// listenAddr overrides Config.ListenAddr when set.
	listenAddr string

	// dataDir overrides Config.DataDir when set.
	dataDir string

	// logFormat overrides Config.LogFormat when set ("json" or "console").
	logFormat string

	// bootstrapPeers overrides Config.BootstrapPeers when set, comma-separated.
	bootstrapPeers string

	// raftRole selects this node's role in its raft cluster: "bootstrap"
	// forms a brand new single-member cluster, "voter" expects an
	// operator to add this node to an existing cluster out of band via
	// the leader's AddVoter call.
	raftRole string
)

var rootCmd = &cobra.Command{
	Use:   "meshnode",
	Short: "Run a FIPA agent mesh host",
	Long: `meshnode hosts mobile, sandboxed WASM agents that exchange FIPA ACL
messages over a consensus-backed directory and router. Each process is
one node in the mesh; nodes discover each other's agents and migrate
agents between themselves over gRPC.`,
}

// Execute runs the CLI, returning any error from the selected subcommand.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "",
		"path to a YAML node configuration file")
	rootCmd.PersistentFlags().StringVar(&listenAddr, "listen", "",
		"RPC listen address (overrides config and FIPA_LISTEN_ADDR)")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "",
		"directory for raft logs, badger stores, and the node identity key")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "",
		"log encoding: json or console")
	rootCmd.PersistentFlags().StringVar(&bootstrapPeers, "bootstrap-peers", "",
		"comma-separated raft bind addresses of cluster peers (stored in the config; the node does not join them automatically)")
	rootCmd.PersistentFlags().StringVar(&raftRole, "raft-role", "",
		"bootstrap to form a new single-member raft cluster, voter to join an existing one")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)
}
