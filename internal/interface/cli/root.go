// Package cli is the read-only admin surface for the daemon: a single
// start command plus version, with no TUI, project init/join/leave,
// lock, token, or MCP subcommands.
package cli

import (
	"context"
	"crypto/sha256"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"syncore/internal/application"
	"syncore/internal/applier"
	"syncore/internal/infrastructure/crypto"
	"syncore/internal/infrastructure/network/libp2p"
	"syncore/internal/infrastructure/storage/badger"
	"syncore/internal/infrastructure/storage/blobcache"
	"syncore/internal/orchestrator"
	"syncore/internal/pkg/logging"
)

// Exit codes distinguishing configuration, storage, and transport
// startup failures.
const (
	ExitClean            = 0
	ExitConfigError      = 1
	ExitStorageOpenError = 2
	ExitTransportError   = 3
)

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "synd",
	Short: "P2P collaborative-runtime synchronization daemon",
	Long: `synd replicates a causally-ordered delta stream across peers,
applying it through an embedding application's Applier and reconciling
divergence via gossip broadcast and pull-based stream sync.`,
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Run the synchronization daemon in the foreground",
	RunE:  runStart,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose logging")
	rootCmd.AddCommand(startCmd)
}

// Execute runs the root command and returns a process exit code rather
// than an error, so main can call os.Exit directly.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		if code, ok := err.(exitError); ok {
			return int(code)
		}
		return ExitConfigError
	}
	return ExitClean
}

// exitError carries one of the distinguished exit codes through cobra's
// error return without collapsing every failure to a generic non-zero
// status.
type exitError int

func (e exitError) Error() string { return fmt.Sprintf("exit code %d", int(e)) }

func runStart(cmd *cobra.Command, args []string) error {
	log := logging.Default().Component("cli")

	cfg, err := application.Load(cfgFile)
	if err != nil {
		log.Error("config error", "err", err)
		return exitError(ExitConfigError)
	}

	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		log.Error("data dir error", "err", err)
		return exitError(ExitConfigError)
	}

	keyPath := filepath.Join(cfg.DataDir, "key.json")
	keyPair, err := loadOrCreateKeyPair(keyPath)
	if err != nil {
		log.Error("key error", "err", err)
		return exitError(ExitConfigError)
	}

	mgr := badger.NewManager(cfg.DataDir)
	dagStore, err := badger.NewDagStore(mgr, "dag")
	if err != nil {
		log.Error("storage open failed", "err", err)
		return exitError(ExitStorageOpenError)
	}
	stateDB, err := mgr.Open("state")
	if err != nil {
		log.Error("storage open failed", "err", err)
		return exitError(ExitStorageOpenError)
	}
	blobDB, err := mgr.Open("blob")
	if err != nil {
		log.Error("storage open failed", "err", err)
		return exitError(ExitStorageOpenError)
	}
	auditDB, err := mgr.Open("audit")
	if err != nil {
		log.Error("storage open failed", "err", err)
		return exitError(ExitStorageOpenError)
	}
	defer mgr.CloseAll()

	kvApplier := applier.NewKVApplier(stateDB)
	blobs := blobcache.NewStore(blobDB, blobcache.DefaultConfig())
	audit := badger.NewAuditStore(auditDB, 0)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	nodeCfg := libp2p.DefaultConfig()
	nodeCfg.PrivateKey = keyPair.PrivateKey
	nodeCfg.ProjectID = cfg.ProjectID
	if cfg.ListenPort != 0 {
		nodeCfg.ListenAddrs = []string{
			fmt.Sprintf("/ip4/0.0.0.0/tcp/%d", cfg.ListenPort),
			fmt.Sprintf("/ip4/0.0.0.0/udp/%d/quic-v1", cfg.ListenPort),
		}
	}

	node, err := libp2p.NewNode(ctx, nodeCfg)
	if err != nil {
		log.Error("transport bind failed", "err", err)
		return exitError(ExitTransportError)
	}
	defer node.Close()

	identity := sha256.Sum256([]byte(node.ID().String()))

	orch := orchestrator.New(cfg, node, dagStore, kvApplier, identity, blobs, audit)
	if err := orch.Start(ctx); err != nil {
		log.Error("orchestrator start failed", "err", err)
		return exitError(ExitStorageOpenError)
	}
	defer orch.Stop()

	log.Info("synd started", "node_id", node.ID().String(), "data_dir", cfg.DataDir)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down")
	return nil
}

func loadOrCreateKeyPair(path string) (*crypto.KeyPair, error) {
	if crypto.KeyExists(path) {
		return crypto.LoadKeyPair(path)
	}
	kp, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	if err := crypto.SaveKeyPair(kp, path); err != nil {
		return nil, err
	}
	return kp, nil
}
