// Package node is the embeddable mesh host: it assembles every internal
// subsystem described by the platform design — storage, the wasm
// sandbox, the actor supervisor, the consensus-backed directory, the
// router, the migration engine, and the inter-node RPC surface — into
// one process, following the teacher's public/orchestrator/embedded.go
// shape (a single struct holding every subsystem, a constructor that
// wires them together, and Start/Close lifecycle methods) generalized
// from a pipeline's cells to a mesh node's agents.
package node

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/greenpdx/fipa-wasm/internal/acl"
	"github.com/greenpdx/fipa-wasm/internal/actor"
	"github.com/greenpdx/fipa-wasm/internal/config"
	"github.com/greenpdx/fipa-wasm/internal/consensus"
	"github.com/greenpdx/fipa-wasm/internal/directory"
	"github.com/greenpdx/fipa-wasm/internal/migration"
	"github.com/greenpdx/fipa-wasm/internal/router"
	"github.com/greenpdx/fipa-wasm/internal/rpc"
	"github.com/greenpdx/fipa-wasm/internal/storage"
	"github.com/greenpdx/fipa-wasm/internal/supervisor"
	"github.com/greenpdx/fipa-wasm/internal/telemetry"
	"github.com/greenpdx/fipa-wasm/internal/vfs"
	"github.com/greenpdx/fipa-wasm/internal/wasmhost"
)

// Node is one running mesh host. The zero value is not usable; build one
// with New.
type Node struct {
	cfg *config.Config

	logger   *zap.Logger
	registry *prometheus.Registry
	metrics  *telemetry.Metrics

	layout     *vfs.NodeLayout
	kvDB       *storage.DB
	modulesDB  *storage.DB
	modules    *storage.ModuleCache
	runtime    *wasmhost.Runtime
	consensus  *consensus.Node
	supervisor *supervisor.Supervisor
	router     *router.Router

	signer  *migration.Signer
	trusted *migration.TrustedKeys
	engine  *migration.Engine

	clients *rpc.ClientPool
	server  *rpc.Server

	hub *subscriberHub

	runCtx    context.Context
	runCancel context.CancelFunc
	wg        sync.WaitGroup
}

// New wires every subsystem together against cfg but starts nothing;
// call Start to bring the node's listeners and background loops up.
func New(cfg *config.Config) (*Node, error) {
	logger, err := telemetry.NewLogger(cfg.LogFormat, cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("node: build logger: %w", err)
	}
	registry := prometheus.NewRegistry()
	metrics := telemetry.NewMetrics(registry)

	layout, err := vfs.NewNodeLayout(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("node: layout: %w", err)
	}

	signer, err := loadOrCreateSigner(layout)
	if err != nil {
		return nil, fmt.Errorf("node: identity: %w", err)
	}
	trusted := migration.NewTrustedKeys()
	trusted.Trust(cfg.NodeID, signer.PublicKey())
	for peerID, hexKey := range cfg.TrustedPeerKeys {
		raw, err := hex.DecodeString(hexKey)
		if err != nil {
			return nil, fmt.Errorf("node: trusted_peer_keys[%s]: %w", peerID, err)
		}
		if len(raw) != ed25519.PublicKeySize {
			return nil, fmt.Errorf("node: trusted_peer_keys[%s]: wrong key size %d", peerID, len(raw))
		}
		trusted.Trust(peerID, ed25519.PublicKey(raw))
	}

	kvDB, err := storage.Open(storage.DefaultConfig(layout.KVDataDir()))
	if err != nil {
		return nil, fmt.Errorf("node: open kv store: %w", err)
	}
	modulesDB, err := storage.Open(storage.DefaultConfig(layout.ModuleCacheDataDir()))
	if err != nil {
		return nil, fmt.Errorf("node: open module cache: %w", err)
	}
	modules := storage.NewModuleCache(modulesDB)

	runtime, err := wasmhost.NewRuntime(context.Background())
	if err != nil {
		return nil, fmt.Errorf("node: wasm runtime: %w", err)
	}

	consensusNode, err := consensus.Open(consensus.Config{
		NodeID:    cfg.NodeID,
		BindAddr:  cfg.RaftBindAddr,
		DataDir:   layout.RaftLogDir(),
		Bootstrap: cfg.RaftBootstrap,
	})
	if err != nil {
		return nil, fmt.Errorf("node: open consensus: %w", err)
	}

	n := &Node{
		cfg:       cfg,
		logger:    logger,
		registry:  registry,
		metrics:   metrics,
		layout:    layout,
		kvDB:      kvDB,
		modulesDB: modulesDB,
		modules:   modules,
		runtime:   runtime,
		consensus: consensusNode,
		signer:    signer,
		trusted:   trusted,
		hub:       newSubscriberHub(),
	}

	n.supervisor = supervisor.New(supervisor.Deps{
		Runtime: runtime,
		KVRoot:  kvDB,
		Logger:  logger,
		HostAPIFor: func(agentName string) wasmhost.HostAPI {
			return newHostAPIAdapter(n, agentName)
		},
	})

	n.clients = rpc.NewClientPool(newStaticResolver(cfg.PeerRPCAddrs), cfg.NodeID, logger)

	n.router = router.New(router.Deps{
		Local:  n.supervisor,
		Dir:    consensusNode.FSM(),
		Remote: n.clients,
		Logger: logger,
	})

	n.engine = migration.NewEngine(trusted, n.supervisor, modules, consensusNode, cfg.NodeID)
	n.server = rpc.NewServer(rpc.DefaultServerConfig(cfg.ListenAddr), &nodeServer{node: n}, logger)

	return n, nil
}

func loadOrCreateSigner(layout *vfs.NodeLayout) (*migration.Signer, error) {
	if layout.HasIdentityKey() {
		raw, err := layout.ReadIdentityKey()
		if err != nil {
			return nil, err
		}
		if len(raw) != ed25519.PrivateKeySize {
			return nil, fmt.Errorf("node: stored identity key has wrong size %d", len(raw))
		}
		return migration.NewSigner(ed25519.PrivateKey(raw)), nil
	}
	signer, priv, err := migration.GenerateSigner()
	if err != nil {
		return nil, err
	}
	if err := layout.WriteIdentityKey(priv); err != nil {
		return nil, err
	}
	return signer, nil
}

// deliverOutbound is the actor/migration Outbound hook: route msg through
// this node's Router the same way whether it originated from a local
// agent's send-message host call or from a freshly restored agent.
func (n *Node) deliverOutbound(ctx context.Context, msg *acl.Message) error {
	if errs := n.router.Route(ctx, msg); len(errs) > 0 {
		return errs[0]
	}
	return nil
}

// Start brings up the RPC server and every background loop: the metrics
// HTTP endpoint and the TCP health listener, the raft-applied-index and
// actor-count gauges,
// and service-lease eviction. It returns once the RPC listener is bound;
// everything else continues in the background until Close.
func (n *Node) Start(ctx context.Context) error {
	n.runCtx, n.runCancel = context.WithCancel(ctx)

	if err := n.server.Start(); err != nil {
		return fmt.Errorf("node: start rpc server: %w", err)
	}

	n.runBackground(func(ctx context.Context) error { return telemetry.ServeMetrics(ctx, n.cfg.MetricsAddr, n.registry) })
	n.runBackground(func(ctx context.Context) error { return telemetry.ServeHealth(ctx, n.cfg.HealthAddr, n.logger) })
	n.runBackground(n.runGaugeLoop)
	n.runBackground(n.runLeaseEvictionLoop)
	n.runBackground(n.runActorEventLoop)

	n.logger.Info("node started",
		zap.String("node_id", n.cfg.NodeID),
		zap.String("rpc_addr", n.server.Addr()),
	)
	return nil
}

func (n *Node) runBackground(fn func(ctx context.Context) error) {
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		if err := fn(n.runCtx); err != nil && n.runCtx.Err() == nil {
			n.logger.Warn("node background loop exited", zap.Error(err))
		}
	}()
}

// runGaugeLoop keeps the actor-count and raft-applied-index gauges
// current; both are cheap reads so a short period is fine.
func (n *Node) runGaugeLoop(ctx context.Context) error {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n.metrics.ActorsActive.Set(float64(len(n.supervisor.List())))
			n.metrics.RaftAppliedIndex.Set(float64(n.consensus.AppliedIndex()))
		}
	}
}

// runLeaseEvictionLoop prunes expired service leases from this node's
// applied directory state; every node runs this independently against its
// own copy, per directory.FSM.EvictExpiredServices's documented tolerance
// for cross-node eviction-time skew.
func (n *Node) runLeaseEvictionLoop(ctx context.Context) error {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if evicted := n.consensus.FSM().EvictExpiredServices(time.Now().UTC()); evicted > 0 {
				n.logger.Debug("evicted expired service leases", zap.Int("count", evicted))
			}
		}
	}
}

// runActorEventLoop deregisters an agent from the directory once its
// actor has fully terminated, so a crashed or deliberately destroyed
// agent does not linger as a stale directory entry other nodes would
// route to.
func (n *Node) runActorEventLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-n.supervisor.Events():
			if !ok {
				return nil
			}
			if ev.State != actor.StateTerminated {
				continue
			}
			cmd := &directory.Command{Kind: directory.CmdDeregisterAgent, AgentName: ev.AgentName}
			if err := n.consensus.Propose(cmd, 5*time.Second); err != nil {
				n.logger.Warn("deregister after actor exit failed", zap.String("agent", ev.AgentName), zap.Error(err))
			}
		}
	}
}

// Close stops every listener and background loop and releases all
// subsystem resources. It is safe to call once after Start; calling it
// without a prior successful Start only releases what New opened.
func (n *Node) Close() error {
	if n.runCancel != nil {
		n.runCancel()
	}
	if n.server != nil {
		n.server.Stop()
	}
	n.wg.Wait()

	n.clients.Close()
	if err := n.consensus.Shutdown(); err != nil {
		n.logger.Warn("consensus shutdown error", zap.Error(err))
	}
	if err := n.runtime.Close(context.Background()); err != nil {
		n.logger.Warn("wasm runtime close error", zap.Error(err))
	}
	if err := n.kvDB.Close(); err != nil {
		n.logger.Warn("kv store close error", zap.Error(err))
	}
	if err := n.modulesDB.Close(); err != nil {
		n.logger.Warn("module cache close error", zap.Error(err))
	}
	return n.logger.Sync()
}

// Addr returns the bound RPC listen address, useful in tests that bind to
// ":0".
func (n *Node) Addr() string { return n.server.Addr() }
