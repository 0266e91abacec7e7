// Package node assembles storage, execution, consensus, indexing, metrics
// and RPC into one running validator.
package node

import (
	"fmt"
	"sync"

	"github.com/decred/slog"
	"github.com/tolelom/lastout/config"
	"github.com/tolelom/lastout/consensus"
	"github.com/tolelom/lastout/core"
	"github.com/tolelom/lastout/crypto"
	"github.com/tolelom/lastout/escrow"
	"github.com/tolelom/lastout/events"
	"github.com/tolelom/lastout/indexer"
	"github.com/tolelom/lastout/logging"
	"github.com/tolelom/lastout/metrics"
	"github.com/tolelom/lastout/network"
	"github.com/tolelom/lastout/rpc"
	"github.com/tolelom/lastout/storage"
	"github.com/tolelom/lastout/vm"

	// Import VM modules to trigger their init() self-registration.
	_ "github.com/tolelom/lastout/vm/modules/economy"
	_ "github.com/tolelom/lastout/vm/modules/game"
)

var log = slog.Disabled

// UseLogger sets the package logger.
func UseLogger(logger slog.Logger) {
	log = logger
}

// UseLogging hands every package its subsystem logger from m.
func UseLogging(m *logging.Manager) {
	core.UseLogger(m.Logger(logging.SubsystemChain))
	consensus.UseLogger(m.Logger(logging.SubsystemConsensus))
	escrow.UseLogger(m.Logger(logging.SubsystemEscrow))
	vm.UseLogger(m.Logger(logging.SubsystemVM))
	rpc.UseLogger(m.Logger(logging.SubsystemRPC))
	indexer.UseLogger(m.Logger(logging.SubsystemIndexer))
	events.UseLogger(m.Logger(logging.SubsystemEvents))
	network.UseLogger(m.Logger(logging.SubsystemNetwork))
	UseLogger(m.Logger(logging.SubsystemNode))
}

// Node is a single validator with its RPC endpoint.
type Node struct {
	cfg     *config.Config
	db      storage.DB
	State   *storage.StateDB
	Chain   *core.Blockchain
	Mempool *core.Mempool
	Emitter *events.Emitter
	Indexer *indexer.Indexer
	Metrics *metrics.Collector
	PoA     *consensus.PoA
	RPC     *rpc.Server
	// P2P and Syncer are nil when p2p_port is 0.
	P2P    *network.Node
	Syncer *network.Syncer

	done chan struct{}
	wg   sync.WaitGroup
}

// New wires a node over db. A fresh database gets a genesis block built from
// cfg.Genesis and signed by privKey. The caller owns db.
func New(cfg *config.Config, db storage.DB, privKey crypto.PrivateKey) (*Node, error) {
	state := storage.NewStateDB(db)
	bc := core.NewBlockchain(storage.NewBlockStore(db))
	if err := bc.Init(); err != nil {
		return nil, fmt.Errorf("blockchain init: %w", err)
	}

	if bc.Tip() == nil {
		genesis, err := config.CreateGenesisBlock(cfg, state, privKey)
		if err != nil {
			return nil, fmt.Errorf("genesis: %w", err)
		}
		if err := bc.AddBlock(genesis); err != nil {
			return nil, fmt.Errorf("add genesis: %w", err)
		}
		log.Infof("Genesis block committed: %s", genesis.Hash)
	}

	emitter := events.NewEmitter()
	idx := indexer.New(db, emitter)
	collector := metrics.New()
	collector.Attach(emitter)

	mempool := core.NewMempool(cfg.Genesis.ChainID)
	exec := vm.NewExecutor(state, emitter)
	poa := consensus.New(cfg, bc, state, mempool, exec, emitter, privKey)

	handler := rpc.NewHandler(bc, mempool, state, idx, cfg.Genesis.ChainID)
	server := rpc.NewServer(fmt.Sprintf(":%d", cfg.RPCPort), handler, cfg.RPCAuthToken, collector.Registry())

	var p2p *network.Node
	var syncer *network.Syncer
	if cfg.P2PPort > 0 {
		tlsCfg, err := config.LoadTLSConfig(cfg.TLS)
		if err != nil {
			return nil, fmt.Errorf("p2p tls: %w", err)
		}
		if tlsCfg != nil {
			log.Info("Mutual TLS enabled for P2P")
		}
		p2p = network.NewNode(cfg.NodeID, cfg.Genesis.ChainID, fmt.Sprintf(":%d", cfg.P2PPort), mempool, tlsCfg)
		syncer = network.NewSyncer(p2p, bc, poa)
		handler.SetBroadcaster(p2p)
		emitter.Subscribe(events.EventBlockCommit, func(ev events.Event) {
			if hash, ok := ev.Data["hash"].(string); ok {
				syncer.Announce(hash)
			}
		})
	}

	return &Node{
		cfg:     cfg,
		db:      db,
		State:   state,
		Chain:   bc,
		Mempool: mempool,
		Emitter: emitter,
		Indexer: idx,
		Metrics: collector,
		PoA:     poa,
		RPC:     server,
		P2P:     p2p,
		Syncer:  syncer,
	}, nil
}

// Start opens the RPC and P2P listeners, dials the seed peers and launches
// block production. An unreachable seed is logged, not fatal.
func (n *Node) Start() error {
	if err := n.RPC.Start(); err != nil {
		return fmt.Errorf("rpc start: %w", err)
	}
	if n.P2P != nil {
		if err := n.P2P.Start(); err != nil {
			_ = n.RPC.Stop()
			return fmt.Errorf("p2p start: %w", err)
		}
		for _, sp := range n.cfg.SeedPeers {
			peer, err := n.P2P.AddPeer(sp.ID, sp.Addr)
			if err != nil {
				log.Warnf("Seed peer %s (%s): %v", sp.ID, sp.Addr, err)
				continue
			}
			n.Syncer.SyncWithPeer(peer)
			log.Infof("Connected to seed peer %s (%s)", sp.ID, sp.Addr)
		}
	}
	if n.cfg.RPCAuthToken != "" {
		log.Info("RPC bearer token authentication enabled")
	}

	n.done = make(chan struct{})
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.PoA.Run(n.cfg.BlockInterval, n.done)
	}()
	log.Infof("Consensus running, block interval %s", n.cfg.BlockInterval)
	return nil
}

// Stop halts consensus first so no block is written mid-shutdown, then
// closes the P2P and RPC servers.
func (n *Node) Stop() error {
	if n.done != nil {
		close(n.done)
		n.wg.Wait()
		n.done = nil
	}
	if n.P2P != nil {
		n.P2P.Stop()
	}
	return n.RPC.Stop()
}
