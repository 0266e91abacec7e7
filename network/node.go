package network

import (
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/tolelom/lastout/core"
)

// MessageHandler is called for each received message.
type MessageHandler func(peer *Peer, msg Message)

// DefaultMaxPeers is the default limit on simultaneous peer connections.
const DefaultMaxPeers = 50

// ErrChainMismatch is returned when a peer announces a different chain.
var ErrChainMismatch = errors.New("network: peer is on a different chain")

// Node listens for incoming peers and manages outgoing connections.
type Node struct {
	nodeID     string
	chainID    string
	listenAddr string
	mempool    *core.Mempool
	maxPeers   int
	tlsConfig  *tls.Config // nil → plain TCP

	mu       sync.RWMutex
	peers    map[string]*Peer
	handlers map[MsgType]MessageHandler
	height   func() int64

	listener net.Listener
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewNode creates a Node for chainID that will listen on listenAddr.
// Transactions received from peers enter mempool and are relayed onward.
// If tlsCfg is non-nil the listener and outgoing connections use TLS.
func NewNode(nodeID, chainID, listenAddr string, mempool *core.Mempool, tlsCfg *tls.Config) *Node {
	n := &Node{
		nodeID:     nodeID,
		chainID:    chainID,
		listenAddr: listenAddr,
		mempool:    mempool,
		maxPeers:   DefaultMaxPeers,
		tlsConfig:  tlsCfg,
		peers:      make(map[string]*Peer),
		handlers:   make(map[MsgType]MessageHandler),
		height:     func() int64 { return 0 },
		stopCh:     make(chan struct{}),
	}
	n.Handle(MsgTx, n.handleTx)
	return n
}

// Handle registers a handler for msg type.
func (n *Node) Handle(typ MsgType, h MessageHandler) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.handlers[typ] = h
}

// Start begins accepting connections.
func (n *Node) Start() error {
	var ln net.Listener
	var err error
	if n.tlsConfig != nil {
		ln, err = tls.Listen("tcp", n.listenAddr, n.tlsConfig)
	} else {
		ln, err = net.Listen("tcp", n.listenAddr)
	}
	if err != nil {
		return fmt.Errorf("listen %s: %w", n.listenAddr, err)
	}
	n.listener = ln
	log.Infof("P2P listening on %s", ln.Addr())
	go n.acceptLoop()
	return nil
}

// Addr returns the bound listener address, or the configured one before
// Start.
func (n *Node) Addr() string {
	if n.listener == nil {
		return n.listenAddr
	}
	return n.listener.Addr().String()
}

// Stop shuts down the listener and every peer connection.
func (n *Node) Stop() {
	n.stopOnce.Do(func() {
		close(n.stopCh)
		if n.listener != nil {
			n.listener.Close()
		}
		n.mu.Lock()
		defer n.mu.Unlock()
		for _, p := range n.peers {
			p.Close()
		}
	})
}

// AddPeer dials addr, registers the peer and introduces this node.
func (n *Node) AddPeer(id, addr string) (*Peer, error) {
	peer, err := Connect(id, addr, n.tlsConfig)
	if err != nil {
		return nil, err
	}
	n.mu.Lock()
	if old, ok := n.peers[id]; ok {
		old.Close()
	}
	n.peers[id] = peer
	n.mu.Unlock()
	go n.readLoop(peer)

	if err := send(peer, MsgHello, n.hello()); err != nil {
		log.Warnf("Send hello to %s: %v", id, err)
	}
	return peer, nil
}

// Peer returns the connected peer with the given id, or nil if not found.
func (n *Node) Peer(id string) *Peer {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.peers[id]
}

// PeerCount returns the number of live connections.
func (n *Node) PeerCount() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.peers)
}

func (n *Node) hello() Hello {
	n.mu.RLock()
	height := n.height
	n.mu.RUnlock()
	return Hello{NodeID: n.nodeID, ChainID: n.chainID, Height: height()}
}

// Broadcast sends msg to all connected peers except skip.
func (n *Node) Broadcast(msg Message, skip *Peer) {
	n.mu.RLock()
	peers := make([]*Peer, 0, len(n.peers))
	for _, p := range n.peers {
		if p != skip {
			peers = append(peers, p)
		}
	}
	n.mu.RUnlock()
	for _, p := range peers {
		if err := p.Send(msg); err != nil {
			log.Debugf("Broadcast %s to %s: %v", msg.Type, p.ID, err)
		}
	}
}

// BroadcastTx serialises tx and sends it to all peers.
func (n *Node) BroadcastTx(tx *core.Transaction) {
	n.broadcast(MsgTx, tx, nil)
}

// BroadcastBlock serialises block and sends it to all peers.
func (n *Node) BroadcastBlock(block *core.Block) {
	n.broadcast(MsgBlock, block, nil)
}

func (n *Node) broadcast(typ MsgType, payload any, skip *Peer) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Errorf("Marshal %s: %v", typ, err)
		return
	}
	n.Broadcast(Message{Type: typ, Payload: data}, skip)
}

func (n *Node) acceptLoop() {
	for {
		conn, err := n.listener.Accept()
		if err != nil {
			select {
			case <-n.stopCh:
				return
			default:
				log.Warnf("Accept error: %v", err)
				time.Sleep(100 * time.Millisecond)
				continue
			}
		}
		if n.PeerCount() >= n.maxPeers {
			log.Warnf("Max peers (%d) reached, rejecting %s", n.maxPeers, conn.RemoteAddr())
			conn.Close()
			continue
		}
		peer := NewPeer(conn.RemoteAddr().String(), conn.RemoteAddr().String(), conn)
		n.mu.Lock()
		n.peers[peer.ID] = peer
		n.mu.Unlock()
		go n.readLoop(peer)
	}
}

func (n *Node) readLoop(peer *Peer) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("Read loop panic from %s: %v", peer.ID, r)
		}
		peer.Close()
		n.mu.Lock()
		if n.peers[peer.ID] == peer {
			delete(n.peers, peer.ID)
		}
		n.mu.Unlock()
	}()
	for {
		msg, err := peer.Receive()
		if err != nil {
			return
		}
		n.mu.RLock()
		h, ok := n.handlers[msg.Type]
		n.mu.RUnlock()
		if ok {
			h(peer, msg)
		}
	}
}

func (n *Node) handleTx(from *Peer, msg Message) {
	var tx core.Transaction
	if err := json.Unmarshal(msg.Payload, &tx); err != nil {
		log.Debugf("Unmarshal tx from %s: %v", from.ID, err)
		return
	}
	tx.ID = tx.Hash()
	if err := n.mempool.Add(&tx); err != nil {
		if !errors.Is(err, core.ErrTxKnown) {
			log.Debugf("Mempool add from %s: %v", from.ID, err)
		}
		return
	}
	n.broadcast(MsgTx, &tx, from)
}
