package network

import (
	"encoding/json"

	"github.com/tolelom/lastout/core"
)

const (
	syncBatch    = 50
	maxSyncBatch = 200
)

// GetBlocksRequest asks a peer for blocks starting at FromHeight.
type GetBlocksRequest struct {
	FromHeight int64 `json:"from_height"`
	Limit      int   `json:"limit"`
}

// BlocksResponse carries a batch of blocks.
type BlocksResponse struct {
	Blocks []*core.Block `json:"blocks"`
}

// BlockImporter validates, replays and appends a block produced elsewhere.
type BlockImporter interface {
	ImportBlock(block *core.Block) error
}

// Syncer keeps the local chain level with its peers: it answers block
// requests, imports announced blocks and relays them onward.
type Syncer struct {
	node     *Node
	bc       *core.Blockchain
	importer BlockImporter
}

// NewSyncer registers the sync handlers on node.
func NewSyncer(node *Node, bc *core.Blockchain, importer BlockImporter) *Syncer {
	s := &Syncer{node: node, bc: bc, importer: importer}
	node.mu.Lock()
	node.height = bc.Height
	node.mu.Unlock()
	node.Handle(MsgHello, s.handleHello)
	node.Handle(MsgGetBlocks, s.handleGetBlocks)
	node.Handle(MsgBlocks, s.handleBlocks)
	node.Handle(MsgBlock, s.handleBlock)
	return s
}

// Announce relays a locally committed block to every peer.
func (s *Syncer) Announce(hash string) {
	b, err := s.bc.GetBlock(hash)
	if err != nil {
		log.Warnf("Announce %s: %v", hash, err)
		return
	}
	s.node.BroadcastBlock(b)
}

// SyncWithPeer requests missing blocks from the given peer.
func (s *Syncer) SyncWithPeer(peer *Peer) {
	if err := s.RequestBlocks(peer, s.bc.Height()+1); err != nil {
		log.Warnf("Request blocks from %s: %v", peer.ID, err)
	}
}

// RequestBlocks asks peer for blocks starting at fromHeight.
func (s *Syncer) RequestBlocks(peer *Peer, fromHeight int64) error {
	return send(peer, MsgGetBlocks, GetBlocksRequest{FromHeight: fromHeight, Limit: syncBatch})
}

// handleHello answers an introduction and pulls blocks the peer has ahead.
func (s *Syncer) handleHello(peer *Peer, msg Message) {
	var h Hello
	if err := json.Unmarshal(msg.Payload, &h); err != nil {
		peer.Close()
		return
	}
	if h.ChainID != s.node.chainID {
		log.Warnf("Peer %s (%s): %v: %q", peer.ID, h.NodeID, ErrChainMismatch, h.ChainID)
		peer.Close()
		return
	}
	log.Infof("Peer %s is %s at height %d", peer.ID, h.NodeID, h.Height)
	if h.Height > s.bc.Height() {
		s.SyncWithPeer(peer)
	}
}

func (s *Syncer) handleGetBlocks(peer *Peer, msg Message) {
	var req GetBlocksRequest
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		return
	}
	if req.Limit <= 0 || req.Limit > maxSyncBatch {
		req.Limit = syncBatch
	}
	blocks := make([]*core.Block, 0, req.Limit)
	for h := req.FromHeight; h < req.FromHeight+int64(req.Limit); h++ {
		b, err := s.bc.GetBlockByHeight(h)
		if err != nil {
			break
		}
		blocks = append(blocks, b)
	}
	if err := send(peer, MsgBlocks, BlocksResponse{Blocks: blocks}); err != nil {
		log.Debugf("Send blocks to %s: %v", peer.ID, err)
	}
}

func (s *Syncer) handleBlocks(peer *Peer, msg Message) {
	var resp BlocksResponse
	if err := json.Unmarshal(msg.Payload, &resp); err != nil {
		return
	}
	for _, b := range resp.Blocks {
		if b.Header.Height <= s.bc.Height() {
			continue
		}
		if err := s.importer.ImportBlock(b); err != nil {
			log.Warnf("Block %d from %s rejected: %v", b.Header.Height, peer.ID, err)
			return
		}
	}
	// A full batch means the peer may have more.
	if len(resp.Blocks) >= syncBatch {
		s.SyncWithPeer(peer)
	}
}

// handleBlock imports a freshly announced block, or falls back to a batch
// sync when it is not the next height.
func (s *Syncer) handleBlock(peer *Peer, msg Message) {
	var b core.Block
	if err := json.Unmarshal(msg.Payload, &b); err != nil {
		return
	}
	height := s.bc.Height()
	switch {
	case b.Header.Height <= height:
		return
	case b.Header.Height > height+1:
		s.SyncWithPeer(peer)
		return
	}
	if err := s.importer.ImportBlock(&b); err != nil {
		log.Warnf("Announced block %d from %s rejected: %v", b.Header.Height, peer.ID, err)
	}
}
