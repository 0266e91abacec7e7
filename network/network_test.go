package network

import (
	"crypto/tls"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tolelom/lastout/config"
	"github.com/tolelom/lastout/core"
	"github.com/tolelom/lastout/crypto"
	"github.com/tolelom/lastout/crypto/certgen"
	"github.com/tolelom/lastout/internal/testutil"
)

const chainID = "lastout-test"

func pipePeers() (*Peer, *Peer) {
	a, b := net.Pipe()
	return NewPeer("a", "pipe", a), NewPeer("b", "pipe", b)
}

// recordingImporter appends blocks to bc without replaying them.
type recordingImporter struct {
	bc       *core.Blockchain
	imported []int64
}

func (r *recordingImporter) ImportBlock(b *core.Block) error {
	if err := r.bc.AddBlock(b); err != nil {
		return err
	}
	r.imported = append(r.imported, b.Header.Height)
	return nil
}

func buildChain(t *testing.T, length int) *core.Blockchain {
	t.Helper()
	priv, _, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	bc := core.NewBlockchain(testutil.NewBlockStore())
	require.NoError(t, bc.Init())
	prev := ""
	for h := 0; h < length; h++ {
		b := core.NewBlockAt(int64(h), prev, priv.Address(), nil, int64(100+h))
		b.Sign(priv)
		require.NoError(t, bc.AddBlock(b))
		prev = b.Hash
	}
	return bc
}

func TestPeerFraming(t *testing.T) {
	a, b := pipePeers()
	defer a.Close()
	defer b.Close()

	go func() {
		_ = send(a, MsgHello, Hello{NodeID: "n1", ChainID: chainID, Height: 9})
	}()
	msg, err := b.Receive()
	require.NoError(t, err)
	require.Equal(t, MsgHello, msg.Type)

	var h Hello
	require.NoError(t, json.Unmarshal(msg.Payload, &h))
	require.Equal(t, Hello{NodeID: "n1", ChainID: chainID, Height: 9}, h)

	a.Close()
	require.Error(t, a.Send(Message{Type: MsgTx}))
}

func TestHelloFromForeignChainClosesPeer(t *testing.T) {
	node := NewNode("local", chainID, "127.0.0.1:0", core.NewMempool(chainID), nil)
	s := NewSyncer(node, buildChain(t, 1), nil)

	local, remote := pipePeers()
	defer remote.Close()
	payload, err := json.Marshal(Hello{NodeID: "x", ChainID: "other", Height: 100})
	require.NoError(t, err)

	s.handleHello(local, Message{Type: MsgHello, Payload: payload})
	_, err = remote.Receive()
	require.Error(t, err, "connection is closed without a block request")
}

func TestGetBlocksServesBatch(t *testing.T) {
	node := NewNode("local", chainID, "127.0.0.1:0", core.NewMempool(chainID), nil)
	s := NewSyncer(node, buildChain(t, 5), nil)

	local, remote := pipePeers()
	defer local.Close()
	defer remote.Close()

	req, err := json.Marshal(GetBlocksRequest{FromHeight: 2, Limit: 10})
	require.NoError(t, err)
	go s.handleGetBlocks(local, Message{Type: MsgGetBlocks, Payload: req})

	msg, err := remote.Receive()
	require.NoError(t, err)
	require.Equal(t, MsgBlocks, msg.Type)
	var resp BlocksResponse
	require.NoError(t, json.Unmarshal(msg.Payload, &resp))
	require.Len(t, resp.Blocks, 3)
	require.EqualValues(t, 2, resp.Blocks[0].Header.Height)
	require.EqualValues(t, 4, resp.Blocks[2].Header.Height)
}

func TestHandleBlocksImportsOnlyNewHeights(t *testing.T) {
	source := buildChain(t, 4)
	var blocks []*core.Block
	for h := int64(0); h < 4; h++ {
		b, err := source.GetBlockByHeight(h)
		require.NoError(t, err)
		blocks = append(blocks, b)
	}

	target := core.NewBlockchain(testutil.NewBlockStore())
	require.NoError(t, target.Init())
	require.NoError(t, target.AddBlock(blocks[0]))
	require.NoError(t, target.AddBlock(blocks[1]))

	imp := &recordingImporter{bc: target}
	node := NewNode("local", chainID, "127.0.0.1:0", core.NewMempool(chainID), nil)
	s := NewSyncer(node, target, imp)

	local, remote := pipePeers()
	defer local.Close()
	defer remote.Close()

	payload, err := json.Marshal(BlocksResponse{Blocks: blocks})
	require.NoError(t, err)
	s.handleBlocks(local, Message{Type: MsgBlocks, Payload: payload})

	require.Equal(t, []int64{2, 3}, imp.imported)
	require.EqualValues(t, 3, target.Height())
}

func TestTxRelayBetweenNodes(t *testing.T) {
	testTxRelay(t, nil)
}

func TestTxRelayOverMutualTLS(t *testing.T) {
	paths, err := certgen.GenerateAll(t.TempDir(), "relay", nil)
	require.NoError(t, err)
	tlsCfg, err := config.LoadTLSConfig(config.TLSConfig{
		CACert:   paths.CACert,
		NodeCert: paths.NodeCert,
		NodeKey:  paths.NodeKey,
	})
	require.NoError(t, err)
	testTxRelay(t, tlsCfg)
}

func TestPlainDialerRejectedByTLSNode(t *testing.T) {
	paths, err := certgen.GenerateAll(t.TempDir(), "relay", nil)
	require.NoError(t, err)
	tlsCfg, err := config.LoadTLSConfig(config.TLSConfig{
		CACert:   paths.CACert,
		NodeCert: paths.NodeCert,
		NodeKey:  paths.NodeKey,
	})
	require.NoError(t, err)

	secure := NewNode("secure", chainID, "127.0.0.1:0", core.NewMempool(chainID), tlsCfg)
	require.NoError(t, secure.Start())
	defer secure.Stop()

	plain, err := Connect("secure", secure.Addr(), nil)
	require.NoError(t, err)
	defer plain.Close()
	require.NoError(t, send(plain, MsgHello, Hello{NodeID: "plain", ChainID: chainID}))
	// The TLS side cannot parse the handshake and drops the connection.
	_, err = plain.Receive()
	require.Error(t, err)
}

func testTxRelay(t *testing.T, tlsCfg *tls.Config) {
	t.Helper()
	mpA := core.NewMempool(chainID)
	mpB := core.NewMempool(chainID)
	a := NewNode("a", chainID, "127.0.0.1:0", mpA, tlsCfg)
	b := NewNode("b", chainID, "127.0.0.1:0", mpB, tlsCfg)
	require.NoError(t, a.Start())
	defer a.Stop()
	require.NoError(t, b.Start())
	defer b.Stop()

	_, err := a.AddPeer("b", b.Addr())
	require.NoError(t, err)
	require.Eventually(t, func() bool { return b.PeerCount() == 1 }, 5*time.Second, 10*time.Millisecond)

	priv, _, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	tx, err := core.NewTransaction(chainID, core.TxClaimReferralEarnings, priv.Address(), 0, 0, 0, core.EmptyPayload{})
	require.NoError(t, err)
	tx.Sign(priv)
	require.NoError(t, mpA.Add(tx))
	a.BroadcastTx(tx)

	require.Eventually(t, func() bool {
		_, ok := mpB.Get(tx.ID)
		return ok
	}, 5*time.Second, 10*time.Millisecond)
}
