package rpc

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/tolelom/lastout/core"
	"github.com/tolelom/lastout/escrow"
	"github.com/tolelom/lastout/indexer"
)

// TxBroadcaster relays accepted transactions to other nodes.
type TxBroadcaster interface {
	BroadcastTx(tx *core.Transaction)
}

// Handler holds all dependencies needed to serve RPC methods.
type Handler struct {
	bc      *core.Blockchain
	mempool *core.Mempool
	state   core.State
	indexer *indexer.Indexer
	chainID string // expected chain_id; used to reject cross-chain replay transactions
	relay   TxBroadcaster
}

// NewHandler creates an RPC Handler.
func NewHandler(bc *core.Blockchain, mempool *core.Mempool, state core.State, idx *indexer.Indexer, chainID string) *Handler {
	return &Handler{bc: bc, mempool: mempool, state: state, indexer: idx, chainID: chainID}
}

// SetBroadcaster makes sendTx relay accepted transactions through b.
func (h *Handler) SetBroadcaster(b TxBroadcaster) {
	h.relay = b
}

// Dispatch routes an RPC request to the correct method.
func (h *Handler) Dispatch(req Request) Response {
	switch req.Method {
	case "getBlockHeight":
		return okResponse(req.ID, h.bc.Height())
	case "getBlock":
		return h.getBlock(req)
	case "getBalance":
		return h.getBalance(req)
	case "sendTx":
		return h.sendTx(req)
	case "getMempoolSize":
		return okResponse(req.ID, h.mempool.Size())
	case "getReceipt":
		return h.getReceipt(req)

	case "getContract":
		return h.getContract(req)
	case "getGameInfo":
		return h.getGameInfo(req)
	case "getPlayerDepositStatus":
		return h.getPlayerDepositStatus(req)
	case "isWinnerOfGame":
		return h.isWinnerOfGame(req)
	case "getReferrer":
		return h.getReferrer(req)
	case "getClaimable":
		return h.getClaimable(req)
	case "getGamesByPlayer":
		return h.getGamesByPlayer(req)
	case "getReferees":
		return h.getReferees(req)

	default:
		return errResponse(req.ID, CodeMethodNotFound, fmt.Sprintf("method %q not found", req.Method))
	}
}

// escrow returns a read-only engine over the live state. Queries never
// enter run, so no events are buffered and nothing is written.
func (h *Handler) escrow() *escrow.Engine {
	return escrow.New(h.state, nil)
}

// failure maps err to a JSON-RPC error: escrow sentinels keep their text
// under CodeEscrowError, missing keys become CodeNotFound.
func failure(id any, err error) Response {
	switch {
	case errors.Is(err, core.ErrNotFound):
		return errResponse(id, CodeNotFound, err.Error())
	case strings.HasPrefix(err.Error(), "escrow:"):
		return errResponse(id, CodeEscrowError, err.Error())
	default:
		return errResponse(id, CodeInternalError, err.Error())
	}
}

type gameParams struct {
	GameID uint64 `json:"game_id"`
	Player string `json:"player"`
}

type addressParams struct {
	Address string `json:"address"`
}

func (p addressParams) check() error {
	if p.Address == "" {
		return errors.New("address is required")
	}
	return nil
}

func (h *Handler) getBlock(req Request) Response {
	var params struct {
		Hash   string `json:"hash"`
		Height *int64 `json:"height"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, "params: "+err.Error())
	}

	var block *core.Block
	var err error
	if params.Hash != "" {
		block, err = h.bc.GetBlock(params.Hash)
	} else if params.Height != nil {
		block, err = h.bc.GetBlockByHeight(*params.Height)
	} else {
		block = h.bc.Tip()
	}
	if err != nil {
		return failure(req.ID, err)
	}
	if block == nil {
		return errResponse(req.ID, CodeNotFound, "no block found")
	}
	return okResponse(req.ID, block)
}

func (h *Handler) getBalance(req Request) Response {
	var params addressParams
	if err := decodeParams(req, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	if err := params.check(); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	addr := strings.ToLower(params.Address)
	acc, err := h.state.GetAccount(addr)
	if err != nil {
		return failure(req.ID, err)
	}
	return okResponse(req.ID, map[string]any{"address": addr, "balance": acc.Balance, "nonce": acc.Nonce})
}

func (h *Handler) getReceipt(req Request) Response {
	var params struct {
		TxID string `json:"tx_id"`
	}
	if err := decodeParams(req, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	if params.TxID == "" {
		return errResponse(req.ID, CodeInvalidParams, "tx_id is required")
	}
	rcpt, err := h.indexer.GetReceipt(params.TxID)
	if err != nil {
		return failure(req.ID, err)
	}
	return okResponse(req.ID, rcpt)
}

func (h *Handler) getContract(req Request) Response {
	ct, err := h.escrow().Contract()
	if err != nil {
		return failure(req.ID, err)
	}
	bal, err := h.escrow().EscrowBalance()
	if err != nil {
		return failure(req.ID, err)
	}
	return okResponse(req.ID, map[string]any{
		"address":  core.EscrowAccount,
		"balance":  bal,
		"contract": ct,
	})
}

func (h *Handler) getGameInfo(req Request) Response {
	var params gameParams
	if err := decodeParams(req, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	info, err := h.escrow().GameInfo(params.GameID)
	if err != nil {
		return failure(req.ID, err)
	}
	return okResponse(req.ID, info)
}

func (h *Handler) getPlayerDepositStatus(req Request) Response {
	var params gameParams
	if err := decodeParams(req, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	return okResponse(req.ID, h.escrow().PlayerDepositStatus(params.GameID, params.Player))
}

func (h *Handler) isWinnerOfGame(req Request) Response {
	var params gameParams
	if err := decodeParams(req, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	return okResponse(req.ID, h.escrow().IsWinner(params.GameID, params.Player))
}

func (h *Handler) getReferrer(req Request) Response {
	var params addressParams
	if err := decodeParams(req, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	if err := params.check(); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	ref, err := h.escrow().Referrer(params.Address)
	if err != nil {
		return failure(req.ID, err)
	}
	return okResponse(req.ID, map[string]any{
		"player":   strings.ToLower(params.Address),
		"referrer": ref,
		"bound":    ref != "",
		"blocked":  ref == escrow.BlockedReferrer,
	})
}

// ClaimableGame is one game in which an address has value to collect.
type ClaimableGame struct {
	GameID uint64 `json:"game_id"`
	State  string `json:"state"`
	Amount uint64 `json:"amount"`
}

// Claimable summarises everything an address can currently withdraw.
type Claimable struct {
	Address          string          `json:"address"`
	ReferralEarnings uint64          `json:"referral_earnings"`
	Games            []ClaimableGame `json:"games"`
	Total            uint64          `json:"total"`
}

func (h *Handler) getClaimable(req Request) Response {
	var params addressParams
	if err := decodeParams(req, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	if err := params.check(); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	addr := strings.ToLower(params.Address)
	eng := h.escrow()

	earned, err := eng.ReferralEarnings(addr)
	if err != nil {
		return failure(req.ID, err)
	}
	out := Claimable{Address: addr, ReferralEarnings: earned, Games: []ClaimableGame{}, Total: earned}

	ids, err := h.indexer.GetGamesByPlayer(addr)
	if err != nil {
		return failure(req.ID, err)
	}
	for _, id := range ids {
		amt, err := eng.Claimable(id, addr)
		if err != nil {
			return failure(req.ID, err)
		}
		if amt == 0 {
			continue
		}
		info, err := eng.GameInfo(id)
		if err != nil {
			return failure(req.ID, err)
		}
		out.Games = append(out.Games, ClaimableGame{GameID: id, State: info.StateName, Amount: amt})
		out.Total += amt
	}
	return okResponse(req.ID, out)
}

func (h *Handler) getGamesByPlayer(req Request) Response {
	var params addressParams
	if err := decodeParams(req, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	if err := params.check(); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	ids, err := h.indexer.GetGamesByPlayer(strings.ToLower(params.Address))
	if err != nil {
		return failure(req.ID, err)
	}
	return okResponse(req.ID, ids)
}

func (h *Handler) getReferees(req Request) Response {
	var params addressParams
	if err := decodeParams(req, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	if err := params.check(); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	refs, err := h.indexer.GetReferees(strings.ToLower(params.Address))
	if err != nil {
		return failure(req.ID, err)
	}
	return okResponse(req.ID, refs)
}

func (h *Handler) sendTx(req Request) Response {
	var tx core.Transaction
	if err := json.Unmarshal(req.Params, &tx); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	// Reject transactions destined for a different network to prevent
	// cross-chain replay attacks.
	if tx.ChainID != h.chainID {
		return errResponse(req.ID, CodeInvalidParams,
			fmt.Sprintf("chain ID mismatch: got %q want %q", tx.ChainID, h.chainID))
	}
	// Recompute the ID server-side; do not trust the client-provided value.
	tx.ID = tx.Hash()
	if err := h.mempool.Add(&tx); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	log.Debugf("Accepted tx %s (%s) from %s", tx.ID, tx.Type, tx.From)
	if h.relay != nil {
		h.relay.BroadcastTx(&tx)
	}
	return okResponse(req.ID, map[string]string{"tx_id": tx.ID})
}

func decodeParams(req Request, v any) error {
	if len(req.Params) == 0 {
		return errors.New("params are required")
	}
	if err := json.Unmarshal(req.Params, v); err != nil {
		return fmt.Errorf("params: %w", err)
	}
	return nil
}
