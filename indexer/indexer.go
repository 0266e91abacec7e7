// Package indexer maintains secondary indexes over executed transactions so
// clients can list a player's games, a referrer's referees and the outcome
// of any submitted transaction without scanning full state.
package indexer

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/decred/slog"
	"github.com/tolelom/lastout/core"
	"github.com/tolelom/lastout/events"
	"github.com/tolelom/lastout/storage"
)

var log = slog.Disabled

// UseLogger sets the package logger.
func UseLogger(logger slog.Logger) {
	log = logger
}

const (
	prefixPlayerGames      = "idx:player:game:"
	prefixReferrerReferees = "idx:referrer:referee:"
	prefixReceipt          = "idx:receipt:"
)

// Receipt records the outcome of a transaction that reached a block.
type Receipt struct {
	TxID        string `json:"tx_id"`
	BlockHeight int64  `json:"block_height"`
	Type        string `json:"type"`
	From        string `json:"from"`
	Success     bool   `json:"success"`
	Error       string `json:"error,omitempty"`
}

// Indexer subscribes to chain events and updates secondary lookup tables.
type Indexer struct {
	db      storage.DB
	emitter *events.Emitter
}

// New creates an Indexer backed by db and subscribes to relevant events.
func New(db storage.DB, emitter *events.Emitter) *Indexer {
	idx := &Indexer{db: db, emitter: emitter}
	emitter.Subscribe(events.EventGameCreated, idx.onGameCreated)
	emitter.Subscribe(events.EventReferrerBound, idx.onReferrerBound)
	emitter.Subscribe(events.EventTxExecuted, idx.onTxExecuted)
	emitter.Subscribe(events.EventTxFailed, idx.onTxFailed)
	return idx
}

// GetGamesByPlayer returns the ids of every game player was registered in,
// in creation order.
func (idx *Indexer) GetGamesByPlayer(player string) ([]uint64, error) {
	raw, err := idx.getList(prefixPlayerGames + player)
	if err != nil {
		return nil, err
	}
	ids := make([]uint64, 0, len(raw))
	for _, s := range raw {
		id, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("indexer: bad game id %q: %w", s, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// GetReferees returns the players bound to referrer.
func (idx *Indexer) GetReferees(referrer string) ([]string, error) {
	return idx.getList(prefixReferrerReferees + referrer)
}

// GetReceipt returns the receipt of txID, or core.ErrNotFound.
func (idx *Indexer) GetReceipt(txID string) (*Receipt, error) {
	data, err := idx.db.Get([]byte(prefixReceipt + txID))
	if err != nil {
		return nil, err
	}
	var r Receipt
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("indexer unmarshal: %w", err)
	}
	return &r, nil
}

// ---- event handlers ----

func (idx *Indexer) onGameCreated(ev events.Event) {
	id, ok := ev.Data["game_id"].(uint64)
	if !ok || id == 0 {
		return
	}
	players, _ := ev.Data["players"].([]string)
	for _, player := range players {
		if err := idx.addToList(prefixPlayerGames+player, strconv.FormatUint(id, 10)); err != nil {
			log.Errorf("Index game %d for %s: %v", id, player, err)
		}
	}
}

func (idx *Indexer) onReferrerBound(ev events.Event) {
	player, _ := ev.Data["player"].(string)
	referrer, _ := ev.Data["referrer"].(string)
	if player == "" || referrer == "" {
		return
	}
	if err := idx.addToList(prefixReferrerReferees+referrer, player); err != nil {
		log.Errorf("Index referee %s for %s: %v", player, referrer, err)
	}
}

func (idx *Indexer) onTxExecuted(ev events.Event) {
	idx.putReceipt(ev, true)
}

// onTxFailed records a dropped tx unless it already succeeded; a relayed
// copy of an included tx fails its nonce check on a later block.
func (idx *Indexer) onTxFailed(ev events.Event) {
	if prev, err := idx.GetReceipt(ev.TxID); err == nil && prev.Success {
		return
	}
	idx.putReceipt(ev, false)
}

func (idx *Indexer) putReceipt(ev events.Event, success bool) {
	if ev.TxID == "" {
		return
	}
	r := Receipt{TxID: ev.TxID, BlockHeight: ev.BlockHeight, Success: success}
	r.Type, _ = ev.Data["type"].(string)
	r.From, _ = ev.Data["from"].(string)
	r.Error, _ = ev.Data["error"].(string)
	data, err := json.Marshal(r)
	if err != nil {
		return
	}
	if err := idx.db.Set([]byte(prefixReceipt+ev.TxID), data); err != nil {
		log.Errorf("Store receipt %s: %v", ev.TxID, err)
	}
}

// ---- list helpers ----

func (idx *Indexer) getList(key string) ([]string, error) {
	data, err := idx.db.Get([]byte(key))
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return nil, nil // empty list
		}
		return nil, err
	}
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, fmt.Errorf("indexer unmarshal: %w", err)
	}
	return ids, nil
}

func (idx *Indexer) addToList(key, value string) error {
	ids, err := idx.getList(key)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if id == value {
			return nil
		}
	}
	ids = append(ids, value)
	data, err := json.Marshal(ids)
	if err != nil {
		return err
	}
	return idx.db.Set([]byte(key), data)
}
