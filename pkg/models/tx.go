package models

import "time"

// TxStatus is a node in the QueuedTx status DAG:
//
//	pending      -> {broadcasting, expired}
//	broadcasting -> {broadcast, failed}
//	broadcast    -> {confirmed, failed}
//
// confirmed, failed and expired are terminal.
type TxStatus string

const (
	TxPending      TxStatus = "pending"
	TxBroadcasting TxStatus = "broadcasting"
	TxBroadcast    TxStatus = "broadcast"
	TxConfirmed    TxStatus = "confirmed"
	TxFailed       TxStatus = "failed"
	TxExpired      TxStatus = "expired"
)

// Terminal reports whether this status accepts no further transitions.
func (s TxStatus) Terminal() bool {
	switch s {
	case TxConfirmed, TxFailed, TxExpired:
		return true
	default:
		return false
	}
}

// validTransitions encodes the status DAG; CanTransition rejects any
// edge not listed here.
var validTransitions = map[TxStatus][]TxStatus{
	TxPending:      {TxBroadcasting, TxExpired},
	TxBroadcasting: {TxBroadcast, TxFailed},
	TxBroadcast:    {TxConfirmed, TxFailed},
}

// CanTransition reports whether moving from `from` to `to` is permitted
// by the QueuedTx status DAG.
func CanTransition(from, to TxStatus) bool {
	for _, candidate := range validTransitions[from] {
		if candidate == to {
			return true
		}
	}
	return false
}

// BroadcastMode decides whether a QueuedTx auto-confirms on enqueue
// (rogue) or suspends for explicit user approval (partner).
type BroadcastMode string

const (
	BroadcastRogue   BroadcastMode = "rogue"
	BroadcastPartner BroadcastMode = "partner"
)

// QueuedTx is a Web3 transaction intent awaiting broadcast, queued by the
// web3_tx tool and arbitrated by the TxQueue coordinator.
type QueuedTx struct {
	UUID          string        `json:"uuid"`
	SessionID     string        `json:"session_id"`
	Network       string        `json:"network"`
	From          string        `json:"from"`
	To            string        `json:"to"`
	ValueWei      string        `json:"value_wei"`
	Data          string        `json:"data,omitempty"`
	Status        TxStatus      `json:"status"`
	TxHash        string        `json:"tx_hash,omitempty"`
	Error         string        `json:"error,omitempty"`
	BroadcastMode BroadcastMode `json:"broadcast_mode"`
	IntentHash    string        `json:"intent_hash"`
	CreatedAt     time.Time     `json:"created_at"`
	ConfirmedAt   *time.Time    `json:"confirmed_at,omitempty"`
}
