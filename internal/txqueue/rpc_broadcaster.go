package txqueue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/starkbot/starkbot/pkg/models"
)

// RPCBroadcaster implements Broadcaster against a network's JSON-RPC
// endpoint (eth_sendRawTransaction / eth_getTransactionReceipt), selected
// per QueuedTx.Network. No ecosystem chain client is wired anywhere in
// this system's dependency surface, so this speaks the wire protocol
// directly over net/http rather than depend on one.
type RPCBroadcaster struct {
	endpoints map[string]string
	client    *http.Client
	poll      time.Duration

	mu          sync.Mutex
	txNetworks  map[string]string // tx hash -> network, set by Broadcast for PollInclusion to resolve
}

// NewRPCBroadcaster builds a Broadcaster that resolves a QueuedTx's
// network name to a JSON-RPC endpoint URL via endpoints.
func NewRPCBroadcaster(endpoints map[string]string, poll time.Duration) *RPCBroadcaster {
	if poll <= 0 {
		poll = 2 * time.Second
	}
	return &RPCBroadcaster{
		endpoints:  endpoints,
		client:     &http.Client{Timeout: 30 * time.Second},
		poll:       poll,
		txNetworks: make(map[string]string),
	}
}

type rpcCall struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcReply struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (b *RPCBroadcaster) call(ctx context.Context, network, method string, params []any) (json.RawMessage, error) {
	endpoint, ok := b.endpoints[network]
	if !ok {
		return nil, fmt.Errorf("txqueue: no rpc endpoint configured for network %q", network)
	}
	body, err := json.Marshal(rpcCall{JSONRPC: "2.0", ID: 1, Method: method, Params: params})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var reply rpcReply
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return nil, fmt.Errorf("txqueue: decode %s reply: %w", method, err)
	}
	if reply.Error != nil {
		return nil, fmt.Errorf("txqueue: %s: %s", method, reply.Error.Message)
	}
	return reply.Result, nil
}

// Broadcast submits a QueuedTx's signed payload via eth_sendRawTransaction.
// Data is expected to already hold the raw signed transaction hex; signing
// happens upstream of the queue (§4.5 is a coordinator, not a wallet).
func (b *RPCBroadcaster) Broadcast(ctx context.Context, tx *models.QueuedTx) (string, error) {
	result, err := b.call(ctx, tx.Network, "eth_sendRawTransaction", []any{tx.Data})
	if err != nil {
		return "", err
	}
	var txHash string
	if err := json.Unmarshal(result, &txHash); err != nil {
		return "", fmt.Errorf("txqueue: unexpected eth_sendRawTransaction result: %w", err)
	}

	b.mu.Lock()
	b.txNetworks[txHash] = tx.Network
	b.mu.Unlock()

	return txHash, nil
}

// PollInclusion polls eth_getTransactionReceipt until a receipt appears,
// the context is canceled, or deadline passes.
func (b *RPCBroadcaster) PollInclusion(ctx context.Context, txHash string, deadline time.Time) (bool, error) {
	b.mu.Lock()
	network := b.txNetworks[txHash]
	b.mu.Unlock()

	ticker := time.NewTicker(b.poll)
	defer ticker.Stop()

	for {
		result, err := b.call(ctx, network, "eth_getTransactionReceipt", []any{txHash})
		if err == nil && len(result) > 0 && string(result) != "null" {
			return true, nil
		}

		if time.Now().After(deadline) {
			return false, nil
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-ticker.C:
		}
	}
}
