// Package finance implements the finance subtype's tool group:
// token_lookup, wallet_balance, and web3_tx. No chain SDK appears
// anywhere in the example pack, so chain reads/writes are expressed
// through narrow pluggable interfaces (PriceLookup, BalanceLookup) in
// the same style as txqueue.Broadcaster, rather than embedding a vendor
// client with no grounding.
package finance

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/starkbot/starkbot/internal/tools"
	"github.com/starkbot/starkbot/internal/tools/policy"
	"github.com/starkbot/starkbot/internal/txqueue"
	"github.com/starkbot/starkbot/pkg/models"
)

func schema(properties map[string]any, required ...string) json.RawMessage {
	obj := map[string]any{"type": "object", "properties": properties}
	if len(required) > 0 {
		obj["required"] = required
	}
	out, _ := json.Marshal(obj)
	return out
}

func respond(callID string, success bool, content string, meta map[string]any) *models.ToolResponse {
	return &models.ToolResponse{CallID: callID, Success: success, Content: content, Metadata: meta}
}

// PriceLookup resolves a token symbol to a spot price and contract
// address on a given network.
type PriceLookup interface {
	Lookup(ctx context.Context, network, symbol string) (priceUSD float64, contract string, err error)
}

// BalanceLookup resolves a wallet's balance for a token on a network.
type BalanceLookup interface {
	Balance(ctx context.Context, network, address, token string) (balance string, err error)
}

// TokenLookupTool resolves a token's current price and contract
// address, commonly chained before a web3_tx via registers.
type TokenLookupTool struct {
	prices PriceLookup
}

func NewTokenLookupTool(prices PriceLookup) *TokenLookupTool {
	return &TokenLookupTool{prices: prices}
}

func (t *TokenLookupTool) Name() string          { return "token_lookup" }
func (t *TokenLookupTool) Group() policy.Group   { return policy.GroupFinance }
func (t *TokenLookupTool) Safety() policy.Safety { return policy.SafetyDangerous }
func (t *TokenLookupTool) Description() string {
	return "Look up a token's current USD price and contract address on a network."
}
func (t *TokenLookupTool) Schema() json.RawMessage {
	return schema(map[string]any{
		"network": map[string]any{"type": "string"},
		"symbol":  map[string]any{"type": "string"},
	}, "network", "symbol")
}

func (t *TokenLookupTool) Execute(ctx context.Context, args json.RawMessage, tc *tools.Context) *models.ToolResponse {
	var params struct {
		Network string `json:"network"`
		Symbol  string `json:"symbol"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return respond("", false, fmt.Sprintf("invalid arguments: %v", err), nil)
	}
	if t.prices == nil {
		return respond("", false, "price lookup unavailable", nil)
	}
	price, contract, err := t.prices.Lookup(ctx, params.Network, params.Symbol)
	if err != nil {
		return respond("", false, err.Error(), nil)
	}
	if tc != nil {
		tc.RegisterSet("token_contract", contract)
		tc.RegisterSet("token_symbol", params.Symbol)
	}
	out, _ := json.Marshal(map[string]any{
		"symbol":     params.Symbol,
		"network":    params.Network,
		"price_usd":  price,
		"contract":   contract,
	})
	return respond("", true, string(out), nil)
}

// WalletBalanceTool reports a wallet's token balance.
type WalletBalanceTool struct {
	balances BalanceLookup
}

func NewWalletBalanceTool(balances BalanceLookup) *WalletBalanceTool {
	return &WalletBalanceTool{balances: balances}
}

func (t *WalletBalanceTool) Name() string          { return "wallet_balance" }
func (t *WalletBalanceTool) Group() policy.Group   { return policy.GroupFinance }
func (t *WalletBalanceTool) Safety() policy.Safety { return policy.SafetyDangerous }
func (t *WalletBalanceTool) Description() string {
	return "Report a wallet address's balance of a token on a network."
}
func (t *WalletBalanceTool) Schema() json.RawMessage {
	return schema(map[string]any{
		"network": map[string]any{"type": "string"},
		"address": map[string]any{"type": "string"},
		"token":   map[string]any{"type": "string"},
	}, "network", "address", "token")
}

func (t *WalletBalanceTool) Execute(ctx context.Context, args json.RawMessage, tc *tools.Context) *models.ToolResponse {
	var params struct {
		Network string `json:"network"`
		Address string `json:"address"`
		Token   string `json:"token"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return respond("", false, fmt.Sprintf("invalid arguments: %v", err), nil)
	}
	if t.balances == nil {
		return respond("", false, "balance lookup unavailable", nil)
	}
	balance, err := t.balances.Balance(ctx, params.Network, params.Address, params.Token)
	if err != nil {
		return respond("", false, err.Error(), nil)
	}
	out, _ := json.Marshal(map[string]any{"address": params.Address, "token": params.Token, "balance": balance})
	return respond("", true, string(out), nil)
}

// Web3TxTool queues a Web3 transaction intent with the Transaction Queue
// Coordinator and, in partner mode, suspends the dispatch until the
// gateway resolves a decision (§4.5, §5 S4).
type Web3TxTool struct {
	coordinator *txqueue.Coordinator
	broadcaster txqueue.Broadcaster
}

// NewWeb3TxTool creates a web3_tx tool. waitTimeout is accepted for
// symmetry with wait_for_decision callers but unused here: the tool
// itself never blocks past an immediate Peek (§5 S4) — a gateway or
// orchestrator poll loop owns the real wait_for_decision suspension.
func NewWeb3TxTool(coordinator *txqueue.Coordinator, broadcaster txqueue.Broadcaster, waitTimeout time.Duration) *Web3TxTool {
	return &Web3TxTool{coordinator: coordinator, broadcaster: broadcaster}
}

func (t *Web3TxTool) Name() string          { return "web3_tx" }
func (t *Web3TxTool) Group() policy.Group   { return policy.GroupFinance }
func (t *Web3TxTool) Safety() policy.Safety { return policy.SafetyDangerous }
func (t *Web3TxTool) Description() string {
	return "Queue a Web3 transaction intent for broadcast. Suspends for user approval in partner mode."
}
func (t *Web3TxTool) Schema() json.RawMessage {
	return schema(map[string]any{
		"network":   map[string]any{"type": "string"},
		"from":      map[string]any{"type": "string"},
		"to":        map[string]any{"type": "string"},
		"value_wei": map[string]any{"type": "string"},
		"data":      map[string]any{"type": "string"},
	}, "network", "from", "to", "value_wei")
}

func (t *Web3TxTool) Execute(ctx context.Context, args json.RawMessage, tc *tools.Context) *models.ToolResponse {
	var params struct {
		Network  string `json:"network"`
		From     string `json:"from"`
		To       string `json:"to"`
		ValueWei string `json:"value_wei"`
		Data     string `json:"data"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return respond("", false, fmt.Sprintf("invalid arguments: %v", err), nil)
	}

	sessionID := ""
	if tc != nil {
		sessionID = tc.SessionID
	}

	uuid, err := t.coordinator.Enqueue(ctx, sessionID, txqueue.TxIntent{
		Network:  params.Network,
		From:     params.From,
		To:       params.To,
		ValueWei: params.ValueWei,
		Data:     params.Data,
	})
	if err != nil {
		return respond("", false, err.Error(), nil)
	}

	// Rogue installations auto-approve on enqueue, so a tx can broadcast
	// within this same call. Partner mode never resolves synchronously:
	// the tool returns the uuid and suspends the dispatch (§5 S4); the
	// gateway's confirm/deny call resumes it later, out of band.
	decision, err := t.coordinator.Peek(ctx, uuid)
	if err != nil {
		return respond("", false, err.Error(), nil)
	}

	if !decision.Approved {
		out, _ := json.Marshal(map[string]any{"uuid": uuid, "status": "pending"})
		return respond("", true, string(out), map[string]any{tools.MetaSuspend: "web3_tx"})
	}
	if t.broadcaster == nil {
		out, _ := json.Marshal(map[string]any{"uuid": uuid, "status": "pending"})
		return respond("", true, string(out), map[string]any{tools.MetaSuspend: "web3_tx"})
	}

	deadline := time.Now().Add(2 * time.Minute)
	txHash, err := t.coordinator.Confirm(ctx, uuid, t.broadcaster, deadline)
	if err != nil {
		return respond("", false, fmt.Sprintf("transaction %s failed: %v", uuid, err), nil)
	}
	out, _ := json.Marshal(map[string]any{"uuid": uuid, "tx_hash": txHash, "status": "confirmed"})
	return respond("", true, string(out), nil)
}
