package config

import "time"

const (
	defaultConfirmPollInterval = 2 * time.Second
	defaultConfirmDeadline     = 2 * time.Minute
)

// TxConfig configures the Transaction Queue Coordinator (§4.5).
type TxConfig struct {
	// BroadcastMode is "rogue" (auto-confirm on enqueue) or "partner"
	// (suspend for an explicit gateway decision).
	BroadcastMode string `yaml:"broadcast_mode"`

	// ConfirmPollInterval is how often Confirm polls the broadcaster for
	// inclusion while waiting for ConfirmDeadline.
	ConfirmPollInterval time.Duration `yaml:"confirm_poll_interval"`

	// ConfirmDeadline bounds how long Confirm waits for a broadcast
	// transaction to be included before marking it failed.
	ConfirmDeadline time.Duration `yaml:"confirm_deadline"`

	// NetworkEndpoints maps a QueuedTx.Network name to the JSON-RPC
	// endpoint the RPCBroadcaster submits and polls it against.
	NetworkEndpoints map[string]string `yaml:"network_endpoints"`
}

// DefaultTxConfig returns the tx queue defaults: rogue mode, a 2s poll
// interval, and a 2-minute inclusion deadline.
func DefaultTxConfig() TxConfig {
	return TxConfig{
		BroadcastMode:       "rogue",
		ConfirmPollInterval: defaultConfirmPollInterval,
		ConfirmDeadline:     defaultConfirmDeadline,
		NetworkEndpoints:    map[string]string{},
	}
}
