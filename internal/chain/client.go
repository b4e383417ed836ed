// Package chain defines the contract against the external chain RPC.
// Only parsed, confirmed transfer data crosses this boundary; the RPC
// itself (and its parsing sidecar) stays outside the process.
package chain

import "context"

// TokenTransfer is one token-transfer instruction found in a confirmed
// transaction, including nested/inner instructions.
type TokenTransfer struct {
	Authority        string `json:"authority"`         // Signing sender
	Destination      string `json:"destination"`       // Destination token account
	DestinationOwner string `json:"destination_owner"` // Resolved owner of the destination
	Mint             string `json:"mint"`
	Amount           uint64 `json:"amount"` // Smallest on-chain units
}

// NativeTransfer is a plain value transfer of the chain's native
// currency.
type NativeTransfer struct {
	Source      string `json:"source"`
	Destination string `json:"destination"`
	Amount      uint64 `json:"amount"`
}

// Tx is a parsed, confirmed transaction.
type Tx struct {
	Signature       string           `json:"signature"`
	Slot            uint64           `json:"slot"`
	BlockTime       int64            `json:"block_time"`
	Failed          bool             `json:"failed"` // On-chain failure flag
	TokenTransfers  []TokenTransfer  `json:"token_transfers"`
	NativeTransfers []NativeTransfer `json:"native_transfers"`
}

// Client fetches confirmed transactions by signature.
// FetchConfirmedTransfer returns (nil, nil) when the transaction is not
// (yet) visible on chain.
type Client interface {
	FetchConfirmedTransfer(ctx context.Context, signature string) (*Tx, error)
}
