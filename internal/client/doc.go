// Package client adapts remote endpoints to the ledger contract.
//
// HTTPClient signs every submission with the worker's identity and posts it
// to a ledger node; HTTPFaucet asks a faucet endpoint for test funds.
//
// Funder wraps any Dispenser and Ledger pair with the funding policy used at
// startup: the faucet is asked up to three times, 500ms apart, then after a
// short settle period the ledger is polled for a spendable coin with
// exponentially growing waits (500ms, 1s, 2s, 4s). A faucet that keeps failing
// is not fatal on its own; ErrNoFundsAvailable is returned only when no coin
// ever shows up.
//
// # Basic Usage
//
//	l := client.NewHTTPClient("http://127.0.0.1:9000", client.DefaultTimeout)
//	f := client.NewFunder(client.NewHTTPFaucet("http://127.0.0.1:9123", 0), l, client.DefaultFunderConfig())
//	fee, err := f.Fund(ctx, id.Address())
package client
