// Package node implements an in-memory versioned object ledger.
//
// A Node stores objects owned by addresses. Every object carries a version
// and a fingerprint; an update names the exact version and fingerprint it
// expects, and a submission whose inputs are stale is rejected as a whole.
// Submissions are paid for with a coin object whose version advances with
// every accepted submission, exactly like the objects it touched.
//
// # Basic Usage
//
//	n := node.New("ledger-1")
//	n.Start(ctx)
//
//	_ = n.Request(ctx, id.Address())           // faucet
//	coins, _ := n.Coins(ctx, id.Address())
//	res, err := n.Submit(ctx, id, coins[0].Ref, ledger.CreateN(10, ledger.PayloadCounter), budget)
//
// # Fault Injection
//
// Like a real endpoint under stress, a node can be slowed down (SetDelay),
// suspended (Suspend/Resume) or made to reject a fraction of submissions
// (SetFailureRate). The chaos package drives these knobs.
//
// # HTTP
//
// Handler exposes the node over the wire types of the ledger package, with
// ed25519 signature checks on every submission.
package node
