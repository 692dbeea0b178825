// Package ledger defines the contract between the load generator and the
// ledger it drives.
//
// A Ref names one version of an object: a handle, a monotonically increasing
// version, and a content fingerprint. Submissions carry an Op (create N
// objects, or update a batch of tracked refs) and are paid for with a fee
// Ref. A successful submission returns the fee's new Ref plus one Change per
// created or mutated object.
//
// Two implementations exist: the in-memory node (internal/node) and the HTTP
// client (internal/client) that speaks the wire types in this package.
package ledger
