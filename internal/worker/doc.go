// Package worker runs the steady-state load loop.
//
// Each worker owns a State: a signing identity, the coin that pays its fees,
// and a bounded tracker of objects it may update. The Pool starts one
// goroutine per worker. Every iteration runs the same pipeline:
//
//	ThrottleCheck  read the memory pressure level; evict and wait if elevated.
//	               Under Emergency, creates are suppressed for this iteration.
//	RateCheck      add the global failure-rate delay to any pending backoff
//	               from the previous failure, and wait once.
//	Admit          take a permit from the shared gate.
//	Execute        create a batch or update a random run of tracked objects,
//	               holding the worker's state lock until the ledger answers.
//	Record         fold the outcome into the shared stats and the backoff.
//	RateLimit      wait on the per-worker limiter when a target TPS is set.
//
// Workers stop at the deadline or when Stop is called. A stop never cancels
// a submission already in flight; Stop returns once every worker has
// finished its current iteration.
//
// # Basic Usage
//
//	states := []*worker.State{worker.NewState(0, id, fee, tracker.New(5000))}
//	pool, err := worker.NewPool(worker.DefaultConfig(), worker.Deps{Ledger: l}, states)
//	pool.Start(ctx, time.Now().Add(5*time.Minute))
//	pool.Wait()
package worker
