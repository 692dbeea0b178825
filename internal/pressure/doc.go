// Package pressure watches host memory and tells workers how hard to back off.
//
// A Monitor samples memory usage every 500ms and classifies it into one of
// four levels using the configured thresholds (0.75 / 0.85 / 0.92 by
// default). Workers read the level without locking and apply PolicyFor:
//
//	Light      drop 25% of tracked objects, wait 250ms
//	Heavy      drop 50% of tracked objects, wait 1s
//	Emergency  drop 75% of tracked objects, wait 2s, stop creating
//
// Sampling failures read as 0% usage, so a broken sampler never stalls a run.
// Level changes are logged and published on the event bus; while the level
// stays elevated the warning is repeated every 30s.
package pressure
