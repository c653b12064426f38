// Package work defines WorkItem, the immutable unit of blocking work accepted
// by the offload executor, and the error taxonomy shared by its components.
//
// # Kinds
//
// Thread items carry a Go closure and run on the executor's goroutine pool.
// Process items carry the name of a function registered with procpool plus
// msgpack-encoded arguments, and run in a child worker process:
//
//	item, err := work.NewProcessItem("compute_features", "benchmark.features", args)
//
// Encoding happens in the constructor, so arguments that cannot cross a
// process boundary (channels, functions) are rejected with a
// ConfigurationError before anything is queued.
//
// # Errors
//
//   - ExecutionFailure: the callable returned an error or panicked.
//   - ExecutionTimeout: the waiter gave up. The work is not preempted.
//   - QueueFullError: admission rejected by the bounded task queue.
//   - ConfigurationError: the executor refuses the submission outright.
package work
