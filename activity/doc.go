// Package activity brokers access to an externally granted extended-execution
// lease across callers that share an activity key.
//
// A lease keeps the process alive past its normal suspension point. The
// environment hands out a limited number of them and may reclaim one at any
// moment, so the Registry makes sure the lease for a key is acquired at most
// once, released exactly once, and that everyone who asked to be told about
// the outcome hears about it exactly once.
//
// # Lifecycle
//
// The first Start for a key creates an entry with a reference count of one,
// acquires the lease (if asked to) and arms a timer bounded by MaxDuration.
// Later Starts for the same key join the live entry and bump the count.
// Stop drops a reference; when the count reaches zero the entry ends with
// reason Normal. Independently, the lease provider (on revocation) or the
// timer (on timeout) calls Expire, which ends the entry immediately with
// reason Expired regardless of how many references are outstanding.
//
// Ending is a single idempotent transition: it removes the entry, cancels the
// timer, releases the lease and dispatches every registered callback on the
// Executor it was registered with.
//
//	reg := activity.NewRegistry(provider, activity.WithLogger(logger))
//
//	reg.Start("bg.silent.push", activity.StartOptions{
//		WantsLease:  true,
//		MaxDuration: 27 * time.Second,
//		OnEnd: func(reason activity.EndReason) {
//			logger.Info("push window closed", "reason", reason)
//		},
//	})
//	...
//	reg.Stop("bg.silent.push")
//
// # Run
//
// Run wraps Start/Stop around a unit of work. The work receives a done
// function that may be called any number of times from any goroutine; only
// the first call releases the reference:
//
//	reg.Run("sync", activity.StartOptions{WantsLease: true}, func(done func()) {
//		go func() {
//			defer done()
//			syncMailbox(ctx)
//		}()
//	})
//
// # Locking
//
// All entry state is guarded by one mutex per Registry. Only pure state
// transitions happen while it is held. Releasing the lease, cancelling the
// timer, notifying observers and dispatching callbacks happen after it is
// released, so a provider whose Release synchronously re-enters Expire will
// find the entry already gone and do nothing.
package activity
