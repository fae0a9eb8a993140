// Package ratelimit implements an admission-controlled task queue.
//
// Submissions are always accepted and held in submission order. A processing
// loop pulls them out one at a time with NextTask, which only returns when a
// slot is free. A slot is held for a fixed window after dispatch no matter when
// the task completes, so at most MaxRequests dispatches happen in any trailing
// window. The limiter bounds dispatch frequency, not concurrent work.
//
// Every exported method of Limiter is safe for concurrent use. All state is
// guarded by a single mutex; NextTask is the only call that blocks, and it
// does so without holding the lock.
//
// Example:
//
//	l, err := ratelimit.New(10, time.Hour)
//	receipt := l.Submit("explain channels", "sonnet")
//
//	// processing loop
//	for {
//		h, err := l.NextTask(ctx)
//		if err != nil {
//			return err
//		}
//		out, err := run(h)
//		_ = l.Complete(h.ID, result(out, err))
//	}
package ratelimit
