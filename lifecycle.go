// SPDX-License-Identifier: Apache-2.0

package sspi

import (
	"log/slog"
	"sync"
)

// contextResource owns the provider handle of a context.  It is kept apart
// from ClientContext so that the cleanup registered on the context can reach
// the handle without keeping the context alive.
type contextResource struct {
	provider Provider
	handle   ContextHandle
	log      *slog.Logger
	once     sync.Once
}

// release deletes the provider context.  It runs at most once, never panics
// and logs rather than returns provider errors.
func (r *contextResource) release() {
	r.once.Do(func() {
		if r.handle == 0 {
			return
		}

		defer func() {
			if p := recover(); p != nil {
				r.log.Warn("panic while deleting security context", logKeyOp, "DeleteSecurityContext", logKeyError, p)
			}
		}()

		if err := r.provider.DeleteContext(r.handle); err != nil {
			r.log.Warn("failed to delete security context", logKeyOp, "DeleteSecurityContext", logKeyError, err)
		}
		r.handle = 0
	})
}

// Release frees the provider resources held by the context.  It is safe to
// call more than once and always returns nil;  provider errors are logged.
// Contexts that are never released are released when garbage collected.
func (c *ClientContext) Release() error {
	c.releaseOnce.Do(func() {
		c.cleanup.Stop()
		c.res.release()
		c.state = StateReleased
		c.done = false
		c.token = nil
		c.log.Debug("security context released")
	})

	return nil
}
