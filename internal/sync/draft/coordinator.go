// Package draft debounces rapid local edits into periodic save
// operations: keystroke-level updates buffer the latest content per
// entity and commit once after a quiet period.
package draft

import (
	"sync"
	"time"

	"github.com/Sugarbait/PhaetonAICRM-sub017/internal/logging"
	"github.com/Sugarbait/PhaetonAICRM-sub017/internal/models"
)

// DefaultQuietPeriod is the debounce interval applied when none is
// configured.
const DefaultQuietPeriod = 2 * time.Second

// SaveFunc commits the buffered content for one entity. The coordinator
// invokes it exactly once per quiet period, with the latest content.
type SaveFunc func(ref models.EntityRef, content map[string]interface{})

// pending tracks one buffered draft and the timer that will commit it.
// Cancellation clears the timer handle, not merely ignores its firing,
// so a stale late-arriving save can never commit.
type pending struct {
	timer   *time.Timer
	content map[string]interface{}

	// gen invalidates a timer firing that raced an Update: only the
	// firing carrying the current generation may commit.
	gen uint64
}

// Coordinator buffers draft edits per entity.
type Coordinator struct {
	mu     sync.Mutex
	quiet  time.Duration
	save   SaveFunc
	drafts map[string]*pending
	closed bool
}

// NewCoordinator creates a Coordinator committing through save after
// quiet. A non-positive quiet falls back to the default.
func NewCoordinator(quiet time.Duration, save SaveFunc) *Coordinator {
	if quiet <= 0 {
		quiet = DefaultQuietPeriod
	}
	return &Coordinator{
		quiet:  quiet,
		save:   save,
		drafts: make(map[string]*pending),
	}
}

// Update buffers the latest content for an entity and restarts its
// quiet-period timer. Rapid successive updates coalesce into a single
// downstream save carrying the last buffered content.
func (c *Coordinator) Update(ref models.EntityRef, content map[string]interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}

	key := ref.Key()

	if p, ok := c.drafts[key]; ok {
		p.timer.Stop()
		p.content = content
		p.gen++
		gen := p.gen
		p.timer = time.AfterFunc(c.quiet, func() { c.fire(ref, gen) })
		return
	}

	p := &pending{content: content}
	p.timer = time.AfterFunc(c.quiet, func() { c.fire(ref, 0) })
	c.drafts[key] = p
}

// Cancel discards the buffered draft for an entity. A cancelled draft
// never fires, even if its timer is already due.
func (c *Coordinator) Cancel(ref models.EntityRef) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := ref.Key()
	if p, ok := c.drafts[key]; ok {
		p.timer.Stop()
		delete(c.drafts, key)
	}
}

// Flush commits the buffered draft for an entity immediately, if any.
func (c *Coordinator) Flush(ref models.EntityRef) {
	c.mu.Lock()
	key := ref.Key()
	p, ok := c.drafts[key]
	if !ok {
		c.mu.Unlock()
		return
	}
	p.timer.Stop()
	delete(c.drafts, key)
	content := p.content
	c.mu.Unlock()

	c.save(ref, content)
}

// Pending reports whether an entity has a buffered draft.
func (c *Coordinator) Pending(ref models.EntityRef) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, ok := c.drafts[ref.Key()]
	return ok
}

// Close cancels all buffered drafts without committing them. Used on
// session teardown.
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key, p := range c.drafts {
		p.timer.Stop()
		delete(c.drafts, key)
	}
	c.closed = true

	logging.Debug("Draft coordinator closed")
}

// fire commits a draft whose quiet period elapsed. The entry is
// re-checked under the lock: a Cancel or Update that raced the timer
// wins, and this firing becomes a no-op.
func (c *Coordinator) fire(ref models.EntityRef, gen uint64) {
	c.mu.Lock()
	key := ref.Key()
	p, ok := c.drafts[key]
	if !ok || c.closed || p.gen != gen {
		c.mu.Unlock()
		return
	}
	delete(c.drafts, key)
	content := p.content
	c.mu.Unlock()

	c.save(ref, content)
}
