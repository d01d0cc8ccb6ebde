package panel

import (
	"context"
	"errors"
	"time"
)

// maxConsecutiveFailures bounds transient status fetch failures inside the
// update poller. The poller gives up when the consecutive count exceeds
// the bound, i.e. on the sixth failure in a row. The counter resets on the
// next successful fetch.
const maxConsecutiveFailures = 5

// UpdateFunc receives the entries that changed since the previous poll.
// It is invoked from the poller goroutine.
type UpdateFunc func(Delta)

// ErrorFunc receives the poller's terminal error, also from the poller
// goroutine. Transient fetch failures are never surfaced individually.
type ErrorFunc func(error)

type updatePoller struct {
	stop chan struct{}
	done chan struct{}
}

// cancel signals the poller to exit at the next tick boundary. It does not
// wait: a fetch already in flight completes first.
func (p *updatePoller) cancel() {
	close(p.stop)
}

// StartPolling launches the background update poller. At most one poller
// may run per client; the interval must be positive and onUpdate must be
// provided. onError may be nil when the caller does not care about
// terminal failures.
func (c *Client) StartPolling(onUpdate UpdateFunc, onError ErrorFunc, interval time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.IsAuthenticated() {
		return &PanelError{Sentinel: ErrNotAuthenticated, Operation: "start polling"}
	}
	c.stateMu.RLock()
	running := c.poller != nil
	c.stateMu.RUnlock()
	if running {
		return &PanelError{Sentinel: ErrPollerRunning, Operation: "start polling"}
	}
	if onUpdate == nil {
		return &PanelError{
			Sentinel:  ErrInvalidArgument,
			Operation: "start polling",
			Err:       errors.New("an update callback must be provided"),
		}
	}
	if interval <= 0 {
		return &PanelError{
			Sentinel:  ErrInvalidArgument,
			Operation: "start polling",
			Err:       errors.New("the poll interval must be greater than zero"),
		}
	}

	p := &updatePoller{
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	c.stateMu.Lock()
	c.poller = p
	c.stateMu.Unlock()

	go c.pollLoop(p, onUpdate, onError, interval)
	return nil
}

// StopPolling signals the running poller to exit. It fails when the
// session is not logged in or no poller is running. Like Logout, it does
// not wait for the loop to finish its current tick.
func (c *Client) StopPolling() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.IsAuthenticated() {
		return &PanelError{Sentinel: ErrNotAuthenticated, Operation: "stop polling"}
	}

	c.stateMu.Lock()
	p := c.poller
	c.poller = nil
	c.stateMu.Unlock()

	if p == nil {
		return &PanelError{Sentinel: ErrPollerNotRunning, Operation: "stop polling"}
	}
	p.cancel()
	return nil
}

// pollLoop is the body of the update poller goroutine. Each tick fetches a
// fresh snapshot, diffs it against the previous one and reports changes
// through onUpdate. Fetch failures are retried up to the bound; exhaustion
// is reported once through onError and terminates the loop, leaving the
// session logged in with no poller attached.
func (c *Client) pollLoop(p *updatePoller, onUpdate UpdateFunc, onError ErrorFunc, interval time.Duration) {
	defer close(p.done)
	defer func() {
		// Detach so a new poller can be started. Logout/StopPolling may
		// already have cleared the handle (or installed a new poller).
		c.stateMu.Lock()
		if c.poller == p {
			c.poller = nil
		}
		c.stateMu.Unlock()
	}()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var prev *Snapshot
	failures := 0

	for {
		// The wait doubles as the cancellation point: a stop signal
		// interrupts the pause rather than waiting out the interval.
		select {
		case <-p.stop:
			return
		case <-ticker.C:
		}

		cur, err := c.FetchStatus(context.Background())
		if err != nil {
			failures++
			if failures > maxConsecutiveFailures {
				c.log.Error().Err(err).Int("failures", failures).Msg("update poller giving up")
				if onError != nil {
					onError(&PanelError{Sentinel: ErrRetryExhausted, Operation: "poll status", Err: err})
				}
				return
			}
			c.log.Warn().Err(err).Int("failures", failures).Msg("status fetch failed, retrying")
			continue
		}
		failures = 0

		if delta := diffSnapshots(prev, cur); !delta.Empty() {
			onUpdate(delta)
		}
		prev = cur
	}
}
