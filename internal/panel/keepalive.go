package panel

import (
	"context"
	"net/url"
	"time"
)

// keepaliveTask periodically requests /keep_alive.html so the panel does
// not expire the idle session. Heartbeats are best effort: a failed
// request is logged and otherwise ignored.
type keepaliveTask struct {
	stop chan struct{}
	done chan struct{}
}

func newKeepaliveTask(c *Client, interval time.Duration) *keepaliveTask {
	t := &keepaliveTask{
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	go t.run(c, interval)
	return t
}

func (t *keepaliveTask) run(c *Client, interval time.Duration) {
	defer close(t.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	params := url.Values{}
	params.Set("msgid", "1")

	for {
		select {
		case <-t.stop:
			return
		case <-ticker.C:
			if _, _, err := c.get(context.Background(), "keepalive", "/keep_alive.html", params); err != nil {
				c.log.Debug().Err(err).Msg("keepalive request failed")
			}
		}
	}
}

// cancel stops the heartbeat and waits for the goroutine to exit. A
// request already in flight completes first; cancellation is observed at
// the next tick boundary at the latest.
func (t *keepaliveTask) cancel() {
	close(t.stop)
	<-t.done
}
