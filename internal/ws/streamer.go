package ws

import (
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// viewPump forwards engine changes to the viewer. Changes are coalesced and
// sent at most once per trickle interval; each message carries only the
// entries revealed since the previous one.
func (c *Client) viewPump() {
	updates, unsubscribe := c.engine.Subscribe()
	defer unsubscribe()

	throttle := time.NewTicker(c.engine.Config().TrickleInterval)
	defer throttle.Stop()

	var seq uint64
	for {
		var ok bool
		if seq, ok = c.sendView(seq); !ok {
			return
		}

		select {
		case <-c.ctx.Done():
			return
		case <-c.engine.Done():
			return
		case <-updates:
		}

		select {
		case <-c.ctx.Done():
			return
		case <-throttle.C:
		}
	}
}

// sendView reads the engine from after and queues the result, returning the
// sequence to resume from. It reports false once the session is over.
func (c *Client) sendView(after uint64) (uint64, bool) {
	v, err := c.engine.View(c.ctx, after, c.hub.cfg.ViewLimit)
	if err != nil {
		return after, false
	}

	if c.protocol == "json" {
		c.enqueueText(buildViewMessageJSON(v))
	} else {
		encoded, err := c.hub.encoder.EncodeView(v)
		if err != nil {
			c.logger.Debug("failed to encode view", zap.Error(err))
			return after, true
		}
		c.enqueue(frame{msgType: websocket.BinaryMessage, data: encoded})
	}

	return v.Seq(), true
}
