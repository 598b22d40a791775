package mqtt

import "fmt"

// Subscribe routes messages matching topic to handler. Wildcards are
// allowed ("idotmatrix/command/+"). The subscription is remembered and
// restored after a reconnect; subscribing again to the same topic replaces
// the handler.
func (c *Client) Subscribe(topic string, qos byte, handler MessageHandler) error {
	switch {
	case topic == "":
		return ErrInvalidTopic
	case qos > maxQoS:
		return ErrInvalidQoS
	case handler == nil:
		return fmt.Errorf("%w: %s: nil handler", ErrSubscribeFailed, topic)
	case !c.IsConnected():
		return ErrNotConnected
	}

	c.track(topic, subscription{qos: qos, handler: handler})
	token := c.client.Subscribe(topic, qos, c.wrapHandler(handler))
	if err := c.await(token, ErrSubscribeFailed, topic); err != nil {
		c.untrack(topic)
		return err
	}
	return nil
}

// Unsubscribe stops delivery for topic and forgets it for reconnects.
// Messages already in flight may still reach the old handler.
func (c *Client) Unsubscribe(topic string) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	c.untrack(topic)
	return c.await(c.client.Unsubscribe(topic), ErrUnsubscribeFailed, topic)
}

func (c *Client) track(topic string, sub subscription) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.subs == nil {
		c.subs = make(map[string]subscription)
	}
	c.subs[topic] = sub
}

func (c *Client) untrack(topic string) {
	c.mu.Lock()
	delete(c.subs, topic)
	c.mu.Unlock()
}
