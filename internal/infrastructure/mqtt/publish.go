package mqtt

import (
	"fmt"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// maxPayloadSize caps a single message at 1 MiB.
const maxPayloadSize = 1 << 20

// Publish sends payload to topic and waits for the broker to accept it.
//
// State, availability, health and discovery are published retained so Home
// Assistant sees the last value after a restart. Acks and events are not.
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	switch {
	case topic == "":
		return ErrInvalidTopic
	case qos > maxQoS:
		return ErrInvalidQoS
	case len(payload) > maxPayloadSize:
		return fmt.Errorf("%w: %s: %d byte payload exceeds %d", ErrPublishFailed, topic, len(payload), maxPayloadSize)
	case !c.IsConnected():
		return ErrNotConnected
	}
	return c.await(c.client.Publish(topic, qos, retained, payload), ErrPublishFailed, topic)
}

// await waits for a paho token and wraps a timeout or failure in kind.
func (c *Client) await(token pahomqtt.Token, kind error, topic string) error {
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: %s: no broker answer within %v", kind, topic, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %s: %w", kind, topic, err)
	}
	return nil
}
