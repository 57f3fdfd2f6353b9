package events

import (
	"encoding/json"
	"strconv"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/rs/zerolog/log"
)

// PublisherManager fans events out to a set of watermill publishers. A
// publisher is subscribed on a topic; every published payload is serialized
// once and distributed to all publishers on their topics, tagged with a
// monotonically increasing sequence number.
type PublisherManager struct {
	publishers     map[string][]message.Publisher
	sequenceNumber uint64
	mutex          sync.Mutex
}

func NewPublisherManager() *PublisherManager {
	return &PublisherManager{
		publishers: make(map[string][]message.Publisher),
	}
}

func (pm *PublisherManager) SubscribePublisher(topic string, publisher message.Publisher) {
	pm.mutex.Lock()
	defer pm.mutex.Unlock()
	pm.publishers[topic] = append(pm.publishers[topic], publisher)
}

// Publish serializes the payload to JSON and distributes it to every
// subscribed publisher.
func (pm *PublisherManager) Publish(payload interface{}) error {
	pm.mutex.Lock()
	defer pm.mutex.Unlock()

	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	msg := message.NewMessage(watermill.NewUUID(), b)
	msg.Metadata.Set("sequence_number", strconv.FormatUint(pm.sequenceNumber, 10))
	pm.sequenceNumber++

	for topic, publishers := range pm.publishers {
		for _, publisher := range publishers {
			if err := publisher.Publish(topic, msg); err != nil {
				log.Warn().Err(err).Str("topic", topic).Msg("failed to publish event")
			}
		}
	}

	return nil
}

// PublishBlind publishes and logs failures instead of returning them, for
// call sites that must not fail on event delivery.
func (pm *PublisherManager) PublishBlind(payload interface{}) {
	if err := pm.Publish(payload); err != nil {
		log.Warn().Err(err).Msg("failed to publish event")
	}
}
