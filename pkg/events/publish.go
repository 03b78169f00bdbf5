package events

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/rs/zerolog/log"
)

// PublisherManager distributes chat events to a set of publishers, each
// subscribed on a topic. Every outgoing message carries a sequence number in
// the order it was handled by Publish.
type PublisherManager struct {
	mutex          sync.Mutex
	publishers     map[string][]message.Publisher
	sequenceNumber uint64
}

func NewPublisherManager() *PublisherManager {
	return &PublisherManager{
		publishers: make(map[string][]message.Publisher),
	}
}

func (s *PublisherManager) SubscribePublisher(topic string, pub message.Publisher) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.publishers[topic] = append(s.publishers[topic], pub)
}

// Publish serializes the event to JSON and distributes it across all
// registered publishers.
func (s *PublisherManager) Publish(e Event) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	b, err := json.Marshal(e)
	if err != nil {
		return err
	}

	msg := message.NewMessage(watermill.NewUUID(), b)
	msg.Metadata.Set("sequence_number", fmt.Sprintf("%d", s.sequenceNumber))
	s.sequenceNumber++

	for topic, pubs := range s.publishers {
		for _, pub := range pubs {
			if err := pub.Publish(topic, msg); err != nil {
				log.Warn().Err(err).Str("topic", topic).Msg("failed to publish event")
			}
		}
	}

	return nil
}

// PublishBlind publishes and only logs failures. Event delivery is
// best-effort; the message store stays authoritative.
func (s *PublisherManager) PublishBlind(e Event) {
	if err := s.Publish(e); err != nil {
		log.Warn().Err(err).Str("type", string(e.Type())).Msg("failed to publish event")
	}
}
