package events

import (
	"encoding/json"
	"strconv"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/rs/zerolog/log"
)

const MetadataSequenceNumber = "sequence_number"

// PublisherManager fans each published payload out to every publisher
// registered on a topic, stamping messages with a monotonically increasing
// sequence number.
type PublisherManager struct {
	mu             sync.Mutex
	publishers     map[string][]message.Publisher
	sequenceNumber uint64
}

func NewPublisherManager() *PublisherManager {
	return &PublisherManager{
		publishers: make(map[string][]message.Publisher),
	}
}

func (p *PublisherManager) AddPublisher(topic string, pub message.Publisher) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.publishers[topic] = append(p.publishers[topic], pub)
}

// Publish encodes payload as JSON and hands it to all publishers. Failing
// publishers are logged and skipped.
func (p *PublisherManager) Publish(payload interface{}) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	seq := p.sequenceNumber
	p.sequenceNumber++

	for topic, pubs := range p.publishers {
		for _, pub := range pubs {
			msg := message.NewMessage(watermill.NewUUID(), b)
			msg.Metadata.Set(MetadataSequenceNumber, strconv.FormatUint(seq, 10))
			if err := pub.Publish(topic, msg); err != nil {
				log.Warn().Err(err).Str("topic", topic).Msg("failed to publish")
			}
		}
	}
	return nil
}

func (p *PublisherManager) PublishBlind(payload interface{}) {
	if err := p.Publish(payload); err != nil {
		log.Warn().Err(err).Msg("failed to publish")
	}
}
