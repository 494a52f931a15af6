package producer

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	wbfkafka "github.com/wb-go/wbf/kafka"
	"github.com/wb-go/wbf/retry"

	"github.com/aliskhannn/alteration-tracker/internal/config"
	"github.com/aliskhannn/alteration-tracker/internal/model"
)

// Producer publishes work item events to Kafka.
type Producer struct {
	Client   *wbfkafka.Producer
	strategy retry.Strategy
}

// New creates a new Producer for the configured topic.
func New(cfg *config.Kafka, s retry.Strategy) *Producer {
	return &Producer{
		Client:   wbfkafka.NewProducer(cfg.Brokers, cfg.Topic),
		strategy: s,
	}
}

// PublishImageReplaced sends evt to Kafka. The work item id is the message
// key, so events for one item stay ordered within a partition.
func (p *Producer) PublishImageReplaced(ctx context.Context, evt model.ImageReplaced) error {
	data, err := encode(evt)
	if err != nil {
		return err
	}

	key := []byte(strconv.FormatInt(evt.WorkItemID, 10))

	if err = p.Client.SendWithRetry(ctx, p.strategy, key, data); err != nil {
		return fmt.Errorf("failed to send event: %w", err)
	}

	return nil
}

func encode(evt model.ImageReplaced) ([]byte, error) {
	data, err := json.Marshal(evt)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}
	return data, nil
}
