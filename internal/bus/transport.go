package bus

import (
	"github.com/ThreeDotsLabs/watermill"
	amqp "github.com/ThreeDotsLabs/watermill-amqp/v3/pkg/amqp"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/webitel/corehub/internal/corerr"
)

// NewInProcess builds the default, single-process transport: an in-memory
// watermill/pubsub/gochannel pub/sub pair. This is what relay.enabled uses
// when no AMQP URL is configured — useful for local multi-service tests
// of the relay without a real broker.
func NewInProcess(logger watermill.LoggerAdapter) (message.Publisher, message.Subscriber) {
	gc := gochannel.NewGoChannel(gochannel.Config{}, logger)
	return gc, gc
}

// NewAMQP builds a real-broker transport against a RabbitMQ URL, swappable
// in for NewInProcess when relay.amqp_url is configured.
func NewAMQP(amqpURL string, logger watermill.LoggerAdapter) (message.Publisher, message.Subscriber, error) {
	cfg := amqp.NewDurableQueueConfig(amqpURL)

	pub, err := amqp.NewPublisher(cfg, logger)
	if err != nil {
		return nil, nil, corerr.Wrap(corerr.KindInternal, "amqp publisher", err)
	}
	sub, err := amqp.NewSubscriber(cfg, logger)
	if err != nil {
		return nil, nil, corerr.Wrap(corerr.KindInternal, "amqp subscriber", err)
	}
	return pub, sub, nil
}
