// Package bus implements the optional, config-gated cross-process relay
// [ADDED]: it bridges PostMessage envelopes between this process's
// ServiceManager and a Watermill pub/sub transport, for multi-node
// deployments where services on different processes need to reach each
// other. It never substitutes for the MPSC queue — the queue remains the
// only consumer-side entry point into a service loop; the relay is just
// another producer, exactly like any other external caller of PostMessage.
package bus

import (
	"context"
	"encoding/json"
	"runtime/debug"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"

	"github.com/webitel/corehub/internal/corerr"
	"github.com/webitel/corehub/internal/manager"
	"github.com/webitel/corehub/internal/queue"
)

// wireEnvelope is the JSON-on-the-wire shape of a relayed envelope,
// generalizing the teacher's amqp.MessageV1 routing-key convention from
// "target user id" to "target service name".
type wireEnvelope struct {
	TargetService string          `json:"target_service"`
	Tag           string          `json:"tag"`
	Payload       json.RawMessage `json:"payload"`
}

// Relay subscribes to a single topic and turns inbound messages into
// Manager.PostMessage calls, and offers Publish for mirroring outbound
// envelopes to the same topic.
type Relay struct {
	Logger watermill.LoggerAdapter

	mgr   *manager.Manager
	pub   message.Publisher
	sub   message.Subscriber
	topic string
}

func New(mgr *manager.Manager, pub message.Publisher, sub message.Subscriber, topic string) *Relay {
	return &Relay{mgr: mgr, pub: pub, sub: sub, topic: topic}
}

// Run subscribes and processes inbound messages until ctx is canceled.
// Grounded on the teacher's internal/handler/amqp/bind.go: panic recovery
// around each message, decode failures Ack (poison-pill protection) rather
// than Nack-and-retry-forever.
func (r *Relay) Run(ctx context.Context) error {
	messages, err := r.sub.Subscribe(ctx, r.topic)
	if err != nil {
		return corerr.Wrap(corerr.KindInternal, "relay subscribe failed", err)
	}

	for msg := range messages {
		r.handle(msg)
	}
	return nil
}

func (r *Relay) handle(msg *message.Message) {
	defer func() {
		if rec := recover(); rec != nil {
			if r.Logger != nil {
				r.Logger.Error("relay panic recovered", nil, watermill.LogFields{
					"panic": rec,
					"stack": string(debug.Stack()),
				})
			}
			msg.Ack()
		}
	}()

	var env wireEnvelope
	if err := json.Unmarshal(msg.Payload, &env); err != nil {
		msg.Ack() // poison pill: malformed payloads never get retried
		return
	}

	target, ok := r.mgr.GetByName(env.TargetService)
	if !ok {
		// Not an error: in a multi-node deployment, this node simply isn't
		// hosting the target service. Another node's relay will pick it up.
		msg.Ack()
		return
	}

	var payload any
	if len(env.Payload) > 0 {
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			msg.Ack()
			return
		}
	}

	if err := r.mgr.PostMessage(target.ID, queue.Envelope{Tag: env.Tag, Payload: payload}); err != nil {
		msg.Nack()
		return
	}
	msg.Ack()
}

// Publish mirrors an outbound envelope to the relay's topic, for callers
// that want a local PostMessage to also reach other nodes.
func (r *Relay) Publish(targetService string, env queue.Envelope) error {
	payload, err := json.Marshal(env.Payload)
	if err != nil {
		return corerr.Wrap(corerr.KindArg, "relay publish: payload not JSON-serializable", err)
	}
	body, err := json.Marshal(wireEnvelope{TargetService: targetService, Tag: env.Tag, Payload: payload})
	if err != nil {
		return corerr.Wrap(corerr.KindInternal, "relay publish: marshal envelope", err)
	}

	msg := message.NewMessage(uuid.New().String(), body)
	if err := r.pub.Publish(r.topic, msg); err != nil {
		return corerr.Wrap(corerr.KindInternal, "relay publish failed", err)
	}
	return nil
}
