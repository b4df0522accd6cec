package queue

import (
	"context"
	"encoding/json"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/partyjam/partyjam/internal/monitoring"
)

const eventsQueueName = "party.events"

// Publisher delivers domain events to the relay over a persistent
// AMQP connection. Publishing is fire-and-forget: Publish buffers the
// event and returns immediately; delivery failures are logged and
// counted, never surfaced to the caller. The system stays correct if
// every publish silently fails, because consumers fall back to the
// polling endpoint.
type Publisher struct {
	url    string
	log    zerolog.Logger
	events chan DomainEvent
	done   chan struct{}
}

// NewPublisher starts the background delivery goroutine. Call Close
// on shutdown.
func NewPublisher(url string, log zerolog.Logger) *Publisher {
	p := &Publisher{
		url:    url,
		log:    log,
		events: make(chan DomainEvent, 1024),
		done:   make(chan struct{}),
	}
	go p.run()
	return p
}

// Publish enqueues an event for delivery. When the buffer is full the
// event is dropped with a log line rather than blocking the state
// change that produced it.
func (p *Publisher) Publish(ev DomainEvent) {
	select {
	case p.events <- ev:
	default:
		monitoring.RelayPublishFailures.Inc()
		p.log.Warn().Str("action", ev.Action).Str("tenant", ev.Tenant).
			Msg("relay buffer full, dropping event")
	}
}

// Close stops the delivery goroutine after draining what it can.
func (p *Publisher) Close() {
	close(p.events)
	<-p.done
}

// run owns the connection. It dials lazily, redials with exponential
// backoff after a failure, and requeues nothing: an event that fails
// to publish is logged and dropped, matching the best-effort relay
// contract.
func (p *Publisher) run() {
	defer close(p.done)

	var (
		conn    *amqp.Connection
		ch      *amqp.Channel
		backoff = time.Second
	)
	teardown := func() {
		if ch != nil {
			_ = ch.Close()
			ch = nil
		}
		if conn != nil {
			_ = conn.Close()
			conn = nil
		}
	}
	defer teardown()

	ensure := func() bool {
		if ch != nil {
			return true
		}
		var err error
		conn, err = amqp.Dial(p.url)
		if err != nil {
			p.log.Warn().Err(err).Msg("relay dial failed")
			return false
		}
		ch, err = conn.Channel()
		if err != nil {
			p.log.Warn().Err(err).Msg("relay channel open failed")
			teardown()
			return false
		}
		// Durable so events survive broker restarts.
		if _, err = ch.QueueDeclare(eventsQueueName, true, false, false, false, nil); err != nil {
			p.log.Warn().Err(err).Msg("relay queue declare failed")
			teardown()
			return false
		}
		backoff = time.Second
		return true
	}

	for ev := range p.events {
		if !ensure() {
			monitoring.RelayPublishFailures.Inc()
			time.Sleep(backoff)
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		body, err := json.Marshal(ev)
		if err != nil {
			p.log.Error().Err(err).Str("action", ev.Action).Msg("relay marshal failed")
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err = ch.PublishWithContext(ctx, "", eventsQueueName, false, false, amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now().UTC(),
			Body:         body,
		})
		cancel()
		if err != nil {
			monitoring.RelayPublishFailures.Inc()
			p.log.Warn().Err(err).Str("action", ev.Action).Msg("relay publish failed")
			teardown()
		}
	}
}
