package changefeed

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/streadway/amqp"
)

// AMQPFeed publishes and consumes change events over a direct RabbitMQ
// exchange, with the topic as routing key. It implements both Notifier and
// Feed so multiple service instances see each other's changes.
type AMQPFeed struct {
	mu       sync.Mutex
	amqpURL  string
	exchange string
	conn     *amqp.Connection
	channel  *amqp.Channel

	// Local fan-out: consumed deliveries are forwarded to in-process
	// subscriptions keyed by topic.
	subsMu sync.Mutex
	subs   map[*Subscription]chan struct{}
}

// NewAMQPFeed connects to RabbitMQ and declares the event exchange.
func NewAMQPFeed(amqpURL, exchange string) (*AMQPFeed, error) {
	f := &AMQPFeed{
		amqpURL:  amqpURL,
		exchange: exchange,
		subs:     make(map[*Subscription]chan struct{}),
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.connectLocked(); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *AMQPFeed) connectLocked() error {
	conn, err := amqp.Dial(f.amqpURL)
	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open channel: %w", err)
	}

	if err := ch.ExchangeDeclare(
		f.exchange,
		"direct",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	f.conn = conn
	f.channel = ch
	return nil
}

// NotifyChange publishes a change event with the topic as routing key.
// Failures are logged and swallowed: the write the event describes has
// already committed.
func (f *AMQPFeed) NotifyChange(topic, kind string, reportID int64) {
	ev := Event{
		Topic:     topic,
		Kind:      kind,
		ReportID:  reportID,
		Timestamp: time.Now(),
	}

	body, err := json.Marshal(ev)
	if err != nil {
		log.Printf("Failed to marshal change event: %v", err)
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.channel == nil {
		log.Printf("Change event dropped, no RabbitMQ channel")
		return
	}

	err = f.channel.Publish(
		f.exchange,
		topic, // routing key
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
		})
	if err != nil {
		log.Printf("Failed to publish change event: %v", err)
	}
}

// Subscribe binds an exclusive queue to the topic and forwards deliveries to
// the returned subscription.
func (f *AMQPFeed) Subscribe(topic string) (*Subscription, error) {
	f.mu.Lock()
	ch := f.channel
	f.mu.Unlock()
	if ch == nil {
		return nil, fmt.Errorf("no RabbitMQ channel")
	}

	queue, err := ch.QueueDeclare(
		"",    // generated name
		false, // durable
		true,  // auto-delete
		true,  // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to declare queue: %w", err)
	}

	if err := ch.QueueBind(queue.Name, topic, f.exchange, false, nil); err != nil {
		return nil, fmt.Errorf("failed to bind queue: %w", err)
	}

	deliveries, err := ch.Consume(
		queue.Name,
		"",    // consumer tag
		true,  // auto-ack; events are advisory, losing one is fine
		true,  // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start consumer: %w", err)
	}

	sub := newSubscription(topic)
	done := make(chan struct{})
	f.subsMu.Lock()
	f.subs[sub] = done
	f.subsMu.Unlock()

	go func() {
		defer sub.close()
		for {
			select {
			case <-done:
				return
			case delivery, ok := <-deliveries:
				if !ok {
					return
				}
				var ev Event
				if err := json.Unmarshal(delivery.Body, &ev); err != nil {
					log.Printf("Malformed change event: %v", err)
					continue
				}
				sub.deliver(ev)
			}
		}
	}()

	return sub, nil
}

// Unsubscribe stops forwarding to the subscription.
func (f *AMQPFeed) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	f.subsMu.Lock()
	if done, ok := f.subs[sub]; ok {
		close(done)
		delete(f.subs, sub)
	}
	f.subsMu.Unlock()
}

// Close closes the RabbitMQ channel and connection.
func (f *AMQPFeed) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	var err error
	if f.channel != nil {
		if channelErr := f.channel.Close(); channelErr != nil {
			log.Printf("Failed to close channel: %v", channelErr)
			err = channelErr
		}
	}
	if f.conn != nil {
		if connErr := f.conn.Close(); connErr != nil {
			log.Printf("Failed to close connection: %v", connErr)
			if err == nil {
				err = connErr
			}
		}
	}
	return err
}
