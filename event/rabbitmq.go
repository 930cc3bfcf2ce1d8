package event

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"messenger-core/config"
	"messenger-core/messenger"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	RabbitMQActionHeader    string = "x-action"
	RabbitMQRecipientHeader string = "x-recipient"
	RabbitMQOutLogFile      string = "log/out.log"
	DeliveryQueue           string = "delivery"
)

// Event modes. Anything but ModeDisable records published events in the out log;
// ModeOut also replays that log once at startup.
const (
	ModeDisable = "DISABLE"
	ModeLog     = "LOG"
	ModeOut     = "OUT"
)

type EventLogData struct {
	Time      int64  `json:"time"`
	Service   string `json:"service"`
	Action    string `json:"action"`
	Recipient uint   `json:"recipient"`
	Data      string `json:"data"`
}

// Channel is the part of an AMQP channel the publisher needs.
type Channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// RabbitMQConnect dials the broker and declares the given queues.
func RabbitMQConnect(queues []string, log *slog.Logger) (*amqp.Connection, *amqp.Channel, error) {
	// Connect to RabbitMQ server
	conn, err := amqp.Dial(fmt.Sprintf(
		"amqp://%s:%s@%s:%s/",
		config.Config("RABBITMQ_USER"),
		config.Config("RABBITMQ_PASSWORD"),
		config.Config("RABBITMQ_HOST"),
		config.Config("RABBITMQ_PORT"),
	))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	log.Info("Connection opened to RabbitMQ server")

	// Open a RabbitMQ channel
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("failed to open a RabbitMQ channel: %w", err)
	}

	// Declare queues
	for _, name := range queues {
		if _, err := ch.QueueDeclare(
			name,  // name
			true,  // durable
			false, // delete when unused
			false, // exclusive
			false, // no-wait
			nil,   // arguments
		); err != nil {
			_ = ch.Close()
			_ = conn.Close()
			return nil, nil, fmt.Errorf("failed to declare RabbitMQ queue %s: %w", name, err)
		}
		log.Info("Declared RabbitMQ queue", "queue", name)
	}
	return conn, ch, nil
}

// Publisher pushes deliveries to a RabbitMQ queue for downstream push services.
type Publisher struct {
	channel Channel
	queue   string
	log     *slog.Logger

	mu  sync.Mutex
	out io.Writer
}

// NewPublisher publishes to queue. A nil out disables the event log.
func NewPublisher(channel Channel, queue string, out io.Writer, log *slog.Logger) *Publisher {
	return &Publisher{channel: channel, queue: queue, out: out, log: log}
}

func (p *Publisher) Deliver(ctx context.Context, delivery messenger.Delivery) error {
	data, err := json.Marshal(delivery)
	if err != nil {
		return fmt.Errorf("failed to encode delivery: %w", err)
	}
	if err := p.publish(ctx, delivery.Event, delivery.RecipientID, data); err != nil {
		return err
	}
	return p.outLog(EventLogData{
		Time:      time.Now().UnixMicro(),
		Service:   p.queue,
		Action:    delivery.Event,
		Recipient: delivery.RecipientID,
		Data:      string(data),
	})
}

func (p *Publisher) publish(ctx context.Context, action string, recipient uint, data []byte) error {
	err := p.channel.PublishWithContext(
		ctx,
		"",      // exchange
		p.queue, // routing key
		false,   // mandatory
		false,   // immediate
		amqp.Publishing{
			DeliveryMode: amqp.Persistent,
			ContentType:  "application/json",
			Headers: amqp.Table{
				RabbitMQActionHeader:    action,
				RabbitMQRecipientHeader: strconv.FormatUint(uint64(recipient), 10),
			},
			Body: data,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish %s to %s: %w", action, p.queue, err)
	}
	return nil
}

func (p *Publisher) outLog(data EventLogData) error {
	if p.out == nil {
		return nil
	}
	eventJson, err := json.Marshal(data)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, err := io.WriteString(p.out, string(eventJson)+"\n"); err != nil {
		return fmt.Errorf("failed to write event log: %w", err)
	}
	return nil
}

// Replay republishes every event of an out log without logging it again.
// It returns the number of events sent.
func (p *Publisher) Replay(ctx context.Context, r io.Reader) (int, error) {
	sent := 0
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		if len(scanner.Bytes()) == 0 {
			continue
		}
		data := EventLogData{}
		if err := json.Unmarshal(scanner.Bytes(), &data); err != nil {
			p.log.Warn("Skipping malformed event log line", "error", err)
			continue
		}
		if data.Service != p.queue {
			continue
		}
		if err := p.publish(ctx, data.Action, data.Recipient, []byte(data.Data)); err != nil {
			return sent, err
		}
		sent++
	}
	if err := scanner.Err(); err != nil {
		return sent, fmt.Errorf("failed to read event log: %w", err)
	}
	p.log.Info("Replayed event log", "queue", p.queue, "events", sent)
	return sent, nil
}
