package event

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"messenger-core/messenger"

	"github.com/mama165/sdk-go/logs"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/require"
)

type published struct {
	key string
	msg amqp.Publishing
}

type fakeChannel struct {
	published []published
	err       error
}

func (f *fakeChannel) PublishWithContext(_ context.Context, _, key string, _, _ bool, msg amqp.Publishing) error {
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, published{key: key, msg: msg})
	return nil
}

func delivery(recipient uint) messenger.Delivery {
	return messenger.Delivery{
		Channel:     messenger.Channel(7),
		RecipientID: recipient,
		Event:       messenger.EventMessageSent,
		Payload: messenger.DeliveryPayload{
			ID:             42,
			ConversationID: 7,
			Content:        "hello",
			Type:           "text",
			CreatedAt:      "2024-01-01T12:00:00Z",
		},
	}
}

func TestPublisher_Deliver(t *testing.T) {
	req := require.New(t)
	ch := &fakeChannel{}
	out := &bytes.Buffer{}
	p := NewPublisher(ch, DeliveryQueue, out, logs.GetLoggerFromLevel(slog.LevelDebug))

	// When a delivery is handed over
	req.NoError(p.Deliver(context.Background(), delivery(3)))

	// Then it lands on the queue with its action and recipient headers
	req.Len(ch.published, 1)
	msg := ch.published[0]
	req.Equal(DeliveryQueue, msg.key)
	req.Equal(messenger.EventMessageSent, msg.msg.Headers[RabbitMQActionHeader])
	req.Equal("3", msg.msg.Headers[RabbitMQRecipientHeader])
	req.Equal("application/json", msg.msg.ContentType)

	var body messenger.Delivery
	req.NoError(json.Unmarshal(msg.msg.Body, &body))
	req.Equal("conversation:7", body.Channel)
	req.EqualValues(42, body.Payload.ID)

	// And it is recorded in the out log
	var logged EventLogData
	req.NoError(json.Unmarshal(bytes.TrimSpace(out.Bytes()), &logged))
	req.Equal(DeliveryQueue, logged.Service)
	req.Equal(messenger.EventMessageSent, logged.Action)
	req.EqualValues(3, logged.Recipient)
	req.JSONEq(string(msg.msg.Body), logged.Data)
}

func TestPublisher_DeliverWithoutLog(t *testing.T) {
	ch := &fakeChannel{}
	p := NewPublisher(ch, DeliveryQueue, nil, logs.GetLoggerFromLevel(slog.LevelDebug))

	require.NoError(t, p.Deliver(context.Background(), delivery(3)))
	require.Len(t, ch.published, 1)
}

func TestPublisher_DeliverFailure(t *testing.T) {
	req := require.New(t)
	out := &bytes.Buffer{}
	p := NewPublisher(&fakeChannel{err: errors.New("channel closed")}, DeliveryQueue, out, logs.GetLoggerFromLevel(slog.LevelDebug))

	err := p.Deliver(context.Background(), delivery(3))

	req.ErrorContains(err, "channel closed")
	req.Zero(out.Len())
}

func TestPublisher_ReplaysOutLog(t *testing.T) {
	req := require.New(t)
	out := &bytes.Buffer{}
	recording := NewPublisher(&fakeChannel{}, DeliveryQueue, out, logs.GetLoggerFromLevel(slog.LevelDebug))
	req.NoError(recording.Deliver(context.Background(), delivery(2)))
	req.NoError(recording.Deliver(context.Background(), delivery(3)))

	// Given a log with a foreign queue entry and a broken line
	log := out.String() + `{"service":"other","action":"x","data":"{}"}` + "\n" + "not json\n"

	// When replaying it
	ch := &fakeChannel{}
	replaying := NewPublisher(ch, DeliveryQueue, nil, logs.GetLoggerFromLevel(slog.LevelDebug))
	sent, err := replaying.Replay(context.Background(), strings.NewReader(log))

	// Then only the delivery queue events go out, in order
	req.NoError(err)
	req.Equal(2, sent)
	req.Len(ch.published, 2)
	req.Equal("2", ch.published[0].msg.Headers[RabbitMQRecipientHeader])
	req.Equal("3", ch.published[1].msg.Headers[RabbitMQRecipientHeader])
}
