package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// envelope is the relay wire format. Origin lets each process skip frames
// it already delivered locally.
type envelope struct {
	Origin string          `json:"origin"`
	RoomID string          `json:"roomId"`
	Frame  json.RawMessage `json:"frame"`
}

// KafkaPublisher publishes delivery frames keyed by room, so all frames for
// a room land on one partition and per-room broadcast order survives the
// relay hop.
type KafkaPublisher struct {
	writer    *kafka.Writer
	processID string
}

func NewKafkaPublisher(brokers []string, topic, processID string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(brokers...),
			Topic:    topic,
			Balancer: &kafka.Hash{},
		},
		processID: processID,
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, roomID string, frame []byte) error {
	data, err := json.Marshal(envelope{Origin: p.processID, RoomID: roomID, Frame: frame})
	if err != nil {
		return fmt.Errorf("marshal relay envelope: %w", err)
	}
	if err := p.writer.WriteMessages(ctx, kafka.Message{Key: []byte(roomID), Value: data}); err != nil {
		return fmt.Errorf("publish to relay: %w", err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// localDeliverer routes a relayed frame to connections this process owns.
type localDeliverer interface {
	DeliverFrame(ctx context.Context, roomID string, frame []byte)
}

// Relay consumes delivery frames from other processes and forwards them to
// locally owned connections. Each process reads with its own group id so
// every process sees every frame, starting from the log's tail: relay
// frames only matter to sockets that are open right now, so retained
// history must never replay to clients after a restart.
type Relay struct {
	reader    *kafka.Reader
	target    localDeliverer
	processID string
	log       *zap.Logger
}

func NewRelay(brokers []string, topic string, b *Broadcaster, log *zap.Logger) *Relay {
	return &Relay{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:     brokers,
			Topic:       topic,
			GroupID:     "gateway-" + b.ProcessID(),
			StartOffset: kafka.LastOffset,
		}),
		target:    b,
		processID: b.ProcessID(),
		log:       log,
	}
}

// Run consumes until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) {
	defer r.reader.Close()
	for {
		msg, err := r.reader.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return
			}
			r.log.Warn("relay read failed", zap.Error(err))
			continue
		}
		r.handle(ctx, msg.Value)
	}
}

// handle forwards one consumed frame. Malformed envelopes and frames this
// process originated are dropped; the relay never blocks local delivery.
func (r *Relay) handle(ctx context.Context, value []byte) {
	var env envelope
	if err := json.Unmarshal(value, &env); err != nil {
		r.log.Warn("dropping malformed relay envelope", zap.Error(err))
		return
	}
	if env.Origin == r.processID {
		return
	}
	r.target.DeliverFrame(ctx, env.RoomID, env.Frame)
}
