package msgbus

import (
	"context"
	"errors"
	"io"
	"time"

	"tradecore/pkg/utils"

	"github.com/segmentio/kafka-go"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

// KafkaWriter - подмножество kafka.Writer
type KafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaReader - подмножество kafka.Reader
type KafkaReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaConfig - настройки моста в Kafka
type KafkaConfig struct {
	BridgeConfig
	Brokers []string
	Topic   string
	GroupID string
}

// KafkaBridge пересылает события шины в топик Kafka и публикует в шину
// сообщения, прочитанные из него. Ключ сообщения - тема шины, поэтому
// события одного счёта или позиции попадают в одну партицию.
type KafkaBridge struct {
	*bridgeCore
	writer KafkaWriter
	reader KafkaReader
}

func NewKafkaBridge(bus *Bus, writer KafkaWriter, reader KafkaReader, cfg KafkaConfig) *KafkaBridge {
	return &KafkaBridge{
		bridgeCore: newBridgeCore("kafka", bus, nil, cfg.BridgeConfig),
		writer:     writer,
		reader:     reader,
	}
}

// NewKafkaClients создаёт writer и reader kafka-go по конфигу
func NewKafkaClients(cfg KafkaConfig) (*kafka.Writer, *kafka.Reader) {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
		RequiredAcks:           kafka.RequireOne,
		BatchTimeout:           10 * time.Millisecond,
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		Topic:          cfg.Topic,
		GroupID:        cfg.GroupID,
		StartOffset:    kafka.LastOffset,
		CommitInterval: time.Second,
		MaxBytes:       10e6,
	})
	return writer, reader
}

func (k *KafkaBridge) Run(ctx context.Context) error {
	if err := k.attach(); err != nil {
		return err
	}
	defer k.detach()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return k.pump(ctx, k.send) })
	if k.reader != nil {
		g.Go(func() error { return k.consume(ctx) })
	}
	return g.Wait()
}

func (k *KafkaBridge) send(ctx context.Context, m outbound) error {
	return k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(m.topic),
		Value: m.data,
		Time:  time.Now(),
	})
}

func (k *KafkaBridge) consume(ctx context.Context) error {
	for {
		msg, err := k.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return nil
			}
			k.log.Warn("kafka fetch failed", utils.Err(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}

		k.receive(msg.Value)
		if err := k.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			k.log.Warn("kafka commit failed", utils.Err(err), utils.Int64("offset", msg.Offset))
		}
	}
}

func (k *KafkaBridge) Close() error {
	k.detach()
	var err error
	if k.writer != nil {
		err = multierr.Append(err, k.writer.Close())
	}
	if k.reader != nil {
		err = multierr.Append(err, k.reader.Close())
	}
	return err
}
