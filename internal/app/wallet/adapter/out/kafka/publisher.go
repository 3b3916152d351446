package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/JoeShih716/go-wallet-ledger/internal/app/wallet/domain"
	"github.com/JoeShih716/go-wallet-ledger/internal/app/wallet/usecase"
)

const headerEventType = "event-type"

// defaultBatchTimeout 每筆異動同步發布一次，kafka.Writer 預設的 1s 批次等待會直接加在延遲上
const defaultBatchTimeout = 5 * time.Millisecond

// Config Kafka 發布設定
type Config struct {
	Brokers []string `yaml:"brokers" validate:"required,min=1,dive,required"`
	// TopicPrefix 加在事件類型前面，例如 "prod." -> "prod.wallet.transaction.posted"
	TopicPrefix  string        `yaml:"topic_prefix"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	// BatchTimeout 未滿批次時最多等待多久送出，0 使用 defaultBatchTimeout
	BatchTimeout time.Duration `yaml:"batch_timeout"`
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher 把帳務事件寫入 Kafka，topic 為事件類型，key 為帳戶 ID (同帳戶事件保序)
type Publisher struct {
	writer messageWriter
	prefix string
}

func NewPublisher(cfg Config) *Publisher {
	return newPublisher(newWriter(cfg), cfg.TopicPrefix)
}

func newWriter(cfg Config) *kafka.Writer {
	batchTimeout := cfg.BatchTimeout
	if batchTimeout <= 0 {
		batchTimeout = defaultBatchTimeout
	}
	return &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		BatchTimeout:           batchTimeout,
		WriteTimeout:           cfg.WriteTimeout,
		AllowAutoTopicCreation: true,
	}
}

func newPublisher(w messageWriter, prefix string) *Publisher {
	return &Publisher{writer: w, prefix: prefix}
}

func (p *Publisher) Publish(ctx context.Context, event domain.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", event.ID, err)
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Topic: p.Topic(event.Type),
		Key:   []byte(event.AccountID.String()),
		Value: data,
		Headers: []kafka.Header{
			{Key: headerEventType, Value: []byte(event.Type)},
		},
		Time: event.OccurredAt,
	})
}

// Topic 事件類型對應的 topic
func (p *Publisher) Topic(t domain.EventType) string {
	return p.prefix + string(t)
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}

var _ usecase.EventPublisher = (*Publisher)(nil)
