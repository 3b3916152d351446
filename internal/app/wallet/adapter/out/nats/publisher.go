package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/JoeShih716/go-wallet-ledger/internal/app/wallet/domain"
	"github.com/JoeShih716/go-wallet-ledger/internal/app/wallet/usecase"
)

// Config NATS 發布設定
type Config struct {
	URL string `yaml:"url" validate:"required"`
	// SubjectPrefix 加在事件類型前面
	SubjectPrefix string `yaml:"subject_prefix"`
}

type conn interface {
	Publish(subj string, data []byte) error
}

// Publisher 把帳務事件發布到 NATS，subject 為事件類型
type Publisher struct {
	conn   conn
	prefix string
}

// Connect 連線 NATS，斷線時無限重連
func Connect(cfg Config, name string, log zerolog.Logger) (*nats.Conn, error) {
	nc, err := nats.Connect(cfg.URL,
		nats.Name(name),
		nats.Timeout(5*time.Second),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("nats disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("nats reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}
	return nc, nil
}

func NewPublisher(c conn, prefix string) *Publisher {
	return &Publisher{conn: c, prefix: prefix}
}

// Publish NATS core publish 不等待回應，ctx 只用來提早放棄
func (p *Publisher) Publish(ctx context.Context, event domain.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", event.ID, err)
	}
	return p.conn.Publish(p.Subject(event.Type), data)
}

// Subject 事件類型對應的 subject
func (p *Publisher) Subject(t domain.EventType) string {
	return p.prefix + string(t)
}

var _ usecase.EventPublisher = (*Publisher)(nil)
