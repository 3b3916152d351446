package domain

import (
	"time"

	"github.com/google/uuid"
)

// EventType 帳務事件類型，同時作為 topic / subject 名稱
type EventType string

const (
	EventTransactionPosted    EventType = "wallet.transaction.posted"
	EventAccountFrozen        EventType = "wallet.account.frozen"
	EventAccountUnfrozen      EventType = "wallet.account.unfrozen"
	EventAccountLimitsChanged EventType = "wallet.account.limits_changed"
)

// Event 交易提交後對外發布的事件 (best effort，不影響交易結果)
type Event struct {
	ID          uuid.UUID    `json:"id"`
	Type        EventType    `json:"type"`
	AccountID   uuid.UUID    `json:"accountId"`
	UserID      string       `json:"userId"`
	ActorID     string       `json:"actorId,omitempty"`
	Account     *Account     `json:"account"`
	Transaction *Transaction `json:"transaction,omitempty"`
	OccurredAt  time.Time    `json:"occurredAt"`
}
