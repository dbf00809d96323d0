// Package events defines the versioned wire schemas handed to downstream
// consumers. Payloads form a closed tagged union keyed by the event type
// discriminant; consumers match known types exhaustively and must reject
// unknown versions rather than guess.
package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"tradecore/internal/domain"
)

type Type string

const (
	TypeTradeExecutedV1   Type = "trade_executed.v1"
	TypePositionUpdatedV1 Type = "position_updated.v1"
	TypeTradeFailedV1     Type = "trade_failed.v1"
)

// ErrUnknownType is returned when decoding an event whose type is not part
// of the known schema set.
var ErrUnknownType = errors.New("unknown event type")

// Topic returns the bus topic an event type is published on.
func Topic(t Type) string { return "trades." + string(t) }

// Envelope wraps every published payload. Consumers deduplicate by
// (event_type, aggregate_id, occurred_at) since delivery is at-least-once.
type Envelope struct {
	EventType   Type            `json:"event_type"`
	EventID     string          `json:"event_id"`
	AggregateID string          `json:"aggregate_id"`
	OccurredAt  time.Time       `json:"occurred_at"`
	Payload     json.RawMessage `json:"payload"`
}

// TradeExecutedV1 is emitted when the exchange confirms a trade and the
// domain write commits. Monetary fields are decimal strings.
type TradeExecutedV1 struct {
	TradeID     string `json:"trade_id"`
	PortfolioID string `json:"portfolio_id"`
	Asset       string `json:"asset"`
	Direction   string `json:"direction"`
	Amount      string `json:"amount"`
	EntryPrice  string `json:"entry_price"`
	Currency    string `json:"currency"`
}

// PositionUpdatedV1 is emitted alongside trade_executed whenever the trade
// changed the owning position's net size or average entry price.
type PositionUpdatedV1 struct {
	PortfolioID   string `json:"portfolio_id"`
	Asset         string `json:"asset"`
	NetSize       string `json:"net_size"`
	AvgEntryPrice string `json:"average_entry_price"`
	RealizedPnL   string `json:"realized_pnl"`
	Currency      string `json:"currency"`
}

// TradeFailedV1 is emitted when a persisted trade later fails settlement.
// Trades the exchange rejected before persistence produce no events.
type TradeFailedV1 struct {
	TradeID     string `json:"trade_id"`
	PortfolioID string `json:"portfolio_id"`
	Asset       string `json:"asset"`
	Reason      string `json:"reason"`
}

// NewTradeExecuted builds the envelope for an executed trade. The trade id
// is the aggregate id: all events born from one trade share it so the
// relay can preserve their creation order.
func NewTradeExecuted(t *domain.Trade) (Envelope, error) {
	entry, ok := t.EntryPrice()
	if !ok {
		return Envelope{}, fmt.Errorf("trade %s has no entry price", t.ID)
	}
	occurred := t.CreatedAt
	if t.ExecutedAt != nil {
		occurred = *t.ExecutedAt
	}
	return seal(TypeTradeExecutedV1, t.ID, occurred, TradeExecutedV1{
		TradeID:     t.ID,
		PortfolioID: t.PortfolioID,
		Asset:       t.Asset.Symbol,
		Direction:   string(t.Direction),
		Amount:      t.Amount.Amount().String(),
		EntryPrice:  entry.Amount().String(),
		Currency:    t.Amount.Currency(),
	})
}

// NewPositionUpdated builds the envelope for a position mutation caused by
// the given trade.
func NewPositionUpdated(t *domain.Trade, p *domain.Position) (Envelope, error) {
	occurred := p.UpdatedAt
	return seal(TypePositionUpdatedV1, t.ID, occurred, PositionUpdatedV1{
		PortfolioID:   p.PortfolioID,
		Asset:         p.Asset.Symbol,
		NetSize:       p.NetSize.String(),
		AvgEntryPrice: p.AvgEntryPrice.Amount().String(),
		RealizedPnL:   p.RealizedPnL.Amount().String(),
		Currency:      p.RealizedPnL.Currency(),
	})
}

// NewTradeFailed builds the envelope for a settlement failure.
func NewTradeFailed(t *domain.Trade, at time.Time) (Envelope, error) {
	return seal(TypeTradeFailedV1, t.ID, at, TradeFailedV1{
		TradeID:     t.ID,
		PortfolioID: t.PortfolioID,
		Asset:       t.Asset.Symbol,
		Reason:      t.FailureReason,
	})
}

func seal(typ Type, aggregateID string, occurredAt time.Time, payload any) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		EventType:   typ,
		EventID:     uuid.NewString(),
		AggregateID: aggregateID,
		OccurredAt:  occurredAt.UTC(),
		Payload:     raw,
	}, nil
}

// Encode serializes an envelope for the outbox payload column and the bus.
func Encode(env Envelope) ([]byte, error) {
	return json.Marshal(env)
}

// Decode parses an envelope and its payload. The switch over known types
// is exhaustive; anything else fails with ErrUnknownType.
func Decode(data []byte) (Envelope, any, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, nil, err
	}
	switch env.EventType {
	case TypeTradeExecutedV1:
		var p TradeExecutedV1
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return env, nil, err
		}
		return env, p, nil
	case TypePositionUpdatedV1:
		var p PositionUpdatedV1
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return env, nil, err
		}
		return env, p, nil
	case TypeTradeFailedV1:
		var p TradeFailedV1
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return env, nil, err
		}
		return env, p, nil
	default:
		return env, nil, fmt.Errorf("%w: %q", ErrUnknownType, env.EventType)
	}
}
