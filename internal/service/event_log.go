package service

import (
	"context"
	"fmt"
	"iter"
	"time"

	"github.com/Abbas-1010/BlockChain-Based-File-Sharing-and-Fine-grained-access-control/internal/domain/model"
	"github.com/Abbas-1010/BlockChain-Based-File-Sharing-and-Fine-grained-access-control/internal/ledger"
)

// mutation — контекст одной мутирующей операции: идентификатор
// транзакции и момент времени, общие для всех её событий.
type mutation struct {
	txID string
	now  time.Time
}

// EventLog — журнал аудита. Только добавляет записи и никогда
// не участвует в решениях об авторизации.
type EventLog struct {
	store ledger.Store
}

// NewEventLog создаёт журнал поверх хранилища.
func NewEventLog(store ledger.Store) *EventLog {
	return &EventLog{store: store}
}

// Append добавляет событие в рамках транзакции tx и возвращает его номер.
// Номер назначается хранилищем при фиксации и не переиспользуется.
func (l *EventLog) Append(ctx context.Context, tx ledger.Tx, m mutation, kind model.EventKind, cid string, actor model.Identity) (uint64, error) {
	e := &model.Event{
		Kind:      kind,
		CID:       cid,
		Actor:     actor,
		Timestamp: m.now,
		TxID:      m.txID,
	}
	if err := tx.AppendEvent(ctx, e); err != nil {
		return 0, fmt.Errorf("запись события %s: %w", kind, err)
	}
	return e.Sequence, nil
}

// Query возвращает ленивую перезапускаемую выборку событий
// по возрастанию номера.
func (l *EventLog) Query(ctx context.Context, q ledger.EventQuery) iter.Seq2[model.Event, error] {
	return l.store.Events(ctx, q)
}
