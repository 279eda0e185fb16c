package repository

import (
	"context"
	"fmt"
	"iter"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Abbas-1010/BlockChain-Based-File-Sharing-and-Fine-grained-access-control/internal/domain/model"
	"github.com/Abbas-1010/BlockChain-Based-File-Sharing-and-Fine-grained-access-control/internal/ledger"
)

// AppendEvent добавляет событие в журнал со следующим номером.
func (t *pgTx) AppendEvent(ctx context.Context, e *model.Event) error {
	if err := t.writable(); err != nil {
		return err
	}

	txID, err := uuid.Parse(e.TxID)
	if err != nil {
		return fmt.Errorf("некорректный идентификатор мутации %q: %w", e.TxID, err)
	}

	seq, err := t.nextNumber(ctx, "events", "seq", 1)
	if err != nil {
		return err
	}

	_, err = t.db.Exec(ctx,
		`INSERT INTO events (seq, kind, cid, actor, created_at, tx_id)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		seq, string(e.Kind), e.CID, string(e.Actor), e.Timestamp, txID,
	)
	if err != nil {
		return fmt.Errorf("ошибка записи события %s: %w", e.Kind, err)
	}

	e.Sequence = uint64(seq)
	return nil
}

// Events возвращает ленивую выборку журнала. Каждый проход выполняет
// новый запрос; строки читаются потоково по мере потребления.
func (s *Store) Events(ctx context.Context, q ledger.EventQuery) iter.Seq2[model.Event, error] {
	return func(yield func(model.Event, error) bool) {
		where, args := buildEventWhere(q)
		rows, err := s.pool.Query(ctx,
			"SELECT seq, kind, cid, actor, created_at, tx_id::text FROM events"+where+" ORDER BY seq",
			args...)
		if err != nil {
			yield(model.Event{}, fmt.Errorf("ошибка выборки журнала: %w", err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			var (
				e         model.Event
				seq       int64
				kind      string
				actor     string
				createdAt time.Time
			)
			if err := rows.Scan(&seq, &kind, &e.CID, &actor, &createdAt, &e.TxID); err != nil {
				yield(model.Event{}, fmt.Errorf("ошибка чтения события: %w", err))
				return
			}
			e.Sequence = uint64(seq)
			e.Kind = model.EventKind(kind)
			e.Actor = model.Identity(actor)
			e.Timestamp = createdAt.UTC()
			if !yield(e, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(model.Event{}, fmt.Errorf("ошибка итерации журнала: %w", err))
		}
	}
}

// buildEventWhere строит WHERE-условие выборки журнала.
func buildEventWhere(q ledger.EventQuery) (string, []any) {
	var conditions []string
	var args []any

	if q.CID != "" {
		args = append(args, q.CID)
		conditions = append(conditions, fmt.Sprintf("cid = $%d", len(args)))
	}
	if len(q.Kinds) > 0 {
		kinds := make([]string, len(q.Kinds))
		for i, k := range q.Kinds {
			kinds[i] = string(k)
		}
		args = append(args, kinds)
		conditions = append(conditions, fmt.Sprintf("kind = ANY($%d::text[])", len(args)))
	}
	if q.FromSeq > 0 {
		args = append(args, clampSeq(q.FromSeq))
		conditions = append(conditions, fmt.Sprintf("seq >= $%d", len(args)))
	}
	if q.ToSeq > 0 {
		args = append(args, clampSeq(q.ToSeq))
		conditions = append(conditions, fmt.Sprintf("seq <= $%d", len(args)))
	}

	if len(conditions) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

func clampSeq(v uint64) int64 {
	if v > math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(v)
}
