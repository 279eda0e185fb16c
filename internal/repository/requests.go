package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/Abbas-1010/BlockChain-Based-File-Sharing-and-Fine-grained-access-control/internal/domain/model"
	"github.com/Abbas-1010/BlockChain-Based-File-Sharing-and-Fine-grained-access-control/internal/ledger"
)

const requestColumns = "idx, cid, owner, requester, approved, decided, requested_at, decided_at"

// InsertRequest сохраняет запрос доступа и назначает ему глобальный индекс.
// Нерассмотренный запрос пары (cid, requester) может быть только один.
func (t *pgTx) InsertRequest(ctx context.Context, r *model.AccessRequest) error {
	if err := t.writable(); err != nil {
		return err
	}

	idx, err := t.nextNumber(ctx, "access_requests", "idx", 0)
	if err != nil {
		return err
	}

	_, err = t.db.Exec(ctx,
		`INSERT INTO access_requests (idx, cid, owner, requester, approved, decided, requested_at)
		 VALUES ($1, $2, $3, $4, FALSE, FALSE, $5)`,
		idx, r.CID, string(r.Owner), string(r.Requester), r.RequestedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: нерассмотренный запрос уже существует", ledger.ErrConflict)
		}
		return fmt.Errorf("ошибка сохранения запроса доступа: %w", err)
	}

	r.Index = idx
	return nil
}

// GetRequest возвращает запрос по индексу.
func (t *pgTx) GetRequest(ctx context.Context, index int64) (*model.AccessRequest, error) {
	r, err := scanRequest(t.db.QueryRow(ctx,
		"SELECT "+requestColumns+" FROM access_requests WHERE idx = $1", index))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ledger.ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения запроса %d: %w", index, err)
	}
	return r, nil
}

// FindPendingRequest возвращает нерассмотренный запрос пары.
func (t *pgTx) FindPendingRequest(ctx context.Context, cid string, requester model.Identity) (*model.AccessRequest, error) {
	r, err := scanRequest(t.db.QueryRow(ctx,
		"SELECT "+requestColumns+" FROM access_requests WHERE cid = $1 AND requester = $2 AND NOT decided",
		cid, string(requester)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ledger.ErrNotFound
		}
		return nil, fmt.Errorf("ошибка поиска запроса %s/%s: %w", cid, requester, err)
	}
	return r, nil
}

// MarkDecided фиксирует решение. Повторное решение — ErrConflict.
func (t *pgTx) MarkDecided(ctx context.Context, r *model.AccessRequest) error {
	if err := t.writable(); err != nil {
		return err
	}

	tag, err := t.db.Exec(ctx,
		`UPDATE access_requests
		 SET decided = TRUE, approved = $2, decided_at = $3
		 WHERE idx = $1 AND NOT decided`,
		r.Index, r.Approved, r.DecidedAt,
	)
	if err != nil {
		return fmt.Errorf("ошибка фиксации решения по запросу %d: %w", r.Index, err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var exists bool
	if err := t.db.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM access_requests WHERE idx = $1)", r.Index,
	).Scan(&exists); err != nil {
		return fmt.Errorf("ошибка проверки запроса %d: %w", r.Index, err)
	}
	if !exists {
		return ledger.ErrNotFound
	}
	return fmt.Errorf("%w: запрос %d уже рассмотрен", ledger.ErrConflict, r.Index)
}

// ListRequests возвращает запросы по фильтру в порядке подачи.
func (t *pgTx) ListRequests(ctx context.Context, filter ledger.RequestFilter) ([]*model.AccessRequest, error) {
	where, args := buildRequestWhere(filter)
	rows, err := t.db.Query(ctx,
		"SELECT "+requestColumns+" FROM access_requests"+where+" ORDER BY idx", args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения запросов доступа: %w", err)
	}
	defer rows.Close()

	var result []*model.AccessRequest
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка чтения запроса доступа: %w", err)
		}
		result = append(result, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка итерации запросов доступа: %w", err)
	}
	return result, nil
}

func buildRequestWhere(filter ledger.RequestFilter) (string, []any) {
	var conditions []string
	var args []any

	if filter.Owner != nil {
		args = append(args, string(*filter.Owner))
		conditions = append(conditions, fmt.Sprintf("owner = $%d", len(args)))
	}
	if filter.Requester != nil {
		args = append(args, string(*filter.Requester))
		conditions = append(conditions, fmt.Sprintf("requester = $%d", len(args)))
	}
	if filter.CID != nil {
		args = append(args, *filter.CID)
		conditions = append(conditions, fmt.Sprintf("cid = $%d", len(args)))
	}
	if filter.ApprovedOnly {
		conditions = append(conditions, "decided AND approved")
	}

	if len(conditions) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

func scanRequest(row pgx.Row) (*model.AccessRequest, error) {
	var (
		r         model.AccessRequest
		owner     string
		requester string
	)
	err := row.Scan(&r.Index, &r.CID, &owner, &requester,
		&r.Approved, &r.Decided, &r.RequestedAt, &r.DecidedAt)
	if err != nil {
		return nil, err
	}
	r.Owner = model.Identity(owner)
	r.Requester = model.Identity(requester)
	r.RequestedAt = r.RequestedAt.UTC()
	if r.DecidedAt != nil {
		t := r.DecidedAt.UTC()
		r.DecidedAt = &t
	}
	return &r, nil
}
