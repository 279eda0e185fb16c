// access_requests.go — workflow запросов доступа к файлам SHARE_ON_REQUEST.
package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/Abbas-1010/BlockChain-Based-File-Sharing-and-Fine-grained-access-control/internal/domain/model"
	"github.com/Abbas-1010/BlockChain-Based-File-Sharing-and-Fine-grained-access-control/internal/ledger"
)

// AccessRequestWorkflow — владелец жизненного цикла AccessRequest.
//
// Индексы запросов глобальные, назначаются по порядку подачи начиная с нуля
// и никогда не перенумеровываются. Одобрение даёт запросившему постоянный
// доступ, независимый от временных грантов.
type AccessRequestWorkflow struct {
	files  *FileRegistry
	events *EventLog
}

// NewAccessRequestWorkflow создаёт workflow запросов доступа.
func NewAccessRequestWorkflow(files *FileRegistry, events *EventLog) *AccessRequestWorkflow {
	return &AccessRequestWorkflow{
		files:  files,
		events: events,
	}
}

// Request подаёт запрос доступа от requester к файлу cid.
func (w *AccessRequestWorkflow) Request(
	ctx context.Context,
	tx ledger.Tx,
	m mutation,
	requester model.Identity,
	cid string,
) (*model.AccessRequest, error) {
	if err := validateIdentity(requester); err != nil {
		return nil, err
	}
	f, err := w.files.Get(ctx, tx, cid)
	if err != nil {
		return nil, err
	}
	if f.Visibility != model.VisibilityShareOnRequest {
		return nil, fmt.Errorf("%w: %s имеет режим %s", ErrNotShareOnRequest, cid, f.Visibility)
	}
	if requester == f.Owner {
		return nil, fmt.Errorf("%w: %s", ErrSelfRequest, cid)
	}

	_, err = tx.FindPendingRequest(ctx, cid, requester)
	switch {
	case err == nil:
		return nil, fmt.Errorf("%w: %s от %s", ErrDuplicateRequest, cid, requester)
	case !errors.Is(err, ledger.ErrNotFound):
		return nil, fmt.Errorf("поиск запроса: %w", err)
	}

	r := &model.AccessRequest{
		CID:         cid,
		Owner:       f.Owner,
		Requester:   requester,
		RequestedAt: m.now,
	}
	if err := tx.InsertRequest(ctx, r); err != nil {
		if errors.Is(err, ledger.ErrConflict) {
			return nil, fmt.Errorf("%w: %s от %s", ErrDuplicateRequest, cid, requester)
		}
		return nil, fmt.Errorf("сохранение запроса: %w", err)
	}
	if _, err := w.events.Append(ctx, tx, m, model.EventAccessRequested, cid, requester); err != nil {
		return nil, err
	}
	return r, nil
}

// List возвращает запросы ко всем файлам владельца в порядке подачи.
func (w *AccessRequestWorkflow) List(ctx context.Context, tx ledger.Tx, owner model.Identity) ([]*model.AccessRequest, error) {
	if err := validateIdentity(owner); err != nil {
		return nil, err
	}
	requests, err := tx.ListRequests(ctx, ledger.RequestFilter{Owner: &owner})
	if err != nil {
		return nil, fmt.Errorf("список запросов: %w", err)
	}
	if requests == nil {
		requests = []*model.AccessRequest{}
	}
	return requests, nil
}

// Decide фиксирует решение владельца по запросу index.
// Повторное решение отклоняется с ErrAlreadyDecided и ничего не меняет.
// Одобрение записывает событие AccessGranted; отказ событий не порождает.
func (w *AccessRequestWorkflow) Decide(
	ctx context.Context,
	tx ledger.Tx,
	m mutation,
	caller model.Identity,
	index int64,
	approve bool,
) (*model.AccessRequest, error) {
	if err := validateIdentity(caller); err != nil {
		return nil, err
	}
	r, err := tx.GetRequest(ctx, index)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return nil, fmt.Errorf("%w: запрос %d", ErrNotFound, index)
		}
		return nil, fmt.Errorf("получение запроса: %w", err)
	}
	if _, err := w.files.RequireOwner(ctx, tx, caller, r.CID); err != nil {
		return nil, err
	}
	if r.Decided {
		return nil, fmt.Errorf("%w: запрос %d", ErrAlreadyDecided, index)
	}

	decidedAt := m.now
	r.Decided = true
	r.Approved = approve
	r.DecidedAt = &decidedAt
	if err := tx.MarkDecided(ctx, r); err != nil {
		if errors.Is(err, ledger.ErrConflict) {
			return nil, fmt.Errorf("%w: запрос %d", ErrAlreadyDecided, index)
		}
		return nil, fmt.Errorf("сохранение решения: %w", err)
	}

	if approve {
		if _, err := w.events.Append(ctx, tx, m, model.EventAccessGranted, r.CID, r.Requester); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// IsApproved сообщает, есть ли у субъекта одобренный запрос к файлу.
func (w *AccessRequestWorkflow) IsApproved(ctx context.Context, tx ledger.Tx, cid string, id model.Identity) (bool, error) {
	requests, err := tx.ListRequests(ctx, ledger.RequestFilter{
		Requester:    &id,
		CID:          &cid,
		ApprovedOnly: true,
	})
	if err != nil {
		return false, fmt.Errorf("проверка одобренных запросов: %w", err)
	}
	return len(requests) > 0, nil
}

// ApprovedCIDs возвращает CID файлов, к которым у субъекта одобрен запрос.
func (w *AccessRequestWorkflow) ApprovedCIDs(ctx context.Context, tx ledger.Tx, id model.Identity) ([]string, error) {
	requests, err := tx.ListRequests(ctx, ledger.RequestFilter{
		Requester:    &id,
		ApprovedOnly: true,
	})
	if err != nil {
		return nil, fmt.Errorf("список одобренных запросов: %w", err)
	}
	result := make([]string, 0, len(requests))
	for _, r := range requests {
		result = append(result, r.CID)
	}
	return result, nil
}
