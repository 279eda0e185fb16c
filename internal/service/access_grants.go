// access_grants.go — временные гранты доступа.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Abbas-1010/BlockChain-Based-File-Sharing-and-Fine-grained-access-control/internal/domain/model"
	"github.com/Abbas-1010/BlockChain-Based-File-Sharing-and-Fine-grained-access-control/internal/ledger"
)

// AccessGrantManager — владелец жизненного цикла TimedGrant.
// Истёкшие гранты не удаляются: активность вычисляется в момент чтения.
type AccessGrantManager struct {
	files       *FileRegistry
	events      *EventLog
	maxDuration time.Duration
}

// NewAccessGrantManager создаёт менеджер грантов.
// maxDuration — верхняя граница длительности одного гранта.
func NewAccessGrantManager(files *FileRegistry, events *EventLog, maxDuration time.Duration) *AccessGrantManager {
	return &AccessGrantManager{
		files:       files,
		events:      events,
		maxDuration: maxDuration,
	}
}

// duration переводит секунды в time.Duration с проверкой границ.
func (g *AccessGrantManager) duration(seconds int64) (time.Duration, error) {
	if seconds <= 0 {
		return 0, fmt.Errorf("%w: %d с, требуется > 0", ErrInvalidDuration, seconds)
	}
	if seconds > int64(g.maxDuration/time.Second) {
		return 0, fmt.Errorf("%w: %d с превышает максимум %s", ErrInvalidDuration, seconds, g.maxDuration)
	}
	return time.Duration(seconds) * time.Second, nil
}

// Grant выдаёт (или продлевает) временный доступ grantee к файлу.
// Новый срок всегда заменяет прежний для той же пары.
func (g *AccessGrantManager) Grant(
	ctx context.Context,
	tx ledger.Tx,
	m mutation,
	caller model.Identity,
	cid string,
	grantee model.Identity,
	seconds int64,
) (*model.TimedGrant, error) {
	f, err := g.files.RequireOwner(ctx, tx, caller, cid)
	if err != nil {
		return nil, err
	}
	d, err := g.duration(seconds)
	if err != nil {
		return nil, err
	}
	return g.put(ctx, tx, m, f, grantee, d)
}

// put записывает грант для уже проверенного владельцем файла.
func (g *AccessGrantManager) put(
	ctx context.Context,
	tx ledger.Tx,
	m mutation,
	f *model.FileRecord,
	grantee model.Identity,
	d time.Duration,
) (*model.TimedGrant, error) {
	if err := validateIdentity(grantee); err != nil {
		return nil, err
	}
	if grantee == f.Owner {
		return nil, fmt.Errorf("%w: %s", ErrSelfGrant, f.CID)
	}

	grant := &model.TimedGrant{
		CID:       f.CID,
		Grantee:   grantee,
		ExpiresAt: m.now.Add(d),
	}
	if err := tx.PutGrant(ctx, grant); err != nil {
		return nil, fmt.Errorf("сохранение гранта: %w", err)
	}
	if _, err := g.events.Append(ctx, tx, m, model.EventAccessGranted, f.CID, grantee); err != nil {
		return nil, err
	}
	return grant, nil
}

// Revoke немедленно снимает временный грант и исключает grantee из
// статического списка доступа. Одобренные запросы доступа не затрагиваются.
// Отзыв при отсутствии доступа успешен и также фиксируется в журнале.
func (g *AccessGrantManager) Revoke(
	ctx context.Context,
	tx ledger.Tx,
	m mutation,
	caller model.Identity,
	cid string,
	grantee model.Identity,
) error {
	f, err := g.files.RequireOwner(ctx, tx, caller, cid)
	if err != nil {
		return err
	}
	if err := validateIdentity(grantee); err != nil {
		return err
	}
	if grantee == f.Owner {
		return fmt.Errorf("%w: доступ владельца не отзывается", ErrSelfGrant)
	}

	if err := tx.DeleteGrant(ctx, cid, grantee); err != nil {
		return fmt.Errorf("удаление гранта: %w", err)
	}
	if err := g.files.RemoveShare(ctx, tx, cid, grantee); err != nil {
		return err
	}
	_, err = g.events.Append(ctx, tx, m, model.EventAccessRevoked, cid, grantee)
	return err
}

// IsActive сообщает, действует ли грант пары в момент now.
// Без побочных эффектов; отсутствие гранта — false.
func (g *AccessGrantManager) IsActive(ctx context.Context, tx ledger.Tx, cid string, id model.Identity, now time.Time) (bool, error) {
	grant, err := tx.GetGrant(ctx, cid, id)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("получение гранта: %w", err)
	}
	return grant.ActiveAt(now), nil
}

// ActiveCIDs возвращает CID файлов, на которые у субъекта есть
// действующий в момент now грант.
func (g *AccessGrantManager) ActiveCIDs(ctx context.Context, tx ledger.Tx, id model.Identity, now time.Time) ([]string, error) {
	grants, err := tx.ListGrantsFor(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("список грантов: %w", err)
	}
	var result []string
	for _, grant := range grants {
		if grant.ActiveAt(now) {
			result = append(result, grant.CID)
		}
	}
	return result, nil
}
