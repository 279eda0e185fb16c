// file_registry.go — реестр файлов: записи CID и статические списки доступа.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Abbas-1010/BlockChain-Based-File-Sharing-and-Fine-grained-access-control/internal/domain/model"
	"github.com/Abbas-1010/BlockChain-Based-File-Sharing-and-Fine-grained-access-control/internal/ledger"
)

// FileRegistry — владелец записей файлов и их статических списков доступа.
type FileRegistry struct {
	events *EventLog
}

// NewFileRegistry создаёт реестр файлов.
func NewFileRegistry(events *EventLog) *FileRegistry {
	return &FileRegistry{events: events}
}

// validateCID проверяет, что CID непустой и без пробелов по краям.
func validateCID(cid string) error {
	if cid == "" || strings.TrimSpace(cid) != cid {
		return fmt.Errorf("%w: %q", ErrInvalidCID, cid)
	}
	return nil
}

func validateIdentity(id model.Identity) error {
	if !id.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidIdentity, id)
	}
	return nil
}

// normalizeShareList убирает дубли и самого владельца, сохраняя порядок.
func normalizeShareList(owner model.Identity, shareList []model.Identity) ([]model.Identity, error) {
	seen := make(map[model.Identity]bool, len(shareList))
	result := make([]model.Identity, 0, len(shareList))
	for _, id := range shareList {
		if err := validateIdentity(id); err != nil {
			return nil, err
		}
		if id == owner || seen[id] {
			continue
		}
		seen[id] = true
		result = append(result, id)
	}
	return result, nil
}

// Register создаёт запись файла. Вызывающий становится владельцем.
// Записи в shareList, совпадающие с владельцем, молча отбрасываются.
func (r *FileRegistry) Register(
	ctx context.Context,
	tx ledger.Tx,
	m mutation,
	caller model.Identity,
	cid string,
	visibility model.Visibility,
	shareList []model.Identity,
) (*model.FileRecord, error) {
	if err := validateIdentity(caller); err != nil {
		return nil, err
	}
	if err := validateCID(cid); err != nil {
		return nil, err
	}
	if !visibility.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidVisibility, visibility)
	}
	shared, err := normalizeShareList(caller, shareList)
	if err != nil {
		return nil, err
	}

	f := &model.FileRecord{
		CID:        cid,
		Owner:      caller,
		Visibility: visibility,
		SharedWith: shared,
		CreatedAt:  m.now,
	}
	if err := tx.InsertFile(ctx, f); err != nil {
		if errors.Is(err, ledger.ErrConflict) {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateCID, cid)
		}
		return nil, fmt.Errorf("сохранение файла: %w", err)
	}

	if _, err := r.events.Append(ctx, tx, m, model.EventFileRegistered, cid, caller); err != nil {
		return nil, err
	}
	return f, nil
}

// Get возвращает запись файла или ErrNotFound.
func (r *FileRegistry) Get(ctx context.Context, tx ledger.Tx, cid string) (*model.FileRecord, error) {
	if err := validateCID(cid); err != nil {
		return nil, err
	}
	f, err := tx.GetFile(ctx, cid)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return nil, fmt.Errorf("%w: файл %s", ErrNotFound, cid)
		}
		return nil, fmt.Errorf("получение файла: %w", err)
	}
	return f, nil
}

// RequireOwner возвращает запись файла, если caller — её владелец,
// иначе ErrUnauthorized.
func (r *FileRegistry) RequireOwner(ctx context.Context, tx ledger.Tx, caller model.Identity, cid string) (*model.FileRecord, error) {
	if err := validateIdentity(caller); err != nil {
		return nil, err
	}
	f, err := r.Get(ctx, tx, cid)
	if err != nil {
		return nil, err
	}
	if f.Owner != caller {
		return nil, fmt.Errorf("%w: %s", ErrUnauthorized, cid)
	}
	return f, nil
}

// RemoveShare исключает субъекта из статического списка доступа.
func (r *FileRegistry) RemoveShare(ctx context.Context, tx ledger.Tx, cid string, id model.Identity) error {
	if err := tx.RemoveSharedWith(ctx, cid, id); err != nil {
		return fmt.Errorf("изменение списка доступа: %w", err)
	}
	return nil
}

// UserFiles возвращает CID файлов владельца в порядке регистрации.
func (r *FileRegistry) UserFiles(ctx context.Context, tx ledger.Tx, owner model.Identity) ([]string, error) {
	if err := validateIdentity(owner); err != nil {
		return nil, err
	}
	files, err := tx.ListFiles(ctx, ledger.FileFilter{Owner: &owner})
	if err != nil {
		return nil, fmt.Errorf("список файлов владельца: %w", err)
	}
	return cids(files), nil
}

// ByVisibility возвращает CID всех файлов с режимом v в порядке регистрации.
func (r *FileRegistry) ByVisibility(ctx context.Context, tx ledger.Tx, v model.Visibility) ([]string, error) {
	if !v.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidVisibility, v)
	}
	files, err := tx.ListFiles(ctx, ledger.FileFilter{Visibility: &v})
	if err != nil {
		return nil, fmt.Errorf("список файлов по видимости: %w", err)
	}
	return cids(files), nil
}

func cids(files []*model.FileRecord) []string {
	result := make([]string, 0, len(files))
	for _, f := range files {
		result = append(result, f.CID)
	}
	return result
}
