// authorization.go — единственная точка проверки доступа к файлу.
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/Abbas-1010/BlockChain-Based-File-Sharing-and-Fine-grained-access-control/internal/domain/model"
	"github.com/Abbas-1010/BlockChain-Based-File-Sharing-and-Fine-grained-access-control/internal/ledger"
)

// AuthorizationOracle вычисляет, есть ли у субъекта доступ к файлу.
// Только чтение; все запросы пути чтения проверяют доступ через него.
type AuthorizationOracle struct {
	files    *FileRegistry
	grants   *AccessGrantManager
	requests *AccessRequestWorkflow
}

// NewAuthorizationOracle создаёт оракул авторизации.
func NewAuthorizationOracle(files *FileRegistry, grants *AccessGrantManager, requests *AccessRequestWorkflow) *AuthorizationOracle {
	return &AuthorizationOracle{
		files:    files,
		grants:   grants,
		requests: requests,
	}
}

// IsAccessActive сообщает, есть ли у id доступ к файлу cid в момент now.
// Владелец имеет доступ всегда, PUBLIC доступен всем.
func (o *AuthorizationOracle) IsAccessActive(ctx context.Context, tx ledger.Tx, cid string, id model.Identity, now time.Time) (bool, error) {
	if err := validateIdentity(id); err != nil {
		return false, err
	}
	f, err := o.files.Get(ctx, tx, cid)
	if err != nil {
		return false, err
	}
	return o.allowed(ctx, tx, f, id, now)
}

func (o *AuthorizationOracle) allowed(ctx context.Context, tx ledger.Tx, f *model.FileRecord, id model.Identity, now time.Time) (bool, error) {
	if f.Owner == id {
		return true, nil
	}

	switch f.Visibility {
	case model.VisibilityPublic:
		return true, nil
	case model.VisibilityPrivate, model.VisibilityShareOnRequest:
		return o.explicit(ctx, tx, f, id, now)
	default:
		return false, fmt.Errorf("%w: %q у файла %s", ErrInvalidVisibility, f.Visibility, f.CID)
	}
}

// explicit проверяет три независимых пути явного доступа:
// статический список, действующий грант, одобренный запрос.
func (o *AuthorizationOracle) explicit(ctx context.Context, tx ledger.Tx, f *model.FileRecord, id model.Identity, now time.Time) (bool, error) {
	if f.IsSharedWith(id) {
		return true, nil
	}
	active, err := o.grants.IsActive(ctx, tx, f.CID, id, now)
	if err != nil || active {
		return active, err
	}
	return o.requests.IsApproved(ctx, tx, f.CID, id)
}

// SharedWith возвращает CID чужих файлов, к которым у id есть явный доступ
// (статический список, действующий грант или одобренный запрос),
// в порядке регистрации файлов, без дублей.
// Доступ только за счёт режима PUBLIC сюда не входит.
func (o *AuthorizationOracle) SharedWith(ctx context.Context, tx ledger.Tx, id model.Identity, now time.Time) ([]string, error) {
	if err := validateIdentity(id); err != nil {
		return nil, err
	}

	candidates := make(map[string]bool)

	static, err := tx.ListFiles(ctx, ledger.FileFilter{SharedWith: &id})
	if err != nil {
		return nil, fmt.Errorf("список статического доступа: %w", err)
	}
	for _, f := range static {
		candidates[f.CID] = true
	}

	granted, err := o.grants.ActiveCIDs(ctx, tx, id, now)
	if err != nil {
		return nil, err
	}
	for _, cid := range granted {
		candidates[cid] = true
	}

	approved, err := o.requests.ApprovedCIDs(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	for _, cid := range approved {
		candidates[cid] = true
	}

	result := []string{}
	if len(candidates) == 0 {
		return result, nil
	}

	list := make([]string, 0, len(candidates))
	for cid := range candidates {
		list = append(list, cid)
	}
	// ListFiles упорядочивает по порядку регистрации
	files, err := tx.ListFiles(ctx, ledger.FileFilter{CIDs: list})
	if err != nil {
		return nil, fmt.Errorf("получение файлов: %w", err)
	}
	for _, f := range files {
		if f.Owner == id {
			continue
		}
		ok, err := o.explicit(ctx, tx, f, id, now)
		if err != nil {
			return nil, err
		}
		if ok {
			result = append(result, f.CID)
		}
	}
	return result, nil
}
