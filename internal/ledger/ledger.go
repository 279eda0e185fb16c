// Пакет ledger — абстракция хранилища состояния реестра.
//
// Все мутации выполняются через Store.Update: замыкание получает Tx и
// либо применяется целиком (состояние + события журнала), либо при
// возврате ошибки не оставляет никаких следов. Чтение — через Store.View,
// которое видит согласованный снимок и никогда не наблюдает
// частично применённую мутацию.
//
// Реализации: in-memory (NewMemoryStore) и PostgreSQL (пакет repository).
package ledger

import (
	"context"
	"errors"
	"iter"

	"github.com/Abbas-1010/BlockChain-Based-File-Sharing-and-Fine-grained-access-control/internal/domain/model"
)

// Ошибки слоя хранилища.
var (
	// ErrNotFound — запись не найдена.
	ErrNotFound = errors.New("запись не найдена")
	// ErrConflict — конфликт уникальности (дублирующийся ключ).
	ErrConflict = errors.New("конфликт — запись уже существует")
	// ErrReadOnly — попытка мутации в транзакции только для чтения.
	ErrReadOnly = errors.New("транзакция только для чтения")
)

// FileFilter — фильтр списка файлов. nil-поля не применяются.
// Результат всегда упорядочен по порядку регистрации.
type FileFilter struct {
	Owner      *model.Identity
	Visibility *model.Visibility
	SharedWith *model.Identity
	CIDs       []string
}

// RequestFilter — фильтр списка запросов доступа.
// Результат упорядочен по Index (порядок подачи).
type RequestFilter struct {
	Owner     *model.Identity
	Requester *model.Identity
	CID       *string
	// ApprovedOnly — только рассмотренные и одобренные запросы
	ApprovedOnly bool
}

// EventQuery — параметры выборки журнала событий.
type EventQuery struct {
	// CID — фильтр по файлу ("" = все файлы)
	CID string
	// Kinds — фильтр по типам (пусто = все типы)
	Kinds []model.EventKind
	// FromSeq — минимальный номер события включительно (0 = с начала)
	FromSeq uint64
	// ToSeq — максимальный номер события включительно (0 = до конца)
	ToSeq uint64
}

// Match сообщает, подходит ли событие под условия выборки.
func (q EventQuery) Match(e *model.Event) bool {
	if q.CID != "" && e.CID != q.CID {
		return false
	}
	if q.FromSeq > 0 && e.Sequence < q.FromSeq {
		return false
	}
	if q.ToSeq > 0 && e.Sequence > q.ToSeq {
		return false
	}
	if len(q.Kinds) == 0 {
		return true
	}
	for _, k := range q.Kinds {
		if e.Kind == k {
			return true
		}
	}
	return false
}

// Tx — операции над состоянием в рамках одной атомарной единицы.
type Tx interface {
	// GetFile возвращает файл по CID или ErrNotFound.
	GetFile(ctx context.Context, cid string) (*model.FileRecord, error)
	// InsertFile сохраняет новый файл и назначает Ordinal.
	// Возвращает ErrConflict, если CID уже зарегистрирован.
	InsertFile(ctx context.Context, f *model.FileRecord) error
	// RemoveSharedWith исключает субъекта из статического списка доступа.
	RemoveSharedWith(ctx context.Context, cid string, id model.Identity) error
	// ListFiles возвращает файлы по фильтру в порядке регистрации.
	ListFiles(ctx context.Context, filter FileFilter) ([]*model.FileRecord, error)

	// GetGrant возвращает грант пары (cid, grantee) или ErrNotFound.
	GetGrant(ctx context.Context, cid string, grantee model.Identity) (*model.TimedGrant, error)
	// PutGrant создаёт или перезаписывает грант пары.
	PutGrant(ctx context.Context, g *model.TimedGrant) error
	// DeleteGrant удаляет грант пары; отсутствие гранта не ошибка.
	DeleteGrant(ctx context.Context, cid string, grantee model.Identity) error
	// ListGrantsFor возвращает все гранты субъекта (включая истёкшие).
	ListGrantsFor(ctx context.Context, grantee model.Identity) ([]*model.TimedGrant, error)

	// InsertRequest сохраняет новый запрос и назначает Index.
	InsertRequest(ctx context.Context, r *model.AccessRequest) error
	// GetRequest возвращает запрос по индексу или ErrNotFound.
	GetRequest(ctx context.Context, index int64) (*model.AccessRequest, error)
	// FindPendingRequest возвращает нерассмотренный запрос пары или ErrNotFound.
	FindPendingRequest(ctx context.Context, cid string, requester model.Identity) (*model.AccessRequest, error)
	// MarkDecided фиксирует решение по нерассмотренному запросу.
	MarkDecided(ctx context.Context, r *model.AccessRequest) error
	// ListRequests возвращает запросы по фильтру в порядке подачи.
	ListRequests(ctx context.Context, filter RequestFilter) ([]*model.AccessRequest, error)

	// AppendEvent добавляет событие в журнал и назначает Sequence.
	AppendEvent(ctx context.Context, e *model.Event) error
}

// Store — хранилище состояния реестра.
type Store interface {
	// Update выполняет fn атомарно. Ошибка fn откатывает все изменения.
	Update(ctx context.Context, fn func(tx Tx) error) error
	// View выполняет fn над согласованным снимком только для чтения.
	View(ctx context.Context, fn func(tx Tx) error) error
	// Events возвращает ленивую, перезапускаемую, конечную последовательность
	// событий по возрастанию Sequence. Каждый проход читает журнал заново.
	Events(ctx context.Context, q EventQuery) iter.Seq2[model.Event, error]
}
