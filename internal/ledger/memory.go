package ledger

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"sort"
	"sync"

	"github.com/Abbas-1010/BlockChain-Based-File-Sharing-and-Fine-grained-access-control/internal/domain/model"
)

// pairKey — ключ пары (CID, субъект) для грантов и запросов.
type pairKey struct {
	cid string
	id  model.Identity
}

// MemoryStore — in-memory реализация Store.
//
// Все мутации сериализуются единственной блокировкой записи
// (последовательный журнал коммитов). Каждая мутация внутри Update
// записывает операцию отката; при ошибке замыкания откаты выполняются
// в обратном порядке, поэтому частично применённое состояние
// никогда не становится видимым. Читатели работают под RLock.
//
// Не персистентный: при рестарте состояние теряется.
type MemoryStore struct {
	mu       sync.RWMutex
	files    map[string]*model.FileRecord
	order    []string
	grants   map[pairKey]*model.TimedGrant
	requests []*model.AccessRequest
	pending  map[pairKey]int64
	events   []model.Event
	logger   *slog.Logger
}

// NewMemoryStore создаёт пустое in-memory хранилище.
func NewMemoryStore(logger *slog.Logger) *MemoryStore {
	return &MemoryStore{
		files:   make(map[string]*model.FileRecord),
		grants:  make(map[pairKey]*model.TimedGrant),
		pending: make(map[pairKey]int64),
		logger:  logger.With(slog.String("component", "memory_store")),
	}
}

// Update выполняет fn под эксклюзивной блокировкой.
// При ошибке или панике fn все изменения откатываются.
func (s *MemoryStore) Update(ctx context.Context, fn func(tx Tx) error) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{s: s}
	defer func() {
		if p := recover(); p != nil {
			tx.rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		n := tx.rollback()
		s.logger.Debug("Мутация отменена",
			slog.Int("undone", n),
			slog.String("error", err.Error()),
		)
		return err
	}
	return nil
}

// View выполняет fn под блокировкой чтения.
func (s *MemoryStore) View(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return fn(&memTx{s: s, readOnly: true})
}

// Events возвращает ленивую выборку журнала.
// Каждый проход берёт снимок зафиксированных событий и фильтрует его.
func (s *MemoryStore) Events(ctx context.Context, q EventQuery) iter.Seq2[model.Event, error] {
	return func(yield func(model.Event, error) bool) {
		s.mu.RLock()
		snapshot := s.events[:len(s.events):len(s.events)]
		s.mu.RUnlock()

		// Sequence = позиция + 1, поэтому начало диапазона вычисляется сразу
		start := 0
		if q.FromSeq > 1 {
			start = int(min(q.FromSeq-1, uint64(len(snapshot))))
		}

		for i := start; i < len(snapshot); i++ {
			if err := ctx.Err(); err != nil {
				yield(model.Event{}, err)
				return
			}
			e := snapshot[i]
			if q.ToSeq > 0 && e.Sequence > q.ToSeq {
				return
			}
			if !q.Match(&e) {
				continue
			}
			if !yield(e, nil) {
				return
			}
		}
	}
}

// memTx — транзакция поверх MemoryStore. Вызывающий держит блокировку.
type memTx struct {
	s        *MemoryStore
	readOnly bool
	undo     []func()
}

// rollback выполняет откаты в обратном порядке и возвращает их количество.
func (tx *memTx) rollback() int {
	n := len(tx.undo)
	for i := n - 1; i >= 0; i-- {
		tx.undo[i]()
	}
	tx.undo = nil
	return n
}

func (tx *memTx) writable() error {
	if tx.readOnly {
		return ErrReadOnly
	}
	return nil
}

func (tx *memTx) GetFile(_ context.Context, cid string) (*model.FileRecord, error) {
	f, ok := tx.s.files[cid]
	if !ok {
		return nil, ErrNotFound
	}
	return f.Clone(), nil
}

func (tx *memTx) InsertFile(_ context.Context, f *model.FileRecord) error {
	if err := tx.writable(); err != nil {
		return err
	}
	if _, ok := tx.s.files[f.CID]; ok {
		return fmt.Errorf("%w: CID %s уже зарегистрирован", ErrConflict, f.CID)
	}

	f.Ordinal = int64(len(tx.s.order)) + 1
	tx.s.files[f.CID] = f.Clone()
	tx.s.order = append(tx.s.order, f.CID)

	cid, n := f.CID, len(tx.s.order)-1
	tx.undo = append(tx.undo, func() {
		delete(tx.s.files, cid)
		tx.s.order = tx.s.order[:n]
	})
	return nil
}

func (tx *memTx) RemoveSharedWith(_ context.Context, cid string, id model.Identity) error {
	if err := tx.writable(); err != nil {
		return err
	}
	f, ok := tx.s.files[cid]
	if !ok {
		return ErrNotFound
	}

	prev := f.SharedWith
	next := make([]model.Identity, 0, len(prev))
	for _, s := range prev {
		if s != id {
			next = append(next, s)
		}
	}
	if len(next) == len(prev) {
		return nil
	}

	f.SharedWith = next
	tx.undo = append(tx.undo, func() { f.SharedWith = prev })
	return nil
}

func (tx *memTx) ListFiles(_ context.Context, filter FileFilter) ([]*model.FileRecord, error) {
	var cidSet map[string]bool
	if filter.CIDs != nil {
		cidSet = make(map[string]bool, len(filter.CIDs))
		for _, c := range filter.CIDs {
			cidSet[c] = true
		}
	}

	var result []*model.FileRecord
	for _, cid := range tx.s.order {
		f := tx.s.files[cid]
		if cidSet != nil && !cidSet[cid] {
			continue
		}
		if filter.Owner != nil && f.Owner != *filter.Owner {
			continue
		}
		if filter.Visibility != nil && f.Visibility != *filter.Visibility {
			continue
		}
		if filter.SharedWith != nil && !f.IsSharedWith(*filter.SharedWith) {
			continue
		}
		result = append(result, f.Clone())
	}
	return result, nil
}

func (tx *memTx) GetGrant(_ context.Context, cid string, grantee model.Identity) (*model.TimedGrant, error) {
	g, ok := tx.s.grants[pairKey{cid, grantee}]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *g
	return &copied, nil
}

func (tx *memTx) PutGrant(_ context.Context, g *model.TimedGrant) error {
	if err := tx.writable(); err != nil {
		return err
	}
	key := pairKey{g.CID, g.Grantee}
	prev, existed := tx.s.grants[key]

	copied := *g
	tx.s.grants[key] = &copied

	tx.undo = append(tx.undo, func() {
		if existed {
			tx.s.grants[key] = prev
		} else {
			delete(tx.s.grants, key)
		}
	})
	return nil
}

func (tx *memTx) DeleteGrant(_ context.Context, cid string, grantee model.Identity) error {
	if err := tx.writable(); err != nil {
		return err
	}
	key := pairKey{cid, grantee}
	prev, existed := tx.s.grants[key]
	if !existed {
		return nil
	}

	delete(tx.s.grants, key)
	tx.undo = append(tx.undo, func() { tx.s.grants[key] = prev })
	return nil
}

func (tx *memTx) ListGrantsFor(_ context.Context, grantee model.Identity) ([]*model.TimedGrant, error) {
	var result []*model.TimedGrant
	for key, g := range tx.s.grants {
		if key.id != grantee {
			continue
		}
		copied := *g
		result = append(result, &copied)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CID < result[j].CID })
	return result, nil
}

func (tx *memTx) InsertRequest(_ context.Context, r *model.AccessRequest) error {
	if err := tx.writable(); err != nil {
		return err
	}
	key := pairKey{r.CID, r.Requester}
	if _, ok := tx.s.pending[key]; ok {
		return fmt.Errorf("%w: нерассмотренный запрос уже существует", ErrConflict)
	}

	r.Index = int64(len(tx.s.requests))
	tx.s.requests = append(tx.s.requests, r.Clone())
	tx.s.pending[key] = r.Index

	n := int(r.Index)
	tx.undo = append(tx.undo, func() {
		tx.s.requests = tx.s.requests[:n]
		delete(tx.s.pending, key)
	})
	return nil
}

func (tx *memTx) GetRequest(_ context.Context, index int64) (*model.AccessRequest, error) {
	if index < 0 || index >= int64(len(tx.s.requests)) {
		return nil, ErrNotFound
	}
	return tx.s.requests[index].Clone(), nil
}

func (tx *memTx) FindPendingRequest(_ context.Context, cid string, requester model.Identity) (*model.AccessRequest, error) {
	idx, ok := tx.s.pending[pairKey{cid, requester}]
	if !ok {
		return nil, ErrNotFound
	}
	return tx.s.requests[idx].Clone(), nil
}

func (tx *memTx) MarkDecided(_ context.Context, r *model.AccessRequest) error {
	if err := tx.writable(); err != nil {
		return err
	}
	if r.Index < 0 || r.Index >= int64(len(tx.s.requests)) {
		return ErrNotFound
	}
	stored := tx.s.requests[r.Index]
	if stored.Decided {
		return fmt.Errorf("%w: запрос %d уже рассмотрен", ErrConflict, r.Index)
	}

	prev := stored.Clone()
	key := pairKey{stored.CID, stored.Requester}

	stored.Decided = true
	stored.Approved = r.Approved
	if r.DecidedAt != nil {
		t := *r.DecidedAt
		stored.DecidedAt = &t
	}
	delete(tx.s.pending, key)

	tx.undo = append(tx.undo, func() {
		*stored = *prev
		tx.s.pending[key] = prev.Index
	})
	return nil
}

func (tx *memTx) ListRequests(_ context.Context, filter RequestFilter) ([]*model.AccessRequest, error) {
	var result []*model.AccessRequest
	for _, r := range tx.s.requests {
		if filter.Owner != nil && r.Owner != *filter.Owner {
			continue
		}
		if filter.Requester != nil && r.Requester != *filter.Requester {
			continue
		}
		if filter.CID != nil && r.CID != *filter.CID {
			continue
		}
		if filter.ApprovedOnly && !(r.Decided && r.Approved) {
			continue
		}
		result = append(result, r.Clone())
	}
	return result, nil
}

func (tx *memTx) AppendEvent(_ context.Context, e *model.Event) error {
	if err := tx.writable(); err != nil {
		return err
	}
	e.Sequence = uint64(len(tx.s.events)) + 1
	tx.s.events = append(tx.s.events, *e)

	n := len(tx.s.events) - 1
	tx.undo = append(tx.undo, func() { tx.s.events = tx.s.events[:n] })
	return nil
}
