package ledger

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/Abbas-1010/BlockChain-Based-File-Sharing-and-Fine-grained-access-control/internal/domain/model"
)

// testLogger создаёт логгер для тестов (вывод отключён).
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

var errAbort = errors.New("abort")

func newFile(cid string, owner model.Identity, shared ...model.Identity) *model.FileRecord {
	return &model.FileRecord{
		CID:        cid,
		Owner:      owner,
		Visibility: model.VisibilityPrivate,
		SharedWith: shared,
		CreatedAt:  time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func countEvents(t *testing.T, s *MemoryStore, q EventQuery) int {
	t.Helper()
	n := 0
	for _, err := range s.Events(context.Background(), q) {
		if err != nil {
			t.Fatalf("Events: %v", err)
		}
		n++
	}
	return n
}

// TestMemoryStore_InsertFile проверяет назначение Ordinal и конфликт CID.
func TestMemoryStore_InsertFile(t *testing.T) {
	s := NewMemoryStore(testLogger())
	ctx := context.Background()

	err := s.Update(ctx, func(tx Tx) error {
		for _, cid := range []string{"Qm1", "Qm2"} {
			if err := tx.InsertFile(ctx, newFile(cid, "alice")); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}

	err = s.Update(ctx, func(tx Tx) error {
		return tx.InsertFile(ctx, newFile("Qm1", "bob"))
	})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("ошибка = %v, ожидалась ErrConflict", err)
	}

	_ = s.View(ctx, func(tx Tx) error {
		f, err := tx.GetFile(ctx, "Qm2")
		if err != nil {
			t.Fatalf("GetFile: %v", err)
		}
		if f.Ordinal != 2 {
			t.Errorf("Ordinal = %d, ожидался 2", f.Ordinal)
		}
		if f1, _ := tx.GetFile(ctx, "Qm1"); f1.Owner != "alice" {
			t.Errorf("Owner = %q, запись перезаписана конфликтующей вставкой", f1.Owner)
		}
		return nil
	})
}

// TestMemoryStore_Rollback проверяет, что ошибка замыкания откатывает
// все изменения транзакции, включая события.
func TestMemoryStore_Rollback(t *testing.T) {
	s := NewMemoryStore(testLogger())
	ctx := context.Background()

	if err := s.Update(ctx, func(tx Tx) error {
		if err := tx.InsertFile(ctx, newFile("QmBase", "alice", "bob")); err != nil {
			return err
		}
		return tx.PutGrant(ctx, &model.TimedGrant{CID: "QmBase", Grantee: "carol", ExpiresAt: time.Unix(100, 0)})
	}); err != nil {
		t.Fatal(err)
	}

	err := s.Update(ctx, func(tx Tx) error {
		_ = tx.InsertFile(ctx, newFile("QmNew", "alice"))
		_ = tx.RemoveSharedWith(ctx, "QmBase", "bob")
		_ = tx.PutGrant(ctx, &model.TimedGrant{CID: "QmBase", Grantee: "carol", ExpiresAt: time.Unix(999, 0)})
		_ = tx.PutGrant(ctx, &model.TimedGrant{CID: "QmBase", Grantee: "dave", ExpiresAt: time.Unix(999, 0)})
		_ = tx.DeleteGrant(ctx, "QmBase", "carol")
		_ = tx.InsertRequest(ctx, &model.AccessRequest{CID: "QmBase", Owner: "alice", Requester: "erin"})
		_ = tx.AppendEvent(ctx, &model.Event{Kind: model.EventFileRegistered, CID: "QmNew"})
		return errAbort
	})
	if !errors.Is(err, errAbort) {
		t.Fatalf("ошибка = %v, ожидалась errAbort", err)
	}

	_ = s.View(ctx, func(tx Tx) error {
		if _, err := tx.GetFile(ctx, "QmNew"); !errors.Is(err, ErrNotFound) {
			t.Error("файл QmNew остался после отката")
		}
		base, _ := tx.GetFile(ctx, "QmBase")
		if !base.IsSharedWith("bob") {
			t.Error("bob не восстановлен в списке доступа")
		}
		g, err := tx.GetGrant(ctx, "QmBase", "carol")
		if err != nil || !g.ExpiresAt.Equal(time.Unix(100, 0)) {
			t.Errorf("грант carol не восстановлен: %+v, %v", g, err)
		}
		if _, err := tx.GetGrant(ctx, "QmBase", "dave"); !errors.Is(err, ErrNotFound) {
			t.Error("грант dave остался после отката")
		}
		if _, err := tx.GetRequest(ctx, 0); !errors.Is(err, ErrNotFound) {
			t.Error("запрос остался после отката")
		}
		if _, err := tx.FindPendingRequest(ctx, "QmBase", "erin"); !errors.Is(err, ErrNotFound) {
			t.Error("нерассмотренный запрос остался после отката")
		}
		return nil
	})
	if n := countEvents(t, s, EventQuery{}); n != 0 {
		t.Errorf("событий после отката = %d, ожидалось 0", n)
	}

	// Следующая вставка получает те же номера, что и откаченная
	_ = s.Update(ctx, func(tx Tx) error {
		f := newFile("QmNext", "alice")
		if err := tx.InsertFile(ctx, f); err != nil {
			t.Fatal(err)
		}
		if f.Ordinal != 2 {
			t.Errorf("Ordinal = %d, ожидался 2", f.Ordinal)
		}
		return nil
	})
}

// TestMemoryStore_PanicRollback проверяет откат при панике в замыкании.
func TestMemoryStore_PanicRollback(t *testing.T) {
	s := NewMemoryStore(testLogger())
	ctx := context.Background()

	func() {
		defer func() {
			if recover() == nil {
				t.Error("паника не проброшена")
			}
		}()
		_ = s.Update(ctx, func(tx Tx) error {
			_ = tx.InsertFile(ctx, newFile("QmPanic", "alice"))
			panic("boom")
		})
	}()

	_ = s.View(ctx, func(tx Tx) error {
		if _, err := tx.GetFile(ctx, "QmPanic"); !errors.Is(err, ErrNotFound) {
			t.Error("файл остался после паники")
		}
		return nil
	})
}

// TestMemoryStore_ViewReadOnly проверяет запрет мутаций в View.
func TestMemoryStore_ViewReadOnly(t *testing.T) {
	s := NewMemoryStore(testLogger())
	ctx := context.Background()

	err := s.View(ctx, func(tx Tx) error {
		return tx.InsertFile(ctx, newFile("QmRO", "alice"))
	})
	if !errors.Is(err, ErrReadOnly) {
		t.Errorf("ошибка = %v, ожидалась ErrReadOnly", err)
	}
}

// TestMemoryStore_Requests проверяет индексы, поиск и решение запросов.
func TestMemoryStore_Requests(t *testing.T) {
	s := NewMemoryStore(testLogger())
	ctx := context.Background()

	err := s.Update(ctx, func(tx Tx) error {
		for _, r := range []*model.AccessRequest{
			{CID: "Qm1", Owner: "alice", Requester: "bob"},
			{CID: "Qm2", Owner: "carol", Requester: "bob"},
			{CID: "Qm1", Owner: "alice", Requester: "dave"},
		} {
			if err := tx.InsertRequest(ctx, r); err != nil {
				return err
			}
		}
		return tx.InsertRequest(ctx, &model.AccessRequest{CID: "Qm1", Owner: "alice", Requester: "bob"})
	})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("ошибка = %v, ожидалась ErrConflict для дубля", err)
	}

	// Вся транзакция откатилась — повторяем без дубля
	err = s.Update(ctx, func(tx Tx) error {
		for _, r := range []*model.AccessRequest{
			{CID: "Qm1", Owner: "alice", Requester: "bob"},
			{CID: "Qm2", Owner: "carol", Requester: "bob"},
			{CID: "Qm1", Owner: "alice", Requester: "dave"},
		} {
			if err := tx.InsertRequest(ctx, r); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	decidedAt := time.Unix(500, 0)
	err = s.Update(ctx, func(tx Tx) error {
		return tx.MarkDecided(ctx, &model.AccessRequest{Index: 0, Approved: true, DecidedAt: &decidedAt})
	})
	if err != nil {
		t.Fatalf("MarkDecided: %v", err)
	}
	err = s.Update(ctx, func(tx Tx) error {
		return tx.MarkDecided(ctx, &model.AccessRequest{Index: 0, Approved: false})
	})
	if !errors.Is(err, ErrConflict) {
		t.Errorf("повторное решение: ошибка = %v, ожидалась ErrConflict", err)
	}

	_ = s.View(ctx, func(tx Tx) error {
		owner := model.Identity("alice")
		list, _ := tx.ListRequests(ctx, RequestFilter{Owner: &owner})
		if len(list) != 2 || list[0].Index != 0 || list[1].Index != 2 {
			t.Errorf("запросы alice = %+v, ожидались индексы 0 и 2", list)
		}

		requester := model.Identity("bob")
		approved, _ := tx.ListRequests(ctx, RequestFilter{Requester: &requester, ApprovedOnly: true})
		if len(approved) != 1 || approved[0].CID != "Qm1" || !approved[0].DecidedAt.Equal(decidedAt) {
			t.Errorf("одобренные запросы bob = %+v", approved)
		}

		if _, err := tx.FindPendingRequest(ctx, "Qm1", "bob"); !errors.Is(err, ErrNotFound) {
			t.Error("рассмотренный запрос всё ещё числится нерассмотренным")
		}
		if r, err := tx.FindPendingRequest(ctx, "Qm1", "dave"); err != nil || r.Index != 2 {
			t.Errorf("FindPendingRequest(dave) = %+v, %v", r, err)
		}
		return nil
	})
}

// TestMemoryStore_ListFiles проверяет фильтры и порядок регистрации.
func TestMemoryStore_ListFiles(t *testing.T) {
	s := NewMemoryStore(testLogger())
	ctx := context.Background()

	_ = s.Update(ctx, func(tx Tx) error {
		_ = tx.InsertFile(ctx, newFile("Qm1", "alice", "bob"))
		pub := newFile("Qm2", "carol")
		pub.Visibility = model.VisibilityPublic
		_ = tx.InsertFile(ctx, pub)
		_ = tx.InsertFile(ctx, newFile("Qm3", "alice"))
		return tx.InsertFile(ctx, newFile("Qm4", "carol", "bob"))
	})

	_ = s.View(ctx, func(tx Tx) error {
		owner := model.Identity("alice")
		byOwner, _ := tx.ListFiles(ctx, FileFilter{Owner: &owner})
		if len(byOwner) != 2 || byOwner[0].CID != "Qm1" || byOwner[1].CID != "Qm3" {
			t.Errorf("файлы alice = %v", byOwner)
		}

		shared := model.Identity("bob")
		byShare, _ := tx.ListFiles(ctx, FileFilter{SharedWith: &shared})
		if len(byShare) != 2 || byShare[0].CID != "Qm1" || byShare[1].CID != "Qm4" {
			t.Errorf("файлы для bob = %v", byShare)
		}

		byCIDs, _ := tx.ListFiles(ctx, FileFilter{CIDs: []string{"Qm4", "Qm2", "QmNone"}})
		if len(byCIDs) != 2 || byCIDs[0].CID != "Qm2" || byCIDs[1].CID != "Qm4" {
			t.Errorf("файлы по CID = %v, ожидался порядок регистрации", byCIDs)
		}

		vis := model.VisibilityPublic
		public, _ := tx.ListFiles(ctx, FileFilter{Visibility: &vis})
		if len(public) != 1 || public[0].CID != "Qm2" {
			t.Errorf("PUBLIC = %v", public)
		}
		return nil
	})
}

// TestMemoryStore_Events проверяет нумерацию, фильтры и ленивость выборки.
func TestMemoryStore_Events(t *testing.T) {
	s := NewMemoryStore(testLogger())
	ctx := context.Background()

	_ = s.Update(ctx, func(tx Tx) error {
		for _, e := range []*model.Event{
			{Kind: model.EventFileRegistered, CID: "Qm1"},
			{Kind: model.EventAccessGranted, CID: "Qm1"},
			{Kind: model.EventFileRegistered, CID: "Qm2"},
			{Kind: model.EventAccessRevoked, CID: "Qm1"},
		} {
			if err := tx.AppendEvent(ctx, e); err != nil {
				return err
			}
		}
		return nil
	})

	tests := []struct {
		name string
		q    EventQuery
		want int
	}{
		{"все", EventQuery{}, 4},
		{"по CID", EventQuery{CID: "Qm1"}, 3},
		{"по типу", EventQuery{Kinds: []model.EventKind{model.EventFileRegistered}}, 2},
		{"с номера", EventQuery{FromSeq: 3}, 2},
		{"до номера", EventQuery{ToSeq: 2}, 2},
		{"окно", EventQuery{FromSeq: 2, ToSeq: 3}, 2},
		{"за пределами", EventQuery{FromSeq: 10}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := countEvents(t, s, tt.q); got != tt.want {
				t.Errorf("событий = %d, ожидалось %d", got, tt.want)
			}
		})
	}

	// Прерывание прохода
	seen := 0
	for range s.Events(ctx, EventQuery{}) {
		seen++
		if seen == 2 {
			break
		}
	}
	if seen != 2 {
		t.Errorf("прочитано %d, ожидалось 2", seen)
	}

	// Отменённый контекст
	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	for _, err := range s.Events(cancelled, EventQuery{}) {
		if !errors.Is(err, context.Canceled) {
			t.Errorf("ошибка = %v, ожидалась context.Canceled", err)
		}
		break
	}
}
