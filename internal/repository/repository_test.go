package repository

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/Abbas-1010/BlockChain-Based-File-Sharing-and-Fine-grained-access-control/internal/config"
	"github.com/Abbas-1010/BlockChain-Based-File-Sharing-and-Fine-grained-access-control/internal/database"
	"github.com/Abbas-1010/BlockChain-Based-File-Sharing-and-Fine-grained-access-control/internal/domain/model"
	"github.com/Abbas-1010/BlockChain-Based-File-Sharing-and-Fine-grained-access-control/internal/ledger"
)

var errAbort = errors.New("прервано тестом")

var t0 = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

// setupTestDB запускает PostgreSQL контейнер и применяет миграции.
func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()

	if os.Getenv("TEST_INTEGRATION") == "" {
		t.Skip("Пропуск интеграционного теста: TEST_INTEGRATION не установлена")
	}

	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"docker.io/postgres:17-alpine",
		postgres.WithDatabase("registry_test"),
		postgres.WithUsername("registry"),
		postgres.WithPassword("test-password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("Не удалось запустить PostgreSQL контейнер: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("Ошибка остановки контейнера: %v", err)
		}
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Не удалось получить host контейнера: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Не удалось получить port контейнера: %v", err)
	}

	t.Setenv("CR_STORE_BACKEND", "postgres")
	t.Setenv("CR_AUTH_MODE", "header")
	t.Setenv("CR_DB_HOST", host)
	t.Setenv("CR_DB_PORT", port.Port())
	t.Setenv("CR_DB_NAME", "registry_test")
	t.Setenv("CR_DB_USER", "registry")
	t.Setenv("CR_DB_PASSWORD", "test-password")
	t.Setenv("CR_DB_SSL_MODE", "disable")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Ошибка загрузки конфигурации: %v", err)
	}

	logger := testLogger()

	if err := database.Migrate(cfg, logger); err != nil {
		t.Fatalf("Ошибка миграций: %v", err)
	}

	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		t.Fatalf("Ошибка подключения: %v", err)
	}
	t.Cleanup(func() { pool.Close() })

	return pool
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func newFile(cid string, owner model.Identity, vis model.Visibility, shared ...model.Identity) *model.FileRecord {
	return &model.FileRecord{
		CID:        cid,
		Owner:      owner,
		Visibility: vis,
		SharedWith: shared,
		CreatedAt:  t0,
	}
}

func newEvent(kind model.EventKind, cid string, actor model.Identity) *model.Event {
	return &model.Event{
		Kind:      kind,
		CID:       cid,
		Actor:     actor,
		Timestamp: t0,
		TxID:      uuid.NewString(),
	}
}

func TestStore_Files(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	store := NewStore(pool, testLogger())

	err := store.Update(ctx, func(tx ledger.Tx) error {
		for _, f := range []*model.FileRecord{
			newFile("QmA", "alice", model.VisibilityPrivate, "bob", "carol"),
			newFile("QmB", "bob", model.VisibilityPublic),
			newFile("QmC", "alice", model.VisibilityShareOnRequest, "carol"),
		} {
			if err := tx.InsertFile(ctx, f); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("InsertFile: %v", err)
	}

	err = store.Update(ctx, func(tx ledger.Tx) error {
		return tx.InsertFile(ctx, newFile("QmA", "dave", model.VisibilityPublic))
	})
	if !errors.Is(err, ledger.ErrConflict) {
		t.Fatalf("повторный CID: ошибка %v, ожидается ErrConflict", err)
	}

	alice := model.Identity("alice")
	carol := model.Identity("carol")
	public := model.VisibilityPublic

	tests := []struct {
		name   string
		filter ledger.FileFilter
		want   []string
	}{
		{"без фильтра", ledger.FileFilter{}, []string{"QmA", "QmB", "QmC"}},
		{"по владельцу", ledger.FileFilter{Owner: &alice}, []string{"QmA", "QmC"}},
		{"по видимости", ledger.FileFilter{Visibility: &public}, []string{"QmB"}},
		{"по списку доступа", ledger.FileFilter{SharedWith: &carol}, []string{"QmA", "QmC"}},
		{"по CID", ledger.FileFilter{CIDs: []string{"QmC", "QmA", "QmX"}}, []string{"QmA", "QmC"}},
		{"пустой набор CID", ledger.FileFilter{CIDs: []string{}}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []string
			err := store.View(ctx, func(tx ledger.Tx) error {
				files, err := tx.ListFiles(ctx, tt.filter)
				for _, f := range files {
					got = append(got, f.CID)
				}
				return err
			})
			if err != nil {
				t.Fatalf("ListFiles: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("получено %v, ожидается %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("позиция %d: %s, ожидается %s", i, got[i], tt.want[i])
				}
			}
		})
	}

	var f *model.FileRecord
	err = store.Update(ctx, func(tx ledger.Tx) error {
		if err := tx.RemoveSharedWith(ctx, "QmA", "bob"); err != nil {
			return err
		}
		var err error
		f, err = tx.GetFile(ctx, "QmA")
		return err
	})
	if err != nil {
		t.Fatalf("RemoveSharedWith: %v", err)
	}
	if f.Ordinal != 1 || !f.CreatedAt.Equal(t0) {
		t.Errorf("Ordinal = %d, CreatedAt = %v", f.Ordinal, f.CreatedAt)
	}
	if len(f.SharedWith) != 1 || f.SharedWith[0] != "carol" {
		t.Errorf("SharedWith = %v, ожидается [carol]", f.SharedWith)
	}

	err = store.View(ctx, func(tx ledger.Tx) error {
		_, err := tx.GetFile(ctx, "QmX")
		return err
	})
	if !errors.Is(err, ledger.ErrNotFound) {
		t.Errorf("GetFile(QmX): %v, ожидается ErrNotFound", err)
	}
}

func TestStore_RollbackLeavesNoTrace(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	store := NewStore(pool, testLogger())

	err := store.Update(ctx, func(tx ledger.Tx) error {
		if err := tx.InsertFile(ctx, newFile("QmA", "alice", model.VisibilityPrivate, "bob")); err != nil {
			return err
		}
		if err := tx.AppendEvent(ctx, newEvent(model.EventFileRegistered, "QmA", "alice")); err != nil {
			return err
		}
		return errAbort
	})
	if !errors.Is(err, errAbort) {
		t.Fatalf("Update: %v, ожидается errAbort", err)
	}

	f := newFile("QmB", "bob", model.VisibilityPublic)
	e := newEvent(model.EventFileRegistered, "QmB", "bob")
	err = store.Update(ctx, func(tx ledger.Tx) error {
		if _, err := tx.GetFile(ctx, "QmA"); !errors.Is(err, ledger.ErrNotFound) {
			t.Errorf("QmA после отката: %v", err)
		}
		if err := tx.InsertFile(ctx, f); err != nil {
			return err
		}
		return tx.AppendEvent(ctx, e)
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if f.Ordinal != 1 {
		t.Errorf("Ordinal = %d, ожидается 1 (откат не расходует номера)", f.Ordinal)
	}
	if e.Sequence != 1 {
		t.Errorf("Sequence = %d, ожидается 1", e.Sequence)
	}
}

func TestStore_ViewReadOnly(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	store := NewStore(pool, testLogger())

	err := store.View(ctx, func(tx ledger.Tx) error {
		return tx.InsertFile(ctx, newFile("QmA", "alice", model.VisibilityPublic))
	})
	if !errors.Is(err, ledger.ErrReadOnly) {
		t.Errorf("InsertFile в View: %v, ожидается ErrReadOnly", err)
	}
}

func TestStore_Grants(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	store := NewStore(pool, testLogger())

	err := store.Update(ctx, func(tx ledger.Tx) error {
		for _, cid := range []string{"QmB", "QmA"} {
			if err := tx.InsertFile(ctx, newFile(cid, "alice", model.VisibilityPrivate)); err != nil {
				return err
			}
			g := &model.TimedGrant{CID: cid, Grantee: "bob", ExpiresAt: t0.Add(time.Hour)}
			if err := tx.PutGrant(ctx, g); err != nil {
				return err
			}
		}
		// Повторная выдача перезаписывает срок
		return tx.PutGrant(ctx, &model.TimedGrant{CID: "QmA", Grantee: "bob", ExpiresAt: t0.Add(time.Minute)})
	})
	if err != nil {
		t.Fatalf("PutGrant: %v", err)
	}

	err = store.Update(ctx, func(tx ledger.Tx) error {
		g, err := tx.GetGrant(ctx, "QmA", "bob")
		if err != nil {
			return err
		}
		if !g.ExpiresAt.Equal(t0.Add(time.Minute)) {
			t.Errorf("ExpiresAt = %v, ожидается t0+1m", g.ExpiresAt)
		}

		grants, err := tx.ListGrantsFor(ctx, "bob")
		if err != nil {
			return err
		}
		if len(grants) != 2 || grants[0].CID != "QmA" || grants[1].CID != "QmB" {
			t.Errorf("ListGrantsFor: %d грантов, ожидается [QmA QmB]", len(grants))
		}

		if err := tx.DeleteGrant(ctx, "QmA", "bob"); err != nil {
			return err
		}
		// Удаление отсутствующего гранта не ошибка
		if err := tx.DeleteGrant(ctx, "QmA", "bob"); err != nil {
			return err
		}
		if _, err := tx.GetGrant(ctx, "QmA", "bob"); !errors.Is(err, ledger.ErrNotFound) {
			t.Errorf("GetGrant после удаления: %v, ожидается ErrNotFound", err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
}

func TestStore_Requests(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	store := NewStore(pool, testLogger())

	var first, second *model.AccessRequest
	err := store.Update(ctx, func(tx ledger.Tx) error {
		if err := tx.InsertFile(ctx, newFile("QmA", "alice", model.VisibilityShareOnRequest)); err != nil {
			return err
		}
		first = &model.AccessRequest{CID: "QmA", Owner: "alice", Requester: "bob", RequestedAt: t0}
		if err := tx.InsertRequest(ctx, first); err != nil {
			return err
		}
		second = &model.AccessRequest{CID: "QmA", Owner: "alice", Requester: "carol", RequestedAt: t0}
		return tx.InsertRequest(ctx, second)
	})
	if err != nil {
		t.Fatalf("InsertRequest: %v", err)
	}
	if first.Index != 0 || second.Index != 1 {
		t.Errorf("индексы %d, %d, ожидается 0, 1", first.Index, second.Index)
	}

	err = store.Update(ctx, func(tx ledger.Tx) error {
		return tx.InsertRequest(ctx, &model.AccessRequest{CID: "QmA", Owner: "alice", Requester: "bob", RequestedAt: t0})
	})
	if !errors.Is(err, ledger.ErrConflict) {
		t.Fatalf("повторный запрос: %v, ожидается ErrConflict", err)
	}

	decidedAt := t0.Add(time.Minute)
	err = store.Update(ctx, func(tx ledger.Tx) error {
		r, err := tx.FindPendingRequest(ctx, "QmA", "bob")
		if err != nil {
			return err
		}
		r.Approved = true
		r.DecidedAt = &decidedAt
		return tx.MarkDecided(ctx, r)
	})
	if err != nil {
		t.Fatalf("MarkDecided: %v", err)
	}

	err = store.Update(ctx, func(tx ledger.Tx) error {
		return tx.MarkDecided(ctx, &model.AccessRequest{Index: 0, DecidedAt: &decidedAt})
	})
	if !errors.Is(err, ledger.ErrConflict) {
		t.Errorf("повторное решение: %v, ожидается ErrConflict", err)
	}
	err = store.Update(ctx, func(tx ledger.Tx) error {
		return tx.MarkDecided(ctx, &model.AccessRequest{Index: 42, DecidedAt: &decidedAt})
	})
	if !errors.Is(err, ledger.ErrNotFound) {
		t.Errorf("решение по несуществующему запросу: %v, ожидается ErrNotFound", err)
	}

	err = store.View(ctx, func(tx ledger.Tx) error {
		r, err := tx.GetRequest(ctx, 0)
		if err != nil {
			return err
		}
		if !r.Decided || !r.Approved || r.DecidedAt == nil || !r.DecidedAt.Equal(decidedAt) {
			t.Errorf("запрос 0: Decided=%v Approved=%v DecidedAt=%v", r.Decided, r.Approved, r.DecidedAt)
		}
		if _, err := tx.FindPendingRequest(ctx, "QmA", "bob"); !errors.Is(err, ledger.ErrNotFound) {
			t.Errorf("FindPendingRequest после решения: %v", err)
		}

		alice := model.Identity("alice")
		all, err := tx.ListRequests(ctx, ledger.RequestFilter{Owner: &alice})
		if err != nil {
			return err
		}
		if len(all) != 2 {
			t.Errorf("ListRequests(owner): %d, ожидается 2", len(all))
		}
		approved, err := tx.ListRequests(ctx, ledger.RequestFilter{ApprovedOnly: true})
		if err != nil {
			return err
		}
		if len(approved) != 1 || approved[0].Requester != "bob" {
			t.Errorf("ListRequests(approved): %d, ожидается 1 (bob)", len(approved))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("View: %v", err)
	}

	// После решения пара снова может подать запрос
	err = store.Update(ctx, func(tx ledger.Tx) error {
		return tx.InsertRequest(ctx, &model.AccessRequest{CID: "QmA", Owner: "alice", Requester: "bob", RequestedAt: t0})
	})
	if err != nil {
		t.Errorf("запрос после решения: %v", err)
	}
}

func TestStore_Events(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	store := NewStore(pool, testLogger())

	err := store.Update(ctx, func(tx ledger.Tx) error {
		for _, e := range []*model.Event{
			newEvent(model.EventFileRegistered, "QmA", "alice"),
			newEvent(model.EventAccessGranted, "QmA", "bob"),
			newEvent(model.EventFileRegistered, "QmB", "bob"),
			newEvent(model.EventAccessRevoked, "QmA", "bob"),
		} {
			if err := tx.AppendEvent(ctx, e); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}

	tests := []struct {
		name string
		q    ledger.EventQuery
		want []uint64
	}{
		{"все", ledger.EventQuery{}, []uint64{1, 2, 3, 4}},
		{"по CID", ledger.EventQuery{CID: "QmA"}, []uint64{1, 2, 4}},
		{"по типу", ledger.EventQuery{Kinds: []model.EventKind{model.EventFileRegistered}}, []uint64{1, 3}},
		{"диапазон", ledger.EventQuery{FromSeq: 2, ToSeq: 3}, []uint64{2, 3}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seq := store.Events(ctx, tt.q)
			// Дважды: последовательность перезапускаемая
			for pass := 0; pass < 2; pass++ {
				var got []uint64
				for e, err := range seq {
					if err != nil {
						t.Fatalf("проход %d: %v", pass, err)
					}
					got = append(got, e.Sequence)
				}
				if len(got) != len(tt.want) {
					t.Fatalf("проход %d: %v, ожидается %v", pass, got, tt.want)
				}
				for i := range got {
					if got[i] != tt.want[i] {
						t.Errorf("проход %d, позиция %d: %d, ожидается %d", pass, i, got[i], tt.want[i])
					}
				}
			}
		})
	}

	for e, err := range store.Events(ctx, ledger.EventQuery{}) {
		if err != nil {
			t.Fatalf("Events: %v", err)
		}
		if _, err := uuid.Parse(e.TxID); err != nil {
			t.Errorf("TxID %q не UUID", e.TxID)
		}
		if !e.Timestamp.Equal(t0) {
			t.Errorf("Timestamp = %v", e.Timestamp)
		}
		break
	}
}

// TestReadinessChecker проверяет, что readiness читает хвост журнала событий.
func TestReadinessChecker(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	checker := database.NewReadinessChecker(pool)

	status, msg := checker.CheckReady()
	if status != "ok" || !strings.Contains(msg, "#0") {
		t.Errorf("пустой журнал: %s (%s)", status, msg)
	}

	err := NewStore(pool, testLogger()).Update(ctx, func(tx ledger.Tx) error {
		return tx.AppendEvent(ctx, newEvent(model.EventFileRegistered, "QmR", "alice"))
	})
	if err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}
	status, msg = checker.CheckReady()
	if status != "ok" || !strings.Contains(msg, "#1") {
		t.Errorf("после события: %s (%s)", status, msg)
	}

	pool.Close()
	if status, _ := checker.CheckReady(); status != "fail" {
		t.Errorf("закрытый пул: status = %s, ожидался fail", status)
	}
}

// TestMigrate_DirtySchema проверяет отказ мигрировать схему в состоянии dirty.
func TestMigrate_DirtySchema(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()

	if _, err := pool.Exec(ctx, `UPDATE schema_migrations SET dirty = true`); err != nil {
		t.Fatalf("пометка dirty: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Ошибка загрузки конфигурации: %v", err)
	}
	if err := database.Migrate(cfg, testLogger()); !errors.Is(err, database.ErrDirtySchema) {
		t.Errorf("ошибка = %v, ожидалась ErrDirtySchema", err)
	}
}
