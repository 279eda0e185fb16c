// registry.go — фасад ядра реестра CID.
// Каждая мутирующая операция выполняется одной атомарной транзакцией
// хранилища: изменение состояния и события журнала применяются вместе
// либо не применяются вовсе.
package service

import (
	"context"
	"iter"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Abbas-1010/BlockChain-Based-File-Sharing-and-Fine-grained-access-control/internal/domain/model"
	"github.com/Abbas-1010/BlockChain-Based-File-Sharing-and-Fine-grained-access-control/internal/ledger"
)

// RegisterFileInput — параметры регистрации файла.
type RegisterFileInput struct {
	CID        string
	Visibility model.Visibility
	ShareList  []model.Identity
	// GrantDurationSeconds — если > 0, каждому субъекту из ShareList
	// в той же транзакции выдаётся временный грант этой длительности.
	GrantDurationSeconds int64
}

// RegistryService — транспортно-независимая поверхность операций реестра.
type RegistryService struct {
	store    ledger.Store
	events   *EventLog
	files    *FileRegistry
	grants   *AccessGrantManager
	requests *AccessRequestWorkflow
	oracle   *AuthorizationOracle
	cache    *FileCache
	now      func() time.Time
	logger   *slog.Logger
}

// NewRegistryService собирает ядро поверх хранилища.
// cache может быть nil — тогда GetFile всегда читает хранилище.
func NewRegistryService(store ledger.Store, cache *FileCache, maxGrantDuration time.Duration, logger *slog.Logger) *RegistryService {
	events := NewEventLog(store)
	files := NewFileRegistry(events)
	grants := NewAccessGrantManager(files, events, maxGrantDuration)
	requests := NewAccessRequestWorkflow(files, events)

	return &RegistryService{
		store:    store,
		events:   events,
		files:    files,
		grants:   grants,
		requests: requests,
		oracle:   NewAuthorizationOracle(files, grants, requests),
		cache:    cache,
		now:      time.Now,
		logger:   logger.With(slog.String("component", "registry_service")),
	}
}

// WithClock подменяет источник времени (для тестов).
func (s *RegistryService) WithClock(now func() time.Time) *RegistryService {
	s.now = now
	return s
}

// timestamp — текущее время с точностью, которую сохраняет любое хранилище.
func (s *RegistryService) timestamp() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}

// Now возвращает текущий момент по часам ядра с точностью хранилища.
func (s *RegistryService) Now() time.Time {
	return s.timestamp()
}

// mutate выполняет fn в одной транзакции и учитывает исход в метриках.
func (s *RegistryService) mutate(ctx context.Context, operation string, fn func(tx ledger.Tx, m mutation) error) error {
	m := mutation{txID: uuid.NewString(), now: s.timestamp()}
	err := s.store.Update(ctx, func(tx ledger.Tx) error {
		return fn(tx, m)
	})
	s.observe(operation, err)
	return err
}

func (s *RegistryService) observe(operation string, err error) {
	observeOperation(operation, err)
	if err != nil && ErrorCode(err) == "INTERNAL_ERROR" {
		s.logger.Error("Ошибка операции реестра",
			slog.String("operation", operation),
			slog.String("error", err.Error()),
		)
	}
}

// RegisterFile регистрирует CID от имени caller.
func (s *RegistryService) RegisterFile(ctx context.Context, caller model.Identity, in RegisterFileInput) (*model.FileRecord, error) {
	var record *model.FileRecord
	var granted int
	err := s.mutate(ctx, "register_file", func(tx ledger.Tx, m mutation) error {
		var d time.Duration
		if in.GrantDurationSeconds != 0 {
			var err error
			if d, err = s.grants.duration(in.GrantDurationSeconds); err != nil {
				return err
			}
		}

		f, err := s.files.Register(ctx, tx, m, caller, in.CID, in.Visibility, in.ShareList)
		if err != nil {
			return err
		}
		if d > 0 {
			for _, id := range f.SharedWith {
				if _, err := s.grants.put(ctx, tx, m, f, id, d); err != nil {
					return err
				}
				granted++
			}
		}
		record = f
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Файл зарегистрирован",
		slog.String("cid", record.CID),
		slog.String("owner", record.Owner.String()),
		slog.String("visibility", string(record.Visibility)),
		slog.Int("shared_with", len(record.SharedWith)),
		slog.Int("timed_grants", granted),
	)
	return record, nil
}

// GetFile возвращает запись файла.
func (s *RegistryService) GetFile(ctx context.Context, cid string) (*model.FileRecord, error) {
	var gen uint64
	if s.cache != nil {
		if f, ok := s.cache.Get(cid); ok {
			return f, nil
		}
		gen = s.cache.Generation()
	}

	var record *model.FileRecord
	err := s.store.View(ctx, func(tx ledger.Tx) error {
		f, err := s.files.Get(ctx, tx, cid)
		record = f
		return err
	})
	if err != nil {
		return nil, err
	}
	// Отзыв, закоммиченный во время чтения, делает снимок устаревшим.
	if s.cache != nil {
		s.cache.SetIfGeneration(record, gen)
	}
	return record, nil
}

// GetUserFiles возвращает CID файлов владельца в порядке регистрации.
func (s *RegistryService) GetUserFiles(ctx context.Context, owner model.Identity) ([]string, error) {
	var result []string
	err := s.store.View(ctx, func(tx ledger.Tx) error {
		var err error
		result, err = s.files.UserFiles(ctx, tx, owner)
		return err
	})
	return result, err
}

// GetFilesByVisibility возвращает CID всех файлов с режимом v.
func (s *RegistryService) GetFilesByVisibility(ctx context.Context, v model.Visibility) ([]string, error) {
	var result []string
	err := s.store.View(ctx, func(tx ledger.Tx) error {
		var err error
		result, err = s.files.ByVisibility(ctx, tx, v)
		return err
	})
	return result, err
}

// GetSharedWithMe возвращает CID чужих файлов, явно доступных id сейчас.
func (s *RegistryService) GetSharedWithMe(ctx context.Context, id model.Identity) ([]string, error) {
	now := s.timestamp()
	var result []string
	err := s.store.View(ctx, func(tx ledger.Tx) error {
		var err error
		result, err = s.oracle.SharedWith(ctx, tx, id, now)
		return err
	})
	return result, err
}

// GrantTimedAccess выдаёт grantee доступ к cid на seconds секунд.
func (s *RegistryService) GrantTimedAccess(ctx context.Context, caller model.Identity, cid string, grantee model.Identity, seconds int64) (*model.TimedGrant, error) {
	var grant *model.TimedGrant
	err := s.mutate(ctx, "grant_timed_access", func(tx ledger.Tx, m mutation) error {
		var err error
		grant, err = s.grants.Grant(ctx, tx, m, caller, cid, grantee, seconds)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Временный доступ выдан",
		slog.String("cid", cid),
		slog.String("grantee", grantee.String()),
		slog.Time("expires_at", grant.ExpiresAt),
	)
	return grant, nil
}

// RevokeAccess отзывает у grantee временный и статический доступ к cid.
func (s *RegistryService) RevokeAccess(ctx context.Context, caller model.Identity, cid string, grantee model.Identity) error {
	err := s.mutate(ctx, "revoke_access", func(tx ledger.Tx, m mutation) error {
		return s.grants.Revoke(ctx, tx, m, caller, cid, grantee)
	})
	if err != nil {
		return err
	}
	if s.cache != nil {
		s.cache.Delete(cid)
	}

	s.logger.Info("Доступ отозван",
		slog.String("cid", cid),
		slog.String("grantee", grantee.String()),
	)
	return nil
}

// IsAccessActive сообщает, есть ли у id доступ к cid в момент at.
// Нулевой at означает текущее время.
func (s *RegistryService) IsAccessActive(ctx context.Context, cid string, id model.Identity, at time.Time) (bool, error) {
	if at.IsZero() {
		at = s.timestamp()
	}
	var active bool
	err := s.store.View(ctx, func(tx ledger.Tx) error {
		var err error
		active, err = s.oracle.IsAccessActive(ctx, tx, cid, id, at)
		return err
	})
	return active, err
}

// RequestAccess подаёт запрос доступа от requester к cid.
func (s *RegistryService) RequestAccess(ctx context.Context, requester model.Identity, cid string) (*model.AccessRequest, error) {
	var request *model.AccessRequest
	err := s.mutate(ctx, "request_access", func(tx ledger.Tx, m mutation) error {
		var err error
		request, err = s.requests.Request(ctx, tx, m, requester, cid)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Запрос доступа подан",
		slog.String("cid", cid),
		slog.String("requester", requester.String()),
		slog.Int64("index", request.Index),
	)
	return request, nil
}

// GetAccessRequests возвращает запросы ко всем файлам владельца.
func (s *RegistryService) GetAccessRequests(ctx context.Context, owner model.Identity) ([]*model.AccessRequest, error) {
	var result []*model.AccessRequest
	err := s.store.View(ctx, func(tx ledger.Tx) error {
		var err error
		result, err = s.requests.List(ctx, tx, owner)
		return err
	})
	return result, err
}

// DecideAccessRequest фиксирует решение владельца по запросу index.
func (s *RegistryService) DecideAccessRequest(ctx context.Context, caller model.Identity, index int64, approve bool) (*model.AccessRequest, error) {
	var request *model.AccessRequest
	err := s.mutate(ctx, "decide_access_request", func(tx ledger.Tx, m mutation) error {
		var err error
		request, err = s.requests.Decide(ctx, tx, m, caller, index, approve)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Запрос доступа рассмотрен",
		slog.String("cid", request.CID),
		slog.String("requester", request.Requester.String()),
		slog.Int64("index", index),
		slog.Bool("approved", approve),
	)
	return request, nil
}

// QueryEvents возвращает ленивую выборку журнала аудита.
func (s *RegistryService) QueryEvents(ctx context.Context, q ledger.EventQuery) iter.Seq2[model.Event, error] {
	return s.events.Query(ctx, q)
}
