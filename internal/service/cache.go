// cache.go — LRU-кэш записей файлов с TTL.
// Обёртка над hashicorp/golang-lru/v2/expirable.
package service

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Abbas-1010/BlockChain-Based-File-Sharing-and-Fine-grained-access-control/internal/domain/model"
)

// Prometheus-метрики кэша.
var (
	cacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cr_file_cache_hits_total",
		Help: "Общее количество попаданий в кэш записей файлов.",
	})
	cacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cr_file_cache_misses_total",
		Help: "Общее количество промахов кэша записей файлов.",
	})
)

// FileCache — кэш записей файлов для пути чтения GetFile.
// Хранит копии; наружу также отдаются копии.
//
// Каждая инвалидация увеличивает поколение кэша. Читатель запоминает
// поколение до чтения хранилища и кладёт запись через SetIfGeneration:
// если за время чтения была инвалидация, запись отбрасывается.
type FileCache struct {
	mu         sync.Mutex
	generation uint64
	cache      *expirable.LRU[string, *model.FileRecord]
}

// NewFileCache создаёт кэш на maxSize записей с временем жизни ttl.
func NewFileCache(maxSize int, ttl time.Duration) *FileCache {
	return &FileCache{cache: expirable.NewLRU[string, *model.FileRecord](maxSize, nil, ttl)}
}

// Get возвращает запись по CID. Обновляет метрики hit/miss.
func (c *FileCache) Get(cid string) (*model.FileRecord, bool) {
	val, ok := c.cache.Get(cid)
	if ok {
		cacheHitsTotal.Inc()
		return val.Clone(), true
	}
	cacheMissesTotal.Inc()
	return nil, false
}

// Set добавляет или обновляет запись без проверки поколения.
func (c *FileCache) Set(f *model.FileRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache.Add(f.CID, f.Clone())
}

// Generation возвращает текущее поколение кэша.
func (c *FileCache) Generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation
}

// SetIfGeneration добавляет запись, только если с момента gen
// не было инвалидаций. Возвращает true, если запись добавлена.
func (c *FileCache) SetIfGeneration(f *model.FileRecord, gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generation != gen {
		return false
	}
	c.cache.Add(f.CID, f.Clone())
	return true
}

// Delete инвалидирует запись (после изменения списка доступа)
// и начинает новое поколение.
func (c *FileCache) Delete(cid string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	c.cache.Remove(cid)
}

// Len возвращает количество записей в кэше.
func (c *FileCache) Len() int {
	return c.cache.Len()
}
