// Package checkpoint 用 BadgerDB 持久化阶段产物，使中断或重试后的文档不必重复调用外部服务。
//
// 抽取结果以 (document_id, content_hash) 为键；实体识别结果以分块内容哈希为键，
// 可以在不同文档之间复用。
package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"aec-rag-go/internal/provider"
	"aec-rag-go/pkg/log"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
)

const (
	extractionPrefix = "extract/"
	metadataPrefix   = "meta/"
)

// Store 是基于 BadgerDB 的阶段产物缓存。
type Store struct {
	db  *badger.DB
	ttl time.Duration
}

// badgerLogger 把 badger 的日志接到全局 zap logger 上。
type badgerLogger struct{}

var _ badger.Logger = badgerLogger{}

func (badgerLogger) Errorf(msg string, items ...interface{})   { log.Errorf("[Badger] "+msg, items...) }
func (badgerLogger) Warningf(msg string, items ...interface{}) { log.Warnf("[Badger] "+msg, items...) }
func (badgerLogger) Infof(msg string, items ...interface{})    { log.Debugf("[Badger] "+msg, items...) }
func (badgerLogger) Debugf(msg string, items ...interface{})   { log.Debugf("[Badger] "+msg, items...) }

// Open 打开（必要时创建）path 下的数据库。inMemory 为 true 时忽略 path。
// ttl 为 0 表示条目不过期。
func Open(path string, inMemory bool, ttl time.Duration) (*Store, error) {
	var opts badger.Options
	if inMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(path, 0o755); err != nil {
			return nil, fmt.Errorf("create checkpoint dir: %w", err)
		}
		opts = badger.DefaultOptions(path)
	}
	opts.Logger = badgerLogger{}
	opts.Compression = options.None

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open checkpoint store: %w", err)
	}
	return &Store{db: db, ttl: ttl}, nil
}

// Close 关闭数据库。
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveExtraction 保存文档某个内容版本的抽取结果。
func (s *Store) SaveExtraction(documentID, contentHash string, ex provider.Extraction) error {
	return s.put(extractionKey(documentID, contentHash), ex)
}

// LoadExtraction 读取抽取结果，不存在时返回 ok=false。
func (s *Store) LoadExtraction(documentID, contentHash string) (provider.Extraction, bool, error) {
	var ex provider.Extraction
	ok, err := s.get(extractionKey(documentID, contentHash), &ex)
	return ex, ok, err
}

// SaveMetadata 保存某段分块内容的实体识别结果。
func (s *Store) SaveMetadata(chunkHash string, meta map[string][]string) error {
	if meta == nil {
		meta = map[string][]string{}
	}
	return s.put(metadataPrefix+chunkHash, meta)
}

// LoadMetadata 读取实体识别结果。
func (s *Store) LoadMetadata(chunkHash string) (map[string][]string, bool, error) {
	var meta map[string][]string
	ok, err := s.get(metadataPrefix+chunkHash, &meta)
	return meta, ok, err
}

// ForgetDocument 删除文档所有版本的抽取结果。
func (s *Store) ForgetDocument(documentID string) error {
	prefix := []byte(extractionPrefix + documentID + "/")
	return s.db.Update(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		var keys [][]byte
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		it.Close()
		for _, k := range keys {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) put(key string, v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode checkpoint %s: %w", key, err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry([]byte(key), raw)
		if s.ttl > 0 {
			e = e.WithTTL(s.ttl)
		}
		return txn.SetEntry(e)
	})
}

func (s *Store) get(key string, v interface{}) (bool, error) {
	var found bool
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, v)
		})
	})
	return found, err
}

func extractionKey(documentID, contentHash string) string {
	return extractionPrefix + documentID + "/" + contentHash
}
