package badger

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"

	"syncore/internal/infrastructure/storage"
)

const (
	// Key prefix for audit log entries. Format: audit:{timestamp_ns}:{contextID}
	prefixAudit = "audit:"

	defaultAuditBufferSize = 1000
	auditFlushInterval     = time.Second
)

// AuditStore implements storage.AuditStore using BadgerDB. Its one
// producer, the orchestrator's dagPersister, logs a delta_applied or
// checkpoint_applied event per persisted delta; writes are async and
// buffered so observability never adds latency to the admit path.
type AuditStore struct {
	db      *badger.DB
	buffer  chan *storage.AuditEvent
	done    chan struct{}
	wg      sync.WaitGroup
	bufSize int
}

func NewAuditStore(db *badger.DB, bufferSize int) *AuditStore {
	if bufferSize <= 0 {
		bufferSize = defaultAuditBufferSize
	}

	store := &AuditStore{
		db:      db,
		buffer:  make(chan *storage.AuditEvent, bufferSize),
		done:    make(chan struct{}),
		bufSize: bufferSize,
	}

	store.wg.Add(1)
	go store.writer()

	return store
}

func (s *AuditStore) auditKey(event *storage.AuditEvent) []byte {
	ts := event.Timestamp.UnixNano()
	return []byte(fmt.Sprintf("%s%020d:%s", prefixAudit, ts, event.ContextID))
}

func (s *AuditStore) LogAsync(event *storage.AuditEvent) error {
	select {
	case s.buffer <- event:
		return nil
	default:
		return fmt.Errorf("audit buffer full, event dropped")
	}
}

func (s *AuditStore) writer() {
	defer s.wg.Done()

	batch := make([]*storage.AuditEvent, 0, 100)
	ticker := time.NewTicker(auditFlushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}

		wb := s.db.NewWriteBatch()
		for _, event := range batch {
			data, err := json.Marshal(event)
			if err != nil {
				continue
			}
			wb.Set(s.auditKey(event), data)
		}
		wb.Flush()
		batch = batch[:0]
	}

	for {
		select {
		case event := <-s.buffer:
			batch = append(batch, event)
			if len(batch) >= 100 {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-s.done:
			close(s.buffer)
			for event := range s.buffer {
				batch = append(batch, event)
			}
			flush()
			return
		}
	}
}

func (s *AuditStore) Query(filter storage.AuditFilter) ([]*storage.AuditEvent, error) {
	var events []*storage.AuditEvent

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		it := txn.NewIterator(opts)
		defer it.Close()

		count := 0
		for it.Seek([]byte(prefixAudit)); it.Valid(); it.Next() {
			if filter.Limit > 0 && count >= filter.Limit {
				break
			}

			item := it.Item()
			err := item.Value(func(val []byte) error {
				var event storage.AuditEvent
				if err := json.Unmarshal(val, &event); err != nil {
					return nil
				}

				if filter.ContextID != "" && event.ContextID != filter.ContextID {
					return nil
				}
				if filter.Action != "" && event.Action != filter.Action {
					return nil
				}

				events = append(events, &event)
				count++
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})

	return events, WrapError(err)
}

func (s *AuditStore) Close() error {
	close(s.done)
	s.wg.Wait()
	return nil
}

func (s *AuditStore) Count() (int64, error) {
	var count int64

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(prefixAudit)

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			count++
		}
		return nil
	})

	return count, WrapError(err)
}

// Compact removes audit events older than the given time.
func (s *AuditStore) Compact(before time.Time) (int64, error) {
	var deleted int64
	endKey := []byte(fmt.Sprintf("%s%020d", prefixAudit, before.UnixNano()))

	var keysToDelete [][]byte

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek([]byte(prefixAudit)); it.Valid(); it.Next() {
			item := it.Item()
			key := item.Key()

			if bytes.Compare(key, endKey) >= 0 {
				break
			}

			keysToDelete = append(keysToDelete, append([]byte{}, key...))
		}
		return nil
	})

	if err != nil {
		return 0, WrapError(err)
	}

	if len(keysToDelete) > 0 {
		batch := s.db.NewWriteBatch()
		defer batch.Cancel()

		for _, key := range keysToDelete {
			if err := batch.Delete(key); err != nil {
				return 0, WrapError(err)
			}
		}

		if err := batch.Flush(); err != nil {
			return 0, WrapError(err)
		}

		deleted = int64(len(keysToDelete))
	}

	return deleted, nil
}
