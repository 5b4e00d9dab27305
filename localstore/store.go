// Package localstore implements fw24.Persistence on an embedded BadgerDB
// database. Records are stored as BSON documents keyed by entity and primary
// key, which makes it suitable for development, the CLI and tests without a
// DynamoDB endpoint.
package localstore

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/johnny-rice/fw24"
	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"
)

// Options configures the store.
type Options struct {
	// Path to the database directory. If empty, uses in-memory mode.
	Path string
	// InMemory forces in-memory mode even if Path is set.
	InMemory bool
	// Logger receives BadgerDB logs at debug and above. If nil, logging is disabled.
	Logger *zap.Logger
	// KeyDelimiter joins key attribute values. Default is '#'.
	KeyDelimiter string
}

// Store is a fw24.Persistence backed by BadgerDB.
type Store struct {
	db        *badger.DB
	delimiter string
	logger    *zap.Logger
}

var _ fw24.Persistence = (*Store)(nil)

// Open opens or creates the database.
func Open(opts Options) (*Store, error) {
	badgerOpts := badger.DefaultOptions(opts.Path)
	if opts.Path == "" || opts.InMemory {
		badgerOpts = badgerOpts.WithInMemory(true)
	}

	logger := opts.Logger
	if logger != nil {
		badgerOpts = badgerOpts.WithLogger(badgerLogger{logger.Sugar()})
	} else {
		logger = zap.NewNop()
		badgerOpts = badgerOpts.WithLogger(nil)
	}

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("open badger db: %w", err)
	}

	delimiter := opts.KeyDelimiter
	if delimiter == "" {
		delimiter = "#"
	}
	return &Store{db: db, delimiter: delimiter, logger: logger}, nil
}

// Close closes the BadgerDB database.
func (s *Store) Close() error {
	return s.db.Close()
}

// badgerLogger adapts zap to badger.Logger.
type badgerLogger struct {
	*zap.SugaredLogger
}

func (l badgerLogger) Warningf(format string, args ...any) {
	l.Warnf(format, args...)
}

func entityPrefix(entity string) []byte {
	return []byte(entity + "\x00")
}

func (s *Store) key(schema *fw24.Schema, ids fw24.Identifiers) ([]byte, error) {
	primary, _ := schema.AccessPattern(fw24.PrimaryAccessPattern)
	k, err := fw24.ComposeKey(primary, ids, schema.Entity, s.delimiter)
	if err != nil {
		return nil, err
	}
	if len(primary.SortKey()) > 0 && !k.SortComplete {
		return nil, fmt.Errorf("%w: entity %s requires every primary sort key attribute", fw24.ErrInvalidArgument, schema.Entity)
	}
	return append(entityPrefix(schema.Entity), []byte(k.Partition+"\x00"+k.Sort)...), nil
}

func (s *Store) load(txn *badger.Txn, key []byte) (fw24.Record, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var rec fw24.Record
	err = item.Value(func(val []byte) error {
		rec, err = decode(val)
		return err
	})
	return rec, err
}

func (s *Store) save(txn *badger.Txn, key []byte, rec fw24.Record) error {
	val, err := bson.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	return txn.Set(key, val)
}

// GetEntity implements fw24.Persistence.
func (s *Store) GetEntity(ctx context.Context, in fw24.GetEntityInput) ([]fw24.Record, error) {
	var records []fw24.Record
	err := s.db.View(func(txn *badger.Txn) error {
		seen := make(map[string]bool)
		for _, ids := range in.Identifiers {
			key, err := s.key(in.Schema, ids)
			if err != nil {
				return err
			}
			if seen[string(key)] {
				continue
			}
			seen[string(key)] = true

			rec, err := s.load(txn, key)
			if err != nil {
				return err
			}
			if rec != nil {
				records = append(records, project(rec, in.Attributes))
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", in.Schema.Entity, err)
	}
	return records, nil
}

// CreateEntity implements fw24.Persistence.
func (s *Store) CreateEntity(ctx context.Context, in fw24.CreateEntityInput) (fw24.Record, error) {
	if err := in.Schema.ValidationRules().Validate(fw24.OperationCreate, in.Data); err != nil {
		return nil, err
	}
	key, err := s.key(in.Schema, in.Data)
	if err != nil {
		return nil, err
	}

	var created fw24.Record
	err = s.db.Update(func(txn *badger.Txn) error {
		existing, err := s.load(txn, key)
		if err != nil {
			return err
		}
		if existing != nil {
			return fmt.Errorf("%s: %w", in.Schema.Entity, fw24.ErrItemExists)
		}
		if err := s.save(txn, key, in.Data); err != nil {
			return err
		}
		if err := s.reindex(txn, in.Schema, key, nil, in.Data); err != nil {
			return err
		}
		created, err = s.load(txn, key)
		return err
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// UpdateEntity implements fw24.Persistence.
func (s *Store) UpdateEntity(ctx context.Context, in fw24.UpdateEntityInput) (fw24.Record, error) {
	if err := in.Schema.ValidationRules().Validate(fw24.OperationUpdate, in.Data); err != nil {
		return nil, err
	}
	key, err := s.key(in.Schema, in.Identifiers)
	if err != nil {
		return nil, err
	}

	var updated fw24.Record
	err = s.db.Update(func(txn *badger.Txn) error {
		rec, err := s.load(txn, key)
		if err != nil {
			return err
		}
		if rec == nil {
			return fmt.Errorf("%s: %w", in.Schema.Entity, fw24.ErrItemNotFound)
		}
		old := rec
		rec = make(fw24.Record, len(old)+len(in.Data))
		for k, v := range old {
			rec[k] = v
		}
		for k, v := range in.Data {
			rec[k] = v
		}
		if err := s.save(txn, key, rec); err != nil {
			return err
		}
		if err := s.reindex(txn, in.Schema, key, old, rec); err != nil {
			return err
		}
		updated, err = s.load(txn, key)
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// DeleteEntity implements fw24.Persistence.
func (s *Store) DeleteEntity(ctx context.Context, in fw24.DeleteEntityInput) ([]fw24.Record, error) {
	var deleted []fw24.Record
	err := s.db.Update(func(txn *badger.Txn) error {
		for _, ids := range in.Identifiers {
			key, err := s.key(in.Schema, ids)
			if err != nil {
				return err
			}
			rec, err := s.load(txn, key)
			if err != nil {
				return err
			}
			if rec == nil {
				continue
			}
			if err := txn.Delete(key); err != nil {
				return err
			}
			if err := s.reindex(txn, in.Schema, key, rec, nil); err != nil {
				return err
			}
			deleted = append(deleted, rec)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("delete %s: %w", in.Schema.Entity, err)
	}
	return deleted, nil
}

type entry struct {
	key []byte
	rec fw24.Record
}

// scan reads every record of the entity in primary key order.
func (s *Store) scan(entity string) ([]entry, error) {
	var entries []entry
	prefix := entityPrefix(entity)
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			var rec fw24.Record
			err := item.Value(func(val []byte) error {
				var err error
				rec, err = decode(val)
				return err
			})
			if err != nil {
				return err
			}
			entries = append(entries, entry{key: item.KeyCopy(nil), rec: rec})
		}
		return nil
	})
	return entries, err
}

// ListEntity implements fw24.Persistence. Filters are applied before the
// limit, so a page holds up to Limit matching records.
func (s *Store) ListEntity(ctx context.Context, in fw24.ListEntityInput) (*fw24.ListEntityOutput, error) {
	entries, err := s.scan(in.Schema.Entity)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", in.Schema.Entity, err)
	}
	return s.page(entries, in)
}

// QueryEntity implements fw24.Persistence. Matches are read from the
// pattern's index entries, so they come back ordered by sort key.
func (s *Store) QueryEntity(ctx context.Context, in fw24.ListEntityInput) (*fw24.ListEntityOutput, error) {
	name := in.AccessPattern
	if name == "" {
		name = fw24.PrimaryAccessPattern
	}
	pattern, ok := in.Schema.AccessPattern(name)
	if !ok {
		return nil, fmt.Errorf("%w: entity %s has no access pattern %q", fw24.ErrInvalidArgument, in.Schema.Entity, name)
	}
	target, err := fw24.ComposeKey(pattern, in.Identifiers, in.Schema.Entity, s.delimiter)
	if err != nil {
		return nil, err
	}

	prefix := indexPrefix(in.Schema.Entity, pattern.Name, target.Partition)
	switch {
	case len(pattern.SortKey()) == 0:
	case target.SortComplete:
		prefix = append(prefix, target.Sort+"\x00"...)
	default:
		prefix = append(prefix, target.Sort+s.delimiter...)
	}

	var matches []entry
	err = s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			rec, err := s.load(txn, key)
			if err != nil {
				return err
			}
			if rec == nil {
				s.logger.Warn("dangling index entry", zap.String("entity", in.Schema.Entity), zap.String("pattern", pattern.Name))
				continue
			}
			matches = append(matches, entry{key: key, rec: rec})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", in.Schema.Entity, err)
	}
	return s.page(matches, in)
}

// indexPrefix addresses the index entries of one pattern partition. Index
// entries start with a zero byte so they never fall under an entity prefix.
func indexPrefix(entity, pattern, partition string) []byte {
	return []byte("\x00idx\x00" + entity + "\x00" + pattern + "\x00" + partition + "\x00")
}

// indexKeys lists the index entries of rec, one per access pattern whose
// partition key rec carries. Each entry ends with the record key so
// entries sharing a sort key stay distinct.
func (s *Store) indexKeys(schema *fw24.Schema, key []byte, rec fw24.Record) [][]byte {
	if rec == nil {
		return nil
	}
	var keys [][]byte
	for _, name := range schema.AccessPatternNames() {
		p, _ := schema.AccessPattern(name)
		k, err := fw24.ComposeKey(p, rec, schema.Entity, s.delimiter)
		if err != nil {
			continue
		}
		ik := indexPrefix(schema.Entity, p.Name, k.Partition)
		ik = append(ik, k.Sort+"\x00"...)
		keys = append(keys, append(ik, key...))
	}
	return keys
}

// reindex replaces the index entries of old with those of rec.
func (s *Store) reindex(txn *badger.Txn, schema *fw24.Schema, key []byte, old, rec fw24.Record) error {
	next := make(map[string]bool)
	for _, ik := range s.indexKeys(schema, key, rec) {
		next[string(ik)] = true
	}
	for _, ik := range s.indexKeys(schema, key, old) {
		if next[string(ik)] {
			continue
		}
		if err := txn.Delete(ik); err != nil {
			return err
		}
	}
	for ik := range next {
		if err := txn.Set([]byte(ik), key); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) page(entries []entry, in fw24.ListEntityInput) (*fw24.ListEntityOutput, error) {
	if in.SortDescending {
		for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
			entries[i], entries[j] = entries[j], entries[i]
		}
	}

	start := 0
	if in.Cursor != "" {
		after, err := base64.URLEncoding.DecodeString(in.Cursor)
		if err != nil {
			return nil, fmt.Errorf("%w: malformed cursor", fw24.ErrInvalidArgument)
		}
		start = len(entries)
		for i, e := range entries {
			if bytes.Equal(e.key, after) {
				start = i + 1
				break
			}
		}
	}

	out := &fw24.ListEntityOutput{Records: []fw24.Record{}}
	for i := start; i < len(entries); i++ {
		e := entries[i]
		if !in.Filters.Match(e.rec) {
			continue
		}
		out.Records = append(out.Records, project(e.rec, in.Attributes))
		if in.Limit > 0 && len(out.Records) == in.Limit {
			if i < len(entries)-1 {
				out.Cursor = base64.URLEncoding.EncodeToString(e.key)
			}
			break
		}
	}
	return out, nil
}

func project(rec fw24.Record, names []string) fw24.Record {
	if len(names) == 0 {
		return rec
	}
	out := make(fw24.Record, len(names))
	for _, name := range names {
		if v, ok := rec[name]; ok {
			out[name] = v
		}
	}
	return out
}

func decode(val []byte) (fw24.Record, error) {
	var doc bson.M
	if err := bson.Unmarshal(val, &doc); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	return normalize(doc).(map[string]any), nil
}

// normalize converts decoded BSON into plain Go values. Integers become
// float64 so records read back the same as from DynamoDB.
func normalize(v any) any {
	switch x := v.(type) {
	case bson.M:
		return normalize(map[string]any(x))
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, elem := range x {
			out[k] = normalize(elem)
		}
		return out
	case bson.D:
		out := make(map[string]any, len(x))
		for _, e := range x {
			out[e.Key] = normalize(e.Value)
		}
		return out
	case bson.A:
		return normalize([]any(x))
	case []any:
		out := make([]any, len(x))
		for i, elem := range x {
			out[i] = normalize(elem)
		}
		return out
	case int32:
		return float64(x)
	case int64:
		return float64(x)
	}
	return v
}
