package metadata

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/disgoorg/snowflake/v2"
	"github.com/kvizyx/speakerlog/pkg/logger"
	"github.com/vmihailenco/msgpack/v5"
)

type BadgerStore struct {
	db *badger.DB
}

type BadgerOptions struct {
	// Dir is required unless InMemory is set.
	Dir      string
	InMemory bool
	Logger   logger.Logger
}

func NewBadgerStore(opts BadgerOptions) (*BadgerStore, error) {
	if !opts.InMemory && opts.Dir == "" {
		return nil, errors.New("metadata: badger dir is required for on-disk mode")
	}

	dbOpts := badger.DefaultOptions(opts.Dir)
	if opts.InMemory {
		dbOpts = dbOpts.WithInMemory(true)
	}

	log := opts.Logger
	if log == nil {
		log = logger.NewNop()
	}
	dbOpts = dbOpts.WithLogger(badgerLogger{logger: log})

	db, err := badger.Open(dbOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}

	return &BadgerStore{db: db}, nil
}

func recordKey(fileName string) []byte {
	return []byte("recording:" + fileName)
}

func guildPrefix(guildID snowflake.ID) []byte {
	return []byte(fmt.Sprintf("guild:%d:", guildID))
}

// guildIndexKey sorts lexicographically by start time inside a guild.
func guildIndexKey(r Record) []byte {
	return []byte(fmt.Sprintf("guild:%d:%016x:%s", r.GuildID, r.StartTS, r.FileName))
}

func (s *BadgerStore) Insert(_ context.Context, record Record) error {
	value, err := msgpack.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}

	return s.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(recordKey(record.FileName))
		switch {
		case err == nil:
			return fmt.Errorf("%w: %s", ErrAlreadyExists, record.FileName)
		case !errors.Is(err, badger.ErrKeyNotFound):
			return err
		}

		if err = txn.Set(recordKey(record.FileName), value); err != nil {
			return err
		}

		return txn.Set(guildIndexKey(record), []byte(record.FileName))
	})
}

func (s *BadgerStore) Finalize(_ context.Context, fileName string, end time.Time, leave LeaveState) error {
	return s.db.Update(func(txn *badger.Txn) error {
		record, err := getRecord(txn, fileName)
		if err != nil {
			return err
		}

		if record.Finalized() {
			return fmt.Errorf("%w: %s", ErrAlreadyFinalized, fileName)
		}

		endTS := end.UnixMilli()
		record.EndTS = &endTS
		record.LeaveState = leave

		value, err := msgpack.Marshal(record)
		if err != nil {
			return fmt.Errorf("failed to encode record: %w", err)
		}

		return txn.Set(recordKey(fileName), value)
	})
}

func (s *BadgerStore) Get(_ context.Context, fileName string) (Record, error) {
	var record Record

	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		record, err = getRecord(txn, fileName)
		return err
	})

	return record, err
}

func (s *BadgerStore) ListByGuild(_ context.Context, guildID snowflake.ID, limit int) ([]Record, error) {
	var records []Record

	err := s.db.View(func(txn *badger.Txn) error {
		prefix := guildPrefix(guildID)

		iterOpts := badger.DefaultIteratorOptions
		iterOpts.Prefix = prefix

		it := txn.NewIterator(iterOpts)
		defer it.Close()

		var names []string
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			name, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			names = append(names, string(name))
		}

		slices.Reverse(names)
		if limit > 0 && len(names) > limit {
			names = names[:limit]
		}

		for _, name := range names {
			record, err := getRecord(txn, name)
			if err != nil {
				return err
			}
			records = append(records, record)
		}

		return nil
	})

	return records, err
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}

func getRecord(txn *badger.Txn, fileName string) (Record, error) {
	item, err := txn.Get(recordKey(fileName))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return Record{}, fmt.Errorf("%w: %s", ErrNotFound, fileName)
	}
	if err != nil {
		return Record{}, err
	}

	var record Record
	err = item.Value(func(val []byte) error {
		return msgpack.Unmarshal(val, &record)
	})
	if err != nil {
		return Record{}, fmt.Errorf("failed to decode record %s: %w", fileName, err)
	}

	return record, nil
}

// badgerLogger forwards warnings and errors, badger's info output is noise here.
type badgerLogger struct {
	logger logger.Logger
}

func (l badgerLogger) Errorf(f string, v ...any) {
	l.logger.Error(fmt.Sprintf("badger: "+f, v...))
}

func (l badgerLogger) Warningf(f string, v ...any) {
	l.logger.Warn(fmt.Sprintf("badger: "+f, v...))
}

func (badgerLogger) Infof(string, ...any)  {}
func (badgerLogger) Debugf(string, ...any) {}
