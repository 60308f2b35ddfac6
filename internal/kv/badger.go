package kv

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/dgraph-io/badger/v4"

	logx "watchbot/pkg/logx"
)

// Badger key layout. User keys are length-prefixed so a key can never be
// mistaken for the prefix of another key.
//
//	'm' | uvarint(len(key)) | key                 -> uint64 next list seq
//	'l' | uvarint(len(key)) | key | uint64 seq    -> list item
//	's' | uvarint(len(key)) | key | member        -> (empty)
const (
	tagListMeta = 'm'
	tagListItem = 'l'
	tagSet      = 's'
)

// conflictRetries bounds optimistic-transaction retries in Update.
const conflictRetries = 5

type badgerStore struct {
	db     *badger.DB
	log    logx.Logger
	opts   options
	closed atomic.Bool

	// writes from this process are serialized; conflicts can still come
	// from read-modify-write races with long-running views.
	wmu sync.Mutex
}

func openBadger(cfg Config, log logx.Logger, o options) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for badger driver")
	}
	var bo badger.Options
	if path == ":memory:" {
		bo = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(path, 0o755); err != nil {
			return nil, fmt.Errorf("create badger directory: %w", err)
		}
		bo = badger.DefaultOptions(path)
	}
	bo = bo.WithLogger(badgerLogger{log: log.With(logx.String("comp", "badger"))})

	db, err := badger.Open(bo)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	log.Debug("badger store opened", logx.String("path", path))
	return &badgerStore{db: db, log: log, opts: o}, nil
}

func (s *badgerStore) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.db.Close()
}

func (s *badgerStore) Update(ctx context.Context, fn func(tx Tx) error) (err error) {
	defer func() { s.opts.report("update", err) }()
	if s.closed.Load() {
		return ErrClosed
	}
	s.wmu.Lock()
	defer s.wmu.Unlock()
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err = s.db.Update(func(txn *badger.Txn) error {
			return fn(badgerTx{txn: txn})
		})
		if !errors.Is(err, badger.ErrConflict) || attempt >= conflictRetries {
			return err
		}
		s.log.Debug("badger update conflict; retrying", logx.Int("attempt", attempt+1))
	}
}

func (s *badgerStore) view(ctx context.Context, fn func(tx badgerTx) error) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.View(func(txn *badger.Txn) error { return fn(badgerTx{txn: txn}) })
}

func (s *badgerStore) ListRange(ctx context.Context, key []byte, start, stop int64) (out [][]byte, err error) {
	defer func() { s.opts.report("list_range", err) }()
	err = s.view(ctx, func(tx badgerTx) error {
		out, err = tx.ListRange(key, start, stop)
		return err
	})
	return out, err
}

func (s *badgerStore) SetMembers(ctx context.Context, key []byte) (out [][]byte, err error) {
	defer func() { s.opts.report("set_members", err) }()
	if len(key) == 0 {
		return nil, ErrEmptyKey
	}
	err = s.view(ctx, func(tx badgerTx) error {
		prefix := encodeKey(tagSet, key)
		it := tx.txn.NewIterator(badger.IteratorOptions{Prefix: prefix})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			k := it.Item().KeyCopy(nil)
			out = append(out, k[len(prefix):])
		}
		return nil
	})
	return out, err
}

func (s *badgerStore) SetIsMember(ctx context.Context, key, member []byte) (ok bool, err error) {
	defer func() { s.opts.report("set_is_member", err) }()
	err = s.view(ctx, func(tx badgerTx) error {
		ok, err = tx.SetIsMember(key, member)
		return err
	})
	return ok, err
}

type badgerTx struct {
	txn *badger.Txn
}

func (t badgerTx) listLen(key []byte) (uint64, error) {
	item, err := t.txn.Get(encodeKey(tagListMeta, key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var n uint64
	err = item.Value(func(v []byte) error {
		if len(v) != 8 {
			return fmt.Errorf("kv: corrupt list header for %q", key)
		}
		n = binary.BigEndian.Uint64(v)
		return nil
	})
	return n, err
}

func (t badgerTx) ListPush(key, value []byte) error {
	if len(key) == 0 {
		return ErrEmptyKey
	}
	n, err := t.listLen(key)
	if err != nil {
		return err
	}
	if err := t.txn.Set(listItemKey(key, n), nonNil(value)); err != nil {
		return err
	}
	return t.txn.Set(encodeKey(tagListMeta, key), binary.BigEndian.AppendUint64(nil, n+1))
}

func (t badgerTx) ListRange(key []byte, start, stop int64) ([][]byte, error) {
	if len(key) == 0 {
		return nil, ErrEmptyKey
	}
	n, err := t.listLen(key)
	if err != nil {
		return nil, err
	}
	lo, hi, ok := rangeBounds(int(n), start, stop)
	if !ok {
		return nil, nil
	}
	out := make([][]byte, 0, hi-lo)
	for i := lo; i < hi; i++ {
		item, err := t.txn.Get(listItemKey(key, uint64(i)))
		if err != nil {
			return nil, fmt.Errorf("kv: list %q item %d: %w", key, i, err)
		}
		v, err := item.ValueCopy(nil)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (t badgerTx) SetAdd(key, member []byte) error {
	if len(key) == 0 {
		return ErrEmptyKey
	}
	return t.txn.Set(append(encodeKey(tagSet, key), member...), []byte{})
}

func (t badgerTx) SetIsMember(key, member []byte) (bool, error) {
	if len(key) == 0 {
		return false, ErrEmptyKey
	}
	_, err := t.txn.Get(append(encodeKey(tagSet, key), member...))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	return err == nil, err
}

func encodeKey(tag byte, key []byte) []byte {
	b := make([]byte, 0, 1+binary.MaxVarintLen64+len(key)+8)
	b = append(b, tag)
	b = binary.AppendUvarint(b, uint64(len(key)))
	return append(b, key...)
}

func listItemKey(key []byte, seq uint64) []byte {
	return binary.BigEndian.AppendUint64(encodeKey(tagListItem, key), seq)
}

// badgerLogger routes badger's internal logging into logx, demoting its
// chatty info output to debug.
type badgerLogger struct{ log logx.Logger }

func (l badgerLogger) Errorf(f string, v ...any) {
	l.log.Error(strings.TrimSpace(fmt.Sprintf(f, v...)))
}
func (l badgerLogger) Warningf(f string, v ...any) {
	l.log.Warn(strings.TrimSpace(fmt.Sprintf(f, v...)))
}
func (l badgerLogger) Infof(f string, v ...any) {
	l.log.Debug(strings.TrimSpace(fmt.Sprintf(f, v...)))
}
func (l badgerLogger) Debugf(f string, v ...any) {
	l.log.Trace(strings.TrimSpace(fmt.Sprintf(f, v...)))
}
