package storage

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/natfailover/pkg/events"
)

var (
	// Bucket names
	bucketEvents = []byte("events")
)

// JournalFile is the database file name inside the data directory
const JournalFile = "journal.db"

var (
	// ErrJournalMissing is returned when a read-only journal does not exist yet
	ErrJournalMissing = errors.New("journal does not exist")

	// ErrJournalLocked is returned when another process, normally the
	// running controller, holds the journal open for writing
	ErrJournalLocked = errors.New("journal is locked by another process")
)

// BoltJournal implements Journal using BoltDB. Keys are the bucket sequence
// encoded big-endian, so a cursor walks events in insertion order.
type BoltJournal struct {
	db        *bolt.DB
	retention int
	readOnly  bool

	mu    sync.Mutex
	count int
}

// BoltOptions configures how the journal is opened
type BoltOptions struct {
	// Retention bounds the number of stored events, 0 for unbounded
	Retention int

	// ReadOnly opens the journal for reading only. A writer holds an
	// exclusive file lock until it closes the journal, so a running
	// controller keeps readers out for its whole lifetime. Opening then
	// fails with ErrJournalLocked once Timeout has passed.
	ReadOnly bool
	Timeout  time.Duration
}

// NewBoltJournal opens or creates the journal under dataDir
func NewBoltJournal(dataDir string, opts BoltOptions) (*BoltJournal, error) {
	dbPath := filepath.Join(dataDir, JournalFile)

	if opts.ReadOnly {
		if _, err := os.Stat(dbPath); errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrJournalMissing, dbPath)
		}
	} else if err := os.MkdirAll(dataDir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	timeout := opts.Timeout
	if timeout == 0 {
		timeout = time.Second
	}
	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: timeout, ReadOnly: opts.ReadOnly})
	if errors.Is(err, bolt.ErrTimeout) {
		return nil, fmt.Errorf("%w: %s: %w", ErrJournalLocked, dbPath, err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	j := &BoltJournal{db: db, retention: opts.Retention, readOnly: opts.ReadOnly}

	if !opts.ReadOnly {
		err = db.Update(func(tx *bolt.Tx) error {
			if _, err := tx.CreateBucketIfNotExists(bucketEvents); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucketEvents, err)
			}
			return nil
		})
		if err != nil {
			db.Close()
			return nil, err
		}
	}

	count, err := j.Count()
	if err != nil {
		db.Close()
		return nil, err
	}
	j.count = count

	return j, nil
}

// Close closes the database
func (j *BoltJournal) Close() error {
	return j.db.Close()
}

func (j *BoltJournal) Append(event *events.Event) error {
	if j.readOnly {
		return errors.New("journal is read-only")
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	evicted := 0
	err := j.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEvents)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		data, err := json.Marshal(event)
		if err != nil {
			return err
		}
		if err := b.Put(sequenceKey(seq), data); err != nil {
			return err
		}

		if j.retention <= 0 {
			return nil
		}
		excess := j.count + 1 - j.retention
		var stale [][]byte
		c := b.Cursor()
		for k, _ := c.First(); k != nil && len(stale) < excess; k, _ = c.Next() {
			stale = append(stale, append([]byte(nil), k...))
		}
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
			evicted++
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}

	j.count += 1 - evicted
	return nil
}

func (j *BoltJournal) List(opts ListOptions) ([]*events.Event, error) {
	var out []*events.Event
	err := j.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEvents)
		if b == nil {
			return nil
		}

		// Walk newest first so Limit can stop early
		c := b.Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			var event events.Event
			if err := json.Unmarshal(v, &event); err != nil {
				return fmt.Errorf("corrupt event %d: %w", binary.BigEndian.Uint64(k), err)
			}
			if !opts.match(&event) {
				continue
			}
			out = append(out, &event)
			if opts.Limit > 0 && len(out) >= opts.Limit {
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for i, k := 0, len(out)-1; i < k; i, k = i+1, k-1 {
		out[i], out[k] = out[k], out[i]
	}
	return out, nil
}

func (j *BoltJournal) Count() (int, error) {
	n := 0
	err := j.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEvents)
		if b == nil {
			return nil
		}
		n = b.Stats().KeyN
		return nil
	})
	return n, err
}

// Consume appends every event received on sub until ctx is done or sub is
// closed. Append failures are logged and never stop consumption.
func (j *BoltJournal) Consume(ctx context.Context, sub events.Subscriber, logger zerolog.Logger) {
	for {
		select {
		case event, ok := <-sub:
			if !ok {
				return
			}
			if err := j.Append(event); err != nil {
				logger.Error().Err(err).Str("event", string(event.Type)).Msg("Failed to journal event")
			}
		case <-ctx.Done():
			return
		}
	}
}

func sequenceKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}
