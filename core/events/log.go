package events

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"unicode/utf8"

	"lukechampine.com/blake3"

	"nhbmarket/core/types"
	"nhbmarket/storage"
)

const subscriberBuffer = 64

var (
	recordPrefix = []byte("events/record/")
	headKey      = []byte("events/head")

	// ErrChainBroken is returned by Verify when a stored record does not
	// extend the digest of its predecessor.
	ErrChainBroken = errors.New("events: digest chain broken")

	// ErrInvalidRecord is returned by Seal for events whose text would not
	// survive JSON storage byte for byte.
	ErrInvalidRecord = errors.New("events: record is not valid UTF-8")
)

// Record is a sealed, sequenced entry in the append-only event log. Each
// record's digest commits to the previous digest so observers replaying the
// log can detect gaps or tampering.
type Record struct {
	Sequence   uint64            `json:"sequence"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
	Digest     string            `json:"digest"`
}

// Event returns the record's payload as a plain event.
func (r Record) Event() *types.Event {
	return (&types.Event{Type: r.Type, Attributes: r.Attributes}).Clone()
}

func (r Record) clone() Record {
	out := r
	out.Attributes = make(map[string]string, len(r.Attributes))
	for k, v := range r.Attributes {
		out.Attributes[k] = v
	}
	return out
}

type head struct {
	Sequence uint64 `json:"sequence"`
	Digest   string `json:"digest"`
}

// Write is a key/value pair that must be persisted for a sealed record.
type Write struct {
	Key   []byte
	Value []byte
}

// Log is the persistent, append-only event log. Sealing is split from
// publishing so callers can persist records in the same atomic batch as the
// state transition that produced them.
type Log struct {
	db storage.Database

	mu     sync.Mutex
	head   head
	subs   map[uint64]chan Record
	nextID uint64
}

// OpenLog loads the log head from db. An empty database yields an empty log.
func OpenLog(db storage.Database) (*Log, error) {
	if db == nil {
		return nil, errors.New("events: database required")
	}
	l := &Log{db: db, subs: make(map[uint64]chan Record)}
	raw, err := db.Get(headKey)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return l, nil
	case err != nil:
		return nil, fmt.Errorf("events: load head: %w", err)
	}
	if err := json.Unmarshal(raw, &l.head); err != nil {
		return nil, fmt.Errorf("events: decode head: %w", err)
	}
	return l, nil
}

// Head returns the sequence of the last published record.
func (l *Log) Head() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.head.Sequence
}

// Seal assigns sequences and digests to evts, continuing from the current
// head, and returns the records together with the writes that persist them.
// Seal does not modify the log; the caller must Publish once the writes are
// durable. Callers are expected to serialise Seal/Publish pairs.
func (l *Log) Seal(evts []*types.Event) ([]Record, []Write, error) {
	if len(evts) == 0 {
		return nil, nil, nil
	}
	l.mu.Lock()
	cursor := l.head
	l.mu.Unlock()

	records := make([]Record, 0, len(evts))
	writes := make([]Write, 0, len(evts)+1)
	for _, evt := range evts {
		if evt == nil {
			continue
		}
		if err := checkUTF8(evt); err != nil {
			return nil, nil, err
		}
		rec := Record{
			Sequence:   cursor.Sequence + 1,
			Type:       evt.Type,
			Attributes: evt.Clone().Attributes,
		}
		rec.Digest = chainDigest(cursor.Digest, rec)
		value, err := json.Marshal(rec)
		if err != nil {
			return nil, nil, fmt.Errorf("events: encode record: %w", err)
		}
		writes = append(writes, Write{Key: recordKey(rec.Sequence), Value: value})
		records = append(records, rec)
		cursor = head{Sequence: rec.Sequence, Digest: rec.Digest}
	}
	headValue, err := json.Marshal(cursor)
	if err != nil {
		return nil, nil, fmt.Errorf("events: encode head: %w", err)
	}
	writes = append(writes, Write{Key: append([]byte(nil), headKey...), Value: headValue})
	return records, writes, nil
}

// Publish advances the head past records and fans them out to subscribers.
// Slow subscribers miss live records; they can catch up with Since.
func (l *Log) Publish(records []Record) {
	if len(records) == 0 {
		return
	}
	l.mu.Lock()
	last := records[len(records)-1]
	l.head = head{Sequence: last.Sequence, Digest: last.Digest}
	subscribers := make([]chan Record, 0, len(l.subs))
	for _, ch := range l.subs {
		subscribers = append(subscribers, ch)
	}
	for _, rec := range records {
		for _, ch := range subscribers {
			select {
			case ch <- rec.clone():
			default:
			}
		}
	}
	l.mu.Unlock()
}

// Append seals evts, writes them directly to the database and publishes
// them. It is intended for callers that do not share a batch with state.
func (l *Log) Append(evts ...*types.Event) ([]Record, error) {
	records, writes, err := l.Seal(evts)
	if err != nil || len(records) == 0 {
		return nil, err
	}
	batch := l.db.NewBatch()
	for _, w := range writes {
		batch.Put(w.Key, w.Value)
	}
	if err := batch.Write(); err != nil {
		return nil, fmt.Errorf("events: persist: %w", err)
	}
	l.Publish(records)
	return records, nil
}

// Since returns up to limit records with a sequence greater than cursor.
// A non-positive limit returns every remaining record.
func (l *Log) Since(cursor uint64, limit int) ([]Record, error) {
	upper := l.Head()
	var (
		out     []Record
		loadErr error
	)
	err := l.db.Iterate(recordPrefix, func(_, value []byte) bool {
		var rec Record
		if err := json.Unmarshal(value, &rec); err != nil {
			loadErr = fmt.Errorf("events: decode record: %w", err)
			return false
		}
		if rec.Sequence <= cursor {
			return true
		}
		if rec.Sequence > upper {
			return false
		}
		out = append(out, rec)
		return limit <= 0 || len(out) < limit
	})
	if err != nil {
		return nil, err
	}
	if loadErr != nil {
		return nil, loadErr
	}
	return out, nil
}

// Subscribe registers for records published after cursor. The returned
// backlog holds already-published records newer than cursor; the channel
// carries later ones. The subscription ends when ctx is done or cancel is
// called.
func (l *Log) Subscribe(ctx context.Context, cursor uint64) (<-chan Record, func(), []Record, error) {
	updates := make(chan Record, subscriberBuffer)

	l.mu.Lock()
	id := l.nextID
	l.nextID++
	l.subs[id] = updates
	upper := l.head.Sequence
	l.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			l.mu.Lock()
			if sub, ok := l.subs[id]; ok {
				delete(l.subs, id)
				close(sub)
			}
			l.mu.Unlock()
		})
	}

	backlog, err := l.Since(cursor, 0)
	if err != nil {
		cancel()
		return nil, nil, nil, err
	}
	trimmed := backlog[:0]
	for _, rec := range backlog {
		if rec.Sequence <= upper {
			trimmed = append(trimmed, rec)
		}
	}

	if ctx != nil {
		go func() {
			<-ctx.Done()
			cancel()
		}()
	}
	return updates, cancel, trimmed, nil
}

// Verify re-derives the digest chain over every stored record.
func (l *Log) Verify() error {
	records, err := l.Since(0, 0)
	if err != nil {
		return err
	}
	prev := ""
	for i, rec := range records {
		if rec.Sequence != uint64(i+1) {
			return fmt.Errorf("%w: expected sequence %d, found %d", ErrChainBroken, i+1, rec.Sequence)
		}
		if want := chainDigest(prev, rec); want != rec.Digest {
			return fmt.Errorf("%w: record %d", ErrChainBroken, rec.Sequence)
		}
		prev = rec.Digest
	}
	return nil
}

func checkUTF8(evt *types.Event) error {
	if !utf8.ValidString(evt.Type) {
		return fmt.Errorf("%w: type", ErrInvalidRecord)
	}
	for k, v := range evt.Attributes {
		if !utf8.ValidString(k) || !utf8.ValidString(v) {
			return fmt.Errorf("%w: attribute %q", ErrInvalidRecord, strings.ToValidUTF8(k, "?"))
		}
	}
	return nil
}

func recordKey(seq uint64) []byte {
	return []byte(string(recordPrefix) + fmt.Sprintf("%020d", seq))
}

// ParseCursor accepts an empty string (start of log) or a decimal sequence.
func ParseCursor(raw string) (uint64, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return 0, nil
	}
	return strconv.ParseUint(trimmed, 10, 64)
}

func chainDigest(prev string, rec Record) string {
	h := blake3.New(32, nil)
	prevBytes, _ := hex.DecodeString(prev)
	h.Write(prevBytes)
	var seq [8]byte
	binary.BigEndian.PutUint64(seq[:], rec.Sequence)
	h.Write(seq[:])
	h.Write([]byte(rec.Type))
	keys := make([]string, 0, len(rec.Attributes))
	for k := range rec.Attributes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		h.Write([]byte{0})
		h.Write([]byte(k))
		h.Write([]byte{'='})
		h.Write([]byte(rec.Attributes[k]))
	}
	return hex.EncodeToString(h.Sum(nil))
}
