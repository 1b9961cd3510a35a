package storage

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"
	"lukechampine.com/blake3"
	_ "modernc.org/sqlite"
)

// Journal persists committed ledger events to SQLite. Each record carries a
// blake3 hash over its canonical encoding plus the previous record's hash, so
// an operator can prove the history was never rewritten or truncated in the
// middle.
type Journal struct {
	db *sql.DB

	mu       sync.Mutex
	sequence uint64
	tip      [32]byte
}

// JournalEntry is one recorded event with its chain hashes, hex encoded.
type JournalEntry struct {
	Sequence   uint64            `json:"sequence"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
	CreatedAt  int64             `json:"createdAt"`
	PrevHash   string            `json:"prevHash"`
	Hash       string            `json:"hash"`
}

// NewJournal opens (creating if needed) the journal database at path and
// loads the chain tip.
func NewJournal(path string) (*Journal, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("journal: open: %w", err)
	}
	j := &Journal{db: db}
	if err := j.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return j, nil
}

func (j *Journal) init() error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS events (
            sequence INTEGER PRIMARY KEY,
            type TEXT NOT NULL,
            attributes TEXT NOT NULL,
            created_at INTEGER NOT NULL,
            prev_hash TEXT NOT NULL,
            hash TEXT NOT NULL
        );`,
		`CREATE INDEX IF NOT EXISTS events_by_type ON events(type, sequence);`,
	}
	for _, stmt := range schema {
		if _, err := j.db.Exec(stmt); err != nil {
			return fmt.Errorf("journal: init schema: %w", err)
		}
	}
	row := j.db.QueryRow(`SELECT sequence, hash FROM events ORDER BY sequence DESC LIMIT 1`)
	var sequence uint64
	var tipHex string
	err := row.Scan(&sequence, &tipHex)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("journal: load tip: %w", err)
	}
	tip, err := decodeHash(tipHex)
	if err != nil {
		return fmt.Errorf("journal: load tip: %w", err)
	}
	j.sequence = sequence
	j.tip = tip
	return nil
}

// Close releases the database handle.
func (j *Journal) Close() error {
	return j.db.Close()
}

// Append records an event at the next sequence and extends the hash chain.
func (j *Journal) Append(ctx context.Context, eventType string, attributes map[string]string, createdAt int64) (JournalEntry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	sequence := j.sequence + 1
	hash, err := entryHash(sequence, eventType, attributes, createdAt, j.tip)
	if err != nil {
		return JournalEntry{}, err
	}
	payload, err := json.Marshal(attributes)
	if err != nil {
		return JournalEntry{}, fmt.Errorf("journal: encode attributes: %w", err)
	}
	entry := JournalEntry{
		Sequence:   sequence,
		Type:       eventType,
		Attributes: attributes,
		CreatedAt:  createdAt,
		PrevHash:   hex.EncodeToString(j.tip[:]),
		Hash:       hex.EncodeToString(hash[:]),
	}
	const stmt = `INSERT INTO events(sequence, type, attributes, created_at, prev_hash, hash) VALUES (?, ?, ?, ?, ?, ?)`
	if _, err := j.db.ExecContext(ctx, stmt, entry.Sequence, entry.Type, string(payload), entry.CreatedAt, entry.PrevHash, entry.Hash); err != nil {
		return JournalEntry{}, fmt.Errorf("journal: insert event: %w", err)
	}
	j.sequence = sequence
	j.tip = hash
	return entry, nil
}

// LastSequence reports the sequence of the newest record.
func (j *Journal) LastSequence() uint64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.sequence
}

// Entries returns up to limit records with sequence greater than
// afterSequence, oldest first.
func (j *Journal) Entries(ctx context.Context, afterSequence uint64, limit int) ([]JournalEntry, error) {
	const query = `SELECT sequence, type, attributes, created_at, prev_hash, hash FROM events WHERE sequence > ? ORDER BY sequence ASC LIMIT ?`
	rows, err := j.db.QueryContext(ctx, query, afterSequence, normalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("journal: query events: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// EntriesByType is Entries restricted to one event type.
func (j *Journal) EntriesByType(ctx context.Context, eventType string, afterSequence uint64, limit int) ([]JournalEntry, error) {
	const query = `SELECT sequence, type, attributes, created_at, prev_hash, hash FROM events WHERE type = ? AND sequence > ? ORDER BY sequence ASC LIMIT ?`
	rows, err := j.db.QueryContext(ctx, query, eventType, afterSequence, normalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("journal: query events: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// CountByType reports how many records exist per event type.
func (j *Journal) CountByType(ctx context.Context) (map[string]uint64, error) {
	const query = `SELECT type, COUNT(*) FROM events GROUP BY type`
	rows, err := j.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("journal: count events: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]uint64)
	for rows.Next() {
		var eventType string
		var count uint64
		if err := rows.Scan(&eventType, &count); err != nil {
			return nil, fmt.Errorf("journal: scan count: %w", err)
		}
		counts[eventType] = count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return counts, nil
}

// Verify walks the whole chain from the first record, recomputing every hash.
// It returns the number of verified records; any gap, edited payload, or
// relinked hash fails with the offending sequence.
func (j *Journal) Verify(ctx context.Context) (uint64, error) {
	const query = `SELECT sequence, type, attributes, created_at, prev_hash, hash FROM events ORDER BY sequence ASC`
	rows, err := j.db.QueryContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("journal: query events: %w", err)
	}
	defer rows.Close()

	var prev [32]byte
	var verified uint64
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return verified, err
		}
		if entry.Sequence != verified+1 {
			return verified, fmt.Errorf("journal: sequence gap before %d", entry.Sequence)
		}
		storedPrev, err := decodeHash(entry.PrevHash)
		if err != nil {
			return verified, fmt.Errorf("journal: record %d: %w", entry.Sequence, err)
		}
		if storedPrev != prev {
			return verified, fmt.Errorf("journal: chain broken at sequence %d", entry.Sequence)
		}
		stored, err := decodeHash(entry.Hash)
		if err != nil {
			return verified, fmt.Errorf("journal: record %d: %w", entry.Sequence, err)
		}
		recomputed, err := entryHash(entry.Sequence, entry.Type, entry.Attributes, entry.CreatedAt, prev)
		if err != nil {
			return verified, err
		}
		if stored != recomputed {
			return verified, fmt.Errorf("journal: hash mismatch at sequence %d", entry.Sequence)
		}
		prev = stored
		verified++
	}
	if err := rows.Err(); err != nil {
		return verified, err
	}
	return verified, nil
}

type journalParquetRow struct {
	Sequence   int64  `parquet:"name=sequence, type=INT64"`
	Type       string `parquet:"name=type, type=BYTE_ARRAY, convertedtype=UTF8"`
	Attributes string `parquet:"name=attributes, type=BYTE_ARRAY, convertedtype=UTF8"`
	CreatedAt  int64  `parquet:"name=created_at, type=INT64"`
	PrevHash   string `parquet:"name=prev_hash, type=BYTE_ARRAY, convertedtype=UTF8"`
	Hash       string `parquet:"name=hash, type=BYTE_ARRAY, convertedtype=UTF8"`
}

// ExportParquet writes the full journal to a parquet file for offline
// analysis.
func (j *Journal) ExportParquet(ctx context.Context, path string) error {
	const query = `SELECT sequence, type, attributes, created_at, prev_hash, hash FROM events ORDER BY sequence ASC`
	rows, err := j.db.QueryContext(ctx, query)
	if err != nil {
		return fmt.Errorf("journal: query events: %w", err)
	}
	defer rows.Close()

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("journal: create parquet: %w", err)
	}
	fw := writerfile.NewWriterFile(file)
	pw, err := writer.NewParquetWriter(fw, new(journalParquetRow), 1)
	if err != nil {
		file.Close()
		return fmt.Errorf("journal: parquet schema: %w", err)
	}
	pw.RowGroupSize = 128 * 1024 * 1024
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			pw.WriteStop()
			file.Close()
			return err
		}
		payload, err := json.Marshal(entry.Attributes)
		if err != nil {
			pw.WriteStop()
			file.Close()
			return fmt.Errorf("journal: encode attributes: %w", err)
		}
		row := &journalParquetRow{
			Sequence:   int64(entry.Sequence),
			Type:       entry.Type,
			Attributes: string(payload),
			CreatedAt:  entry.CreatedAt,
			PrevHash:   entry.PrevHash,
			Hash:       entry.Hash,
		}
		if err := pw.Write(row); err != nil {
			pw.WriteStop()
			file.Close()
			return fmt.Errorf("journal: parquet write: %w", err)
		}
	}
	if err := rows.Err(); err != nil {
		pw.WriteStop()
		file.Close()
		return err
	}
	if err := pw.WriteStop(); err != nil {
		file.Close()
		return fmt.Errorf("journal: parquet flush: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("journal: close parquet file: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEntry(row rowScanner) (JournalEntry, error) {
	var entry JournalEntry
	var payload string
	if err := row.Scan(&entry.Sequence, &entry.Type, &payload, &entry.CreatedAt, &entry.PrevHash, &entry.Hash); err != nil {
		return JournalEntry{}, fmt.Errorf("journal: scan event: %w", err)
	}
	if payload != "" && payload != "null" {
		if err := json.Unmarshal([]byte(payload), &entry.Attributes); err != nil {
			return JournalEntry{}, fmt.Errorf("journal: decode attributes: %w", err)
		}
	}
	return entry, nil
}

func scanEntries(rows *sql.Rows) ([]JournalEntry, error) {
	var entries []JournalEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return 100
	}
	return limit
}

func entryHash(sequence uint64, eventType string, attributes map[string]string, createdAt int64, prev [32]byte) ([32]byte, error) {
	var zero [32]byte
	buf := bytes.NewBuffer(nil)
	buf.Write(prev[:])
	if err := binary.Write(buf, binary.BigEndian, sequence); err != nil {
		return zero, err
	}
	if err := binary.Write(buf, binary.BigEndian, createdAt); err != nil {
		return zero, err
	}
	if err := writeDelimited(buf, []byte(eventType)); err != nil {
		return zero, err
	}
	keys := make([]string, 0, len(attributes))
	for key := range attributes {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	if err := binary.Write(buf, binary.BigEndian, uint32(len(keys))); err != nil {
		return zero, err
	}
	for _, key := range keys {
		if err := writeDelimited(buf, []byte(key)); err != nil {
			return zero, err
		}
		if err := writeDelimited(buf, []byte(attributes[key])); err != nil {
			return zero, err
		}
	}
	return blake3.Sum256(buf.Bytes()), nil
}

func writeDelimited(buf *bytes.Buffer, data []byte) error {
	length := uint32(0)
	if data != nil {
		length = uint32(len(data))
	}
	if err := binary.Write(buf, binary.BigEndian, length); err != nil {
		return err
	}
	if length > 0 {
		buf.Write(data)
	}
	return nil
}

func decodeHash(encoded string) ([32]byte, error) {
	var out [32]byte
	raw, err := hex.DecodeString(encoded)
	if err != nil {
		return out, fmt.Errorf("decode hash: %w", err)
	}
	if len(raw) != len(out) {
		return out, fmt.Errorf("decode hash: unexpected length %d", len(raw))
	}
	copy(out[:], raw)
	return out, nil
}
