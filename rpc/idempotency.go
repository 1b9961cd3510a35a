package rpc

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"
)

// idempotencyHeader names the client-supplied key that makes a mutating
// staking call replay-safe.
const idempotencyHeader = "X-Idempotency-Key"

const defaultIdempotencyTTL = 24 * time.Hour

var idempotencyBucket = []byte("responses")

// IdempotencyStore persists RPC responses keyed by method and client key so
// retried requests replay the original outcome instead of re-executing.
type IdempotencyStore struct {
	db  *bolt.DB
	ttl time.Duration
}

// IdempotencyRecord is the stored response for a completed request.
type IdempotencyRecord struct {
	StatusCode int       `json:"statusCode"`
	Body       []byte    `json:"body"`
	StoredAt   time.Time `json:"storedAt"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

func NewIdempotencyStore(path string, ttl time.Duration) (*IdempotencyStore, error) {
	if ttl <= 0 {
		ttl = defaultIdempotencyTTL
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("rpc: open idempotency store: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(idempotencyBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("rpc: init idempotency store: %w", err)
	}
	return &IdempotencyStore{db: db, ttl: ttl}, nil
}

func (s *IdempotencyStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Lookup returns the stored record for key. Expired records are deleted on
// read, so the transaction is a write transaction.
func (s *IdempotencyStore) Lookup(key string, now time.Time) (IdempotencyRecord, bool, error) {
	var record IdempotencyRecord
	found := false
	err := s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(idempotencyBucket)
		if bucket == nil {
			return errors.New("responses bucket missing")
		}
		raw := bucket.Get([]byte(key))
		if raw == nil {
			return nil
		}
		var stored IdempotencyRecord
		if err := json.Unmarshal(raw, &stored); err != nil {
			return bucket.Delete([]byte(key))
		}
		if now.After(stored.ExpiresAt) {
			return bucket.Delete([]byte(key))
		}
		record = stored
		found = true
		return nil
	})
	if err != nil {
		return IdempotencyRecord{}, false, err
	}
	return record, found, nil
}

func (s *IdempotencyStore) Record(key string, statusCode int, body []byte, now time.Time) error {
	record := IdempotencyRecord{
		StatusCode: statusCode,
		Body:       append([]byte(nil), body...),
		StoredAt:   now,
		ExpiresAt:  now.Add(s.ttl),
	}
	raw, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(idempotencyBucket)
		if bucket == nil {
			return errors.New("responses bucket missing")
		}
		return bucket.Put([]byte(key), raw)
	})
}

// withIdempotency replays the recorded response when the request carries a
// previously seen X-Idempotency-Key, and records fresh outcomes otherwise.
// Throttled and server-error responses are not recorded so the client can
// retry them.
func (s *Server) withIdempotency(w http.ResponseWriter, r *http.Request, req *RPCRequest, fn func(http.ResponseWriter)) {
	key := strings.TrimSpace(r.Header.Get(idempotencyHeader))
	if s.idempotency == nil || key == "" {
		fn(w)
		return
	}
	scoped := req.Method + ":" + key
	now := time.Now()
	if record, ok, err := s.idempotency.Lookup(scoped, now); err != nil {
		s.logger.Warn("idempotency lookup failed", "method", req.Method, "error", err.Error())
	} else if ok {
		w.Header().Set("X-Idempotent-Replay", "true")
		if record.StatusCode != http.StatusOK {
			w.WriteHeader(record.StatusCode)
		}
		_, _ = w.Write(record.Body)
		return
	}

	capture := &responseCapture{ResponseWriter: w, status: http.StatusOK}
	fn(capture)

	if capture.status == http.StatusTooManyRequests || capture.status >= http.StatusInternalServerError {
		return
	}
	if err := s.idempotency.Record(scoped, capture.status, capture.body.Bytes(), now); err != nil {
		s.logger.Warn("idempotency record failed", "method", req.Method, "error", err.Error())
	}
}

type responseCapture struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (c *responseCapture) WriteHeader(code int) {
	c.status = code
	c.ResponseWriter.WriteHeader(code)
}

func (c *responseCapture) Write(data []byte) (int, error) {
	c.body.Write(data)
	return c.ResponseWriter.Write(data)
}
