package storage

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"
)

const AuditLogName = "audit.jsonl"

// AuditStorage records every Save, Open and Delete on the wrapped storage in
// audit.jsonl. Each entry carries the hash of the previous one, so edits to the
// log break the chain.
type AuditStorage struct {
	inner MetadataStorage
	mu    sync.Mutex
	now   func() time.Time
}

type AuditEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Operation string    `json:"operation"`
	Path      string    `json:"path"`
	Status    string    `json:"status"`
	Extra     string    `json:"extra,omitempty"`
	PrevHash  string    `json:"prev_hash"`
	Hash      string    `json:"hash"`
}

func NewAuditStorage(inner MetadataStorage) *AuditStorage {
	return &AuditStorage{inner: inner, now: time.Now}
}

func (e AuditEntry) computeHash() string {
	h := sha256.New()
	h.Write([]byte(e.Timestamp.UTC().Format(time.RFC3339Nano)))
	h.Write([]byte(e.Operation))
	h.Write([]byte(e.Path))
	h.Write([]byte(e.Status))
	h.Write([]byte(e.Extra))
	h.Write([]byte(e.PrevHash))
	return hex.EncodeToString(h.Sum(nil))
}

func (s *AuditStorage) log(ctx context.Context, op, path string, opErr error, extra string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, _ := s.inner.GetMetadata(ctx, AuditLogName)

	var prevHash string
	if lines := splitLines(data); len(lines) > 0 {
		var last AuditEntry
		if err := json.Unmarshal(lines[len(lines)-1], &last); err == nil {
			prevHash = last.Hash
		}
	}

	status := "success"
	if opErr != nil {
		status = "error: " + opErr.Error()
	}
	entry := AuditEntry{
		Timestamp: s.now().UTC(),
		Operation: op,
		Path:      path,
		Status:    status,
		Extra:     extra,
		PrevHash:  prevHash,
	}
	entry.Hash = entry.computeHash()

	line, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	out := append(bytes.Clone(data), line...)
	out = append(out, '\n')
	return s.inner.PutMetadata(ctx, AuditLogName, out)
}

func splitLines(data []byte) [][]byte {
	var lines [][]byte
	for _, l := range bytes.Split(data, []byte{'\n'}) {
		if len(l) > 0 {
			lines = append(lines, l)
		}
	}
	return lines
}

// VerifyAuditLog walks the chain in data and reports the first broken link.
func VerifyAuditLog(data []byte) (int, error) {
	var prev string
	lines := splitLines(data)
	for i, l := range lines {
		var e AuditEntry
		if err := json.Unmarshal(l, &e); err != nil {
			return i, fmt.Errorf("audit entry %d is not valid JSON: %w", i+1, err)
		}
		if e.PrevHash != prev {
			return i, fmt.Errorf("audit entry %d does not chain to its predecessor", i+1)
		}
		if e.computeHash() != e.Hash {
			return i, fmt.Errorf("audit entry %d hash mismatch", i+1)
		}
		prev = e.Hash
	}
	return len(lines), nil
}

func (s *AuditStorage) Save(ctx context.Context, name string, r io.Reader) (string, error) {
	loc, err := s.inner.Save(ctx, name, r)
	if logErr := s.log(ctx, "SAVE", name, err, ""); logErr != nil && err == nil {
		return loc, fmt.Errorf("failed to append audit log: %w", logErr)
	}
	return loc, err
}

func (s *AuditStorage) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	rc, err := s.inner.Open(ctx, name)
	if logErr := s.log(ctx, "OPEN", name, err, ""); logErr != nil && err == nil {
		rc.Close()
		return nil, fmt.Errorf("failed to append audit log: %w", logErr)
	}
	return rc, err
}

func (s *AuditStorage) Delete(ctx context.Context, name string) error {
	err := s.inner.Delete(ctx, name)
	if logErr := s.log(ctx, "DELETE", name, err, ""); logErr != nil && err == nil {
		return fmt.Errorf("failed to append audit log: %w", logErr)
	}
	return err
}

func (s *AuditStorage) List(ctx context.Context, prefix string) ([]string, error) {
	return s.inner.List(ctx, prefix)
}

func (s *AuditStorage) Location() string {
	return s.inner.Location()
}

func (s *AuditStorage) PutMetadata(ctx context.Context, name string, data []byte) error {
	return s.inner.PutMetadata(ctx, name, data)
}

func (s *AuditStorage) GetMetadata(ctx context.Context, name string) ([]byte, error) {
	return s.inner.GetMetadata(ctx, name)
}
