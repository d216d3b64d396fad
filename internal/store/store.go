// Package store implements the Persistent Store: a durable, embedded
// relational database for facts/preferences/sessions/error-patterns/
// embeddings, with an async single-writer queue and a background
// compaction sweep. This is a deliberate departure from the teacher's
// goleveldb-backed key/value engine (internal/roles/memory/memory.go in
// the teacher repo) — the specification names five SQL tables with named
// indices, a shape a KV store cannot express — but the architecture
// (buffered write channel, Run(ctx) owning the DB handle, a dreamer-style
// background sweep) is carried over unchanged. See DESIGN.md.
package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/hcwagner/orchestrator/internal/types"
)

const writeQueueSize = 1024

const schema = `
CREATE TABLE IF NOT EXISTS memories (
	id TEXT PRIMARY KEY,
	memory_type TEXT NOT NULL,
	key TEXT NOT NULL,
	value TEXT NOT NULL,
	importance REAL NOT NULL,
	access_count INTEGER NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	last_accessed TEXT NOT NULL,
	tags TEXT,
	embedding TEXT,
	UNIQUE(memory_type, key)
);
CREATE INDEX IF NOT EXISTS idx_memories_type ON memories(memory_type);
CREATE INDEX IF NOT EXISTS idx_memories_key ON memories(key);
CREATE INDEX IF NOT EXISTS idx_memories_importance ON memories(importance DESC);
CREATE INDEX IF NOT EXISTS idx_memories_last_accessed ON memories(last_accessed DESC);

CREATE TABLE IF NOT EXISTS user_preferences (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	preferences TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS session_history (
	session_id TEXT PRIMARY KEY,
	start_time TEXT NOT NULL,
	end_time TEXT,
	summary TEXT,
	tasks_completed INTEGER NOT NULL DEFAULT 0,
	tasks_failed INTEGER NOT NULL DEFAULT 0,
	context TEXT
);
CREATE INDEX IF NOT EXISTS idx_session_start ON session_history(start_time DESC);

CREATE TABLE IF NOT EXISTS error_patterns (
	id TEXT PRIMARY KEY,
	error_signature TEXT NOT NULL,
	fix_pattern TEXT NOT NULL,
	success_count INTEGER NOT NULL DEFAULT 0,
	fail_count INTEGER NOT NULL DEFAULT 0,
	last_seen TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_error_signature ON error_patterns(error_signature);

CREATE TABLE IF NOT EXISTS embeddings (
	chunk_id TEXT PRIMARY KEY,
	content_hash TEXT NOT NULL,
	vector TEXT NOT NULL,
	file TEXT,
	start_line INTEGER,
	end_line INTEGER
);
`

// writeOp is a queued mutation; persist() applies it from the single
// writer goroutine.
type writeOp struct {
	kind  string // "memory" | "error_fix"
	entry types.MemoryEntry
	errSig, errFix string
	errSuccess bool
}

// Store is the Persistent Store. Store and LearnErrorFix queue their writes
// on writeCh, which a single goroutine (Run) applies, so those callers never
// block on disk I/O; Get's access-count bump and Compact write directly.
type Store struct {
	db         *sqlx.DB
	writeCh    chan writeOp
	obfuscateKey []byte
}

// Open opens (creating if absent) the SQLite file at path and ensures the
// schema exists. machineKey seeds the XOR obfuscation cipher (spec.md §4.3:
// "not authenticated encryption", documented in-band, not silently upgraded).
func Open(path, machineKey string) (*Store, error) {
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // single-writer discipline, matching the teacher's single-DB-handle constraint
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: migrate schema: %w", err)
	}
	sum := sha256.Sum256([]byte(machineKey))
	return &Store{
		db:           db,
		writeCh:      make(chan writeOp, writeQueueSize),
		obfuscateKey: sum[:],
	}, nil
}

func (s *Store) obfuscate(plain string) string {
	b := []byte(plain)
	out := make([]byte, len(b))
	for i, c := range b {
		out[i] = c ^ s.obfuscateKey[i%len(s.obfuscateKey)]
	}
	return base64.StdEncoding.EncodeToString(out)
}

func (s *Store) deobfuscate(encoded string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("store: decode value: %w", err)
	}
	out := make([]byte, len(raw))
	for i, c := range raw {
		out[i] = c ^ s.obfuscateKey[i%len(s.obfuscateKey)]
	}
	return string(out), nil
}

// Store upserts a MemoryEntry by (type, key): refreshes updated_at, per
// spec.md §4.3 and invariant R3 (Store then Store with the same (type, key)
// leaves exactly one entry with the later value). Non-blocking: drops and
// logs a warning if the write queue is full.
func (s *Store) Store(entry types.MemoryEntry) {
	if entry.ID == "" {
		entry.ID = fmt.Sprintf("%x", sha256.Sum256([]byte(string(entry.Type)+"|"+entry.Key)))
	}
	now := time.Now()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}
	entry.UpdatedAt = now
	select {
	case s.writeCh <- writeOp{kind: "memory", entry: entry}:
	default:
		slog.Warn("store: write queue full, entry dropped", "type", entry.Type, "key", entry.Key)
	}
}

// Get returns the entry for (type, key) and increments its access count and
// last-accessed timestamp.
func (s *Store) Get(ctx context.Context, memType types.MemoryType, key string) (types.MemoryEntry, bool, error) {
	var row memoryRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM memories WHERE memory_type = ? AND key = ?`, memType, key)
	if err == sql.ErrNoRows {
		return types.MemoryEntry{}, false, nil
	}
	if err != nil {
		return types.MemoryEntry{}, false, fmt.Errorf("store: get: %w", err)
	}
	entry, err := row.toEntry(s)
	if err != nil {
		return types.MemoryEntry{}, false, err
	}
	_, err = s.db.ExecContext(ctx, `UPDATE memories SET access_count = access_count + 1, last_accessed = ? WHERE id = ?`,
		time.Now().Format(time.RFC3339Nano), row.ID)
	if err != nil {
		slog.Warn("store: failed to bump access count; continuing in-memory only", "err", err)
	}
	return entry, true, nil
}

type memoryRow struct {
	ID           string  `db:"id"`
	MemoryType   string  `db:"memory_type"`
	Key          string  `db:"key"`
	Value        string  `db:"value"`
	Importance   float64 `db:"importance"`
	AccessCount  int     `db:"access_count"`
	CreatedAt    string  `db:"created_at"`
	UpdatedAt    string  `db:"updated_at"`
	LastAccessed string  `db:"last_accessed"`
	Tags         sql.NullString `db:"tags"`
}

func (r memoryRow) toEntry(s *Store) (types.MemoryEntry, error) {
	value, err := s.deobfuscate(r.Value)
	if err != nil {
		return types.MemoryEntry{}, err
	}
	var tags []string
	if r.Tags.Valid && r.Tags.String != "" {
		_ = json.Unmarshal([]byte(r.Tags.String), &tags)
	}
	created, _ := time.Parse(time.RFC3339Nano, r.CreatedAt)
	updated, _ := time.Parse(time.RFC3339Nano, r.UpdatedAt)
	accessed, _ := time.Parse(time.RFC3339Nano, r.LastAccessed)
	return types.MemoryEntry{
		ID: r.ID, Type: types.MemoryType(r.MemoryType), Key: r.Key, Value: value,
		Importance: r.Importance, AccessCount: r.AccessCount,
		CreatedAt: created, UpdatedAt: updated, LastAccessed: accessed, Tags: tags,
	}, nil
}

// recallCandidate carries the precomputed scoring inputs for one row.
type recallCandidate struct {
	entry types.MemoryEntry
	score float64
}

func tokenize(s string) map[string]struct{} {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ' ' || r == '_' || r == '-' || r == '/'
	})
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[strings.ToLower(f)] = struct{}{}
	}
	return set
}

func overlapFraction(query, candidate map[string]struct{}) float64 {
	if len(query) == 0 || len(candidate) == 0 {
		return 0
	}
	var hits int
	for t := range query {
		if _, ok := candidate[t]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(query))
}

// Recall ranks stored entries against query by keyword overlap + importance
// + recency, per spec.md §4.3. Only entries with overlap > 0 qualify.
func (s *Store) Recall(ctx context.Context, query string, memType types.MemoryType, limit int, minImportance float64) ([]types.MemoryEntry, error) {
	q := `SELECT * FROM memories WHERE importance >= ?`
	args := []any{minImportance}
	if memType != "" {
		q += ` AND memory_type = ?`
		args = append(args, memType)
	}
	var rows []memoryRow
	if err := s.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, fmt.Errorf("store: recall query: %w", err)
	}

	queryTokens := tokenize(query)
	now := time.Now()
	var candidates []recallCandidate
	for _, row := range rows {
		entry, err := row.toEntry(s)
		if err != nil {
			continue
		}
		candTokens := tokenize(entry.Key + " " + entry.Value)
		overlap := overlapFraction(queryTokens, candTokens)
		if overlap <= 0 {
			continue
		}
		daysSince := now.Sub(entry.UpdatedAt).Hours() / 24
		recencyBonus := 0.2 * (1 - clamp(daysSince/30, 0, 1))
		score := overlap + 0.3*entry.Importance + recencyBonus
		candidates = append(candidates, recallCandidate{entry, score})
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })
	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}
	out := make([]types.MemoryEntry, len(candidates))
	for i, c := range candidates {
		out[i] = c.entry
	}
	return out, nil
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Compact deletes stale memories (older than days, below minImportance,
// and accessed fewer than 3 times) and purges session history older than
// 90 days, per spec.md §4.3.
func (s *Store) Compact(ctx context.Context, days int, minImportance float64) error {
	cutoff := time.Now().AddDate(0, 0, -days).Format(time.RFC3339Nano)
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM memories WHERE created_at < ? AND importance < ? AND access_count < 3`,
		cutoff, minImportance); err != nil {
		return fmt.Errorf("store: compact memories: %w", err)
	}
	sessionCutoff := time.Now().AddDate(0, 0, -90).Format(time.RFC3339Nano)
	if _, err := s.db.ExecContext(ctx, `DELETE FROM session_history WHERE start_time < ?`, sessionCutoff); err != nil {
		return fmt.Errorf("store: compact sessions: %w", err)
	}
	return nil
}

// LearnErrorFix merges a (signature, fix) observation into the error_patterns
// table, incrementing success or fail counts.
func (s *Store) LearnErrorFix(sig, fix string, success bool) {
	select {
	case s.writeCh <- writeOp{kind: "error_fix", errSig: sig, errFix: fix, errSuccess: success}:
	default:
		slog.Warn("store: write queue full, error-fix observation dropped", "signature", sig)
	}
}

// FindErrorFix returns the best known fix for sig — the one with the
// highest success count — only when successes > failures.
func (s *Store) FindErrorFix(ctx context.Context, sig string) (types.ErrorPattern, bool, error) {
	var rows []struct {
		ID           string `db:"id"`
		Signature    string `db:"error_signature"`
		Fix          string `db:"fix_pattern"`
		SuccessCount int    `db:"success_count"`
		FailCount    int    `db:"fail_count"`
		LastSeen     string `db:"last_seen"`
	}
	if err := s.db.SelectContext(ctx, &rows,
		`SELECT * FROM error_patterns WHERE error_signature = ? ORDER BY success_count DESC`, sig); err != nil {
		return types.ErrorPattern{}, false, fmt.Errorf("store: find error fix: %w", err)
	}
	for _, r := range rows {
		if r.SuccessCount > r.FailCount {
			lastSeen, _ := time.Parse(time.RFC3339Nano, r.LastSeen)
			return types.ErrorPattern{
				ID: r.ID, ErrorSignature: r.Signature, FixPattern: r.Fix,
				SuccessCount: r.SuccessCount, FailCount: r.FailCount, LastSeen: lastSeen,
			}, true, nil
		}
	}
	return types.ErrorPattern{}, false, nil
}

// Run drains the write queue, with a compaction pass (90 days, importance
// below 0.1) every 10 minutes, until ctx is cancelled; it then persists any
// still-queued writes and closes the database. This mirrors the teacher's
// memory.go Run(ctx): one goroutine owns the DB handle end to end.
func (s *Store) Run(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case op := <-s.writeCh:
			s.persist(ctx, op)
		case <-ticker.C:
			if err := s.Compact(ctx, 90, 0.1); err != nil {
				slog.Warn("store: background compaction failed", "err", err)
			}
		case <-ctx.Done():
			s.drainAndClose()
			return
		}
	}
}

func (s *Store) drainAndClose() {
	for {
		select {
		case op := <-s.writeCh:
			s.persist(context.Background(), op)
		default:
			s.db.Close()
			return
		}
	}
}

func (s *Store) persist(ctx context.Context, op writeOp) {
	switch op.kind {
	case "memory":
		e := op.entry
		tagsJSON, _ := json.Marshal(e.Tags)
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO memories (id, memory_type, key, value, importance, access_count, created_at, updated_at, last_accessed, tags)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(memory_type, key) DO UPDATE SET
				value=excluded.value, importance=excluded.importance, updated_at=excluded.updated_at, tags=excluded.tags
		`, e.ID, e.Type, e.Key, s.obfuscate(e.Value), e.Importance, e.AccessCount,
			e.CreatedAt.Format(time.RFC3339Nano), e.UpdatedAt.Format(time.RFC3339Nano), e.UpdatedAt.Format(time.RFC3339Nano), string(tagsJSON))
		if err != nil {
			slog.Warn("store: persist memory failed", "err", err)
		}
	case "error_fix":
		id := fmt.Sprintf("%x", sha256.Sum256([]byte(op.errSig+"|"+op.errFix)))
		now := time.Now().Format(time.RFC3339Nano)
		var col string
		if op.errSuccess {
			col = "success_count"
		} else {
			col = "fail_count"
		}
		_, err := s.db.ExecContext(ctx, fmt.Sprintf(`
			INSERT INTO error_patterns (id, error_signature, fix_pattern, %s, last_seen)
			VALUES (?, ?, ?, 1, ?)
			ON CONFLICT(id) DO UPDATE SET %s = %s + 1, fix_pattern=excluded.fix_pattern, last_seen=excluded.last_seen
		`, col, col, col), id, op.errSig, op.errFix, now)
		if err != nil {
			slog.Warn("store: persist error-fix failed", "err", err)
		}
	}
}

// MachineKey derives a best-effort machine identity string for XOR
// obfuscation keying from the hostname alone.
func MachineKey() string {
	host, _ := os.Hostname()
	return "orchestrator-machine-key|" + host
}
