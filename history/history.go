// Package history keeps an append-only JSON Lines transcript of every run.
// Each session gets its own file under the history directory, named by
// start time and session id, so transcripts survive interrupted runs and
// can be listed, inspected and replayed later.
package history

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/martinemde/axonix/agentloop"
)

// DefaultDir is the history directory relative to the workspace.
const DefaultDir = ".axonix/history"

const fileTimeLayout = "20060102_150405"

// ErrSessionNotFound is returned by Load for an unknown session.
var ErrSessionNotFound = errors.New("history: session not found")

// Kind distinguishes the records in a transcript.
type Kind string

const (
	KindTurn   Kind = "turn"
	KindResult Kind = "result"
)

// Record is one line of a transcript.
type Record struct {
	Timestamp time.Time         `json:"timestamp"`
	SessionID string            `json:"session_id"`
	Kind      Kind              `json:"kind"`
	Step      int               `json:"step,omitempty"`
	Turn      *agentloop.Turn   `json:"turn,omitempty"`
	Result    *agentloop.Result `json:"result,omitempty"`
	Error     string            `json:"error,omitempty"`
}

// SessionInfo describes a recorded session.
type SessionInfo struct {
	ID      string
	Started time.Time
	Path    string
}

// Log writes transcripts. It implements agentloop.Recorder and is safe for
// concurrent use by several sessions.
type Log struct {
	dir   string
	now   func() time.Time
	mu    sync.Mutex
	files map[string]*os.File
}

// Open creates the history directory if needed.
func Open(dir string) (*Log, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create history dir: %w", err)
	}
	return &Log{dir: dir, now: time.Now, files: make(map[string]*os.File)}, nil
}

// Dir returns the history directory.
func (l *Log) Dir() string { return l.dir }

// RecordTurn appends a turn to the session's transcript.
func (l *Log) RecordTurn(sessionID string, step int, turn agentloop.Turn) error {
	return l.append(Record{SessionID: sessionID, Kind: KindTurn, Step: step, Turn: &turn}, false)
}

// RecordResult appends the terminal result and closes the transcript.
func (l *Log) RecordResult(sessionID string, result agentloop.Result) error {
	rec := Record{SessionID: sessionID, Kind: KindResult, Step: result.Steps, Result: &result}
	if result.Err != nil {
		rec.Error = result.Err.Error()
	}
	return l.append(rec, true)
}

func (l *Log) append(rec Record, last bool) error {
	if rec.SessionID == "" {
		return errors.New("history: empty session id")
	}
	rec.Timestamp = l.now()
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode history record: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	f, err := l.fileFor(rec.SessionID, rec.Timestamp)
	if err != nil {
		return err
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("write history: %w", err)
	}
	if last {
		delete(l.files, rec.SessionID)
		return f.Close()
	}
	return nil
}

// fileFor returns the open transcript for a session. Callers hold l.mu.
func (l *Log) fileFor(sessionID string, started time.Time) (*os.File, error) {
	if f, ok := l.files[sessionID]; ok {
		return f, nil
	}
	sessions, err := l.Sessions()
	if err != nil {
		return nil, err
	}
	path := filepath.Join(l.dir, started.Format(fileTimeLayout)+"_"+sessionID+".jsonl")
	for _, s := range sessions {
		if s.ID == sessionID {
			path = s.Path
			break
		}
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open history file: %w", err)
	}
	l.files[sessionID] = f
	return f, nil
}

// Close closes transcripts of sessions that never recorded a result.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	var errs []error
	for id, f := range l.files {
		errs = append(errs, f.Close())
		delete(l.files, id)
	}
	return errors.Join(errs...)
}

// Sessions lists recorded sessions, most recent first.
func (l *Log) Sessions() ([]SessionInfo, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return nil, fmt.Errorf("read history dir: %w", err)
	}
	var out []SessionInfo
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if info, ok := parseFileName(e.Name()); ok {
			info.Path = filepath.Join(l.dir, e.Name())
			out = append(out, info)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Started.Equal(out[j].Started) {
			return out[i].Started.After(out[j].Started)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// parseFileName splits "20060102_150405_<id>.jsonl".
func parseFileName(name string) (SessionInfo, bool) {
	base, ok := strings.CutSuffix(name, ".jsonl")
	if !ok || len(base) < len(fileTimeLayout)+2 || base[len(fileTimeLayout)] != '_' {
		return SessionInfo{}, false
	}
	started, err := time.ParseInLocation(fileTimeLayout, base[:len(fileTimeLayout)], time.Local)
	if err != nil {
		return SessionInfo{}, false
	}
	return SessionInfo{ID: base[len(fileTimeLayout)+1:], Started: started}, true
}

// find locates a session's file by full id or unique id prefix.
func (l *Log) find(idOrPrefix string) (string, error) {
	sessions, err := l.Sessions()
	if err != nil {
		return "", err
	}
	var match *SessionInfo
	for i, s := range sessions {
		if s.ID == idOrPrefix {
			return s.Path, nil
		}
		if strings.HasPrefix(s.ID, idOrPrefix) {
			if match != nil {
				return "", fmt.Errorf("history: session prefix %q is ambiguous", idOrPrefix)
			}
			match = &sessions[i]
		}
	}
	if match == nil {
		return "", fmt.Errorf("%w: %s", ErrSessionNotFound, idOrPrefix)
	}
	return match.Path, nil
}

// Load reads a session's records by id or unique id prefix. Lines that do
// not decode are skipped and counted.
func (l *Log) Load(idOrPrefix string) ([]Record, int, error) {
	path, err := l.find(idOrPrefix)
	if err != nil {
		return nil, 0, err
	}
	return ReadFile(path)
}

// ReadFile reads a transcript file.
func ReadFile(path string) ([]Record, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("open history file: %w", err)
	}
	defer f.Close()

	var records []Record
	skipped := 0
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var rec Record
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			skipped++
			continue
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return records, skipped, fmt.Errorf("read history file: %w", err)
	}
	return records, skipped, nil
}

// Task returns the task of a transcript: its first user turn.
func Task(records []Record) string {
	for _, r := range records {
		if r.Kind == KindTurn && r.Turn != nil && r.Turn.Role == agentloop.RoleUser {
			return r.Turn.Content
		}
	}
	return ""
}

// AssistantResponses returns the raw model responses in order, suitable for
// replaying the run through a scripted backend.
func AssistantResponses(records []Record) []string {
	var out []string
	for _, r := range records {
		if r.Kind == KindTurn && r.Turn != nil && r.Turn.Role == agentloop.RoleAssistant {
			out = append(out, r.Turn.Content)
		}
	}
	return out
}

// Outcome returns the terminal result, if the run recorded one.
func Outcome(records []Record) (agentloop.Result, bool) {
	for i := len(records) - 1; i >= 0; i-- {
		if records[i].Kind == KindResult && records[i].Result != nil {
			return *records[i].Result, true
		}
	}
	return agentloop.Result{}, false
}
