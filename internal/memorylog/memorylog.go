// Package memorylog appends one JSON line per exchange to a per-buddy file.
// Entries are written after the reply has been returned and are never read
// back into generation.
package memorylog

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory is one recorded exchange.
type Memory struct {
	ID              string    `json:"id"`
	Timestamp       time.Time `json:"timestamp"`
	UserMessage     string    `json:"userMessage"`
	BuddyResponse   string    `json:"buddyResponse"`
	Mood            string    `json:"mood"`
	Topics          []string  `json:"topics"`
	FriendshipScore int       `json:"friendshipScore"`
}

// Log writes memories under dir as <buddyID>.jsonl.
type Log struct {
	dir      string
	redactor *Redactor

	mu      sync.Mutex // protects redactor, removed and the files
	removed map[string]bool
	wg      sync.WaitGroup
}

// Open creates dir if needed.
func Open(dir string) (*Log, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create memory dir: %w", err)
	}
	return &Log{dir: dir, removed: make(map[string]bool)}, nil
}

// SetRedactor masks personal data in both sides of every exchange written
// after the call. A nil redactor disables masking.
func (l *Log) SetRedactor(r *Redactor) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.redactor = r
}

func (l *Log) path(buddyID string) string {
	return filepath.Join(l.dir, filepath.Base(buddyID)+".jsonl")
}

// New builds the memory for an exchange.
func New(userMessage, reply string, score int) Memory {
	return Memory{
		ID:              uuid.NewString(),
		Timestamp:       time.Now(),
		UserMessage:     userMessage,
		BuddyResponse:   reply,
		Mood:            DetectMood(userMessage),
		Topics:          ExtractTopics(userMessage),
		FriendshipScore: score,
	}
}

// Append writes m synchronously. Memories for a removed buddy are dropped.
func (l *Log) Append(buddyID string, m Memory) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.removed[buddyID] {
		return nil
	}

	m.UserMessage = l.redactor.Redact(m.UserMessage)
	m.BuddyResponse = l.redactor.Redact(m.BuddyResponse)
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}

	f, err := os.OpenFile(l.path(buddyID), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Record writes m in the background. Failures are logged and dropped.
func (l *Log) Record(buddyID string, m Memory) {
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		if err := l.Append(buddyID, m); err != nil {
			log.Printf("[memorylog] failed to store memory for %s: %v", buddyID, err)
		}
	}()
}

// Wait blocks until every pending Record has finished.
func (l *Log) Wait() {
	l.wg.Wait()
}

// Read returns every memory stored for the buddy, skipping corrupt lines.
func (l *Log) Read(buddyID string) ([]Memory, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.Open(l.path(buddyID))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []Memory
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var m Memory
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			log.Printf("[memorylog] skipping corrupt line for %s: %v", buddyID, err)
			continue
		}
		out = append(out, m)
	}
	return out, sc.Err()
}

// Remove deletes the buddy's memory file. A missing file is not an error.
// Records still pending for the buddy are discarded when they run.
func (l *Log) Remove(buddyID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.removed[buddyID] = true
	err := os.Remove(l.path(buddyID))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}
