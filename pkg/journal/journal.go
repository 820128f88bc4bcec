// Package journal keeps a local record of every transaction the CLI broadcasts.
package journal

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/samber/lo"
)

const (
	DefaultFileName = ".evm-swap-journal.json"
)

// Kind is the purpose of a journaled transaction
type Kind string

const (
	KindApprove Kind = "approve"
	KindSwap    Kind = "swap"
)

// Status is the last known on-chain outcome
type Status string

const (
	StatusPending   Status = "pending"   // broadcast, no receipt yet
	StatusConfirmed Status = "confirmed" // mined with success status
	StatusReverted  Status = "reverted"  // mined with failure status
	StatusUnknown   Status = "unknown"   // stopped waiting before a receipt
)

// Entry is one broadcast transaction
type Entry struct {
	Hash        string    `json:"hash"`
	Kind        Kind      `json:"kind"`
	ChainID     uint64    `json:"chain_id"`
	FromToken   string    `json:"from_token"`
	ToToken     string    `json:"to_token,omitempty"`
	Amount      string    `json:"amount"`
	Status      Status    `json:"status"`
	BlockNumber uint64    `json:"block_number,omitempty"`
	Created     time.Time `json:"created"`
	LastUpdated time.Time `json:"last_updated"`
}

// Journal persists entries to a JSON file
type Journal struct {
	filePath string
	mu       sync.RWMutex
	entries  map[string]*Entry
}

type journalFile struct {
	Entries map[string]*Entry `json:"entries"`
}

// Open loads the journal at filePath, or the default file in the home
// directory when filePath is empty. A missing file is an empty journal.
func Open(filePath string) (*Journal, error) {
	if filePath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		filePath = filepath.Join(home, DefaultFileName)
	}

	j := &Journal{
		filePath: filePath,
		entries:  make(map[string]*Entry),
	}

	if err := j.load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load journal: %w", err)
	}

	return j, nil
}

func (j *Journal) load() error {
	data, err := os.ReadFile(j.filePath)
	if err != nil {
		return err
	}

	var f journalFile
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("failed to unmarshal journal: %w", err)
	}
	if f.Entries != nil {
		j.entries = f.Entries
	}
	return nil
}

// save writes the journal atomically. Callers hold j.mu.
func (j *Journal) save() error {
	data, err := json.MarshalIndent(journalFile{Entries: j.entries}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal journal: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(j.filePath), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tempFile := j.filePath + ".tmp"
	if err := os.WriteFile(tempFile, data, 0600); err != nil {
		return fmt.Errorf("failed to write journal: %w", err)
	}

	if err := os.Rename(tempFile, j.filePath); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	return nil
}

func normalizeHash(hash string) string {
	return strings.ToLower(hash)
}

// Record adds a freshly broadcast transaction as pending
func (j *Journal) Record(e Entry) error {
	if e.Hash == "" {
		return fmt.Errorf("entry has no hash")
	}

	now := time.Now().UTC()
	if e.Created.IsZero() {
		e.Created = now
	}
	e.LastUpdated = now
	if e.Status == "" {
		e.Status = StatusPending
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	j.entries[normalizeHash(e.Hash)] = &e
	return j.save()
}

// UpdateStatus sets the outcome of a recorded transaction
func (j *Journal) UpdateStatus(hash string, status Status, blockNumber uint64) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	e, ok := j.entries[normalizeHash(hash)]
	if !ok {
		return fmt.Errorf("transaction %s not in journal", hash)
	}

	e.Status = status
	if blockNumber != 0 {
		e.BlockNumber = blockNumber
	}
	e.LastUpdated = time.Now().UTC()
	return j.save()
}

// Get returns a copy of the entry for hash
func (j *Journal) Get(hash string) (Entry, bool) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	e, ok := j.entries[normalizeHash(hash)]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// List returns all entries, newest first
func (j *Journal) List() []Entry {
	j.mu.RLock()
	defer j.mu.RUnlock()

	entries := lo.MapToSlice(j.entries, func(_ string, e *Entry) Entry {
		return *e
	})
	sort.Slice(entries, func(a, b int) bool {
		if !entries[a].Created.Equal(entries[b].Created) {
			return entries[a].Created.After(entries[b].Created)
		}
		return entries[a].Hash < entries[b].Hash
	})
	return entries
}

// ListByStatus returns entries with the given status, newest first
func (j *Journal) ListByStatus(status Status) []Entry {
	return lo.Filter(j.List(), func(e Entry, _ int) bool {
		return e.Status == status
	})
}

// Path returns the journal file path
func (j *Journal) Path() string {
	return j.filePath
}
