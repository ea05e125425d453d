// Package block manages the set of blocked counterpart numbers,
// persisted as a JSON array file. The cache only reads it to partition
// conversation listings; all mutation happens here.
package block

import (
	"encoding/json"
	"errors"
	"os"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// ErrNoPhoneNumber is returned when a block request carries no number.
var ErrNoPhoneNumber = errors.New("phone number is required")

// Actions accepted by the block endpoint.
const (
	ActionBlock   = "block"
	ActionUnblock = "unblock"
)

// Manager owns the blocklist file and its in-memory set.
type Manager struct {
	mu      sync.Mutex
	path    string
	numbers map[string]struct{}
	logger  *zap.Logger
}

// NewManager loads the blocklist file if it exists. A missing file
// means an empty list.
func NewManager(path string, logger *zap.Logger) (*Manager, error) {
	m := &Manager{
		path:    path,
		numbers: make(map[string]struct{}),
		logger:  logger,
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return m, nil
	}
	if err != nil {
		return nil, err
	}
	var numbers []string
	if err := json.Unmarshal(data, &numbers); err != nil {
		return nil, err
	}
	for _, n := range numbers {
		if n = Normalize(n); n != "" {
			m.numbers[n] = struct{}{}
		}
	}
	return m, nil
}

// Normalize strips whitespace and the channel prefix so that
// "whatsapp:+5511999" and "+5511999" compare equal.
func Normalize(number string) string {
	number = strings.TrimSpace(number)
	number = strings.TrimPrefix(number, "whatsapp:")
	return number
}

// Block adds a number to the list and persists it.
func (m *Manager) Block(number string) error {
	n := Normalize(number)
	if n == "" {
		return ErrNoPhoneNumber
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.numbers[n]; ok {
		return nil
	}
	m.numbers[n] = struct{}{}
	return m.save()
}

// Unblock removes a number from the list and persists it.
func (m *Manager) Unblock(number string) error {
	n := Normalize(number)
	if n == "" {
		return ErrNoPhoneNumber
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.numbers[n]; !ok {
		return nil
	}
	delete(m.numbers, n)
	return m.save()
}

// IsBlocked reports whether a number is on the list.
func (m *Manager) IsBlocked(number string) bool {
	n := Normalize(number)
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.numbers[n]
	return ok
}

// List returns the blocked numbers sorted.
func (m *Manager) List() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.numbers))
	for n := range m.numbers {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Count returns the blocklist size.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.numbers)
}

// save writes the list to disk. Caller holds mu.
func (m *Manager) save() error {
	out := make([]string, 0, len(m.numbers))
	for n := range m.numbers {
		out = append(out, n)
	}
	sort.Strings(out)

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}
	tmp := m.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return err
	}
	return os.Rename(tmp, m.path)
}
