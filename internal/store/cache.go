package store

import (
	"sort"
	"sync"
	"time"
)

// Partition selects which slice of conversations a listing returns.
type Partition string

const (
	PartitionAll     Partition = "all"
	PartitionNormal  Partition = "normal"
	PartitionBlocked Partition = "blocked"
)

// BlockChecker reports whether a contact number is on the blocklist.
// The cache only consults it to partition listings; it never mutates
// the list itself.
type BlockChecker interface {
	IsBlocked(number string) bool
}

// Cache is the canonical in-memory message store plus the per-contact
// conversation aggregates derived from it. All mutation goes through
// the sync controller; readers always see the current snapshot and
// never block on an in-flight fetch.
type Cache struct {
	mu    sync.RWMutex
	byID  map[string]Message
	convs map[string]*Conversation
}

// NewCache returns an empty cache.
func NewCache() *Cache {
	return &Cache{
		byID:  make(map[string]Message),
		convs: make(map[string]*Conversation),
	}
}

// Merge inserts every message whose SID is not already cached and folds
// the newly added ones into their conversations. Existing entries are
// authoritative: a stale refetch never overwrites cached fields. Merge
// is idempotent and returns the number of messages actually added.
func (c *Cache) Merge(batch []Message) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	added := 0
	for _, m := range batch {
		if m.SID == "" {
			continue
		}
		if _, ok := c.byID[m.SID]; ok {
			continue
		}
		c.byID[m.SID] = m
		c.fold(m)
		added++
	}
	return added
}

// ReplaceAll wipes the cache and installs the given batch, rebuilding
// every conversation aggregate. Used when a full sync replaces the
// groupings wholesale.
func (c *Cache) ReplaceAll(batch []Message) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.byID = make(map[string]Message, len(batch))
	for _, m := range batch {
		if m.SID == "" {
			continue
		}
		if _, ok := c.byID[m.SID]; !ok {
			c.byID[m.SID] = m
		}
	}
	c.rebuildLocked()
}

// Rebuild discards the conversation aggregates and recomputes them from
// the message store.
func (c *Cache) Rebuild() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rebuildLocked()
}

func (c *Cache) rebuildLocked() {
	c.convs = make(map[string]*Conversation)
	for _, m := range c.byID {
		c.fold(m)
	}
}

// fold adds one message to its conversation. Caller holds mu. The
// last-message fields only move on a strictly newer effective
// timestamp, so re-merging the same data never makes them flicker.
func (c *Cache) fold(m Message) {
	number := m.Counterpart()
	conv, ok := c.convs[number]
	if !ok {
		conv = &Conversation{ContactNumber: number}
		c.convs[number] = conv
	}
	for _, held := range conv.Messages {
		if held.SID == m.SID {
			return
		}
	}
	conv.Messages = append(conv.Messages, m)
	conv.TotalMessages = len(conv.Messages)

	if ts := m.EffectiveTime(); conv.LastMessageDate.IsZero() && !ts.IsZero() || ts.After(conv.LastMessageDate) {
		conv.LastMessage = m.Body
		conv.LastMessageDate = ts
	}
}

// Clear wipes the message store and every conversation aggregate.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byID = make(map[string]Message)
	c.convs = make(map[string]*Conversation)
}

// Len returns the number of cached messages.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.byID)
}

// ConversationCount returns the number of conversation aggregates.
func (c *Cache) ConversationCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.convs)
}

// MaxEffectiveTime returns the newest effective timestamp held in the
// cache, or the zero time when the cache is empty. Incremental syncs
// use it as the fetch-after cutoff.
func (c *Cache) MaxEffectiveTime() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var max time.Time
	for _, m := range c.byID {
		if ts := m.EffectiveTime(); ts.After(max) {
			max = ts
		}
	}
	return max
}

// Snapshot returns a copy of every cached message, in no particular
// order. Backup writers use it so they never hold the cache lock while
// touching disk.
func (c *Cache) Snapshot() []Message {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Message, 0, len(c.byID))
	for _, m := range c.byID {
		out = append(out, m)
	}
	return out
}

// MessageBySID returns a single cached message, if present.
func (c *Cache) MessageBySID(sid string) (Message, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.byID[sid]
	return m, ok
}

// Conversations returns summaries (without message bodies) for the
// requested partition, sorted newest last-message first. Conversations
// that never resolved a timestamp sort last.
func (c *Cache) Conversations(p Partition, blocked BlockChecker) []Conversation {
	c.mu.RLock()
	out := make([]Conversation, 0, len(c.convs))
	for _, conv := range c.convs {
		if !inPartition(conv.ContactNumber, p, blocked) {
			continue
		}
		out = append(out, Conversation{
			ContactNumber:   conv.ContactNumber,
			LastMessage:     conv.LastMessage,
			LastMessageDate: conv.LastMessageDate,
			TotalMessages:   conv.TotalMessages,
		})
	}
	c.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].LastMessageDate, out[j].LastMessageDate
		if a.IsZero() != b.IsZero() {
			return !a.IsZero()
		}
		return a.After(b)
	})
	return out
}

func inPartition(number string, p Partition, blocked BlockChecker) bool {
	switch p {
	case PartitionNormal:
		return blocked == nil || !blocked.IsBlocked(number)
	case PartitionBlocked:
		return blocked != nil && blocked.IsBlocked(number)
	default:
		return true
	}
}

// ConversationMessages returns the full thread for a contact sorted
// ascending by effective timestamp. When no aggregate exists yet
// (aggregation can lag a partially merged sync) it falls back to
// scanning the whole message store for a sender or recipient match.
func (c *Cache) ConversationMessages(number string) []Message {
	c.mu.RLock()
	var msgs []Message
	if conv, ok := c.convs[number]; ok {
		msgs = append([]Message(nil), conv.Messages...)
	} else {
		for _, m := range c.byID {
			if m.From == number || m.To == number {
				msgs = append(msgs, m)
			}
		}
	}
	c.mu.RUnlock()

	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].EffectiveTime().Before(msgs[j].EffectiveTime())
	})
	return msgs
}
