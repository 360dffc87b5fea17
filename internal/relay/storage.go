package relay

import (
	"cmp"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"os"
	"slices"
	"sync"
	"time"
)

// ================================================================================
// STORAGE BACKEND FOR THE STEGO RELAY
// Messages are chunked stego images waiting to be fetched over DNS.
// ================================================================================

var (
	ErrNotFound = errors.New("not found")
	ErrExists   = errors.New("already exists")
)

// MessageState tracks lifecycle
type MessageState int

const (
	StateNew       MessageState = iota // uploaded, never fetched
	StateDelivered                     // announced to at least one client
	StateConsumed                      // acknowledged by a client
)

func (s MessageState) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateDelivered:
		return "delivered"
	case StateConsumed:
		return "consumed"
	default:
		return "unknown"
	}
}

// Message is one relayed stego image in chunked form
type Message struct {
	ID          string            `json:"id"`           // 32-hex message label
	Chunks      map[string]string `json:"chunks"`       // chunk label -> encoded chunk
	TotalChunks int               `json:"total_chunks"` // expected chunk count
	Manifest    string            `json:"manifest"`     // manifest TXT value
	Size        int               `json:"size"`         // reassembled bytes
	CreatedAt   time.Time         `json:"created_at"`
	State       MessageState      `json:"state"`
	Consumers   []ConsumerRecord  `json:"consumers"` // who has been told about it
}

// ConsumerRecord tracks who fetched what
type ConsumerRecord struct {
	ClientID  string    `json:"client_id"`
	FetchedAt time.Time `json:"fetched_at"`
}

func (m *Message) clone() *Message {
	c := *m
	c.Chunks = maps.Clone(m.Chunks)
	c.Consumers = slices.Clone(m.Consumers)
	return &c
}

// Storage is the relay's message store
type Storage interface {
	StoreMessage(msg *Message) error
	GetMessage(id string) (*Message, error)
	GetChunk(msgID, chunkLabel string) (string, error)

	// Queue semantics
	GetNewMessages(clientID string) ([]*Message, error)
	MarkAsDelivered(msgID, clientID string) error
	MarkAsConsumed(msgID, clientID string) error

	// Management
	ListMessages() ([]*Message, error)
	CleanExpired(ttl time.Duration) (int, error)
	GetStats() StorageStats
}

// StorageStats provides metrics
type StorageStats struct {
	TotalMessages int `json:"total_messages"`
	NewMessages   int `json:"new_messages"`
	Delivered     int `json:"delivered"`
	Consumed      int `json:"consumed"`
	TotalChunks   int `json:"total_chunks"`
	TotalBytes    int `json:"total_bytes"`
}

// ================================================================================
// IN-MEMORY STORAGE
// ================================================================================

// MemoryStorage keeps everything in RAM
type MemoryStorage struct {
	messages map[string]*Message // msgID -> Message
	chunks   map[string]string   // chunk label -> data
	index    map[string][]string // clientID -> []msgID already announced
	mu       sync.RWMutex
	now      func() time.Time
}

// NewMemoryStorage creates in-memory storage
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		messages: make(map[string]*Message),
		chunks:   make(map[string]string),
		index:    make(map[string][]string),
		now:      time.Now,
	}
}

// StoreMessage adds a new message with all of its chunks at once
func (ms *MemoryStorage) StoreMessage(msg *Message) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if _, exists := ms.messages[msg.ID]; exists {
		return fmt.Errorf("message %s: %w", msg.ID, ErrExists)
	}

	stored := msg.clone()
	stored.State = StateNew
	stored.CreatedAt = ms.now()
	ms.messages[stored.ID] = stored

	for label, data := range stored.Chunks {
		ms.chunks[label] = data
	}
	return nil
}

// GetMessage retrieves a copy of a message by ID
func (ms *MemoryStorage) GetMessage(id string) (*Message, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	msg, exists := ms.messages[id]
	if !exists {
		return nil, fmt.Errorf("message %s: %w", id, ErrNotFound)
	}
	return msg.clone(), nil
}

// GetChunk retrieves a specific chunk
func (ms *MemoryStorage) GetChunk(msgID, chunkLabel string) (string, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	if _, exists := ms.messages[msgID]; !exists {
		return "", fmt.Errorf("message %s: %w", msgID, ErrNotFound)
	}
	data, exists := ms.chunks[chunkLabel]
	if !exists {
		return "", fmt.Errorf("chunk %s: %w", chunkLabel, ErrNotFound)
	}
	return data, nil
}

// GetNewMessages returns messages the client has not been told about yet,
// oldest first. Consumed messages are never returned.
func (ms *MemoryStorage) GetNewMessages(clientID string) ([]*Message, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	seen := make(map[string]bool)
	for _, id := range ms.index[clientID] {
		seen[id] = true
	}

	var fresh []*Message
	for id, msg := range ms.messages {
		if !seen[id] && msg.State != StateConsumed {
			fresh = append(fresh, msg.clone())
		}
	}
	slices.SortFunc(fresh, func(a, b *Message) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return fresh, nil
}

// MarkAsDelivered records that a client has been told about a message
func (ms *MemoryStorage) MarkAsDelivered(msgID, clientID string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	msg, exists := ms.messages[msgID]
	if !exists {
		return fmt.Errorf("message %s: %w", msgID, ErrNotFound)
	}

	if msg.State == StateNew {
		msg.State = StateDelivered
	}
	msg.Consumers = append(msg.Consumers, ConsumerRecord{
		ClientID:  clientID,
		FetchedAt: ms.now(),
	})
	ms.index[clientID] = append(ms.index[clientID], msgID)
	return nil
}

// MarkAsConsumed marks message as fully processed
func (ms *MemoryStorage) MarkAsConsumed(msgID, clientID string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	msg, exists := ms.messages[msgID]
	if !exists {
		return fmt.Errorf("message %s: %w", msgID, ErrNotFound)
	}
	msg.State = StateConsumed
	return nil
}

// ListMessages returns copies of all messages ordered by ID
func (ms *MemoryStorage) ListMessages() ([]*Message, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	messages := make([]*Message, 0, len(ms.messages))
	for _, id := range slices.Sorted(maps.Keys(ms.messages)) {
		messages = append(messages, ms.messages[id].clone())
	}
	return messages, nil
}

// CleanExpired removes messages older than ttl
func (ms *MemoryStorage) CleanExpired(ttl time.Duration) (int, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	cutoff := ms.now().Add(-ttl)
	removed := 0

	for id, msg := range ms.messages {
		if !msg.CreatedAt.Before(cutoff) {
			continue
		}
		for label := range msg.Chunks {
			delete(ms.chunks, label)
		}
		delete(ms.messages, id)
		removed++
	}

	if removed > 0 {
		for client, ids := range ms.index {
			ids = slices.DeleteFunc(ids, func(id string) bool {
				_, ok := ms.messages[id]
				return !ok
			})
			if len(ids) == 0 {
				delete(ms.index, client)
			} else {
				ms.index[client] = ids
			}
		}
	}
	return removed, nil
}

// GetStats returns storage statistics
func (ms *MemoryStorage) GetStats() StorageStats {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	var stats StorageStats
	for _, msg := range ms.messages {
		stats.TotalMessages++
		stats.TotalChunks += len(msg.Chunks)
		stats.TotalBytes += msg.Size
		switch msg.State {
		case StateNew:
			stats.NewMessages++
		case StateDelivered:
			stats.Delivered++
		case StateConsumed:
			stats.Consumed++
		}
	}
	return stats
}

// ================================================================================
// PERSISTENT STORAGE
// ================================================================================

// FileStorage persists memory storage to a JSON file after every change
type FileStorage struct {
	*MemoryStorage
	dataFile string
	mu       sync.Mutex
}

type snapshot struct {
	Messages map[string]*Message `json:"messages"`
	Index    map[string][]string `json:"index"`
}

// NewFileStorage creates persistent storage, loading dataFile if it exists
func NewFileStorage(dataFile string) (*FileStorage, error) {
	fs := &FileStorage{
		MemoryStorage: NewMemoryStorage(),
		dataFile:      dataFile,
	}

	if err := fs.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load data: %w", err)
	}
	return fs, nil
}

// StoreMessage adds message and persists to disk
func (fs *FileStorage) StoreMessage(msg *Message) error {
	if err := fs.MemoryStorage.StoreMessage(msg); err != nil {
		return err
	}
	return fs.Save()
}

// MarkAsDelivered updates state and persists to disk
func (fs *FileStorage) MarkAsDelivered(msgID, clientID string) error {
	if err := fs.MemoryStorage.MarkAsDelivered(msgID, clientID); err != nil {
		return err
	}
	return fs.Save()
}

// MarkAsConsumed updates state and persists to disk
func (fs *FileStorage) MarkAsConsumed(msgID, clientID string) error {
	if err := fs.MemoryStorage.MarkAsConsumed(msgID, clientID); err != nil {
		return err
	}
	return fs.Save()
}

// CleanExpired removes old messages and persists to disk when anything changed
func (fs *FileStorage) CleanExpired(ttl time.Duration) (int, error) {
	removed, err := fs.MemoryStorage.CleanExpired(ttl)
	if err != nil || removed == 0 {
		return removed, err
	}
	return removed, fs.Save()
}

// Save writes current state to disk (write to temp, then rename)
func (fs *FileStorage) Save() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	fs.MemoryStorage.mu.RLock()
	jsonData, err := json.MarshalIndent(snapshot{
		Messages: fs.messages,
		Index:    fs.index,
	}, "", "  ")
	fs.MemoryStorage.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("failed to marshal data: %w", err)
	}

	tempFile := fs.dataFile + ".tmp"
	if err := os.WriteFile(tempFile, jsonData, 0600); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tempFile, fs.dataFile); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

// Load reads state from disk and rebuilds the chunk index
func (fs *FileStorage) Load() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	jsonData, err := os.ReadFile(fs.dataFile)
	if err != nil {
		return err
	}

	var data snapshot
	if err := json.Unmarshal(jsonData, &data); err != nil {
		return fmt.Errorf("failed to unmarshal data: %w", err)
	}

	fs.MemoryStorage.mu.Lock()
	defer fs.MemoryStorage.mu.Unlock()

	fs.messages = make(map[string]*Message, len(data.Messages))
	fs.chunks = make(map[string]string)
	fs.index = make(map[string][]string, len(data.Index))
	maps.Copy(fs.index, data.Index)

	for id, msg := range data.Messages {
		fs.messages[id] = msg
		for label, chunk := range msg.Chunks {
			fs.chunks[label] = chunk
		}
	}
	return nil
}

// ================================================================================
// QUEUE MANAGER
// ================================================================================

// QueueManager adds publish/consume semantics on top of storage
type QueueManager struct {
	storage Storage
	mu      sync.Mutex
}

// NewQueueManager creates a queue manager
func NewQueueManager(storage Storage) *QueueManager {
	return &QueueManager{storage: storage}
}

// PublishMessage adds a new message to the queue
func (qm *QueueManager) PublishMessage(id string, chunks map[string]string, manifest string, size int) error {
	return qm.storage.StoreMessage(&Message{
		ID:          id,
		Chunks:      chunks,
		TotalChunks: len(chunks),
		Manifest:    manifest,
		Size:        size,
	})
}

// ConsumeMessages announces up to limit new messages to a client and marks
// them delivered. A limit of zero or less means no limit.
func (qm *QueueManager) ConsumeMessages(clientID string, limit int) ([]*Message, error) {
	qm.mu.Lock()
	defer qm.mu.Unlock()

	messages, err := qm.storage.GetNewMessages(clientID)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(messages) > limit {
		messages = messages[:limit]
	}

	for _, msg := range messages {
		if err := qm.storage.MarkAsDelivered(msg.ID, clientID); err != nil {
			return nil, err
		}
	}
	return messages, nil
}

// AcknowledgeMessage marks a message as consumed
func (qm *QueueManager) AcknowledgeMessage(msgID, clientID string) error {
	return qm.storage.MarkAsConsumed(msgID, clientID)
}

// GetMessageStatus describes the current state of a message
func (qm *QueueManager) GetMessageStatus(msgID string) (string, error) {
	msg, err := qm.storage.GetMessage(msgID)
	if err != nil {
		return "", err
	}
	if msg.State == StateDelivered {
		return fmt.Sprintf("delivered to %d clients", len(msg.Consumers)), nil
	}
	return msg.State.String(), nil
}
