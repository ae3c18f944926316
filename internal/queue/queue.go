// Package queue provides a SQLite-backed persistent FIFO for MQTT messages.
package queue

import (
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3" // Import for register side-effects.
)

const createTableSQL = `
CREATE TABLE IF NOT EXISTS queued_messages (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	topic TEXT NOT NULL,
	payload TEXT NOT NULL,
	created_at REAL NOT NULL
)`

// DefaultBatchSize is the number of items returned by GetBatch.
const DefaultBatchSize = 50

// Item represents a buffered message.
type Item struct {
	ID        int64
	Topic     string
	Payload   string
	CreatedAt float64
}

// Queue is a durable FIFO of (topic, payload) records. The AUTOINCREMENT id
// keeps ids monotonic even across deletes, so enqueue order equals id order
// for the lifetime of the database file.
type Queue struct {
	mu sync.Mutex
	db *sql.DB
}

// Open opens (or creates) the queue database at path.
func Open(path string) (*Queue, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open queue db %s: %w", path, err)
	}
	// go-sqlite3 races on concurrent writes to a fresh database; a single
	// connection serialises them at the driver level as well.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(createTableSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("create queue table: %w", err)
	}
	return &Queue{db: db}, nil
}

// Enqueue appends a message. The row is durably committed before return.
func (q *Queue) Enqueue(topic, payload string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	createdAt := float64(time.Now().UnixNano()) / float64(time.Second)
	if _, err := q.db.Exec(
		"INSERT INTO queued_messages (topic, payload, created_at) VALUES (?, ?, ?)",
		topic, payload, createdAt,
	); err != nil {
		return fmt.Errorf("enqueue: %w", err)
	}
	return nil
}

// GetBatch returns up to limit oldest items in ascending id order without
// mutating the queue. A limit <= 0 uses DefaultBatchSize.
func (q *Queue) GetBatch(limit int) ([]Item, error) {
	if limit <= 0 {
		limit = DefaultBatchSize
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	rows, err := q.db.Query(
		"SELECT id, topic, payload, created_at FROM queued_messages ORDER BY id ASC LIMIT ?",
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("get batch: %w", err)
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		var item Item
		if err := rows.Scan(&item.ID, &item.Topic, &item.Payload, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("get batch: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("get batch: %w", err)
	}
	return items, nil
}

// Remove deletes the listed rows in a single transaction. An empty id list is
// a no-op.
func (q *Queue) Remove(ids []int64) error {
	if len(ids) == 0 {
		return nil
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	if _, err := q.db.Exec(
		"DELETE FROM queued_messages WHERE id IN ("+placeholders+")", args...,
	); err != nil {
		return fmt.Errorf("remove: %w", err)
	}
	return nil
}

// Count returns the exact current queue length.
func (q *Queue) Count() (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var count int
	if err := q.db.QueryRow("SELECT COUNT(1) FROM queued_messages").Scan(&count); err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	return count, nil
}

// Close releases the backing store.
func (q *Queue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.db.Close()
}
