package memory

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/quorumlabs/quorum/internal/models"
)

const (
	defaultBucket   = "quorum"
	threadKeyPrefix = "thread:"
)

// ThreadRecord is the durable snapshot of one thread.
type ThreadRecord struct {
	ID             string               `json:"id"`
	CreatedAt      int64                `json:"created_at"`
	LastAccessedAt int64                `json:"last_accessed_at"`
	Entries        []models.ThreadEntry `json:"entries"`
}

// Persister stores thread snapshots so conversations survive a restart.
type Persister interface {
	SaveThread(rec ThreadRecord) error
	DeleteThread(id string) error
	LoadThreads() ([]ThreadRecord, error)
}

// BoltPersister keeps thread records in a bbolt database file.
type BoltPersister struct {
	db        *bolt.DB
	closeOnce sync.Once
}

func NewBoltPersister(path string) (*BoltPersister, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(defaultBucket))
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create bucket: %w", err)
	}
	return &BoltPersister{db: db}, nil
}

func (p *BoltPersister) Close() error {
	var err error
	p.closeOnce.Do(func() {
		err = p.db.Close()
	})
	return err
}

func (p *BoltPersister) SaveThread(rec ThreadRecord) error {
	if rec.ID == "" {
		return fmt.Errorf("thread id is required")
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal thread %s: %w", rec.ID, err)
	}
	return p.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(defaultBucket)).Put([]byte(threadKeyPrefix+rec.ID), data)
	})
}

func (p *BoltPersister) DeleteThread(id string) error {
	if id == "" {
		return fmt.Errorf("thread id is required")
	}
	return p.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(defaultBucket)).Delete([]byte(threadKeyPrefix + id))
	})
}

func (p *BoltPersister) LoadThreads() ([]ThreadRecord, error) {
	var records []ThreadRecord
	err := p.db.View(func(tx *bolt.Tx) error {
		cursor := tx.Bucket([]byte(defaultBucket)).Cursor()
		prefix := []byte(threadKeyPrefix)
		for k, v := cursor.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = cursor.Next() {
			if len(v) == 0 {
				continue
			}
			var rec ThreadRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("unmarshal thread %s: %w", k, err)
			}
			if rec.ID == "" {
				continue
			}
			records = append(records, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}
