package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

const (
	serviceBucket = "services"
	userBucket    = "users"

	// userKeySep joins service and username; NUL cannot appear in either.
	userKeySep = "\x00"
)

// boltStore implements a Store backed by BoltDB.
type boltStore struct {
	db *bolt.DB
}

// openBolt initializes a BoltDB-backed Store.
func openBolt(path string) (Store, error) {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage directory: %w", err)
		}
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bbolt db: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(serviceBucket)); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists([]byte(userBucket))
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("init buckets: %w", err)
	}

	return &boltStore{db: db}, nil
}

// Close closes the BoltDB store.
func (b *boltStore) Close() error {
	if b == nil || b.db == nil {
		return nil
	}
	return b.db.Close()
}

// PutService stores or replaces a service record keyed by name.
func (b *boltStore) PutService(rec ServiceRecord) error {
	value, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode service record: %w", err)
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(serviceBucket))
		if bucket == nil {
			return fmt.Errorf("service bucket missing")
		}
		return bucket.Put([]byte(rec.Create.Name), value)
	})
}

// DeleteService removes a service record and all of its user records.
func (b *boltStore) DeleteService(name string) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(serviceBucket))
		if bucket == nil {
			return fmt.Errorf("service bucket missing")
		}
		if err := bucket.Delete([]byte(name)); err != nil {
			return err
		}

		users := tx.Bucket([]byte(userBucket))
		if users == nil {
			return fmt.Errorf("user bucket missing")
		}
		prefix := []byte(name + userKeySep)
		cursor := users.Cursor()
		for k, _ := cursor.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = cursor.Next() {
			if err := cursor.Delete(); err != nil {
				return err
			}
		}
		return nil
	})
}

// PutUser stores or replaces a user record keyed by service and username.
func (b *boltStore) PutUser(rec UserRecord) error {
	value, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode user record: %w", err)
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(userBucket))
		if bucket == nil {
			return fmt.Errorf("user bucket missing")
		}
		return bucket.Put(userKey(rec.Service, rec.Username), value)
	})
}

// DeleteUser removes a single user record.
func (b *boltStore) DeleteUser(service, username string) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(userBucket))
		if bucket == nil {
			return fmt.Errorf("user bucket missing")
		}
		return bucket.Delete(userKey(service, username))
	})
}

// Load reads every persisted service and user record.
func (b *boltStore) Load() ([]ServiceRecord, []UserRecord, error) {
	var services []ServiceRecord
	var users []UserRecord

	err := b.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(serviceBucket))
		if bucket == nil {
			return fmt.Errorf("service bucket missing")
		}
		if err := bucket.ForEach(func(_, v []byte) error {
			var rec ServiceRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("decode service record: %w", err)
			}
			services = append(services, rec)
			return nil
		}); err != nil {
			return err
		}

		userB := tx.Bucket([]byte(userBucket))
		if userB == nil {
			return fmt.Errorf("user bucket missing")
		}
		return userB.ForEach(func(_, v []byte) error {
			var rec UserRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("decode user record: %w", err)
			}
			users = append(users, rec)
			return nil
		})
	})
	if err != nil {
		return nil, nil, err
	}
	return services, users, nil
}

func userKey(service, username string) []byte {
	return []byte(service + userKeySep + username)
}
