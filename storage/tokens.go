package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"go.etcd.io/bbolt"
)

const tokenBucket = "UpstreamTokens"

// TokenStore persists upstream WordPress bearer tokens per user. This is
// the only artifact the gateway keeps on disk: conversation state lives
// in memory for the life of a session.
type TokenStore struct {
	db *bbolt.DB
}

// NewTokenStore opens (creating if needed) the token database under
// dataDir.
func NewTokenStore(dataDir string) (*TokenStore, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %v", err)
	}

	dbPath := filepath.Join(dataDir, "buddygate.db")
	db, err := bbolt.Open(dbPath, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %v", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(tokenBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create bucket %s: %v", tokenBucket, err)
	}

	return &TokenStore{db: db}, nil
}

// Close closes the underlying database.
func (s *TokenStore) Close() error {
	return s.db.Close()
}

// StoreToken saves the user's upstream bearer token.
func (s *TokenStore) StoreToken(userID int, token string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(tokenBucket)).Put(tokenKey(userID), []byte(token))
	})
}

// GetToken returns the user's stored token, or "" when there is none.
func (s *TokenStore) GetToken(userID int) (string, error) {
	var token string
	err := s.db.View(func(tx *bbolt.Tx) error {
		if value := tx.Bucket([]byte(tokenBucket)).Get(tokenKey(userID)); value != nil {
			token = string(value)
		}
		return nil
	})
	return token, err
}

// DeleteToken removes the user's stored token.
func (s *TokenStore) DeleteToken(userID int) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(tokenBucket)).Delete(tokenKey(userID))
	})
}

func tokenKey(userID int) []byte {
	return []byte(strconv.Itoa(userID))
}
