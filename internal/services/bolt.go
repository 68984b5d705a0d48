package services

import (
	"cmp"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/MegaGrindStone/tutor-web-ui/internal/models"
	bolt "go.etcd.io/bbolt"
)

// BoltDB implements History on a BoltDB file. Chats live in a single bucket keyed by id, and each chat
// gets its own bucket of messages keyed by an increasing sequence so iteration follows conversation
// order.
type BoltDB struct {
	db *bolt.DB
}

// ErrChatNotFound is returned when writing to a chat that does not exist.
var ErrChatNotFound = errors.New("chat not found")

type boltChat struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type boltMessage struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Subject   string    `json:"subject,omitempty"`
	Source    string    `json:"source,omitempty"`
}

const (
	errLoggerKey = "err"

	chatsBucket = "chats"
)

// NewBoltDB opens, or creates with 0600 permissions, the database at path.
func NewBoltDB(path string) (BoltDB, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return BoltDB{}, fmt.Errorf("failed to open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(chatsBucket))
		return err
	})
	if err != nil {
		db.Close()
		return BoltDB{}, fmt.Errorf("failed to create chats bucket: %w", err)
	}

	return BoltDB{db: db}, nil
}

// Close releases the database file.
func (b BoltDB) Close() error {
	return b.db.Close()
}

func messageBucketName(chatID string) []byte {
	return []byte(fmt.Sprintf("chat-%s", chatID))
}

// Chats returns every stored chat, newest first.
func (b BoltDB) Chats(context.Context) ([]models.Conversation, error) {
	var chats []models.Conversation
	err := b.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(chatsBucket)).ForEach(func(_, v []byte) error {
			var chat boltChat
			if err := json.Unmarshal(v, &chat); err != nil {
				return fmt.Errorf("failed to unmarshal chat: %w", err)
			}
			chats = append(chats, models.Conversation{
				ID:        chat.ID,
				Title:     chat.Title,
				CreatedAt: chat.CreatedAt,
				UpdatedAt: chat.UpdatedAt,
			})
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	slices.SortStableFunc(chats, func(a, b models.Conversation) int {
		return cmp.Compare(b.CreatedAt.UnixNano(), a.CreatedAt.UnixNano())
	})
	return chats, nil
}

// AddChat stores a new chat along with its empty message bucket.
func (b BoltDB) AddChat(_ context.Context, chat models.Conversation) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(messageBucketName(chat.ID)); err != nil {
			return fmt.Errorf("failed to create message bucket: %w", err)
		}
		return putChat(tx, chat)
	})
}

// UpdateChat replaces the title and timestamps of an existing chat.
func (b BoltDB) UpdateChat(_ context.Context, chat models.Conversation) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket([]byte(chatsBucket)).Get([]byte(chat.ID)) == nil {
			return ErrChatNotFound
		}
		return putChat(tx, chat)
	})
}

// DeleteChat removes a chat and all of its messages. Deleting an unknown chat is not an error.
func (b BoltDB) DeleteChat(_ context.Context, chatID string) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket([]byte(chatsBucket)).Delete([]byte(chatID)); err != nil {
			return fmt.Errorf("failed to delete chat: %w", err)
		}
		err := tx.DeleteBucket(messageBucketName(chatID))
		if err != nil && !errors.Is(err, bolt.ErrBucketNotFound) {
			return fmt.Errorf("failed to delete message bucket: %w", err)
		}
		return nil
	})
}

// Messages returns the messages of a chat in conversation order. An unknown chat has no messages.
func (b BoltDB) Messages(_ context.Context, chatID string) ([]models.Message, error) {
	var messages []models.Message
	err := b.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(messageBucketName(chatID))
		if b == nil {
			return nil
		}

		return b.ForEach(func(_, v []byte) error {
			var msg boltMessage
			if err := json.Unmarshal(v, &msg); err != nil {
				return fmt.Errorf("failed to unmarshal message: %w", err)
			}
			messages = append(messages, msg.message())
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return messages, nil
}

// AddMessage appends a message to a chat.
func (b BoltDB) AddMessage(_ context.Context, chatID string, message models.Message) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(messageBucketName(chatID))
		if b == nil {
			return ErrChatNotFound
		}

		seq, err := b.NextSequence()
		if err != nil {
			return fmt.Errorf("failed to get next sequence: %w", err)
		}
		key := make([]byte, 8)
		binary.BigEndian.PutUint64(key, seq)

		msg := boltMessage{
			ID:        message.ID,
			Role:      string(message.Role),
			Content:   message.Content,
			Timestamp: message.Timestamp,
		}
		if message.Metadata != nil {
			msg.Subject = message.Metadata.Subject
			msg.Source = message.Metadata.Source
		}

		v, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("failed to marshal message: %w", err)
		}

		return b.Put(key, v)
	})
}

func putChat(tx *bolt.Tx, chat models.Conversation) error {
	v, err := json.Marshal(boltChat{
		ID:        chat.ID,
		Title:     chat.Title,
		CreatedAt: chat.CreatedAt,
		UpdatedAt: chat.UpdatedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal chat: %w", err)
	}
	return tx.Bucket([]byte(chatsBucket)).Put([]byte(chat.ID), v)
}

func (m boltMessage) message() models.Message {
	msg := models.Message{
		ID:        m.ID,
		Role:      models.Role(m.Role),
		Content:   m.Content,
		Timestamp: m.Timestamp,
	}
	if m.Subject != "" || m.Source != "" {
		msg.Metadata = &models.Metadata{Subject: m.Subject, Source: m.Source}
	}
	return msg
}
