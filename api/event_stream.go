package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"aptos-mirror/models"
)

// StreamDialer opens account update sessions. Each session is single-use:
// when the underlying connection fails the session ends and the caller is
// expected to dial a fresh one (the replicator owns the retry policy).
type StreamDialer interface {
	Connect(ctx context.Context) (StreamSession, error)
}

// StreamSession is one live subscription to the account update feed.
type StreamSession interface {
	Subscribe(address string) error
	Updates() <-chan models.AccountUpdate
	Err() error
	Close() error
}

// WSDialer dials the exchange's websocket account stream.
type WSDialer struct {
	URL string
}

// Connect opens a websocket connection to the stream endpoint.
func (d *WSDialer) Connect(ctx context.Context) (StreamSession, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, d.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("stream: dial %s: %w", d.URL, err)
	}
	conn.SetReadLimit(1 << 20)

	return &wsSession{
		conn:    conn,
		updates: make(chan models.AccountUpdate, 64),
		done:    make(chan struct{}),
	}, nil
}

type wsSession struct {
	conn    *websocket.Conn
	updates chan models.AccountUpdate
	done    chan struct{} // closed on Close; unblocks a full updates buffer

	mu        sync.Mutex
	err       error
	closed    bool
	readOnce  sync.Once
	closeOnce sync.Once
}

type subscribeMessage struct {
	Method  string `json:"method"`
	Channel string `json:"channel"`
	Address string `json:"address"`
}

type streamFrame struct {
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
}

// Subscribe registers interest in one account's activity and starts the
// read loop on first use.
func (s *wsSession) Subscribe(address string) error {
	msg := subscribeMessage{
		Method:  "subscribe",
		Channel: "account",
		Address: address,
	}
	if err := s.conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("stream: subscribe %s: %w", address, err)
	}

	s.readOnce.Do(func() {
		go s.readLoop()
	})
	return nil
}

// Updates returns the notification channel. It is closed when the session
// ends; Err reports why.
func (s *wsSession) Updates() <-chan models.AccountUpdate {
	return s.updates
}

// Err returns the terminal session error, if any.
func (s *wsSession) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close tears the session down. Safe to call more than once.
func (s *wsSession) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		close(s.done)
		s.conn.Close()
	})
	return nil
}

func (s *wsSession) readLoop() {
	defer close(s.updates)

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			s.mu.Lock()
			if !s.closed {
				s.err = err
			}
			s.mu.Unlock()
			return
		}

		var frame streamFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			log.Printf("[stream] dropping unparseable frame: %v", err)
			continue
		}
		if frame.Channel != "account" {
			// Subscription acks, heartbeats, etc.
			continue
		}

		var update models.AccountUpdate
		if err := json.Unmarshal(frame.Data, &update); err != nil {
			log.Printf("[stream] dropping malformed account update: %v", err)
			continue
		}
		if update.Timestamp.IsZero() {
			update.Timestamp = time.Now().UTC()
		}
		if err := update.Validate(); err != nil {
			log.Printf("[stream] dropping invalid account update: %v", err)
			continue
		}

		// A consumer that stopped reading must not pin this goroutine
		// once the buffer fills; Close releases the send.
		select {
		case s.updates <- update:
		case <-s.done:
			return
		}
	}
}
