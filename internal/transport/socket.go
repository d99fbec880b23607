// internal/transport/socket.go

package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/danupratama/chatsync/internal/chat"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 512 * 1024 // 512KB
)

// Socket is the push-channel adapter: it holds one websocket connection
// to the chat server, announces the local user, and feeds every decoded
// event to the reconciler. Malformed frames are dropped and counted;
// they never break the read loop.
type Socket struct {
	conn       *websocket.Conn
	reconciler *chat.Reconciler
	userID     string

	done      chan struct{}
	closeOnce sync.Once
}

// Dial connects to the push channel, sends the join handshake for the
// local user, and starts the read/write pumps.
func Dial(ctx context.Context, socketURL, token string, reconciler *chat.Reconciler) (*Socket, error) {
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, socketURL, header)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to push channel: %w", err)
	}

	s := &Socket{
		conn:       conn,
		reconciler: reconciler,
		userID:     reconciler.LocalUserID(),
		done:       make(chan struct{}),
	}

	if err := s.join(); err != nil {
		conn.Close()
		return nil, err
	}

	go s.writePump()
	go s.readPump()

	return s, nil
}

// join announces the local user id so the server routes this session's
// pushes to us.
func (s *Socket) join() error {
	frame, err := json.Marshal(chat.Envelope{
		Type: "join",
		Data: json.RawMessage(fmt.Sprintf("%q", s.userID)),
	})
	if err != nil {
		return err
	}

	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("failed to send join: %w", err)
	}
	return nil
}

func (s *Socket) readPump() {
	defer func() {
		s.Close()
	}()

	s.conn.SetReadLimit(maxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, frame, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("transport: read error: %v", err)
			}
			return
		}

		event, err := chat.DecodeEvent(frame)
		if err != nil {
			// Isolate per frame: a bad payload must not kill the loop.
			switch {
			case errors.Is(err, chat.ErrUnknownEventType):
				chat.RecordEventDropped("unknown_type")
			default:
				chat.RecordEventDropped("malformed")
			}
			log.Printf("transport: dropping frame: %v", err)
			continue
		}

		s.reconciler.Apply(event)
	}
}

// writePump keeps the connection alive with periodic pings. All
// application frames go out during the handshake; the server pushes,
// we do not.
func (s *Socket) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-s.done:
			return
		}
	}
}

// Close tears the connection down. Safe to call more than once.
func (s *Socket) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.conn.Close()
	})
}

// Done is closed when the connection is gone.
func (s *Socket) Done() <-chan struct{} {
	return s.done
}
