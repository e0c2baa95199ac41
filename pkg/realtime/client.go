package realtime

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/omnitutor/tutor-server/internal/protocol"
)

// Conn is an open socket to the realtime backend. Send may be called from
// any goroutine; ReadEvent must be called from a single goroutine so events
// are handled in arrival order.
type Conn interface {
	Send(ev protocol.ClientEvent) error
	ReadEvent() (protocol.ServerEvent, error)
	Close() error
}

// Dialer opens backend connections. The transport protocol itself is an
// external collaborator; implementations only carry frames.
type Dialer interface {
	Dial(ctx context.Context, sessionID string) (Conn, error)
}

// ClientConfig holds backend connection settings.
type ClientConfig struct {
	// BackendURL is the websocket base, e.g. wss://host. The session id is
	// appended as /ws/{session_id}.
	BackendURL  string
	AccessToken string
}

// BackendDialer dials the realtime backend over websocket.
type BackendDialer struct {
	cfg    ClientConfig
	logger *zap.Logger
}

// NewBackendDialer creates a dialer for cfg.
func NewBackendDialer(cfg ClientConfig, logger *zap.Logger) *BackendDialer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BackendDialer{cfg: cfg, logger: logger}
}

// Dial opens the backend socket for one session. There is no retry: a failed
// dial is surfaced to the caller and the session stays disconnected.
func (d *BackendDialer) Dial(ctx context.Context, sessionID string) (Conn, error) {
	if d.cfg.BackendURL == "" {
		return nil, errors.New("realtime backend url is empty")
	}
	endpoint, err := url.JoinPath(d.cfg.BackendURL, "ws", sessionID)
	if err != nil {
		return nil, err
	}

	headers := http.Header{}
	if d.cfg.AccessToken != "" {
		headers.Set("Authorization", "Bearer "+d.cfg.AccessToken)
	}

	dialer := websocket.Dialer{}
	conn, _, err := dialer.DialContext(ctx, endpoint, headers)
	if err != nil {
		return nil, err
	}
	d.logger.Info("realtime backend connected",
		zap.String("endpoint", endpoint),
		zap.String("session_id", sessionID),
	)
	return &wsConn{conn: conn, logger: d.logger}, nil
}

type wsConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	logger  *zap.Logger
}

func (c *wsConn) Send(ev protocol.ClientEvent) error {
	data, err := protocol.EncodeClientEvent(ev)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// ReadEvent returns the next well-formed backend event. Malformed frames
// are logged and skipped so one bad event never tears the session down.
func (c *wsConn) ReadEvent() (protocol.ServerEvent, error) {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return protocol.ServerEvent{}, err
		}
		ev, err := protocol.DecodeServerEvent(data)
		if err != nil {
			c.logger.Warn("malformed realtime event skipped", zap.Error(err))
			continue
		}
		return ev, nil
	}
}

func (c *wsConn) Close() error {
	return c.conn.Close()
}
