// Package bridge is the BrokerGateway for an MT5 terminal bridge reached over
// a websocket. One connection carries every account; calls are correlated with
// responses by request id.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"mt5_copier/internal/domain"
	"mt5_copier/internal/infra"

	"github.com/gorilla/websocket"
)

const (
	handshakeTimeout = 10 * time.Second
	pingInterval     = 30 * time.Second
	readTimeout      = 60 * time.Second
	writeTimeout     = 10 * time.Second
	maxRetries       = 10

	defaultRequestTimeout = 10 * time.Second
)

var (
	// ErrNotConnected is returned while the bridge connection is down.
	ErrNotConnected = errors.New("bridge not connected")
	// ErrConnectionLost fails calls still waiting when the connection drops.
	ErrConnectionLost = errors.New("bridge connection lost")
)

// Options configures a Client.
type Options struct {
	URL            string
	Key            string
	Secret         string
	RequestTimeout time.Duration
	MaxSlippage    int
	Magic          int64
	Logger         *slog.Logger
}

// Client implements domain.BrokerGateway and domain.SymbolSpecProvider.
type Client struct {
	url       string
	path      string
	signer    *Signer
	timeout   time.Duration
	deviation int
	magic     int64
	logger    *slog.Logger

	conn      *websocket.Conn
	mu        sync.RWMutex
	writeMu   sync.Mutex
	connected bool

	pendingMu sync.Mutex
	pending   map[string]chan response
	seq       atomic.Uint64

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewClient validates opt and builds an idle client. Call Start to dial.
func NewClient(opt Options) (*Client, error) {
	u, err := url.Parse(opt.URL)
	if err != nil {
		return nil, fmt.Errorf("parse bridge url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("bridge url %q: scheme must be ws or wss", opt.URL)
	}
	timeout := opt.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	logger := opt.Logger
	if logger == nil {
		logger = slog.Default()
	}
	path := u.Path
	if path == "" {
		path = "/"
	}
	return &Client{
		url:       opt.URL,
		path:      path,
		signer:    NewSigner(opt.Key, opt.Secret),
		timeout:   timeout,
		deviation: opt.MaxSlippage,
		magic:     opt.Magic,
		logger:    logger.With(slog.String("module", "bridge")),
		pending:   make(map[string]chan response),
	}, nil
}

// Start runs the connection loop until ctx is cancelled or Close is called.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.cancel != nil {
		c.mu.Unlock()
		return errors.New("bridge client already started")
	}
	ctx, c.cancel = context.WithCancel(ctx)
	c.mu.Unlock()

	c.wg.Add(2)
	go c.connectionLoop(ctx)
	go func() {
		defer c.wg.Done()
		<-ctx.Done()
		c.closeConnection()
	}()
	return nil
}

// Connected reports whether the websocket is up.
func (c *Client) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// Close stops the connection loop and fails pending calls.
func (c *Client) Close() error {
	c.mu.RLock()
	cancel := c.cancel
	c.mu.RUnlock()
	if cancel != nil {
		cancel()
	}
	c.closeConnection()
	c.wg.Wait()
	c.failPending(ErrConnectionLost)
	return nil
}

func (c *Client) connectionLoop(ctx context.Context) {
	defer c.wg.Done()
	retryCount := 0
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := c.connect(ctx); err != nil {
			c.logger.Warn("Bridge connection failed", slog.Any("error", err), slog.Int("retry", retryCount))
			delay := infra.CalculateBackoff(retryCount)
			retryCount++
			if retryCount > maxRetries {
				retryCount = 0
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
				continue
			}
		}

		retryCount = 0
		c.readLoop(ctx)
		c.failPending(ErrConnectionLost)
	}
}

func (c *Client) connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, c.url, c.signer.Headers(c.path))
	if err != nil {
		return fmt.Errorf("dial failed: %w", err)
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()

	c.logger.Info("Bridge connected", slog.String("url", c.url))
	return nil
}

func (c *Client) readLoop(ctx context.Context) {
	done := make(chan struct{})
	defer close(done)
	go c.pingLoop(done)

	for {
		select {
		case <-ctx.Done():
			c.closeConnection()
			return
		default:
		}

		c.mu.RLock()
		conn := c.conn
		c.mu.RUnlock()
		if conn == nil {
			return
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))

		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				c.logger.Warn("Bridge read failed", slog.Any("error", err))
			}
			c.closeConnection()
			return
		}
		c.handleMessage(msg)
	}
}

func (c *Client) pingLoop(done <-chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			c.mu.RLock()
			conn := c.conn
			c.mu.RUnlock()
			if conn == nil {
				return
			}
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				c.logger.Debug("Bridge ping failed", slog.Any("error", err))
			}
		}
	}
}

func (c *Client) handleMessage(msg []byte) {
	var resp response
	if err := json.Unmarshal(msg, &resp); err != nil || resp.ID == "" {
		c.logger.Debug("Bridge message ignored", slog.Int("bytes", len(msg)))
		return
	}

	c.pendingMu.Lock()
	ch, ok := c.pending[resp.ID]
	delete(c.pending, resp.ID)
	c.pendingMu.Unlock()

	if ok {
		ch <- resp
	}
}

func (c *Client) threadSafeWrite(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.conn == nil {
		return ErrNotConnected
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *Client) closeConnection() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.connected = false
}

// failPending answers every waiting call with a connection_lost error.
func (c *Client) failPending(cause error) {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	for id, ch := range c.pending {
		ch <- response{ID: id, Error: &bridgeError{Code: codeConnectionLost, Message: cause.Error()}}
		delete(c.pending, id)
	}
}

// call sends one request and waits for its response. Remote failures are
// returned as *bridgeError; the caller maps them.
func (c *Client) call(ctx context.Context, op, account string, params, out any) error {
	if !c.Connected() {
		return domain.NewConnectivityError(op, account, ErrNotConnected)
	}

	id := strconv.FormatUint(c.seq.Add(1), 10)
	data, err := json.Marshal(request{ID: id, Op: op, Account: account, Params: params})
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", op, err)
	}

	ch := make(chan response, 1)
	c.pendingMu.Lock()
	c.pending[id] = ch
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
	}()

	if err := c.threadSafeWrite(data); err != nil {
		return domain.NewConnectivityError(op, account, err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	select {
	case resp := <-ch:
		if resp.Error != nil {
			return resp.Error
		}
		if !resp.OK {
			return &bridgeError{Code: "unknown", Message: "response without ok flag"}
		}
		if out != nil && len(resp.Result) > 0 {
			if err := json.Unmarshal(resp.Result, out); err != nil {
				return fmt.Errorf("decode %s result: %w", op, err)
			}
		}
		return nil
	case <-ctx.Done():
		return domain.NewConnectivityError(op, account, ctx.Err())
	}
}
