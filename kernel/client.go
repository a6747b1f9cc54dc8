// Package kernel is the console's client for a kernel daemon listening on a
// Unix domain socket. Each request opens a connection, writes one JSON line
// and reads one JSON line back.
package kernel

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jellydator/ttlcache/v3"

	kconsole "github.com/Paranoid-AF/kconsole"
)

// ErrNoReply is returned when the kernel closes the connection without
// answering, which it does for requests superseded by a newer one.
var ErrNoReply = errors.New("kernel closed connection without reply")

const (
	defaultTimeout = 30 * time.Second
	maxReplyBytes  = 4 << 20
)

// Client talks to one kernel daemon. It is safe for concurrent use.
type Client struct {
	sockPath  string
	sessionID string
	timeout   time.Duration
	cacheTTL  time.Duration

	nextID atomic.Int64

	mu       sync.Mutex
	kernelID string

	cache     *ttlcache.Cache[string, *kconsole.InspectReply]
	closeOnce sync.Once
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout bounds requests whose context carries no deadline.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithInspectCacheTTL caches found inspect replies for d. Zero disables the
// cache.
func WithInspectCacheTTL(d time.Duration) Option {
	return func(c *Client) { c.cacheTTL = d }
}

// WithSessionID overrides the generated session identifier.
func WithSessionID(id string) Option {
	return func(c *Client) { c.sessionID = id }
}

// New creates a client for the kernel at sockPath. No connection is made
// until the first request.
func New(sockPath string, opts ...Option) *Client {
	c := &Client{
		sockPath:  sockPath,
		sessionID: uuid.Must(uuid.NewV7()).String(),
		timeout:   defaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.cacheTTL > 0 {
		c.cache = ttlcache.New[string, *kconsole.InspectReply](
			ttlcache.WithTTL[string, *kconsole.InspectReply](c.cacheTTL),
			ttlcache.WithDisableTouchOnHit[string, *kconsole.InspectReply](),
		)
		go c.cache.Start()
	}
	return c
}

// SocketPath returns the kernel socket the client dials.
func (c *Client) SocketPath() string { return c.sockPath }

// SessionID returns the identifier sent with every request.
func (c *Client) SessionID() string { return c.sessionID }

// Close stops the inspect cache. The client must not be used afterwards.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		if c.cache != nil {
			c.cache.Stop()
		}
	})
}

// Complete asks the kernel for completion candidates at cursorPos.
func (c *Client) Complete(ctx context.Context, code string, cursorPos int) (*kconsole.CompleteReply, error) {
	var reply kconsole.CompleteReply
	err := c.roundTrip(ctx, &kconsole.Request{
		Type:      kconsole.TypeComplete,
		Code:      code,
		CursorPos: cursorPos,
	}, &reply)
	if err != nil {
		return nil, err
	}
	return &reply, nil
}

// Inspect asks the kernel to describe the token at cursorPos. Found replies
// are served from the cache until the next execution.
func (c *Client) Inspect(ctx context.Context, code string, cursorPos int, detailLevel int) (*kconsole.InspectReply, error) {
	key := strconv.Itoa(detailLevel) + ":" + strconv.Itoa(cursorPos) + ":" + code
	if c.cache != nil {
		if item := c.cache.Get(key); item != nil {
			slog.Debug("inspect cache hit", "pos", cursorPos)
			return item.Value(), nil
		}
	}

	var reply kconsole.InspectReply
	err := c.roundTrip(ctx, &kconsole.Request{
		Type:        kconsole.TypeInspect,
		Code:        code,
		CursorPos:   cursorPos,
		DetailLevel: detailLevel,
	}, &reply)
	if err != nil {
		return nil, err
	}
	if c.cache != nil && reply.Status == kconsole.StatusOK && reply.Found {
		c.cache.Set(key, &reply, ttlcache.DefaultTTL)
	}
	return &reply, nil
}

// Execute runs code on the kernel. A reply with status "error" is returned
// as is; only transport failures produce an error.
func (c *Client) Execute(ctx context.Context, code string) (*kconsole.ExecuteReply, error) {
	var reply kconsole.ExecuteReply
	err := c.roundTrip(ctx, &kconsole.Request{
		Type: kconsole.TypeExecute,
		Code: code,
	}, &reply)
	// Execution may redefine anything a cached tooltip describes.
	c.purge()
	if err != nil {
		return nil, err
	}
	return &reply, nil
}

// KernelInfo fetches the kernel's banner and language. A changed kernel ID
// (the daemon restarted) drops cached inspect replies.
func (c *Client) KernelInfo(ctx context.Context) (*kconsole.KernelInfoReply, error) {
	var reply kconsole.KernelInfoReply
	if err := c.roundTrip(ctx, &kconsole.Request{Type: kconsole.TypeKernelInfo}, &reply); err != nil {
		return nil, err
	}
	c.mu.Lock()
	changed := c.kernelID != "" && c.kernelID != reply.KernelID
	c.kernelID = reply.KernelID
	c.mu.Unlock()
	if changed {
		slog.Info("kernel restarted", "kernel_id", reply.KernelID)
		c.purge()
	}
	return &reply, nil
}

// History returns up to n of the kernel's most recently executed inputs,
// oldest first.
func (c *Client) History(ctx context.Context, n int) ([]string, error) {
	var reply kconsole.HistoryReply
	if err := c.roundTrip(ctx, &kconsole.Request{Type: kconsole.TypeHistory, N: n}, &reply); err != nil {
		return nil, err
	}
	if reply.Status != kconsole.StatusOK {
		if reply.Error != nil {
			return nil, reply.Error
		}
		return nil, fmt.Errorf("history: status %q", reply.Status)
	}
	return reply.History, nil
}

func (c *Client) purge() {
	if c.cache != nil {
		c.cache.DeleteAll()
	}
}

func (c *Client) roundTrip(ctx context.Context, req *kconsole.Request, reply any) error {
	req.RequestID = int(c.nextID.Add(1))
	req.SessionID = c.sessionID

	if _, ok := ctx.Deadline(); !ok && c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", c.sockPath)
	if err != nil {
		return fmt.Errorf("dial kernel: %w", err)
	}
	defer conn.Close()

	// Unblock reads and writes as soon as ctx is done.
	stop := context.AfterFunc(ctx, func() {
		conn.SetDeadline(time.Now())
	})
	defer stop()

	data, err := json.Marshal(req)
	if err != nil {
		return err
	}
	slog.Debug("request", "data", string(data))
	if _, err := conn.Write(append(data, '\n')); err != nil {
		return ctxErr(ctx, fmt.Errorf("send %s: %w", req.Type, err))
	}

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), maxReplyBytes)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return ctxErr(ctx, fmt.Errorf("read %s reply: %w", req.Type, err))
		}
		return ctxErr(ctx, ErrNoReply)
	}
	raw := scanner.Bytes()
	slog.Debug("response", "data", string(raw))
	if err := json.Unmarshal(raw, reply); err != nil {
		return fmt.Errorf("decode %s reply: %w", req.Type, err)
	}
	return nil
}

// ctxErr prefers the context's error when the context ended the exchange.
func ctxErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}
