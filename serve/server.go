package main

import (
	"bufio"
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"os"
	"sync"

	kconsole "github.com/Paranoid-AF/kconsole"
	"github.com/Paranoid-AF/kconsole/engine"
)

const maxRequestBytes = 1 << 20

// Kernel executes, completes and inspects code on behalf of the server.
type Kernel interface {
	Complete(ctx context.Context, code string, cursorPos int) (*kconsole.CompleteReply, error)
	Inspect(ctx context.Context, code string, cursorPos int, detailLevel int) (*kconsole.InspectReply, error)
	Execute(ctx context.Context, code string) (*kconsole.ExecuteReply, error)
	KernelInfo(ctx context.Context) (*kconsole.KernelInfoReply, error)
	History(ctx context.Context, n int) ([]string, error)
	Close()
}

// inflight tracks a cancellable auxiliary request for a session and type.
type inflight struct {
	requestID int
	cancel    context.CancelFunc
}

// errorReply answers requests that fail before reaching the kernel.
type errorReply struct {
	RequestID int             `json:"request_id"`
	Status    string          `json:"status"`
	Error     *kconsole.Error `json:"error"`
}

// Server listens on a Unix domain socket for kernel requests.
type Server struct {
	listener net.Listener
	sockPath string
	kernel   Kernel

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	pending map[string]inflight // session_id + "/" + type
}

// NewServer creates a server backed by a shell engine started in dir.
func NewServer(sockPath, dir string) (*Server, error) {
	eng, err := engine.New(dir)
	if err != nil {
		return nil, err
	}
	srv, err := NewServerWithKernel(sockPath, eng)
	if err != nil {
		eng.Close()
		return nil, err
	}
	return srv, nil
}

// NewServerWithKernel creates a server with a custom Kernel.
func NewServerWithKernel(sockPath string, kernel Kernel) (*Server, error) {
	// Remove stale socket file if it exists
	if err := os.Remove(sockPath); err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	listener, err := net.Listen("unix", sockPath)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		listener: listener,
		sockPath: sockPath,
		kernel:   kernel,
		ctx:      ctx,
		cancel:   cancel,
		pending:  make(map[string]inflight),
	}, nil
}

// Serve accepts connections and handles requests.
func (s *Server) Serve() error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return err
		}
		go s.handleConn(conn)
	}
}

// Close cancels running requests, shuts down the kernel and removes the
// socket file.
func (s *Server) Close() {
	s.cancel()
	s.listener.Close()
	s.kernel.Close()
	os.Remove(s.sockPath)
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), maxRequestBytes)
	if !scanner.Scan() {
		return
	}

	raw := scanner.Bytes()
	slog.Debug("request", "data", string(raw))

	var req kconsole.Request
	if err := json.Unmarshal(raw, &req); err != nil {
		slog.Warn("invalid request", "error", err)
		return
	}

	switch req.Type {
	case kconsole.TypeComplete, kconsole.TypeInspect:
		s.handleAuxiliary(conn, &req)
	case kconsole.TypeExecute:
		reply, err := s.kernel.Execute(s.ctx, req.Code)
		if err != nil {
			s.writeError(conn, req.RequestID, "kernel_error", err.Error())
			return
		}
		if reply.Outputs == nil {
			reply.Outputs = []kconsole.Output{}
		}
		reply.RequestID = req.RequestID
		s.write(conn, reply)
	case kconsole.TypeKernelInfo:
		reply, err := s.kernel.KernelInfo(s.ctx)
		if err != nil {
			s.writeError(conn, req.RequestID, "kernel_error", err.Error())
			return
		}
		reply.RequestID = req.RequestID
		s.write(conn, reply)
	case kconsole.TypeHistory:
		hist, err := s.kernel.History(s.ctx, req.N)
		if err != nil {
			s.writeError(conn, req.RequestID, "kernel_error", err.Error())
			return
		}
		if hist == nil {
			hist = []string{}
		}
		s.write(conn, &kconsole.HistoryReply{
			RequestID: req.RequestID,
			Status:    kconsole.StatusOK,
			History:   hist,
		})
	default:
		s.writeError(conn, req.RequestID, "invalid_request", "unknown request type: "+req.Type)
	}
}

// handleAuxiliary answers complete and inspect requests. A newer request of
// the same type from the same session cancels this one, and a cancelled
// request gets no reply.
func (s *Server) handleAuxiliary(conn net.Conn, req *kconsole.Request) {
	ctx, cancel := context.WithCancel(s.ctx)
	key := ""
	if req.SessionID != "" {
		key = req.SessionID + "/" + req.Type
		s.mu.Lock()
		if prev, ok := s.pending[key]; ok {
			prev.cancel()
		}
		s.pending[key] = inflight{requestID: req.RequestID, cancel: cancel}
		s.mu.Unlock()
	}
	defer func() {
		cancel()
		if key != "" {
			s.mu.Lock()
			if cur, ok := s.pending[key]; ok && cur.requestID == req.RequestID {
				delete(s.pending, key)
			}
			s.mu.Unlock()
		}
	}()

	var (
		reply any
		err   error
	)
	if req.Type == kconsole.TypeComplete {
		var r *kconsole.CompleteReply
		r, err = s.kernel.Complete(ctx, req.Code, req.CursorPos)
		if err == nil {
			if r.Matches == nil {
				r.Matches = []string{}
			}
			r.RequestID = req.RequestID
			reply = r
		}
	} else {
		var r *kconsole.InspectReply
		r, err = s.kernel.Inspect(ctx, req.Code, req.CursorPos, req.DetailLevel)
		if err == nil {
			if r.Data == nil {
				r.Data = kconsole.MimeBundle{}
			}
			r.RequestID = req.RequestID
			reply = r
		}
	}

	// If cancelled, skip writing: the client has already moved on.
	if ctx.Err() != nil {
		slog.Debug("request superseded", "session_id", req.SessionID, "type", req.Type, "request_id", req.RequestID)
		return
	}
	if err != nil {
		s.writeError(conn, req.RequestID, "kernel_error", err.Error())
		return
	}
	s.write(conn, reply)
}

func (s *Server) writeError(conn net.Conn, requestID int, code, message string) {
	s.write(conn, &errorReply{
		RequestID: requestID,
		Status:    kconsole.StatusError,
		Error:     &kconsole.Error{Code: code, Message: message},
	})
}

func (s *Server) write(conn net.Conn, reply any) {
	data, err := json.Marshal(reply)
	if err != nil {
		slog.Error("failed to marshal response", "error", err)
		return
	}

	slog.Debug("response", "data", string(data))

	conn.Write(append(data, '\n'))
}
