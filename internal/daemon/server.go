package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/Aman-CERP/indexhost/internal/errors"
)

// RequestHandler serves the index methods of the control API.
type RequestHandler interface {
	HandleSearch(ctx context.Context, params SearchParams) (*SearchResponse, error)
	HandleStats(ctx context.Context, params IndexParams) (*StatsResult, error)
	HandleRefresh(ctx context.Context, params IndexParams) (*RefreshResult, error)
	GetStatus() StatusResult
}

// Server listens on a Unix socket and answers one request per connection.
type Server struct {
	socketPath string
	timeout    time.Duration
	handler    RequestHandler

	mu       sync.Mutex
	listener net.Listener
	shutdown bool
	wg       sync.WaitGroup
}

// NewServer creates a server for the given socket path. Requests are
// bounded by timeout.
func NewServer(socketPath string, timeout time.Duration, handler RequestHandler) (*Server, error) {
	if socketPath == "" {
		return nil, errors.ConfigError("socket path cannot be empty", nil)
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Server{socketPath: socketPath, timeout: timeout, handler: handler}, nil
}

// ListenAndServe serves until ctx is cancelled and returns ctx.Err().
func (s *Server) ListenAndServe(ctx context.Context) error {
	// A socket left by a crashed process would make Listen fail.
	_ = os.Remove(s.socketPath)

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return errors.New(errors.ErrCodeNetworkUnavailable, "listen on "+s.socketPath, err)
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	defer func() {
		_ = listener.Close()
		_ = os.Remove(s.socketPath)
	}()

	slog.Info("control_socket_listening", slog.String("socket", s.socketPath))

	stop := context.AfterFunc(ctx, func() {
		s.mu.Lock()
		s.shutdown = true
		s.mu.Unlock()
		_ = listener.Close()
	})
	defer stop()

	for {
		conn, err := listener.Accept()
		if err != nil {
			s.mu.Lock()
			shutdown := s.shutdown
			s.mu.Unlock()
			if shutdown {
				break
			}
			slog.Error("control_accept_failed", slog.String("error", err.Error()))
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConnection(ctx, conn)
		}()
	}

	s.wg.Wait()
	return ctx.Err()
}

func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(s.timeout)); err != nil {
		slog.Warn("control_deadline_failed", slog.String("error", err.Error()))
	}

	var req Request
	if err := json.NewDecoder(conn).Decode(&req); err != nil {
		_ = json.NewEncoder(conn).Encode(NewErrorResponse("", ErrCodeParseError, "failed to parse request"))
		return
	}

	reqCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	resp := s.handleRequest(reqCtx, req)
	slog.Debug("control_request",
		slog.String("method", req.Method),
		slog.String("id", req.ID),
		slog.Bool("ok", resp.Error == nil),
		slog.Duration("duration", time.Since(start)))
	_ = json.NewEncoder(conn).Encode(resp)
}

func (s *Server) handleRequest(ctx context.Context, req Request) Response {
	if req.JSONRPC != "" && req.JSONRPC != "2.0" {
		return NewErrorResponse(req.ID, ErrCodeInvalidRequest, "jsonrpc must be 2.0")
	}

	switch req.Method {
	case MethodPing:
		return NewSuccessResponse(req.ID, PingResult{Pong: true})
	case MethodStatus:
		if s.handler == nil {
			return NewErrorResponse(req.ID, ErrCodeInternalError, "no handler configured")
		}
		return NewSuccessResponse(req.ID, s.handler.GetStatus())
	case MethodSearch:
		var params SearchParams
		if resp, ok := s.decodeParams(req, &params); !ok {
			return resp
		}
		return s.respond(req.ID, ErrCodeSearchFailed, func() (any, error) {
			return s.handler.HandleSearch(ctx, params)
		})
	case MethodStats:
		var params IndexParams
		if resp, ok := s.decodeParams(req, &params); !ok {
			return resp
		}
		return s.respond(req.ID, ErrCodeInternalError, func() (any, error) {
			return s.handler.HandleStats(ctx, params)
		})
	case MethodRefresh:
		var params IndexParams
		if resp, ok := s.decodeParams(req, &params); !ok {
			return resp
		}
		return s.respond(req.ID, ErrCodeRefreshFailed, func() (any, error) {
			return s.handler.HandleRefresh(ctx, params)
		})
	default:
		return NewErrorResponse(req.ID, ErrCodeMethodNotFound, fmt.Sprintf("method not found: %s", req.Method))
	}
}

type validator interface {
	Validate() error
}

// decodeParams fills params from the request. It returns false with the
// error response to send when the request cannot be served.
func (s *Server) decodeParams(req Request, params validator) (Response, bool) {
	if s.handler == nil {
		return NewErrorResponse(req.ID, ErrCodeInternalError, "no handler configured"), false
	}
	data, err := json.Marshal(req.Params)
	if err != nil {
		return NewErrorResponse(req.ID, ErrCodeInvalidParams, "failed to encode params"), false
	}
	if err := json.Unmarshal(data, params); err != nil {
		return NewErrorResponse(req.ID, ErrCodeInvalidParams, "failed to decode params"), false
	}
	if err := params.Validate(); err != nil {
		return NewErrorResponse(req.ID, ErrCodeInvalidParams, err.Error()), false
	}
	return Response{}, true
}

// respond maps handler errors to RPC codes. Unknown indexes get their own
// code so clients can tell them from failures.
func (s *Server) respond(id string, failCode int, fn func() (any, error)) Response {
	result, err := fn()
	if err != nil {
		switch errors.GetCode(err) {
		case errors.ErrCodeIndexNotFound, errors.ErrCodeMissingRegistration:
			return NewErrorResponse(id, ErrCodeIndexNotFound, err.Error())
		default:
			return NewErrorResponse(id, failCode, err.Error())
		}
	}
	return NewSuccessResponse(id, result)
}

// Close stops accepting connections.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.shutdown = true
	if s.listener != nil {
		return s.listener.Close()
	}
	return nil
}
