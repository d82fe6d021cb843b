// Package ipc serves the live-activity commands as newline-delimited JSON
// over a byte stream (stdin/stdout for `liveactivity serve`).
//
// Request:  {"id": 1, "method": "createLiveActivity", "params": {...}}
// Response: {"id": 1, "ok": true} or {"id": 1, "ok": false, "code": "...", "error": "..."}
//
// Requests are handled in order, one at a time.
package ipc

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"liveactivity/internal/activity"
	"liveactivity/internal/session"
	"liveactivity/pkg/logx"
)

const (
	MethodCreate = "createLiveActivity"
	MethodUpdate = "updateLiveActivity"
	MethodRemove = "removeLiveActivity"
	MethodStatus = "status"

	maxLineBytes = 1 << 20
)

// Error codes returned in Response.Code.
const (
	CodeInvalidRequest     = "invalid_request"
	CodeUnknownMethod      = "unknown_method"
	CodeNoActiveSession    = "no_active_session"
	CodeBackendUnavailable = "backend_unavailable"
	CodePermissionDenied   = "permission_denied"
	CodeBackendError       = "backend_error"
	CodeInternal           = "internal"
)

// Controller is the session state machine the server drives.
type Controller interface {
	Create(ctx context.Context, req activity.CreateRequest) error
	Update(ctx context.Context, req activity.UpdateRequest) error
	Remove(ctx context.Context) error
	Current() (session.Session, bool)
}

type Request struct {
	ID     json.RawMessage `json:"id,omitempty"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

type Response struct {
	ID     json.RawMessage `json:"id,omitempty"`
	OK     bool            `json:"ok"`
	Code   string          `json:"code,omitempty"`
	Error  string          `json:"error,omitempty"`
	Result any             `json:"result,omitempty"`
}

// Status is the result of the status method.
type Status struct {
	Active    bool      `json:"active"`
	Backend   string    `json:"backend"`
	Tag       string    `json:"tag,omitempty"`
	ID        string    `json:"id,omitempty"`
	Title     string    `json:"title,omitempty"`
	CreatedAt time.Time `json:"created_at,omitzero"`
}

type Server struct {
	ctrl    Controller
	backend string
	log     logx.Logger
	timeout time.Duration
}

// NewServer builds a server; backendName is reported by status. Each
// request gets timeout (0 means none).
func NewServer(ctrl Controller, backendName string, timeout time.Duration, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Server{ctrl: ctrl, backend: backendName, timeout: timeout, log: log.With(logx.String("comp", "ipc"))}
}

// Serve reads requests from r until EOF or ctx is done and writes one
// response line per request to w. Blank lines are ignored. A line longer
// than the limit is discarded and answered with invalid_request.
func (s *Server) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	lines := make(chan inputLine)
	readErr := make(chan error, 1)
	go func() {
		defer close(lines)
		br := bufio.NewReaderSize(r, 64*1024)
		for {
			in, err := readLine(br, maxLineBytes)
			if len(in.data) > 0 || in.tooLong {
				select {
				case lines <- in:
				case <-ctx.Done():
					return
				}
			}
			if err != nil {
				if !errors.Is(err, io.EOF) {
					readErr <- err
				}
				return
			}
		}
	}()

	out := &writer{enc: json.NewEncoder(w)}
	for {
		select {
		case <-ctx.Done():
			return nil
		case in, ok := <-lines:
			if !ok {
				select {
				case err := <-readErr:
					return fmt.Errorf("read requests: %w", err)
				default:
				}
				return nil
			}
			var resp Response
			switch {
			case in.tooLong:
				resp = Response{Code: CodeInvalidRequest, Error: fmt.Sprintf("request line exceeds %d bytes", maxLineBytes)}
				s.log.Warn("request line too long", logx.Int("limit", maxLineBytes))
			case len(strings.TrimSpace(string(in.data))) == 0:
				continue
			default:
				resp = s.Handle(ctx, in.data)
			}
			if err := out.write(resp); err != nil {
				return fmt.Errorf("write response: %w", err)
			}
		}
	}
}

type inputLine struct {
	data    []byte
	tooLong bool
}

// readLine returns the next line without its terminator. Past limit bytes
// the rest of the line is consumed and dropped.
func readLine(br *bufio.Reader, limit int) (inputLine, error) {
	var in inputLine
	for {
		chunk, err := br.ReadSlice('\n')
		if !in.tooLong {
			if len(in.data)+len(chunk) > limit+1 {
				in.tooLong = true
				in.data = nil
			} else {
				in.data = append(in.data, chunk...)
			}
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		in.data = bytes.TrimRight(in.data, "\r\n")
		return in, err
	}
}

type writer struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func (w *writer) write(resp Response) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.enc.Encode(resp)
}

// Handle decodes and runs one request line.
func (s *Server) Handle(ctx context.Context, line []byte) Response {
	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		return Response{Code: CodeInvalidRequest, Error: fmt.Sprintf("malformed request: %v", err)}
	}
	resp := Response{ID: req.ID}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := time.Now()
	result, err := s.dispatch(ctx, req)
	if err != nil {
		resp.Code, resp.Error = classify(err), err.Error()
		s.log.Debug("request failed", logx.String("method", req.Method), logx.String("code", resp.Code), logx.Duration("took", time.Since(start)), logx.Err(err))
		return resp
	}
	resp.OK = true
	resp.Result = result
	s.log.Debug("request done", logx.String("method", req.Method), logx.Duration("took", time.Since(start)))
	return resp
}

var errUnknownMethod = errors.New("unknown method")

func (s *Server) dispatch(ctx context.Context, req Request) (any, error) {
	switch req.Method {
	case MethodCreate:
		var p activity.CreateRequest
		if err := decodeParams(req.Params, &p); err != nil {
			return nil, err
		}
		return nil, s.ctrl.Create(ctx, p)
	case MethodUpdate:
		var p activity.UpdateRequest
		if err := decodeParams(req.Params, &p); err != nil {
			return nil, err
		}
		return nil, s.ctrl.Update(ctx, p)
	case MethodRemove:
		return nil, s.ctrl.Remove(ctx)
	case MethodStatus:
		st := Status{Backend: s.backend}
		if sess, ok := s.ctrl.Current(); ok {
			st.Active = true
			st.Tag = sess.Tag
			st.ID = sess.Metadata.ID
			st.Title = sess.Metadata.Title
			st.CreatedAt = sess.Metadata.CreatedAt
		}
		return st, nil
	default:
		return nil, fmt.Errorf("%w %q", errUnknownMethod, req.Method)
	}
}

func decodeParams(raw json.RawMessage, dst any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return fmt.Errorf("%w: params are required", activity.ErrInvalidRequest)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		if errors.Is(err, activity.ErrInvalidRequest) {
			return err
		}
		return fmt.Errorf("%w: %v", activity.ErrInvalidRequest, err)
	}
	return nil
}

func classify(err error) string {
	switch {
	case errors.Is(err, errUnknownMethod):
		return CodeUnknownMethod
	case errors.Is(err, activity.ErrInvalidRequest):
		return CodeInvalidRequest
	case errors.Is(err, activity.ErrNoActiveSession):
		return CodeNoActiveSession
	case errors.Is(err, activity.ErrBackendUnavailable):
		return CodeBackendUnavailable
	case errors.Is(err, activity.ErrPermissionDenied):
		return CodePermissionDenied
	case activity.IsBackendError(err):
		return CodeBackendError
	default:
		return CodeInternal
	}
}
