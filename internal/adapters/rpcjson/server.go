package rpcjson

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/atvirokodosprendimai/pcbuilder/internal/application"
	"github.com/atvirokodosprendimai/pcbuilder/internal/domain"
	"go.uber.org/zap"
)

const (
	codeBadRequest = 40000
	codeNotFound   = 40400
	codeConflict   = 40900
	codeInternal   = 50000
	codeUpstream   = 50200
)

type Server struct {
	service  *application.BuilderService
	logger   *zap.Logger
	listener net.Listener
	path     string
}

type request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	ID      any             `json:"id"`
}

type response struct {
	JSONRPC string      `json:"jsonrpc"`
	Result  any         `json:"result,omitempty"`
	Error   *rpcError   `json:"error,omitempty"`
	ID      interface{} `json:"id"`
}

type rpcError struct {
	Code    int      `json:"code"`
	Message string   `json:"message"`
	Data    []string `json:"data,omitempty"`
}

type sessionParams struct {
	Session string `json:"session"`
	Wait    bool   `json:"wait"`
}

func Start(path string, service *application.BuilderService, logger *zap.Logger) (*Server, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("rpc socket path is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	_ = os.Remove(path)
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, err
	}
	if err := os.Chmod(path, 0o600); err != nil {
		_ = ln.Close()
		_ = os.Remove(path)
		return nil, err
	}

	s := &Server{service: service, logger: logger, listener: ln, path: path}
	go s.serve()
	return s, nil
}

func (s *Server) serve() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		go s.handleConn(conn)
	}
}

func (s *Server) Close() error {
	err := s.listener.Close()
	_ = os.Remove(s.path)
	return err
}

func (s *Server) handleConn(conn net.Conn) {
	defer func() { _ = conn.Close() }()
	dec := json.NewDecoder(conn)
	enc := json.NewEncoder(conn)

	for {
		var req request
		if err := dec.Decode(&req); err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			_ = enc.Encode(response{JSONRPC: "2.0", Error: &rpcError{Code: -32700, Message: "parse error"}, ID: nil})
			return
		}

		resp := s.dispatch(context.Background(), req)
		if err := enc.Encode(resp); err != nil {
			return
		}
	}
}

func (s *Server) dispatch(ctx context.Context, req request) response {
	if req.JSONRPC != "2.0" || strings.TrimSpace(req.Method) == "" {
		return response{JSONRPC: "2.0", Error: &rpcError{Code: -32600, Message: "invalid request"}, ID: req.ID}
	}
	s.logger.Debug("rpc call", zap.String("method", req.Method))

	switch req.Method {
	case "session.create":
		view, err := s.service.CreateSession(ctx)
		return s.result(req.ID, view, err)
	case "session.list":
		var p struct {
			Limit int `json:"limit"`
		}
		if hasParams(req.Params) && !decodeParams(req.Params, &p) {
			return invalidParams(req.ID)
		}
		items, err := s.service.ListSessions(ctx, p.Limit)
		return s.result(req.ID, items, err)
	case "session.show":
		var p sessionParams
		if !decodeParams(req.Params, &p) {
			return invalidParams(req.ID)
		}
		view, err := s.service.Show(ctx, p.Session, p.Wait)
		return s.result(req.ID, view, err)
	case "session.close":
		var p sessionParams
		if !decodeParams(req.Params, &p) {
			return invalidParams(req.ID)
		}
		err := s.service.CloseSession(ctx, p.Session)
		return s.result(req.ID, map[string]any{"closed": p.Session}, err)
	case "session.brand":
		var p struct {
			Session string `json:"session"`
			Brand   string `json:"brand"`
		}
		if !decodeParams(req.Params, &p) {
			return invalidParams(req.ID)
		}
		view, err := s.service.SelectBrand(ctx, p.Session, p.Brand)
		return s.result(req.ID, view, err)
	case "session.select":
		var p struct {
			Session   string `json:"session"`
			Category  string `json:"category"`
			ProductID string `json:"productId"`
		}
		if !decodeParams(req.Params, &p) {
			return invalidParams(req.ID)
		}
		category, err := domain.ParseCategory(p.Category)
		if err != nil {
			return s.fail(req.ID, err)
		}
		view, err := s.service.SelectPart(ctx, p.Session, category, p.ProductID)
		return s.result(req.ID, view, err)
	case "session.fan.add", "session.fan.remove":
		var p struct {
			Session   string `json:"session"`
			ProductID string `json:"productId"`
		}
		if !decodeParams(req.Params, &p) || strings.TrimSpace(p.ProductID) == "" {
			return invalidParams(req.ID)
		}
		if req.Method == "session.fan.add" {
			view, err := s.service.AddFan(ctx, p.Session, p.ProductID)
			return s.result(req.ID, view, err)
		}
		view, err := s.service.RemoveFan(ctx, p.Session, p.ProductID)
		return s.result(req.ID, view, err)
	case "session.refresh":
		var p struct {
			Session    string `json:"session"`
			Categories string `json:"categories"`
		}
		if !decodeParams(req.Params, &p) {
			return invalidParams(req.ID)
		}
		var categories []domain.Category
		for _, raw := range splitCSV(p.Categories) {
			c, err := domain.ParseCategory(raw)
			if err != nil {
				return s.fail(req.ID, err)
			}
			categories = append(categories, c)
		}
		view, err := s.service.Refresh(ctx, p.Session, categories...)
		return s.result(req.ID, view, err)
	case "session.candidates":
		var p struct {
			Session  string `json:"session"`
			Category string `json:"category"`
			Q        string `json:"q"`
			Wait     bool   `json:"wait"`
		}
		if !decodeParams(req.Params, &p) {
			return invalidParams(req.ID)
		}
		category, err := domain.ParseCategory(p.Category)
		if err != nil {
			return s.fail(req.ID, err)
		}
		list, err := s.service.Candidates(ctx, p.Session, category, p.Q, p.Wait)
		return s.result(req.ID, list, err)
	case "session.draft":
		var p sessionParams
		if !decodeParams(req.Params, &p) {
			return invalidParams(req.ID)
		}
		draft, err := s.service.SaveDraft(ctx, p.Session)
		return s.result(req.ID, draft, err)
	case "session.submit":
		var p struct {
			Session string `json:"session"`
			BuildID string `json:"buildId"`
		}
		if !decodeParams(req.Params, &p) {
			return invalidParams(req.ID)
		}
		message, err := s.service.Submit(ctx, p.Session, p.BuildID)
		return s.result(req.ID, map[string]any{"message": message}, err)
	case "session.history":
		var p struct {
			Session string `json:"session"`
			Limit   int    `json:"limit"`
		}
		if !decodeParams(req.Params, &p) {
			return invalidParams(req.ID)
		}
		history, err := s.service.History(ctx, p.Session, p.Limit)
		return s.result(req.ID, history, err)
	case "build.get":
		var p struct {
			BuildID string `json:"buildId"`
		}
		if !decodeParams(req.Params, &p) {
			return invalidParams(req.ID)
		}
		build, err := s.service.FetchBuild(ctx, p.BuildID)
		return s.result(req.ID, build, err)
	default:
		return response{JSONRPC: "2.0", Error: &rpcError{Code: -32601, Message: fmt.Sprintf("method not found: %s", req.Method)}, ID: req.ID}
	}
}

func (s *Server) result(id any, value any, err error) response {
	if err != nil {
		return s.fail(id, err)
	}
	return response{JSONRPC: "2.0", Result: value, ID: id}
}

func (s *Server) fail(id any, err error) response {
	rpcErr := &rpcError{Code: codeFor(err), Message: err.Error()}
	var upstream *domain.UpstreamError
	if errors.As(err, &upstream) {
		rpcErr.Data = upstream.Messages()
	}
	if rpcErr.Code == codeInternal {
		s.logger.Error("rpc call failed", zap.Error(err))
		rpcErr.Message = fmt.Sprintf("internal error: %v", err)
	}
	return response{JSONRPC: "2.0", Error: rpcErr, ID: id}
}

func codeFor(err error) int {
	var upstream *domain.UpstreamError
	switch {
	case errors.Is(err, domain.ErrSessionNotFound), errors.Is(err, domain.ErrBuildNotFound):
		return codeNotFound
	case errors.Is(err, domain.ErrUnknownCategory), errors.Is(err, domain.ErrInvalidSelection):
		return codeBadRequest
	case errors.Is(err, domain.ErrNotVerified), errors.Is(err, domain.ErrNoDraft):
		return codeConflict
	case errors.As(err, &upstream), errors.Is(err, domain.ErrCatalogFetchFailed):
		return codeUpstream
	default:
		return codeInternal
	}
}

func hasParams(raw json.RawMessage) bool {
	trimmed := strings.TrimSpace(string(raw))
	return trimmed != "" && trimmed != "null"
}

func decodeParams(raw json.RawMessage, out any) bool {
	if !hasParams(raw) {
		return false
	}
	return json.Unmarshal(raw, out) == nil
}

func splitCSV(input string) []string {
	parts := strings.Split(input, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func invalidParams(id any) response {
	return response{JSONRPC: "2.0", Error: &rpcError{Code: -32602, Message: "invalid params"}, ID: id}
}
