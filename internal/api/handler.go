package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/DevRickLin/feishu-chatflow/internal/biz/domain"
	"github.com/DevRickLin/feishu-chatflow/internal/biz/usecase"
	"github.com/DevRickLin/feishu-chatflow/internal/queue"
)

// maxUploadBytes bounds a multipart message body
const maxUploadBytes = 32 << 20

// DefaultBotName is the recipient used when a request names none
const DefaultBotName = "bot"

// MessageReceiver accepts inbound chat events
type MessageReceiver interface {
	Receive(ctx context.Context, req usecase.IntakeRequest) (*usecase.IntakeResult, error)
}

// StatsSource reports queue occupancy
type StatsSource interface {
	Stats() queue.Stats
}

// Server is the HTTP ingress for chat events
type Server struct {
	receiver MessageReceiver
	inbound  StatsSource
	outbound StatsSource
	logger   *zap.Logger

	server *http.Server
	addr   string
}

// NewServer creates a new API server
func NewServer(receiver MessageReceiver, inbound, outbound StatsSource, addr string, logger *zap.Logger) *Server {
	s := &Server{
		receiver: receiver,
		inbound:  inbound,
		outbound: outbound,
		addr:     addr,
		logger:   logger.Named("api"),
	}
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the request router
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/messages", s.handleMessages)
	mux.HandleFunc("/stats", s.handleStats)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	return s.accessLog(mux)
}

// Start serves until Stop is called
func (s *Server) Start() error {
	s.logger.Info("listening", zap.String("addr", s.addr))
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully shuts the server down
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// MessageResponse is the reply to POST /messages
type MessageResponse struct {
	ID     string `json:"id"`
	Type   string `json:"type"`
	Queued bool   `json:"queued"`
	Reply  string `json:"reply,omitempty"`
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	req, err := parseMessage(w, r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	res, err := s.receiver.Receive(r.Context(), *req)
	switch {
	case errors.Is(err, usecase.ErrMissingSession), errors.Is(err, usecase.ErrMissingAttachment):
		s.writeError(w, http.StatusBadRequest, err)
		return
	case err != nil:
		s.logger.Error("receive failed", zap.String("session", req.SessionKey), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}

	resp := MessageResponse{
		ID:     res.Message.ID,
		Type:   string(res.Message.Type),
		Queued: res.Queued,
	}
	if res.Reply != nil {
		resp.Reply = res.Reply.Content
	}
	s.writeJSON(w, resp)
}

// parseMessage reads a multipart or urlencoded chat event
func parseMessage(w http.ResponseWriter, r *http.Request) (*usecase.IntakeRequest, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
		if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
			return nil, fmt.Errorf("parse form: %w", err)
		}
	} else if err := r.ParseForm(); err != nil {
		return nil, fmt.Errorf("parse form: %w", err)
	}

	req := &usecase.IntakeRequest{
		Type:       domain.MessageType(r.FormValue("type")),
		Content:    r.FormValue("content"),
		From:       r.FormValue("from_username"),
		To:         r.FormValue("to_username"),
		SessionKey: r.FormValue("session_id"),
	}
	if req.Type == "" {
		req.Type = domain.MessageTypeText
	}
	if req.To == "" {
		req.To = DefaultBotName
	}
	switch req.Type {
	case domain.MessageTypeText, domain.MessageTypePic, domain.MessageTypeLink, domain.MessageTypeVideo:
	default:
		return nil, fmt.Errorf("unsupported message type %q", req.Type)
	}

	if v := r.FormValue("is_group"); v != "" {
		isGroup, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("invalid is_group %q", v)
		}
		req.IsGroup = isGroup
	}

	if r.MultipartForm != nil {
		file, header, err := r.FormFile("file")
		switch {
		case errors.Is(err, http.ErrMissingFile):
		case err != nil:
			return nil, fmt.Errorf("read file: %w", err)
		default:
			defer file.Close()
			data, err := io.ReadAll(file)
			if err != nil {
				return nil, fmt.Errorf("read file: %w", err)
			}
			req.Attachment = &usecase.Attachment{
				FileName:    header.Filename,
				ContentType: header.Header.Get("Content-Type"),
				Data:        data,
			}
			if req.Content == "" {
				req.Content = header.Filename
			}
		}
	}

	return req, nil
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.writeJSON(w, map[string]queue.Stats{
		"inbound":  s.inbound.Stats(),
		"outbound": s.outbound.Stats(),
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
