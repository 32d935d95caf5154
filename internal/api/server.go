// Package api exposes the chat service over HTTP: intent endpoints backed
// by the sync coordinator, an SSE relay for assistant streams, and a
// WebSocket channel for push updates.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"wayfarer/internal/assist"
	"wayfarer/internal/auth"
	"wayfarer/internal/flights"
	"wayfarer/internal/logging"
	"wayfarer/internal/model"
	"wayfarer/internal/stream"
	syncpkg "wayfarer/internal/sync"
)

// Coordinator is the chat operations surface the handlers need.
type Coordinator interface {
	LoadChats(ctx context.Context, sess syncpkg.SessionContext) ([]model.Chat, error)
	LoadMessages(ctx context.Context, sess syncpkg.SessionContext, chatID string) ([]model.Message, error)
	CreateChat(ctx context.Context, sess syncpkg.SessionContext) (*model.Chat, error)
	DeleteChat(ctx context.Context, sess syncpkg.SessionContext, chatID string) error
	RenameChat(ctx context.Context, sess syncpkg.SessionContext, chatID, title string) error
	SendMessage(ctx context.Context, sess syncpkg.SessionContext, chatID, content string, attachments []model.Attachment, onEvent func(stream.Applied)) (*model.Message, error)
}

// Uploader forwards files to the inference backend.
type Uploader interface {
	Upload(ctx context.Context, files []assist.UploadFile) ([]model.Attachment, error)
}

// FlightSearcher runs flight-offer searches.
type FlightSearcher interface {
	Configured() bool
	SearchOffers(ctx context.Context, q flights.Query) ([]flights.Offer, error)
}

// Server holds dependencies and provides HTTP handlers
type Server struct {
	coordinator Coordinator
	uploader    Uploader
	flights     FlightSearcher
	authProv    auth.Provider
	wsHub       *WebSocketHub
	logger      *logging.Logger
}

// NewServer creates a server and starts the WebSocket hub's event loop.
// The hub is created by the caller because the coordinator uses it for
// push notifications too.
func NewServer(coordinator Coordinator, uploader Uploader, flightSearcher FlightSearcher, authProv auth.Provider, hub *WebSocketHub, logger *logging.Logger) *Server {
	srv := &Server{
		coordinator: coordinator,
		uploader:    uploader,
		flights:     flightSearcher,
		authProv:    authProv,
		wsHub:       hub,
		logger:      logger,
	}

	go srv.wsHub.Run()

	return srv
}

// RegisterRoutes sets up all HTTP routes
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	// Auth
	mux.HandleFunc("/api/login", s.handleLogin)
	mux.HandleFunc("/api/logout", s.handleLogout)
	mux.HandleFunc("/api/register", s.handleRegister)

	// Chats
	mux.HandleFunc("/api/chats", s.handleChats)
	mux.HandleFunc("/api/chat/", s.handleChat)
	mux.HandleFunc("/api/chat/stream", s.handleChatStream)

	// Uploads and flight search
	mux.HandleFunc("/api/upload", s.handleUpload)
	mux.HandleFunc("/api/flights", s.handleFlights)

	// Health and WebSocket
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/ws", s.handleWebSocket)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// session builds the caller's session context from the request context.
func (s *Server) session(r *http.Request) (syncpkg.SessionContext, error) {
	userID, err := auth.GetUserID(r.Context())
	if err != nil {
		return syncpkg.SessionContext{}, err
	}
	return syncpkg.SessionContext{
		UserID:    userID,
		SessionID: auth.GetSessionToken(r.Context()),
	}, nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
