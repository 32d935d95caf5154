package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"wayfarer/internal/assist"
	"wayfarer/internal/flights"
	"wayfarer/internal/localstore"
	"wayfarer/internal/model"
	"wayfarer/internal/stream"
	syncpkg "wayfarer/internal/sync"
)

const maxUploadBytes = 32 << 20

// handleChats lists the caller's chats or creates a new one.
func (s *Server) handleChats(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	switch r.Method {
	case http.MethodGet:
		chats, err := s.coordinator.LoadChats(r.Context(), sess)
		if err != nil {
			s.logger.Error("failed to load chats: %v", err)
			writeError(w, http.StatusInternalServerError, "failed to load chats")
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"chats": chats})

	case http.MethodPost:
		chat, err := s.coordinator.CreateChat(r.Context(), sess)
		if err != nil {
			s.logger.Error("failed to create chat: %v", err)
			writeError(w, http.StatusInternalServerError, "failed to create chat")
			return
		}
		writeJSON(w, http.StatusCreated, chat)

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleChat dispatches /api/chat/{id} and /api/chat/{id}/messages.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/api/chat/")
	parts := strings.SplitN(rest, "/", 2)
	chatID := parts[0]
	if chatID == "" {
		writeError(w, http.StatusBadRequest, "chat id required")
		return
	}

	sub := ""
	if len(parts) == 2 {
		sub = parts[1]
	}

	switch {
	case sub == "messages" && r.Method == http.MethodGet:
		msgs, err := s.coordinator.LoadMessages(r.Context(), sess, chatID)
		if err != nil {
			s.writeChatError(w, chatID, "load messages", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"messages": msgs})

	case sub == "title" && (r.Method == http.MethodPut || r.Method == http.MethodPost):
		var req struct {
			Title string `json:"title"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Title) == "" {
			writeError(w, http.StatusBadRequest, "title required")
			return
		}
		if err := s.coordinator.RenameChat(r.Context(), sess, chatID, req.Title); err != nil {
			s.writeChatError(w, chatID, "rename chat", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})

	case sub == "" && r.Method == http.MethodDelete:
		if err := s.coordinator.DeleteChat(r.Context(), sess, chatID); err != nil {
			s.writeChatError(w, chatID, "delete chat", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) writeChatError(w http.ResponseWriter, chatID, op string, err error) {
	if errors.Is(err, localstore.ErrNotFound) {
		writeError(w, http.StatusNotFound, "chat not found")
		return
	}
	s.logger.WithContext("chat_id", chatID).Error("failed to %s: %v", op, err)
	writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to %s", op))
}

// handleChatStream sends a message and relays the assistant stream as
// server-sent events.
func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	sess, err := s.session(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req struct {
		ChatID      string             `json:"chat_id"`
		Message     string             `json:"message"`
		Attachments []model.Attachment `json:"attachments"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}
	if req.ChatID == "" {
		writeError(w, http.StatusBadRequest, "chat_id required")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	relay := func(ap stream.Applied) {
		data, err := json.Marshal(ap.Event)
		if err != nil {
			return
		}
		fmt.Fprintf(w, "data: %s\n\n", data)
		flusher.Flush()
	}

	msg, err := s.coordinator.SendMessage(r.Context(), sess, req.ChatID, req.Message, req.Attachments, relay)
	if err != nil {
		s.writeStreamError(w, flusher, req.ChatID, err)
		return
	}

	// Terminal frame carrying the persisted message for the client to swap
	// in for its streamed copy.
	final, err := json.Marshal(map[string]interface{}{
		"type":    "persisted",
		"message": msg,
	})
	if err == nil {
		fmt.Fprintf(w, "data: %s\n\n", final)
		flusher.Flush()
	}
}

// writeStreamError reports a send failure in-band. Headers are already
// flushed once relaying starts, so errors ride the event stream too.
func (s *Server) writeStreamError(w http.ResponseWriter, flusher http.Flusher, chatID string, err error) {
	status := "stream failed"
	switch {
	case errors.Is(err, syncpkg.ErrEmptyMessage):
		status = "message is empty"
	case errors.Is(err, localstore.ErrNotFound):
		status = "chat not found"
	}
	s.logger.WithContext("chat_id", chatID).Warn("chat stream failed: %v", err)

	var serverErr *stream.ServerError
	if errors.As(err, &serverErr) {
		status = serverErr.Message
	}

	data, merr := json.Marshal(map[string]string{
		"type":    "error",
		"content": status,
	})
	if merr != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
	flusher.Flush()
}

// handleUpload forwards multipart files to the inference backend and
// returns the resulting attachments.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if _, err := s.session(r); err != nil {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart request")
		return
	}

	headers := r.MultipartForm.File["files"]
	if len(headers) == 0 {
		writeError(w, http.StatusBadRequest, "no files provided")
		return
	}

	files := make([]assist.UploadFile, 0, len(headers))
	for _, h := range headers {
		f, err := h.Open()
		if err != nil {
			writeError(w, http.StatusBadRequest, "failed to read uploaded file")
			return
		}
		defer f.Close()
		files = append(files, assist.UploadFile{
			Name: h.Filename,
			Size: h.Size,
			Body: f,
		})
	}

	attachments, err := s.uploader.Upload(r.Context(), files)
	if err != nil {
		s.logger.Error("upload failed: %v", err)
		writeError(w, http.StatusBadGateway, "upload failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"attachments": attachments})
}

// handleFlights runs a flight-offers search.
func (s *Server) handleFlights(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if _, err := s.session(r); err != nil {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	if s.flights == nil || !s.flights.Configured() {
		writeError(w, http.StatusServiceUnavailable, "flight search not configured")
		return
	}

	q := flights.Query{
		Origin:      r.URL.Query().Get("origin"),
		Destination: r.URL.Query().Get("destination"),
		Departure:   r.URL.Query().Get("departure"),
		Return:      r.URL.Query().Get("return"),
	}
	if q.Origin == "" || q.Destination == "" || q.Departure == "" {
		writeError(w, http.StatusBadRequest, "origin, destination and departure are required")
		return
	}
	if v := r.URL.Query().Get("adults"); v != "" {
		q.Adults, _ = strconv.Atoi(v)
	}
	if v := r.URL.Query().Get("max"); v != "" {
		q.MaxResults, _ = strconv.Atoi(v)
	}

	offers, err := s.flights.SearchOffers(r.Context(), q)
	if err != nil {
		s.logger.Error("flight search failed: %v", err)
		writeError(w, http.StatusBadGateway, "flight search failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"offers": offers})
}
