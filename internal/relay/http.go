package relay

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/faanross/simulacra_bmp/internal/decoder"
)

// maxUploadBytes bounds the JSON body of a single upload
const maxUploadBytes = 64 << 20

// API holds the HTTP handler dependencies
type API struct {
	storage Storage
	queue   *QueueManager
	probe   decoder.Config
	logger  *slog.Logger
	started time.Time
}

// NewAPI creates the upload/discovery API. Uploads must carry the probe magic.
func NewAPI(storage Storage, probe decoder.Config, logger *slog.Logger) *API {
	if logger == nil {
		logger = slog.Default()
	}
	return &API{
		storage: storage,
		queue:   NewQueueManager(storage),
		probe:   probe,
		logger:  logger.With("component", "http"),
		started: time.Now(),
	}
}

// NewRouter wires the API routes
func NewRouter(api *API) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)

	r.Post("/upload", api.Upload)
	r.Get("/status", api.Status)
	r.Get("/messages", api.Messages)
	r.Get("/messages/{id}", api.MessageStatus)
	r.Post("/consume", api.Consume)

	return r
}

// UploadResponse is returned by POST /upload
type UploadResponse struct {
	Status    string `json:"status"`
	MessageID string `json:"message_id"`
	Chunks    int    `json:"chunks"`
	Size      int    `json:"size"`
}

// Upload handles POST /upload
func (a *API) Upload(w http.ResponseWriter, r *http.Request) {
	var req UploadRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxUploadBytes)).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	chunks, size, err := req.Validate(a.probe)
	if err != nil {
		a.logger.Warn("upload rejected", "message", req.MessageID, "err", err)
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	if err := a.queue.PublishMessage(req.MessageID, chunks, req.Manifest, size); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, ErrExists) {
			status = http.StatusConflict
		}
		http.Error(w, err.Error(), status)
		return
	}

	a.logger.Info("message uploaded", "message", req.MessageID, "chunks", len(chunks), "bytes", size)
	writeJSON(w, http.StatusOK, UploadResponse{
		Status:    "success",
		MessageID: req.MessageID,
		Chunks:    len(chunks),
		Size:      size,
	})
}

// StatusResponse is returned by GET /status
type StatusResponse struct {
	UptimeSeconds float64      `json:"uptime_seconds"`
	Stats         StorageStats `json:"stats"`
}

// Status handles GET /status
func (a *API) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, StatusResponse{
		UptimeSeconds: time.Since(a.started).Seconds(),
		Stats:         a.storage.GetStats(),
	})
}

// MessagesResponse is returned by GET /messages
type MessagesResponse struct {
	Messages []string `json:"messages"`
	Count    int      `json:"count"`
}

// Messages handles GET /messages?client=ID; returned messages are marked delivered
func (a *API) Messages(w http.ResponseWriter, r *http.Request) {
	clientID := r.URL.Query().Get("client")
	if clientID == "" {
		clientID = "default-client"
	}

	messages, err := a.queue.ConsumeMessages(clientID, 0)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	ids := make([]string, 0, len(messages))
	for _, msg := range messages {
		ids = append(ids, msg.ID)
	}
	if len(ids) > 0 {
		a.logger.Info("messages discovered", "client", clientID, "count", len(ids))
	}
	writeJSON(w, http.StatusOK, MessagesResponse{Messages: ids, Count: len(ids)})
}

// MessageStatus handles GET /messages/{id}
func (a *API) MessageStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	status, err := a.queue.GetMessageStatus(id)
	if errors.Is(err, ErrNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message_id": id, "status": status})
}

// ConsumeRequest is the body of POST /consume
type ConsumeRequest struct {
	MessageID string `json:"message_id"`
	ClientID  string `json:"client_id"`
}

// Consume handles POST /consume
func (a *API) Consume(w http.ResponseWriter, r *http.Request) {
	var req ConsumeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	err := a.queue.AcknowledgeMessage(req.MessageID, req.ClientID)
	if errors.Is(err, ErrNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	a.logger.Info("message consumed", "message", req.MessageID, "client", req.ClientID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "consumed"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
