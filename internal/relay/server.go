package relay

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/perchlabs/perch-client/internal/logger"
	"github.com/perchlabs/perch-client/internal/models"
)

// upgrader upgrades HTTP connections to WebSocket. Origins are open;
// CORS policy is handled by middleware on the REST side and the dev
// relay is not meant to face the internet.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Server wires the hub, the stores and the HTTP surface together.
type Server struct {
	hub       *Hub
	history   *HistoryStore
	channels  *ChannelRegistry
	authToken string
}

// NewServer builds a relay with the given connect token (empty disables
// auth) and seed channels. Call Start before serving.
func NewServer(authToken string, seedChannels ...string) *Server {
	history := NewHistoryStore(500)
	channels := NewChannelRegistry(seedChannels...)
	return &Server{
		hub:       NewHub(history, channels),
		history:   history,
		channels:  channels,
		authToken: authToken,
	}
}

// Start launches the hub run loop.
func (s *Server) Start() {
	go s.hub.Run()
}

// NewSweeper returns a sweeper over this server's history store.
// - interval: how often to check for idle channels
// - retention: how long a channel may stay idle before its history drops
func (s *Server) NewSweeper(interval, retention time.Duration) *Sweeper {
	return NewSweeper(s.history, interval, retention)
}

// Router returns the full HTTP surface: the websocket push endpoint and
// the REST backstop the client core falls back to.
func (s *Server) Router(corsOrigins []string) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", s.health)
	r.Get("/ws", s.serveWS)

	r.Route("/api", func(r chi.Router) {
		r.Route("/channels", func(r chi.Router) {
			r.Get("/", s.listChannels)
			r.Post("/", s.createChannel)
			r.Get("/{key}/history", s.getHistory)
			r.Post("/{key}/members", s.addMember)
		})
		r.Get("/notifications", s.listNotifications)
		r.Post("/notifications/read", s.markNotificationsRead)
		r.Get("/reports", s.getReports)
	})

	return r
}

// serveWS handles websocket upgrade requests at /ws.
// Query params: token, user_id, username.
func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	if s.authToken != "" && r.URL.Query().Get("token") != s.authToken {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		http.Error(w, "user_id required", http.StatusBadRequest)
		return
	}
	userName := r.URL.Query().Get("username")

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Log.Warn("relay_upgrade_failed", zap.Error(err))
		return
	}

	client := NewClient(s.hub, conn, userID, userName)
	s.hub.register <- client

	go client.WritePump()
	go client.ReadPump()
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) listChannels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.channels.List())
}

func (s *Server) createChannel(w http.ResponseWriter, r *http.Request) {
	var req models.CreateChannelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	channel, err := s.channels.Create(req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}

	s.hub.AnnounceChannel(channel)
	writeJSON(w, http.StatusCreated, channel)
}

func (s *Server) getHistory(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if key == "" {
		http.Error(w, "channel key is required", http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, historySnapshot{
		ChannelKey: key,
		Messages:   s.history.Get(key),
	})
}

func (s *Server) addMember(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	var req struct {
		UserID string `json:"userId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		http.Error(w, "userId is required", http.StatusBadRequest)
		return
	}

	channel, err := s.channels.AddMember(key, req.UserID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	s.hub.AnnounceMember(channel, req.UserID)
	writeJSON(w, http.StatusOK, channel)
}

// The dev relay does not track notifications; the endpoints exist so
// the client's backstop calls succeed against it.
func (s *Server) listNotifications(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, []models.Notification{})
}

func (s *Server) markNotificationsRead(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) getReports(w http.ResponseWriter, r *http.Request) {
	channels := s.channels.List()
	total := 0
	for _, channel := range channels {
		total += len(s.history.Get(channel.Key))
	}
	writeJSON(w, http.StatusOK, map[string]int{
		"channels": len(channels),
		"messages": total,
	})
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Log.Warn("relay_response_encode_failed", zap.Error(err))
	}
}
