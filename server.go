package main

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type Server struct {
	cfg     *Config
	log     *zap.Logger
	hub     *Hub
	quota   *ConnQuota
	docs    *DocumentRegistry
	saver   *SaveTrigger
	limiter *RateLimiter
	srv     *http.Server
}

func NewServer(cfg *Config, log *zap.Logger, hub *Hub, quota *ConnQuota, docs *DocumentRegistry) *Server {
	s := &Server{
		cfg:     cfg,
		log:     log,
		hub:     hub,
		quota:   quota,
		docs:    docs,
		saver:   NewSaveTrigger(cfg, docs, log),
		limiter: NewRateLimiter(upgradeRatePerIP),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/save", s.handleSave)
	mux.HandleFunc("/api/rooms/", s.handleRooms)
	mux.HandleFunc("/", s.handleRoot)

	s.srv = &http.Server{
		Addr:        cfg.Addr(),
		Handler:     mux,
		ReadTimeout: 120 * time.Second,
		IdleTimeout: 120 * time.Second,
	}
	return s
}

func (s *Server) ListenAndServe() error {
	return s.srv.ListenAndServe()
}

func (s *Server) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.srv.Shutdown(ctx); err != nil {
		s.log.Error("http shutdown", zap.Error(err))
	}
}

// handleRoot dispatches between the landing page and the WebSocket
// entrypoint. Any path can be a room: the room id is the URL path with
// its leading slash removed.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if websocket.IsWebSocketUpgrade(r) {
		s.handleWS(w, r)
		return
	}
	if r.URL.Path == "/" {
		s.handleIndex(w, r)
		return
	}
	http.NotFound(w, r)
}

// handleWS runs the admission sequence. Every refusal after the upgrade
// closes the socket with a policy code so clients can distinguish
// refusal from transport failure.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	ip := clientIP(r)

	if !s.limiter.Allow(ip) {
		http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
		return
	}

	roomID := strings.TrimPrefix(r.URL.Path, "/")
	if roomID == "" {
		roomID = probeRoomID
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("upgrade failed", zap.String("ip", ip), zap.Error(err))
		return
	}

	if roomID == probeRoomID {
		closeConn(conn, websocket.CloseNormalClosure, "test connection")
		return
	}

	info := ParseRoomID(roomID)
	if info.Kind == RoomUnsupported {
		s.log.Warn("unsupported room refused",
			zap.String("room", roomID),
			zap.String("ip", ip))
		closeConn(conn, websocket.ClosePolicyViolation, "Unauthorized room access")
		return
	}

	if !s.quota.Admit(ip, roomID) {
		s.log.Warn("per-IP quota refused",
			zap.String("room", roomID),
			zap.String("ip", ip))
		closeConn(conn, websocket.ClosePolicyViolation, "Too many connections per IP per room")
		return
	}

	if s.hub.ActiveClientCount(roomID) >= s.cfg.MaxClientsPerRoom {
		s.quota.Release(ip, roomID)
		s.log.Warn("room capacity refused",
			zap.String("room", roomID),
			zap.Int("cap", s.cfg.MaxClientsPerRoom))
		closeConn(conn, websocket.ClosePolicyViolation, "Room capacity exceeded")
		return
	}

	client := newClient(s.hub, conn, roomID, info, ip, s.log)
	s.hub.AddClient(roomID, client)
	go client.writePump()
	go client.readPump()
}

// closeConn refuses a connection that never became a room member.
func closeConn(conn *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	_ = conn.Close()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		errorResponse(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	jsonResponse(w, http.StatusOK, s.hub.Status())
}

// handleSave exposes the save trigger to external schedulers:
// POST /api/save?room=<roomId>.
func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		errorResponse(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if !s.cfg.CodeEditorFeatures {
		errorResponse(w, http.StatusConflict, "code editor features are disabled")
		return
	}
	roomID := r.URL.Query().Get("room")
	if roomID == "" {
		errorResponse(w, http.StatusBadRequest, "missing room parameter")
		return
	}
	result, err := s.saver.SaveRoom(r.Context(), roomID)
	if err != nil {
		if errors.Is(err, ErrNotSaveEligible) {
			errorResponse(w, http.StatusBadRequest, err.Error())
			return
		}
		s.log.Error("save failed", zap.String("room", roomID), zap.Error(err))
		errorResponse(w, http.StatusBadGateway, err.Error())
		return
	}
	jsonResponse(w, http.StatusOK, result)
}

// handleRooms serves GET /api/rooms/<roomId>/document. Room ids may
// contain slashes, so the suffix is matched rather than a path segment.
func (s *Server) handleRooms(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		errorResponse(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/api/rooms/")
	roomID, ok := strings.CutSuffix(rest, "/document")
	if !ok || roomID == "" {
		http.NotFound(w, r)
		return
	}
	jsonResponse(w, http.StatusOK, s.docs.Info(roomID))
}

func jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func errorResponse(w http.ResponseWriter, status int, message string) {
	jsonResponse(w, status, map[string]string{"error": message})
}

func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if i := strings.IndexByte(xff, ','); i >= 0 {
			return strings.TrimSpace(xff[:i])
		}
		return xff
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
