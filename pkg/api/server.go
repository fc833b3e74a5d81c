package api

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/golang/glog"
	"github.com/gorilla/mux"

	"github.com/benliew10/zuswhats/internal/whatsapp"
)

// MessageHandler receives deduplicated inbound chat messages.
type MessageHandler interface {
	OnChatMessage(customerID, messageID, text string)
}

// Receipter acknowledges inbound messages on the chat transport.
type Receipter interface {
	MarkAsRead(messageID string)
}

// Server represents the HTTP server
type Server struct {
	router      *mux.Router
	port        string
	verifyToken string
	handler     MessageHandler
	receipter   Receipter
}

// NewServer creates a new server instance
func NewServer(port, verifyToken string, handler MessageHandler, receipter Receipter) *Server {
	s := &Server{
		router:      mux.NewRouter(),
		port:        port,
		verifyToken: verifyToken,
		handler:     handler,
		receipter:   receipter,
	}
	s.setupRoutes()
	return s
}

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	// Webhook verification handshake
	s.router.HandleFunc("/webhook", s.verifyWebhook).Methods("GET")

	// Inbound WhatsApp messages
	s.router.HandleFunc("/webhook", s.receiveWebhook).Methods("POST")

	// Health check
	s.router.HandleFunc("/health", s.health).Methods("GET")
}

// Start starts the HTTP server
func (s *Server) Start() error {
	glog.Infof("Starting server on port %s", s.port)
	return http.ListenAndServe(":"+s.port, s.router)
}

// Router exposes the mux router, used by tests.
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) verifyWebhook(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	challenge, ok := whatsapp.VerifyWebhook(
		q.Get("hub.mode"), q.Get("hub.verify_token"), q.Get("hub.challenge"), s.verifyToken)
	if !ok {
		w.WriteHeader(http.StatusForbidden)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(challenge))
}

func (s *Server) receiveWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		glog.Errorf("failed to read webhook body: %v", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	// Always 200: the platform retries non-2xx deliveries and the dedup
	// set already absorbs duplicates.
	w.WriteHeader(http.StatusOK)

	msg, ok := whatsapp.ParseWebhookMessage(body)
	if !ok {
		return
	}

	glog.Infof("inbound message from %s: %q", msg.From, msg.Body)
	if s.receipter != nil {
		s.receipter.MarkAsRead(msg.MessageID)
	}
	s.handler.OnChatMessage(msg.From, msg.MessageID, msg.Body)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
