// Package event publishes order lifecycle events to NATS for downstream
// consumers (dashboards, reconciliation tooling). Publishing is optional:
// when NATS is not configured the sender is disabled and every publish is a
// no-op.
package event

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/golang/glog"
	"github.com/nats-io/nats.go"
)

// Event types emitted over the order lifecycle.
const (
	TypePaymentMatched = "payment_matched"
	TypeNumberIssued   = "number_issued"
	TypeCodeDelivered  = "code_delivered"
	TypeTimeout        = "timeout"
	TypeCancelled      = "cancelled"
)

// OrderEvent is the payload published for each lifecycle transition.
type OrderEvent struct {
	Type       string    `json:"type"`
	CustomerID string    `json:"customer_id"`
	Service    string    `json:"service,omitempty"`
	Number     string    `json:"number,omitempty"`
	Detail     string    `json:"detail,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Sender handles NATS communication for order events.
type Sender struct {
	conn    *nats.Conn
	subject string
	enabled bool
}

// Config holds NATS configuration.
type Config struct {
	Host     string
	Port     string
	Username string
	Password string
	Subject  string
}

// NewSender connects to NATS using environment configuration. In development
// environments the sender is disabled rather than failing startup.
func NewSender() (*Sender, error) {
	env := os.Getenv("GO_ENV")
	if env == "development" || env == "dev" {
		glog.Info("development environment detected, NATS order event sender disabled")
		return &Sender{enabled: false}, nil
	}

	config := loadConfig()
	if config.Host == "" {
		glog.Info("NATS_HOST not set, order event sender disabled")
		return &Sender{enabled: false}, nil
	}

	natsURL := fmt.Sprintf("nats://%s:%s@%s:%s",
		config.Username, config.Password, config.Host, config.Port)

	conn, err := nats.Connect(natsURL,
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(10),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			glog.Warningf("NATS disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			glog.Infof("NATS reconnected to %s", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	glog.Infof("connected to NATS server at %s:%s", config.Host, config.Port)

	return &Sender{
		conn:    conn,
		subject: config.Subject,
		enabled: true,
	}, nil
}

func loadConfig() Config {
	return Config{
		Host:     os.Getenv("NATS_HOST"),
		Port:     getEnvOrDefault("NATS_PORT", "4222"),
		Username: os.Getenv("NATS_USERNAME"),
		Password: os.Getenv("NATS_PASSWORD"),
		Subject:  getEnvOrDefault("NATS_SUBJECT_ORDER_EVENTS", "zuswhats.order.events"),
	}
}

func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// Publish sends one order event. Safe to call on a nil or disabled sender.
func (s *Sender) Publish(ev OrderEvent) {
	if s == nil || !s.enabled {
		return
	}
	ev.Timestamp = time.Now()
	data, err := json.Marshal(ev)
	if err != nil {
		glog.Errorf("failed to marshal order event: %v", err)
		return
	}
	if err := s.conn.Publish(s.subject, data); err != nil {
		glog.Warningf("failed to publish %s event for %s: %v", ev.Type, ev.CustomerID, err)
	}
}

// Close drains the NATS connection.
func (s *Sender) Close() {
	if s == nil || !s.enabled || s.conn == nil {
		return
	}
	if err := s.conn.Drain(); err != nil {
		glog.Warningf("NATS drain failed: %v", err)
	}
}
