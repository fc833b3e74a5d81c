// Package gmail polls a Gmail inbox for bank payment notification emails
// and turns them into payment events.
package gmail

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/golang/glog"
)

const (
	defaultAPIBase  = "https://gmail.googleapis.com/gmail/v1"
	defaultTokenURL = "https://oauth2.googleapis.com/token"
)

// Config for the inbox monitor.
type Config struct {
	CredentialsPath string
	TokenPath       string
	// PaymentEmailSender restricts the unread query to the bank's sender
	// address.
	PaymentEmailSender string
	CheckInterval      time.Duration
}

// Handler receives one payment per qualifying email.
type Handler func(payerName, amount, sourceSubject string)

// Monitor polls the Gmail REST API for unread payment emails.
type Monitor struct {
	httpClient *resty.Client
	cfg        Config
	apiBase    string
	tokenURL   string

	mu          sync.Mutex
	creds       oauthCredentials
	token       oauthToken
	processedID map[string]struct{}
}

type credentialsFile struct {
	Installed *oauthCredentials `json:"installed"`
	Web       *oauthCredentials `json:"web"`
}

type oauthCredentials struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
}

type oauthToken struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	// ExpiryDate is unix milliseconds, matching the stored token format.
	ExpiryDate int64 `json:"expiry_date"`
}

func NewMonitor(cfg Config) *Monitor {
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = 10 * time.Second
	}
	c := resty.New()
	return &Monitor{
		httpClient:  c.SetTimeout(15 * time.Second),
		cfg:         cfg,
		apiBase:     defaultAPIBase,
		tokenURL:    defaultTokenURL,
		processedID: make(map[string]struct{}),
	}
}

// SetEndpoints overrides the API and token endpoints, used by tests.
func (m *Monitor) SetEndpoints(apiBase, tokenURL string) {
	m.apiBase = apiBase
	m.tokenURL = tokenURL
}

// Connect loads credentials and the stored OAuth token, refreshing it when
// expired, then marks all currently unread payment emails as processed so
// old mail is ignored on startup.
func (m *Monitor) Connect() error {
	credData, err := os.ReadFile(m.cfg.CredentialsPath)
	if err != nil {
		return fmt.Errorf("failed to read credentials file: %w", err)
	}
	var cf credentialsFile
	if err := json.Unmarshal(credData, &cf); err != nil {
		return fmt.Errorf("failed to parse credentials file: %w", err)
	}
	switch {
	case cf.Installed != nil:
		m.creds = *cf.Installed
	case cf.Web != nil:
		m.creds = *cf.Web
	default:
		return fmt.Errorf("credentials file has neither installed nor web client")
	}

	tokenData, err := os.ReadFile(m.cfg.TokenPath)
	if err != nil {
		return fmt.Errorf("failed to read token file (run authorization first): %w", err)
	}
	if err := json.Unmarshal(tokenData, &m.token); err != nil {
		return fmt.Errorf("failed to parse token file: %w", err)
	}

	if m.token.ExpiryDate > 0 && time.Now().UnixMilli() >= m.token.ExpiryDate {
		if err := m.refreshToken(); err != nil {
			return err
		}
	}

	if err := m.markExistingAsProcessed(); err != nil {
		// Startup continues; old emails may surface once.
		glog.Warningf("error marking existing emails as processed: %v", err)
	}

	glog.Infof("gmail monitoring connected, watching for mail from %s", m.cfg.PaymentEmailSender)
	return nil
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

func (m *Monitor) refreshToken() error {
	resp, err := m.httpClient.R().
		SetFormData(map[string]string{
			"client_id":     m.creds.ClientID,
			"client_secret": m.creds.ClientSecret,
			"refresh_token": m.token.RefreshToken,
			"grant_type":    "refresh_token",
		}).
		SetResult(&tokenResponse{}).
		Post(m.tokenURL)
	if err != nil {
		return fmt.Errorf("token refresh request failed: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("token refresh rejected: %s", resp.Body())
	}

	tr := resp.Result().(*tokenResponse)
	m.token.AccessToken = tr.AccessToken
	m.token.ExpiryDate = time.Now().Add(time.Duration(tr.ExpiresIn)*time.Second).UnixMilli()

	if data, err := json.MarshalIndent(m.token, "", "  "); err == nil {
		if err := os.WriteFile(m.cfg.TokenPath, data, 0o600); err != nil {
			glog.Warningf("failed to persist refreshed token: %v", err)
		}
	}
	glog.Info("gmail token refreshed")
	return nil
}

type messageList struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

type messagePart struct {
	MimeType string `json:"mimeType"`
	Body     struct {
		Data string `json:"data"`
	} `json:"body"`
	Parts []messagePart `json:"parts"`
}

type gmailMessage struct {
	ID      string `json:"id"`
	Snippet string `json:"snippet"`
	Payload struct {
		Headers []struct {
			Name  string `json:"name"`
			Value string `json:"value"`
		} `json:"headers"`
		messagePart
	} `json:"payload"`
}

func (m *Monitor) unreadQuery() string {
	return fmt.Sprintf("is:unread from:%s", m.cfg.PaymentEmailSender)
}

func (m *Monitor) listUnread(maxResults int) (messageList, error) {
	list, code, err := m.doListUnread(maxResults)
	if err != nil {
		return list, err
	}
	if code == http.StatusUnauthorized {
		// One refresh, one retry; a token the API still rejects is an error.
		if err := m.refreshToken(); err != nil {
			return list, err
		}
		if list, code, err = m.doListUnread(maxResults); err != nil {
			return list, err
		}
	}
	if code != http.StatusOK {
		return list, fmt.Errorf("list messages failed with status %d", code)
	}
	return list, nil
}

func (m *Monitor) doListUnread(maxResults int) (messageList, int, error) {
	var list messageList
	resp, err := m.httpClient.R().
		SetAuthToken(m.token.AccessToken).
		SetQueryParam("q", m.unreadQuery()).
		SetQueryParam("maxResults", fmt.Sprintf("%d", maxResults)).
		SetResult(&list).
		Get(m.apiBase + "/users/me/messages")
	if err != nil {
		return list, 0, fmt.Errorf("list messages request failed: %w", err)
	}
	return list, resp.StatusCode(), nil
}

func (m *Monitor) markExistingAsProcessed() error {
	list, err := m.listUnread(100)
	if err != nil {
		return err
	}
	m.mu.Lock()
	for _, msg := range list.Messages {
		m.processedID[msg.ID] = struct{}{}
	}
	m.mu.Unlock()
	if n := len(list.Messages); n > 0 {
		glog.Infof("marked %d existing unread emails as processed", n)
	}
	return nil
}

// checkForPayment fetches the most recent unprocessed unread email and
// parses it. Returns ok=false when there is nothing new.
func (m *Monitor) checkForPayment() (Payment, string, bool, error) {
	list, err := m.listUnread(1)
	if err != nil || len(list.Messages) == 0 {
		return Payment{}, "", false, err
	}

	id := list.Messages[0].ID
	m.mu.Lock()
	_, seen := m.processedID[id]
	if !seen {
		m.processedID[id] = struct{}{}
	}
	m.mu.Unlock()
	if seen {
		return Payment{}, "", false, nil
	}

	var msg gmailMessage
	resp, err := m.httpClient.R().
		SetAuthToken(m.token.AccessToken).
		SetQueryParam("format", "full").
		SetResult(&msg).
		Get(m.apiBase + "/users/me/messages/" + id)
	if err != nil {
		return Payment{}, "", false, fmt.Errorf("get message request failed: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return Payment{}, "", false, fmt.Errorf("get message failed: %s", resp.Body())
	}

	m.markAsRead(id)

	subject := ""
	for _, h := range msg.Payload.Headers {
		if h.Name == "Subject" {
			subject = h.Value
			break
		}
	}
	text := collectText(msg.Payload.messagePart)

	payment, ok := ExtractPayment(msg.Snippet, text)
	return payment, subject, ok, nil
}

func collectText(part messagePart) string {
	var text string
	if part.MimeType == "text/plain" && part.Body.Data != "" {
		// The API emits base64url both with and without padding.
		data := strings.TrimRight(part.Body.Data, "=")
		if decoded, err := base64.RawURLEncoding.DecodeString(data); err == nil {
			text += string(decoded)
		}
	}
	for _, p := range part.Parts {
		text += collectText(p)
	}
	return text
}

type modifyRequest struct {
	RemoveLabelIDs []string `json:"removeLabelIds"`
}

// markAsRead is best effort; a scope without gmail.modify leaves mail unread
// and the processed-ID set carries the dedup burden.
func (m *Monitor) markAsRead(id string) {
	resp, err := m.httpClient.R().
		SetAuthToken(m.token.AccessToken).
		SetBody(modifyRequest{RemoveLabelIDs: []string{"UNREAD"}}).
		Post(m.apiBase + "/users/me/messages/" + id + "/modify")
	if err != nil {
		glog.Warningf("error marking email %s as read: %v", id, err)
		return
	}
	if resp.StatusCode() != http.StatusOK && resp.StatusCode() != http.StatusForbidden {
		glog.Warningf("error marking email %s as read: %s", id, resp.Body())
	}
}

// Start polls the inbox until the context is cancelled, invoking handler for
// every qualifying payment email.
func (m *Monitor) Start(ctx context.Context, handler Handler) {
	glog.Info("starting gmail payment monitoring")
	ticker := time.NewTicker(m.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			glog.Info("gmail monitoring stopped")
			return
		case <-ticker.C:
		}

		payment, subject, ok, err := m.checkForPayment()
		if err != nil {
			glog.Errorf("error checking email: %v", err)
			continue
		}
		if !ok {
			continue
		}
		glog.Infof("payment email: payer=%q amount=RM%s subject=%q", payment.Name, payment.Amount, subject)
		handler(payment.Name, payment.Amount, subject)
	}
}
