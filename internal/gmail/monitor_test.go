package gmail

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeAuthFiles(t *testing.T, dir string, expired bool) (string, string) {
	t.Helper()
	credPath := filepath.Join(dir, "credentials.json")
	tokenPath := filepath.Join(dir, "token.json")

	creds := `{"installed":{"client_id":"cid","client_secret":"secret"}}`
	require.NoError(t, os.WriteFile(credPath, []byte(creds), 0o600))

	expiry := time.Now().Add(time.Hour).UnixMilli()
	if expired {
		expiry = time.Now().Add(-time.Hour).UnixMilli()
	}
	token := oauthToken{
		AccessToken:  "stale-token",
		RefreshToken: "refresh-me",
		ExpiryDate:   expiry,
	}
	data, err := json.Marshal(token)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(tokenPath, data, 0o600))

	return credPath, tokenPath
}

func TestConnectRefreshesExpiredToken(t *testing.T) {
	dir := t.TempDir()
	credPath, tokenPath := writeAuthFiles(t, dir, true)

	refreshed := false
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.Form.Get("grant_type"))
		assert.Equal(t, "refresh-me", r.Form.Get("refresh_token"))
		refreshed = true
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(tokenResponse{AccessToken: "fresh-token", ExpiresIn: 3600})
	}))
	defer tokenSrv.Close()

	apiSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(messageList{})
	}))
	defer apiSrv.Close()

	m := NewMonitor(Config{
		CredentialsPath:    credPath,
		TokenPath:          tokenPath,
		PaymentEmailSender: "alerts@bank.example",
	})
	m.SetEndpoints(apiSrv.URL, tokenSrv.URL)

	require.NoError(t, m.Connect())
	assert.True(t, refreshed)
	assert.Equal(t, "fresh-token", m.token.AccessToken)

	// Refreshed token is persisted for the next run.
	data, err := os.ReadFile(tokenPath)
	require.NoError(t, err)
	var saved oauthToken
	require.NoError(t, json.Unmarshal(data, &saved))
	assert.Equal(t, "fresh-token", saved.AccessToken)
}

func TestStartupUnreadIsIgnored(t *testing.T) {
	dir := t.TempDir()
	credPath, tokenPath := writeAuthFiles(t, dir, false)

	apiSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(messageList{Messages: []struct {
			ID string `json:"id"`
		}{{ID: "old-1"}, {ID: "old-2"}}})
	}))
	defer apiSrv.Close()

	m := NewMonitor(Config{
		CredentialsPath:    credPath,
		TokenPath:          tokenPath,
		PaymentEmailSender: "alerts@bank.example",
	})
	m.SetEndpoints(apiSrv.URL, "http://unused.invalid")

	require.NoError(t, m.Connect())

	// Both pre-existing messages are already processed, so the next check
	// yields nothing.
	_, _, ok, err := m.checkForPayment()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestListUnreadRetriesOnceOnPersistentUnauthorized(t *testing.T) {
	dir := t.TempDir()
	credPath, tokenPath := writeAuthFiles(t, dir, false)

	refreshes := 0
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		refreshes++
		json.NewEncoder(w).Encode(tokenResponse{AccessToken: "still-rejected", ExpiresIn: 3600})
	}))
	defer tokenSrv.Close()

	listCalls := 0
	apiSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		listCalls++
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer apiSrv.Close()

	m := NewMonitor(Config{
		CredentialsPath:    credPath,
		TokenPath:          tokenPath,
		PaymentEmailSender: "alerts@bank.example",
	})
	m.SetEndpoints(apiSrv.URL, tokenSrv.URL)
	m.creds = oauthCredentials{ClientID: "cid", ClientSecret: "secret"}
	m.token = oauthToken{AccessToken: "tok", RefreshToken: "refresh-me"}

	_, err := m.listUnread(1)
	require.Error(t, err)
	assert.Equal(t, 1, refreshes)
	assert.Equal(t, 2, listCalls)
}

func TestCheckForPaymentParsesNewEmail(t *testing.T) {
	dir := t.TempDir()
	credPath, tokenPath := writeAuthFiles(t, dir, false)

	body := base64.URLEncoding.WithPadding(base64.NoPadding).
		EncodeToString([]byte("You've received RM1.68 from John Tan."))

	marked := false
	mux := http.NewServeMux()
	mux.HandleFunc("/users/me/messages", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(messageList{Messages: []struct {
			ID string `json:"id"`
		}{{ID: "msg-1"}}})
	})
	mux.HandleFunc("/users/me/messages/msg-1", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"id": "msg-1",
			"snippet": "",
			"payload": {
				"headers": [{"name": "Subject", "value": "You have received money"}],
				"mimeType": "text/plain",
				"body": {"data": "` + body + `"}
			}
		}`))
	})
	mux.HandleFunc("/users/me/messages/msg-1/modify", func(w http.ResponseWriter, r *http.Request) {
		marked = true
		w.Write([]byte(`{}`))
	})
	apiSrv := httptest.NewServer(mux)
	defer apiSrv.Close()

	m := NewMonitor(Config{
		CredentialsPath:    credPath,
		TokenPath:          tokenPath,
		PaymentEmailSender: "alerts@bank.example",
	})
	m.SetEndpoints(apiSrv.URL, "http://unused.invalid")
	m.token = oauthToken{AccessToken: "tok", ExpiryDate: time.Now().Add(time.Hour).UnixMilli()}

	payment, subject, ok, err := m.checkForPayment()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "John Tan", payment.Name)
	assert.Equal(t, "1.68", payment.Amount)
	assert.Equal(t, "You have received money", subject)
	assert.True(t, marked)

	// Second poll sees the same message id and skips it.
	_, _, ok, err = m.checkForPayment()
	require.NoError(t, err)
	assert.False(t, ok)
}
