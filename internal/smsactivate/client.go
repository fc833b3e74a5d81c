// Package smsactivate is a client for the sms-activate.org handler API, a
// plain-text HTTP protocol for renting short-lived SMS numbers.
package smsactivate

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/golang/glog"
)

const defaultBaseURL = "https://sms-activate.org/stubs/handler_api.php"

// ErrNoNumbers is returned by GetNumber when the provider has no numbers
// left for the requested country/service.
var ErrNoNumbers = errors.New("no numbers available for this country/service")

// Activation is a rented number.
type Activation struct {
	ID     string
	Number string
}

// StatusState is the activation poll outcome.
type StatusState string

const (
	StatusOK        StatusState = "ok"
	StatusWaiting   StatusState = "waiting"
	StatusCancelled StatusState = "cancelled"
)

// Status is the result of one GetStatus call.
type Status struct {
	State       StatusState
	Code        string
	FullMessage string
}

// setStatus action codes per the handler API.
const (
	statusCancel = 3
	statusFinish = 6
)

type Client struct {
	httpClient *resty.Client
	apiKey     string
	baseURL    string
	country    int
}

func NewClient(apiKey string, country int) *Client {
	c := resty.New()
	return &Client{
		httpClient: c.SetTimeout(15 * time.Second),
		apiKey:     apiKey,
		baseURL:    defaultBaseURL,
		country:    country,
	}
}

// SetBaseURL overrides the API endpoint, used by tests.
func (c *Client) SetBaseURL(url string) {
	c.baseURL = url
}

func (c *Client) call(params map[string]string) (string, error) {
	query := map[string]string{
		"api_key": c.apiKey,
	}
	for k, v := range params {
		query[k] = v
	}
	resp, err := c.httpClient.R().
		SetQueryParams(query).
		SetHeader("Accept", "text/plain").
		Get(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("sms-activate request failed: %w", err)
	}
	return strings.TrimSpace(string(resp.Body())), nil
}

// GetBalance returns the raw balance response.
func (c *Client) GetBalance() (string, error) {
	return c.call(map[string]string{"action": "getBalance"})
}

// GetNumber rents a number for the given service code.
func (c *Client) GetNumber(serviceCode string) (Activation, error) {
	data, err := c.call(map[string]string{
		"action":  "getNumber",
		"service": serviceCode,
		"country": strconv.Itoa(c.country),
	})
	if err != nil {
		return Activation{}, err
	}
	glog.Infof("getNumber service=%s country=%d response=%q", serviceCode, c.country, data)
	return parseNumberResponse(data)
}

// GetStatus polls an activation for its verification code.
func (c *Client) GetStatus(activationID string) (Status, error) {
	data, err := c.call(map[string]string{
		"action": "getStatus",
		"id":     activationID,
	})
	if err != nil {
		return Status{}, err
	}
	return parseStatusResponse(data)
}

// Release cancels an activation so the number returns to the pool.
func (c *Client) Release(activationID string) error {
	data, err := c.call(map[string]string{
		"action": "setStatus",
		"status": strconv.Itoa(statusCancel),
		"id":     activationID,
	})
	if err != nil {
		return err
	}
	glog.Infof("released activation %s: %s", activationID, data)
	return nil
}

// Finish confirms a completed activation so the provider stops charging for
// resends.
func (c *Client) Finish(activationID string) error {
	data, err := c.call(map[string]string{
		"action": "setStatus",
		"status": strconv.Itoa(statusFinish),
		"id":     activationID,
	})
	if err != nil {
		return err
	}
	glog.Infof("finished activation %s: %s", activationID, data)
	return nil
}

func parseNumberResponse(data string) (Activation, error) {
	if strings.HasPrefix(data, "ACCESS_NUMBER") {
		parts := strings.Split(data, ":")
		if len(parts) < 3 {
			return Activation{}, fmt.Errorf("malformed ACCESS_NUMBER response: %q", data)
		}
		return Activation{ID: parts[1], Number: parts[2]}, nil
	}

	switch data {
	case "NO_NUMBERS":
		return Activation{}, ErrNoNumbers
	case "NO_BALANCE":
		return Activation{}, errors.New("insufficient balance in sms-activate account")
	case "BAD_KEY":
		return Activation{}, errors.New("invalid sms-activate API key")
	case "BAD_ACTION":
		return Activation{}, errors.New("invalid API action")
	case "BAD_SERVICE":
		return Activation{}, errors.New("invalid service code")
	}
	return Activation{}, fmt.Errorf("sms-activate error: %s", data)
}

func parseStatusResponse(data string) (Status, error) {
	switch {
	case strings.HasPrefix(data, "STATUS_OK"):
		rest := strings.TrimPrefix(data, "STATUS_OK:")
		code := rest
		if i := strings.Index(rest, ":"); i >= 0 {
			code = rest[:i]
		}
		return Status{State: StatusOK, Code: code, FullMessage: rest}, nil
	case strings.HasPrefix(data, "STATUS_WAIT"):
		// Covers STATUS_WAIT_CODE, STATUS_WAIT_RETRY:<lastcode> and
		// STATUS_WAIT_RESEND; all mean the code has not arrived yet.
		return Status{State: StatusWaiting, FullMessage: data}, nil
	case strings.HasPrefix(data, "STATUS_CANCEL"):
		return Status{State: StatusCancelled}, nil
	}
	// Unrecognized responses keep the poll alive rather than tearing the
	// session down; the deadline still bounds the wait.
	glog.Warningf("unrecognized status response, still waiting: %q", data)
	return Status{State: StatusWaiting, FullMessage: data}, nil
}
