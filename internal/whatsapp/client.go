// Package whatsapp is the chat transport adapter for the WhatsApp Business
// Cloud API (Graph API).
package whatsapp

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/golang/glog"
)

const defaultBaseURL = "https://graph.facebook.com/v21.0"

// Client sends messages through the Graph API messages endpoint.
type Client struct {
	httpClient    *resty.Client
	accessToken   string
	phoneNumberID string
	baseURL       string
}

func NewClient(accessToken, phoneNumberID string) *Client {
	c := resty.New()
	return &Client{
		httpClient:    c.SetTimeout(10 * time.Second),
		accessToken:   accessToken,
		phoneNumberID: phoneNumberID,
		baseURL:       defaultBaseURL,
	}
}

// SetBaseURL overrides the Graph API endpoint, used by tests.
func (c *Client) SetBaseURL(url string) {
	c.baseURL = url
}

type textMessageRequest struct {
	MessagingProduct string      `json:"messaging_product"`
	To               string      `json:"to"`
	Type             string      `json:"type"`
	Text             textPayload `json:"text"`
}

type textPayload struct {
	Body string `json:"body"`
}

type readRequest struct {
	MessagingProduct string `json:"messaging_product"`
	Status           string `json:"status"`
	MessageID        string `json:"message_id"`
}

// SendText delivers a plain text message to the customer.
func (c *Client) SendText(customerID, text string) error {
	url := fmt.Sprintf("%s/%s/messages", c.baseURL, c.phoneNumberID)
	resp, err := c.httpClient.R().
		SetAuthToken(c.accessToken).
		SetHeader("Content-Type", "application/json").
		SetBody(textMessageRequest{
			MessagingProduct: "whatsapp",
			To:               customerID,
			Type:             "text",
			Text:             textPayload{Body: text},
		}).
		Post(url)
	if err != nil {
		return fmt.Errorf("send message request failed: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return errors.New(string(resp.Body()))
	}
	glog.Infof("message sent to %s", customerID)
	return nil
}

// MarkAsRead acknowledges an inbound message. Failures are logged only; read
// receipts are best effort.
func (c *Client) MarkAsRead(messageID string) {
	url := fmt.Sprintf("%s/%s/messages", c.baseURL, c.phoneNumberID)
	resp, err := c.httpClient.R().
		SetAuthToken(c.accessToken).
		SetHeader("Content-Type", "application/json").
		SetBody(readRequest{
			MessagingProduct: "whatsapp",
			Status:           "read",
			MessageID:        messageID,
		}).
		Post(url)
	if err != nil {
		glog.Warningf("error marking message %s as read: %v", messageID, err)
		return
	}
	if resp.StatusCode() != http.StatusOK {
		glog.Warningf("error marking message %s as read: %s", messageID, resp.Body())
	}
}
