package whatsapp

import (
	"encoding/json"

	"github.com/golang/glog"
)

// InboundMessage is one parsed customer message from a webhook delivery.
type InboundMessage struct {
	From      string
	MessageID string
	Body      string
	Timestamp string
}

// Webhook payload shapes for the subset of the Graph API this bot consumes.
type webhookPayload struct {
	Entry []struct {
		Changes []struct {
			Value struct {
				Messages []webhookMessage `json:"messages"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

type webhookMessage struct {
	From      string `json:"from"`
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	Text      *struct {
		Body string `json:"body"`
	} `json:"text"`
	Button *struct {
		Text string `json:"text"`
	} `json:"button"`
	Interactive *struct {
		Type        string `json:"type"`
		ButtonReply *struct {
			ID    string `json:"id"`
			Title string `json:"title"`
		} `json:"button_reply"`
		ListReply *struct {
			ID    string `json:"id"`
			Title string `json:"title"`
		} `json:"list_reply"`
	} `json:"interactive"`
}

// ParseWebhookMessage extracts the first customer message from a webhook
// delivery. Returns false for status-only deliveries and payloads without
// messages.
func ParseWebhookMessage(data []byte) (InboundMessage, bool) {
	var payload webhookPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		glog.Warningf("error parsing webhook payload: %v", err)
		return InboundMessage{}, false
	}

	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			if len(change.Value.Messages) == 0 {
				continue
			}
			msg := change.Value.Messages[0]
			return InboundMessage{
				From:      msg.From,
				MessageID: msg.ID,
				Body:      messageBody(msg),
				Timestamp: msg.Timestamp,
			}, true
		}
	}
	return InboundMessage{}, false
}

func messageBody(msg webhookMessage) string {
	switch msg.Type {
	case "text":
		if msg.Text != nil {
			return msg.Text.Body
		}
	case "button":
		if msg.Button != nil {
			return msg.Button.Text
		}
	case "interactive":
		if msg.Interactive == nil {
			return ""
		}
		switch msg.Interactive.Type {
		case "button_reply":
			if msg.Interactive.ButtonReply != nil {
				return msg.Interactive.ButtonReply.Title
			}
		case "list_reply":
			if msg.Interactive.ListReply != nil {
				return msg.Interactive.ListReply.Title
			}
		}
	}
	return ""
}

// VerifyWebhook implements the subscription handshake: returns the challenge
// when mode and token match.
func VerifyWebhook(mode, token, challenge, verifyToken string) (string, bool) {
	if mode == "subscribe" && token == verifyToken {
		glog.Info("webhook verified")
		return challenge, true
	}
	glog.Warning("webhook verification failed")
	return "", false
}
