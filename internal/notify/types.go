// Package notify delivers break nudges to the user through one or more
// channels.
package notify

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Notification is a nudge rendered for delivery.
type Notification struct {
	ID           string    `json:"id"`
	SuggestionID string    `json:"suggestion_id"`
	BreakType    string    `json:"break_type"`
	Title        string    `json:"title"`
	Body         string    `json:"body"`
	Priority     string    `json:"priority"`
	Timestamp    time.Time `json:"timestamp"`
}

// Text renders n as a single plain text message.
func (n *Notification) Text() string {
	var b strings.Builder
	if n.Priority == "high" {
		b.WriteString("[!] ")
	}
	b.WriteString(n.Title)
	if n.Body != "" {
		fmt.Fprintf(&b, "\n%s", n.Body)
	}
	return b.String()
}

// Notifier is one delivery channel.
type Notifier interface {
	Channel() string
	Notify(ctx context.Context, n *Notification) error
	Close() error
}
