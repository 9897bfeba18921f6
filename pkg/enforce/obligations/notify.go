package obligations

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/aegis-proxy/aegis/pkg/policy"
)

// Notification is the templated message a Channel delivers (spec.md §4.6
// "templated from context; priority-tagged").
type Notification struct {
	Channel   string // "email" | "webhook" | "chat"
	Target    string // address, URL, or chat room depending on Channel
	Priority  string
	Subject   string
	Body      string
	Context   policy.DecisionContext
	Decision  policy.Decision
}

// Channel delivers a single Notification. Concrete email/chat transports
// are external collaborators per spec.md §1 ("log/metrics sinks" and
// equivalents are out of scope); WebhookChannel ships as the one
// transport this repo can implement without a vendor SDK.
type Channel interface {
	Send(ctx context.Context, n Notification) error
}

// ChannelFunc adapts a function to Channel, handy for tests.
type ChannelFunc func(ctx context.Context, n Notification) error

func (f ChannelFunc) Send(ctx context.Context, n Notification) error { return f(ctx, n) }

// Notifier implements the notifier obligation (spec.md §4.6): directive
// grammar "notify:<channel>:<target>", e.g. "notify:webhook:https://
// hooks.example.com/x", "notify:email:security@example.com",
// "notify:chat:#security-alerts". The priority tag comes from
// dc.Environment["priority"] when present, else "normal".
type Notifier struct {
	channels map[string]Channel
}

// NewNotifier builds a Notifier with one Channel implementation per
// transport name ("email", "webhook", "chat").
func NewNotifier(channels map[string]Channel) *Notifier {
	return &Notifier{channels: channels}
}

// Match recognizes "notify:..." directives.
func (Notifier) Match(directive string) bool {
	return strings.HasPrefix(directive, "notify:")
}

// Execute parses the directive and dispatches to the matching Channel.
func (n *Notifier) Execute(ctx context.Context, directive string, dc policy.DecisionContext, decision policy.Decision) error {
	rest := strings.TrimPrefix(directive, "notify:")
	parts := strings.SplitN(rest, ":", 2)
	if len(parts) != 2 {
		return fmt.Errorf("malformed notify directive %q: expected notify:<channel>:<target>", directive)
	}
	channelName, target := parts[0], parts[1]

	channel, ok := n.channels[channelName]
	if !ok {
		return fmt.Errorf("no notification channel registered for %q", channelName)
	}

	priority := dc.Environment["priority"]
	if priority == "" {
		priority = "normal"
	}

	notification := Notification{
		Channel:  channelName,
		Target:   target,
		Priority: priority,
		Subject:  fmt.Sprintf("[aegis] %s %s", decision.Verdict, dc.Action),
		Body:     fmt.Sprintf("agent=%s action=%s resource=%s verdict=%s reason=%s", dc.AgentID, dc.Action, dc.Resource, decision.Verdict, decision.Reason),
		Context:  dc,
		Decision: decision,
	}
	return channel.Send(ctx, notification)
}

// WebhookChannel POSTs a JSON body to the notification's Target URL.
type WebhookChannel struct {
	client  *http.Client
	timeout time.Duration
}

// NewWebhookChannel builds a WebhookChannel with the given HTTP timeout
// (default 5s).
func NewWebhookChannel(timeout time.Duration) *WebhookChannel {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &WebhookChannel{client: &http.Client{Timeout: timeout}, timeout: timeout}
}

// Send POSTs the notification as JSON to n.Target.
func (w *WebhookChannel) Send(ctx context.Context, n Notification) error {
	body, err := json.Marshal(map[string]any{
		"subject":  n.Subject,
		"body":     n.Body,
		"priority": n.Priority,
		"verdict":  n.Decision.Verdict.String(),
		"agentId":  n.Context.AgentID,
		"action":   n.Context.Action,
	})
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.Target, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook %s returned status %d", n.Target, resp.StatusCode)
	}
	return nil
}

// RecordingChannel stores every Notification it receives; a test double.
type RecordingChannel struct {
	Sent []Notification
}

// Send implements Channel by appending n to Sent.
func (r *RecordingChannel) Send(_ context.Context, n Notification) error {
	r.Sent = append(r.Sent, n)
	return nil
}
