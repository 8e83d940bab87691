package adapters

import (
	"context"
	"net/url"
	"strconv"

	"github.com/tidwall/gjson"

	"github.com/toolbridge/tool-gateway/internal/config"
	"github.com/toolbridge/tool-gateway/internal/credentials"
	"github.com/toolbridge/tool-gateway/internal/envelope"
	"github.com/toolbridge/tool-gateway/internal/monitoring"
	"github.com/toolbridge/tool-gateway/internal/normalize"
	"github.com/toolbridge/tool-gateway/internal/registry"
	"github.com/toolbridge/tool-gateway/internal/upstream"
)

// SlackAdapter exposes Slack Web API operations as tools. Auth is a bot
// bearer token.
//
// Quirk: Slack reports most failures as HTTP 200 with {"ok": false}, so
// handlers re-check the body after a transport-level success.
type SlackAdapter struct {
	BaseAdapter
	client *upstream.Client
}

func newSlackFactory(cfg config.VendorConfig, metrics *monitoring.MetricsCollector) (Adapter, error) {
	return NewSlackAdapter(cfg, metrics), nil
}

// NewSlackAdapter creates a Slack adapter from its config section.
func NewSlackAdapter(cfg config.VendorConfig, metrics *monitoring.MetricsCollector) *SlackAdapter {
	opts := []upstream.Option{}
	if metrics != nil {
		opts = append(opts, upstream.WithAttemptHook(metrics.RecordVendorCall))
	}
	return &SlackAdapter{
		BaseAdapter: NewBaseAdapter("slack", cfg),
		client:      upstream.NewClient(cfg.BaseURL, upstream.BearerAuth{}, opts...),
	}
}

// messageRules reshapes a chat.postMessage response.
var messageRules = normalize.Rules{
	{Target: "message_id", Path: "ts"},
	{Target: "channel", Path: "channel"},
	{Target: "text", Path: "message.text"},
	{Target: "thread_ts", Path: "message.thread_ts"},
}

// channelListRules reshapes a conversations.list response.
var channelListRules = normalize.Rules{
	{Target: "next_cursor", Path: "response_metadata.next_cursor"},
	{Target: "channels", Transform: func(doc gjson.Result) (any, error) {
		var out []map[string]any
		for _, ch := range doc.Get("channels").Array() {
			item := map[string]any{
				"id":   ch.Get("id").String(),
				"name": ch.Get("name").String(),
			}
			if ch.Get("is_archived").Bool() {
				item["is_archived"] = true
			}
			if n := ch.Get("num_members"); n.Exists() {
				item["member_count"] = n.Int()
			}
			out = append(out, item)
		}
		if out == nil {
			return nil, nil
		}
		return out, nil
	}},
}

// RegisterTools adds the Slack tool bindings.
func (a *SlackAdapter) RegisterTools(reg *registry.Registry) error {
	sendSpec := registry.ToolSpec{
		Name:        "send_message",
		Description: "Post a message to a Slack channel. Returns the message id (ts) assigned by Slack.",
		InputSchema: []byte(`{
			"type": "object",
			"properties": {
				"channel": {"type": "string", "description": "Channel ID, e.g. C0123456789"},
				"text": {"type": "string", "description": "Message text"},
				"thread_ts": {"type": "string", "description": "Parent message ts to reply in thread"}
			},
			"required": ["channel", "text"],
			"additionalProperties": false
		}`),
	}
	if err := reg.Register(sendSpec, registry.HandlerFunc(a.handleSendMessage)); err != nil {
		return err
	}

	listSpec := registry.ToolSpec{
		Name:        "list_channels",
		Description: "List Slack channels visible to the bot. Returns channel ids, names and member counts.",
		InputSchema: []byte(`{
			"type": "object",
			"properties": {
				"limit": {"type": "integer", "minimum": 1, "maximum": 1000},
				"cursor": {"type": "string", "description": "Pagination cursor from a previous call"}
			},
			"additionalProperties": false
		}`),
	}
	return reg.Register(listSpec, registry.HandlerFunc(a.handleListChannels))
}

func (a *SlackAdapter) handleSendMessage(ctx context.Context, args map[string]any, creds *credentials.Credentials) (any, error) {
	body := map[string]any{
		"channel": args["channel"],
		"text":    args["text"],
	}
	if ts, ok := args["thread_ts"].(string); ok && ts != "" {
		body["thread_ts"] = ts
	}

	raw, err := a.client.Call(ctx, a.Creds(creds), "POST", "/chat.postMessage", nil, body)
	if err != nil {
		return nil, err
	}
	if err := slackOK(raw); err != nil {
		return nil, err
	}
	return normalize.Apply(raw, messageRules), nil
}

func (a *SlackAdapter) handleListChannels(ctx context.Context, args map[string]any, creds *credentials.Credentials) (any, error) {
	query := url.Values{}
	if limit, ok := args["limit"].(float64); ok {
		query.Set("limit", strconv.Itoa(int(limit)))
	}
	if cursor, ok := args["cursor"].(string); ok && cursor != "" {
		query.Set("cursor", cursor)
	}

	raw, err := a.client.Call(ctx, a.Creds(creds), "GET", "/conversations.list", query, nil)
	if err != nil {
		return nil, err
	}
	if err := slackOK(raw); err != nil {
		return nil, err
	}
	return normalize.Apply(raw, channelListRules), nil
}

// slackOK converts Slack's in-body failures to tagged errors.
func slackOK(raw upstream.RawJSON) error {
	doc := gjson.ParseBytes(raw)
	if doc.Get("ok").Bool() {
		return nil
	}
	code := doc.Get("error").String()
	switch code {
	case "invalid_auth", "not_authed", "token_revoked", "account_inactive":
		return envelope.New(envelope.KindAuthError, "slack rejected the token: %s", code).WithDetails(raw)
	case "ratelimited", "rate_limited":
		return envelope.New(envelope.KindRateLimited, "slack rate limited the call").WithDetails(raw)
	}
	return envelope.New(envelope.KindClientError, "slack error: %s", code).WithDetails(raw)
}
