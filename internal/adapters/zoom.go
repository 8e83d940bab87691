package adapters

import (
	"context"
	"net/url"
	"strconv"
	"time"

	"github.com/tidwall/gjson"

	"github.com/toolbridge/tool-gateway/internal/config"
	"github.com/toolbridge/tool-gateway/internal/credentials"
	"github.com/toolbridge/tool-gateway/internal/envelope"
	"github.com/toolbridge/tool-gateway/internal/monitoring"
	"github.com/toolbridge/tool-gateway/internal/normalize"
	"github.com/toolbridge/tool-gateway/internal/ratelimit"
	"github.com/toolbridge/tool-gateway/internal/registry"
	"github.com/toolbridge/tool-gateway/internal/tokencache"
	"github.com/toolbridge/tool-gateway/internal/upstream"
)

// defaultZoomAuthURL is the OAuth host for server-to-server grants; the API
// host in base_url differs.
const defaultZoomAuthURL = "https://zoom.us"

// ZoomAdapter exposes Zoom meeting operations as tools.
//
// Auth is a server-to-server OAuth account-credentials grant: the bearer is
// minted on demand from the caller's client_id/client_secret/account_id and
// cached per credential set until shortly before expiry, so callers bringing
// their own Zoom app never ride on the configured account's token. Zoom's
// meeting endpoints have low per-second quotas, so the adapter also
// self-throttles with a sliding-window limiter before each call.
type ZoomAdapter struct {
	BaseAdapter
	client     *upstream.Client
	authClient *upstream.Client
	tokens     *tokencache.Keyed
	limiter    *ratelimit.Limiter
	metrics    *monitoring.MetricsCollector
}

func newZoomFactory(cfg config.VendorConfig, metrics *monitoring.MetricsCollector) (Adapter, error) {
	return NewZoomAdapter(cfg, metrics), nil
}

// NewZoomAdapter creates a Zoom adapter from its config section.
func NewZoomAdapter(cfg config.VendorConfig, metrics *monitoring.MetricsCollector) *ZoomAdapter {
	a := &ZoomAdapter{
		BaseAdapter: NewBaseAdapter("zoom", cfg),
		tokens:      tokencache.NewKeyed(),
		metrics:     metrics,
	}

	authURL := cfg.Options["auth_base_url"]
	if authURL == "" {
		authURL = defaultZoomAuthURL
	}
	a.authClient = upstream.NewClient(authURL,
		upstream.BasicAuth{UserField: "client_id", PassField: "client_secret"})

	opts := []upstream.Option{
		upstream.WithAuthFailureHook(a.tokens.InvalidateAll),
	}
	if metrics != nil {
		opts = append(opts, upstream.WithAttemptHook(metrics.RecordVendorCall))
	}
	a.client = upstream.NewClient(cfg.BaseURL, upstream.BearerAuth{Source: a.bearerFor}, opts...)

	if cfg.RateLimit != nil {
		a.limiter = ratelimit.New(cfg.RateLimit.MaxCalls, cfg.RateLimit.Window)
	}
	return a
}

// bearerFor returns the OAuth bearer for the caller's credential set,
// minting it through an account-credentials grant on first use. Callers
// without per-request credentials share the configured account's token.
func (a *ZoomAdapter) bearerFor(ctx context.Context, creds *credentials.Credentials) (string, error) {
	eff := a.Creds(creds)
	if err := eff.Require(); err != nil {
		return "", err
	}
	cache := a.tokens.For(eff.Fingerprint(), func(ctx context.Context) (string, time.Duration, error) {
		form := url.Values{}
		form.Set("grant_type", "account_credentials")
		form.Set("account_id", eff.Field("account_id"))
		raw, err := a.authClient.CallForm(ctx, eff, "POST", "/oauth/token", form)
		if err != nil {
			return "", 0, err
		}
		doc := gjson.ParseBytes(raw)
		token := doc.Get("access_token").String()
		if token == "" {
			return "", 0, envelope.New(envelope.KindAuthError, "zoom token response had no access_token").WithDetails(raw)
		}
		return token, time.Duration(doc.Get("expires_in").Int()) * time.Second, nil
	})
	return cache.Token(ctx)
}

// meetingRules reshapes a Zoom meeting resource.
var meetingRules = normalize.Rules{
	{Target: "meeting_id", Path: "id"},
	{Target: "topic", Path: "topic"},
	{Target: "start_time", Path: "start_time"},
	{Target: "duration", Path: "duration"},
	{Target: "join_url", Path: "join_url"},
	{Target: "password", Path: "password"},
}

// meetingListRules reshapes a Zoom meeting list.
var meetingListRules = normalize.Rules{
	{Target: "next_page_token", Path: "next_page_token"},
	{Target: "total", Path: "total_records"},
	{Target: "meetings", Transform: func(doc gjson.Result) (any, error) {
		var out []map[string]any
		for _, m := range doc.Get("meetings").Array() {
			out = append(out, map[string]any{
				"meeting_id": m.Get("id").Value(),
				"topic":      m.Get("topic").String(),
				"start_time": m.Get("start_time").String(),
				"join_url":   m.Get("join_url").String(),
			})
		}
		if out == nil {
			return nil, nil
		}
		return out, nil
	}},
}

// RegisterTools adds the Zoom tool bindings.
func (a *ZoomAdapter) RegisterTools(reg *registry.Registry) error {
	createSpec := registry.ToolSpec{
		Name:        "create_meeting",
		Description: "Schedule a Zoom meeting for the configured account. Returns the meeting id and join URL.",
		InputSchema: []byte(`{
			"type": "object",
			"properties": {
				"topic": {"type": "string", "description": "Meeting topic"},
				"start_time": {"type": "string", "description": "Start time, ISO 8601 (e.g. 2026-09-01T10:00:00Z)"},
				"duration": {"type": "integer", "minimum": 1, "description": "Duration in minutes"},
				"agenda": {"type": "string"}
			},
			"required": ["topic"],
			"additionalProperties": false
		}`),
	}
	if err := reg.Register(createSpec, registry.HandlerFunc(a.handleCreateMeeting)); err != nil {
		return err
	}

	listSpec := registry.ToolSpec{
		Name:        "list_meetings",
		Description: "List scheduled Zoom meetings for the configured account.",
		InputSchema: []byte(`{
			"type": "object",
			"properties": {
				"page_size": {"type": "integer", "minimum": 1, "maximum": 300},
				"next_page_token": {"type": "string"}
			},
			"additionalProperties": false
		}`),
	}
	return reg.Register(listSpec, registry.HandlerFunc(a.handleListMeetings))
}

// throttle applies the self-imposed quota before an outbound call.
func (a *ZoomAdapter) throttle(key string) error {
	if a.limiter == nil {
		return nil
	}
	if err := a.limiter.Hit(key); err != nil {
		if a.metrics != nil {
			a.metrics.RecordRateLimited()
		}
		return envelope.New(envelope.KindRateLimited, "zoom %s quota exhausted, retry later", key)
	}
	return nil
}

func (a *ZoomAdapter) handleCreateMeeting(ctx context.Context, args map[string]any, creds *credentials.Credentials) (any, error) {
	if err := a.throttle("meetings"); err != nil {
		return nil, err
	}

	body := map[string]any{
		"topic": args["topic"],
		"type":  2, // scheduled meeting
	}
	if v, ok := args["start_time"].(string); ok && v != "" {
		body["start_time"] = v
	}
	if v, ok := args["duration"].(float64); ok {
		body["duration"] = int(v)
	}
	if v, ok := args["agenda"].(string); ok && v != "" {
		body["agenda"] = v
	}

	raw, err := a.client.Call(ctx, a.Creds(creds), "POST", "/v2/users/me/meetings", nil, body)
	if err != nil {
		return nil, err
	}
	return normalize.Apply(raw, meetingRules), nil
}

func (a *ZoomAdapter) handleListMeetings(ctx context.Context, args map[string]any, creds *credentials.Credentials) (any, error) {
	if err := a.throttle("meetings"); err != nil {
		return nil, err
	}

	query := url.Values{}
	if v, ok := args["page_size"].(float64); ok {
		query.Set("page_size", strconv.Itoa(int(v)))
	}
	if v, ok := args["next_page_token"].(string); ok && v != "" {
		query.Set("next_page_token", v)
	}

	raw, err := a.client.Call(ctx, a.Creds(creds), "GET", "/v2/users/me/meetings", query, nil)
	if err != nil {
		return nil, err
	}
	return normalize.Apply(raw, meetingListRules), nil
}
