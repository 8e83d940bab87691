package adapters

import (
	"context"
	"fmt"
	"net/url"

	"github.com/toolbridge/tool-gateway/internal/config"
	"github.com/toolbridge/tool-gateway/internal/credentials"
	"github.com/toolbridge/tool-gateway/internal/envelope"
	"github.com/toolbridge/tool-gateway/internal/monitoring"
	"github.com/toolbridge/tool-gateway/internal/normalize"
	"github.com/toolbridge/tool-gateway/internal/registry"
	"github.com/toolbridge/tool-gateway/internal/upstream"
)

// twilioFields names the parts of Twilio's composite secret
// "account_sid:auth_token:from_number".
var twilioFields = []string{"account_sid", "auth_token", "from_number"}

// TwilioAdapter exposes Twilio messaging as tools. Auth is HTTP basic with
// the account SID and auth token; request bodies are form-encoded as the
// Twilio REST API requires.
type TwilioAdapter struct {
	BaseAdapter
	client *upstream.Client
}

func newTwilioFactory(cfg config.VendorConfig, metrics *monitoring.MetricsCollector) (Adapter, error) {
	return NewTwilioAdapter(cfg, metrics), nil
}

// NewTwilioAdapter creates a Twilio adapter from its config section.
func NewTwilioAdapter(cfg config.VendorConfig, metrics *monitoring.MetricsCollector) *TwilioAdapter {
	opts := []upstream.Option{}
	if metrics != nil {
		opts = append(opts, upstream.WithAttemptHook(metrics.RecordVendorCall))
	}
	return &TwilioAdapter{
		BaseAdapter: NewBaseAdapter("twilio", cfg),
		client: upstream.NewClient(cfg.BaseURL,
			upstream.BasicAuth{UserField: "account_sid", PassField: "auth_token"},
			opts...),
	}
}

// smsRules reshapes a Twilio message resource.
var smsRules = normalize.Rules{
	{Target: "message_sid", Path: "sid"},
	{Target: "status", Path: "status"},
	{Target: "to", Path: "to"},
	{Target: "from", Path: "from"},
	{Target: "body", Path: "body"},
	{Target: "error_code", Path: "error_code"},
	{Target: "date_sent", Path: "date_sent"},
}

// RegisterTools adds the Twilio tool bindings.
func (a *TwilioAdapter) RegisterTools(reg *registry.Registry) error {
	sendSpec := registry.ToolSpec{
		Name:        "send_sms",
		Description: "Send an SMS via Twilio. Returns the message SID and delivery status.",
		InputSchema: []byte(`{
			"type": "object",
			"properties": {
				"to": {"type": "string", "description": "Destination number in E.164 format"},
				"body": {"type": "string", "description": "Message text"},
				"from": {"type": "string", "description": "Sender number; defaults to the configured from_number"}
			},
			"required": ["to", "body"],
			"additionalProperties": false
		}`),
	}
	if err := reg.Register(sendSpec, registry.HandlerFunc(a.handleSendSMS)); err != nil {
		return err
	}

	getSpec := registry.ToolSpec{
		Name:        "get_sms",
		Description: "Fetch a previously sent Twilio message by SID.",
		InputSchema: []byte(`{
			"type": "object",
			"properties": {
				"message_sid": {"type": "string", "description": "The SM... message SID"}
			},
			"required": ["message_sid"],
			"additionalProperties": false
		}`),
	}
	return reg.Register(getSpec, registry.HandlerFunc(a.handleGetSMS))
}

// resolveCreds decodes composite "sid:token:from" tokens into named fields
// before the basic-auth scheme reads them.
func (a *TwilioAdapter) resolveCreds(req *credentials.Credentials) *credentials.Credentials {
	creds := a.Creds(req)
	if creds == nil {
		return nil
	}
	if creds.Field("account_sid") == "" && creds.Token != "" {
		if split := credentials.Composite(creds.Token, twilioFields...); split != nil {
			return split
		}
	}
	return creds
}

func (a *TwilioAdapter) handleSendSMS(ctx context.Context, args map[string]any, creds *credentials.Credentials) (any, error) {
	resolved := a.resolveCreds(creds)
	if err := resolved.Require(); err != nil {
		return nil, err
	}

	from, _ := args["from"].(string)
	if from == "" {
		from = resolved.Field("from_number")
	}
	if from == "" {
		return nil, envelope.New(envelope.KindInvalidArguments, "no sender: set \"from\" or configure from_number")
	}

	form := url.Values{}
	form.Set("To", args["to"].(string))
	form.Set("From", from)
	form.Set("Body", args["body"].(string))

	path := fmt.Sprintf("/2010-04-01/Accounts/%s/Messages.json", url.PathEscape(resolved.Field("account_sid")))
	raw, err := a.client.CallForm(ctx, resolved, "POST", path, form)
	if err != nil {
		return nil, err
	}
	return normalize.Apply(raw, smsRules), nil
}

func (a *TwilioAdapter) handleGetSMS(ctx context.Context, args map[string]any, creds *credentials.Credentials) (any, error) {
	resolved := a.resolveCreds(creds)
	if err := resolved.Require(); err != nil {
		return nil, err
	}

	sid, _ := args["message_sid"].(string)
	path := fmt.Sprintf("/2010-04-01/Accounts/%s/Messages/%s.json",
		url.PathEscape(resolved.Field("account_sid")), url.PathEscape(sid))
	raw, err := a.client.Call(ctx, resolved, "GET", path, nil, nil)
	if err != nil {
		return nil, err
	}
	return normalize.Apply(raw, smsRules), nil
}
