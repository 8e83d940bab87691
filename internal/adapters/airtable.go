package adapters

import (
	"context"
	"fmt"
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

// AirtableAdapter exposes Airtable record operations as tools. Auth is a
// personal access token sent as a bearer; the base id comes from config
// options or per-call arguments.
type AirtableAdapter struct {
	BaseAdapter
	client *upstream.Client
	baseID string
}

func newAirtableFactory(cfg config.VendorConfig, metrics *monitoring.MetricsCollector) (Adapter, error) {
	return NewAirtableAdapter(cfg, metrics), nil
}

// NewAirtableAdapter creates an Airtable adapter from its config section.
func NewAirtableAdapter(cfg config.VendorConfig, metrics *monitoring.MetricsCollector) *AirtableAdapter {
	opts := []upstream.Option{}
	if metrics != nil {
		opts = append(opts, upstream.WithAttemptHook(metrics.RecordVendorCall))
	}
	return &AirtableAdapter{
		BaseAdapter: NewBaseAdapter("airtable", cfg),
		client:      upstream.NewClient(cfg.BaseURL, upstream.BearerAuth{}, opts...),
		baseID:      cfg.Options["base_id"],
	}
}

// recordRules reshapes a single Airtable record.
var recordRules = normalize.Rules{
	{Target: "record_id", Path: "id"},
	{Target: "fields", Path: "fields"},
	{Target: "created_time", Path: "createdTime"},
}

// recordListRules reshapes an Airtable record list.
var recordListRules = normalize.Rules{
	{Target: "offset", Path: "offset"},
	{Target: "records", Transform: func(doc gjson.Result) (any, error) {
		var out []map[string]any
		for _, rec := range doc.Get("records").Array() {
			out = append(out, map[string]any{
				"record_id":    rec.Get("id").String(),
				"fields":       rec.Get("fields").Value(),
				"created_time": rec.Get("createdTime").String(),
			})
		}
		if out == nil {
			return nil, nil
		}
		return out, nil
	}},
}

// RegisterTools adds the Airtable tool bindings.
func (a *AirtableAdapter) RegisterTools(reg *registry.Registry) error {
	listSpec := registry.ToolSpec{
		Name:        "list_records",
		Description: "List records from an Airtable table. Returns record ids and their fields.",
		InputSchema: []byte(`{
			"type": "object",
			"properties": {
				"table": {"type": "string", "description": "Table name or id"},
				"base_id": {"type": "string", "description": "Base id; defaults to the configured base"},
				"max_records": {"type": "integer", "minimum": 1, "maximum": 100},
				"view": {"type": "string"}
			},
			"required": ["table"],
			"additionalProperties": false
		}`),
	}
	if err := reg.Register(listSpec, registry.HandlerFunc(a.handleListRecords)); err != nil {
		return err
	}

	createSpec := registry.ToolSpec{
		Name:        "create_record",
		Description: "Create a record in an Airtable table from a fields object.",
		InputSchema: []byte(`{
			"type": "object",
			"properties": {
				"table": {"type": "string", "description": "Table name or id"},
				"base_id": {"type": "string", "description": "Base id; defaults to the configured base"},
				"fields": {"type": "object", "description": "Field name to value mapping"}
			},
			"required": ["table", "fields"],
			"additionalProperties": false
		}`),
	}
	return reg.Register(createSpec, registry.HandlerFunc(a.handleCreateRecord))
}

// tablePath resolves /v0/{base}/{table}, preferring the per-call base id.
func (a *AirtableAdapter) tablePath(args map[string]any) (string, error) {
	base := a.baseID
	if v, ok := args["base_id"].(string); ok && v != "" {
		base = v
	}
	if base == "" {
		return "", envelope.New(envelope.KindInvalidArguments, "no base id: set \"base_id\" or configure options.base_id")
	}
	table, _ := args["table"].(string)
	return fmt.Sprintf("/v0/%s/%s", url.PathEscape(base), url.PathEscape(table)), nil
}

func (a *AirtableAdapter) handleListRecords(ctx context.Context, args map[string]any, creds *credentials.Credentials) (any, error) {
	path, err := a.tablePath(args)
	if err != nil {
		return nil, err
	}

	query := url.Values{}
	if v, ok := args["max_records"].(float64); ok {
		query.Set("maxRecords", strconv.Itoa(int(v)))
	}
	if v, ok := args["view"].(string); ok && v != "" {
		query.Set("view", v)
	}

	raw, err := a.client.Call(ctx, a.Creds(creds), "GET", path, query, nil)
	if err != nil {
		return nil, err
	}
	return normalize.Apply(raw, recordListRules), nil
}

func (a *AirtableAdapter) handleCreateRecord(ctx context.Context, args map[string]any, creds *credentials.Credentials) (any, error) {
	path, err := a.tablePath(args)
	if err != nil {
		return nil, err
	}

	body := map[string]any{"fields": args["fields"]}
	raw, err := a.client.Call(ctx, a.Creds(creds), "POST", path, nil, body)
	if err != nil {
		return nil, err
	}
	return normalize.Apply(raw, recordRules), nil
}
