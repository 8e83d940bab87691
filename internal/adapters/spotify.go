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
	"github.com/toolbridge/tool-gateway/internal/registry"
	"github.com/toolbridge/tool-gateway/internal/tokencache"
	"github.com/toolbridge/tool-gateway/internal/upstream"
)

// defaultSpotifyAuthURL is the accounts host used for the
// client-credentials grant.
const defaultSpotifyAuthURL = "https://accounts.spotify.com"

// SpotifyAdapter exposes Spotify catalog search as tools. Auth is an OAuth
// client-credentials grant minted from the caller's client_id/client_secret
// and cached per credential set until shortly before expiry.
type SpotifyAdapter struct {
	BaseAdapter
	client     *upstream.Client
	authClient *upstream.Client
	tokens     *tokencache.Keyed
}

func newSpotifyFactory(cfg config.VendorConfig, metrics *monitoring.MetricsCollector) (Adapter, error) {
	return NewSpotifyAdapter(cfg, metrics), nil
}

// NewSpotifyAdapter creates a Spotify adapter from its config section.
func NewSpotifyAdapter(cfg config.VendorConfig, metrics *monitoring.MetricsCollector) *SpotifyAdapter {
	a := &SpotifyAdapter{
		BaseAdapter: NewBaseAdapter("spotify", cfg),
		tokens:      tokencache.NewKeyed(),
	}

	authURL := cfg.Options["auth_base_url"]
	if authURL == "" {
		authURL = defaultSpotifyAuthURL
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
	return a
}

// bearerFor returns the OAuth bearer for the caller's credential set,
// minting it through a client-credentials grant on first use. Callers
// without per-request credentials share the configured app's token.
func (a *SpotifyAdapter) bearerFor(ctx context.Context, creds *credentials.Credentials) (string, error) {
	eff := a.Creds(creds)
	if err := eff.Require(); err != nil {
		return "", err
	}
	cache := a.tokens.For(eff.Fingerprint(), func(ctx context.Context) (string, time.Duration, error) {
		form := url.Values{}
		form.Set("grant_type", "client_credentials")
		raw, err := a.authClient.CallForm(ctx, eff, "POST", "/api/token", form)
		if err != nil {
			return "", 0, err
		}
		doc := gjson.ParseBytes(raw)
		token := doc.Get("access_token").String()
		if token == "" {
			return "", 0, envelope.New(envelope.KindAuthError, "spotify token response had no access_token").WithDetails(raw)
		}
		return token, time.Duration(doc.Get("expires_in").Int()) * time.Second, nil
	})
	return cache.Token(ctx)
}

// trackSearchRules reshapes a Spotify track search response.
var trackSearchRules = normalize.Rules{
	{Target: "total", Path: "tracks.total"},
	{Target: "tracks", Transform: func(doc gjson.Result) (any, error) {
		var out []map[string]any
		for _, t := range doc.Get("tracks.items").Array() {
			item := map[string]any{
				"id":   t.Get("id").String(),
				"name": t.Get("name").String(),
			}
			if artist := t.Get("artists.0.name"); artist.Exists() {
				item["artist"] = artist.String()
			}
			if album := t.Get("album.name"); album.Exists() {
				item["album"] = album.String()
			}
			out = append(out, item)
		}
		if out == nil {
			return nil, nil
		}
		return out, nil
	}},
}

// RegisterTools adds the Spotify tool bindings.
func (a *SpotifyAdapter) RegisterTools(reg *registry.Registry) error {
	searchSpec := registry.ToolSpec{
		Name:        "search_tracks",
		Description: "Search the Spotify catalog for tracks. Returns track ids, names, artists and albums.",
		InputSchema: []byte(`{
			"type": "object",
			"properties": {
				"query": {"type": "string", "description": "Search query"},
				"limit": {"type": "integer", "minimum": 1, "maximum": 50}
			},
			"required": ["query"],
			"additionalProperties": false
		}`),
	}
	return reg.Register(searchSpec, registry.HandlerFunc(a.handleSearchTracks))
}

func (a *SpotifyAdapter) handleSearchTracks(ctx context.Context, args map[string]any, creds *credentials.Credentials) (any, error) {
	query := url.Values{}
	query.Set("q", args["query"].(string))
	query.Set("type", "track")
	if v, ok := args["limit"].(float64); ok {
		query.Set("limit", strconv.Itoa(int(v)))
	}

	raw, err := a.client.Call(ctx, a.Creds(creds), "GET", "/v1/search", query, nil)
	if err != nil {
		return nil, err
	}
	return normalize.Apply(raw, trackSearchRules), nil
}
