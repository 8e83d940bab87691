// Package adapters provides the per-vendor tool implementations.
//
// DESIGN: Every adapter has the same shallow shape - build an upstream
// client for the vendor, declare tool specs with JSON input schemas, and
// implement handlers that issue the vendor call and normalize the response.
// Vendor differences (auth scheme, paths, response shapes) live entirely
// inside the adapter; the dispatcher sees one uniform handler interface.
//
// To add a vendor: implement Adapter and add its factory to factories.
package adapters

import (
	"fmt"
	"sort"

	"github.com/toolbridge/tool-gateway/internal/config"
	"github.com/toolbridge/tool-gateway/internal/credentials"
	"github.com/toolbridge/tool-gateway/internal/monitoring"
	"github.com/toolbridge/tool-gateway/internal/registry"
)

// Adapter wires one vendor's tools into the registry.
type Adapter interface {
	// Name returns the vendor identifier (e.g. "slack", "twilio").
	Name() string

	// RegisterTools adds the vendor's tool bindings to the registry.
	RegisterTools(reg *registry.Registry) error
}

// BaseAdapter provides common functionality for all adapters.
type BaseAdapter struct {
	name   string
	static *credentials.Credentials
}

// NewBaseAdapter captures the vendor name and the statically configured
// fallback credentials.
func NewBaseAdapter(name string, cfg config.VendorConfig) BaseAdapter {
	return BaseAdapter{
		name:   name,
		static: credentials.Static(cfg.Credentials),
	}
}

// Name returns the adapter name.
func (a *BaseAdapter) Name() string { return a.name }

// Creds selects the per-request credentials when present, else the
// configured static fallback (MCP stdio clients cannot send headers). May
// return nil; upstream clients turn that into missing_credentials.
func (a *BaseAdapter) Creds(req *credentials.Credentials) *credentials.Credentials {
	if !req.Empty() {
		return req
	}
	return a.static
}

// Factory builds one vendor adapter from its config section.
type Factory func(cfg config.VendorConfig, metrics *monitoring.MetricsCollector) (Adapter, error)

// factories maps vendor names in config to their constructors.
var factories = map[string]Factory{
	"slack":    newSlackFactory,
	"twilio":   newTwilioFactory,
	"zoom":     newZoomFactory,
	"airtable": newAirtableFactory,
	"spotify":  newSpotifyFactory,
}

// BuildAll constructs every enabled vendor adapter and registers its tools.
// Unknown vendor names in config are an error: a typo must not silently
// disable a vendor.
func BuildAll(cfg *config.Config, reg *registry.Registry, metrics *monitoring.MetricsCollector) ([]Adapter, error) {
	names := make([]string, 0, len(cfg.Vendors))
	for name := range cfg.Vendors {
		names = append(names, name)
	}
	sort.Strings(names)

	var built []Adapter
	for _, name := range names {
		vc, enabled := cfg.Vendor(name)
		if !enabled {
			continue
		}
		factory, ok := factories[name]
		if !ok {
			return nil, fmt.Errorf("no adapter for vendor %q", name)
		}
		a, err := factory(vc, metrics)
		if err != nil {
			return nil, fmt.Errorf("build %s adapter: %w", name, err)
		}
		if err := a.RegisterTools(reg); err != nil {
			return nil, fmt.Errorf("register %s tools: %w", name, err)
		}
		built = append(built, a)
	}
	return built, nil
}
