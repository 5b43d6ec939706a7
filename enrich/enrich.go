// Package enrich supplies the contextual data (local weather) woven into
// wake-up messages.
package enrich

import (
	"context"
	"encoding/json"
)

// Unavailable placeholder values
const (
	NotAvailable       = "N/A"
	WeatherUnavailable = "Weather unavailable"
	UnknownLocation    = "Unknown"
)

// Context is the enrichment data for one delivery. Values are display strings.
type Context struct {
	Temperature string `json:"temperature"`
	Description string `json:"description"`
	Humidity    string `json:"humidity"`
	FeelsLike   string `json:"feels_like"`
	Location    string `json:"location"`
}

// Unavailable returns the context used when no data could be fetched
func Unavailable() Context {
	return Context{
		Temperature: NotAvailable,
		Description: WeatherUnavailable,
		Humidity:    NotAvailable,
		FeelsLike:   NotAvailable,
		Location:    UnknownLocation,
	}
}

// IsUnavailable reports whether c is the unavailable placeholder
func (c Context) IsUnavailable() bool {
	return c == Unavailable()
}

// Snapshot returns c as JSON for the execution log
func (c Context) Snapshot() json.RawMessage {
	b, err := json.Marshal(c)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return b
}

// ContextEnrichment fetches context for a region. It never fails; an
// implementation returns Unavailable() when it cannot produce data.
type ContextEnrichment interface {
	Fetch(ctx context.Context, region string) Context
}

// Static always returns the same context
type Static Context

// Fetch returns the static context
func (s Static) Fetch(context.Context, string) Context { return Context(s) }

// Disabled always returns Unavailable()
type Disabled struct{}

// Fetch returns Unavailable()
func (Disabled) Fetch(context.Context, string) Context { return Unavailable() }
