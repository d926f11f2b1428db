// Package proximity forwards a driver's ad-hoc "what is near me" lookups to
// the external query service and re-validates what comes back.
package proximity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/example/ride-dispatch/internal/apperr"
	"github.com/example/ride-dispatch/internal/identity"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/observability"
)

const (
	DefaultRadiusKm = 5.0
	DefaultLimit    = 20
	MinLimit        = 1
	MaxLimit        = 100
)

// Params are optional query inputs. The same shape carries the handshake
// defaults and the per-event overrides.
type Params struct {
	Latitude    *float64 `json:"latitude,omitempty"`
	Longitude   *float64 `json:"longitude,omitempty"`
	RadiusKm    *float64 `json:"radiusKm,omitempty"`
	VehicleType string   `json:"vehicleType,omitempty"`
	Limit       *int     `json:"limit,omitempty"`
}

// ParamsFromQuery reads handshake defaults from a URL query string.
// Unparseable values are ignored.
func ParamsFromQuery(q url.Values) Params {
	var p Params
	p.Latitude = parseFloat(q.Get("latitude"))
	p.Longitude = parseFloat(q.Get("longitude"))
	p.RadiusKm = parseFloat(q.Get("radiusKm"))
	p.VehicleType = strings.TrimSpace(q.Get("vehicleType"))
	if v, err := strconv.Atoi(q.Get("limit")); err == nil {
		p.Limit = &v
	}
	return p
}

func parseFloat(s string) *float64 {
	if s == "" {
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &f
}

// Query is the resolved lookup sent upstream and echoed to the client.
type Query struct {
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	RadiusKm    float64 `json:"radiusKm"`
	VehicleType string  `json:"vehicleType"`
	Limit       int     `json:"limit"`
}

// Result is the payload of the booking:nearby reply.
type Result struct {
	Items []map[string]any `json:"items"`
	Count int              `json:"count"`
	Query Query            `json:"query"`
}

// ClampLimit forces n into [MinLimit, MaxLimit].
func ClampLimit(n int) int {
	if n < MinLimit {
		return MinLimit
	}
	if n > MaxLimit {
		return MaxLimit
	}
	return n
}

// Resolve merges overrides over handshake defaults and validates the result.
// The vehicle class falls back to the driver's own.
func Resolve(overrides, defaults Params, driverVehicleType string) (Query, error) {
	lat := pickFloat(overrides.Latitude, defaults.Latitude)
	lon := pickFloat(overrides.Longitude, defaults.Longitude)
	if lat == nil || lon == nil || !finite(*lat) || !finite(*lon) {
		return Query{}, apperr.Invalid("latitude and longitude are required")
	}
	q := Query{Latitude: *lat, Longitude: *lon, RadiusKm: DefaultRadiusKm, Limit: DefaultLimit}
	if r := pickFloat(overrides.RadiusKm, defaults.RadiusKm); r != nil && finite(*r) && *r > 0 {
		q.RadiusKm = *r
	}
	if l := pickInt(overrides.Limit, defaults.Limit); l != nil {
		q.Limit = *l
	}
	q.Limit = ClampLimit(q.Limit)
	q.VehicleType = firstNonEmpty(overrides.VehicleType, defaults.VehicleType, driverVehicleType)
	if q.VehicleType == "" {
		return Query{}, apperr.Invalid("vehicleType is required")
	}
	return q, nil
}

func finite(f float64) bool { return !math.IsNaN(f) && !math.IsInf(f, 0) }

func pickFloat(vs ...*float64) *float64 {
	for _, v := range vs {
		if v != nil {
			return v
		}
	}
	return nil
}

func pickInt(vs ...*int) *int {
	for _, v := range vs {
		if v != nil {
			return v
		}
	}
	return nil
}

func firstNonEmpty(vs ...string) string {
	for _, v := range vs {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

// Bridge calls the proximity query service on behalf of a driver.
type Bridge struct {
	Endpoint string
	Client   *http.Client
}

func NewBridge(endpoint string, timeout time.Duration) *Bridge {
	return &Bridge{Endpoint: endpoint, Client: &http.Client{Timeout: timeout}}
}

// Nearby runs a lookup for caller. Only drivers may query.
func (b *Bridge) Nearby(ctx context.Context, caller identity.Identity, overrides, defaults Params) (Result, error) {
	if caller.Role != models.RoleDriver {
		return Result{}, apperr.Forbidden("Unauthorized: driver token required")
	}
	q, err := Resolve(overrides, defaults, caller.VehicleType)
	if err != nil {
		return Result{}, err
	}
	if b.Endpoint == "" {
		return Result{}, apperr.Failed("Failed to query nearby", fmt.Errorf("proximity service not configured"))
	}
	items, err := b.fetch(ctx, q, caller.Credential)
	if err != nil {
		return Result{}, apperr.Failed("Failed to query nearby", err)
	}
	items = filterVehicle(items, q.VehicleType)
	if len(items) > q.Limit {
		items = items[:q.Limit]
	}
	return Result{Items: items, Count: len(items), Query: q}, nil
}

func (b *Bridge) fetch(ctx context.Context, q Query, credential string) ([]map[string]any, error) {
	start := time.Now()
	status := "error"
	defer func() {
		observability.UpstreamDuration.WithLabelValues("proximity", status).Observe(time.Since(start).Seconds())
	}()

	u, err := url.Parse(b.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("proximity endpoint: %w", err)
	}
	v := u.Query()
	v.Set("latitude", strconv.FormatFloat(q.Latitude, 'f', -1, 64))
	v.Set("longitude", strconv.FormatFloat(q.Longitude, 'f', -1, 64))
	v.Set("radiusKm", strconv.FormatFloat(q.RadiusKm, 'f', -1, 64))
	v.Set("vehicleType", q.VehicleType)
	v.Set("limit", strconv.Itoa(q.Limit))
	u.RawQuery = v.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if credential != "" {
		req.Header.Set("Authorization", "Bearer "+credential)
	}
	resp, err := b.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("proximity service: status %d", resp.StatusCode)
	}
	var raw json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("proximity service: %w", err)
	}
	items, err := decodeItems(raw)
	if err != nil {
		return nil, err
	}
	status = "ok"
	return items, nil
}

// decodeItems accepts a bare array or an object wrapping it under data or
// items.
func decodeItems(raw json.RawMessage) ([]map[string]any, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '[' {
		var items []map[string]any
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, fmt.Errorf("proximity service: %w", err)
		}
		return items, nil
	}
	var wrapped struct {
		Data  []map[string]any `json:"data"`
		Items []map[string]any `json:"items"`
	}
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return nil, fmt.Errorf("proximity service: %w", err)
	}
	if wrapped.Data != nil {
		return wrapped.Data, nil
	}
	if wrapped.Items != nil {
		return wrapped.Items, nil
	}
	return nil, fmt.Errorf("proximity service: unexpected response shape")
}

func filterVehicle(items []map[string]any, vehicleType string) []map[string]any {
	out := make([]map[string]any, 0, len(items))
	for _, it := range items {
		vt, _ := it["vehicleType"].(string)
		if strings.EqualFold(strings.TrimSpace(vt), vehicleType) {
			out = append(out, it)
		}
	}
	return out
}
