package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/observability"
)

type Profile struct {
	Name        string         `json:"name"`
	Phone       string         `json:"phone"`
	VehicleType string         `json:"vehicleType"`
	Vehicle     models.Vehicle `json:"vehicle"`
}

// ProfileClient hydrates driver descriptors the directory does not hold.
type ProfileClient interface {
	DriverProfile(ctx context.Context, driverID, credential string) (Profile, error)
}

// HTTPProfileClient calls GET {BaseURL}/drivers/{id} with the driver's own
// credential.
type HTTPProfileClient struct {
	BaseURL string
	Client  *http.Client
}

func NewHTTPProfileClient(baseURL string, timeout time.Duration) *HTTPProfileClient {
	return &HTTPProfileClient{BaseURL: strings.TrimRight(baseURL, "/"), Client: &http.Client{Timeout: timeout}}
}

func (c *HTTPProfileClient) DriverProfile(ctx context.Context, driverID, credential string) (Profile, error) {
	start := time.Now()
	status := "error"
	defer func() {
		observability.UpstreamDuration.WithLabelValues("profile", status).Observe(time.Since(start).Seconds())
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/drivers/"+url.PathEscape(driverID), nil)
	if err != nil {
		return Profile{}, err
	}
	req.Header.Set("Authorization", "Bearer "+credential)
	req.Header.Set("Accept", "application/json")
	resp, err := c.Client.Do(req)
	if err != nil {
		return Profile{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Profile{}, fmt.Errorf("profile service: status %d", resp.StatusCode)
	}
	// The service returns the profile either bare or wrapped in "data".
	var body struct {
		Profile
		Data *Profile `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Profile{}, fmt.Errorf("profile service: %w", err)
	}
	status = "ok"
	if body.Data != nil {
		return *body.Data, nil
	}
	return body.Profile, nil
}
