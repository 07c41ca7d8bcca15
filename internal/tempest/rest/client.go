package rest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/jamesrupertball/tempest-weather-airport/internal/tempest"
)

// Client talks to the WeatherFlow REST API.
type Client struct {
	baseURL string
	token   string
	httpCfg HTTPClientConfig
	circuit *gobreaker.CircuitBreaker
}

func NewClient(httpClient *http.Client, baseURL, token string) *Client {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "tempest-rest",
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     2 * time.Minute,
		IsSuccessful: func(err error) bool {
			// 4xx responses say nothing about the health of the API
			var perm permanentError
			return err == nil || errors.As(err, &perm)
		},
	})

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpCfg: HTTPClientConfig{
			Client: httpClient,
			Backoff: BackoffConfig{
				MaxRetries:      3,
				InitialInterval: 500 * time.Millisecond,
				MaxInterval:     5 * time.Second,
			},
		},
		circuit: cb,
	}
}

// WithBackoff overrides the retry policy.
func (c *Client) WithBackoff(b BackoffConfig) *Client {
	c.httpCfg.Backoff = b
	return c
}

// ObservationsResponse is the body of /observations/device/{id}.
type ObservationsResponse struct {
	Type     string       `json:"type"`
	DeviceID int64        `json:"device_id"`
	Obs      [][]*float64 `json:"obs"`
}

// Frame converts the response into a frame for decoding.
func (r *ObservationsResponse) Frame() tempest.Frame {
	if r == nil {
		return tempest.Frame{Type: tempest.TypeUnknown}
	}
	return tempest.Frame{
		Type:     tempest.ParseMessageType(r.Type),
		DeviceID: r.DeviceID,
		Obs:      r.Obs,
	}
}

// Observations fetches the device's observations in [start, end].
// An empty or null body is returned as a nil response and no error.
func (c *Client) Observations(ctx context.Context, deviceID int64, start, end time.Time) (*ObservationsResponse, error) {
	values := url.Values{}
	values.Set("time_start", strconv.FormatInt(start.Unix(), 10))
	values.Set("time_end", strconv.FormatInt(end.Unix(), 10))
	u := fmt.Sprintf("%s/observations/device/%d?%s", c.baseURL, deviceID, values.Encode())

	var out *ObservationsResponse
	if err := c.getJSON(ctx, u, &out); err != nil {
		return nil, fmt.Errorf("fetch observations for device %d: %w", deviceID, err)
	}
	return out, nil
}

type stationsResponse struct {
	Stations []struct {
		StationID   int64    `json:"station_id"`
		Name        string   `json:"name"`
		PublicName  string   `json:"public_name"`
		Latitude    *float64 `json:"latitude"`
		Longitude   *float64 `json:"longitude"`
		Timezone    string   `json:"timezone"`
		StationMeta struct {
			Elevation   *float64 `json:"elevation"`
			ShareWithWF *bool    `json:"share_with_wf"`
			ShareWithWU *bool    `json:"share_with_wu"`
		} `json:"station_meta"`
		Devices []struct {
			DeviceID         int64  `json:"device_id"`
			SerialNumber     string `json:"serial_number"`
			DeviceType       string `json:"device_type"`
			HardwareRevision string `json:"hardware_revision"`
			FirmwareRevision string `json:"firmware_revision"`
			DeviceMeta       struct {
				AGL             *float64 `json:"agl"`
				Name            string   `json:"name"`
				Environment     string   `json:"environment"`
				WifiNetworkName string   `json:"wifi_network_name"`
			} `json:"device_meta"`
		} `json:"devices"`
	} `json:"stations"`
}

// Stations lists the stations, with their devices, visible to the token.
func (c *Client) Stations(ctx context.Context) ([]tempest.Station, error) {
	var body stationsResponse
	if err := c.getJSON(ctx, c.baseURL+"/stations", &body); err != nil {
		return nil, fmt.Errorf("fetch stations: %w", err)
	}

	stations := make([]tempest.Station, 0, len(body.Stations))
	for _, s := range body.Stations {
		st := tempest.Station{
			StationID:   s.StationID,
			Name:        s.Name,
			Latitude:    s.Latitude,
			Longitude:   s.Longitude,
			Timezone:    s.Timezone,
			PublicName:  s.PublicName,
			Elevation:   s.StationMeta.Elevation,
			ShareWithWF: s.StationMeta.ShareWithWF,
			ShareWithWU: s.StationMeta.ShareWithWU,
		}
		for _, d := range s.Devices {
			st.Devices = append(st.Devices, tempest.Device{
				DeviceID:         d.DeviceID,
				StationID:        s.StationID,
				SerialNumber:     d.SerialNumber,
				DeviceType:       d.DeviceType,
				HardwareRevision: d.HardwareRevision,
				FirmwareRevision: d.FirmwareRevision,
				AGL:              d.DeviceMeta.AGL,
				Name:             d.DeviceMeta.Name,
				Environment:      d.DeviceMeta.Environment,
				WifiNetworkName:  d.DeviceMeta.WifiNetworkName,
			})
		}
		stations = append(stations, st)
	}
	return stations, nil
}

func (c *Client) getJSON(ctx context.Context, u string, out any) error {
	buildRequest := func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+c.token)
		req.Header.Set("Accept", "application/json")
		return req, nil
	}

	resp, err := doRequestWithResilience(ctx, c.httpCfg, c.circuit, buildRequest)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	// an empty body leaves out untouched
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
