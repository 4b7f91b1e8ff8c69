// Package cloudclient implements the device-to-cloud HTTP surface of
// §6.2: one thin client shared by the command executor (C10), the
// config syncer (C11), the OTA engine (C12), and the upload path
// (C8/C9). It knows the URL shapes and envelope marshaling; it does not
// know how to build or interpret any inner payload.
package cloudclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/RPX2001/ecowatt-edge-gateway/internal/gwerrors"
	"github.com/RPX2001/ecowatt-edge-gateway/pkg/security"
)

// Client is the cloud-facing HTTP surface. The zero value is not
// usable; use New.
type Client struct {
	httpClient *http.Client
	baseURL    string
	deviceID   string
}

// New builds a Client rooted at baseURL (no trailing slash) for the
// given device id, using httpClient for every call.
func New(httpClient *http.Client, baseURL, deviceID string) *Client {
	return &Client{httpClient: httpClient, baseURL: baseURL, deviceID: deviceID}
}

// DeviceID returns the device id this client was built with.
func (c *Client) DeviceID() string { return c.deviceID }

// Upload sends env to POST /process.
func (c *Client) Upload(ctx context.Context, env *security.Envelope) (*security.Envelope, int, error) {
	return c.postEnvelope(ctx, "/process", env)
}

// FetchConfig issues GET /config/{device_id}.
func (c *Client) FetchConfig(ctx context.Context) (*security.Envelope, int, error) {
	return c.getEnvelope(ctx, "/config/"+url.PathEscape(c.deviceID))
}

// AcknowledgeConfig issues POST /config/{device_id}/acknowledge.
func (c *Client) AcknowledgeConfig(ctx context.Context, env *security.Envelope) (*security.Envelope, int, error) {
	return c.postEnvelope(ctx, "/config/"+url.PathEscape(c.deviceID)+"/acknowledge", env)
}

// PendingCommands issues GET /commands/pending?device={id}.
func (c *Client) PendingCommands(ctx context.Context) (*security.Envelope, int, error) {
	return c.getEnvelope(ctx, "/commands/pending?device="+url.QueryEscape(c.deviceID))
}

// CommandResult issues POST /commands/{command_id}/result.
func (c *Client) CommandResult(ctx context.Context, commandID string, env *security.Envelope) (*security.Envelope, int, error) {
	return c.postEnvelope(ctx, "/commands/"+url.PathEscape(commandID)+"/result", env)
}

// FirmwareCheck issues GET /firmware/check?device={id}&version={v}.
func (c *Client) FirmwareCheck(ctx context.Context, currentVersion string) (*security.Envelope, int, error) {
	path := "/firmware/check?device=" + url.QueryEscape(c.deviceID) + "&version=" + url.QueryEscape(currentVersion)
	return c.getEnvelope(ctx, path)
}

// FirmwareManifest issues GET /firmware/{version}/manifest.
func (c *Client) FirmwareManifest(ctx context.Context, version string) (*security.Envelope, int, error) {
	return c.getEnvelope(ctx, "/firmware/"+url.PathEscape(version)+"/manifest")
}

// FirmwareChunk issues GET /firmware/{version}/chunk/{index}.
func (c *Client) FirmwareChunk(ctx context.Context, version string, index int) (*security.Envelope, int, error) {
	path := "/firmware/" + url.PathEscape(version) + "/chunk/" + strconv.Itoa(index)
	return c.getEnvelope(ctx, path)
}

// FirmwareActivated issues POST /firmware/{version}/activated.
func (c *Client) FirmwareActivated(ctx context.Context, version string, env *security.Envelope) (*security.Envelope, int, error) {
	return c.postEnvelope(ctx, "/firmware/"+url.PathEscape(version)+"/activated", env)
}

// ReportFaults issues POST /faults.
func (c *Client) ReportFaults(ctx context.Context, env *security.Envelope) (*security.Envelope, int, error) {
	return c.postEnvelope(ctx, "/faults", env)
}

// Health issues GET /health. Unlike every other call, it carries no
// envelope: §6.2 marks it as the one unwrapped surface.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return gwerrors.Wrap(gwerrors.TransientTransport, "cloudclient", "health", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return gwerrors.Wrap(gwerrors.TransientTransport, "cloudclient", "health", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return gwerrors.New(gwerrors.TransientTransport, "cloudclient", "health", fmt.Sprintf("unexpected status %d", resp.StatusCode))
	}
	return nil
}

func (c *Client) postEnvelope(ctx context.Context, path string, env *security.Envelope) (*security.Envelope, int, error) {
	body, err := json.Marshal(env)
	if err != nil {
		return nil, 0, gwerrors.Wrap(gwerrors.PermanentConfig, "cloudclient", "marshal", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, 0, gwerrors.Wrap(gwerrors.TransientTransport, "cloudclient", "post", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req)
}

func (c *Client) getEnvelope(ctx context.Context, path string) (*security.Envelope, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, 0, gwerrors.Wrap(gwerrors.TransientTransport, "cloudclient", "get", err)
	}
	return c.do(req)
}

func (c *Client) do(req *http.Request) (*security.Envelope, int, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, -1, gwerrors.Wrap(gwerrors.TransientTransport, "cloudclient", "do", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, gwerrors.Wrap(gwerrors.TransientTransport, "cloudclient", "read_body", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, resp.StatusCode, gwerrors.New(gwerrors.TransientTransport, "cloudclient", "status", fmt.Sprintf("HTTP %d: %s", resp.StatusCode, string(raw)))
	}
	if len(raw) == 0 {
		return nil, resp.StatusCode, nil
	}

	var env security.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, resp.StatusCode, gwerrors.Wrap(gwerrors.IntegrityFailure, "cloudclient", "unmarshal", err)
	}
	return &env, resp.StatusCode, nil
}
