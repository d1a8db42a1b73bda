package adapters

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"ovndbsync/pkg/core"
)

// Host API paths.
const (
	pathNetworks    = "/v2.0/networks"
	pathSubnets     = "/v2.0/subnets"
	pathPorts       = "/v2.0/ports"
	pathPort        = "/v2.0/ports/{id}"
	pathRouters     = "/v2.0/routers"
	pathFloatingIPs = "/v2.0/floatingips"
	pathSyncReports = "/v2.0/ovn-sync-reports"
)

// APIError is returned for non-2xx responses.
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

type restClient struct {
	client *resty.Client
}

// RESTClient is a DesiredState and Callbacks implementation over the host's HTTP API.
type RESTClient interface {
	DesiredState
	Callbacks
}

// NewRESTClient returns a client for the host API at baseURL.
func NewRESTClient(baseURL, token string, timeout time.Duration) RESTClient {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")
	if token != "" {
		client.SetHeader("X-Auth-Token", token)
	}
	return &restClient{client: client}
}

// ListNetworks returns every network.
func (c *restClient) ListNetworks(ctx context.Context) ([]core.Network, error) {
	var out struct {
		Networks []core.Network `json:"networks"`
	}
	if err := c.get(ctx, pathNetworks, &out); err != nil {
		return nil, err
	}
	return out.Networks, nil
}

// ListSubnets returns every subnet.
func (c *restClient) ListSubnets(ctx context.Context) ([]core.Subnet, error) {
	var out struct {
		Subnets []core.Subnet `json:"subnets"`
	}
	if err := c.get(ctx, pathSubnets, &out); err != nil {
		return nil, err
	}
	return out.Subnets, nil
}

// ListPorts returns every port.
func (c *restClient) ListPorts(ctx context.Context) ([]core.Port, error) {
	var out struct {
		Ports []core.Port `json:"ports"`
	}
	if err := c.get(ctx, pathPorts, &out); err != nil {
		return nil, err
	}
	return out.Ports, nil
}

// ListRouters returns every router.
func (c *restClient) ListRouters(ctx context.Context) ([]core.Router, error) {
	var out struct {
		Routers []core.Router `json:"routers"`
	}
	if err := c.get(ctx, pathRouters, &out); err != nil {
		return nil, err
	}
	return out.Routers, nil
}

// ListFloatingIPs returns every floating IP.
func (c *restClient) ListFloatingIPs(ctx context.Context) ([]core.FloatingIP, error) {
	var out struct {
		FloatingIPs []core.FloatingIP `json:"floatingips"`
	}
	if err := c.get(ctx, pathFloatingIPs, &out); err != nil {
		return nil, err
	}
	return out.FloatingIPs, nil
}

// OnPortStatusChanged updates the user visible status of a port.
func (c *restClient) OnPortStatusChanged(ctx context.Context, portID string, status core.PortStatus) error {
	body := map[string]any{"port": map[string]string{"status": string(status)}}
	resp, err := c.client.R().
		SetContext(ctx).
		SetPathParam("id", portID).
		SetBody(body).
		Put(pathPort)
	if err != nil {
		return fmt.Errorf("update port %s status: %w", portID, err)
	}
	if resp.IsError() {
		return &APIError{Method: "PUT", Path: pathPorts + "/" + portID, StatusCode: resp.StatusCode(), Body: resp.String()}
	}
	return nil
}

// OnSyncCompleted posts the report of a finished run.
func (c *restClient) OnSyncCompleted(ctx context.Context, report core.SyncReport) error {
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(map[string]any{"report": report}).
		Post(pathSyncReports)
	if err != nil {
		return fmt.Errorf("post sync report: %w", err)
	}
	if resp.IsError() {
		return &APIError{Method: "POST", Path: pathSyncReports, StatusCode: resp.StatusCode(), Body: resp.String()}
	}
	return nil
}

func (c *restClient) get(ctx context.Context, path string, out any) error {
	resp, err := c.client.R().
		SetContext(ctx).
		SetResult(out).
		Get(path)
	if err != nil {
		return fmt.Errorf("get %s: %w", path, err)
	}
	if resp.IsError() {
		return &APIError{Method: "GET", Path: path, StatusCode: resp.StatusCode(), Body: resp.String()}
	}
	return nil
}
