// Package client talks to the daemon socket using the line protocol:
// one JSON request per line, one JSON response per line. A client
// holds a single connection and serializes requests over it.
package client

import (
	"bufio"
	"encoding/json"
	"io"
	"net"
	"sync"

	"codeberg.org/wrenhale/gpuctl/internal/errors"
	"codeberg.org/wrenhale/gpuctl/schema"
)

// Client is a connection to the daemon.
type Client struct {
	mu      sync.Mutex
	conn    net.Conn
	scanner *bufio.Scanner
}

// Dial connects to the daemon socket.
func Dial(socketPath string) (*Client, error) {
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return nil, errors.New().Wrap(ErrConnectFailed, err)
	}

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	return &Client{conn: conn, scanner: scanner}, nil
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Do sends one request and reads its response envelope.
func (c *Client) Do(req schema.Request) (schema.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	errFactory := errors.New()

	if err := json.NewEncoder(c.conn).Encode(req); err != nil {
		return schema.Response{}, errFactory.Wrap(ErrRequestFailed, err)
	}

	if !c.scanner.Scan() {
		err := c.scanner.Err()
		if err == nil {
			err = io.EOF
		}

		return schema.Response{}, errFactory.Wrap(ErrRequestFailed, err)
	}

	var resp schema.Response
	if err := json.Unmarshal(c.scanner.Bytes(), &resp); err != nil {
		return schema.Response{}, errFactory.Wrap(ErrBadResponse, err)
	}

	return resp, nil
}

// do sends a request, checks the envelope and decodes the payload
// into out when both are present.
func (c *Client) do(req schema.Request, out any) error {
	resp, err := c.Do(req)
	if err != nil {
		return err
	}

	if resp.Status != schema.StatusOk {
		return errors.New().WithMessage(ErrRequestFailed, resp.Reason)
	}

	if out != nil && len(resp.Data) > 0 {
		if err := json.Unmarshal(resp.Data, out); err != nil {
			return errors.New().Wrap(ErrBadResponse, err)
		}
	}

	return nil
}

// Ping checks daemon liveness.
func (c *Client) Ping() error {
	return c.do(schema.Request{Command: schema.CommandPing}, nil)
}

// ListDevices returns the managed devices.
func (c *Client) ListDevices() ([]schema.DeviceListEntry, error) {
	var entries []schema.DeviceListEntry
	err := c.do(schema.Request{Command: schema.CommandListDevices}, &entries)

	return entries, err
}

// DeviceInfo returns the static description of one device.
func (c *Client) DeviceInfo(id string) (schema.DeviceInfo, error) {
	var info schema.DeviceInfo
	err := c.do(schema.Request{Command: schema.CommandDeviceInfo, ID: id}, &info)

	return info, err
}

// DeviceStats returns a live telemetry snapshot of one device.
func (c *Client) DeviceStats(id string) (schema.DeviceStats, error) {
	var stats schema.DeviceStats
	err := c.do(schema.Request{Command: schema.CommandDeviceStats, ID: id}, &stats)

	return stats, err
}

// DeviceClocksInfo returns the clock table view of one device.
func (c *Client) DeviceClocksInfo(id string) (schema.ClocksInfo, error) {
	var info schema.ClocksInfo
	err := c.do(schema.Request{Command: schema.CommandDeviceClocksInfo, ID: id}, &info)

	return info, err
}

// SetFanControl applies fan options to the device named inside them.
func (c *Client) SetFanControl(opts schema.FanOptions) error {
	return c.do(schema.Request{Command: schema.CommandSetFanControl, Fan: &opts}, nil)
}

// SetClocks applies a clocks delta to one device.
func (c *Client) SetClocks(id string, delta schema.ClocksDelta) error {
	return c.do(schema.Request{Command: schema.CommandSetClocks, ID: id, Delta: &delta}, nil)
}

// SetPowerCap sets the power limit in watts; nil resets the hardware
// default.
func (c *Client) SetPowerCap(id string, capWatts *float64) error {
	return c.do(schema.Request{Command: schema.CommandSetPowerCap, ID: id, Cap: capWatts}, nil)
}

// ListProfiles returns the profile configuration, optionally with the
// live watcher state.
func (c *Client) ListProfiles(includeState bool) (schema.ProfilesInfo, error) {
	var info schema.ProfilesInfo
	err := c.do(schema.Request{Command: schema.CommandListProfiles, IncludeState: includeState}, &info)

	return info, err
}

// SetProfile selects a profile by name, nil for none.
func (c *Client) SetProfile(name *string) error {
	return c.do(schema.Request{Command: schema.CommandSetProfile, Name: name}, nil)
}

// CreateProfile adds a profile with an optional activation rule.
func (c *Client) CreateProfile(name string, rule *schema.ProfileRule) error {
	return c.do(schema.Request{Command: schema.CommandCreateProfile, Name: &name, Rule: rule}, nil)
}

// DeleteProfile removes a profile.
func (c *Client) DeleteProfile(name string) error {
	return c.do(schema.Request{Command: schema.CommandDeleteProfile, Name: &name}, nil)
}

// SetProfileRule replaces the activation rule of an existing profile.
func (c *Client) SetProfileRule(name string, rule *schema.ProfileRule) error {
	return c.do(schema.Request{Command: schema.CommandSetProfileRule, Name: &name, Rule: rule}, nil)
}

// SetAutoSwitch toggles automatic profile switching.
func (c *Client) SetAutoSwitch(enabled bool) error {
	return c.do(schema.Request{Command: schema.CommandSetAutoSwitch, Enabled: &enabled}, nil)
}
