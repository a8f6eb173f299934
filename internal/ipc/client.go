package ipc

import (
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"time"
)

// Client provides RPC access to the daemon.
type Client struct {
	conn   net.Conn
	client *rpc.Client
}

// Dial connects to the IPC server at the given socket path.
func Dial(path string) (*Client, error) {
	conn, err := net.DialTimeout("unix", path, 2*time.Second)
	if err != nil {
		return nil, err
	}
	rpcClient := rpc.NewClientWithCodec(jsonrpc.NewClientCodec(conn))
	return &Client{conn: conn, client: rpcClient}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	if c.client != nil {
		_ = c.client.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// Stop requests the daemon to stop.
func (c *Client) Stop() (*StopResponse, error) {
	var resp StopResponse
	if err := c.client.Call("Ensemble.Stop", StopRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Status retrieves the daemon status.
func (c *Client) Status() (*StatusResponse, error) {
	var resp StatusResponse
	if err := c.client.Call("Ensemble.Status", StatusRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// DeviceRegister registers a new device.
func (c *Client) DeviceRegister(req DeviceRegisterRequest) (*DeviceRegisterResponse, error) {
	var resp DeviceRegisterResponse
	if err := c.client.Call("Ensemble.DeviceRegister", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// DeviceList lists devices, optionally filtered by group.
func (c *Client) DeviceList(groupID string) (*DeviceListResponse, error) {
	var resp DeviceListResponse
	if err := c.client.Call("Ensemble.DeviceList", DeviceListRequest{GroupID: groupID}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// DeviceShow fetches one device.
func (c *Client) DeviceShow(deviceID string) (*DeviceShowResponse, error) {
	var resp DeviceShowResponse
	if err := c.client.Call("Ensemble.DeviceShow", DeviceShowRequest{DeviceID: deviceID}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// DeviceRetire retires a device.
func (c *Client) DeviceRetire(deviceID string) (*DeviceRetireResponse, error) {
	var resp DeviceRetireResponse
	if err := c.client.Call("Ensemble.DeviceRetire", DeviceRetireRequest{DeviceID: deviceID}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// PersonaList lists available personas.
func (c *Client) PersonaList() (*PersonaListResponse, error) {
	var resp PersonaListResponse
	if err := c.client.Call("Ensemble.PersonaList", PersonaListRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// PersonaShow fetches one persona.
func (c *Client) PersonaShow(personaID string) (*PersonaShowResponse, error) {
	var resp PersonaShowResponse
	if err := c.client.Call("Ensemble.PersonaShow", PersonaShowRequest{PersonaID: personaID}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// PersonaSwitch switches a device's active persona.
func (c *Client) PersonaSwitch(deviceID, personaID string) (*PersonaSwitchResponse, error) {
	var resp PersonaSwitchResponse
	req := PersonaSwitchRequest{DeviceID: deviceID, PersonaID: personaID}
	if err := c.client.Call("Ensemble.PersonaSwitch", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// PersonaInvalidate drops a persona from both cache tiers.
func (c *Client) PersonaInvalidate(personaID string) (*PersonaInvalidateResponse, error) {
	var resp PersonaInvalidateResponse
	if err := c.client.Call("Ensemble.PersonaInvalidate", PersonaInvalidateRequest{PersonaID: personaID}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SessionCreate starts a session on a device.
func (c *Client) SessionCreate(req SessionCreateRequest) (*SessionCreateResponse, error) {
	var resp SessionCreateResponse
	if err := c.client.Call("Ensemble.SessionCreate", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SessionShow fetches one session.
func (c *Client) SessionShow(sessionID string) (*SessionShowResponse, error) {
	var resp SessionShowResponse
	if err := c.client.Call("Ensemble.SessionShow", SessionShowRequest{SessionID: sessionID}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SessionEnd ends a session.
func (c *Client) SessionEnd(sessionID string) (*SessionEndResponse, error) {
	var resp SessionEndResponse
	if err := c.client.Call("Ensemble.SessionEnd", SessionEndRequest{SessionID: sessionID}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SessionTurn appends a conversation turn.
func (c *Client) SessionTurn(req SessionTurnRequest) (*SessionTurnResponse, error) {
	var resp SessionTurnResponse
	if err := c.client.Call("Ensemble.SessionTurn", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Handoff moves a session between devices.
func (c *Client) Handoff(req HandoffRequest) (*HandoffResponse, error) {
	var resp HandoffResponse
	if err := c.client.Call("Ensemble.Handoff", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ActivityStart launches a group activity.
func (c *Client) ActivityStart(req ActivityStartRequest) (*ActivityStartResponse, error) {
	var resp ActivityStartResponse
	if err := c.client.Call("Ensemble.ActivityStart", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ActivityList lists live activities.
func (c *Client) ActivityList() (*ActivityListResponse, error) {
	var resp ActivityListResponse
	if err := c.client.Call("Ensemble.ActivityList", ActivityListRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ActivityShow fetches one live activity.
func (c *Client) ActivityShow(activityID string) (*ActivityShowResponse, error) {
	var resp ActivityShowResponse
	if err := c.client.Call("Ensemble.ActivityShow", ActivityShowRequest{ActivityID: activityID}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ActivityPause pauses an active activity.
func (c *Client) ActivityPause(activityID string) (*ActivityPauseResponse, error) {
	var resp ActivityPauseResponse
	if err := c.client.Call("Ensemble.ActivityPause", ActivityPauseRequest{ActivityID: activityID}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ActivityResume resumes a paused activity.
func (c *Client) ActivityResume(activityID string) (*ActivityResumeResponse, error) {
	var resp ActivityResumeResponse
	if err := c.client.Call("Ensemble.ActivityResume", ActivityResumeRequest{ActivityID: activityID}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ActivityEnd ends an activity.
func (c *Client) ActivityEnd(activityID string) (*ActivityEndResponse, error) {
	var resp ActivityEndResponse
	if err := c.client.Call("Ensemble.ActivityEnd", ActivityEndRequest{ActivityID: activityID}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Round records one device's round score submission.
func (c *Client) Round(req RoundRequest) (*RoundResponse, error) {
	var resp RoundResponse
	if err := c.client.Call("Ensemble.Round", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SyncPlayback schedules synchronized playback.
func (c *Client) SyncPlayback(req SyncPlaybackRequest) (*SyncPlaybackResponse, error) {
	var resp SyncPlaybackResponse
	if err := c.client.Call("Ensemble.SyncPlayback", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Alert broadcasts an emergency alert to all devices.
func (c *Client) Alert(message, sourceDeviceID string) (*AlertResponse, error) {
	var resp AlertResponse
	req := AlertRequest{Message: message, SourceDeviceID: sourceDeviceID}
	if err := c.client.Call("Ensemble.Alert", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Say pushes a spoken response to one connected device.
func (c *Client) Say(req SayRequest) (*SayResponse, error) {
	var resp SayResponse
	if err := c.client.Call("Ensemble.Say", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
