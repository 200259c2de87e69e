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

// Start requests the daemon to start processing.
func (c *Client) Start() (*StartResponse, error) {
	var resp StartResponse
	if err := c.client.Call("Loom.Start", StartRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Stop requests the daemon to stop processing.
func (c *Client) Stop() (*StopResponse, error) {
	var resp StopResponse
	if err := c.client.Call("Loom.Stop", StopRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Status retrieves the daemon status.
func (c *Client) Status() (*StatusResponse, error) {
	var resp StatusResponse
	if err := c.client.Call("Loom.Status", StatusRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Submit plans a new run from an intent.
func (c *Client) Submit(intent, name, owner string) (*SubmitResponse, error) {
	var resp SubmitResponse
	req := SubmitRequest{Intent: intent, Name: name, Owner: owner}
	if err := c.client.Call("Loom.Submit", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Trigger runs one stage synchronously for a record.
func (c *Client) Trigger(stage string, id int64) (*TriggerResponse, error) {
	var resp TriggerResponse
	req := TriggerRequest{Stage: stage, ID: id}
	if err := c.client.Call("Loom.Trigger", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RunList returns runs optionally filtered by phases.
func (c *Client) RunList(phases []string) (*RunListResponse, error) {
	var resp RunListResponse
	req := RunListRequest{Phases: phases}
	if err := c.client.Call("Loom.RunList", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RunDescribe returns details for a single run.
func (c *Client) RunDescribe(id int64) (*RunDescribeResponse, error) {
	var resp RunDescribeResponse
	req := RunDescribeRequest{ID: id}
	if err := c.client.Call("Loom.RunDescribe", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RunClear removes all runs.
func (c *Client) RunClear() (*RunClearResponse, error) {
	var resp RunClearResponse
	if err := c.client.Call("Loom.RunClear", RunClearRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RunClearCompleted removes only completed runs.
func (c *Client) RunClearCompleted() (*RunClearCompletedResponse, error) {
	var resp RunClearCompletedResponse
	if err := c.client.Call("Loom.RunClearCompleted", RunClearCompletedRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RunClearFailed removes failed runs.
func (c *Client) RunClearFailed() (*RunClearFailedResponse, error) {
	var resp RunClearFailedResponse
	if err := c.client.Call("Loom.RunClearFailed", RunClearFailedRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RunReset returns claimed runs to their pending phase.
func (c *Client) RunReset() (*RunResetResponse, error) {
	var resp RunResetResponse
	if err := c.client.Call("Loom.RunReset", RunResetRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RunRetry retries failed runs.
func (c *Client) RunRetry(ids []int64) (*RunRetryResponse, error) {
	var resp RunRetryResponse
	req := RunRetryRequest{IDs: ids}
	if err := c.client.Call("Loom.RunRetry", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RunReconcile repairs failed runs that already have a dataset.
func (c *Client) RunReconcile() (*ReconcileResponse, error) {
	var resp ReconcileResponse
	if err := c.client.Call("Loom.RunReconcile", ReconcileRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// LogTail returns log lines from the daemon.
func (c *Client) LogTail(req LogTailRequest) (*LogTailResponse, error) {
	var resp LogTailResponse
	if err := c.client.Call("Loom.LogTail", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RunHealth returns aggregate record diagnostics.
func (c *Client) RunHealth() (*RunHealthResponse, error) {
	var resp RunHealthResponse
	if err := c.client.Call("Loom.RunHealth", RunHealthRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// DatabaseHealth retrieves detailed database diagnostics.
func (c *Client) DatabaseHealth() (*DatabaseHealthResponse, error) {
	var resp DatabaseHealthResponse
	if err := c.client.Call("Loom.DatabaseHealth", DatabaseHealthRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// TestNotification triggers a notification test via the daemon.
func (c *Client) TestNotification() (*TestNotificationResponse, error) {
	var resp TestNotificationResponse
	if err := c.client.Call("Loom.TestNotification", TestNotificationRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
