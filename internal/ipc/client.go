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

// Stop requests daemon shutdown.
func (c *Client) Stop() (*StopResponse, error) {
	var resp StopResponse
	if err := c.client.Call("Wavelink.Stop", StopRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Status retrieves the daemon status.
func (c *Client) Status() (*StatusResponse, error) {
	var resp StatusResponse
	if err := c.client.Call("Wavelink.Status", StatusRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Stats retrieves live and historical synchronization statistics.
func (c *Client) Stats(recentLimit int) (*StatsResponse, error) {
	var resp StatsResponse
	req := StatsRequest{RecentLimit: recentLimit}
	if err := c.client.Call("Wavelink.Stats", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SessionAttach starts a session against the given engine socket.
func (c *Client) SessionAttach(socket string) (*SessionAttachResponse, error) {
	var resp SessionAttachResponse
	req := SessionAttachRequest{Socket: socket}
	if err := c.client.Call("Wavelink.SessionAttach", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SessionDetach stops the active session.
func (c *Client) SessionDetach() (*SessionDetachResponse, error) {
	var resp SessionDetachResponse
	if err := c.client.Call("Wavelink.SessionDetach", SessionDetachRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SessionReset rotates the session id and zeroes live counters.
func (c *Client) SessionReset() (*SessionResetResponse, error) {
	var resp SessionResetResponse
	if err := c.client.Call("Wavelink.SessionReset", SessionResetRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
