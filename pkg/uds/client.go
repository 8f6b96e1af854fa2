package uds

import (
	"encoding/json"
	"net"
	"time"

	"github.com/cuemby/engram/pkg/errs"
)

const dialTimeout = 2 * time.Second

// Client is a short-lived sender used by hook processes and the CLI to
// nudge a running Daemon. The wire contract tolerates silence: callers
// MUST NOT wait for a reply.
type Client struct {
	conn net.Conn
}

func Dial(path string) (*Client, error) {
	conn, err := net.DialTimeout("unix", path, dialTimeout)
	if err != nil {
		return nil, errs.New(errs.Downstream, "uds.Dial", err)
	}
	return &Client{conn: conn}, nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) send(env envelope) error {
	line, err := json.Marshal(env)
	if err != nil {
		return errs.New(errs.Invariant, "uds.Client.send", err)
	}
	line = append(line, '\n')
	if _, err := c.conn.Write(line); err != nil {
		return errs.New(errs.Downstream, "uds.Client.send", err)
	}
	return nil
}

func (c *Client) Flush(sessionID string) error {
	return c.send(envelope{Event: "flush", SessionID: sessionID})
}

func (c *Client) Recollect(sessionID, message, messageUUID string) error {
	return c.send(envelope{Event: "recollect", SessionID: sessionID, Message: message, MessageUUID: messageUUID})
}

func (c *Client) Ping() error {
	return c.send(envelope{Event: "ping"})
}
