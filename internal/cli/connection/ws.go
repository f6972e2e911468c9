package connection

import (
	"net/http"

	"github.com/yndnr/tablesync-go/internal/client/wsconn"
)

// WebSocketURL returns the /ws endpoint on the same host, with ws or wss
// matching the HTTP scheme.
func (c *Client) WebSocketURL() string {
	u := *c.base
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path += "/ws"
	u.RawQuery = ""
	return u.String()
}

// Dialer returns a WebSocket dialer for the server using subprotocol.
func (c *Client) Dialer(subprotocol string) *wsconn.Dialer {
	header := http.Header{}
	header.Set("User-Agent", "tablesync-cli")
	if c.actorID != "" {
		header.Set("X-Actor-ID", c.actorID)
	}
	return wsconn.NewDialer(c.WebSocketURL(), wsconn.Options{
		Subprotocol: subprotocol,
		Header:      header,
		TLSConfig:   c.tls,
	})
}
