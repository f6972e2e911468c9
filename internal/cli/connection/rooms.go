package connection

import (
	"context"
	"net/url"
	"strconv"

	"github.com/yndnr/tablesync-go/internal/server/httpserver/handler"
)

// ListOptions filters and pages GET /rooms.
type ListOptions struct {
	HostID   string
	Page     int
	PageSize int
}

func (o ListOptions) query() string {
	q := url.Values{}
	if o.HostID != "" {
		q.Set("host_id", o.HostID)
	}
	if o.Page > 0 {
		q.Set("page", strconv.Itoa(o.Page))
	}
	if o.PageSize > 0 {
		q.Set("page_size", strconv.Itoa(o.PageSize))
	}
	if len(q) == 0 {
		return ""
	}
	return "?" + q.Encode()
}

// CreateRoom creates a room hosted by req.HostID.
func (c *Client) CreateRoom(ctx context.Context, req *handler.CreateRoomRequest) (*handler.CreateRoomResponse, error) {
	resp, err := c.Post(ctx, "/rooms", req)
	if err != nil {
		return nil, err
	}
	var out handler.CreateRoomResponse
	if err := ParseResponse(resp, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListRooms returns one page of open rooms.
func (c *Client) ListRooms(ctx context.Context, opts ListOptions) (*handler.ListRoomsResponse, error) {
	resp, err := c.Get(ctx, "/rooms"+opts.query())
	if err != nil {
		return nil, err
	}
	var out handler.ListRoomsResponse
	if err := ParseResponse(resp, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetRoom returns one room with its roster.
func (c *Client) GetRoom(ctx context.Context, roomID string) (*handler.RoomResponse, error) {
	resp, err := c.Get(ctx, "/rooms/"+url.PathEscape(roomID))
	if err != nil {
		return nil, err
	}
	var out handler.RoomResponse
	if err := ParseResponse(resp, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CloseRoom closes a room. The client's actor must be its host.
func (c *Client) CloseRoom(ctx context.Context, roomID string) (*handler.CloseRoomResponse, error) {
	resp, err := c.Post(ctx, "/rooms/"+url.PathEscape(roomID)+"/close", nil)
	if err != nil {
		return nil, err
	}
	var out handler.CloseRoomResponse
	if err := ParseResponse(resp, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Health calls GET /health.
func (c *Client) Health(ctx context.Context) (map[string]any, error) {
	return c.probe(ctx, "/health")
}

// Ready calls GET /ready. A draining server answers with an *APIError.
func (c *Client) Ready(ctx context.Context) (map[string]any, error) {
	return c.probe(ctx, "/ready")
}

func (c *Client) probe(ctx context.Context, path string) (map[string]any, error) {
	resp, err := c.Get(ctx, path)
	if err != nil {
		return nil, err
	}
	out := map[string]any{}
	if err := ParseResponse(resp, &out); err != nil {
		return nil, err
	}
	return out, nil
}
