package handler

import (
	"time"

	"github.com/yndnr/tablesync-go/internal/core/domain"
	"github.com/yndnr/tablesync-go/internal/core/service"
)

// Response is the standard API response envelope.
// All JSON responses use this format (except /metrics which uses Prometheus format).
type Response struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id"`
	Timestamp int64  `json:"timestamp"`
	Data      any    `json:"data,omitempty"`
	Details   any    `json:"details,omitempty"` // Additional error details
}

// NewResponse creates a success response.
func NewResponse(requestID string, data any) *Response {
	return &Response{
		Code:      "OK",
		Message:   "Success",
		RequestID: requestID,
		Timestamp: time.Now().UnixMilli(),
		Data:      data,
	}
}

// NewErrorResponse creates an error response.
func NewErrorResponse(requestID, code, message string, details any) *Response {
	return &Response{
		Code:      code,
		Message:   message,
		RequestID: requestID,
		Timestamp: time.Now().UnixMilli(),
		Details:   details,
	}
}

// CreateRoomRequest is the request body for POST /rooms.
type CreateRoomRequest struct {
	Name       string           `json:"name"`
	HostID     string           `json:"host_id"`
	HostName   string           `json:"host_name,omitempty"`
	Secret     string           `json:"secret,omitempty"`
	MaxMembers int              `json:"max_members,omitempty"`
	Entities   []*domain.Entity `json:"entities,omitempty"`
}

// CreateRoomResponse is the response body for POST /rooms.
type CreateRoomResponse struct {
	RoomID   string           `json:"room_id"`
	Snapshot *domain.Snapshot `json:"snapshot"`
}

// RoomResponse represents a room in API responses. The access secret is
// never returned; HasSecret only tells whether one is set.
type RoomResponse struct {
	ID          string              `json:"id"`
	Name        string              `json:"name"`
	HostID      string              `json:"host_id"`
	State       domain.RoomState    `json:"state"`
	HasSecret   bool                `json:"has_secret"`
	MaxMembers  int                 `json:"max_members"`
	MemberCount int                 `json:"member_count"`
	EntityCount int                 `json:"entity_count"`
	Version     uint64              `json:"version"`
	CreatedAt   time.Time           `json:"created_at"`
	Members     []domain.MemberInfo `json:"members,omitempty"`
}

// ListRoomsResponse is the response body for GET /rooms.
type ListRoomsResponse struct {
	Items    []*RoomResponse `json:"items"`
	Total    int             `json:"total"`
	Page     int             `json:"page"`
	PageSize int             `json:"page_size"`
}

// CloseRoomResponse is the response body for POST /rooms/{id}/close.
type CloseRoomResponse struct {
	RoomID string `json:"room_id"`
	Closed bool   `json:"closed"`
}

func roomToResponse(s *service.RoomSummary, withMembers bool) *RoomResponse {
	resp := &RoomResponse{
		ID:          s.ID,
		Name:        s.Name,
		HostID:      s.HostID,
		State:       s.State,
		HasSecret:   s.HasSecret,
		MaxMembers:  s.MaxMembers,
		MemberCount: s.MemberCount,
		EntityCount: s.EntityCount,
		Version:     s.Version,
		CreatedAt:   s.CreatedAt,
	}
	if withMembers {
		resp.Members = s.Members
	}
	return resp
}
