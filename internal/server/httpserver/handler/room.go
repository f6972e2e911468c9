package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/yndnr/tablesync-go/internal/core/domain"
	"github.com/yndnr/tablesync-go/internal/core/service"
)

// maxCreateBody bounds a room creation body, initial entities included.
const maxCreateBody = 1 << 20

// handleCreateRoom handles POST /rooms.
func (h *Handler) handleCreateRoom(w http.ResponseWriter, r *http.Request) {
	var req CreateRoomRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxCreateBody)).Decode(&req); err != nil {
		h.writeError(w, r, http.StatusBadRequest, domain.ErrBadRequest.Code, "invalid request body", nil)
		return
	}

	resp, err := h.sessions.Create(r.Context(), &service.CreateRoomRequest{
		Name:            req.Name,
		HostID:          req.HostID,
		HostName:        req.HostName,
		AccessSecret:    req.Secret,
		MaxMembers:      req.MaxMembers,
		InitialEntities: req.Entities,
	})
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	h.writeJSON(w, r, http.StatusCreated, CreateRoomResponse{
		RoomID:   resp.RoomID,
		Snapshot: resp.Snapshot,
	})
}

// handleGetRoom handles GET /rooms/{id}.
func (h *Handler) handleGetRoom(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("id")
	if roomID == "" {
		h.writeError(w, r, http.StatusBadRequest, domain.ErrInvalidArgument.Code, "room_id is required", nil)
		return
	}

	summary, err := h.sessions.Get(r.Context(), roomID)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	h.writeJSON(w, r, http.StatusOK, roomToResponse(summary, true))
}

// handleListRooms handles GET /rooms.
func (h *Handler) handleListRooms(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := &service.RoomFilter{HostID: query.Get("host_id")}

	if page := query.Get("page"); page != "" {
		n, err := strconv.Atoi(page)
		if err != nil || n < 1 {
			h.writeError(w, r, http.StatusBadRequest, domain.ErrInvalidArgument.Code, "page must be a positive integer", nil)
			return
		}
		filter.Page = n
	}
	if size := query.Get("page_size"); size != "" {
		n, err := strconv.Atoi(size)
		if err != nil || n < 1 {
			h.writeError(w, r, http.StatusBadRequest, domain.ErrInvalidArgument.Code, "page_size must be a positive integer", nil)
			return
		}
		filter.PageSize = n
	}

	summaries, total, err := h.sessions.List(r.Context(), filter)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	items := make([]*RoomResponse, len(summaries))
	for i, s := range summaries {
		items[i] = roomToResponse(s, false)
	}
	h.writeJSON(w, r, http.StatusOK, ListRoomsResponse{
		Items:    items,
		Total:    total,
		Page:     filter.Page,
		PageSize: filter.PageSize,
	})
}

// handleCloseRoom handles POST /rooms/{id}/close. Only the room's host,
// named by X-Actor-ID, may close it.
func (h *Handler) handleCloseRoom(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("id")
	actorID := r.Header.Get("X-Actor-ID")
	if actorID == "" {
		h.writeError(w, r, http.StatusBadRequest, domain.ErrInvalidArgument.Code, "X-Actor-ID header is required", nil)
		return
	}

	summary, err := h.sessions.Get(r.Context(), roomID)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	if summary.HostID != actorID {
		h.handleServiceError(w, r, domain.ErrPermissionDenied.WithDetails("only the host may close the room"))
		return
	}

	if err := h.sessions.Close(r.Context(), roomID, domain.CloseReasonClosed); err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	h.writeJSON(w, r, http.StatusOK, CloseRoomResponse{RoomID: roomID, Closed: true})
}
