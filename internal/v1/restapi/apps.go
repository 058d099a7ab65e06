// Package restapi implements the Access Plane's REST surface: tenant
// ("app") provisioning, room management, and grant issuance.
package restapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/pairhub/signaling-core/internal/v1/apierr"
	"github.com/pairhub/signaling-core/internal/v1/grant"
	"github.com/pairhub/signaling-core/internal/v1/roomstore"
	"github.com/pairhub/signaling-core/internal/v1/tenant"
	"github.com/pairhub/signaling-core/internal/v1/types"
	"github.com/gin-gonic/gin"
)

// Handler wires the Tenant Store, Room Store, and Grant Issuer to the REST
// surface.
type Handler struct {
	tenants         tenant.Store
	rooms           roomstore.Store
	issuer          *grant.Issuer
	defaultGrantTTL time.Duration
}

// NewHandler constructs a Handler.
func NewHandler(tenants tenant.Store, rooms roomstore.Store, issuer *grant.Issuer, defaultGrantTTL time.Duration) *Handler {
	return &Handler{tenants: tenants, rooms: rooms, issuer: issuer, defaultGrantTTL: defaultGrantTTL}
}

// RegisterRoutes attaches every endpoint this handler serves to r.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup, tenantAuth, roomsLimit, grantsLimit gin.HandlerFunc) {
	r.POST("/apps", h.CreateApp)
	r.GET("/apps", h.ListApps)

	rooms := r.Group("", tenantAuth)
	rooms.POST("/rooms", roomsLimit, h.CreateRoom)
	rooms.GET("/rooms", roomsLimit, h.ListRooms)
	rooms.GET("/rooms/:roomId", roomsLimit, h.GetRoom)
	rooms.POST("/rooms/:roomId/token", grantsLimit, h.IssueToken)
}

func writeAPIErr(c *gin.Context, err error) {
	if ae, ok := err.(*apierr.Error); ok {
		c.JSON(ae.Kind.HTTPStatus(), gin.H{"error": string(ae.Code), "message": ae.Message})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": string(apierr.CodeInternal), "message": "internal error"})
}

type createAppRequest struct {
	Name string `json:"name" binding:"required"`
}

type appResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Secret    string `json:"secret,omitempty"`
	CreatedAt string `json:"createdAt"`
}

// CreateApp handles POST /apps. The secret is returned exactly once, at
// creation time; it is never retrievable again.
func (h *Handler) CreateApp(c *gin.Context) {
	var req createAppRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": string(apierr.CodeInvalidMessage), "message": "name is required"})
		return
	}

	t, err := h.tenants.Create(c.Request.Context(), strings.TrimSpace(req.Name))
	if err != nil {
		writeAPIErr(c, err)
		return
	}

	c.JSON(http.StatusCreated, appResponse{
		ID:        t.ID,
		Name:      t.Name,
		Secret:    t.Secret,
		CreatedAt: t.CreatedAt.Format(time.RFC3339),
	})
}

// ListApps handles GET /apps. Secrets are never included in list output.
func (h *Handler) ListApps(c *gin.Context) {
	tenants, err := h.tenants.List(c.Request.Context())
	if err != nil {
		writeAPIErr(c, err)
		return
	}

	out := make([]appResponse, 0, len(tenants))
	for _, t := range tenants {
		out = append(out, appResponse{ID: t.ID, Name: t.Name, CreatedAt: t.CreatedAt.Format(time.RFC3339)})
	}
	c.JSON(http.StatusOK, out)
}

type createRoomRequest struct {
	Name            string `json:"name"`
	MaxParticipants int    `json:"maxParticipants"`
}

type roomResponse struct {
	ID              string `json:"id"`
	AppID           string `json:"appId"`
	Name            string `json:"name"`
	MaxParticipants int    `json:"maxParticipants"`
	CreatedAt       string `json:"createdAt"`
}

// CreateRoom handles POST /rooms, scoped to the authenticated tenant.
func (h *Handler) CreateRoom(c *gin.Context) {
	tenantID := tenantIDFromContext(c)

	var req createRoomRequest
	_ = c.ShouldBindJSON(&req)

	room, err := h.rooms.Create(c.Request.Context(), tenantID, req.Name, req.MaxParticipants)
	if err != nil {
		writeAPIErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, toRoomResponse(room))
}

// ListRooms handles GET /rooms, scoped to the authenticated tenant.
func (h *Handler) ListRooms(c *gin.Context) {
	tenantID := tenantIDFromContext(c)

	rooms, err := h.rooms.List(c.Request.Context(), tenantID)
	if err != nil {
		writeAPIErr(c, err)
		return
	}
	out := make([]roomResponse, 0, len(rooms))
	for _, r := range rooms {
		out = append(out, toRoomResponse(r))
	}
	c.JSON(http.StatusOK, out)
}

// GetRoom handles GET /rooms/:roomId, scoped to the authenticated tenant.
func (h *Handler) GetRoom(c *gin.Context) {
	tenantID := tenantIDFromContext(c)
	roomID := c.Param("roomId")

	room, err := h.rooms.Get(c.Request.Context(), tenantID, roomID)
	if err != nil {
		writeAPIErr(c, err)
		return
	}
	c.JSON(http.StatusOK, toRoomResponse(room))
}

func toRoomResponse(r roomstore.Room) roomResponse {
	return roomResponse{
		ID:              r.ID,
		AppID:           r.TenantID,
		Name:            r.Name,
		MaxParticipants: r.MaxParticipants,
		CreatedAt:       r.CreatedAt.Format(time.RFC3339),
	}
}

type issueTokenRequest struct {
	UserID    string     `json:"userId" binding:"required"`
	Role      types.Role `json:"role" binding:"required"`
	ExpiresIn string     `json:"expiresIn,omitempty"`
}

type issueTokenResponse struct {
	Token     string `json:"token"`
	ExpiresAt string `json:"expiresAt"`
}

// IssueToken handles POST /rooms/:roomId/token: it mints a signed grant for
// the named room, scoped to the authenticated tenant.
func (h *Handler) IssueToken(c *gin.Context) {
	tenantID := tenantIDFromContext(c)
	roomID := c.Param("roomId")

	var req issueTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": string(apierr.CodeInvalidMessage), "message": "userId and role are required"})
		return
	}

	ttl := h.defaultGrantTTL
	if req.ExpiresIn != "" {
		parsed, err := grant.ParseTTL(req.ExpiresIn)
		if err != nil {
			writeAPIErr(c, err)
			return
		}
		ttl = parsed
	}

	token, expiresAt, err := h.issuer.IssueGrant(c.Request.Context(), tenantID, roomID, req.UserID, req.Role, ttl)
	if err != nil {
		writeAPIErr(c, err)
		return
	}

	c.JSON(http.StatusCreated, issueTokenResponse{Token: token, ExpiresAt: expiresAt.Format(time.RFC3339)})
}
