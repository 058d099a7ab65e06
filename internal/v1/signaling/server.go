// Package signaling implements the Signaling Endpoint: a presence-aware
// WebSocket relay that admits exactly two peers per room, negotiates SDP/ICE
// between them, and enforces liveness with a ping/pong heartbeat.
package signaling

import (
	"crypto/rand"
	"encoding/base64"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/pairhub/signaling-core/internal/v1/grant"
	"github.com/pairhub/signaling-core/internal/v1/logging"
	"github.com/pairhub/signaling-core/internal/v1/presence"
	"github.com/pairhub/signaling-core/internal/v1/types"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Server is the Signaling Endpoint: it upgrades HTTP requests to WebSocket
// connections and drives each one through a Conn state machine.
type Server struct {
	registry       *presence.Registry
	issuer         *grant.Issuer
	hub            *hub
	upgrader       websocket.Upgrader
	allowedOrigins []string
}

// NewServer constructs a Server. allowedOrigins is a comma-separated list of
// scheme://host origins permitted to open a signaling connection from a
// browser; an empty list allows any origin (non-browser clients never send
// one).
func NewServer(registry *presence.Registry, issuer *grant.Issuer, allowedOrigins string) *Server {
	s := &Server{
		registry: registry,
		issuer:   issuer,
		hub:      newHub(),
	}
	if allowedOrigins != "" {
		for _, o := range strings.Split(allowedOrigins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				s.allowedOrigins = append(s.allowedOrigins, o)
			}
		}
	}

	s.upgrader = websocket.Upgrader{
		CheckOrigin: s.checkOrigin,
		WriteBufferPool: &sync.Pool{
			New: func() any { return make([]byte, 4096) },
		},
	}
	return s
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.allowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	originURL, err := url.Parse(origin)
	if err != nil {
		return false
	}
	for _, allowed := range s.allowedOrigins {
		allowedURL, err := url.Parse(allowed)
		if err != nil {
			continue
		}
		if originURL.Scheme == allowedURL.Scheme && originURL.Host == allowedURL.Host {
			return true
		}
	}
	return false
}

// ServeWS upgrades the request to a WebSocket connection and hands it off to
// a fresh Conn. Unlike the REST surface, no grant is required at upgrade
// time: the grant is presented in the first "join" frame, since the
// signaling endpoint itself never inspects tenant identity before a peer is
// admitted to a room.
func (s *Server) ServeWS(c *gin.Context) {
	ws, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logging.Error(c.Request.Context(), "websocket upgrade failed", zap.Error(err))
		return
	}

	id, err := newConnectionID()
	if err != nil {
		logging.Error(c.Request.Context(), "failed to generate connection id", zap.Error(err))
		ws.Close()
		return
	}

	conn := newConn(id, ws, s.registry, s.issuer, s.hub)
	conn.run()
}

func newConnectionID() (types.ConnectionID, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return types.ConnectionID(base64.RawURLEncoding.EncodeToString(buf)), nil
}
