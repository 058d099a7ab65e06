package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pairhub/signaling-core/internal/v1/apierr"
	"github.com/pairhub/signaling-core/internal/v1/grant"
	"github.com/pairhub/signaling-core/internal/v1/logging"
	"github.com/pairhub/signaling-core/internal/v1/metrics"
	"github.com/pairhub/signaling-core/internal/v1/presence"
	"github.com/pairhub/signaling-core/internal/v1/types"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	heartbeatInterval = 30 * time.Second
	// pongWait is a read-deadline backstop independent of the heartbeat
	// reaper in writePump; either mechanism alone is sufficient to bound a
	// stalled connection's lifetime.
	pongWait  = 2 * heartbeatInterval
	writeWait = 10 * time.Second

	sendBufferSize = 32
)

// state is the per-connection protocol state machine.
type state int

const (
	stateOpened state = iota
	stateAdmitted
	stateClosing
)

// wsConn is the subset of *websocket.Conn the endpoint depends on, mirroring
// the reference platform's practice of interfacing the transport for
// testability.
type wsConn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

// Conn is a per-connection protocol state machine: it admits a connection,
// validates a grant, drives presence transitions, relays negotiation
// messages, runs the liveness heartbeat, and cleans up on exit.
type Conn struct {
	id       types.ConnectionID
	ws       wsConn
	send     chan []byte
	registry *presence.Registry
	issuer   *grant.Issuer
	hub      *hub

	mu       sync.Mutex
	state    state
	userID   types.UserID
	roomID   types.RoomID
	tenantID types.TenantID

	alive      atomic.Bool
	closedOnce sync.Once
}

func newConn(id types.ConnectionID, ws wsConn, registry *presence.Registry, issuer *grant.Issuer, h *hub) *Conn {
	c := &Conn{
		id:       id,
		ws:       ws,
		send:     make(chan []byte, sendBufferSize),
		registry: registry,
		issuer:   issuer,
		hub:      h,
		state:    stateOpened,
	}
	c.alive.Store(true)
	return c
}

// enqueue serializes an outgoing frame onto this connection's buffered
// channel, draining through the single writePump goroutine below. A full
// buffer means the peer is not keeping up with backpressure; the connection
// is terminated rather than blocking the sender indefinitely.
func (c *Conn) enqueue(data []byte) {
	select {
	case c.send <- data:
	default:
		logging.Warn(context.Background(), "signaling send buffer full, terminating connection",
			zap.String("connection_id", string(c.id)))
		c.terminate()
	}
}

// run drives the connection for its entire lifetime: it blocks until the
// connection is closed by either pump.
func (c *Conn) run() {
	if _, err := c.registry.Register(c.id); err != nil {
		logging.Error(context.Background(), "failed to register connection",
			zap.String("connection_id", string(c.id)), zap.Error(err))
		c.ws.Close()
		return
	}
	c.hub.register(c)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); c.readPump() }()
	go func() { defer wg.Done(); c.writePump() }()
	wg.Wait()

	c.cleanup()
}

func (c *Conn) readPump() {
	defer c.ws.Close()

	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.alive.Store(true)
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		c.handleFrame(data)
	}
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(heartbeatInterval)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			wasAlive := c.alive.Swap(false)
			if !wasAlive {
				metrics.HeartbeatReaped.Inc()
				logging.Warn(context.Background(), "heartbeat reap",
					zap.String("connection_id", string(c.id)))
				return
			}
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// cleanup runs exactly once after both pumps have exited, regardless of
// whether the connection closed cleanly, errored, or was heartbeat-reaped.
func (c *Conn) cleanup() {
	c.closedOnce.Do(func() {
		c.hub.unregister(c.id)

		result, wasAdmitted := c.registry.DropConnection(c.id)
		if !wasAdmitted {
			return
		}
		frame := peerLeftFrame{Type: "peer-left", UserID: string(result.UserID)}
		for _, peerID := range result.RemainingMembers {
			c.hub.sendTo(peerID, frame)
		}
	})
}

// terminate closes the transport. readPump returns at once; writePump returns
// on its next write attempt, which fails on the closed transport (at the
// latest the next heartbeat ping). cleanup runs after both have returned.
func (c *Conn) terminate() {
	c.ws.Close()
}

func (c *Conn) setState(s state) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Conn) getState() state {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Conn) sendError(code apierr.Code, message string) {
	c.enqueue(marshalFrame(errorFrame{Type: "error", Code: string(code), Message: message}))
}

// handleFrame decodes and dispatches a single incoming frame per the
// behavioral contract of each message type and the connection's current
// state.
func (c *Conn) handleFrame(data []byte) {
	if c.getState() == stateClosing {
		return
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		c.failMalformed()
		return
	}

	switch env.Type {
	case "join":
		c.handleJoin(data)
	case "offer":
		c.handleRelay(data, "offer")
	case "answer":
		c.handleRelay(data, "answer")
	case "ice":
		c.handleIce(data)
	case "leave":
		c.handleLeave()
	default:
		c.failMalformed()
	}
}

// failMalformed reports INVALID_MESSAGE. Per the state transition table,
// this is fatal only while Opened (no active call to disrupt); a malformed
// single frame on an already-Admitted connection is reported but does not
// tear down the live call.
func (c *Conn) failMalformed() {
	c.sendError(apierr.CodeInvalidMessage, "malformed or unrecognized frame")
	if c.getState() == stateOpened {
		c.closeFatal()
	}
}

// closeFatal transitions to Closing and terminates the transport.
func (c *Conn) closeFatal() {
	c.setState(stateClosing)
	c.terminate()
}

func (c *Conn) handleJoin(data []byte) {
	if c.getState() != stateOpened {
		c.sendError(apierr.CodeAlreadyInRoom, "connection already joined a room")
		return
	}

	var frame joinFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		c.failMalformed()
		return
	}

	claims, err := c.issuer.VerifyGrant(frame.Token)
	if err != nil {
		if errors.Is(err, grant.ErrGrantExpired) {
			c.sendError(apierr.CodeTokenExpired, "grant has expired")
		} else {
			c.sendError(apierr.CodeInvalidToken, "grant is invalid")
		}
		c.closeFatal()
		return
	}

	if claims.RoomID != frame.RoomID {
		c.sendError(apierr.CodeInvalidToken, "grant roomId does not match join roomId")
		c.closeFatal()
		return
	}

	roomID := types.RoomID(claims.RoomID)
	tenantID := types.TenantID(claims.AppID)
	userID := types.UserID(claims.UserID)

	existingUsers := c.registry.UsersOf(roomID)

	result, err := c.registry.Admit(c.id, roomID, userID, tenantID)
	if err != nil {
		apiErr := apierr.ErrInternal
		if ae, ok := err.(*apierr.Error); ok {
			apiErr = ae
		}
		c.sendError(apiErr.Code, apiErr.Message)
		c.closeFatal()
		return
	}

	c.mu.Lock()
	c.state = stateAdmitted
	c.userID = userID
	c.roomID = roomID
	c.tenantID = tenantID
	c.mu.Unlock()

	peers := make([]string, 0, len(existingUsers))
	for _, u := range existingUsers {
		peers = append(peers, string(u))
	}
	c.enqueue(marshalFrame(joinedFrame{Type: "joined", RoomID: string(roomID), UserID: string(userID), Peers: peers}))

	notice := peerJoinedFrame{Type: "peer-joined", UserID: string(userID), IsInitiator: true}
	for _, peerID := range result.ExistingMembers {
		c.hub.sendTo(peerID, notice)
	}
}

func (c *Conn) handleRelay(data []byte, frameType string) {
	if c.getState() != stateAdmitted {
		c.sendError(apierr.CodeNotInRoom, "negotiation frame before join")
		return
	}

	var frame offerAnswerInFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		c.failMalformed()
		return
	}

	c.mu.Lock()
	fromUser := string(c.userID)
	c.mu.Unlock()

	out := offerAnswerOutFrame{Type: frameType, SDP: frame.SDP, FromUserID: fromUser}
	for _, peerID := range c.registry.PeersOf(c.id) {
		c.hub.sendTo(peerID, out)
	}
}

func (c *Conn) handleIce(data []byte) {
	if c.getState() != stateAdmitted {
		c.sendError(apierr.CodeNotInRoom, "negotiation frame before join")
		return
	}

	var frame iceInFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		c.failMalformed()
		return
	}

	c.mu.Lock()
	fromUser := string(c.userID)
	c.mu.Unlock()

	out := iceOutFrame{Type: "ice", Candidate: frame.Candidate, FromUserID: fromUser}
	for _, peerID := range c.registry.PeersOf(c.id) {
		c.hub.sendTo(peerID, out)
	}
}

func (c *Conn) handleLeave() {
	if c.getState() != stateAdmitted {
		c.setState(stateClosing)
		c.terminate()
		return
	}

	c.mu.Lock()
	userID := c.userID
	c.mu.Unlock()

	result, ok := c.registry.Leave(c.id)
	if ok {
		frame := peerLeftFrame{Type: "peer-left", UserID: string(userID)}
		for _, peerID := range result.RemainingMembers {
			c.hub.sendTo(peerID, frame)
		}
	}

	c.setState(stateClosing)
	c.terminate()
}
