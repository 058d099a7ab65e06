package signaling

import "encoding/json"

// envelope is decoded first to discover a frame's type tag before decoding
// the full, type-specific payload. Incoming and outgoing frames form closed
// sums; unknown tags are rejected at the boundary.
type envelope struct {
	Type string `json:"type"`
}

// SDP mirrors the shape of a WebRTC session description. The core never
// inspects sdp or candidate contents. Relayed payloads are decoded into these
// structs and re-encoded: fields outside them are dropped, and optional
// fields that are null or empty are omitted from the relayed frame.
type SDP struct {
	Type string `json:"type"`
	SDP  string `json:"sdp,omitempty"`
}

// ICECandidate mirrors the shape of a WebRTC ICE candidate.
type ICECandidate struct {
	Candidate        string  `json:"candidate,omitempty"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *int    `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

// --- Client -> Server ---

type joinFrame struct {
	Type   string `json:"type"`
	RoomID string `json:"roomId"`
	Token  string `json:"token"`
}

type offerAnswerInFrame struct {
	Type string `json:"type"`
	SDP  SDP    `json:"sdp"`
}

type iceInFrame struct {
	Type      string       `json:"type"`
	Candidate ICECandidate `json:"candidate"`
}

type leaveFrame struct {
	Type string `json:"type"`
}

// --- Server -> Client ---

type joinedFrame struct {
	Type   string   `json:"type"`
	RoomID string   `json:"roomId"`
	UserID string   `json:"userId"`
	Peers  []string `json:"peers"`
}

type peerJoinedFrame struct {
	Type        string `json:"type"`
	UserID      string `json:"userId"`
	IsInitiator bool   `json:"isInitiator"`
}

type peerLeftFrame struct {
	Type   string `json:"type"`
	UserID string `json:"userId"`
}

type offerAnswerOutFrame struct {
	Type       string `json:"type"`
	SDP        SDP    `json:"sdp"`
	FromUserID string `json:"fromUserId"`
}

type iceOutFrame struct {
	Type       string       `json:"type"`
	Candidate  ICECandidate `json:"candidate"`
	FromUserID string       `json:"fromUserId"`
}

type errorFrame struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func marshalFrame(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		// Every frame type above is statically known to marshal cleanly;
		// a failure here would indicate a programming error, not bad input.
		return []byte(`{"type":"error","code":"INTERNAL_ERROR","message":"failed to encode frame"}`)
	}
	return data
}
