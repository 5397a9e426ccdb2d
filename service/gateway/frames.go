package gateway

import (
	"fmt"
	"time"

	clipmodel "ClipSync/module/clip/model"
	"ClipSync/tools/decode"
	"ClipSync/tools/errs"

	"github.com/goccy/go-json"
)

type FrameType string

const (
	FrameConn    FrameType = "conn"    // server hello after a successful connect
	FrameDeliver FrameType = "deliver" // server -> client clip event
	FrameAck     FrameType = "ack"     // client -> server delivery confirmation
	FramePing    FrameType = "ping"    // client heartbeat
	FramePong    FrameType = "pong"
	FrameErr     FrameType = "err"
)

// Frame is the client->server wire frame. Type selects the handler; Data
// carries the type-specific payload.
type Frame struct {
	Type FrameType      `json:"type"`
	Ts   int64          `json:"ts,omitempty"`
	Data map[string]any `json:"data,omitempty"`
}

// ServerFrame is the server->client wire frame.
type ServerFrame struct {
	Type        FrameType           `json:"type"`
	Ts          int64               `json:"ts"`
	GatewayID   string              `json:"gateway_id,omitempty"`
	SessionID   string              `json:"session_id,omitempty"`
	ResumeSeq   int64               `json:"resume_seq,omitempty"`
	HeartbeatMS int64               `json:"heartbeat_ms,omitempty"`
	Item        *clipmodel.ClipItem `json:"item,omitempty"`
	Code        int                 `json:"code,omitempty"`
	Msg         string              `json:"msg,omitempty"`
}

func ParseFrameJSON(raw []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("unmarshal frame failed: %w", err)
	}
	if f.Type == "" {
		return nil, errs.ErrArgs.WrapMsg("frame missing type")
	}
	return &f, nil
}

type AckPayload struct {
	Seq int64 `json:"seq"`
}

func ExtractAckPayload(f *Frame) (*AckPayload, error) {
	if f == nil || f.Data == nil {
		return nil, errs.ErrArgs.WrapMsg("ack frame missing data")
	}
	return decode.DecodeMap[AckPayload](f.Data)
}

// ---- server frame builders ----

func BuildConnAck(gatewayID, sessionID string, resumeSeq int64, heartbeat time.Duration) *ServerFrame {
	return &ServerFrame{
		Type:        FrameConn,
		Ts:          time.Now().UnixMilli(),
		GatewayID:   gatewayID,
		SessionID:   sessionID,
		ResumeSeq:   resumeSeq,
		HeartbeatMS: heartbeat.Milliseconds(),
	}
}

func BuildDeliver(item *clipmodel.ClipItem) *ServerFrame {
	return &ServerFrame{
		Type: FrameDeliver,
		Ts:   time.Now().UnixMilli(),
		Item: item,
	}
}

func BuildPong() *ServerFrame {
	return &ServerFrame{Type: FramePong, Ts: time.Now().UnixMilli()}
}

func BuildErr(code int, msg string) *ServerFrame {
	return &ServerFrame{Type: FrameErr, Ts: time.Now().UnixMilli(), Code: code, Msg: msg}
}
