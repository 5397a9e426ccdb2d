package gateway

import (
	"context"
	"net"
	"net/http"
	"time"

	"ClipSync/logger"
	midsec "ClipSync/middleware/security"
	"ClipSync/tools/errs"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{ReadBufferSize: 4096, WriteBufferSize: 4096, CheckOrigin: func(r *http.Request) bool { return true }}

// HandleWS upgrades an authenticated request to the live sync socket. The
// auth middleware already verified the token, so the session can be bound to
// (userID, deviceID) before the first frame.
func (s *Server) HandleWS(c *gin.Context) {
	userID, deviceID, ok := midsec.Identity(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, errs.ErrTokenInvalid)
		return
	}

	// Reject before upgrading when the device is unknown or not the user's.
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	d, err := s.reg.Get(ctx, deviceID)
	cancel()
	if err != nil {
		respErr(c, err)
		return
	}
	if d.UserID != userID {
		respErr(c, errs.ErrNoPermission.WrapMsg("device belongs to another user"))
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Infof("[HandleWS] upgrade websocket error: %v", err)
		return
	}

	tr := NewWSTransport(ws, s.conf.WriteTimeout)
	sess, err := s.hub.Connect(context.Background(), userID, deviceID, tr)
	if err != nil {
		logger.Errorf("[HandleWS] connect failed deviceID=%s err=%v", deviceID, err)
		_ = tr.Close()
		return
	}
	if err := s.reg.Touch(context.Background(), deviceID); err != nil {
		logger.Errorf("[HandleWS] touch failed deviceID=%s err=%v", deviceID, err)
	}

	if err := tr.SendFrame(BuildConnAck(s.conf.GatewayID, sess.ID, sess.LastAcked(), s.conf.HeartbeatInterval)); err != nil {
		logger.Infof("[HandleWS] conn ack failed deviceID=%s err=%v", deviceID, err)
		s.hub.Disconnect(sess, "conn ack failed")
		return
	}

	// Read loop: reads only, never writes directly; replies go through the
	// shared transport. Exit tears the session down.
	for {
		mt, data, rerr := ws.ReadMessage()
		if rerr != nil {
			if websocket.IsCloseError(rerr,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
			) {
				logger.Infof("[WS] peer closed sessionID=%s err=%v", sess.ID, rerr)
			} else if ne, ok := rerr.(net.Error); ok && ne.Timeout() {
				logger.Infof("[WS] read timeout sessionID=%s err=%v", sess.ID, rerr)
			} else {
				logger.Infof("[WS] read err sessionID=%s err=%v", sess.ID, rerr)
			}
			break
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}

		f, perr := ParseFrameJSON(data)
		if perr != nil {
			sample := data
			if len(sample) > 256 {
				sample = sample[:256]
			}
			logger.Infof("[WS] ParseFrameJSON err sessionID=%s err=%v sample=%q", sess.ID, perr, sample)
			continue
		}

		h := s.disp.GetHandler(f.Type)
		if h == nil {
			_ = tr.SendFrame(BuildErr(errs.ArgsError, "unknown frame type"))
			continue
		}
		if err := h.Handle(&ConnContext{Srv: s, Sess: sess, Tr: tr}, f); err != nil {
			logger.Infof("[WS] handler err sessionID=%s type=%s err=%v", sess.ID, f.Type, err)
		}

		select {
		case <-sess.Done():
			// superseded or dropped by the hub while we were reading
			return
		default:
		}
	}

	s.hub.Disconnect(sess, "peer closed")
}
