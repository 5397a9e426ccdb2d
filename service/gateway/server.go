package gateway

import (
	"context"
	"time"

	"ClipSync/logger"
	midroute "ClipSync/middleware"
	midsec "ClipSync/middleware/security"
	clipmodel "ClipSync/module/clip/model"
	"ClipSync/module/device"
	"ClipSync/service/hub"
	"ClipSync/service/syncer"
	"ClipSync/tools/errs"
	"ClipSync/tools/security"

	"github.com/gin-gonic/gin"
)

type Conf struct {
	GatewayID         string
	HeartbeatInterval time.Duration
	WriteTimeout      time.Duration
	PullLimit         int // default page size for delta pulls
	JWT               security.Options
	EnableDevToken    bool // /api/token issuance, dev environments only
}

func (c Conf) norm() Conf {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 25 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.PullLimit <= 0 {
		c.PullLimit = 200
	}
	return c
}

// PresenceView is the shared presence mirror, covering sessions homed on
// every gateway node. Nil means this node only reports its own.
type PresenceView interface {
	OnlineDevices(ctx context.Context, userID string) ([]string, error)
	Lookup(ctx context.Context, userID, deviceID string) (gatewayID string, online bool, err error)
}

// Server is the HTTP/WebSocket edge: REST endpoints for device management
// and push/pull, plus the live sync socket.
type Server struct {
	conf     Conf
	hub      *hub.Hub
	reg      *device.Registry
	coord    *syncer.Coordinator
	disp     *Dispatcher
	presence PresenceView // optional
}

func NewServer(conf Conf, h *hub.Hub, reg *device.Registry, coord *syncer.Coordinator) *Server {
	s := &Server{
		conf:  conf.norm(),
		hub:   h,
		reg:   reg,
		coord: coord,
		disp:  NewDispatcher(),
	}
	s.disp.Register(pingHandler{})
	s.disp.Register(ackHandler{})
	return s
}

// SetPresence wires the cross-node presence mirror. Called once at startup.
func (s *Server) SetPresence(p PresenceView) { s.presence = p }

func (s *Server) Hub() *hub.Hub              { return s.hub }
func (s *Server) Registry() *device.Registry { return s.reg }
func (s *Server) Disp() *Dispatcher          { return s.disp }

func (s *Server) MountRoutes(r *gin.Engine) {
	midroute.GET(r, "/ws", s.HandleWS, midroute.RouteOpt{IsAuth: true})

	api := r.Group("/api")
	midroute.POST(api, "/clip/push", s.handlePush, midroute.RouteOpt{IsAuth: true})
	midroute.GET(api, "/clip/delta", s.handleDelta, midroute.RouteOpt{IsAuth: true})
	midroute.POST(api, "/clip/delete", s.handleDelete, midroute.RouteOpt{IsAuth: true})
	midroute.POST(api, "/device/register", s.handleRegister, midroute.RouteOpt{IsAuth: true})
	midroute.GET(api, "/device/list", s.handleList, midroute.RouteOpt{IsAuth: true})
	midroute.POST(api, "/device/unregister", s.handleUnregister, midroute.RouteOpt{IsAuth: true})
	midroute.GET(api, "/presence/online", s.handleOnline, midroute.RouteOpt{IsAuth: true})

	if s.conf.EnableDevToken {
		logger.Warn("[Gateway] dev token endpoint enabled, do not run this in production")
		api.POST("/token", s.handleToken)
	}
}

type pushReq struct {
	ContentType string `json:"content_type"`
	// Content is the text itself for "text"; for "image"/"file" it is the
	// reference issued by the upload layer.
	Content string `json:"content"`
}

func (s *Server) handlePush(c *gin.Context) {
	userID, deviceID, ok := midsec.Identity(c)
	if !ok {
		respErr(c, errs.ErrTokenInvalid.WrapMsg("missing identity"))
		return
	}
	var req pushReq
	if err := c.ShouldBindJSON(&req); err != nil {
		respErr(c, errs.ErrArgs.WrapMsg("bad push body", "err", err.Error()))
		return
	}
	res, err := s.coord.Push(c.Request.Context(), userID, deviceID, clipmodel.ContentType(req.ContentType), req.Content)
	if err != nil {
		respErr(c, err)
		return
	}
	respOK(c, gin.H{"item": res.Item, "evicted": res.Evicted})
}

func (s *Server) handleDelta(c *gin.Context) {
	userID, deviceID, ok := midsec.Identity(c)
	if !ok {
		respErr(c, errs.ErrTokenInvalid.WrapMsg("missing identity"))
		return
	}
	var q struct {
		Since int64 `form:"since"`
		Limit int   `form:"limit"`
	}
	if err := c.ShouldBindQuery(&q); err != nil {
		respErr(c, errs.ErrArgs.WrapMsg("bad delta query", "err", err.Error()))
		return
	}
	if q.Limit <= 0 || q.Limit > s.conf.PullLimit {
		q.Limit = s.conf.PullLimit
	}
	items, next, err := s.coord.Pull(c.Request.Context(), userID, deviceID, q.Since, q.Limit)
	if err != nil {
		respErr(c, err)
		return
	}
	respOK(c, gin.H{"items": items, "next_seq": next, "more": len(items) == q.Limit})
}

func (s *Server) handleDelete(c *gin.Context) {
	userID, deviceID, ok := midsec.Identity(c)
	if !ok {
		respErr(c, errs.ErrTokenInvalid.WrapMsg("missing identity"))
		return
	}
	var req struct {
		ItemID string `json:"item_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.ItemID == "" {
		respErr(c, errs.ErrArgs.WrapMsg("item_id required"))
		return
	}
	ts, err := s.coord.Delete(c.Request.Context(), userID, deviceID, req.ItemID)
	if err != nil {
		respErr(c, err)
		return
	}
	respOK(c, gin.H{"tombstone": ts})
}

func (s *Server) handleRegister(c *gin.Context) {
	// Registration only needs the user identity; the token's device claim
	// may still be the provisional fingerprint at this point.
	userID := c.GetString(midsec.CtxUserIDKey)
	if userID == "" {
		respErr(c, errs.ErrTokenInvalid.WrapMsg("missing identity"))
		return
	}
	var req device.RegisterInfo
	if err := c.ShouldBindJSON(&req); err != nil {
		respErr(c, errs.ErrArgs.WrapMsg("bad register body", "err", err.Error()))
		return
	}
	d, err := s.reg.Register(c.Request.Context(), userID, req)
	if err != nil {
		respErr(c, err)
		return
	}
	respOK(c, gin.H{"device": d})
}

func (s *Server) handleList(c *gin.Context) {
	userID := c.GetString(midsec.CtxUserIDKey)
	if userID == "" {
		respErr(c, errs.ErrTokenInvalid.WrapMsg("missing identity"))
		return
	}
	devices, err := s.reg.List(c.Request.Context(), userID)
	if err != nil {
		respErr(c, err)
		return
	}
	respOK(c, gin.H{"devices": devices})
}

func (s *Server) handleUnregister(c *gin.Context) {
	userID, _, ok := midsec.Identity(c)
	if !ok {
		respErr(c, errs.ErrTokenInvalid.WrapMsg("missing identity"))
		return
	}
	var req struct {
		DeviceID string `json:"device_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.DeviceID == "" {
		respErr(c, errs.ErrArgs.WrapMsg("device_id required"))
		return
	}
	target, err := s.reg.Get(c.Request.Context(), req.DeviceID)
	if err != nil {
		respErr(c, err)
		return
	}
	if target.UserID != userID {
		respErr(c, errs.ErrNoPermission.WrapMsg("device belongs to another user"))
		return
	}
	if err := s.reg.Unregister(c.Request.Context(), req.DeviceID); err != nil {
		respErr(c, err)
		return
	}
	respOK(c, gin.H{"device_id": req.DeviceID})
}

func (s *Server) handleOnline(c *gin.Context) {
	userID := c.GetString(midsec.CtxUserIDKey)
	if userID == "" {
		respErr(c, errs.ErrTokenInvalid.WrapMsg("missing identity"))
		return
	}
	if s.presence == nil {
		respOK(c, gin.H{"devices": s.hub.Online(userID)})
		return
	}
	devices, err := s.presence.OnlineDevices(c.Request.Context(), userID)
	if err != nil {
		// degrade to the local view rather than failing the call
		logger.Errorf("[Gateway] presence scan failed userID=%s err=%v", userID, err)
		respOK(c, gin.H{"devices": s.hub.Online(userID)})
		return
	}
	nodes := make(map[string]string, len(devices))
	for _, devID := range devices {
		gw, online, lerr := s.presence.Lookup(c.Request.Context(), userID, devID)
		if lerr != nil || !online {
			continue
		}
		nodes[devID] = gw
	}
	respOK(c, gin.H{"devices": devices, "nodes": nodes})
}

func (s *Server) handleToken(c *gin.Context) {
	var req struct {
		UserID   string `json:"user_id"`
		DeviceID string `json:"device_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.UserID == "" || req.DeviceID == "" {
		respErr(c, errs.ErrArgs.WrapMsg("user_id/device_id required"))
		return
	}
	token, _, expireAt, err := security.Generate(s.conf.JWT, req.UserID, req.DeviceID)
	if err != nil {
		respErr(c, err)
		return
	}
	respOK(c, gin.H{"token": token, "expire_at": expireAt.UnixMilli()})
}
