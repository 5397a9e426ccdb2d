package gateway

import (
	"context"
	"time"

	"ClipSync/logger"
	"ClipSync/tools/errs"
	"ClipSync/tools/specialerror"
)

type pingHandler struct{}

func (pingHandler) Type() FrameType { return FramePing }

func (pingHandler) Handle(ctx *ConnContext, _ *Frame) error {
	ctx.Srv.Hub().Heartbeat(ctx.Sess)
	if err := ctx.Srv.Registry().Touch(context.Background(), ctx.Sess.DeviceID); err != nil {
		logger.Errorf("[WS] touch on ping failed deviceID=%s err=%v", ctx.Sess.DeviceID, err)
	}
	return ctx.Tr.SendFrame(BuildPong())
}

type ackHandler struct{}

func (ackHandler) Type() FrameType { return FrameAck }

func (ackHandler) Handle(ctx *ConnContext, f *Frame) error {
	p, err := ExtractAckPayload(f)
	if err != nil {
		return ctx.Tr.SendFrame(buildErrFrom(err))
	}
	cctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := ctx.Srv.Hub().Ack(cctx, ctx.Sess, p.Seq); err != nil {
		logger.Errorf("[WS] ack failed deviceID=%s seq=%d err=%v", ctx.Sess.DeviceID, p.Seq, err)
		return ctx.Tr.SendFrame(buildErrFrom(err))
	}
	return nil
}

func buildErrFrom(err error) *ServerFrame {
	if codeErr := specialerror.ErrCode(errs.Unwrap(err)); codeErr != nil {
		return BuildErr(codeErr.Code, codeErr.Msg)
	}
	return BuildErr(errs.ServerInternalError, "internal error")
}
