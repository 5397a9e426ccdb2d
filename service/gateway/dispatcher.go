package gateway

import (
	"fmt"

	"ClipSync/service/hub"

	"github.com/golang/glog"
)

// ConnContext is what a frame handler gets to work with: the server, the
// session the frame arrived on, and the transport for direct replies.
type ConnContext struct {
	Srv  *Server
	Sess *hub.Session
	Tr   *WSTransport
}

type Handler interface {
	Type() FrameType
	Handle(ctx *ConnContext, f *Frame) error
}

type Dispatcher struct {
	handlers map[FrameType]Handler
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[FrameType]Handler)}
}

func (d *Dispatcher) Register(h Handler) { d.handlers[h.Type()] = h }

func (d *Dispatcher) Dispatch(ctx *ConnContext, f *Frame) error {
	h, ok := d.handlers[f.Type]
	if !ok {
		return fmt.Errorf("no handler for type=%v", f.Type)
	}
	return h.Handle(ctx, f)
}

func (d *Dispatcher) GetHandler(t FrameType) Handler {
	h, ok := d.handlers[t]
	if !ok {
		glog.Infof("no handler for type=%v", t)
		return nil
	}
	return h
}
