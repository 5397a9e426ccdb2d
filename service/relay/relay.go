package relay

import (
	"context"
	"fmt"
	"time"

	"ClipSync/logger"
	clipmodel "ClipSync/module/clip/model"
	"ClipSync/service/natsx"
	"ClipSync/tools/errs"

	"github.com/goccy/go-json"
)

const (
	bizClipEvents = "clip.events"
	subClipEvents = "clip.events"
)

// envelope is the wire form of a relayed event. NodeID lets every node
// subscribe to the broadcast and skip its own publishes.
type envelope struct {
	NodeID         string              `json:"node_id"`
	OriginDeviceID string              `json:"origin_device_id,omitempty"`
	Item           *clipmodel.ClipItem `json:"item"`
}

// Sink receives relayed events from peer nodes.
type Sink func(item *clipmodel.ClipItem, originDeviceID string)

// Relay carries committed clip events between gateway nodes over NATS, so a
// user's sessions fan out correctly when they are homed on different nodes.
// Delivery is at-least-once; the idempotency middleware plus the userID:seq
// message ID collapse redeliveries.
type Relay struct {
	mgr    *natsx.NatsManager
	nodeID string
}

func New(cfg natsx.NatsxConfig, nodeID string) (*Relay, error) {
	mgr, err := natsx.NewNatsManager(cfg,
		natsx.NatsxIdemMiddleware(natsx.NewMemIdem(10*time.Minute), 10*time.Minute))
	if err != nil {
		return nil, errs.WrapMsg(err, "connect nats")
	}
	r := &Relay{mgr: mgr, nodeID: nodeID}
	if err := mgr.RegisterRoute(natsx.NatsxRoute{
		Biz:     bizClipEvents,
		Subject: subClipEvents,
		Mode:    natsx.Core,
		// broadcast: every node sees every event
	}); err != nil {
		_ = mgr.Close()
		return nil, errs.WrapMsg(err, "register relay route")
	}
	return r, nil
}

// PublishItem broadcasts a committed event to peer nodes.
func (r *Relay) PublishItem(ctx context.Context, item *clipmodel.ClipItem, originDeviceID string) error {
	data, err := json.Marshal(envelope{
		NodeID:         r.nodeID,
		OriginDeviceID: originDeviceID,
		Item:           item,
	})
	if err != nil {
		return errs.WrapMsg(err, "marshal relay envelope")
	}
	msgID := fmt.Sprintf("%s:%d", item.UserID, item.Seq)
	return r.mgr.PublishOnce(ctx, bizClipEvents, data, nil, msgID)
}

// Start subscribes to peer events and feeds them to sink. Events this node
// published are skipped.
func (r *Relay) Start(sink Sink) error {
	return r.mgr.Subscribe(bizClipEvents, func(ctx context.Context, msg natsx.NatsxMessage) error {
		var env envelope
		if err := json.Unmarshal(msg.Data, &env); err != nil {
			logger.Errorf("[Relay] bad envelope err=%v", err)
			return nil // poison message, do not redeliver
		}
		if env.NodeID == r.nodeID || env.Item == nil {
			return nil
		}
		sink(env.Item, env.OriginDeviceID)
		return nil
	})
}

func (r *Relay) Close() error { return r.mgr.Close() }
