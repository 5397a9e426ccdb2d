package gateway

import (
	"testing"
	"time"

	clipmodel "ClipSync/module/clip/model"

	"github.com/goccy/go-json"
)

func TestParseFrameJSON(t *testing.T) {
	f, err := ParseFrameJSON([]byte(`{"type":"ack","ts":123,"data":{"seq":42}}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if f.Type != FrameAck || f.Ts != 123 {
		t.Fatalf("frame = %+v", f)
	}
	p, err := ExtractAckPayload(f)
	if err != nil {
		t.Fatalf("extract ack: %v", err)
	}
	if p.Seq != 42 {
		t.Fatalf("seq = %d, want 42", p.Seq)
	}
}

func TestParseFrameJSONRejectsGarbage(t *testing.T) {
	if _, err := ParseFrameJSON([]byte(`not json`)); err == nil {
		t.Fatal("expected parse error")
	}
	if _, err := ParseFrameJSON([]byte(`{"ts":1}`)); err == nil {
		t.Fatal("expected missing type error")
	}
	f, err := ParseFrameJSON([]byte(`{"type":"ack"}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if _, err := ExtractAckPayload(f); err == nil {
		t.Fatal("expected missing data error")
	}
}

func TestDeliverFrameRoundTrip(t *testing.T) {
	item := &clipmodel.ClipItem{
		ID:          "1",
		UserID:      "u1",
		ContentType: clipmodel.ContentTypeText,
		Content:     "hello",
		Seq:         9,
	}
	data, err := json.Marshal(BuildDeliver(item))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out ServerFrame
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.Type != FrameDeliver || out.Item == nil || out.Item.Seq != 9 || out.Item.Content != "hello" {
		t.Fatalf("round trip lost data: %+v", out)
	}
}

func TestBuildConnAck(t *testing.T) {
	f := BuildConnAck("gw-1", "sess-1", 17, 25*time.Second)
	if f.GatewayID != "gw-1" || f.SessionID != "sess-1" || f.ResumeSeq != 17 || f.HeartbeatMS != 25000 {
		t.Fatalf("conn ack = %+v", f)
	}
}
