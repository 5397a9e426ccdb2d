package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	midsec "ClipSync/middleware/security"
	clipmodel "ClipSync/module/clip/model"
	"ClipSync/module/clip/store"
	"ClipSync/module/device"
	"ClipSync/service/hub"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
)

type fakePresence struct {
	devices []string
	nodes   map[string]string
}

func (f *fakePresence) OnlineDevices(ctx context.Context, userID string) ([]string, error) {
	return f.devices, nil
}

func (f *fakePresence) Lookup(ctx context.Context, userID, deviceID string) (string, bool, error) {
	gw, ok := f.nodes[deviceID]
	return gw, ok, nil
}

func newOnlineServer(t *testing.T) *Server {
	t.Helper()
	db := store.NewMemDB(store.Quota{})
	reg := device.NewRegistry(device.NewMemDB())
	h := hub.NewHub(hub.HubConf{SendQueueSize: 8}, reg, db)
	t.Cleanup(h.Close)
	return NewServer(Conf{}, h, reg, nil)
}

func getOnline(t *testing.T, s *Server) apiResp {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/online", func(c *gin.Context) {
		c.Set(midsec.CtxUserIDKey, "u1")
		c.Set(midsec.CtxDeviceIDKey, "d1")
		s.handleOnline(c)
	})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/online", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp apiResp
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Code != 0 {
		t.Fatalf("code = %d msg = %s", resp.Code, resp.Msg)
	}
	return resp
}

func TestOnlineUsesCrossNodePresence(t *testing.T) {
	s := newOnlineServer(t)
	s.SetPresence(&fakePresence{
		devices: []string{"d1", "d2"},
		nodes:   map[string]string{"d1": "gw-1", "d2": "gw-2"},
	})

	data := getOnline(t, s).Data.(map[string]any)
	devices := data["devices"].([]any)
	if len(devices) != 2 {
		t.Fatalf("devices = %v, want the cross-node view", devices)
	}
	nodes := data["nodes"].(map[string]any)
	if nodes["d2"] != "gw-2" {
		t.Fatalf("nodes = %v, want d2 on gw-2", nodes)
	}
}

func TestOnlineFallsBackToLocalSessions(t *testing.T) {
	s := newOnlineServer(t)
	if _, err := s.hub.Connect(context.Background(), "u1", "d1", &nopTransport{}); err != nil {
		t.Fatalf("connect: %v", err)
	}

	data := getOnline(t, s).Data.(map[string]any)
	devices := data["devices"].([]any)
	if len(devices) != 1 || devices[0] != "d1" {
		t.Fatalf("devices = %v, want the local session only", devices)
	}
	if _, ok := data["nodes"]; ok {
		t.Fatal("local view should not report nodes")
	}
}

type nopTransport struct{}

func (nopTransport) SendItem(*clipmodel.ClipItem) error { return nil }
func (nopTransport) Close() error                       { return nil }
