package dwp_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/xraph/popgate"
	"github.com/xraph/popgate/dwp"
	"github.com/xraph/popgate/gateway"
	"github.com/xraph/popgate/job"
	"github.com/xraph/popgate/stream"
)

// ── Test Helpers ──────────────────────────────────────

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setup(t *testing.T) (*gateway.Gateway, *httptest.Server) {
	t.Helper()
	cfg := popgate.DefaultConfig()
	cfg.Root = t.TempDir()
	gw, err := gateway.New(cfg, gateway.WithLogger(testLogger()))
	if err != nil {
		t.Fatalf("gateway.New: %v", err)
	}

	srv := dwp.NewServer(gw.Broker(), dwp.NewHandler(gw, testLogger()),
		dwp.WithAuth(dwp.NewAPIKeyAuthenticator(
			dwp.APIKeyEntry{
				Token:    "test-token",
				Identity: dwp.Identity{Subject: "test-user", Scopes: []string{dwp.ScopeAll}},
			},
			dwp.APIKeyEntry{
				Token:    "limited-token",
				Identity: dwp.Identity{Subject: "limited-user", Scopes: []string{dwp.ScopeJobRead}},
			},
		)),
		dwp.WithLogger(testLogger()),
	)
	hs := httptest.NewServer(srv)
	t.Cleanup(func() {
		srv.Close()
		hs.Close()
	})
	return gw, hs
}

func dial(t *testing.T, hs *httptest.Server, query string) net.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(hs.URL, "http") + "/" + query
	conn, br, _, err := ws.Dial(context.Background(), url)
	if err != nil {
		t.Fatalf("ws.Dial: %v", err)
	}
	if br != nil {
		ws.PutReader(br)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn net.Conn, codec dwp.Codec, frame *dwp.Frame) {
	t.Helper()
	data, err := codec.Encode(frame)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if err := wsutil.WriteClientMessage(conn, codec.OpCode(), data); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func recv(t *testing.T, conn net.Conn, codec dwp.Codec) *dwp.Frame {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	data, op, err := wsutil.ReadServerData(conn)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if op != codec.OpCode() {
		t.Fatalf("opcode = %v, want %v", op, codec.OpCode())
	}
	frame, err := codec.Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	return frame
}

func request(t *testing.T, conn net.Conn, codec dwp.Codec, method string, data any) *dwp.Frame {
	t.Helper()
	req, err := dwp.NewRequestFrame(method, data)
	if err != nil {
		t.Fatalf("NewRequestFrame: %v", err)
	}
	send(t, conn, codec, req)
	resp := recv(t, conn, codec)
	if resp.CorrelID != req.ID {
		t.Fatalf("CorrelID = %q, want %q", resp.CorrelID, req.ID)
	}
	return resp
}

func authenticate(t *testing.T, conn net.Conn, codec dwp.Codec, token string) *dwp.Frame {
	t.Helper()
	return request(t, conn, codec, dwp.MethodAuth, dwp.AuthRequest{Token: token, Format: codec.Name()})
}

func wantError(t *testing.T, f *dwp.Frame, code int) {
	t.Helper()
	if f.Type != dwp.FrameErr || f.Error == nil || f.Error.Code != code {
		t.Errorf("frame = %+v (error %+v), want error %d", f, f.Error, code)
	}
}

// ── Authentication ────────────────────────────────────

func TestServer_FirstFrameMustBeAuth(t *testing.T) {
	_, hs := setup(t)
	conn := dial(t, hs, "")
	codec := &dwp.JSONCodec{}

	req, _ := dwp.NewRequestFrame(dwp.MethodStats, nil)
	send(t, conn, codec, req)
	wantError(t, recv(t, conn, codec), dwp.ErrCodeBadRequest)
}

func TestServer_RejectsBadToken(t *testing.T) {
	_, hs := setup(t)
	conn := dial(t, hs, "")
	wantError(t, authenticate(t, conn, &dwp.JSONCodec{}, "wrong"), dwp.ErrCodeUnauthorized)
}

func TestServer_AuthResponse(t *testing.T) {
	_, hs := setup(t)
	conn := dial(t, hs, "")
	resp := authenticate(t, conn, &dwp.JSONCodec{}, "test-token")

	var auth dwp.AuthResponse
	if err := json.Unmarshal(resp.Data, &auth); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if auth.Format != dwp.CodecNameJSON || auth.SessionID == "" {
		t.Errorf("auth = %+v", auth)
	}
}

// ── Methods ───────────────────────────────────────────

func TestServer_JobMethods(t *testing.T) {
	gw, hs := setup(t)
	conn := dial(t, hs, "")
	codec := &dwp.JSONCodec{}
	authenticate(t, conn, codec, "test-token")

	pending, _ := gw.Jobs().Create(context.Background())
	active, _ := gw.Jobs().Create(context.Background())
	_ = active.Attach(context.Background(), httptest.NewRecorder())

	resp := request(t, conn, codec, dwp.MethodJobGet, dwp.JobGetRequest{JobID: pending.ID()})
	var info job.Info
	if err := json.Unmarshal(resp.Data, &info); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if info.ID != pending.ID() || info.State != job.StatePending {
		t.Errorf("job.get = %+v", info)
	}

	resp = request(t, conn, codec, dwp.MethodJobList, dwp.JobListRequest{State: "active"})
	var list []job.Info
	if err := json.Unmarshal(resp.Data, &list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(list) != 1 || list[0].ID != active.ID() {
		t.Errorf("job.list(active) = %+v", list)
	}

	wantError(t, request(t, conn, codec, dwp.MethodJobGet, dwp.JobGetRequest{JobID: strings.Repeat("0", len(pending.ID()))}), dwp.ErrCodeNotFound)
	wantError(t, request(t, conn, codec, dwp.MethodJobGet, dwp.JobGetRequest{JobID: "nope"}), dwp.ErrCodeBadRequest)
	wantError(t, request(t, conn, codec, dwp.MethodJobList, dwp.JobListRequest{State: "completed"}), dwp.ErrCodeBadRequest)
	wantError(t, request(t, conn, codec, "job.enqueue", nil), dwp.ErrCodeForbidden)
}

func TestServer_Stats(t *testing.T) {
	gw, hs := setup(t)
	conn := dial(t, hs, "")
	codec := &dwp.JSONCodec{}
	authenticate(t, conn, codec, "test-token")
	_, _ = gw.Jobs().Create(context.Background())

	resp := request(t, conn, codec, dwp.MethodStats, nil)
	var stats gateway.Stats
	if err := json.Unmarshal(resp.Data, &stats); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if stats.Jobs[job.StatePending] != 1 {
		t.Errorf("pending = %d, want 1", stats.Jobs[job.StatePending])
	}
	if stats.Broker.SubscriberCount != 1 {
		t.Errorf("subscribers = %d, want 1", stats.Broker.SubscriberCount)
	}
}

func TestServer_ScopeEnforced(t *testing.T) {
	_, hs := setup(t)
	conn := dial(t, hs, "")
	codec := &dwp.JSONCodec{}
	authenticate(t, conn, codec, "limited-token")

	wantError(t, request(t, conn, codec, dwp.MethodStats, nil), dwp.ErrCodeForbidden)
	if resp := request(t, conn, codec, dwp.MethodJobList, nil); resp.Type != dwp.FrameResponse {
		t.Errorf("job.list type = %q, want response", resp.Type)
	}
}

// ── Subscriptions ─────────────────────────────────────

func TestServer_SubscribeForwardsEvents(t *testing.T) {
	gw, hs := setup(t)
	conn := dial(t, hs, "")
	codec := &dwp.JSONCodec{}
	authenticate(t, conn, codec, "test-token")

	resp := request(t, conn, codec, dwp.MethodSubscribe, dwp.SubscribeRequest{Channel: stream.TopicJobs})
	var sub dwp.SubscribeResponse
	if err := json.Unmarshal(resp.Data, &sub); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(sub.Topics) != 1 || sub.Topics[0] != stream.TopicJobs {
		t.Errorf("topics = %v", sub.Topics)
	}

	j, _ := gw.Jobs().Create(context.Background())

	evt := recv(t, conn, codec)
	if evt.Type != dwp.FrameEvent || evt.Channel != stream.JobTopic(j.ID()) {
		t.Fatalf("frame = %+v, want event on %s", evt, stream.JobTopic(j.ID()))
	}
	var payload stream.Event
	if err := json.Unmarshal(evt.Data, &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.Type != stream.EventJobCreated {
		t.Errorf("event type = %q, want %q", payload.Type, stream.EventJobCreated)
	}

	resp = request(t, conn, codec, dwp.MethodUnsubscribe, dwp.SubscribeRequest{Channel: stream.TopicJobs})
	if err := json.Unmarshal(resp.Data, &sub); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(sub.Topics) != 0 {
		t.Errorf("topics after unsubscribe = %v", sub.Topics)
	}
}

func TestServer_SubscribeRejectsUnknownTopic(t *testing.T) {
	_, hs := setup(t)
	conn := dial(t, hs, "")
	codec := &dwp.JSONCodec{}
	authenticate(t, conn, codec, "test-token")

	wantError(t, request(t, conn, codec, dwp.MethodSubscribe, dwp.SubscribeRequest{Channel: "queues"}), dwp.ErrCodeBadRequest)
}

// ── Msgpack and control frames ────────────────────────

func TestServer_MsgpackSession(t *testing.T) {
	_, hs := setup(t)
	conn := dial(t, hs, "?format=msgpack")
	codec := &dwp.MsgpackCodec{}

	resp := authenticate(t, conn, codec, "test-token")
	var auth dwp.AuthResponse
	if err := json.Unmarshal(resp.Data, &auth); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if auth.Format != dwp.CodecNameMsgpack {
		t.Errorf("Format = %q, want msgpack", auth.Format)
	}

	ping := &dwp.Frame{ID: dwp.GenerateFrameID(), Type: dwp.FramePing, Timestamp: time.Now().UTC()}
	send(t, conn, codec, ping)
	pong := recv(t, conn, codec)
	if pong.Type != dwp.FramePong || pong.CorrelID != ping.ID {
		t.Errorf("pong = %+v", pong)
	}
}

func TestServer_ShutdownClosesSessions(t *testing.T) {
	gw, hs := setup(t)
	conn := dial(t, hs, "")
	codec := &dwp.JSONCodec{}
	authenticate(t, conn, codec, "test-token")
	request(t, conn, codec, dwp.MethodSubscribe, dwp.SubscribeRequest{Channel: stream.TopicFirehose})

	if err := gw.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	evt := recv(t, conn, codec)
	var payload stream.Event
	_ = json.Unmarshal(evt.Data, &payload)
	if payload.Type != stream.EventShutdown {
		t.Errorf("event type = %q, want shutdown", payload.Type)
	}

	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	if _, _, err := wsutil.ReadServerData(conn); err == nil {
		t.Error("read after shutdown succeeded, want closed connection")
	}
}
