package dwp

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/xraph/popgate/gateway"
	"github.com/xraph/popgate/id"
	"github.com/xraph/popgate/job"
	"github.com/xraph/popgate/stream"
)

// Source is what the handler reads from. *gateway.Gateway implements it.
type Source interface {
	Jobs() *job.Registry
	Broker() *stream.Broker
	Stats() gateway.Stats
}

// Handler dispatches DWP request frames to gateway reads and broker
// subscriptions.
type Handler struct {
	src    Source
	logger *slog.Logger
}

// NewHandler creates a new DWP method handler.
func NewHandler(src Source, logger *slog.Logger) *Handler {
	return &Handler{src: src, logger: logger}
}

// Handle processes a single DWP request frame and returns a response.
func (h *Handler) Handle(_ context.Context, frame *Frame, conn *Connection) *Frame {
	switch frame.Method {
	case MethodJobGet:
		return h.handleJobGet(frame)
	case MethodJobList:
		return h.handleJobList(frame)
	case MethodSubscribe:
		return h.handleSubscribe(frame, conn)
	case MethodUnsubscribe:
		return h.handleUnsubscribe(frame, conn)
	case MethodStats:
		return mustResponseFrame(frame.ID, h.src.Stats())
	default:
		return NewErrorFrame(frame.ID, ErrCodeMethodNotFound, "unknown method: "+frame.Method)
	}
}

// mustResponseFrame creates a response frame, returning an error frame on marshal failure.
func mustResponseFrame(frameID string, data any) *Frame {
	resp, err := NewResponseFrame(frameID, data)
	if err != nil {
		return NewErrorFrame(frameID, ErrCodeInternal, "marshal response: "+err.Error())
	}
	return resp
}

func decode(frame *Frame, v any) *Frame {
	if len(frame.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(frame.Data, v); err != nil {
		return NewErrorFrame(frame.ID, ErrCodeBadRequest, "invalid request: "+err.Error())
	}
	return nil
}

func (h *Handler) handleJobGet(frame *Frame) *Frame {
	var req JobGetRequest
	if errFrame := decode(frame, &req); errFrame != nil {
		return errFrame
	}
	if !id.Valid(req.JobID) {
		return NewErrorFrame(frame.ID, ErrCodeBadRequest, "invalid job ID")
	}
	j, ok := h.src.Jobs().Lookup(req.JobID)
	if !ok {
		return NewErrorFrame(frame.ID, ErrCodeNotFound, "job not found")
	}
	return mustResponseFrame(frame.ID, j.Info())
}

func (h *Handler) handleJobList(frame *Frame) *Frame {
	var req JobListRequest
	if errFrame := decode(frame, &req); errFrame != nil {
		return errFrame
	}
	state := job.State(req.State)
	if state != "" && state != job.StatePending && state != job.StateActive {
		return NewErrorFrame(frame.ID, ErrCodeBadRequest, "invalid state: "+req.State)
	}

	infos := h.src.Jobs().Snapshot()
	out := make([]job.Info, 0, len(infos))
	for _, info := range infos {
		if state == "" || info.State == state {
			out = append(out, info)
		}
	}
	return mustResponseFrame(frame.ID, out)
}

// channelOf returns the topic named in the request payload, falling back
// to the frame's Channel field.
func channelOf(frame *Frame) (string, *Frame) {
	var req SubscribeRequest
	if errFrame := decode(frame, &req); errFrame != nil {
		return "", errFrame
	}
	if req.Channel == "" {
		req.Channel = frame.Channel
	}
	if err := stream.ValidateTopic(req.Channel); err != nil {
		return "", NewErrorFrame(frame.ID, ErrCodeBadRequest, err.Error())
	}
	return req.Channel, nil
}

func (h *Handler) handleSubscribe(frame *Frame, conn *Connection) *Frame {
	channel, errFrame := channelOf(frame)
	if errFrame != nil {
		return errFrame
	}
	broker := h.src.Broker()
	if !broker.SubscribeTo(conn.ID, channel) {
		return NewErrorFrame(frame.ID, ErrCodeInternal, "no event stream for connection")
	}
	h.logger.Debug("dwp subscribed",
		slog.String("conn_id", conn.ID),
		slog.String("channel", channel),
	)
	return h.subscription(frame, conn, channel)
}

func (h *Handler) handleUnsubscribe(frame *Frame, conn *Connection) *Frame {
	channel, errFrame := channelOf(frame)
	if errFrame != nil {
		return errFrame
	}
	h.src.Broker().Unsubscribe(conn.ID, channel)
	return h.subscription(frame, conn, channel)
}

func (h *Handler) subscription(frame *Frame, conn *Connection, channel string) *Frame {
	resp := SubscribeResponse{Channel: channel, Topics: []string{}}
	if sub, ok := h.src.Broker().GetSubscriber(conn.ID); ok {
		resp.Topics = sub.Topics()
	}
	return mustResponseFrame(frame.ID, resp)
}
