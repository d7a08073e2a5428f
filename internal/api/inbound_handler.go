package api

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/ignite/listserv/internal/domain"
	"github.com/ignite/listserv/internal/inbound"
	"github.com/ignite/listserv/internal/pkg/distlock"
	"github.com/ignite/listserv/internal/pkg/httputil"
	"github.com/ignite/listserv/internal/pkg/logger"
	"github.com/ignite/listserv/internal/storage"
)

// Processor handles one inbound event.
type Processor interface {
	Process(ctx context.Context, ev domain.InboundEvent) (inbound.Report, error)
}

// SubscriptionConfirmer follows an SNS SubscribeURL.
type SubscriptionConfirmer interface {
	Get(ctx context.Context, url string) error
}

// InboundHandler receives SES receipt notifications.
type InboundHandler struct {
	processor Processor
	confirmer SubscriptionConfirmer
}

// NewInboundHandler creates the webhook handler. confirmer may be nil, in
// which case SNS subscription requests are refused.
func NewInboundHandler(p Processor, confirmer SubscriptionConfirmer) *InboundHandler {
	return &InboundHandler{processor: p, confirmer: confirmer}
}

type inboundResponse struct {
	Reports   []inbound.Report `json:"reports"`
	Confirmed bool             `json:"confirmed,omitempty"`
}

// HandleSES processes a notification. Per-list outcomes come back in a 200
// report. Every record is attempted; if any hit an infrastructure failure the
// response is a 503 naming the failed message IDs so the transport redelivers.
//
//	POST /inbound/ses
func (h *InboundHandler) HandleSES(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, httputil.MaxBodyBytes))
	if err != nil {
		httputil.BadRequest(w, "could not read body")
		return
	}
	parsed, err := parseBody(body)
	if errors.Is(err, errNotReceipt) {
		httputil.OK(w, inboundResponse{})
		return
	}
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	if parsed.subscribeURL != "" {
		if h.confirmer == nil {
			httputil.Error(w, http.StatusForbidden, "subscription confirmation disabled")
			return
		}
		if err := h.confirmer.Get(r.Context(), parsed.subscribeURL); err != nil {
			httputil.Unavailable(w, "subscription_confirmation_failed", err)
			return
		}
		logger.Info("sns subscription confirmed")
		httputil.OK(w, inboundResponse{Confirmed: true})
		return
	}

	resp := inboundResponse{Reports: make([]inbound.Report, 0, len(parsed.events))}
	var (
		failCode string
		failErr  error
		failed   []string
	)
	for _, ev := range parsed.events {
		rep, err := h.processor.Process(r.Context(), ev)
		if code, fatal := classify(err); fatal {
			logger.Error("inbound record failed", "message_id", ev.MessageID, "code", code, "error", err)
			if failErr == nil {
				failCode, failErr = code, err
			}
			failed = append(failed, ev.MessageID)
			rep = inbound.Report{MessageID: ev.MessageID, Route: "failed"}
		} else if err != nil {
			logger.Warn("inbound message dropped", "message_id", ev.MessageID, "object_key", ev.ObjectKey, "error", err)
			rep.Route = "dropped"
		}
		resp.Reports = append(resp.Reports, rep)
	}
	if failErr != nil {
		// The transport redelivers the whole notification, so records that
		// succeeded here are processed again on retry.
		logger.Error("request failed, retry expected", "code", failCode, "failed", len(failed), "records", len(parsed.events))
		httputil.JSON(w, http.StatusServiceUnavailable, httputil.ErrorResponse{
			Error:   "temporarily unavailable",
			Code:    failCode,
			Details: failedRecords{MessageIDs: failed, Reports: resp.Reports},
		})
		return
	}
	httputil.OK(w, resp)
}

type failedRecords struct {
	MessageIDs []string         `json:"failed_message_ids"`
	Reports    []inbound.Report `json:"reports"`
}

// classify maps a processing error to a retry code. Missing or malformed
// objects are dropped since redelivery cannot fix them.
func classify(err error) (string, bool) {
	switch {
	case err == nil:
		return "", false
	case errors.Is(err, storage.ErrMessageNotFound), errors.Is(err, storage.ErrMalformedMessage):
		return "", false
	case errors.Is(err, distlock.ErrLockTimeout):
		return "lock_timeout", true
	case errors.Is(err, domain.ErrStoreUnavailable):
		return "store_unavailable", true
	default:
		return "processing_failed", true
	}
}
