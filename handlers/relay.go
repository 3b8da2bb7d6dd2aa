package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/zkrelay/codec"
	"github.com/ethpandaops/zkrelay/handlers/middleware"
	"github.com/ethpandaops/zkrelay/services"
)

// RelayBackend is the gateway core served by RelayHandler.
type RelayBackend interface {
	Info(ctx context.Context) string
	Submit(ctx context.Context, submission *codec.Submission) *services.SubmitResult
}

type RelayHandler struct {
	relay       RelayBackend
	maxBodySize int64
	logger      logrus.FieldLogger
}

func NewRelayHandler(relay RelayBackend, maxBodySize int64, logger logrus.FieldLogger) *RelayHandler {
	if maxBodySize <= 0 {
		maxBodySize = 1 << 20
	}
	return &RelayHandler{
		relay:       relay,
		maxBodySize: maxBodySize,
		logger:      logger,
	}
}

// Index serves the reward and payout balance as plain text.
func (h *RelayHandler) Index(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if _, err := w.Write([]byte(h.relay.Info(r.Context()))); err != nil {
		h.logger.WithError(err).Debug("error writing info response")
	}
}

// Post accepts a proof submission and pays valid proofs.
func (h *RelayHandler) Post(w http.ResponseWriter, r *http.Request) {
	r, requestID := middleware.EnsureRequestID(w, r)

	body := http.MaxBytesReader(w, r.Body, h.maxBodySize)
	submission, err := codec.DecodeSubmission(body)
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			middleware.APIErrorResponse(w, http.StatusRequestEntityTooLarge, "submission too large")
			return
		}
		h.logger.WithError(err).WithField("request", requestID).Debug("rejected malformed submission")
		middleware.APIErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	submission.RequestID = requestID
	result := h.relay.Submit(r.Context(), submission)

	response, err := codec.EncodeResponse(result.Response())
	if err != nil {
		h.logger.WithError(err).Error("error encoding relay response")
		middleware.APIErrorResponse(w, http.StatusInternalServerError, "internal error")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusForOutcome(result.Outcome))
	if _, err := w.Write(response); err != nil {
		h.logger.WithError(err).Debug("error writing relay response")
	}
}

func statusForOutcome(outcome services.Outcome) int {
	switch outcome {
	case services.OutcomePaid:
		return http.StatusCreated
	case services.OutcomeInvalid:
		return http.StatusUnprocessableEntity
	case services.OutcomePayoutFailed:
		return http.StatusInternalServerError
	default:
		return http.StatusServiceUnavailable
	}
}
