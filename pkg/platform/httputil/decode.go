package httputil

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	dErrors "expensio/pkg/domain-errors"
)

// maxBodyBytes bounds request bodies. Expense payloads are small; anything
// larger is abuse.
const maxBodyBytes = 1 << 20

// DecodeAndPrepare decodes a JSON request body into T, rejecting unknown
// fields. On failure it writes a bad_request response and returns ok=false so
// handlers can bail out with a bare return.
func DecodeAndPrepare[T any](w http.ResponseWriter, r *http.Request, logger *slog.Logger, ctx context.Context, requestID string) (T, bool) {
	var req T

	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()

	if err := dec.Decode(&req); err != nil {
		logger.WarnContext(ctx, "failed to decode request body",
			"request_id", requestID,
			"error", err,
		)
		WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return req, false
	}

	return req, true
}
