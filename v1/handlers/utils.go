package handlers

import (
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/num-err/smartscan/utils"
	"github.com/num-err/smartscan/v1/models"
)

// ThrottledMessage is shown to the person at the scanner when a member was already scanned today
const ThrottledMessage = "You can only scan once per day. Please come back tomorrow."

// writeServiceError maps service errors onto status codes and the standard error body
func writeServiceError(w http.ResponseWriter, err error, now time.Time) {
	var throttled *models.ScanThrottledError
	switch {
	case errors.As(err, &throttled):
		writeThrottled(w, throttled.RetryAfter, now)
	case errors.Is(err, models.ErrScanThrottled):
		writeThrottled(w, 0, now)
	case errors.Is(err, models.ErrValidation):
		utils.RespondWithError(w, http.StatusBadRequest, string(models.ErrorCodeValidation), validationMessage(err))
	case errors.Is(err, models.ErrDuplicateMember):
		utils.RespondWithError(w, http.StatusBadRequest, string(models.ErrorCodeDuplicateIdentifier), "Member with this ID already exists")
	case errors.Is(err, models.ErrMemberNotFound):
		utils.RespondWithError(w, http.StatusNotFound, string(models.ErrorCodeMemberNotFound), "Member not found")
	default:
		slog.Error("Request failed", "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, string(models.ErrorCodeInternalError), "Internal Server Error")
	}
}

// writeThrottled answers a denied scan with a Retry-After header in whole seconds
func writeThrottled(w http.ResponseWriter, retryAfter time.Duration, now time.Time) {
	seconds := int64(math.Ceil(retryAfter.Seconds()))
	if seconds > 0 {
		w.Header().Set("Retry-After", strconv.FormatInt(seconds, 10))
	}

	var resp models.ThrottledResponse
	resp.Error.Code = string(models.ErrorCodeScanThrottled)
	resp.Error.Message = ThrottledMessage
	resp.RetryAfterSeconds = seconds
	resp.NextScanAt = now.UTC().Add(time.Duration(seconds) * time.Second)
	utils.RespondWithJSON(w, http.StatusBadRequest, resp)
}

func validationMessage(err error) string {
	return strings.TrimPrefix(err.Error(), models.ErrValidation.Error()+": ")
}

func methodNotAllowed(w http.ResponseWriter) {
	utils.RespondWithError(w, http.StatusMethodNotAllowed, string(models.ErrorCodeMethodNotAllowed), "Method not allowed")
}

func badRequest(w http.ResponseWriter, message string) {
	utils.RespondWithError(w, http.StatusBadRequest, string(models.ErrorCodeBadRequest), message)
}

func parseMemberID(raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, models.NewValidationError("invalid member ID %q", raw)
	}
	return id, nil
}
