package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	apperr "sarathi/internal/errors"
	"sarathi/internal/logger"
)

type successEnvelope struct {
	Data any `json:"data"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type errorEnvelope struct {
	Error apiError `json:"error"`
}

func WriteSuccess(w http.ResponseWriter, data any) {
	WriteSuccessStatus(w, http.StatusOK, data)
}

func WriteSuccessStatus(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, successEnvelope{Data: data})
}

// WriteError renders err in the error envelope with the status of its code. Untyped errors
// become INTERNAL_ERROR and never leak their text.
func WriteError(ctx context.Context, logg *logger.Logger, w http.ResponseWriter, err error) {
	if err == nil {
		err = errors.New("unknown error")
	}
	typed := apperr.As(err)
	if typed == nil {
		typed = apperr.Wrap(apperr.CodeInternal, err, "unexpected error")
	}
	meta := apperr.MetadataFor(typed.Code())

	msg := meta.PublicMessage
	if typed.Code() != apperr.CodeInternal {
		if m := typed.Message(); m != "" {
			msg = m
		}
	}
	payload := errorEnvelope{Error: apiError{Code: string(typed.Code()), Message: msg}}
	if meta.DetailsAllowed {
		payload.Error.Details = typed.Details()
	}

	if logg != nil {
		ctx = logg.WithField(ctx, "error_code", string(typed.Code()))
		if meta.HTTPStatus >= http.StatusInternalServerError {
			logg.Error(ctx, "request.error", err)
		} else {
			logg.WarnErr(ctx, "request.rejected", err)
		}
	}
	writeJSON(w, meta.HTTPStatus, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
