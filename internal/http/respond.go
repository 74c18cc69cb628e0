package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/splax/pagesmith/internal/apperr"
	"github.com/splax/pagesmith/internal/keypool"
	"github.com/splax/pagesmith/internal/repository"
	"github.com/splax/pagesmith/internal/service/auth"
	"github.com/splax/pagesmith/pkg/crypto"
)

const maxBodyBytes = 1 << 20

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error          string `json:"error"`
	Kind           string `json:"kind,omitempty"`
	Step           string `json:"step,omitempty"`
	UpstreamStatus int    `json:"upstream_status,omitempty"`
}

// writeJSON writes JSON response with status code.
func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError sends an error message.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

// writeAppError maps err onto a status code and the error body.
func writeAppError(w http.ResponseWriter, err error) {
	status, kind := classify(err)
	body := errorBody{Error: err.Error(), Kind: string(kind), Step: apperr.StepOf(err)}
	if upstream := apperr.StatusOf(err); upstream > 0 {
		body.UpstreamStatus = upstream
	}
	if status == http.StatusInternalServerError {
		body.Error = "internal server error"
	}
	writeJSON(w, status, body)
}

func classify(err error) (int, apperr.Kind) {
	switch kind := apperr.KindOf(err); kind {
	case apperr.KindConfiguration:
		return http.StatusServiceUnavailable, kind
	case apperr.KindRateLimited:
		return http.StatusTooManyRequests, kind
	case apperr.KindUpstream, apperr.KindDeploymentStep:
		return http.StatusBadGateway, kind
	case apperr.KindNotFound:
		return http.StatusNotFound, kind
	case apperr.KindInvalid:
		return http.StatusBadRequest, kind
	}
	switch {
	case errors.Is(err, repository.ErrNotFound), errors.Is(err, keypool.ErrUnknownCredential):
		return http.StatusNotFound, apperr.KindNotFound
	case errors.Is(err, repository.ErrInvalidArgument),
		errors.Is(err, auth.ErrInvalidEmail),
		errors.Is(err, crypto.ErrWeakPassword):
		return http.StatusBadRequest, apperr.KindInvalid
	case errors.Is(err, repository.ErrConflict), errors.Is(err, auth.ErrEmailTaken):
		return http.StatusConflict, apperr.KindUnknown
	case errors.Is(err, auth.ErrInvalidCredentials), errors.Is(err, auth.ErrUnauthorized):
		return http.StatusUnauthorized, apperr.KindUnknown
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, apperr.KindUnknown
	default:
		return http.StatusInternalServerError, apperr.KindUnknown
	}
}

// decodeJSON reads a bounded JSON body into dst. An empty body leaves dst
// untouched when allowEmpty is set.
func decodeJSON(w http.ResponseWriter, req *http.Request, dst any, allowEmpty bool) bool {
	req.Body = http.MaxBytesReader(w, req.Body, maxBodyBytes)
	if err := json.NewDecoder(req.Body).Decode(dst); err != nil {
		if allowEmpty && errors.Is(err, io.EOF) {
			return true
		}
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON body: %v", err))
		return false
	}
	return true
}
