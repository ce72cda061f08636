package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/kiranshivaraju/fingerprintd/internal/api/response"
	"github.com/kiranshivaraju/fingerprintd/internal/fingerprint"
	"github.com/kiranshivaraju/fingerprintd/pkg/models"
)

// DefaultMaxBodyBytes caps the size of a submitted fingerprint.
const DefaultMaxBodyBytes = 1 << 20

// Writer records one fingerprint submission.
type Writer interface {
	Submit(ctx context.Context, client, server map[string]any) (*fingerprint.SubmitResult, error)
}

// Reader lists stored fingerprints, most recently visited first.
type Reader interface {
	List(ctx context.Context) ([]*models.Fingerprint, error)
}

type submitResponse struct {
	Hash string `json:"hash"`
}

// NewSubmitHandler returns an http.HandlerFunc for POST /api/fingerprint.
// A new fingerprint answers 201, an already-known one 200; both carry the
// hash.
func NewSubmitHandler(svc Writer, maxBody int64) http.HandlerFunc {
	if maxBody <= 0 {
		maxBody = DefaultMaxBodyBytes
	}
	return func(w http.ResponseWriter, r *http.Request) {
		payload, err := decodeObject(http.MaxBytesReader(w, r.Body, maxBody))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Request body too large")
				return
			}
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Request body must be a JSON object")
			return
		}

		result, err := svc.Submit(r.Context(), payload, ServerMetadata(r))
		if err != nil {
			if errors.Is(err, fingerprint.ErrInvalidPayload) {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Request body must be a JSON object")
				return
			}
			slog.Error("save fingerprint failed",
				"request_id", chimw.GetReqID(r.Context()),
				"error", err,
			)
			response.Error(w, http.StatusInternalServerError, "STORAGE_ERROR", "Error saving fingerprint")
			return
		}

		if result.Created {
			response.Created(w, submitResponse{Hash: result.Hash})
			return
		}
		response.OK(w, submitResponse{Hash: result.Hash})
	}
}

// NewListHandler returns an http.HandlerFunc for GET /api/fingerprints.
func NewListHandler(svc Reader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		fps, err := svc.List(r.Context())
		if err != nil {
			slog.Error("list fingerprints failed",
				"request_id", chimw.GetReqID(r.Context()),
				"error", err,
			)
			response.Error(w, http.StatusInternalServerError, "STORAGE_ERROR", "Error fetching fingerprints")
			return
		}
		if fps == nil {
			fps = []*models.Fingerprint{}
		}
		response.OK(w, fps)
	}
}

var errNotObject = errors.New("body is not a JSON object")

// decodeObject reads exactly one JSON object. Numbers stay json.Number so
// the hash sees the client's value, not a float64 approximation.
func decodeObject(body io.Reader) (map[string]any, error) {
	dec := json.NewDecoder(body)
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, errNotObject
	}

	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, err
		}
		return nil, errors.New("trailing data after JSON object")
	}
	return obj, nil
}
