package httputil

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	dErrors "parcelproof/pkg/domain-errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scanRequest struct {
	PackageID string  `json:"package_id"`
	Lat       float64 `json:"lat"`
}

type preparedScan struct {
	PackageID  string `json:"package_id"`
	normalized bool
}

func (r *preparedScan) Normalize() {
	r.normalized = true
	r.PackageID = strings.TrimSpace(r.PackageID)
}

func (r *preparedScan) Validate() error {
	if r.PackageID == "" {
		return errors.New("package_id is required")
	}
	if r.PackageID == "locked" {
		return dErrors.New(dErrors.CodeForbidden, "package is locked")
	}
	return nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var body ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestDecodeJSON(t *testing.T) {
	t.Run("decodes a single object", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"package_id":"PKG-1","lat":52.5}`))
		w := httptest.NewRecorder()

		got, ok := DecodeJSON[scanRequest](w, req, quietLogger())

		require.True(t, ok)
		assert.Equal(t, scanRequest{PackageID: "PKG-1", Lat: 52.5}, *got)
	})

	rejects := []struct {
		name        string
		body        string
		description string
	}{
		{"malformed", `{"package_id":`, "invalid request body"},
		{"unknown field", `{"package_id":"PKG-1","extra":true}`, "invalid request body"},
		{"empty", ``, "request body is required"},
		{"trailing object", `{"package_id":"PKG-1"}{"package_id":"PKG-2"}`, "request body must hold a single JSON object"},
	}
	for _, tc := range rejects {
		t.Run("rejects "+tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tc.body))
			w := httptest.NewRecorder()

			got, ok := DecodeJSON[scanRequest](w, req, quietLogger())

			assert.False(t, ok)
			assert.Nil(t, got)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			body := decodeError(t, w)
			assert.Equal(t, "bad_request", body.Error)
			assert.Equal(t, tc.description, body.Description)
		})
	}

	t.Run("oversized body is 413", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"package_id":"PKG-0123456789"}`))
		w := httptest.NewRecorder()
		req.Body = http.MaxBytesReader(w, req.Body, 8)

		_, ok := DecodeJSON[scanRequest](w, req, quietLogger())

		assert.False(t, ok)
		assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
		assert.Equal(t, "payload_too_large", decodeError(t, w).Error)
	})
}

func TestDecodeAndPrepare(t *testing.T) {
	t.Run("normalizes before validating", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"package_id":"  PKG-1 "}`))
		w := httptest.NewRecorder()

		got, ok := DecodeAndPrepare[preparedScan](w, req, quietLogger())

		require.True(t, ok)
		assert.True(t, got.normalized)
		assert.Equal(t, "PKG-1", got.PackageID)
	})

	t.Run("plain validation error becomes validation_error", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"package_id":"   "}`))
		w := httptest.NewRecorder()

		_, ok := DecodeAndPrepare[preparedScan](w, req, quietLogger())

		assert.False(t, ok)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		body := decodeError(t, w)
		assert.Equal(t, "validation_error", body.Error)
		assert.Equal(t, "package_id is required", body.Description)
	})

	t.Run("domain error keeps its code", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"package_id":"locked"}`))
		w := httptest.NewRecorder()

		_, ok := DecodeAndPrepare[preparedScan](w, req, quietLogger())

		assert.False(t, ok)
		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.Equal(t, "forbidden", decodeError(t, w).Error)
	})

	t.Run("decode failure skips preparation", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`not json`))
		w := httptest.NewRecorder()

		got, ok := DecodeAndPrepare[preparedScan](w, req, quietLogger())

		assert.False(t, ok)
		assert.Nil(t, got)
		assert.Equal(t, "bad_request", decodeError(t, w).Error)
	})
}

func TestPrepareRequest_IgnoresPlainTypes(t *testing.T) {
	assert.NoError(t, PrepareRequest(&scanRequest{}))
}
