// Package store implements evidence uploaders: an HTTP object store client and
// an in-memory store for development and tests.
package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"parcelproof/internal/evidence"
	dErrors "parcelproof/pkg/domain-errors"
	"parcelproof/pkg/platform/circuit"
)

var (
	uploads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parcelproof_evidence_uploads_total",
		Help: "Total number of evidence uploads, labeled by result",
	}, []string{"result"})
	uploadDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "parcelproof_evidence_upload_duration_seconds",
		Help:    "Duration of evidence uploads to the object store",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	})
	circuitOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "parcelproof_evidence_circuit_open",
		Help: "1 when the evidence store circuit breaker is open",
	})
)

// ErrCircuitOpen is returned while the object store is considered down.
var ErrCircuitOpen = errors.New("evidence store circuit open")

// HTTPDoer is the minimal interface needed from an HTTP client.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTPConfig configures an HTTPUploader.
type HTTPConfig struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	HTTPClient HTTPDoer
	Breaker    *circuit.Breaker
	Logger     *slog.Logger
}

// HTTPUploader PUTs photos to an S3-style object store under their
// content-addressed key.
type HTTPUploader struct {
	baseURL string
	apiKey  string
	client  HTTPDoer
	breaker *circuit.Breaker
	logger  *slog.Logger
}

func NewHTTP(cfg HTTPConfig) *HTTPUploader {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	u := &HTTPUploader{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		client:  cfg.HTTPClient,
		breaker: cfg.Breaker,
		logger:  cfg.Logger,
	}
	if u.client == nil {
		u.client = &http.Client{Timeout: cfg.Timeout}
	}
	if u.breaker == nil {
		u.breaker = circuit.New("evidence-store")
	}
	if u.logger == nil {
		u.logger = slog.Default()
	}
	return u
}

// Upload stores data and returns its URL.
func (u *HTTPUploader) Upload(ctx context.Context, data []byte, contentType string) (string, error) {
	key, err := evidence.ObjectKey(data, contentType)
	if err != nil {
		uploads.WithLabelValues("invalid").Inc()
		return "", err
	}
	if !u.breaker.Allow() {
		uploads.WithLabelValues("circuit_open").Inc()
		return "", dErrors.Wrap(ErrCircuitOpen, dErrors.CodeUnavailable, "evidence store unavailable")
	}

	start := time.Now()
	url, err := u.put(ctx, key, data, contentType)
	uploadDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		if trips(ctx, err) {
			u.recordFailure(ctx)
		}
		uploads.WithLabelValues("error").Inc()
		return "", err
	}
	if u.breaker.RecordSuccess().Closed {
		circuitOpen.Set(0)
		u.logger.InfoContext(ctx, "evidence store circuit closed", "breaker", u.breaker.Name())
	}
	uploads.WithLabelValues("ok").Inc()
	return url, nil
}

func (u *HTTPUploader) put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	url := fmt.Sprintf("%s/%s", u.baseURL, key)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(data))
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to create evidence request")
	}
	req.ContentLength = int64(len(data))
	req.Header.Set("Content-Type", contentType)
	if u.apiKey != "" {
		req.Header.Set("X-API-Key", u.apiKey)
	}

	resp, err := u.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", dErrors.Wrap(err, dErrors.CodeTimeout, "evidence upload timed out")
		}
		return "", dErrors.Wrap(err, dErrors.CodeUnavailable, "evidence upload failed")
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return url, nil
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return "", dErrors.New(dErrors.CodeUnauthorized, fmt.Sprintf("evidence store rejected credentials: %d", resp.StatusCode))
	case resp.StatusCode == http.StatusRequestEntityTooLarge:
		return "", dErrors.New(dErrors.CodeValidation, "evidence store rejected the photo size")
	default:
		return "", dErrors.New(dErrors.CodeUnavailable, fmt.Sprintf("evidence store unavailable: %d", resp.StatusCode))
	}
}

// trips reports whether err counts against the store's health. Caller
// cancellation and rejected requests do not.
func trips(ctx context.Context, err error) bool {
	if errors.Is(ctx.Err(), context.Canceled) {
		return false
	}
	return dErrors.HasCode(err, dErrors.CodeUnavailable) || dErrors.HasCode(err, dErrors.CodeTimeout)
}

func (u *HTTPUploader) recordFailure(ctx context.Context) {
	if u.breaker.RecordFailure().Opened {
		circuitOpen.Set(1)
		u.logger.WarnContext(ctx, "evidence store circuit opened", "breaker", u.breaker.Name())
	}
}

// Health issues a HEAD against the store root.
func (u *HTTPUploader) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, u.baseURL+"/", nil)
	if err != nil {
		return err
	}
	if u.apiKey != "" {
		req.Header.Set("X-API-Key", u.apiKey)
	}
	resp, err := u.client.Do(req)
	if err != nil {
		return fmt.Errorf("evidence store health check failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("evidence store unhealthy: %d", resp.StatusCode)
	}
	return nil
}
