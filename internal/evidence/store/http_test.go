package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	dErrors "parcelproof/pkg/domain-errors"
	"parcelproof/pkg/platform/circuit"
)

type HTTPUploaderSuite struct {
	suite.Suite
	ctx     context.Context
	server  *httptest.Server
	status  atomic.Int32
	hits    atomic.Int32
	lastKey atomic.Value
	body    atomic.Value
	apiKey  atomic.Value
	now     time.Time
}

func TestHTTPUploaderSuite(t *testing.T) {
	suite.Run(t, new(HTTPUploaderSuite))
}

func (s *HTTPUploaderSuite) SetupTest() {
	s.ctx = context.Background()
	s.now = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)
	s.status.Store(http.StatusCreated)
	s.hits.Store(0)
	s.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.hits.Add(1)
		if r.Method != http.MethodPut {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		data, _ := io.ReadAll(r.Body)
		s.lastKey.Store(r.URL.Path)
		s.body.Store(data)
		s.apiKey.Store(r.Header.Get("X-API-Key"))
		w.WriteHeader(int(s.status.Load()))
	}))
}

func (s *HTTPUploaderSuite) TearDownTest() {
	s.server.Close()
}

func (s *HTTPUploaderSuite) uploader(opts ...circuit.Option) *HTTPUploader {
	opts = append([]circuit.Option{
		circuit.WithFailureThreshold(2),
		circuit.WithCooldown(time.Minute),
		circuit.WithClock(func() time.Time { return s.now }),
	}, opts...)
	return NewHTTP(HTTPConfig{
		BaseURL: s.server.URL + "/",
		APIKey:  "evidence-key",
		Breaker: circuit.New("evidence-test", opts...),
	})
}

func (s *HTTPUploaderSuite) TestUploadUsesContentAddressedKey() {
	data := []byte("jpeg bytes")
	sum := sha256.Sum256(data)
	wantKey := "/evidence/" + hex.EncodeToString(sum[:]) + ".jpg"

	url, err := s.uploader().Upload(s.ctx, data, "image/jpeg")
	s.Require().NoError(err)

	s.Equal(s.server.URL+wantKey, url)
	s.Equal(wantKey, s.lastKey.Load())
	s.Equal(data, s.body.Load())
	s.Equal("evidence-key", s.apiKey.Load())
}

func (s *HTTPUploaderSuite) TestStatusMapping() {
	cases := []struct {
		status int
		code   dErrors.Code
	}{
		{http.StatusForbidden, dErrors.CodeUnauthorized},
		{http.StatusRequestEntityTooLarge, dErrors.CodeValidation},
		{http.StatusServiceUnavailable, dErrors.CodeUnavailable},
		{http.StatusInternalServerError, dErrors.CodeUnavailable},
	}
	for _, tc := range cases {
		s.Run(http.StatusText(tc.status), func() {
			s.status.Store(int32(tc.status))
			_, err := s.uploader().Upload(s.ctx, []byte("png"), "image/png")
			s.True(dErrors.HasCode(err, tc.code), "got %v", err)
		})
	}
}

func (s *HTTPUploaderSuite) TestCircuitOpensAndRecovers() {
	u := s.uploader()
	s.status.Store(http.StatusServiceUnavailable)

	for range 2 {
		_, err := u.Upload(s.ctx, []byte("photo"), "image/jpeg")
		s.Require().Error(err)
	}
	s.Equal(int32(2), s.hits.Load())

	_, err := u.Upload(s.ctx, []byte("photo"), "image/jpeg")
	s.ErrorIs(err, ErrCircuitOpen)
	s.True(dErrors.HasCode(err, dErrors.CodeUnavailable))
	s.Equal(int32(2), s.hits.Load(), "open circuit must not reach the store")

	s.status.Store(http.StatusOK)
	s.now = s.now.Add(time.Minute)
	_, err = u.Upload(s.ctx, []byte("photo"), "image/jpeg")
	s.Require().NoError(err)
	s.Equal(circuit.StateClosed, u.breaker.State())
}

func (s *HTTPUploaderSuite) TestRejectedRequestsDoNotTrip() {
	u := s.uploader()
	s.status.Store(http.StatusRequestEntityTooLarge)
	for range 3 {
		_, err := u.Upload(s.ctx, []byte("photo"), "image/jpeg")
		s.Require().Error(err)
	}
	s.Equal(circuit.StateClosed, u.breaker.State())
}

func (s *HTTPUploaderSuite) TestInvalidInputNeverReachesStore() {
	u := s.uploader()

	_, err := u.Upload(s.ctx, nil, "image/jpeg")
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))

	_, err = u.Upload(s.ctx, []byte("%PDF"), "application/pdf")
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))

	s.Equal(int32(0), s.hits.Load())
}

func (s *HTTPUploaderSuite) TestCancelledUploadDoesNotTrip() {
	u := s.uploader(circuit.WithFailureThreshold(1))
	ctx, cancel := context.WithCancel(s.ctx)
	cancel()

	_, err := u.Upload(ctx, []byte("photo"), "image/jpeg")
	s.Require().Error(err)
	s.Equal(circuit.StateClosed, u.breaker.State())
}

func TestInMemoryUploader(t *testing.T) {
	m := NewInMemory()
	ctx := context.Background()

	url, err := m.Upload(ctx, []byte("photo"), "image/jpeg; charset=binary")
	require.NoError(t, err)
	assert.Contains(t, url, MemoryURLPrefix+"evidence/")
	assert.Contains(t, url, ".jpg")

	again, err := m.Upload(ctx, []byte("photo"), "image/jpeg")
	require.NoError(t, err)
	assert.Equal(t, url, again, "identical bytes share a key")
	assert.Equal(t, 1, m.Len())

	got, err := m.Get(url)
	require.NoError(t, err)
	assert.Equal(t, []byte("photo"), got)

	_, err = m.Get(MemoryURLPrefix + "evidence/missing.jpg")
	assert.Error(t, err)
}
