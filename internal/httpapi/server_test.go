package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexiqai/voice-bridge/internal/session"
)

const testKey = "s3cret"

type stubGenerator struct {
	res  session.GenerateResult
	err  error
	last session.GenerateRequest
}

func (s *stubGenerator) Generate(ctx context.Context, req session.GenerateRequest) (session.GenerateResult, error) {
	s.last = req
	return s.res, s.err
}

func newTestServer(t *testing.T, gen Generator) *httptest.Server {
	t.Helper()
	srv := New(Options{APIKey: testKey, Sessions: gen, MetricsEnabled: true})
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts
}

func get(t *testing.T, ts *httptest.Server, key string, params url.Values) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, ts.URL+"/generate?"+params.Encode(), nil)
	require.NoError(t, err)
	if key != "" {
		req.Header.Set(APIKeyHeader, key)
	}
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { res.Body.Close() })
	return res
}

func TestGenerate_StatusMapping(t *testing.T) {
	tests := []struct {
		name    string
		res     session.GenerateResult
		err     error
		status  int
		ended   string
		wantMsg string
	}{
		{"utterance", session.GenerateResult{Text: "hola"}, nil, http.StatusOK, "", "hola"},
		{"timeout", session.GenerateResult{}, session.ErrNoContent, http.StatusNoContent, "", ""},
		{"ended", session.GenerateResult{Ended: true}, session.ErrNoContent, http.StatusNoContent, "true", ""},
		{"pending reply", session.GenerateResult{}, session.ErrReplyPending, http.StatusConflict, "", ""},
		{"invalid", session.GenerateResult{}, session.ErrInvalidRequest, http.StatusBadRequest, "", ""},
		{"shutting down", session.GenerateResult{}, session.ErrShuttingDown, http.StatusServiceUnavailable, "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, &stubGenerator{res: tt.res, err: tt.err})
			res := get(t, ts, testKey, url.Values{"sid": {"CA1"}})

			assert.Equal(t, tt.status, res.StatusCode)
			assert.Equal(t, tt.ended, res.Header.Get(EndedHeader))
			if tt.wantMsg != "" {
				var body map[string]string
				require.NoError(t, json.NewDecoder(res.Body).Decode(&body))
				assert.Equal(t, tt.wantMsg, body["response"])
			}
		})
	}
}

func TestGenerate_APIKey(t *testing.T) {
	gen := &stubGenerator{res: session.GenerateResult{Text: "x"}}
	ts := newTestServer(t, gen)

	assert.Equal(t, http.StatusForbidden, get(t, ts, "", url.Values{"sid": {"CA1"}}).StatusCode)
	assert.Equal(t, http.StatusForbidden, get(t, ts, "wrong", url.Values{"sid": {"CA1"}}).StatusCode)
	assert.Empty(t, gen.last.CallID, "generator must not run without a valid key")
	assert.Equal(t, http.StatusOK, get(t, ts, testKey, url.Values{"sid": {"CA1"}}).StatusCode)
}

func TestGenerate_ParsesParams(t *testing.T) {
	gen := &stubGenerator{res: session.GenerateResult{Text: "x"}}
	ts := newTestServer(t, gen)

	res := get(t, ts, testKey, url.Values{
		"sid":          {"CA42"},
		"first":        {"false"},
		"timeout":      {"30"},
		"input":        {"¿Le viene bien el martes?"},
		"talk_timeout": {"80"},
	})
	require.Equal(t, http.StatusOK, res.StatusCode)

	assert.Equal(t, session.GenerateRequest{
		CallID:      "CA42",
		First:       false,
		Timeout:     30 * time.Second,
		Input:       "¿Le viene bien el martes?",
		TalkTimeout: 80 * time.Second,
	}, gen.last)
}

func TestGenerate_BadParams(t *testing.T) {
	ts := newTestServer(t, &stubGenerator{})

	for _, params := range []url.Values{
		{},
		{"sid": {"CA1"}, "first": {"maybe"}},
		{"sid": {"CA1"}, "timeout": {"-1"}},
		{"sid": {"CA1"}, "timeout": {"soon"}},
		{"sid": {"CA1"}, "talk_timeout": {"NaN"}},
	} {
		assert.Equal(t, http.StatusBadRequest, get(t, ts, testKey, params).StatusCode, params.Encode())
	}
}

func TestGenerate_AgainstRegistry(t *testing.T) {
	reg := session.NewRegistry(session.Options{QueryTimeout: 50 * time.Millisecond}, session.Hooks{})
	ts := newTestServer(t, reg)

	res := get(t, ts, testKey, url.Values{"sid": {"CA7"}, "first": {"true"}, "timeout": {"0.05"}})
	assert.Equal(t, http.StatusNoContent, res.StatusCode)

	call, ok := reg.Get("CA7")
	require.True(t, ok)
	call.End(context.Background(), session.ReasonStop)

	res = get(t, ts, testKey, url.Values{"sid": {"CA7"}})
	assert.Equal(t, http.StatusNoContent, res.StatusCode)
	assert.Equal(t, "true", res.Header.Get(EndedHeader))
}

func TestOperationalEndpoints(t *testing.T) {
	ts := newTestServer(t, &stubGenerator{})

	for _, path := range []string{"/health", "/ready", "/metrics"} {
		res, err := http.Get(ts.URL + path)
		require.NoError(t, err)
		res.Body.Close()
		assert.Equal(t, http.StatusOK, res.StatusCode, path)
	}
}
