package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/gorilla/mux"
	"github.com/snappy-loop/podcaststudio/internal/auth"
	"github.com/snappy-loop/podcaststudio/internal/credentials"
	"github.com/snappy-loop/podcaststudio/internal/vendor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func noEnv(string) (string, bool) { return "", false }

func newTestRelay(t *testing.T, handler http.HandlerFunc, keys map[vendor.Name]string) *Relay {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	resolver := credentials.NewResolver(keys).WithLookupEnv(noEnv)
	return New(resolver, srv.Client(),
		Target{Vendor: vendor.Kling, BaseURL: srv.URL + "/", Authorize: bearer, ErrorStyle: CodeStyle},
		Target{Vendor: vendor.Tavus, BaseURL: srv.URL, Authorize: apiKeyHeader, ErrorStyle: MessageStyle},
	)
}

func TestDo_PassesThroughJSON(t *testing.T) {
	var gotAuth, gotPath, gotMethod, gotBody string
	r := newTestRelay(t, func(w http.ResponseWriter, req *http.Request) {
		gotAuth = req.Header.Get("Authorization")
		gotPath = req.URL.Path
		gotMethod = req.Method
		b, _ := io.ReadAll(req.Body)
		gotBody = string(b)
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"code":0,"data":{"task_id":"t-1"}}`))
	}, map[vendor.Name]string{vendor.Kling: "secret"})

	resp, err := r.Do(context.Background(), vendor.Kling, Envelope{
		Endpoint: "v1/videos/text2video",
		Method:   "post",
		Payload:  json.RawMessage(`{"prompt":"sunset"}`),
	})
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode, "2xx statuses are reported as 200")
	assert.JSONEq(t, `{"code":0,"data":{"task_id":"t-1"}}`, string(resp.Body))
	assert.Equal(t, "Bearer secret", gotAuth)
	assert.Equal(t, "/v1/videos/text2video", gotPath)
	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, `{"prompt":"sunset"}`, gotBody)
}

func TestDo_ForwardsVendorErrorStatus(t *testing.T) {
	r := newTestRelay(t, func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":"rate limited"}`))
	}, map[vendor.Name]string{vendor.Tavus: "k"})

	resp, err := r.Do(context.Background(), vendor.Tavus, Envelope{Endpoint: "/videos/abc", Method: "GET"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.True(t, resp.Failed())
	assert.JSONEq(t, `{"error":"rate limited"}`, string(resp.Body))
}

func TestDo_UsesVendorHeader(t *testing.T) {
	var gotKey, gotAuth string
	r := newTestRelay(t, func(w http.ResponseWriter, req *http.Request) {
		gotKey = req.Header.Get("x-api-key")
		gotAuth = req.Header.Get("Authorization")
		w.Write([]byte(`{}`))
	}, nil)

	_, err := r.Do(context.Background(), vendor.Tavus, Envelope{Endpoint: "/replicas", APIKey: "caller-key"})
	require.NoError(t, err)
	assert.Equal(t, "caller-key", gotKey)
	assert.Empty(t, gotAuth)
}

func TestDo_NonJSONBodyBecomesTransportError(t *testing.T) {
	html := "<html><body>" + strings.Repeat("Bad Gateway ", 100) + "</body></html>"
	r := newTestRelay(t, func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte(html))
	}, map[vendor.Name]string{vendor.Kling: "k"})

	resp, err := r.Do(context.Background(), vendor.Kling, Envelope{Endpoint: "/v1/videos/text2video/t1"})
	require.Error(t, err)
	assert.Nil(t, resp)

	var te *vendor.TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, http.StatusBadGateway, te.StatusCode)
	assert.LessOrEqual(t, len(te.Snippet), maxSnippetBytes+len("... [truncated]"))
	assert.True(t, strings.HasPrefix(te.Snippet, "<html>"))
}

func TestSnippet_KeepsRunesWhole(t *testing.T) {
	// "ü" is two bytes; an odd prefix puts the byte limit inside one
	body := "x" + strings.Repeat("ü", maxSnippetBytes)

	got := Snippet([]byte(body))

	assert.True(t, utf8.ValidString(got), "snippet must be valid UTF-8")
	assert.True(t, strings.HasSuffix(got, "... [truncated]"))
	assert.LessOrEqual(t, len(strings.TrimSuffix(got, "... [truncated]")), maxSnippetBytes)
	assert.Equal(t, "short", Snippet([]byte("  short \n")))
}

func TestDo_EmptySuccessBody(t *testing.T) {
	r := newTestRelay(t, func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}, map[vendor.Name]string{vendor.Tavus: "k"})

	resp, err := r.Do(context.Background(), vendor.Tavus, Envelope{Endpoint: "/videos/v1", Method: "DELETE"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{}`, string(resp.Body))
}

func TestDo_Validation(t *testing.T) {
	calls := 0
	r := newTestRelay(t, func(w http.ResponseWriter, req *http.Request) {
		calls++
		w.Write([]byte(`{}`))
	}, map[vendor.Name]string{vendor.Kling: "k"})

	tests := []struct {
		name string
		env  Envelope
	}{
		{"missing endpoint", Envelope{Method: "GET"}},
		{"absolute url", Envelope{Endpoint: "https://evil.example.com/steal"}},
		{"protocol relative", Envelope{Endpoint: "//evil.example.com"}},
		{"bad method", Envelope{Endpoint: "/v1", Method: "PATCH"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Do(context.Background(), vendor.Kling, tt.env)
			var ve *vendor.ValidationError
			assert.ErrorAs(t, err, &ve)
		})
	}
	assert.Zero(t, calls, "validation must happen before any network call")
}

func TestDo_MissingCredential(t *testing.T) {
	r := newTestRelay(t, func(w http.ResponseWriter, req *http.Request) {
		t.Error("vendor must not be called without a key")
	}, nil)

	_, err := r.Do(context.Background(), vendor.Kling, Envelope{Endpoint: "/v1/videos"})
	var ce *vendor.ConfigurationError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, vendor.Kling, ce.Vendor)
}

func TestDo_UnknownTarget(t *testing.T) {
	r := newTestRelay(t, func(w http.ResponseWriter, req *http.Request) {}, nil)

	_, err := r.Do(context.Background(), vendor.Replicate, Envelope{Endpoint: "/predictions"})
	var ce *vendor.ConfigurationError
	assert.ErrorAs(t, err, &ce)
}

func serveRelay(h *Handler, vendorName string, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/proxy/"+vendorName, bytes.NewBufferString(body))
	req = mux.SetURLVars(req, map[string]string{"vendor": vendorName})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandler_NonJSONReturns502(t *testing.T) {
	r := newTestRelay(t, func(w http.ResponseWriter, req *http.Request) {
		w.Write([]byte("upstream exploded"))
	}, map[vendor.Name]string{vendor.Kling: "k"})
	h := NewHandler(r, "")

	rec := serveRelay(h, "kling", `{"endpoint":"/v1/videos/text2video/t1","method":"GET"}`)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.EqualValues(t, -1, body["code"])
	assert.Contains(t, body["message"], "upstream exploded")
}

func TestHandler_MessageStyleError(t *testing.T) {
	r := newTestRelay(t, func(w http.ResponseWriter, req *http.Request) {
		w.Write([]byte("not json"))
	}, map[vendor.Name]string{vendor.Tavus: "k"})
	h := NewHandler(r, "https://studio.example.com")

	rec := serveRelay(h, "tavus", `{"endpoint":"/videos/v1","method":"GET"}`)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "https://studio.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body["error"], "not json")
	assert.NotContains(t, body, "code")
}

func TestHandler_PassesThroughVendorStatus(t *testing.T) {
	r := newTestRelay(t, func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"code":1001,"message":"invalid token"}`))
	}, map[vendor.Name]string{vendor.Kling: "k"})
	h := NewHandler(r, "")

	rec := serveRelay(h, "kling", `{"endpoint":"/v1/videos/text2video","payload":{"prompt":"x"}}`)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"code":1001,"message":"invalid token"}`, rec.Body.String())
}

func TestHandler_ErrorsBeforeNetwork(t *testing.T) {
	r := newTestRelay(t, func(w http.ResponseWriter, req *http.Request) {
		t.Error("unexpected vendor call")
	}, nil)
	h := NewHandler(r, "")

	assert.Equal(t, http.StatusBadRequest, serveRelay(h, "kling", `{invalid`).Code)
	assert.Equal(t, http.StatusBadRequest, serveRelay(h, "kling", `{"method":"GET"}`).Code)
	assert.Equal(t, http.StatusInternalServerError, serveRelay(h, "kling", `{"endpoint":"/v1/videos"}`).Code)
	assert.Equal(t, http.StatusNotFound, serveRelay(h, "sora", `{"endpoint":"/v1"}`).Code)
	assert.Equal(t, http.StatusNotFound, serveRelay(h, "gemini", `{"endpoint":"/v1"}`).Code)
}

func TestHandler_WithCORSCoversGuardRejections(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("relay-token"), bcrypt.MinCost)
	require.NoError(t, err)
	h := NewHandler(newTestRelay(t, func(w http.ResponseWriter, req *http.Request) {
		t.Error("unexpected vendor call")
	}, nil), "https://studio.example.com")
	guarded := h.WithCORS(auth.NewTokenGuard(string(hash)).Middleware(h))

	req := httptest.NewRequest(http.MethodPost, "/proxy/kling", bytes.NewBufferString(`{"endpoint":"/v1"}`))
	req = mux.SetURLVars(req, map[string]string{"vendor": "kling"})
	rec := httptest.NewRecorder()
	guarded.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "https://studio.example.com", rec.Header().Get("Access-Control-Allow-Origin"))

	preflight := httptest.NewRequest(http.MethodOptions, "/proxy/kling", nil)
	preflight = mux.SetURLVars(preflight, map[string]string{"vendor": "kling"})
	rec = httptest.NewRecorder()
	guarded.ServeHTTP(rec, preflight)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "Content-Type, Authorization", rec.Header().Get("Access-Control-Allow-Headers"))
}

func TestHandler_Preflight(t *testing.T) {
	h := NewHandler(newTestRelay(t, func(w http.ResponseWriter, req *http.Request) {}, nil), "")

	req := httptest.NewRequest(http.MethodOptions, "/proxy/kling", nil)
	req = mux.SetURLVars(req, map[string]string{"vendor": "kling"})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "POST, OPTIONS", rec.Header().Get("Access-Control-Allow-Methods"))
}

func TestResponse_StatusError(t *testing.T) {
	ok := &Response{StatusCode: http.StatusOK, Body: json.RawMessage(`{}`)}
	assert.NoError(t, ok.StatusError(vendor.Kling, "", ""))

	busy := &Response{StatusCode: http.StatusServiceUnavailable, Body: json.RawMessage(`{"message":"busy"}`)}
	assert.True(t, vendor.IsTransient(busy.StatusError(vendor.Kling, "", "busy")))

	limited := &Response{StatusCode: http.StatusTooManyRequests, Body: json.RawMessage(`{}`)}
	assert.True(t, vendor.IsTransient(limited.StatusError(vendor.Tavus, "", "")))

	denied := &Response{StatusCode: http.StatusUnauthorized, Body: json.RawMessage(`{}`)}
	var apiErr *vendor.APIError
	require.ErrorAs(t, denied.StatusError(vendor.Tavus, "", ""), &apiErr)
	assert.Equal(t, "Unauthorized", apiErr.Message)
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
}
