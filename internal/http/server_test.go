package httpx

import (
	"bytes"
	"compress/gzip"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/shortontech/trafficgate/internal/policy"
)

// TestIsHTMLContent tests HTML content type detection
func TestIsHTMLContent(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		want        bool
	}{
		{"text/html", "text/html", true},
		{"text/html with charset", "text/html; charset=utf-8", true},
		{"application/xhtml+xml", "application/xhtml+xml", true},
		{"mixed case", "Text/Html; charset=UTF-8", true},
		{"with whitespace", "  text/html  ", true},
		{"empty string", "", false},
		{"application/json", "application/json", false},
		{"text/plain", "text/plain", false},
		{"image/png", "image/png", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isHTMLContent(tt.contentType); got != tt.want {
				t.Errorf("isHTMLContent(%q) = %v, want %v", tt.contentType, got, tt.want)
			}
		})
	}
}

// TestInjectScript tests script tag placement
func TestInjectScript(t *testing.T) {
	tests := []struct {
		name string
		html string
		want string
	}{
		{
			name: "before closing body tag",
			html: "<html><body>Hi</body></html>",
			want: "<html><body>Hi" + gateScriptTag + "\n</body></html>",
		},
		{
			name: "case insensitive body tag",
			html: "<html><BODY>Hi</BODY></html>",
			want: "<html><BODY>Hi" + gateScriptTag + "\n</BODY></html>",
		},
		{
			name: "only the last body tag",
			html: "<body><pre>&lt;/body&gt;</body></body>",
			want: "<body><pre>&lt;/body&gt;</body>" + gateScriptTag + "\n</body>",
		},
		{
			name: "before closing html tag when no body",
			html: "<html><div>Content</div></html>",
			want: "<html><div>Content</div>" + gateScriptTag + "\n</html>",
		},
		{
			name: "appended when no closing tags",
			html: "<div>Content",
			want: "<div>Content\n" + gateScriptTag,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := string(injectScript([]byte(tt.html)))
			if got != tt.want {
				t.Errorf("injectScript() = %q, want %q", got, tt.want)
			}
			if strings.Count(got, gateScriptTag) != 1 {
				t.Errorf("script tag should appear exactly once in %q", got)
			}
		})
	}
}

func gzipBytes(t *testing.T, b []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(b); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func gunzipBytes(t *testing.T, b []byte) []byte {
	t.Helper()
	zr, err := gzip.NewReader(bytes.NewReader(b))
	if err != nil {
		t.Fatalf("gzip.NewReader() error = %v", err)
	}
	defer zr.Close()
	out, err := io.ReadAll(zr)
	if err != nil {
		t.Fatal(err)
	}
	return out
}

func TestRewriteHTML(t *testing.T) {
	page := []byte("<html><body>Hi</body></html>")

	t.Run("plain", func(t *testing.T) {
		out, err := rewriteHTML(page, "")
		if err != nil {
			t.Fatalf("rewriteHTML() error = %v", err)
		}
		if !bytes.Contains(out, []byte(gateScriptTag)) {
			t.Errorf("script not injected: %s", out)
		}
	})

	t.Run("gzip", func(t *testing.T) {
		out, err := rewriteHTML(gzipBytes(t, page), "gzip")
		if err != nil {
			t.Fatalf("rewriteHTML() error = %v", err)
		}
		if !bytes.Contains(gunzipBytes(t, out), []byte(gateScriptTag)) {
			t.Error("script not injected into decompressed body")
		}
	})

	t.Run("corrupt gzip", func(t *testing.T) {
		if _, err := rewriteHTML(page, "gzip"); err == nil {
			t.Error("expected error for a body that is not gzip")
		}
	})
}

func TestNewProxyHandler(t *testing.T) {
	handler := NewProxyHandler("http://example.com", true)

	if handler.destination != "http://example.com" {
		t.Errorf("destination = %q, want http://example.com", handler.destination)
	}
	if !handler.injectScript {
		t.Error("injectScript should be true")
	}
	if handler.client == nil || handler.client.Timeout != 30*time.Second {
		t.Errorf("client = %+v, want 30s timeout", handler.client)
	}
}

func TestProxyHandlerServeHTTP(t *testing.T) {
	t.Run("proxies request to destination", func(t *testing.T) {
		backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/test" || r.URL.RawQuery != "a=1" {
				t.Errorf("backend got %s?%s", r.URL.Path, r.URL.RawQuery)
			}
			if r.Header.Get("User-Agent") != mobileUA {
				t.Errorf("User-Agent not forwarded: %q", r.Header.Get("User-Agent"))
			}
			w.Header().Set("X-Test-Header", "test-value")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("backend response"))
		}))
		defer backend.Close()

		req := httptest.NewRequest(http.MethodGet, "/test?a=1", nil)
		req.Header.Set("User-Agent", mobileUA)
		w := httptest.NewRecorder()
		NewProxyHandler(backend.URL, false).ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Errorf("status code = %d, want %d", w.Code, http.StatusOK)
		}
		if w.Header().Get("X-Test-Header") != "test-value" {
			t.Error("should copy response headers from backend")
		}
		if w.Body.String() != "backend response" {
			t.Errorf("body = %q, want 'backend response'", w.Body.String())
		}
	})

	t.Run("injects script into HTML", func(t *testing.T) {
		backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			_, _ = w.Write([]byte("<html><body>Page</body></html>"))
		}))
		defer backend.Close()

		w := httptest.NewRecorder()
		NewProxyHandler(backend.URL, true).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

		body := w.Body.String()
		if !strings.Contains(body, gateScriptTag) {
			t.Errorf("script not injected: %s", body)
		}
		if cl := w.Header().Get("Content-Length"); cl != strconv.Itoa(len(body)) {
			t.Errorf("Content-Length = %q, want %d", cl, len(body))
		}
	})

	t.Run("injects script into gzipped HTML", func(t *testing.T) {
		page := []byte("<html><body>Page</body></html>")
		backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/html")
			w.Header().Set("Content-Encoding", "gzip")
			_, _ = w.Write(gzipBytes(t, page))
		}))
		defer backend.Close()

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Accept-Encoding", "gzip")
		w := httptest.NewRecorder()
		NewProxyHandler(backend.URL, true).ServeHTTP(w, req)

		if w.Header().Get("Content-Encoding") != "gzip" {
			t.Fatal("Content-Encoding should be preserved")
		}
		if !bytes.Contains(gunzipBytes(t, w.Body.Bytes()), []byte(gateScriptTag)) {
			t.Error("script not injected into gzipped page")
		}
	})

	t.Run("leaves non-HTML untouched", func(t *testing.T) {
		backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"body":"</body>"}`))
		}))
		defer backend.Close()

		w := httptest.NewRecorder()
		NewProxyHandler(backend.URL, true).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api", nil))

		if w.Body.String() != `{"body":"</body>"}` {
			t.Errorf("body = %q, should be untouched", w.Body.String())
		}
	})

	t.Run("passes origin redirects through", func(t *testing.T) {
		backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Redirect(w, r, "/elsewhere", http.StatusMovedPermanently)
		}))
		defer backend.Close()

		w := httptest.NewRecorder()
		NewProxyHandler(backend.URL, false).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/old", nil))

		if w.Code != http.StatusMovedPermanently {
			t.Errorf("status = %d, want %d", w.Code, http.StatusMovedPermanently)
		}
		if loc := w.Header().Get("Location"); loc != "/elsewhere" {
			t.Errorf("Location = %q, want /elsewhere", loc)
		}
	})

	t.Run("bad gateway when origin is down", func(t *testing.T) {
		backend := httptest.NewServer(http.NotFoundHandler())
		url := backend.URL
		backend.Close()

		w := httptest.NewRecorder()
		NewProxyHandler(url, false).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

		if w.Code != http.StatusBadGateway {
			t.Errorf("status = %d, want %d", w.Code, http.StatusBadGateway)
		}
	})
}

func TestEdgeFilter(t *testing.T) {
	tests := []struct {
		name   string
		ua     string
		mutate func(*policy.File)
		status int
		reason string
	}{
		{name: "genuine phone passes", ua: mobileUA, status: http.StatusOK},
		{name: "known app passes", ua: facebookUA, status: http.StatusOK},
		{name: "desktop blocked", ua: desktopUA, status: http.StatusNotModified, reason: policy.ReasonDesktop},
		{name: "emulator blocked", ua: emulatorUA, status: http.StatusNotModified, reason: policy.ReasonEmulator},
		{name: "missing UA blocked", ua: "", status: http.StatusNotModified, reason: policy.ReasonIndeterminate},
		{
			name:   "lenient strategy lets indeterminate through",
			ua:     "curl/8.0",
			mutate: func(f *policy.File) { f.Strategy = policy.StrategyLenient },
			status: http.StatusOK,
		},
		{
			name:   "configured 204 block",
			ua:     desktopUA,
			mutate: func(f *policy.File) { f.Block.Status = http.StatusNoContent },
			status: http.StatusNoContent,
			reason: policy.ReasonDesktop,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, rec, _ := testEnv(t, tt.mutate)
			called := false
			next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				called = true
				_, _ = w.Write([]byte("origin"))
			})

			req := httptest.NewRequest(http.MethodGet, "/article", nil)
			if tt.ua != "" {
				req.Header.Set("User-Agent", tt.ua)
			}
			w := httptest.NewRecorder()
			EdgeFilter(env)(next).ServeHTTP(w, req)

			if w.Code != tt.status {
				t.Errorf("status = %d, want %d", w.Code, tt.status)
			}
			if tt.reason == "" {
				if !called {
					t.Error("allowed request should reach the next handler")
				}
				for _, h := range []string{"X-Blocked-Reason", "Cache-Control", "Pragma", "Expires"} {
					if w.Header().Get(h) != "" {
						t.Errorf("allow must not add %s", h)
					}
				}
				return
			}

			if called {
				t.Error("blocked request reached the next handler")
			}
			if got := w.Header().Get("X-Blocked-Reason"); got != tt.reason {
				t.Errorf("X-Blocked-Reason = %q, want %q", got, tt.reason)
			}
			if got := w.Header().Get("Cache-Control"); got != "no-store, no-cache, must-revalidate" {
				t.Errorf("Cache-Control = %q", got)
			}
			if w.Header().Get("Pragma") != "no-cache" || w.Header().Get("Expires") != "0" {
				t.Errorf("missing no-cache headers: %v", w.Header())
			}
			if w.Body.Len() != 0 {
				t.Errorf("%d block should have no body, got %q", tt.status, w.Body.String())
			}
			events := rec.all()
			if len(events) != 1 || events[0].Context != "edge" || events[0].Reason != tt.reason {
				t.Errorf("events = %+v", events)
			}
		})
	}
}

func TestWriteBlock(t *testing.T) {
	t.Run("200 with configured body", func(t *testing.T) {
		w := httptest.NewRecorder()
		cfg := policy.BlockResponse{Status: http.StatusOK, ContentType: "text/plain", Body: "nothing here"}
		writeBlock(w, httptest.NewRequest(http.MethodGet, "/", nil), cfg, policy.ReasonDesktop)

		if w.Code != http.StatusOK {
			t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
		}
		if w.Header().Get("Content-Type") != "text/plain" || w.Body.String() != "nothing here" {
			t.Errorf("got %q %q", w.Header().Get("Content-Type"), w.Body.String())
		}
	})

	t.Run("200 with default body", func(t *testing.T) {
		w := httptest.NewRecorder()
		writeBlock(w, httptest.NewRequest(http.MethodGet, "/", nil), policy.BlockResponse{Status: http.StatusOK}, policy.ReasonDesktop)

		if w.Body.String() != defaultBlockBody {
			t.Errorf("body = %q, want minimal HTML", w.Body.String())
		}
		if !strings.HasPrefix(w.Header().Get("Content-Type"), "text/html") {
			t.Errorf("Content-Type = %q", w.Header().Get("Content-Type"))
		}
	})

	t.Run("HEAD has no body", func(t *testing.T) {
		w := httptest.NewRecorder()
		writeBlock(w, httptest.NewRequest(http.MethodHead, "/", nil), policy.BlockResponse{Status: http.StatusOK}, policy.ReasonDesktop)
		if w.Body.Len() != 0 {
			t.Errorf("HEAD body = %q", w.Body.String())
		}
	})

	t.Run("zero status means 304", func(t *testing.T) {
		w := httptest.NewRecorder()
		writeBlock(w, httptest.NewRequest(http.MethodGet, "/", nil), policy.BlockResponse{}, policy.ReasonDesktop)
		if w.Code != http.StatusNotModified {
			t.Errorf("status = %d, want %d", w.Code, http.StatusNotModified)
		}
	})
}

func TestNewMux(t *testing.T) {
	env, _, reg := testEnv(t, withRedirect)
	mux := NewMux(env)

	tests := []struct {
		name   string
		method string
		path   string
		ua     string
		want   int
	}{
		{"healthz is never gated", http.MethodGet, "/healthz", "", http.StatusOK},
		{"readyz is never gated", http.MethodGet, "/readyz", desktopUA, http.StatusOK},
		{"gate script is never gated", http.MethodGet, "/gate.js", desktopUA, http.StatusOK},
		{"verify preflight", http.MethodOptions, "/verify", desktopUA, http.StatusNoContent},
		{"redirect route", http.MethodGet, "/go", desktopUA, http.StatusFound},
		{"placeholder for genuine traffic", http.MethodGet, "/page", mobileUA, http.StatusNoContent},
		{"desktop gated at the edge", http.MethodGet, "/page", desktopUA, http.StatusNotModified},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			if tt.ua != "" {
				req.Header.Set("User-Agent", tt.ua)
			}
			w := httptest.NewRecorder()
			mux.ServeHTTP(w, req)
			if w.Code != tt.want {
				t.Errorf("%s %s = %d, want %d", tt.method, tt.path, w.Code, tt.want)
			}
		})
	}

	out := scrape(t, reg)
	for _, want := range []string{
		`trafficgate_http_requests_total{endpoint="/healthz",method="GET",status="200"} 1`,
		`trafficgate_http_requests_total{endpoint="edge",method="GET",status="304"} 1`,
		`trafficgate_decisions_total{action="block",context="edge",verdict="desktop"} 1`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("metrics missing %s", want)
		}
	}
}

func TestNewMuxProxiesAllowedTraffic(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html><body>Origin</body></html>"))
	}))
	defer backend.Close()

	env, _, _ := testEnv(t, nil)
	env.Cfg.ForwardDestination = backend.URL
	env.Cfg.AutoInjectScript = true
	mux := NewMux(env)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("User-Agent", mobileUA)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if !strings.Contains(w.Body.String(), "Origin") || !strings.Contains(w.Body.String(), gateScriptTag) {
		t.Errorf("body = %q", w.Body.String())
	}
}
