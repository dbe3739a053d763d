package httpx

import (
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"log"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ProxyHandler forwards allowed traffic to the origin.
type ProxyHandler struct {
	destination  string
	client       *http.Client
	injectScript bool
}

// NewProxyHandler creates a new proxy handler for the given destination.
// With injectScript set, HTML responses get the gate script tag.
func NewProxyHandler(destination string, injectScript bool) *ProxyHandler {
	return &ProxyHandler{
		destination:  destination,
		injectScript: injectScript,
		client: &http.Client{
			Timeout: 30 * time.Second,
			// Origin redirects go back to the browser untouched.
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// ServeHTTP proxies requests to the destination server
func (p *ProxyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	targetURL, err := url.Parse(p.destination)
	if err != nil {
		log.Printf("proxy: invalid destination URL: %v", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	targetURL.Path = r.URL.Path
	targetURL.RawQuery = r.URL.RawQuery

	ctx, cancel := context.WithTimeout(r.Context(), 25*time.Second)
	defer cancel()

	proxyReq, err := http.NewRequestWithContext(ctx, r.Method, targetURL.String(), r.Body)
	if err != nil {
		log.Printf("proxy: failed to create request: %v", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	for key, values := range r.Header {
		for _, value := range values {
			proxyReq.Header.Add(key, value)
		}
	}
	proxyReq.Host = targetURL.Host

	resp, err := p.client.Do(proxyReq)
	if err != nil {
		log.Printf("proxy: request to %s failed: %v", targetURL.String(), err)
		http.Error(w, "bad gateway", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	for key, values := range resp.Header {
		for _, value := range values {
			w.Header().Add(key, value)
		}
	}

	if !p.injectScript || r.Method == http.MethodHead || !isHTMLContent(resp.Header.Get("Content-Type")) {
		w.WriteHeader(resp.StatusCode)
		if _, err := io.Copy(w, resp.Body); err != nil {
			log.Printf("proxy: failed to copy response body: %v", err)
		}
		return
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Printf("proxy: failed to read response body for script injection: %v", err)
		w.WriteHeader(http.StatusBadGateway)
		return
	}

	finalBody, err := rewriteHTML(body, resp.Header.Get("Content-Encoding"))
	if err != nil {
		// Serve the origin bytes unchanged rather than a broken page.
		log.Printf("proxy: script injection skipped: %v", err)
		finalBody = body
	}

	w.Header().Set("Content-Length", strconv.Itoa(len(finalBody)))
	w.WriteHeader(resp.StatusCode)
	if _, err := w.Write(finalBody); err != nil {
		log.Printf("proxy: failed to write modified response body: %v", err)
	}
}

// rewriteHTML injects the gate script into body, decoding and re-encoding
// gzip when the origin compressed it.
func rewriteHTML(body []byte, encoding string) ([]byte, error) {
	if !strings.Contains(strings.ToLower(encoding), "gzip") {
		return injectScript(body), nil
	}

	gzReader, err := gzip.NewReader(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	defer gzReader.Close()
	html, err := io.ReadAll(gzReader)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	gzWriter := gzip.NewWriter(&buf)
	if _, err := gzWriter.Write(injectScript(html)); err != nil {
		return nil, err
	}
	if err := gzWriter.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// isHTMLContent checks if the content type indicates HTML content (case-insensitive)
func isHTMLContent(contentType string) bool {
	if contentType == "" {
		return false
	}
	ct := strings.ToLower(strings.TrimSpace(contentType))
	return strings.Contains(ct, "text/html") ||
		strings.Contains(ct, "application/xhtml+xml") ||
		strings.Contains(ct, "application/xhtml")
}

const gateScriptTag = `<script src="/gate.js"></script>`

var (
	bodyCloseRe = regexp.MustCompile(`(?i)</body>`)
	htmlCloseRe = regexp.MustCompile(`(?i)</html>`)
)

// injectScript adds the gate script tag before the last </body>, else the
// last </html>, else at the end of the document.
func injectScript(body []byte) []byte {
	for _, re := range []*regexp.Regexp{bodyCloseRe, htmlCloseRe} {
		locs := re.FindAllIndex(body, -1)
		if len(locs) == 0 {
			continue
		}
		at := locs[len(locs)-1][0]
		out := make([]byte, 0, len(body)+len(gateScriptTag)+1)
		out = append(out, body[:at]...)
		out = append(out, gateScriptTag...)
		out = append(out, '\n')
		return append(out, body[at:]...)
	}
	return bytes.Join([][]byte{body, []byte(gateScriptTag)}, []byte("\n"))
}

// placeholder answers allowed requests when no origin is configured.
func placeholder(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

// NewMux wires the gate endpoints and the edge-filtered origin.
func NewMux(e Env) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", e.Healthz)
	mux.HandleFunc("/readyz", e.Readyz)
	mux.Handle("/gate.js", cors(http.HandlerFunc(e.ServeGateJS)))
	mux.Handle(e.Cfg.VerifyPath, cors(http.HandlerFunc(e.Verify)))
	mux.HandleFunc(e.Cfg.RedirectPath, e.Redirect)

	var origin http.Handler = http.HandlerFunc(placeholder)
	if dest := e.Cfg.ForwardDestination; dest != "" {
		if u, err := url.Parse(dest); err != nil || u.Scheme == "" || u.Host == "" {
			log.Printf("WARNING: invalid FORWARD_DESTINATION %q, serving placeholder", dest)
		} else {
			log.Printf("proxy: forwarding allowed traffic to %s", dest)
			if e.Cfg.AutoInjectScript {
				log.Printf("proxy: gate script injection enabled for HTML content")
			}
			origin = NewProxyHandler(dest, e.Cfg.AutoInjectScript)
		}
	}
	mux.Handle("/", EdgeFilter(e)(origin))

	known := []string{"/healthz", "/readyz", "/gate.js", e.Cfg.VerifyPath, e.Cfg.RedirectPath}
	return RequestLogger(MetricsMiddleware(e.Metrics, known...)(mux))
}
