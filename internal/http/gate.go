package httpx

import (
	"net/http"

	"github.com/shortontech/trafficgate/internal/classify"
	"github.com/shortontech/trafficgate/internal/policy"
	"github.com/shortontech/trafficgate/internal/signal"
)

const defaultBlockBody = "<!doctype html><html><head><title></title></head><body></body></html>"

// EdgeFilter classifies every request from its headers before it reaches
// next. Allowed requests pass through untouched; anything else gets the
// configured block response.
func EdgeFilter(e Env) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			b := signal.FromRequest(r)
			d := e.Engine.Evaluate(classify.EdgeContext, b)
			e.record(r, b, d)

			if d.Action.Allowed() {
				next.ServeHTTP(w, r)
				return
			}
			writeBlock(w, r, e.Engine.Snapshot().File.Block, d.Action.Reason)
		})
	}
}

// Redirect sends the visitor to the trusted or fallback destination
// depending on the Referer header alone.
func (e Env) Redirect(w http.ResponseWriter, r *http.Request) {
	b := signal.FromRequest(r)
	d := e.Engine.Route(b)
	e.record(r, b, d)

	if d.Action.Kind != policy.ActionRedirect {
		writeBlock(w, r, e.Engine.Snapshot().File.Block, d.Action.Reason)
		return
	}

	h := w.Header()
	h.Set("Location", d.Action.URL)
	h.Set("Cache-Control", "no-store, no-cache, must-revalidate, proxy-revalidate")
	h.Set("Pragma", "no-cache")
	h.Set("Expires", "0")
	w.WriteHeader(http.StatusFound)
}

func writeBlock(w http.ResponseWriter, r *http.Request, cfg policy.BlockResponse, reason string) {
	h := w.Header()
	noStore(h)
	h.Set("X-Blocked-Reason", reason)

	status := cfg.Status
	if status == 0 {
		status = http.StatusNotModified
	}
	if status == http.StatusNoContent || status == http.StatusNotModified {
		w.WriteHeader(status)
		return
	}

	body, ctype := cfg.Body, cfg.ContentType
	if body == "" {
		body = defaultBlockBody
	}
	if ctype == "" {
		ctype = "text/html; charset=utf-8"
	}
	h.Set("Content-Type", ctype)
	w.WriteHeader(status)
	if r.Method != http.MethodHead {
		_, _ = w.Write([]byte(body))
	}
}

func noStore(h http.Header) {
	h.Set("Cache-Control", "no-store, no-cache, must-revalidate")
	h.Set("Pragma", "no-cache")
	h.Set("Expires", "0")
}
