package httpx

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"mime"
	"net/http"

	"github.com/shortontech/trafficgate/internal/assets"
	"github.com/shortontech/trafficgate/internal/classify"
	"github.com/shortontech/trafficgate/internal/client"
	"github.com/shortontech/trafficgate/internal/event"
	"github.com/shortontech/trafficgate/internal/gate"
	"github.com/shortontech/trafficgate/internal/metrics"
	"github.com/shortontech/trafficgate/internal/signal"
	"github.com/shortontech/trafficgate/pkg/config"
)

type Env struct {
	Cfg     config.Config
	Engine  *gate.Engine
	Emit    func(event.Decision) // injected sink fan-out
	Metrics *metrics.Metrics

	// Ready, when set, gates /readyz on sink connectivity.
	Ready func() error
}

func (e Env) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (e Env) Readyz(w http.ResponseWriter, r *http.Request) {
	if e.Engine == nil || e.Engine.Snapshot() == nil {
		http.Error(w, "policy not loaded", http.StatusServiceUnavailable)
		return
	}
	if e.Ready != nil {
		if err := e.Ready(); err != nil {
			log.Printf("readyz: %v", err)
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

type gateSettings struct {
	Verify   string `json:"verify"`
	Interval int64  `json:"interval"`
	Debounce int64  `json:"debounce"`
}

// ServeGateJS serves the embedded client script, prefixed with the monitor
// settings of the current policy snapshot.
func (e Env) ServeGateJS(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	mon := e.Engine.Snapshot().File.Monitor
	settings, err := json.Marshal(gateSettings{
		Verify:   e.Cfg.VerifyPath,
		Interval: mon.Interval.Milliseconds(),
		Debounce: mon.Debounce.Milliseconds(),
	})
	if err != nil {
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "window.__trafficgate=%s;\n", settings)
	buf.Write(assets.GateJS)

	w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}
	_, _ = w.Write(buf.Bytes())
}

type verifyResponse struct {
	Action     string   `json:"action"`
	Reason     string   `json:"reason,omitempty"`
	Verdict    string   `json:"verdict"`
	Directives []string `json:"directives"`
}

// Verify runs the client-context check for a page's signal report and
// answers with the action and the suppression steps the page must carry
// out, in order.
func (e Env) Verify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type")); err != nil || mt != "application/json" {
		http.Error(w, "unsupported media type", http.StatusUnsupportedMediaType)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, e.Cfg.MaxBodyBytes)
	var report client.Report
	if err := json.NewDecoder(r.Body).Decode(&report); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "payload too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}

	env := report.Environment(r.UserAgent())
	directives := &client.Directives{}
	out := client.NewGuard(e.Engine, env, directives).Check()
	e.record(r, client.Extract(env), out.Decision)

	resp := verifyResponse{
		Action:     string(out.Decision.Action.Kind),
		Reason:     out.Decision.Action.Reason,
		Verdict:    out.Decision.Result.Verdict.String(),
		Directives: directives.List(),
	}
	noStore(w.Header())
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)
}

// record updates metrics and emits the decision event.
func (e Env) record(r *http.Request, b signal.Bundle, d gate.Decision) {
	if d.Context == classify.RedirectContext {
		e.Metrics.IncrementRedirects(d.Action.Reason)
	} else {
		e.Metrics.ObserveDecision(d.Context.String(), d.Result.Verdict.Kind.String(), string(d.Action.Kind))
	}
	if e.Emit != nil {
		e.Emit(event.NewDecision(r, b, d))
	}
}
