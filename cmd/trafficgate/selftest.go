package main

import (
	"log"

	"github.com/shortontech/trafficgate/internal/classify"
	"github.com/shortontech/trafficgate/internal/event"
	"github.com/shortontech/trafficgate/internal/gate"
	"github.com/shortontech/trafficgate/internal/policy"
	"github.com/shortontech/trafficgate/internal/signal"
)

type scenario struct {
	name    string
	context classify.Context
	bundle  signal.Bundle
	want    policy.ActionKind // expected under the built-in policy
}

// sampleScenarios covers each verdict in each context it can occur in.
func sampleScenarios() []scenario {
	const (
		android = "Mozilla/5.0 (Linux; Android 10) Mobile"
		windows = "Mozilla/5.0 (Windows NT 10.0; Win64; x64)"
		genymo  = "Mozilla/5.0 (Linux; Android 9; Genymotion Build/PI) Mobile"
		fbapp   = "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) Mobile/15E148 [FBAN/FBIOS;FBAV/440.0.0]"
	)
	phone := signal.Screen{Width: 390, Height: 844, AvailWidth: 390, AvailHeight: 844, DevicePixelRatio: 3}
	monitor := signal.Screen{Width: 1920, Height: 1080, AvailWidth: 1920, AvailHeight: 1040, DevicePixelRatio: 1}

	return []scenario{
		{"genuine phone at the edge", classify.EdgeContext, signal.New(android), policy.ActionAllow},
		{"desktop at the edge", classify.EdgeContext, signal.New(windows), policy.ActionBlock},
		{"emulator at the edge", classify.EdgeContext, signal.New(genymo), policy.ActionBlock},
		{"in-app browser at the edge", classify.EdgeContext, signal.New(fbapp), policy.ActionAllow},
		{"no user agent at the edge", classify.EdgeContext, signal.New(""), policy.ActionBlock},
		{
			"genuine phone on the page", classify.ClientContext,
			signal.New(android, signal.WithPlatform("Linux armv8l"), signal.WithScreen(phone)),
			policy.ActionAllow,
		},
		{
			"device emulation on the page", classify.ClientContext,
			signal.New(android, signal.WithScreen(monitor)),
			policy.ActionSuppress,
		},
		{
			"desktop platform behind a mobile UA", classify.ClientContext,
			signal.New(android, signal.WithPlatform("Win32"), signal.WithScreen(phone)),
			policy.ActionSuppress,
		},
		{"trusted referrer", classify.RedirectContext, signal.New(android, signal.WithReferrer("https://partner.example/post")), ""},
		{"direct visit", classify.RedirectContext, signal.New(windows), ""},
	}
}

func evaluate(engine *gate.Engine, s scenario) gate.Decision {
	if s.context == classify.RedirectContext {
		return engine.Route(s.bundle)
	}
	return engine.Evaluate(s.context, s.bundle)
}

// runSelfTest pushes the sample scenarios through the engine and emits
// their decisions, returning how many differ from the built-in policy.
// Differences are expected when a custom policy file is loaded.
func runSelfTest(engine *gate.Engine, emit func(event.Decision)) int {
	log.Printf("selftest: evaluating sample traffic against policy %s", engine.Snapshot().Hash)

	scenarios := sampleScenarios()
	diffs := 0
	for i, s := range scenarios {
		d := evaluate(engine, s)
		log.Printf("selftest: %d/%d %-40s context=%s verdict=%s action=%s reason=%s",
			i+1, len(scenarios), s.name, d.Context, d.Result.Verdict, d.Action.Kind, d.Action.Reason)
		if s.want != "" && d.Action.Kind != s.want {
			log.Printf("selftest: %s: got %s, built-in policy gives %s", s.name, d.Action.Kind, s.want)
			diffs++
		}
		emit(event.NewDecision(nil, s.bundle, d))
	}

	log.Printf("selftest: %d decisions emitted, %d differ from the built-in policy", len(scenarios), diffs)
	return diffs
}
