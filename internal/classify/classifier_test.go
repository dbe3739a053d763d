package classify

import (
	"testing"

	"github.com/shortontech/trafficgate/internal/rules"
	"github.com/shortontech/trafficgate/internal/signal"
)

func newDefaultClassifier(t *testing.T) *Classifier {
	t.Helper()
	sets, err := rules.Compile(rules.DefaultConfig())
	if err != nil {
		t.Fatalf("Compile() failed: %v", err)
	}
	return New(sets)
}

func TestClassifyScenarios(t *testing.T) {
	c := newDefaultClassifier(t)
	androidUA := "Mozilla/5.0 (Linux; Android 10) Mobile"

	tests := []struct {
		name   string
		ctx    Context
		bundle signal.Bundle
		want   Verdict
	}{
		{
			name: "genuine android phone",
			ctx:  ClientContext,
			bundle: signal.New(androidUA,
				signal.WithPlatform("Linux armv8l"),
				signal.WithScreen(signal.Screen{Width: 390, Height: 844, AvailWidth: 390, AvailHeight: 844})),
			want: Verdict{Kind: Genuine},
		},
		{
			name:   "devtools emulation on desktop screen",
			ctx:    ClientContext,
			bundle: signal.New(androidUA, signal.WithScreen(signal.Screen{Width: 1920, Height: 1080})),
			want:   Verdict{Kind: Emulated},
		},
		{
			name:   "same signals at the edge ignore the screen",
			ctx:    EdgeContext,
			bundle: signal.New(androidUA, signal.WithScreen(signal.Screen{Width: 1920, Height: 1080})),
			want:   Verdict{Kind: Genuine},
		},
		{
			name:   "windows desktop",
			ctx:    EdgeContext,
			bundle: signal.New("Mozilla/5.0 (Windows NT 10.0; Win64; x64)"),
			want:   Verdict{Kind: DesktopBrowser},
		},
		{
			name:   "empty user agent",
			ctx:    EdgeContext,
			bundle: signal.New(""),
			want:   Verdict{Kind: Indeterminate},
		},
		{
			name:   "command line client",
			ctx:    EdgeContext,
			bundle: signal.New("curl/8.4.0"),
			want:   Verdict{Kind: Indeterminate},
		},
		{
			name:   "android emulator build",
			ctx:    EdgeContext,
			bundle: signal.New("Mozilla/5.0 (Linux; Android 11; sdk_gphone_x86 Build/RSR1) Mobile"),
			want:   Verdict{Kind: Emulated},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.Classify(tt.ctx, tt.bundle)
			if got.Verdict != tt.want {
				t.Errorf("Classify() = %v (rule %q), want %v", got.Verdict, got.RuleID, tt.want)
			}
		})
	}
}

func TestClassifyPrecedence(t *testing.T) {
	c := newDefaultClassifier(t)

	t.Run("known app beats desktop and emulator tokens", func(t *testing.T) {
		ua := "Mozilla/5.0 (Windows NT 10.0; Emulator) [FBAN/FBIOS;FBAV/440.0]"
		got := c.Classify(ClientContext, signal.New(ua, signal.WithScreen(signal.Screen{Width: 1920})))
		if got.Verdict.Kind != KnownApp || got.Verdict.App != "facebook" {
			t.Errorf("Classify() = %v, want known_app:facebook", got.Verdict)
		}
	})

	t.Run("emulator beats desktop os", func(t *testing.T) {
		got := c.Classify(EdgeContext, signal.New("Mozilla/5.0 (X11; Linux x86_64) Simulator"))
		if got.Verdict.Kind != Emulated {
			t.Errorf("Classify() = %v, want emulated", got.Verdict)
		}
	})

	t.Run("mismatch beats device class", func(t *testing.T) {
		b := signal.New("Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) Mobile",
			signal.WithScreen(signal.Screen{Width: 390, Height: 844, AvailWidth: 1440, AvailHeight: 900}))
		got := c.Classify(ClientContext, b)
		if got.Verdict.Kind != Emulated || got.RuleID != "mismatch:screen" {
			t.Errorf("Classify() = %v (%q), want emulated by mismatch:screen", got.Verdict, got.RuleID)
		}
	})

	t.Run("mobile token suppresses desktop verdict", func(t *testing.T) {
		got := c.Classify(EdgeContext, signal.New("Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X)"))
		if got.Verdict.Kind != Genuine {
			t.Errorf("Classify() = %v, want genuine", got.Verdict)
		}
	})
}

func TestClassifyProperties(t *testing.T) {
	c := newDefaultClassifier(t)

	mobileTokens := []string{"Android", "iPhone", "iPad", "iPod", "Mobile", "webOS",
		"BlackBerry", "Windows Phone", "IEMobile", "Opera Mini"}
	desktopTokens := []string{"Windows NT", "Macintosh", "Mac OS X", "Linux", "X11", "CrOS"}

	t.Run("device class token yields genuine", func(t *testing.T) {
		for _, tok := range mobileTokens {
			for _, ctx := range []Context{EdgeContext, ClientContext} {
				ua := "Mozilla/5.0 (" + tok + ") AppleWebKit/605.1.15"
				if got := c.Classify(ctx, signal.New(ua)); got.Verdict.Kind != Genuine {
					t.Errorf("%s %q = %v, want genuine", ctx, ua, got.Verdict)
				}
			}
		}
	})

	t.Run("desktop token without mobile yields desktop", func(t *testing.T) {
		for _, tok := range desktopTokens {
			ua := "Mozilla/5.0 (" + tok + ") AppleWebKit/537.36"
			if got := c.Classify(EdgeContext, signal.New(ua)); got.Verdict.Kind != DesktopBrowser {
				t.Errorf("%q = %v, want desktop", ua, got.Verdict)
			}
		}
	})

	t.Run("oversized screen with mobile ua yields emulated", func(t *testing.T) {
		for _, tok := range mobileTokens {
			ua := "Mozilla/5.0 (" + tok + ")"
			b := signal.New(ua, signal.WithScreen(signal.Screen{Width: 1280, Height: 1280, AvailWidth: 1280, AvailHeight: 1280}))
			if got := c.Classify(ClientContext, b); got.Verdict.Kind != Emulated {
				t.Errorf("%q = %v, want emulated", ua, got.Verdict)
			}
		}
	})

	t.Run("classification is idempotent", func(t *testing.T) {
		b := signal.New("Mozilla/5.0 (Linux; Android 10) Mobile",
			signal.WithPlatform("Linux armv8l"),
			signal.WithScreen(signal.Screen{Width: 390, Height: 844}))
		first := c.Classify(ClientContext, b)
		for i := 0; i < 5; i++ {
			if got := c.Classify(ClientContext, b); got != first {
				t.Fatalf("pass %d = %+v, first = %+v", i, got, first)
			}
		}
	})
}

func TestKindNames(t *testing.T) {
	for _, k := range Kinds() {
		parsed, ok := ParseKind(k.String())
		if !ok || parsed != k {
			t.Errorf("ParseKind(%q) = %v, %v", k.String(), parsed, ok)
		}
	}
	if _, ok := ParseKind("robot"); ok {
		t.Error("unknown kind should not parse")
	}
	if got := (Verdict{Kind: KnownApp, App: "tiktok"}).String(); got != "known_app:tiktok" {
		t.Errorf("String() = %q", got)
	}
}

func TestNilRuleSets(t *testing.T) {
	c := New(nil)
	if got := c.Classify(EdgeContext, signal.New("Android")); got.Verdict.Kind != Indeterminate {
		t.Errorf("empty classifier = %v, want indeterminate", got.Verdict)
	}
}
