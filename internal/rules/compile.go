package rules

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/shortontech/trafficgate/internal/signal"
)

// Set names, used as rule ID prefixes.
const (
	DeviceClassSet = "device-class"
	DesktopOSSet   = "desktop-os"
	EmulatorSet    = "emulator"
	MismatchSet    = "mismatch"
	KnownAppSet    = "known-app"
)

// Compiled holds the rule sets built from a Config.
type Compiled struct {
	DeviceClass Set
	DesktopOS   Set
	Emulator    Set
	Mismatch    Set
	KnownApp    Set
}

// Compile builds every rule set from cfg. It fails only on an invalid
// emulator expression or a known app without a name.
func Compile(cfg Config) (*Compiled, error) {
	threshold := cfg.ScreenThreshold
	if threshold <= 0 {
		threshold = DefaultScreenThreshold
	}

	emulator, err := emulatorRules(cfg.Emulator)
	if err != nil {
		return nil, err
	}
	apps, err := knownAppRules(cfg.KnownApps)
	if err != nil {
		return nil, err
	}

	deviceClass := Set{Name: DeviceClassSet, Rules: userAgentTokenRules(DeviceClassSet, cfg.DeviceClass)}

	desktop := userAgentTokenRules(DesktopOSSet, cfg.DesktopOS)
	desktop = append(desktop, Rule{
		ID:    DesktopOSSet + ":platform",
		Match: platformMatcher(cfg.DesktopPlatforms),
	})

	return &Compiled{
		DeviceClass: deviceClass,
		DesktopOS:   Set{Name: DesktopOSSet, Rules: desktop},
		Emulator:    Set{Name: EmulatorSet, Rules: emulator},
		Mismatch:    Set{Name: MismatchSet, Rules: mismatchRules(deviceClass, cfg.DesktopPlatforms, threshold)},
		KnownApp:    Set{Name: KnownAppSet, Rules: apps},
	}, nil
}

// userAgentTokenRules builds one case-insensitive substring rule per token.
func userAgentTokenRules(set string, tokens []string) []Rule {
	out := make([]Rule, 0, len(tokens))
	for _, tok := range tokens {
		lower := strings.ToLower(strings.TrimSpace(tok))
		if lower == "" {
			continue
		}
		out = append(out, Rule{
			ID: set + ":" + slug(tok),
			Match: func(b signal.Bundle) bool {
				return strings.Contains(strings.ToLower(b.UserAgent()), lower)
			},
		})
	}
	return out
}

func emulatorRules(patterns []string) ([]Rule, error) {
	out := make([]Rule, 0, len(patterns))
	for _, p := range patterns {
		if strings.TrimSpace(p) == "" {
			continue
		}
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			return nil, fmt.Errorf("invalid emulator pattern %q: %w", p, err)
		}
		out = append(out, Rule{
			ID: EmulatorSet + ":" + p,
			Match: func(b signal.Bundle) bool {
				return re.MatchString(b.UserAgent())
			},
		})
	}
	return out, nil
}

func knownAppRules(apps []KnownApp) ([]Rule, error) {
	var out []Rule
	for _, app := range apps {
		name := strings.TrimSpace(app.Name)
		if name == "" {
			return nil, fmt.Errorf("known app with tokens %v has no name", app.Tokens)
		}
		for _, r := range userAgentTokenRules(KnownAppSet+":"+name, app.Tokens) {
			r.Label = name
			out = append(out, r)
		}
	}
	return out, nil
}

// platformMatcher matches the client-reported platform, when present,
// against desktop platform tokens.
func platformMatcher(tokens []string) func(signal.Bundle) bool {
	lowered := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		if t := strings.ToLower(strings.TrimSpace(tok)); t != "" {
			lowered = append(lowered, t)
		}
	}
	return func(b signal.Bundle) bool {
		platform, ok := b.Platform()
		if !ok || platform == "" {
			return false
		}
		platform = strings.ToLower(platform)
		for _, tok := range lowered {
			if strings.Contains(platform, tok) {
				return true
			}
		}
		return false
	}
}

// mismatchRules encode that a device whose User-Agent claims mobile cannot
// report desktop-sized screens or a desktop platform.
func mismatchRules(mobile Set, desktopPlatforms []string, threshold int) []Rule {
	desktopPlatform := platformMatcher(desktopPlatforms)
	return []Rule{
		{
			ID: MismatchSet + ":screen",
			Match: func(b signal.Bundle) bool {
				s, ok := b.Screen()
				if !ok || !mobile.Triggered(b) {
					return false
				}
				return s.Width > threshold || s.Height > threshold ||
					s.AvailWidth > threshold || s.AvailHeight > threshold
			},
		},
		{
			ID: MismatchSet + ":platform",
			Match: func(b signal.Bundle) bool {
				return desktopPlatform(b) && mobile.Triggered(b)
			},
		},
	}
}

// slug turns a token into a stable identifier fragment.
func slug(tok string) string {
	tok = strings.ToLower(strings.TrimSpace(tok))
	tok = strings.TrimRight(tok, "/ ")
	return strings.ReplaceAll(tok, " ", "-")
}
