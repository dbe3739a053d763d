// Package signal holds the per-request inputs the classifier works from.
package signal

// Screen is the OS-reported display geometry of a client.
type Screen struct {
	Width            int     `json:"width"`
	Height           int     `json:"height"`
	AvailWidth       int     `json:"availWidth"`
	AvailHeight      int     `json:"availHeight"`
	DevicePixelRatio float64 `json:"devicePixelRatio,omitempty"`
}

// Bundle is an immutable set of observed signals for one classification
// pass. Fields a context cannot supply are absent, never zero-valued.
type Bundle struct {
	userAgent string

	referrer    string
	hasReferrer bool

	screen    Screen
	hasScreen bool

	platform    string
	hasPlatform bool
}

// Option populates an optional field of a Bundle during construction.
type Option func(*Bundle)

// WithReferrer marks the referrer as present, even when it is empty.
func WithReferrer(referrer string) Option {
	return func(b *Bundle) {
		b.referrer = referrer
		b.hasReferrer = true
	}
}

// WithScreen attaches measured screen geometry.
func WithScreen(s Screen) Option {
	return func(b *Bundle) {
		b.screen = s
		b.hasScreen = true
	}
}

// WithPlatform attaches the client-reported platform string.
func WithPlatform(platform string) Option {
	return func(b *Bundle) {
		b.platform = platform
		b.hasPlatform = true
	}
}

// New builds a Bundle. The result cannot be modified afterwards.
func New(userAgent string, opts ...Option) Bundle {
	b := Bundle{userAgent: userAgent}
	for _, opt := range opts {
		if opt != nil {
			opt(&b)
		}
	}
	return b
}

func (b Bundle) UserAgent() string { return b.userAgent }

func (b Bundle) Referrer() (string, bool) { return b.referrer, b.hasReferrer }

func (b Bundle) Screen() (Screen, bool) { return b.screen, b.hasScreen }

func (b Bundle) Platform() (string, bool) { return b.platform, b.hasPlatform }
