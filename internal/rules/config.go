package rules

// KnownApp maps an in-app browser to the User-Agent tokens that identify it.
type KnownApp struct {
	Name   string   `yaml:"name" json:"name"`
	Tokens []string `yaml:"tokens" json:"tokens"`
}

// Config is the editable source of every rule set. Token lists are matched
// as case-insensitive substrings; Emulator entries are regular expressions
// matched case-insensitively.
type Config struct {
	DeviceClass      []string   `yaml:"device_class"`
	DesktopOS        []string   `yaml:"desktop_os"`
	DesktopPlatforms []string   `yaml:"desktop_platforms"`
	Emulator         []string   `yaml:"emulator"`
	KnownApps        []KnownApp `yaml:"known_apps"`

	// ScreenThreshold is the largest screen dimension, in CSS pixels, still
	// considered plausible for a device whose User-Agent claims mobile.
	ScreenThreshold int `yaml:"screen_threshold"`
}

// DefaultScreenThreshold bounds phone and tablet screen dimensions.
const DefaultScreenThreshold = 1024

// DefaultConfig returns the built-in rule tables.
func DefaultConfig() Config {
	return Config{
		DeviceClass: []string{
			"Android", "iPhone", "iPad", "iPod", "Mobile", "webOS",
			"BlackBerry", "Windows Phone", "IEMobile", "Opera Mini",
		},
		DesktopOS: []string{
			"Windows NT", "Macintosh", "Mac OS X", "Linux", "X11", "CrOS",
		},
		// Android phones report "Linux armv8l" or "Linux aarch64", so bare
		// "Linux" is not a desktop platform.
		DesktopPlatforms: []string{
			"Win", "Mac", "Linux x86", "Linux i686", "X11", "CrOS",
		},
		Emulator: []string{
			`Android.*Build/.*Emulator`,
			`Android.*Build/.*SDK`,
			`Android.*Build/.*Simulator`,
			`Android.*generic`,
			`Android.*Genymotion`,
			`Android.*BlueStacks`,
			`Android.*NoxPlayer`,
			`Android.*MEmu`,
			`Android.*LDPlayer`,
			`iPhone.*Simulator`,
			`iPad.*Simulator`,
			`iPod.*Simulator`,
			`\bEmulator\b`,
			`\bSimulator\b`,
			`\bVirtual\b`,
			`Android.*x86`,
			`Android.*i686`,
		},
		KnownApps: []KnownApp{
			{Name: "facebook", Tokens: []string{"FBAN/", "FBAV/"}},
			{Name: "instagram", Tokens: []string{"Instagram "}},
			{Name: "tiktok", Tokens: []string{"BytedanceWebview", "musical_ly"}},
			{Name: "snapchat", Tokens: []string{"Snapchat"}},
			{Name: "pinterest", Tokens: []string{"Pinterest/"}},
			{Name: "linkedin", Tokens: []string{"LinkedInApp"}},
		},
		ScreenThreshold: DefaultScreenThreshold,
	}
}
