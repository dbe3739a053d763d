// Package config loads process settings from the environment. Gate rules
// and policy live in the policy file named by POLICY_FILE.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
)

type Config struct {
	ServerAddr   string
	MaxBodyBytes int64    // bytes for /verify payload
	Outputs      []string // enabled sinks: log, kafka, postgres

	PolicyFile  string // YAML policy; empty means built-in defaults
	PolicyWatch bool   // hot-reload PolicyFile on change

	ForwardDestination string // origin for allowed traffic; empty serves 204
	AutoInjectScript   bool   // add the gate script to proxied HTML

	RedirectPath string
	VerifyPath   string

	EnableHTTPS bool
	TLSCertFile string
	TLSKeyFile  string
}

func getOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
func getBool(k string, def bool) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(k)))
	switch v {
	case "1", "t", "true", "y", "yes":
		return true
	case "0", "f", "false", "n", "no":
		return false
	}
	return def
}
func getInt64(k string, def int64) int64 {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return def
}

func getStringSlice(k, def string) []string {
	v := os.Getenv(k)
	if v == "" {
		v = def
	}
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func Load() Config {
	return Config{
		ServerAddr:   getOr("SERVER_ADDR", ":19890"),
		MaxBodyBytes: getInt64("MAX_BODY_BYTES", 16<<10), // client reports are small
		Outputs:      getStringSlice("OUTPUTS", "log"),

		PolicyFile:  getOr("POLICY_FILE", ""),
		PolicyWatch: getBool("POLICY_WATCH", false),

		ForwardDestination: getOr("FORWARD_DESTINATION", ""),
		AutoInjectScript:   getBool("AUTO_INJECT_SCRIPT", false),

		RedirectPath: getOr("REDIRECT_PATH", "/go"),
		VerifyPath:   getOr("VERIFY_PATH", "/verify"),

		EnableHTTPS: getBool("ENABLE_HTTPS", false),
		TLSCertFile: getOr("TLS_CERT_FILE", ""),
		TLSKeyFile:  getOr("TLS_KEY_FILE", ""),
	}
}

// reservedPaths are served by the gate itself and cannot be reassigned.
var reservedPaths = []string{"/healthz", "/readyz", "/gate.js"}

// Validate reports settings the server cannot start with.
func (c Config) Validate() error {
	var errs []error
	if c.EnableHTTPS && (c.TLSCertFile == "" || c.TLSKeyFile == "") {
		errs = append(errs, errors.New("ENABLE_HTTPS requires TLS_CERT_FILE and TLS_KEY_FILE"))
	}
	for name, p := range map[string]string{"REDIRECT_PATH": c.RedirectPath, "VERIFY_PATH": c.VerifyPath} {
		if !strings.HasPrefix(p, "/") || p == "/" {
			errs = append(errs, fmt.Errorf("%s %q must be an absolute path below /", name, p))
		}
		for _, r := range reservedPaths {
			if p == r {
				errs = append(errs, fmt.Errorf("%s %q is reserved", name, p))
			}
		}
	}
	if c.RedirectPath == c.VerifyPath {
		errs = append(errs, fmt.Errorf("REDIRECT_PATH and VERIFY_PATH are both %q", c.RedirectPath))
	}
	if c.MaxBodyBytes <= 0 {
		errs = append(errs, fmt.Errorf("MAX_BODY_BYTES must be positive, got %d", c.MaxBodyBytes))
	}
	for _, o := range c.Outputs {
		switch o {
		case "log", "kafka", "postgres":
		default:
			errs = append(errs, fmt.Errorf("unknown output %q", o))
		}
	}
	return errors.Join(errs...)
}
