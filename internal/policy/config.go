package policy

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/shortontech/trafficgate/internal/rules"
)

// BlockResponse is the edge response written for a Block action. Only
// statuses browsers do not cache as a final page are accepted.
type BlockResponse struct {
	Status      int    `yaml:"status"`
	ContentType string `yaml:"content_type"`
	Body        string `yaml:"body"`
}

// MonitorConfig tunes the client-side re-check loop.
type MonitorConfig struct {
	Interval time.Duration `yaml:"interval"`
	Debounce time.Duration `yaml:"debounce"`
}

// File is the on-disk policy document.
type File struct {
	Strategy string           `yaml:"strategy"`
	Rules    rules.Config     `yaml:"rules"`
	Table    map[string]Entry `yaml:"policy"`
	Redirect RedirectConfig   `yaml:"redirect"`
	Block    BlockResponse    `yaml:"block"`
	Monitor  MonitorConfig    `yaml:"monitor"`
}

// DefaultFile returns the built-in policy: default strategy, built-in rule
// tables, a 304 block and a one second client re-check.
func DefaultFile() *File {
	return &File{
		Strategy: StrategyDefault,
		Rules:    rules.DefaultConfig(),
		Block: BlockResponse{
			Status: http.StatusNotModified,
		},
		Monitor: MonitorConfig{
			Interval: time.Second,
			Debounce: 100 * time.Millisecond,
		},
	}
}

// LoadFile reads a policy file and returns it with the SHA-256 of its raw
// bytes. A missing file yields the defaults; invalid YAML is an error.
func LoadFile(path string) (*File, string, error) {
	if path == "" {
		return DefaultFile(), emptyHash(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultFile(), emptyHash(), nil
		}
		return nil, "", fmt.Errorf("failed to read policy file: %w", err)
	}

	f, err := Parse(data)
	if err != nil {
		return nil, "", err
	}
	h := sha256.Sum256(data)
	return f, "sha256:" + hex.EncodeToString(h[:]), nil
}

// Parse decodes a policy document over the defaults, so a file only needs
// to name what it changes.
func Parse(data []byte) (*File, error) {
	f := DefaultFile()
	if err := yaml.Unmarshal(data, f); err != nil {
		return nil, fmt.Errorf("failed to parse policy file: %w", err)
	}
	if f.Block.Status == 0 {
		f.Block.Status = http.StatusNotModified
	}
	return f, nil
}

func emptyHash() string {
	h := sha256.Sum256(nil)
	return "sha256:" + hex.EncodeToString(h[:])
}

// Validate reports every problem with the file at once.
func (f *File) Validate() error {
	var errs []error
	if _, err := CompileTable(f.Strategy, f.Table); err != nil {
		errs = append(errs, err)
	}
	if _, err := rules.Compile(f.Rules); err != nil {
		errs = append(errs, err)
	}
	if err := f.Redirect.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := f.Block.Validate(); err != nil {
		errs = append(errs, err)
	}
	if f.Monitor.Interval < 0 || f.Monitor.Debounce < 0 {
		errs = append(errs, errors.New("monitor: durations must not be negative"))
	}
	return errors.Join(errs...)
}

// Validate checks the block status. 304 and 204 cannot carry a body.
func (b BlockResponse) Validate() error {
	switch b.Status {
	case http.StatusOK:
		return nil
	case http.StatusNoContent, http.StatusNotModified:
		if b.Body != "" {
			return fmt.Errorf("block: status %d cannot carry a body", b.Status)
		}
		return nil
	}
	return fmt.Errorf("block: unsupported status %d (use 200, 204 or 304)", b.Status)
}
