package client

import "github.com/shortontech/trafficgate/internal/signal"

// Report is the signal payload a page posts to the verify endpoint.
// Pointer fields distinguish "not reported" from zero.
type Report struct {
	UserAgent        string         `json:"user_agent"`
	Platform         *string        `json:"platform,omitempty"`
	Screen           *signal.Screen `json:"screen,omitempty"`
	DevicePixelRatio *float64       `json:"device_pixel_ratio,omitempty"`
}

// Environment adapts the report to an Environment. headerUA is used when
// the page did not report a User-Agent.
func (r Report) Environment(headerUA string) Environment {
	return reportEnv{report: r, headerUA: headerUA}
}

type reportEnv struct {
	report   Report
	headerUA string
}

func (e reportEnv) UserAgent() (string, error) {
	if e.report.UserAgent != "" {
		return e.report.UserAgent, nil
	}
	if e.headerUA != "" {
		return e.headerUA, nil
	}
	return "", ErrUnavailable
}

func (e reportEnv) Platform() (string, error) {
	if e.report.Platform == nil {
		return "", ErrUnavailable
	}
	return *e.report.Platform, nil
}

func (e reportEnv) Screen() (signal.Screen, error) {
	if e.report.Screen == nil {
		return signal.Screen{}, ErrUnavailable
	}
	s := *e.report.Screen
	if e.report.DevicePixelRatio != nil && s.DevicePixelRatio == 0 {
		s.DevicePixelRatio = *e.report.DevicePixelRatio
	}
	return s, nil
}

// Directives records suppression steps as instructions for a remote page
// to carry out, in the order they were issued.
type Directives struct {
	steps []string
}

func (d *Directives) ClearStorage(kind StorageKind) error {
	d.steps = append(d.steps, StepClearStorage+":"+string(kind))
	return nil
}

func (d *Directives) ClearDocument() error {
	d.steps = append(d.steps, StepClearDocument)
	return nil
}

func (d *Directives) StopLoading() error {
	d.steps = append(d.steps, StepStopLoading)
	return nil
}

func (d *Directives) CancelPending() error {
	d.steps = append(d.steps, StepCancelPending)
	return nil
}

// List returns the recorded directives.
func (d *Directives) List() []string {
	out := make([]string, len(d.steps))
	copy(out, d.steps)
	return out
}
