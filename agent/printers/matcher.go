package printers

import (
	"context"
	"net/url"
	"regexp"
	"sort"
	"strings"

	"github.com/tzi-shue/print-service-deploy/agent/spooler"
)

const (
	maxSuggestions  = 10
	brandOnlyBefore = 5
	fullModelScore  = 100
	tokenScore      = 30
	vendorScore     = 10
)

var (
	usbURIPattern   = regexp.MustCompile(`^usb://([^/]+)/([^?]+)`)
	modelSeparators = regexp.MustCompile(`[-_\s]+`)
	nonAlnum        = regexp.MustCompile(`[^A-Za-z0-9]`)
)

// UsbDevice is a USB printer reported by the device listing.
type UsbDevice struct {
	URI   string `json:"uri"`
	Brand string `json:"brand"`
	Model string `json:"model"`
}

// DetectResult lists attached USB printers and driver suggestions for the
// first of them.
type DetectResult struct {
	Devices []UsbDevice       `json:"usb_devices"`
	Drivers []DriverCandidate `json:"drivers"`
}

// Matcher suggests drivers for attached USB printers.
type Matcher struct {
	sub    spooler.Subsystem
	logger Logger
}

// NewMatcher creates a Matcher.
func NewMatcher(sub spooler.Subsystem, logger Logger) *Matcher {
	if logger == nil {
		logger = nullLogger{}
	}
	return &Matcher{sub: sub, logger: logger}
}

// Detect lists USB devices and ranks the driver catalog against the first.
// The generic drivers are always appended.
func (m *Matcher) Detect(ctx context.Context) DetectResult {
	res := DetectResult{Devices: []UsbDevice{}, Drivers: []DriverCandidate{}}

	devices, err := m.sub.ListDevices(ctx)
	if err != nil {
		m.logger.Warn("Device listing failed", "error", err)
	}
	for _, d := range devices {
		if dev, ok := ParseUsbURI(d.URI); ok {
			res.Devices = append(res.Devices, dev)
		}
	}
	m.logger.Info("USB devices detected", "count", len(res.Devices))

	if len(res.Devices) > 0 {
		first := res.Devices[0]
		models, err := m.sub.ListModels(ctx)
		if err != nil {
			m.logger.Warn("Driver catalog listing failed", "error", err)
		}
		res.Drivers = append(res.Drivers, RankDrivers(first.Brand, first.Model, models)...)
	}

	res.Drivers = append(res.Drivers,
		DriverCandidate{PPD: DriverEverywhere, Name: "IPP Everywhere"},
		DriverCandidate{PPD: DriverGenericPostScript, Name: "Generic PostScript Printer"},
		DriverCandidate{PPD: DriverRaw, Name: "Raw Queue (not recommended)"},
	)
	return res
}

// ParseUsbURI splits usb://vendor/model into its decoded parts.
func ParseUsbURI(uri string) (UsbDevice, bool) {
	uri = strings.TrimSpace(uri)
	m := usbURIPattern.FindStringSubmatch(uri)
	if m == nil {
		return UsbDevice{}, false
	}
	return UsbDevice{URI: uri, Brand: unescape(m[1]), Model: unescape(m[2])}, true
}

func unescape(s string) string {
	if v, err := url.QueryUnescape(s); err == nil {
		return v
	}
	return s
}

// ScoreDriver rates one catalog entry for brand and model.
func ScoreDriver(brand, model string, entry spooler.Model) int {
	name := strings.ToLower(entry.Name)
	ppd := strings.ToLower(entry.PPD)
	contains := func(needle string) bool {
		needle = strings.ToLower(needle)
		return strings.Contains(name, needle) || strings.Contains(ppd, needle)
	}

	score := 0
	if clean := nonAlnum.ReplaceAllString(model, ""); clean != "" && contains(clean) {
		score = fullModelScore
	} else {
		for _, part := range modelSeparators.Split(model, -1) {
			part = nonAlnum.ReplaceAllString(part, "")
			if len(part) >= 2 && contains(part) {
				score += tokenScore
			}
		}
	}
	if brand != "" && strings.Contains(name, strings.ToLower(brand)) {
		score += vendorScore
	}
	return score
}

// RankDrivers filters the catalog by brand and returns the best matches:
// up to ten scored matches marked with a star, then brand-only entries
// while fewer than five matches were found.
func RankDrivers(brand, model string, catalog []spooler.Model) []DriverCandidate {
	brandLower := strings.ToLower(brand)
	var matched, brandOnly []DriverCandidate
	for _, entry := range catalog {
		line := strings.ToLower(entry.PPD + " " + entry.Name)
		if brandLower != "" && !strings.Contains(line, brandLower) {
			continue
		}
		score := ScoreDriver(brand, model, entry)
		switch {
		case score >= tokenScore:
			matched = append(matched, DriverCandidate{PPD: entry.PPD, Name: entry.Name, Score: score})
		case score >= vendorScore:
			brandOnly = append(brandOnly, DriverCandidate{PPD: entry.PPD, Name: entry.Name, Score: score})
		}
	}

	byScore := func(s []DriverCandidate) {
		sort.SliceStable(s, func(i, j int) bool { return s[i].Score > s[j].Score })
	}
	byScore(matched)
	byScore(brandOnly)

	out := make([]DriverCandidate, 0, maxSuggestions)
	for _, d := range matched {
		if len(out) >= maxSuggestions {
			break
		}
		d.Name += " ★"
		out = append(out, d)
	}
	if len(out) < brandOnlyBefore {
		for _, d := range brandOnly {
			if len(out) >= maxSuggestions {
				break
			}
			out = append(out, d)
		}
	}
	return out
}
