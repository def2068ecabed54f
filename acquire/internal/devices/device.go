package devices

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/hazyhaar/vigie/acquire/internal/table"
)

// Header is the canonical device table layout, shared by live and snapshot sources.
var Header = []string{"IP", "City", "Region", "Latitude", "Longitude", "Timestamp", "Org", "Domains"}

// Mode selects the input shape accepted by Normalize.
type Mode int

const (
	// ModeLive expects one search response: {"matches": [banner, ...]}.
	ModeLive Mode = iota
	// ModeSnapshot expects a single banner, one per snapshot line.
	ModeSnapshot
)

func (m Mode) String() string {
	if m == ModeSnapshot {
		return "snapshot"
	}
	return "live"
}

// Device is one normalized banner. Missing fields stay nil.
type Device struct {
	IP        *string
	City      *string
	Region    *string
	Latitude  *float64
	Longitude *float64
	Timestamp *string
	Org       *string
	Domains   []string // nil when absent
}

type location struct {
	City       *string  `json:"city"`
	RegionCode *string  `json:"region_code"`
	Latitude   *float64 `json:"latitude"`
	Longitude  *float64 `json:"longitude"`
}

type banner struct {
	IPStr     *string   `json:"ip_str"`
	Location  *location `json:"location"`
	Timestamp *string   `json:"timestamp"`
	Org       *string   `json:"org"`
	Domains   []string  `json:"domains"`
}

func (b banner) device() Device {
	d := Device{
		IP:        b.IPStr,
		Timestamp: b.Timestamp,
		Org:       b.Org,
		Domains:   b.Domains,
	}
	if b.Location != nil {
		d.City = b.Location.City
		d.Region = b.Location.RegionCode
		d.Latitude = b.Location.Latitude
		d.Longitude = b.Location.Longitude
	}
	return d
}

// Normalize maps raw API output to devices.
//
// In ModeLive a response without a "matches" key yields (nil, nil) so the
// caller can tell it apart from an empty page, which yields an empty
// non-nil slice.
func Normalize(raw []byte, mode Mode) ([]Device, error) {
	switch mode {
	case ModeSnapshot:
		var b banner
		if err := json.Unmarshal(raw, &b); err != nil {
			return nil, fmt.Errorf("devices: decode banner: %w", err)
		}
		return []Device{b.device()}, nil
	case ModeLive:
		var resp struct {
			Matches *[]banner `json:"matches"`
		}
		if err := json.Unmarshal(raw, &resp); err != nil {
			return nil, fmt.Errorf("devices: decode page: %w", err)
		}
		if resp.Matches == nil {
			return nil, nil
		}
		out := make([]Device, 0, len(*resp.Matches))
		for _, b := range *resp.Matches {
			out = append(out, b.device())
		}
		return out, nil
	default:
		return nil, fmt.Errorf("devices: unknown mode %d", mode)
	}
}

// Row renders d in Header order.
func (d Device) Row() []string {
	return []string{
		table.Null(d.IP),
		table.Null(d.City),
		table.Null(d.Region),
		formatFloat(d.Latitude),
		formatFloat(d.Longitude),
		table.Null(d.Timestamp),
		table.Null(d.Org),
		formatDomains(d.Domains),
	}
}

func rows(devs []Device) [][]string {
	out := make([][]string, len(devs))
	for i, d := range devs {
		out[i] = d.Row()
	}
	return out
}

func formatFloat(f *float64) string {
	if f == nil {
		return ""
	}
	return strconv.FormatFloat(*f, 'f', -1, 64)
}

func formatDomains(d []string) string {
	if d == nil {
		return ""
	}
	b, err := json.Marshal(d)
	if err != nil {
		return ""
	}
	return string(b)
}
