package apriltag

import (
	"fmt"
	"sort"
	"strings"

	"github.com/banshee-data/tagpose/internal/camera"
)

// DetectorParams are the live-tunable knobs of a detector backend.
type DetectorParams struct {
	Threads     int     `json:"threads"`
	Decimate    float64 `json:"decimate"`
	Blur        float64 `json:"blur"`
	RefineEdges bool    `json:"refine_edges"`
	Sharpening  float64 `json:"sharpening"`
	Debug       bool    `json:"debug"`
}

// DefaultDetectorParams mirrors the stock tuning of the reference detector
// implementation.
func DefaultDetectorParams() DetectorParams {
	return DetectorParams{
		Threads:     1,
		Decimate:    2.0,
		Blur:        0.0,
		RefineEdges: true,
		Sharpening:  0.25,
		Debug:       false,
	}
}

// Detector decodes markers from a monochrome frame. Implementations own
// whatever native or scripted state backs them; Detect and ApplyParams are
// serialised by the owning Pipeline's configuration lock, so they do not
// need to be individually thread-safe. Detect after Close returns
// ErrDetectorClosed.
type Detector interface {
	Detect(frame *camera.Frame) ([]RawDetection, error)
	ApplyParams(p DetectorParams)
	TimingProfile() []PhaseTiming
	Close() error
}

// Family describes one supported marker layout: the number of payload bits
// in the grid, the guaranteed code distance and the number of distinct
// codes the layout encodes.
type Family struct {
	Name       string
	Bits       int
	MinHamming int
	Codes      int
}

// Supported marker families. The set is closed: adding a layout means
// adding its code table to the detector backend, not just a name here.
var families = map[string]Family{
	"36h11":         {Name: "36h11", Bits: 36, MinHamming: 11, Codes: 587},
	"25h9":          {Name: "25h9", Bits: 25, MinHamming: 9, Codes: 35},
	"16h5":          {Name: "16h5", Bits: 16, MinHamming: 5, Codes: 30},
	"Circle21h7":    {Name: "Circle21h7", Bits: 21, MinHamming: 7, Codes: 38},
	"Standard41h12": {Name: "Standard41h12", Bits: 41, MinHamming: 12, Codes: 2115},
}

// LookupFamily resolves a family name against the supported set. Unknown
// names are a fatal startup error naming the supported layouts.
func LookupFamily(name string) (Family, error) {
	f, ok := families[name]
	if !ok {
		return Family{}, fmt.Errorf("unsupported tag family %q (supported: %s)",
			name, strings.Join(FamilyNames(), ", "))
	}
	return f, nil
}

// FamilyNames returns the supported family names in sorted order.
func FamilyNames() []string {
	names := make([]string, 0, len(families))
	for name := range families {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
