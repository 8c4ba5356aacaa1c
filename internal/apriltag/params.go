package apriltag

// Params is the full live-tunable parameter set - the registry flags plus
// the detector knobs - as served and accepted by the tuning API.
type Params struct {
	MaxHamming  int     `json:"max_hamming"`
	Profile     bool    `json:"profile"`
	ZUp         bool    `json:"z_up"`
	Enabled     bool    `json:"enabled"`
	Threads     int     `json:"threads"`
	Decimate    float64 `json:"decimate"`
	Blur        float64 `json:"blur"`
	RefineEdges bool    `json:"refine_edges"`
	Sharpening  float64 `json:"sharpening"`
	Debug       bool    `json:"debug"`
}

// ParamUpdate is one tuning batch. Nil fields are left unchanged; the
// whole batch is applied atomically with respect to in-flight detection.
// Unknown JSON fields are accepted and ignored.
type ParamUpdate struct {
	MaxHamming  *int     `json:"max_hamming,omitempty"`
	Profile     *bool    `json:"profile,omitempty"`
	ZUp         *bool    `json:"z_up,omitempty"`
	Enabled     *bool    `json:"enabled,omitempty"`
	Threads     *int     `json:"threads,omitempty"`
	Decimate    *float64 `json:"decimate,omitempty"`
	Blur        *float64 `json:"blur,omitempty"`
	RefineEdges *bool    `json:"refine_edges,omitempty"`
	Sharpening  *float64 `json:"sharpening,omitempty"`
	Debug       *bool    `json:"debug,omitempty"`
}
