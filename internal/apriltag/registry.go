package apriltag

import "strconv"

// RegistryConfig is the startup configuration of the tag registry. The
// TagIDs, TagFrames and TagSizes slices are parallel: entry i of each
// describes the same physical marker.
type RegistryConfig struct {
	Family          string
	DefaultEdgeSize float64
	TagIDs          []int
	TagFrames       []string
	TagSizes        []float64

	// Initial values of the live-tunable flags.
	MaxHamming int
	Profile    bool
	ZUp        bool
	Enabled    bool
}

// TagRegistry maps marker identity to tracking policy: which ids to track,
// the coordinate frame name and the physical edge size of each, plus the
// live-tunable pipeline flags. The lookup tables are read-only after
// construction; the flag fields and detector knobs are mutated only by the
// owning Pipeline while it holds its configuration lock.
type TagRegistry struct {
	family          string
	defaultEdgeSize float64
	frameNames      map[int]string
	tagSizes        map[int]float64

	// Guarded by Pipeline.mu.
	maxHamming int
	profile    bool
	zUp        bool
	enabled    bool
}

// NewTagRegistry builds a registry from startup configuration. A non-empty
// frame-name or size list whose length disagrees with the id list is a
// configuration error: the caller must abort startup rather than run with
// silently truncated tracking policy.
func NewTagRegistry(cfg RegistryConfig) (*TagRegistry, error) {
	if cfg.DefaultEdgeSize == 0 {
		cfg.DefaultEdgeSize = 1.0
	}
	if cfg.Family == "" {
		cfg.Family = "36h11"
	}

	r := &TagRegistry{
		family:          cfg.Family,
		defaultEdgeSize: cfg.DefaultEdgeSize,
		frameNames:      make(map[int]string),
		tagSizes:        make(map[int]float64),
		maxHamming:      cfg.MaxHamming,
		profile:         cfg.Profile,
		zUp:             cfg.ZUp,
		enabled:         cfg.Enabled,
	}

	if len(cfg.TagFrames) > 0 {
		if len(cfg.TagIDs) != len(cfg.TagFrames) {
			return nil, &ConfigMismatchError{Field: "frames", IDs: len(cfg.TagIDs), Got: len(cfg.TagFrames)}
		}
		for i, id := range cfg.TagIDs {
			r.frameNames[id] = cfg.TagFrames[i]
		}
	}

	if len(cfg.TagSizes) > 0 {
		if len(cfg.TagIDs) != len(cfg.TagSizes) {
			return nil, &ConfigMismatchError{Field: "sizes", IDs: len(cfg.TagIDs), Got: len(cfg.TagSizes)}
		}
		for i, id := range cfg.TagIDs {
			r.tagSizes[id] = cfg.TagSizes[i]
		}
	}

	return r, nil
}

// Family returns the active marker family name.
func (r *TagRegistry) Family() string { return r.family }

// ShouldTrack reports whether detections of id are kept. An empty
// frame-name table means every id is tracked.
func (r *TagRegistry) ShouldTrack(id int) bool {
	if len(r.frameNames) == 0 {
		return true
	}
	_, ok := r.frameNames[id]
	return ok
}

// LookupFrameName returns the configured frame name for id, or the generic
// "family:id" name when no override exists.
func (r *TagRegistry) LookupFrameName(id int, family string) string {
	if name, ok := r.frameNames[id]; ok {
		return name
	}
	return family + ":" + strconv.Itoa(id)
}

// LookupSize returns the physical edge size for id, falling back to the
// default edge size when the id has no override.
func (r *TagRegistry) LookupSize(id int) float64 {
	if size, ok := r.tagSizes[id]; ok {
		return size
	}
	return r.defaultEdgeSize
}

// Flags is the per-frame snapshot of the live-tunable pipeline switches.
// The pipeline takes one snapshot before each frame so a whole frame is
// filtered under a single consistent view.
type Flags struct {
	MaxHamming int
	Profile    bool
	ZUp        bool
	Enabled    bool
}

// flags returns the current flag values. Caller must hold Pipeline.mu.
func (r *TagRegistry) flags() Flags {
	return Flags{
		MaxHamming: r.maxHamming,
		Profile:    r.profile,
		ZUp:        r.zUp,
		Enabled:    r.enabled,
	}
}
