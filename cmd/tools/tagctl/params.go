package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/banshee-data/tagpose/internal/apriltag"
)

// settableParam is one live-tunable key the daemon accepts. The assign
// hook parses the raw value into the matching ParamUpdate field.
type settableParam struct {
	key    string
	kind   string
	help   string
	assign func(u *apriltag.ParamUpdate, raw string) error
}

func assignInt(field func(u *apriltag.ParamUpdate) **int) func(*apriltag.ParamUpdate, string) error {
	return func(u *apriltag.ParamUpdate, raw string) error {
		v, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("expected integer, got %q", raw)
		}
		*field(u) = &v
		return nil
	}
}

func assignFloat(field func(u *apriltag.ParamUpdate) **float64) func(*apriltag.ParamUpdate, string) error {
	return func(u *apriltag.ParamUpdate, raw string) error {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return fmt.Errorf("expected number, got %q", raw)
		}
		*field(u) = &v
		return nil
	}
}

func assignBool(field func(u *apriltag.ParamUpdate) **bool) func(*apriltag.ParamUpdate, string) error {
	return func(u *apriltag.ParamUpdate, raw string) error {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return fmt.Errorf("expected true or false, got %q", raw)
		}
		*field(u) = &v
		return nil
	}
}

// Allow list of parameters the set subcommand accepts. Keys match the
// JSON field names of the params API.
var settableParams = []settableParam{
	{"max_hamming", "int", "Maximum corrected bit errors per decode",
		assignInt(func(u *apriltag.ParamUpdate) **int { return &u.MaxHamming })},
	{"profile", "bool", "Record per-phase detector timing",
		assignBool(func(u *apriltag.ParamUpdate) **bool { return &u.Profile })},
	{"z_up", "bool", "Report poses in a z-up frame",
		assignBool(func(u *apriltag.ParamUpdate) **bool { return &u.ZUp })},
	{"enabled", "bool", "Run detection on incoming frames",
		assignBool(func(u *apriltag.ParamUpdate) **bool { return &u.Enabled })},
	{"threads", "int", "Detector worker threads",
		assignInt(func(u *apriltag.ParamUpdate) **int { return &u.Threads })},
	{"decimate", "float", "Quad detection decimation factor",
		assignFloat(func(u *apriltag.ParamUpdate) **float64 { return &u.Decimate })},
	{"blur", "float", "Gaussian blur sigma applied before detection",
		assignFloat(func(u *apriltag.ParamUpdate) **float64 { return &u.Blur })},
	{"refine_edges", "bool", "Snap quad edges to image gradients",
		assignBool(func(u *apriltag.ParamUpdate) **bool { return &u.RefineEdges })},
	{"sharpening", "float", "Decode sharpening amount",
		assignFloat(func(u *apriltag.ParamUpdate) **float64 { return &u.Sharpening })},
	{"debug", "bool", "Detector debug output",
		assignBool(func(u *apriltag.ParamUpdate) **bool { return &u.Debug })},
}

func lookupSettable(key string) (settableParam, bool) {
	for _, sp := range settableParams {
		if sp.key == key {
			return sp, true
		}
	}
	return settableParam{}, false
}

// parseAssignments turns key=value arguments into one update batch.
// Unknown keys and malformed values reject the whole batch.
func parseAssignments(args []string) (apriltag.ParamUpdate, error) {
	var update apriltag.ParamUpdate

	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		if !ok {
			return apriltag.ParamUpdate{}, fmt.Errorf("malformed argument %q, expected key=value", arg)
		}

		sp, ok := lookupSettable(key)
		if !ok {
			return apriltag.ParamUpdate{}, fmt.Errorf("unknown parameter %q, settable: %s", key, settableParamKeys())
		}
		if err := sp.assign(&update, value); err != nil {
			return apriltag.ParamUpdate{}, fmt.Errorf("parameter %s: %w", key, err)
		}
	}

	return update, nil
}

func settableParamKeys() string {
	keys := make([]string, len(settableParams))
	for i, sp := range settableParams {
		keys[i] = sp.key
	}
	return strings.Join(keys, ", ")
}

func settableParamHelp() string {
	var b strings.Builder
	for _, sp := range settableParams {
		fmt.Fprintf(&b, "  %-14s %-6s %s\n", sp.key, sp.kind, sp.help)
	}
	return b.String()
}
