package engine

import "fmt"

// Mode is the storage mode fixed at Engine construction time (spec.md
// §4.3). Modeled as a tagged variant dispatched via a small switch per
// operation, per spec.md §9's design note, rather than a class hierarchy.
type Mode int

const (
	// ModeFile stores every entry's bytes in a Blob File; inline_data is
	// always empty.
	ModeFile Mode = iota
	// ModeSQL stores every entry's bytes inline; no Blob Files are ever
	// created.
	ModeSQL
	// ModeMix chooses per-write: inline if the caller passes no file name,
	// external if it does.
	ModeMix
)

func (m Mode) String() string {
	switch m {
	case ModeFile:
		return "file"
	case ModeSQL:
		return "sql"
	case ModeMix:
		return "mix"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ParseMode parses a mode name as used by engineconfig ("file", "sql",
// "mix"), case-sensitively, matching the lowercase strings the validator's
// oneof=file sql mix tag checks.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "file":
		return ModeFile, nil
	case "sql":
		return ModeSQL, nil
	case "mix":
		return ModeMix, nil
	default:
		return 0, fmt.Errorf("engine: unknown mode %q", s)
	}
}
