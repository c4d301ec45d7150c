// Package engineconfig validates the options an Engine and its supporting
// stores are constructed with (spec.md §2 ambient stack expansion).
// Grounded on internal/config/config.go from the teacher repo: koanf's
// structs provider supplies defaults, go-playground/validator checks them,
// and one domain-specific validation rule ("custom_path") is registered the
// same way the teacher registers "ip_port" and "custom_path". Unlike the
// teacher, no env provider is loaded: the engine itself consumes no
// environment variables (spec.md §6), so callers build an Options value in
// code and only the structs-provider defaults pass through koanf.
package engineconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// platformPathMax is PATH_MAX on the Linux/Unix targets this engine ships
// for. Go's syscall package does not export it portably, so it is pinned
// here the way the teacher pins its own fixed constants (e.g. SQLiteDSN's
// busy_timeout).
const platformPathMax = 4096

// pathMaxReserve mirrors the teacher's habit of leaving headroom below the
// platform PATH_MAX for file names the engine generates under DataDir
// (UUID trash subtrees, manifest journal suffixes).
const pathMaxReserve = 64

// Options holds the tunables an Engine and its File Store / Index are
// constructed from (spec.md §4, §5).
type Options struct {
	DataDir string `koanf:"data_dir" validate:"required,custom_path"`
	Mode    string `koanf:"mode" validate:"required,oneof=file sql mix"`

	EvictionBatchSize int `koanf:"eviction_batch_size" validate:"required,gt=0"`
	ProgressBatchSize int `koanf:"progress_batch_size" validate:"required,gt=0"`

	ErrorLogsEnabled bool `koanf:"error_logs_enabled"`
}

// DefaultOptions mirrors the teacher's DefaultAppConfig pattern: a package
// level value the structs provider loads as defaults.
var DefaultOptions = Options{
	DataDir:           "/var/lib/kvcache",
	Mode:              "mix",
	EvictionBatchSize: 16,
	ProgressBatchSize: 32,
	ErrorLogsEnabled:  true,
}

// defaultLoader loads DefaultOptions into k using the structs provider.
// A package variable (rather than an inline call) so it can be swapped out
// in tests, per the teacher's own defaultLoader/envLoader pattern.
var defaultLoader = func(k *koanf.Koanf) error {
	return k.Load(structs.Provider(DefaultOptions, "koanf"), nil)
}

// validCustomPath rejects empty paths, ".", the root directory, upward
// traversal, and paths too long to leave room for the engine's own
// generated suffixes (PATH_MAX - pathMaxReserve). Grounded on the
// teacher's validDirNotExists, extended with the length bound spec.md §4.1
// implies but never states explicitly.
func validCustomPath(fl validator.FieldLevel) bool {
	raw := fl.Field().String()
	if raw == "" {
		return false
	}
	cleaned := filepath.Clean(raw)
	if cleaned == "." || cleaned == string(os.PathSeparator) {
		return false
	}
	for _, part := range strings.Split(raw, string(os.PathSeparator)) {
		if part == ".." {
			return false
		}
	}
	limit := platformPathMax - pathMaxReserve
	return len(cleaned) <= limit
}

// registerValidators registers engineconfig's custom validation rules,
// mirroring the teacher's registerValidators.
func registerValidators(v *validator.Validate) error {
	return v.RegisterValidation("custom_path", validCustomPath)
}

// Load builds an Options value from DefaultOptions overridden by the given
// overrides function (if non-nil), then validates it.
func Load(overrides func(*Options)) (*Options, error) {
	k := koanf.New(".")
	if err := defaultLoader(k); err != nil {
		return nil, fmt.Errorf("engineconfig: load defaults: %w", err)
	}

	var opts Options
	if err := k.Unmarshal("", &opts); err != nil {
		return nil, fmt.Errorf("engineconfig: unmarshal: %w", err)
	}

	if overrides != nil {
		overrides(&opts)
	}

	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := registerValidators(validate); err != nil {
		return nil, fmt.Errorf("engineconfig: register validators: %w", err)
	}
	if err := validate.Struct(&opts); err != nil {
		return nil, fmt.Errorf("engineconfig: %w", err)
	}

	return &opts, nil
}
