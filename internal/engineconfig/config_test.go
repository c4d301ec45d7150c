package engineconfig

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	opts, err := Load(nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultOptions, *opts)
}

func TestLoadAppliesOverrides(t *testing.T) {
	opts, err := Load(func(o *Options) {
		o.DataDir = "/tmp/kvcache-test"
		o.Mode = "file"
	})
	require.NoError(t, err)
	assert.Equal(t, "/tmp/kvcache-test", opts.DataDir)
	assert.Equal(t, "file", opts.Mode)
}

func TestLoadRejectsUnknownMode(t *testing.T) {
	_, err := Load(func(o *Options) { o.Mode = "bogus" })
	require.Error(t, err)
}

func TestLoadRejectsEmptyDataDir(t *testing.T) {
	_, err := Load(func(o *Options) { o.DataDir = "" })
	require.Error(t, err)
}

func TestLoadRejectsParentTraversal(t *testing.T) {
	_, err := Load(func(o *Options) { o.DataDir = "/var/lib/../../etc" })
	require.Error(t, err)
}

func TestLoadRejectsRootDir(t *testing.T) {
	_, err := Load(func(o *Options) { o.DataDir = "/" })
	require.Error(t, err)
}

func TestLoadRejectsTooLongDataDir(t *testing.T) {
	_, err := Load(func(o *Options) {
		o.DataDir = "/" + strings.Repeat("a", platformPathMax)
	})
	require.Error(t, err)
}

func TestLoadRejectsNonPositiveBatchSizes(t *testing.T) {
	_, err := Load(func(o *Options) { o.EvictionBatchSize = 0 })
	require.Error(t, err)

	_, err = Load(func(o *Options) { o.ProgressBatchSize = -1 })
	require.Error(t, err)
}

func TestLoadAcceptsAllModes(t *testing.T) {
	for _, m := range []string{"file", "sql", "mix"} {
		_, err := Load(func(o *Options) { o.Mode = m })
		require.NoError(t, err, "mode %q should be valid", m)
	}
}
