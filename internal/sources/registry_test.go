package sources

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keltia/fetiche/internal/common"
	"github.com/keltia/fetiche/internal/tokens"
)

func TestRegistryFromDefaults(t *testing.T) {
	cfg := common.DefaultConfig()
	store, err := tokens.NewStore(filepath.Join(t.TempDir(), "tokens"), common.GetLogger())
	require.NoError(t, err)

	reg, err := NewRegistry(cfg, store, common.GetLogger())
	require.NoError(t, err)

	for name := range cfg.Sources {
		_, err := reg.Get(name)
		assert.NoError(t, err, name)
	}

	_, err = reg.Get("nosuch")
	assert.ErrorIs(t, err, ErrUnknownSource)

	// asd declares fetch only
	_, err = reg.FetcherFor("asd")
	assert.NoError(t, err)
	_, err = reg.StreamerFor("asd")
	assert.ErrorIs(t, err, ErrCapabilityMismatch)

	// senhive declares stream only
	_, err = reg.StreamerFor("senhive")
	assert.NoError(t, err)
	_, err = reg.FetcherFor("senhive")
	assert.ErrorIs(t, err, ErrCapabilityMismatch)

	// opensky does both
	_, err = reg.FetcherFor("opensky")
	assert.NoError(t, err)
	_, err = reg.StreamerFor("opensky")
	assert.NoError(t, err)

	assert.Len(t, reg.List(), len(cfg.Sources))
}

func TestRegistryUnknownFormat(t *testing.T) {
	cfg := common.DefaultConfig()
	cfg.Sources["weird"] = cfg.Sources["opensky"]
	bad := *cfg.Sources["opensky"]
	bad.Format = "sbs1"
	cfg.Sources["weird"] = &bad

	_, err := NewRegistry(cfg, nil, common.GetLogger())
	assert.Error(t, err)
}
