package session

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseConfigOverlaysDefaults(t *testing.T) {
	r := require.New(t)

	yamlConfig := `
portbegin: 6000
portend: 6010
pexenabled: false
`
	c, err := parseConfig(strings.NewReader(yamlConfig))
	r.NoError(err)

	r.EqualValues(6000, c.PortBegin)
	r.EqualValues(6010, c.PortEnd)
	r.False(c.PEXEnabled)

	// Fields the YAML didn't mention keep DefaultConfig's values.
	r.Equal(DefaultConfig.MaxOpenFiles, c.MaxOpenFiles)
	r.Equal(DefaultConfig.PeerConnectTimeout, c.PeerConnectTimeout)
	r.Equal(5*time.Second, c.PeerConnectTimeout)
}

func TestParseConfigEmpty(t *testing.T) {
	r := require.New(t)
	c, err := parseConfig(strings.NewReader(""))
	r.NoError(err)
	r.Equal(DefaultConfig, c)
}

func TestParseConfigInvalid(t *testing.T) {
	_, err := parseConfig(strings.NewReader("not: [valid"))
	require.Error(t, err)
}
