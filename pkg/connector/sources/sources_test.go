package sources

import (
	"testing"

	"github.com/ajitpratap0/finlake/pkg/connector/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllSourcesRegistered(t *testing.T) {
	assert.Equal(t, Names, registry.ListSources())

	for _, name := range Names {
		info, err := registry.GetConnectorInfo(name)
		require.NoError(t, err, name)
		assert.NotEmpty(t, info.Datasets, name)
		for _, d := range info.Datasets {
			assert.NotEmpty(t, d.Domain, "%s/%s", name, d.Name)
		}
	}
}
