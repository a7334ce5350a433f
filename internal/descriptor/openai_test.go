package descriptor

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCompiledServerDescriptionSchema(t *testing.T) {
	schema, err := compiledServerDescriptionSchema()
	require.NoError(t, err)
	require.NotNil(t, schema)
}

func TestValidateServerDescriptionAcceptsValid(t *testing.T) {
	raw, err := json.Marshal(ServerDescription{
		Title:        "FS",
		Summary:      "Files",
		Capabilities: []string{"r"},
		Limitations:  []string{"local"},
	})
	require.NoError(t, err)
	require.NoError(t, validateServerDescription(raw))
}

func TestValidateServerDescriptionRejectsMissingFields(t *testing.T) {
	raw := []byte(`{"title": "FS"}`)
	require.Error(t, validateServerDescription(raw))
}
