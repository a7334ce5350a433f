package descriptor

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDescriptionTextTemplate(t *testing.T) {
	d := ServerDescription{
		Title:        "FS",
		Summary:      "Files",
		Capabilities: []string{"r", "w"},
		Limitations:  []string{"local"},
	}
	require.Equal(t, "FS\nFiles\nCapabilities: r, w\nLimitations: local", DescriptionText(d))
}

func TestDescriptionTextEmptyLists(t *testing.T) {
	d := ServerDescription{Title: "T", Summary: "S"}
	require.Equal(t, "T\nS\nCapabilities: \nLimitations: ", DescriptionText(d))
}
