package labels

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAddStandardLabels(t *testing.T) {
	t.Parallel()

	labels := map[string]string{"custom": "kept"}
	AddStandardLabels(labels, "id-123", "alpha")

	assert.Equal(t, "mcp-server", labels[LabelType])
	assert.Equal(t, "id-123", labels[LabelServerID])
	assert.Equal(t, "alpha", labels[LabelServerName])
	assert.Equal(t, "kept", labels["custom"])
}

func TestAddStandardLabelsOverridesUserValues(t *testing.T) {
	t.Parallel()

	labels := map[string]string{LabelType: "something-else"}
	AddStandardLabels(labels, "id-123", "alpha")

	assert.Equal(t, "mcp-server", labels[LabelType])
}

func TestIsMCPContainer(t *testing.T) {
	t.Parallel()

	assert.True(t, IsMCPContainer(map[string]string{LabelType: LabelTypeValue}))
	assert.False(t, IsMCPContainer(map[string]string{LabelType: "other"}))
	assert.False(t, IsMCPContainer(map[string]string{}))
}

func TestFormatMCPFilter(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "com.langconnect.type=mcp-server", FormatMCPFilter())
}

func TestGetters(t *testing.T) {
	t.Parallel()

	labels := map[string]string{
		LabelServerID:   "id-123",
		LabelServerName: "alpha",
	}
	assert.Equal(t, "id-123", GetServerID(labels))
	assert.Equal(t, "alpha", GetServerName(labels))
	assert.Empty(t, GetServerID(map[string]string{}))
}

func TestNetworkLabels(t *testing.T) {
	t.Parallel()

	labels := NetworkLabels()
	assert.Equal(t, "langconnect", labels[NetworkLabelApp])
	assert.Equal(t, "mcp", labels[NetworkLabelComponent])
}
