package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newHolder(cfg ToolCostConfig) *ToolCostHolder {
	holder := &ToolCostHolder{}
	holder.current.Store(cfg)
	return holder
}

func TestCostFor(t *testing.T) {
	holder := newHolder(DefaultToolCostConfig())

	cost, ok := holder.CostFor("flashcards")
	require.True(t, ok)
	assert.Equal(t, int64(10), cost)

	// Free tools are known but cost nothing.
	cost, ok = holder.CostFor("trend_radar")
	require.True(t, ok)
	assert.Equal(t, int64(0), cost)

	_, ok = holder.CostFor("no-such-tool")
	assert.False(t, ok)

	_, ok = holder.CostFor("   ")
	assert.False(t, ok)
}

func TestValidateToolCostConfig(t *testing.T) {
	assert.NoError(t, validateToolCostConfig(DefaultToolCostConfig()))

	err := validateToolCostConfig(ToolCostConfig{Tools: []ToolCost{
		{ToolID: "a", Cost: 1},
		{ToolID: "a", Cost: 2},
	}})
	assert.Error(t, err)

	err = validateToolCostConfig(ToolCostConfig{Tools: []ToolCost{
		{ToolID: "a", Cost: -1},
	}})
	assert.Error(t, err)

	err = validateToolCostConfig(ToolCostConfig{Tools: []ToolCost{
		{ToolID: "", Cost: 1},
	}})
	assert.Error(t, err)
}
