package masking

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMaskSecret(t *testing.T) {
	assert.Equal(t, "", MaskSecret(""))
	assert.Equal(t, "", MaskSecret("   "))
	assert.Equal(t, "****", MaskSecret("abcd"))
	assert.Equal(t, "****7890", MaskSecret("1234567890"))
	// A prefixed identifier keeps its prefix for auditability.
	assert.Equal(t, "sk_live_****3456", MaskSecret("sk_live_abcdef123456"))
}

func TestMaskJSON(t *testing.T) {
	assert.Nil(t, MaskJSON(nil))
	assert.Nil(t, MaskJSON(map[string]any{}))
	assert.Nil(t, MaskJSON(map[string]any{"  ": "ignored"}))

	masked := MaskJSON(map[string]any{
		"order_id": "1234567890",
		"amount":   int64(100),
		"nested":   map[string]any{"card_token": "tok_abcdef123456"},
		"list":     []any{"1234567890", 7},
	})

	assert.Equal(t, "****7890", masked["order_id"])
	assert.Equal(t, int64(100), masked["amount"])

	nested := masked["nested"].(map[string]any)
	assert.Equal(t, "tok_****3456", nested["card_token"])

	list := masked["list"].([]any)
	assert.Equal(t, "****7890", list[0])
	assert.Equal(t, 7, list[1])
}
