package negotiation

import (
	"encoding/json"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// assertStrictObjects checks that every object in schema requires all of its
// properties and rejects extra keys.
func assertStrictObjects(t *testing.T, path string, schema map[string]any) {
	t.Helper()

	if props, ok := schema["properties"].(map[string]any); ok {
		keys := make([]string, 0, len(props))
		for k := range props {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		var required []string
		for _, v := range schema["required"].([]any) {
			required = append(required, v.(string))
		}
		sort.Strings(required)

		assert.Equal(t, keys, required, path)
		assert.Equal(t, false, schema["additionalProperties"], path)

		for k, v := range props {
			if child, ok := v.(map[string]any); ok {
				assertStrictObjects(t, path+"."+k, child)
			}
		}
	}
	if items, ok := schema["items"].(map[string]any); ok {
		assertStrictObjects(t, path+"[]", items)
	}
}

func TestSummarySchemaIsStrict(t *testing.T) {
	var schema map[string]any
	require.NoError(t, json.Unmarshal(SummarySchema(), &schema))

	assertStrictObjects(t, "$", schema)

	items := schema["properties"].(map[string]any)["events"].(map[string]any)["items"].(map[string]any)
	assert.Len(t, items["required"], 4)
}

func TestSystemPromptOverride(t *testing.T) {
	assert.Equal(t, "custom", SystemPrompt("custom"))

	def := SystemPrompt("  ")
	assert.Contains(t, def, DefaultInstructions)
	for _, s := range States {
		assert.Contains(t, def, s)
	}
	for _, o := range Outcomes {
		assert.Contains(t, def, o)
	}
}
