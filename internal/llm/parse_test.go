package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opickel/social-recipes/internal/domain"
)

func TestParseRecipeJSON(t *testing.T) {
	raw := "```json\n" + `{
		"name": "One-Pot Creamy Pasta",
		"description": "A quick weeknight pasta.",
		"ingredients": [
			{"quantity": 500, "unit": "g", "food": "spaghetti", "note": "", "original_text": "500g spaghetti"},
			{"quantity": "2", "unit": "cloves", "food": "garlic", "note": "minced", "original_text": "2 cloves garlic, minced"},
			{"quantity": "500", "unit": "g", "food": "Spaghetti", "note": "", "original_text": "500 g spaghetti"}
		],
		"instructions": ["Boil the pasta.", "  ", "Add the garlic."],
		"yield": "4 servings",
		"servings": 4,
		"prep_time": "PT10M",
		"cook_time": "PT20M",
		"total_time": "PT30M",
		"nutrition": {"calories": 520, "protein": "18g"}
	}` + "\n```"

	doc, err := ParseRecipeJSON(raw)
	require.NoError(t, err)

	assert.Equal(t, "One-Pot Creamy Pasta", doc.Name)
	require.Len(t, doc.Ingredients, 2, "duplicate spaghetti entry should collapse")
	assert.Equal(t, "500", doc.Ingredients[0].Quantity)
	assert.Equal(t, "spaghetti", doc.Ingredients[0].Food)
	assert.Equal(t, []string{"Boil the pasta.", "Add the garlic."}, doc.Instructions)
	assert.Equal(t, "4 servings", doc.Yield)
	assert.Equal(t, 4, doc.Servings)
	assert.Equal(t, "520", doc.Nutrition.Calories)
	assert.Equal(t, "18g", doc.Nutrition.Protein)
}

func TestParseRecipeJSONObjectSteps(t *testing.T) {
	raw := `{
		"name": "Toast",
		"ingredients": [{"food": "bread", "original_text": "bread"}],
		"instructions": [{"text": "Toast the bread."}, {"step": "Butter it."}]
	}`

	doc, err := ParseRecipeJSON(raw)
	require.NoError(t, err)
	assert.Equal(t, []string{"Toast the bread.", "Butter it."}, doc.Instructions)
}

func TestParseRecipeJSONRejectsEmpty(t *testing.T) {
	_, err := ParseRecipeJSON("")
	require.Error(t, err)

	_, err = ParseRecipeJSON(`{"name": "", "ingredients": [], "instructions": []}`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no recipe")

	_, err = ParseRecipeJSON("I could not find a recipe in this video.")
	require.Error(t, err)
}

func TestStripCodeFences(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "no fence", in: `{"a":1}`, want: `{"a":1}`},
		{name: "fence with tag", in: "```json\n{\"a\":1}\n```", want: `{"a":1}`},
		{name: "fence without tag", in: "```\n{\"a\":1}\n```", want: `{"a":1}`},
		{name: "fence body on first line", in: "```{\"a\":1}\n```", want: `{"a":1}`},
		{name: "surrounding whitespace", in: "  ```json\n{\"a\":1}\n```  ", want: `{"a":1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StripCodeFences(tt.in))
		})
	}
}

func TestDedupeIngredients(t *testing.T) {
	in := []domain.Ingredient{
		{Quantity: "2", Unit: "tbsp", Food: "olive oil"},
		{Quantity: "2", Unit: "tbsp", Food: "Olive Oil"},
		{Quantity: "1", Unit: "tbsp", Food: "olive oil"},
		{Food: "", OriginalText: ""},
		{Food: "salt"},
	}

	out := DedupeIngredients(in)
	require.Len(t, out, 3)
	assert.Equal(t, "olive oil", out[0].Food)
	assert.Equal(t, "1", out[1].Quantity)
	assert.Equal(t, "salt", out[2].Food)
}

func TestParseFrameIndex(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		count   int
		want    int
		wantErr bool
	}{
		{name: "bare number", raw: "7", count: 9, want: 6},
		{name: "with label", raw: "Frame 3", count: 9, want: 2},
		{name: "with period", raw: "5.", count: 9, want: 4},
		{name: "sentence", raw: "The best frame is number 9, it shows the plated dish.", count: 9, want: 8},
		{name: "out of range", raw: "12", count: 9, wantErr: true},
		{name: "zero", raw: "0", count: 9, wantErr: true},
		{name: "no number", raw: "the last one", count: 9, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseFrameIndex(tt.raw, tt.count)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseEnrichmentJSON(t *testing.T) {
	raw := "```json\n" + `{"yield": "2 servings", "servings": 2, "nutrition": {"calories": "610"}}` + "\n```"
	e, err := ParseEnrichmentJSON(raw)
	require.NoError(t, err)
	assert.Equal(t, "2 servings", e.Yield)
	assert.Equal(t, 2, e.Servings)
	assert.Equal(t, "610", e.Nutrition.Calories)
}

func TestIsNoTextReply(t *testing.T) {
	assert.True(t, isNoTextReply("NO TEXT"))
	assert.True(t, isNoTextReply("  no text.  "))
	assert.False(t, isNoTextReply("500g flour"))
}
