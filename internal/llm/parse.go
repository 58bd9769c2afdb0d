package llm

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/opickel/social-recipes/internal/domain"
)

// flexString unmarshals from a JSON string or number. Models are
// inconsistent about quoting quantities.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "null" {
		*f = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err == nil {
		*f = flexString(n.String())
		return nil
	}
	return fmt.Errorf("value %s is neither string nor number", trimmed)
}

// flexSteps unmarshals instructions from an array of strings, an array
// of {"text": ...} objects, or one newline-separated string.
type flexSteps []string

func (f *flexSteps) UnmarshalJSON(data []byte) error {
	var asStrings []string
	if err := json.Unmarshal(data, &asStrings); err == nil {
		*f = cleanSteps(asStrings)
		return nil
	}

	var asObjects []struct {
		Text string `json:"text"`
		Step string `json:"step"`
	}
	if err := json.Unmarshal(data, &asObjects); err == nil {
		steps := make([]string, 0, len(asObjects))
		for _, o := range asObjects {
			if o.Text != "" {
				steps = append(steps, o.Text)
			} else {
				steps = append(steps, o.Step)
			}
		}
		*f = cleanSteps(steps)
		return nil
	}

	var asOne string
	if err := json.Unmarshal(data, &asOne); err == nil {
		*f = cleanSteps(strings.Split(asOne, "\n"))
		return nil
	}

	return fmt.Errorf("instructions are neither a string array nor an object array")
}

func cleanSteps(raw []string) []string {
	var steps []string
	for _, s := range raw {
		s = strings.TrimSpace(s)
		if s != "" {
			steps = append(steps, s)
		}
	}
	return steps
}

type ingredientJSON struct {
	Quantity     flexString `json:"quantity"`
	Unit         string     `json:"unit"`
	Food         string     `json:"food"`
	Note         string     `json:"note"`
	OriginalText string     `json:"original_text"`
}

type nutritionJSON struct {
	Calories      flexString `json:"calories"`
	Fat           flexString `json:"fat"`
	Carbohydrates flexString `json:"carbohydrates"`
	Sugar         flexString `json:"sugar"`
	Fiber         flexString `json:"fiber"`
	Protein       flexString `json:"protein"`
	Sodium        flexString `json:"sodium"`
	Cholesterol   flexString `json:"cholesterol"`
}

func (n nutritionJSON) toDomain() domain.Nutrition {
	return domain.Nutrition{
		Calories:      string(n.Calories),
		Fat:           string(n.Fat),
		Carbohydrates: string(n.Carbohydrates),
		Sugar:         string(n.Sugar),
		Fiber:         string(n.Fiber),
		Protein:       string(n.Protein),
		Sodium:        string(n.Sodium),
		Cholesterol:   string(n.Cholesterol),
	}
}

type recipeJSON struct {
	Name         string           `json:"name"`
	Description  string           `json:"description"`
	Ingredients  []ingredientJSON `json:"ingredients"`
	Instructions flexSteps        `json:"instructions"`
	Yield        flexString       `json:"yield"`
	Servings     int              `json:"servings"`
	PrepTime     string           `json:"prep_time"`
	CookTime     string           `json:"cook_time"`
	TotalTime    string           `json:"total_time"`
	Nutrition    nutritionJSON    `json:"nutrition"`
}

// ParseRecipeJSON parses a model response into a recipe document,
// tolerating code fences and the usual schema sloppiness.
func ParseRecipeJSON(raw string) (*domain.RecipeDocument, error) {
	cleaned := StripCodeFences(raw)
	if cleaned == "" {
		return nil, fmt.Errorf("model returned empty response")
	}

	var parsed recipeJSON
	if err := json.Unmarshal([]byte(cleaned), &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse recipe json: %w", err)
	}
	if parsed.Name == "" && len(parsed.Ingredients) == 0 && len(parsed.Instructions) == 0 {
		return nil, fmt.Errorf("model response contains no recipe")
	}

	ingredients := make([]domain.Ingredient, 0, len(parsed.Ingredients))
	for _, ing := range parsed.Ingredients {
		ingredients = append(ingredients, domain.Ingredient{
			Quantity:     strings.TrimSpace(string(ing.Quantity)),
			Unit:         strings.TrimSpace(ing.Unit),
			Food:         strings.TrimSpace(ing.Food),
			Note:         strings.TrimSpace(ing.Note),
			OriginalText: strings.TrimSpace(ing.OriginalText),
		})
	}

	return &domain.RecipeDocument{
		Name:         strings.TrimSpace(parsed.Name),
		Description:  strings.TrimSpace(parsed.Description),
		Ingredients:  DedupeIngredients(ingredients),
		Instructions: parsed.Instructions,
		Yield:        string(parsed.Yield),
		Servings:     parsed.Servings,
		PrepTime:     parsed.PrepTime,
		CookTime:     parsed.CookTime,
		TotalTime:    parsed.TotalTime,
		Nutrition:    parsed.Nutrition.toDomain(),
	}, nil
}

// Enrichment is the yield/nutrition estimate for a recipe.
type Enrichment struct {
	Yield     string
	Servings  int
	Nutrition domain.Nutrition
}

// ParseEnrichmentJSON parses the enrichment response.
func ParseEnrichmentJSON(raw string) (*Enrichment, error) {
	cleaned := StripCodeFences(raw)
	var parsed struct {
		Yield     flexString    `json:"yield"`
		Servings  int           `json:"servings"`
		Nutrition nutritionJSON `json:"nutrition"`
	}
	if err := json.Unmarshal([]byte(cleaned), &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse enrichment json: %w", err)
	}
	return &Enrichment{
		Yield:     string(parsed.Yield),
		Servings:  parsed.Servings,
		Nutrition: parsed.Nutrition.toDomain(),
	}, nil
}

// StripCodeFences removes a surrounding markdown code fence, with or
// without a language tag.
func StripCodeFences(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if idx := strings.Index(s, "\n"); idx >= 0 {
		// Drop the language tag line ("json", "JSON", ...).
		firstLine := strings.TrimSpace(s[:idx])
		if firstLine == "" || !strings.ContainsAny(firstLine, "{}[]") {
			s = s[idx+1:]
		}
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// DedupeIngredients drops repeated ingredient entries. Two entries are
// duplicates when food, quantity, unit and note all match
// case-insensitively.
func DedupeIngredients(ingredients []domain.Ingredient) []domain.Ingredient {
	seen := make(map[string]struct{}, len(ingredients))
	var out []domain.Ingredient
	for _, ing := range ingredients {
		if ing.Food == "" && ing.OriginalText == "" {
			continue
		}
		key := strings.ToLower(strings.Join([]string{ing.Food, ing.Quantity, ing.Unit, ing.Note}, "|"))
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, ing)
	}
	return out
}

// ParseFrameIndex extracts a 1-based frame number from a model reply
// and returns it zero-based.
func ParseFrameIndex(raw string, frameCount int) (int, error) {
	s := strings.TrimSpace(raw)
	// Take the first run of digits; replies like "Frame 7" or "7."
	// are common.
	start := -1
	for i, r := range s {
		if r >= '0' && r <= '9' {
			start = i
			break
		}
	}
	if start < 0 {
		return -1, fmt.Errorf("no frame number in reply %q", raw)
	}
	end := start
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	n, err := strconv.Atoi(s[start:end])
	if err != nil {
		return -1, fmt.Errorf("bad frame number in reply %q: %w", raw, err)
	}
	if n < 1 || n > frameCount {
		return -1, fmt.Errorf("frame number %d out of range 1..%d", n, frameCount)
	}
	return n - 1, nil
}

func isNoTextReply(s string) bool {
	normalized := strings.ToUpper(strings.TrimSpace(strings.Trim(strings.TrimSpace(s), ".!")))
	return normalized == "NO TEXT" || normalized == "NOTEXT"
}

func languageName(code string) string {
	switch strings.ToLower(code) {
	case "", "en":
		return "English"
	case "de":
		return "German"
	case "fr":
		return "French"
	case "es":
		return "Spanish"
	case "it":
		return "Italian"
	case "nl":
		return "Dutch"
	case "pt":
		return "Portuguese"
	default:
		return code
	}
}
