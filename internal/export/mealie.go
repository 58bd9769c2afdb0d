package export

import (
	"context"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/opickel/social-recipes/internal/domain"
)

// MealieClient exports recipes to a Mealie instance. Mealie creation is
// two-phase: POST the name to get a slug, then PATCH the full recipe
// onto that slug. Older Mealie versions reject PATCH with 405, so PUT
// is the fallback.
type MealieClient struct {
	client
	logger *slog.Logger
}

// NewMealie creates a Mealie exporter.
func NewMealie(cfg Config, logger *slog.Logger) *MealieClient {
	return &MealieClient{
		client: newClient(cfg),
		logger: logger,
	}
}

// Name implements the exporter name, used in history export targets.
func (m *MealieClient) Name() string { return "mealie" }

type mealieIngredient struct {
	Quantity     *float64 `json:"quantity"`
	Unit         any      `json:"unit"`
	Food         any      `json:"food"`
	Note         string   `json:"note"`
	Display      string   `json:"display"`
	OriginalText string   `json:"originalText"`
}

type mealieInstruction struct {
	Text string `json:"text"`
}

// mealieNutrition carries the subset of fields Mealie's RecipeNutrition
// schema accepts; cholesterol is kept on the document only.
type mealieNutrition struct {
	Calories       string `json:"calories,omitempty"`
	FatContent     string `json:"fatContent,omitempty"`
	Carbohydrate   string `json:"carbohydrateContent,omitempty"`
	SugarContent   string `json:"sugarContent,omitempty"`
	FiberContent   string `json:"fiberContent,omitempty"`
	ProteinContent string `json:"proteinContent,omitempty"`
	SodiumContent  string `json:"sodiumContent,omitempty"`
}

type mealieRecipe struct {
	Name               string              `json:"name"`
	Description        string              `json:"description,omitempty"`
	RecipeIngredient   []mealieIngredient  `json:"recipeIngredient"`
	RecipeInstructions []mealieInstruction `json:"recipeInstructions"`
	RecipeYield        string              `json:"recipeYield,omitempty"`
	PrepTime           string              `json:"prepTime,omitempty"`
	CookTime           string              `json:"cookTime,omitempty"`
	TotalTime          string              `json:"totalTime,omitempty"`
	Nutrition          *mealieNutrition    `json:"nutrition,omitempty"`
	OrgURL             string              `json:"orgURL,omitempty"`
}

// CreateRecipe creates the recipe and returns its slug.
func (m *MealieClient) CreateRecipe(ctx context.Context, doc *domain.RecipeDocument) (string, error) {
	var slug string
	status, err := m.doJSON(ctx, http.MethodPost, "/api/recipes", map[string]string{"name": doc.Name}, &slug)
	if err != nil {
		return "", &domain.UploadError{Target: m.Name(), StatusCode: status, Detail: err.Error()}
	}
	if slug == "" {
		return "", &domain.UploadError{Target: m.Name(), Detail: "create returned no slug"}
	}

	payload := m.buildPayload(doc)
	path := "/api/recipes/" + slug
	status, err = m.doJSON(ctx, http.MethodPatch, path, payload, nil)
	if err != nil && status == http.StatusMethodNotAllowed {
		m.logger.Debug("Mealie rejected PATCH, retrying with PUT", slog.String("slug", slug))
		status, err = m.doJSON(ctx, http.MethodPut, path, payload, nil)
	}
	if err != nil {
		return "", &domain.UploadError{Target: m.Name(), StatusCode: status, Detail: err.Error()}
	}

	m.logger.Info("Recipe uploaded to Mealie", slog.String("slug", slug))
	return slug, nil
}

// UploadImage attaches the dish image to an existing recipe.
func (m *MealieClient) UploadImage(ctx context.Context, slug, imagePath string) error {
	ext := strings.TrimPrefix(filepath.Ext(imagePath), ".")
	if ext == "" {
		ext = "jpg"
	}
	return m.uploadMultipart(ctx, "/api/recipes/"+slug+"/image", "image", imagePath, map[string]string{
		"extension": ext,
	})
}

func (m *MealieClient) buildPayload(doc *domain.RecipeDocument) mealieRecipe {
	ingredients := make([]mealieIngredient, 0, len(doc.Ingredients))
	for _, ing := range doc.Ingredients {
		entry := mealieIngredient{
			Note:         ing.Note,
			Display:      ing.Display(),
			OriginalText: ing.OriginalText,
		}
		if amount, ok := parseAmount(ing.Quantity); ok {
			entry.Quantity = &amount
		}
		if ing.Unit != "" {
			entry.Unit = map[string]string{"name": ing.Unit}
		}
		if ing.Food != "" {
			entry.Food = map[string]string{"name": ing.Food}
		}
		ingredients = append(ingredients, entry)
	}

	instructions := make([]mealieInstruction, 0, len(doc.Instructions))
	for _, step := range doc.Instructions {
		instructions = append(instructions, mealieInstruction{Text: step})
	}

	payload := mealieRecipe{
		Name:               doc.Name,
		Description:        doc.Description,
		RecipeIngredient:   ingredients,
		RecipeInstructions: instructions,
		RecipeYield:        doc.Yield,
		PrepTime:           doc.PrepTime,
		CookTime:           doc.CookTime,
		TotalTime:          doc.TotalTime,
		OrgURL:             doc.SourceURL,
	}
	if !doc.Nutrition.Empty() {
		payload.Nutrition = &mealieNutrition{
			Calories:       doc.Nutrition.Calories,
			FatContent:     doc.Nutrition.Fat,
			Carbohydrate:   doc.Nutrition.Carbohydrates,
			SugarContent:   doc.Nutrition.Sugar,
			FiberContent:   doc.Nutrition.Fiber,
			ProteinContent: doc.Nutrition.Protein,
			SodiumContent:  doc.Nutrition.Sodium,
		}
	}
	return payload
}
