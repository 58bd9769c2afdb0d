package export

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/opickel/social-recipes/internal/domain"
)

// TandoorClient exports recipes to a Tandoor instance. Tandoor nests
// ingredients inside steps, so all ingredients go on the first step.
type TandoorClient struct {
	client
	logger *slog.Logger
}

// NewTandoor creates a Tandoor exporter.
func NewTandoor(cfg Config, logger *slog.Logger) *TandoorClient {
	return &TandoorClient{
		client: newClient(cfg),
		logger: logger,
	}
}

func (t *TandoorClient) Name() string { return "tandoor" }

type tandoorNamed struct {
	Name string `json:"name"`
}

type tandoorIngredient struct {
	Food         *tandoorNamed `json:"food"`
	Unit         *tandoorNamed `json:"unit"`
	Amount       float64       `json:"amount"`
	Note         string        `json:"note"`
	OriginalText string        `json:"original_text"`
	Order        int           `json:"order"`
	NoAmount     bool          `json:"no_amount"`
}

type tandoorStep struct {
	Instruction  string              `json:"instruction"`
	Ingredients  []tandoorIngredient `json:"ingredients"`
	Order        int                 `json:"order"`
	ShowAsHeader bool                `json:"show_as_header"`
}

type tandoorRecipe struct {
	Name         string        `json:"name"`
	Description  string        `json:"description"`
	Steps        []tandoorStep `json:"steps"`
	Servings     int           `json:"servings"`
	ServingsText string        `json:"servings_text,omitempty"`
	WorkingTime  int           `json:"working_time"`
	WaitingTime  int           `json:"waiting_time"`
	SourceURL    string        `json:"source_url,omitempty"`
	Internal     bool          `json:"internal"`
}

// CreateRecipe creates the recipe and returns its numeric id.
func (t *TandoorClient) CreateRecipe(ctx context.Context, doc *domain.RecipeDocument) (string, error) {
	payload := t.buildPayload(doc)

	var created struct {
		ID int `json:"id"`
	}
	status, err := t.doJSON(ctx, http.MethodPost, "/api/recipe/", payload, &created)
	if err != nil {
		return "", &domain.UploadError{Target: t.Name(), StatusCode: status, Detail: err.Error()}
	}
	if created.ID == 0 {
		return "", &domain.UploadError{Target: t.Name(), Detail: "create returned no recipe id"}
	}

	t.logger.Info("Recipe uploaded to Tandoor", slog.Int("recipe_id", created.ID))
	return fmt.Sprintf("%d", created.ID), nil
}

// UploadImage attaches the dish image to an existing recipe.
func (t *TandoorClient) UploadImage(ctx context.Context, recipeID, imagePath string) error {
	return t.uploadMultipart(ctx, "/api/recipe/"+recipeID+"/image/", "image", imagePath, nil)
}

func (t *TandoorClient) buildPayload(doc *domain.RecipeDocument) tandoorRecipe {
	ingredients := make([]tandoorIngredient, 0, len(doc.Ingredients))
	for i, ing := range doc.Ingredients {
		entry := tandoorIngredient{
			Note:         ing.Note,
			OriginalText: ing.OriginalText,
			Order:        i,
		}
		if ing.Food != "" {
			entry.Food = &tandoorNamed{Name: ing.Food}
		}
		if ing.Unit != "" {
			entry.Unit = &tandoorNamed{Name: ing.Unit}
		}
		if amount, ok := parseAmount(ing.Quantity); ok {
			entry.Amount = amount
		} else {
			entry.NoAmount = true
		}
		ingredients = append(ingredients, entry)
	}

	steps := make([]tandoorStep, 0, len(doc.Instructions))
	for i, step := range doc.Instructions {
		s := tandoorStep{Instruction: step, Order: i, Ingredients: []tandoorIngredient{}}
		if i == 0 {
			s.Ingredients = ingredients
		}
		steps = append(steps, s)
	}
	if len(steps) == 0 && len(ingredients) > 0 {
		steps = append(steps, tandoorStep{Ingredients: ingredients})
	}

	servings := doc.Servings
	if servings <= 0 {
		servings = 1
	}

	return tandoorRecipe{
		Name:         doc.Name,
		Description:  doc.Description,
		Steps:        steps,
		Servings:     servings,
		ServingsText: doc.Yield,
		WorkingTime:  durationMinutes(doc.PrepTime),
		WaitingTime:  durationMinutes(doc.CookTime),
		SourceURL:    doc.SourceURL,
		Internal:     true,
	}
}
