package domain

import "strings"

// Ingredient is one structured ingredient entry. Source order is
// preserved end to end.
type Ingredient struct {
	Quantity     string `json:"quantity"`
	Unit         string `json:"unit"`
	Food         string `json:"food"`
	Note         string `json:"note"`
	OriginalText string `json:"original_text,omitempty"`
}

// Display renders an ingredient back to a single human-readable line.
func (i Ingredient) Display() string {
	parts := make([]string, 0, 4)
	for _, p := range []string{i.Quantity, i.Unit, i.Food, i.Note} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, " ")
}

// Nutrition holds per-serving estimates as display strings ("450 kcal").
type Nutrition struct {
	Calories      string `json:"calories,omitempty"`
	Protein       string `json:"protein,omitempty"`
	Fat           string `json:"fat,omitempty"`
	Carbohydrates string `json:"carbohydrates,omitempty"`
	Fiber         string `json:"fiber,omitempty"`
	Sugar         string `json:"sugar,omitempty"`
	Sodium        string `json:"sodium,omitempty"`
	Cholesterol   string `json:"cholesterol,omitempty"`
}

// Empty reports whether no field has been estimated.
func (n Nutrition) Empty() bool {
	return n == Nutrition{}
}

// ImageCandidate is one extracted dish frame with its ranking.
type ImageCandidate struct {
	Path   string `json:"path"`
	Rank   int    `json:"rank"`
	IsBest bool   `json:"is_best"`
}

// RecipeDocument is the structured output of synthesis.
type RecipeDocument struct {
	Name         string           `json:"name"`
	Description  string           `json:"description"`
	Ingredients  []Ingredient     `json:"ingredients"`
	Instructions []string         `json:"instructions"`
	Yield        string           `json:"yield,omitempty"`
	Servings     int              `json:"servings,omitempty"`
	PrepTime     string           `json:"prep_time,omitempty"`
	CookTime     string           `json:"cook_time,omitempty"`
	TotalTime    string           `json:"total_time,omitempty"`
	Nutrition    Nutrition        `json:"nutrition,omitempty"`
	Images       []ImageCandidate `json:"images,omitempty"`
	SourceURL    string           `json:"source_url,omitempty"`
}

// BestImage returns the candidate flagged best, or nil. At most one
// candidate carries the flag; SetBestImage maintains that.
func (r *RecipeDocument) BestImage() *ImageCandidate {
	for i := range r.Images {
		if r.Images[i].IsBest {
			return &r.Images[i]
		}
	}
	return nil
}

// SetBestImage flags exactly the candidate at idx as best.
func (r *RecipeDocument) SetBestImage(idx int) {
	for i := range r.Images {
		r.Images[i].IsBest = i == idx
	}
}
