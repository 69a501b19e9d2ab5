package discovery

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// recipeType is the schema.org type identifying recipe structured data.
const recipeType = "Recipe"

// HasRecipeSchema fetches a page and reports whether it carries recipe
// structured data. It first looks for a JSON-LD block whose type is
// Recipe (including @graph containers and arrays), then falls back to a
// lexical heuristic requiring both an ingredients and an instructions
// signal in the page text.
func (e *Engine) HasRecipeSchema(ctx context.Context, rawURL string) bool {
	body, err := e.client.FetchPage(ctx, rawURL)
	if err != nil {
		return false
	}

	return ContainsRecipeData(body)
}

// ContainsRecipeData reports whether page HTML carries recipe
// structured data or, failing that, lexical recipe markers.
func ContainsRecipeData(body string) bool {
	doc, parseErr := goquery.NewDocumentFromReader(strings.NewReader(body))
	if parseErr != nil {
		return false
	}

	found := false

	doc.Find(`script[type="application/ld+json"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if jsonLDHasRecipe(s.Text()) {
			found = true
			return false
		}
		return true
	})

	if found {
		return true
	}

	return hasRecipeMarkers(body)
}

// jsonLDHasRecipe parses one JSON-LD block and checks for a Recipe type.
func jsonLDHasRecipe(raw string) bool {
	var data any
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return false
	}

	// @graph containers hold the actual entity list.
	if obj, ok := data.(map[string]any); ok {
		if graph, hasGraph := obj["@graph"]; hasGraph {
			data = graph
		}
	}

	switch v := data.(type) {
	case []any:
		for _, item := range v {
			if obj, ok := item.(map[string]any); ok && isRecipeType(obj["@type"]) {
				return true
			}
		}
	case map[string]any:
		return isRecipeType(v["@type"])
	}

	return false
}

// isRecipeType handles @type expressed as a string or a list of strings.
func isRecipeType(value any) bool {
	switch t := value.(type) {
	case string:
		return t == recipeType
	case []any:
		for _, entry := range t {
			if s, ok := entry.(string); ok && s == recipeType {
				return true
			}
		}
	}

	return false
}

// hasRecipeMarkers is the lexical fallback: the page text must contain
// both an ingredients signal and an instructions signal.
func hasRecipeMarkers(body string) bool {
	text := strings.ToLower(body)

	hasIngredients := strings.Contains(text, "ingredient")
	hasInstructions := strings.Contains(text, "instruction") ||
		strings.Contains(text, "direction") ||
		strings.Contains(text, "method")

	return hasIngredients && hasInstructions
}
