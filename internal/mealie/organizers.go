package mealie

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

type organizerItem struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Slug string `json:"slug"`
}

type organizerPage struct {
	Items []organizerItem `json:"items"`
}

// EnsureTag returns the id of the tag with the given name, creating it
// if missing. Lookups are cached for the life of the client.
func (c *Client) EnsureTag(ctx context.Context, name string) (string, error) {
	return c.ensureOrganizer(ctx, "/api/organizers/tags", c.tagCache, name)
}

// EnsureCategory returns the id of the category with the given name,
// creating it if missing.
func (c *Client) EnsureCategory(ctx context.Context, name string) (string, error) {
	return c.ensureOrganizer(ctx, "/api/organizers/categories", c.categoryCache, name)
}

func (c *Client) ensureOrganizer(ctx context.Context, path string, cache map[string]string, name string) (string, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		return "", fmt.Errorf("organizer name is empty")
	}

	if id, ok := cache[key]; ok {
		return id, nil
	}

	id, err := c.findOrganizer(ctx, path, name)
	if err != nil {
		return "", err
	}

	if id == "" {
		id, err = c.createOrganizer(ctx, path, name)
		if err != nil {
			return "", err
		}
		c.log.Info("Created organizer", "path", path, "name", name, "id", id)
	}

	cache[key] = id

	return id, nil
}

func (c *Client) findOrganizer(ctx context.Context, path, name string) (string, error) {
	resp, err := c.doJSON(ctx, http.MethodGet, path+"?search="+url.QueryEscape(name), nil)
	if err != nil {
		return "", fmt.Errorf("search organizer: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("search organizer %q: status %d", name, resp.StatusCode)
	}

	var page organizerPage
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&page); err != nil {
		return "", fmt.Errorf("decode organizer page: %w", err)
	}

	for _, item := range page.Items {
		if strings.EqualFold(item.Name, name) {
			return item.ID, nil
		}
	}

	return "", nil
}

func (c *Client) createOrganizer(ctx context.Context, path, name string) (string, error) {
	resp, err := c.doJSON(ctx, http.MethodPost, path, map[string]string{"name": name})
	if err != nil {
		return "", fmt.Errorf("create organizer: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("create organizer %q: status %d", name, resp.StatusCode)
	}

	var item organizerItem
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&item); err != nil {
		return "", fmt.Errorf("decode created organizer: %w", err)
	}

	return item.ID, nil
}

// OrganizerRef names an organizer already known to the destination.
type OrganizerRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// AttachOrganizers adds the given tags and categories to a recipe,
// preserving any organizers it already carries.
func (c *Client) AttachOrganizers(ctx context.Context, slug string, tags, categories []OrganizerRef) error {
	if len(tags) == 0 && len(categories) == 0 {
		return nil
	}

	recipe, err := c.GetRecipe(ctx, slug)
	if err != nil {
		return err
	}

	patch := map[string]any{
		"tags":           mergeOrganizers(recipe["tags"], tags),
		"recipeCategory": mergeOrganizers(recipe["recipeCategory"], categories),
	}

	resp, err := c.doJSON(ctx, http.MethodPatch, "/api/recipes/"+slug, patch)
	if err != nil {
		return fmt.Errorf("patch recipe: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("patch recipe %q: status %d", slug, resp.StatusCode)
	}

	return nil
}

// mergeOrganizers combines the recipe's existing organizer list with the
// new references, deduplicating by id.
func mergeOrganizers(existing any, refs []OrganizerRef) []map[string]any {
	merged := make([]map[string]any, 0, len(refs))
	seen := make(map[string]bool)

	if items, ok := existing.([]any); ok {
		for _, raw := range items {
			item, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			if id, ok := item["id"].(string); ok {
				seen[id] = true
			}
			merged = append(merged, item)
		}
	}

	for _, ref := range refs {
		if seen[ref.ID] {
			continue
		}
		seen[ref.ID] = true
		merged = append(merged, map[string]any{"id": ref.ID, "name": ref.Name})
	}

	return merged
}
