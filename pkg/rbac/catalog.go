package rbac

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Catalog is the declarative profile set loaded from YAML
type Catalog struct {
	FunctionalAreas []string         `yaml:"functional_areas"`
	Profiles        []CatalogProfile `yaml:"profiles"`
	Admins          []string         `yaml:"admins"`
}

// CatalogProfile is one profile entry of a catalog file
type CatalogProfile struct {
	Name           string   `yaml:"name"`
	Description    string   `yaml:"description"`
	FunctionalArea string   `yaml:"functional_area"`
	Permissions    []string `yaml:"permissions"`
}

// LoadCatalog reads and validates a catalog file
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read profile catalog: %w", err)
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes and validates catalog YAML
func ParseCatalog(data []byte) (*Catalog, error) {
	var catalog Catalog
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return nil, fmt.Errorf("failed to parse profile catalog: %w", err)
	}
	if err := catalog.Validate(); err != nil {
		return nil, err
	}
	return &catalog, nil
}

// Validate checks names and rejects permissions outside the catalog
func (c *Catalog) Validate() error {
	seen := make(map[string]bool, len(c.Profiles))
	for i, p := range c.Profiles {
		if p.Name == "" {
			return fmt.Errorf("profile %d: name is required", i)
		}
		if seen[p.Name] {
			return fmt.Errorf("profile %q: defined more than once", p.Name)
		}
		seen[p.Name] = true

		if _, err := ParsePermissions(p.Permissions); err != nil {
			return fmt.Errorf("profile %q: %w", p.Name, err)
		}
	}
	for _, admin := range c.Admins {
		if admin == "" {
			return fmt.Errorf("admin principal id must not be empty")
		}
	}
	return nil
}

// Apply writes the catalog into the store. Profiles absent from the catalog
// and existing assignments are left untouched.
func (c *Catalog) Apply(ctx context.Context, store *Store) error {
	for _, name := range c.FunctionalAreas {
		if _, err := store.UpsertFunctionalArea(ctx, name); err != nil {
			return err
		}
	}

	for _, entry := range c.Profiles {
		perms, err := ParsePermissions(entry.Permissions)
		if err != nil {
			return fmt.Errorf("profile %q: %w", entry.Name, err)
		}

		profile := &Profile{
			Name:        entry.Name,
			Description: entry.Description,
			Permissions: perms,
		}
		if entry.FunctionalArea != "" {
			profile.FunctionalArea = &FunctionalArea{Name: entry.FunctionalArea}
		}
		if err := store.UpsertProfile(ctx, profile); err != nil {
			return err
		}
	}

	for _, principalID := range c.Admins {
		if err := store.GrantAdmin(ctx, principalID); err != nil {
			return err
		}
	}
	return nil
}
