package personas

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"mediaforge/internal/jobstore"
	"mediaforge/internal/logging"
	"mediaforge/internal/services"
	"mediaforge/internal/textutil"
)

// Catalog is the YAML seed file layout.
type Catalog struct {
	Personas []CatalogEntry `yaml:"personas"`
}

// CatalogEntry is one seeded persona. Active defaults to true.
type CatalogEntry struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	Personality string `yaml:"personality"`
	Description string `yaml:"description"`
	VoiceStyle  string `yaml:"voice_style"`
	ImageRef    string `yaml:"image_ref"`
	AvatarStyle string `yaml:"avatar_style"`
	Active      *bool  `yaml:"active"`
}

// ParseCatalog decodes a catalog. Entries without an id get one derived from
// the name; duplicate ids are rejected.
func ParseCatalog(data []byte) (Catalog, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return Catalog{}, errors.New("personas: catalog is empty")
	}
	var catalog Catalog
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return Catalog{}, fmt.Errorf("personas: decode catalog: %w", err)
	}
	seen := make(map[string]struct{}, len(catalog.Personas))
	for i := range catalog.Personas {
		entry := &catalog.Personas[i]
		entry.Name = strings.TrimSpace(entry.Name)
		if entry.Name == "" {
			return Catalog{}, fmt.Errorf("personas: entry %d has no name", i+1)
		}
		entry.ID = strings.TrimSpace(entry.ID)
		if entry.ID == "" {
			entry.ID = textutil.Slug(entry.Name)
		}
		if _, dup := seen[entry.ID]; dup {
			return Catalog{}, fmt.Errorf("personas: duplicate id %q", entry.ID)
		}
		seen[entry.ID] = struct{}{}
	}
	return catalog, nil
}

// LoadCatalogReader reads a catalog from r.
func LoadCatalogReader(r io.Reader) (Catalog, error) {
	content, err := io.ReadAll(r)
	if err != nil {
		return Catalog{}, fmt.Errorf("personas: read catalog: %w", err)
	}
	return ParseCatalog(content)
}

// LoadCatalog reads a catalog file.
func LoadCatalog(path string) (Catalog, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return Catalog{}, fmt.Errorf("personas: read %s: %w", path, err)
	}
	catalog, err := ParseCatalog(content)
	if err != nil {
		return Catalog{}, fmt.Errorf("personas: %s: %w", path, err)
	}
	return catalog, nil
}

// Seed upserts every catalog entry. Existing personas keep their creation
// time. It returns the number of personas written.
func (s *Service) Seed(ctx context.Context, catalog Catalog) (int, error) {
	written := 0
	for _, entry := range catalog.Personas {
		persona, err := fromInput(Input{
			ID:          entry.ID,
			Name:        entry.Name,
			Personality: entry.Personality,
			Description: entry.Description,
			VoiceStyle:  entry.VoiceStyle,
			ImageRef:    entry.ImageRef,
			AvatarStyle: entry.AvatarStyle,
			Active:      entry.Active,
		})
		if err != nil {
			return written, err
		}
		if err := s.upsert(ctx, persona); err != nil {
			return written, err
		}
		written++
	}
	s.logger.Info("persona catalog seeded",
		logging.Int("personas", written),
		logging.String(logging.FieldEventType, "persona_catalog_seeded"),
	)
	return written, nil
}

// SeedFile loads and seeds the catalog at path. An empty path is a no-op.
func (s *Service) SeedFile(ctx context.Context, path string) (int, error) {
	if strings.TrimSpace(path) == "" {
		return 0, nil
	}
	catalog, err := LoadCatalog(path)
	if err != nil {
		return 0, err
	}
	return s.Seed(ctx, catalog)
}

func (s *Service) upsert(ctx context.Context, persona *jobstore.Persona) error {
	unlock := s.store.Lock(persona.ID)
	defer unlock()
	existing, err := s.store.GetPersona(ctx, persona.ID)
	switch {
	case err == nil:
		persona.CreatedAt = existing.CreatedAt
	case !errors.Is(err, services.ErrNotFound):
		return fmt.Errorf("load persona %s: %w", persona.ID, err)
	}
	if err := s.store.PutPersona(ctx, persona); err != nil {
		return fmt.Errorf("persist persona %s: %w", persona.ID, err)
	}
	return nil
}
