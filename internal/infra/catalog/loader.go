// Package catalog loads the tool-server template catalog from a YAML file
// and keeps it fresh while the gateway runs.
package catalog

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"sort"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"toolgate/internal/domain"
)

type rawCatalog struct {
	Templates []rawTemplate `yaml:"templates"`
}

type rawTemplate struct {
	ID        string   `yaml:"id"`
	Name      string   `yaml:"name"`
	Category  string   `yaml:"category"`
	ServerURL string   `yaml:"serverUrl"`
	PlanTier  string   `yaml:"planTier"`
	AuthKinds []string `yaml:"authKinds"`
}

type Loader struct {
	logger *zap.Logger
}

func NewLoader(logger *zap.Logger) *Loader {
	if logger == nil {
		return &Loader{logger: zap.NewNop()}
	}
	return &Loader{logger: logger.Named("catalog")}
}

// Load reads and validates a catalog file. Validation problems are collected
// and reported together.
func (l *Loader) Load(path string) (map[string]domain.CatalogTemplate, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("catalog path is required")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}

	var raw rawCatalog
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}

	templates := make(map[string]domain.CatalogTemplate, len(raw.Templates))
	var validationErrors []string
	for i, entry := range raw.Templates {
		tpl, errs := normalizeTemplate(entry, i)
		if len(errs) > 0 {
			validationErrors = append(validationErrors, errs...)
			continue
		}
		if _, exists := templates[tpl.ID]; exists {
			validationErrors = append(validationErrors, fmt.Sprintf("templates[%d]: duplicate id %q", i, tpl.ID))
			continue
		}
		templates[tpl.ID] = tpl
	}
	if len(validationErrors) > 0 {
		return nil, errors.New(strings.Join(validationErrors, "; "))
	}
	return templates, nil
}

func normalizeTemplate(raw rawTemplate, index int) (domain.CatalogTemplate, []string) {
	var errs []string

	id := strings.TrimSpace(raw.ID)
	if id == "" {
		errs = append(errs, fmt.Sprintf("templates[%d]: id is required", index))
	}
	name := strings.TrimSpace(raw.Name)
	if name == "" {
		errs = append(errs, fmt.Sprintf("templates[%d]: name is required", index))
	}

	serverURL := strings.TrimSpace(raw.ServerURL)
	if serverURL == "" {
		errs = append(errs, fmt.Sprintf("templates[%d]: serverUrl is required", index))
	} else if parsed, err := url.Parse(serverURL); err != nil || parsed.Host == "" {
		errs = append(errs, fmt.Sprintf("templates[%d]: serverUrl %q is not a valid URL", index, serverURL))
	}

	kinds := make([]domain.AuthKind, 0, len(raw.AuthKinds))
	for _, kind := range raw.AuthKinds {
		parsed := domain.AuthKind(strings.TrimSpace(kind))
		if !parsed.Valid() {
			errs = append(errs, fmt.Sprintf("templates[%d]: unknown auth kind %q", index, kind))
			continue
		}
		kinds = append(kinds, parsed)
	}
	if len(kinds) == 0 && len(errs) == 0 {
		kinds = []domain.AuthKind{domain.AuthNone}
	}

	if len(errs) > 0 {
		return domain.CatalogTemplate{}, errs
	}
	return domain.CatalogTemplate{
		ID:        id,
		Name:      name,
		Category:  strings.TrimSpace(raw.Category),
		ServerURL: serverURL,
		PlanTier:  strings.TrimSpace(raw.PlanTier),
		AuthKinds: kinds,
	}, nil
}

func sortedTemplates(templates map[string]domain.CatalogTemplate) []domain.CatalogTemplate {
	out := make([]domain.CatalogTemplate, 0, len(templates))
	for _, tpl := range templates {
		out = append(out, tpl)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
