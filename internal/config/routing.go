package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kirillkom/doc-curator/internal/core/domain"
)

// RoutingCatalog is the declarative set of knowledge stores and per-category
// routings seeded into the ledger at startup.
type RoutingCatalog struct {
	Stores   []domain.KnowledgeStore
	Routings []domain.CategoryRouting
}

type routingFile struct {
	Stores []struct {
		ID        string `yaml:"id"`
		Name      string `yaml:"name"`
		DatasetID string `yaml:"dataset_id"`
		Active    *bool  `yaml:"active"`
	} `yaml:"stores"`
	Routings []struct {
		ID                    string         `yaml:"id"`
		Category              string         `yaml:"category"`
		KnowledgeStoreID      string         `yaml:"knowledge_store_id"`
		PromptTemplate        string         `yaml:"prompt_template"`
		OutputSchema          map[string]any `yaml:"output_schema"`
		MinConfidence         int            `yaml:"min_confidence"`
		AutoApproveConfidence int            `yaml:"auto_approve_confidence"`
		Active                *bool          `yaml:"active"`
	} `yaml:"routings"`
}

// LoadRouting reads the catalog at path. A missing file yields an empty
// catalog so deployments can rely on the default store alone.
func LoadRouting(path string) (RoutingCatalog, error) {
	if strings.TrimSpace(path) == "" {
		return RoutingCatalog{}, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return RoutingCatalog{}, nil
		}
		return RoutingCatalog{}, fmt.Errorf("read routing file: %w", err)
	}
	return ParseRouting(raw)
}

func ParseRouting(raw []byte) (RoutingCatalog, error) {
	var file routingFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return RoutingCatalog{}, fmt.Errorf("parse routing file: %w", err)
	}

	var catalog RoutingCatalog
	stores := make(map[string]struct{}, len(file.Stores))
	for i, s := range file.Stores {
		id := strings.TrimSpace(s.ID)
		if id == "" {
			return RoutingCatalog{}, fmt.Errorf("stores[%d]: id is required", i)
		}
		if _, dup := stores[id]; dup {
			return RoutingCatalog{}, fmt.Errorf("stores[%d]: duplicate id %q", i, id)
		}
		if strings.TrimSpace(s.DatasetID) == "" {
			return RoutingCatalog{}, fmt.Errorf("stores[%d]: dataset_id is required", i)
		}
		stores[id] = struct{}{}
		name := s.Name
		if name == "" {
			name = id
		}
		catalog.Stores = append(catalog.Stores, domain.KnowledgeStore{
			ID:        id,
			Name:      name,
			DatasetID: strings.TrimSpace(s.DatasetID),
			Active:    s.Active == nil || *s.Active,
		})
	}

	activeByCategory := make(map[string]string)
	for i, r := range file.Routings {
		id := strings.TrimSpace(r.ID)
		category := strings.TrimSpace(r.Category)
		if id == "" || category == "" {
			return RoutingCatalog{}, fmt.Errorf("routings[%d]: id and category are required", i)
		}
		if _, ok := stores[r.KnowledgeStoreID]; r.KnowledgeStoreID != "" && !ok {
			return RoutingCatalog{}, fmt.Errorf("routings[%d]: unknown knowledge store %q", i, r.KnowledgeStoreID)
		}
		if r.MinConfidence < 0 || r.AutoApproveConfidence > 100 || (r.AutoApproveConfidence > 0 && r.AutoApproveConfidence < r.MinConfidence) {
			return RoutingCatalog{}, fmt.Errorf("routings[%d]: thresholds must satisfy 0 <= min <= auto_approve <= 100", i)
		}
		active := r.Active == nil || *r.Active
		if active {
			if other, dup := activeByCategory[category]; dup {
				return RoutingCatalog{}, fmt.Errorf("routings[%d]: category %q already has active routing %q", i, category, other)
			}
			activeByCategory[category] = id
		}

		var schema json.RawMessage
		if len(r.OutputSchema) > 0 {
			encoded, err := json.Marshal(r.OutputSchema)
			if err != nil {
				return RoutingCatalog{}, fmt.Errorf("routings[%d]: encode output_schema: %w", i, err)
			}
			schema = encoded
		}
		catalog.Routings = append(catalog.Routings, domain.CategoryRouting{
			ID:               id,
			Category:         domain.Category(category),
			KnowledgeStoreID: r.KnowledgeStoreID,
			PromptTemplate:   r.PromptTemplate,
			OutputSchema:     schema,
			MinConfidence:    r.MinConfidence,
			AutoApprove:      r.AutoApproveConfidence,
			Active:           active,
		})
	}
	return catalog, nil
}
