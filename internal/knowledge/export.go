// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package knowledge

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/medscope/pkg/types"
)

// ExportYAML writes the filtered knowledge base to knowledge/index/export.yaml
// as a list of drug monographs. Each monograph can be copied back into
// knowledge/drugs/ and re-ingested unchanged.
func (s *Store) ExportYAML(ctx context.Context, opts QueryOptions) error {
	monos, err := s.exportMonographs(ctx, opts)
	if err != nil {
		return err
	}
	data, err := yaml.Marshal(monos)
	if err != nil {
		return fmt.Errorf("marshaling YAML: %w", err)
	}
	return s.writeExport("export.yaml", data)
}

// ExportJSON writes the filtered knowledge base to knowledge/index/export.json.
func (s *Store) ExportJSON(ctx context.Context, opts QueryOptions) error {
	monos, err := s.exportMonographs(ctx, opts)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(monos, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling JSON: %w", err)
	}
	return s.writeExport("export.json", data)
}

func (s *Store) writeExport(name string, data []byte) error {
	dir := filepath.Join(s.knowledgeDir, indexDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}
	return os.WriteFile(filepath.Join(dir, name), data, 0o644)
}

// exportMonographs groups the passages matching opts by drug. Search orders
// rows by drug key, so each drug's passages arrive contiguously.
func (s *Store) exportMonographs(ctx context.Context, opts QueryOptions) ([]types.DrugMonograph, error) {
	opts.MaxResults = 0
	results, err := s.Search(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("querying for export: %w", err)
	}

	monos := []types.DrugMonograph{}
	for _, r := range results {
		if n := len(monos); n == 0 || monos[n-1].Drug != r.Drug {
			src, err := s.drugSource(ctx, r.Drug)
			if err != nil {
				return nil, err
			}
			monos = append(monos, types.DrugMonograph{Drug: r.Drug, Source: src})
		}
		last := &monos[len(monos)-1]
		last.Passages = append(last.Passages, r.MonographPassage)
	}
	return monos, nil
}

func (s *Store) drugSource(ctx context.Context, drug string) (string, error) {
	var src sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT source FROM drugs WHERE name = ?`, DrugKey(drug)).Scan(&src)
	if err != nil && err != sql.ErrNoRows {
		return "", fmt.Errorf("reading source for %s: %w", drug, err)
	}
	return src.String, nil
}
