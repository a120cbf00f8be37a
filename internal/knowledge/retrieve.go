// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package knowledge

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"unicode"

	"github.com/pdiddy/medscope/pkg/types"
)

// QueryOptions holds parameters for free-text knowledge base queries.
type QueryOptions struct {
	// Query is the FTS4 full-text search string.
	Query string

	// Drug filters by normalized drug name.
	Drug string

	// Sections filters by section. Zero means all sections.
	Sections types.SectionSet

	// MaxResults limits result count. Zero returns everything.
	MaxResults int
}

// QueryResult is a passage with its drug display name.
type QueryResult struct {
	types.MonographPassage
	Drug string `json:"drug" yaml:"drug"`
}

// Search queries passages with optional full-text search and filters.
// Structured-only queries are ordered by drug, section and id.
func (s *Store) Search(ctx context.Context, opts QueryOptions) ([]QueryResult, error) {
	var (
		qb   strings.Builder
		args []any
	)

	if opts.Query != "" {
		qb.WriteString(
			`SELECT p.id, p.section, p.content, d.display
			FROM passages_fts
			JOIN passages p ON p.rowid = passages_fts.docid
			JOIN drugs d ON d.name = p.drug
			WHERE passages_fts MATCH ?`)
		args = append(args, opts.Query)
	} else {
		qb.WriteString(
			`SELECT p.id, p.section, p.content, d.display
			FROM passages p
			JOIN drugs d ON d.name = p.drug
			WHERE 1=1`)
	}

	if opts.Drug != "" {
		qb.WriteString(` AND p.drug = ?`)
		args = append(args, DrugKey(opts.Drug))
	}

	if opts.Sections.Len() > 0 {
		secs := opts.Sections.Sections()
		qb.WriteString(` AND p.section IN (?` + strings.Repeat(`, ?`, len(secs)-1) + `)`)
		for _, sec := range secs {
			args = append(args, sec.String())
		}
	}

	qb.WriteString(` ORDER BY p.drug, p.section, p.id`)
	if opts.MaxResults > 0 {
		qb.WriteString(` LIMIT ?`)
		args = append(args, opts.MaxResults)
	}

	rows, err := s.db.QueryContext(ctx, qb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("querying knowledge base: %w", err)
	}
	defer rows.Close()

	var results []QueryResult
	for rows.Next() {
		var (
			qr      QueryResult
			section string
		)
		if err := rows.Scan(&qr.ID, &section, &qr.Content, &qr.Drug); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		sec, err := types.ParseSection(section)
		if err != nil {
			return nil, fmt.Errorf("passage %s: %w", qr.ID, err)
		}
		qr.Section = sec
		results = append(results, qr)
	}

	return results, rows.Err()
}

// Retrieve returns passages for one medication restricted to the requested
// sections. Each passage is scored by the share of query terms it contains
// (0-100), the score is multiplied by the similarity weight and capped at
// 100, and at most PerSection passages are kept per section. An unknown
// drug yields no passages.
func (s *Store) Retrieve(ctx context.Context, req types.RetrievalRequest) ([]types.ScoredPassage, error) {
	if req.Sections.Len() == 0 {
		return nil, nil
	}

	found, err := s.Search(ctx, QueryOptions{Drug: string(req.Medication), Sections: req.Sections})
	if err != nil {
		return nil, err
	}

	weight := req.SimilarityWeight
	if weight <= 0 {
		weight = 1
	}
	perSection := req.PerSection
	if perSection <= 0 {
		perSection = s.perSection
	}

	terms := queryTerms(string(req.Medication), req.ContextTerms)
	scored := make([]types.ScoredPassage, 0, len(found))
	for _, r := range found {
		base := coverage(r.Content, terms)
		scored = append(scored, types.ScoredPassage{
			MonographPassage: r.MonographPassage,
			Drug:             r.Drug,
			BaseScore:        base,
			Score:            math.Min(round2(base*weight), 100),
		})
	}

	rankPassages(scored)

	perSec := make(map[types.Section]int)
	out := scored[:0]
	for _, p := range scored {
		if perSec[p.Section] >= perSection {
			continue
		}
		perSec[p.Section]++
		out = append(out, p)
	}
	return out, nil
}

// rankPassages orders by score descending, then section order, then id.
func rankPassages(ps []types.ScoredPassage) {
	sort.SliceStable(ps, func(i, j int) bool {
		if ps[i].Score != ps[j].Score {
			return ps[i].Score > ps[j].Score
		}
		if ps[i].Section != ps[j].Section {
			return ps[i].Section < ps[j].Section
		}
		return ps[i].ID < ps[j].ID
	})
}

func queryTerms(medication string, extra []string) []string {
	seen := make(map[string]bool)
	var terms []string
	add := func(s string) {
		for _, tok := range tokenize(s) {
			if len(tok) < 3 || seen[tok] {
				continue
			}
			seen[tok] = true
			terms = append(terms, tok)
		}
	}
	add(medication)
	for _, e := range extra {
		add(e)
	}
	return terms
}

func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// coverage returns the percentage of terms present in content.
func coverage(content string, terms []string) float64 {
	if len(terms) == 0 {
		return 0
	}
	words := make(map[string]bool)
	for _, tok := range tokenize(content) {
		words[tok] = true
	}
	hit := 0
	for _, t := range terms {
		if words[t] {
			hit++
		}
	}
	return round2(100 * float64(hit) / float64(len(terms)))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
