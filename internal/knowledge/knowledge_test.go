package knowledge

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/medscope/pkg/types"
)

// --- test helpers ---

func testSetup(t *testing.T) (*Store, string) {
	t.Helper()
	tmpDir := t.TempDir()

	if err := os.MkdirAll(filepath.Join(tmpDir, "knowledge", drugsDir), 0o755); err != nil {
		t.Fatal(err)
	}

	cfg := types.KnowledgeBaseConfig{
		KnowledgeDir: filepath.Join(tmpDir, "knowledge"),
		PerSection:   2,
	}
	store, err := NewStore(cfg)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	return store, tmpDir
}

func writeMonograph(t *testing.T, tmpDir, fileKey string, mono types.DrugMonograph) string {
	t.Helper()
	data, err := yaml.Marshal(&mono)
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(tmpDir, "knowledge", drugsDir, fileKey+".yaml")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func warfarin() types.DrugMonograph {
	return types.DrugMonograph{
		Drug:   "Warfarin",
		Source: "test-fixture",
		Passages: []types.MonographPassage{
			{ID: "w-names", Section: types.SectionNames, Content: "Warfarin sodium, marketed as Coumadin"},
			{ID: "w-pharm", Section: types.SectionPharmacology, Content: "Warfarin inhibits vitamin K epoxide reductase"},
			{ID: "w-ind", Section: types.SectionIndications, Content: "Warfarin prevents stroke in atrial fibrillation"},
			{ID: "w-int1", Section: types.SectionInteractions, Content: "Amiodarone potentiates warfarin anticoagulation"},
			{ID: "w-int2", Section: types.SectionInteractions, Content: "Fluconazole raises warfarin exposure in atrial fibrillation patients"},
			{ID: "w-int3", Section: types.SectionInteractions, Content: "Rifampin induces clearance"},
			{ID: "w-tox", Section: types.SectionToxicity, Content: "Major bleeding is the principal toxicity"},
			{ID: "w-dose", Section: types.SectionDosage, Content: "Dose to a target INR of 2 to 3"},
		},
	}
}

func ingestHelper(t *testing.T, store *Store, tmpDir string) {
	t.Helper()
	writeMonograph(t, tmpDir, "warfarin", warfarin())
	var buf strings.Builder
	if _, err := store.Ingest(context.Background(), &buf); err != nil {
		t.Fatal(err)
	}
}

// --- schema tests ---

func TestNewStoreCreatesSchema(t *testing.T) {
	store, _ := testSetup(t)

	for _, table := range []string{"drugs", "passages", "passages_fts", "indexing_status"} {
		var count int
		err := store.db.QueryRow(
			`SELECT count(*) FROM sqlite_master WHERE type IN ('table','view') AND name = ?`, table,
		).Scan(&count)
		if err != nil {
			t.Fatalf("checking table %s: %v", table, err)
		}
		if count == 0 {
			t.Errorf("table %s does not exist", table)
		}
	}
}

func TestNewStoreReopens(t *testing.T) {
	store, tmpDir := testSetup(t)
	ingestHelper(t, store, tmpDir)
	store.Close()

	again, err := NewStore(types.KnowledgeBaseConfig{KnowledgeDir: filepath.Join(tmpDir, "knowledge")})
	if err != nil {
		t.Fatalf("reopening store: %v", err)
	}
	defer again.Close()

	if _, err := os.Stat(filepath.Join(tmpDir, "knowledge", indexDir, dbFile)); err != nil {
		t.Errorf("database file missing: %v", err)
	}
	results, err := again.Search(context.Background(), QueryOptions{Drug: "warfarin"})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 8 {
		t.Errorf("got %d passages after reopen, want 8", len(results))
	}
	if again.perSection != 3 {
		t.Errorf("default perSection = %d, want 3", again.perSection)
	}
}

// --- ingest tests ---

func TestIngest(t *testing.T) {
	store, tmpDir := testSetup(t)
	writeMonograph(t, tmpDir, "warfarin", warfarin())
	writeMonograph(t, tmpDir, "metformin", types.DrugMonograph{
		Drug: "Metformin",
		Passages: []types.MonographPassage{
			{Section: types.SectionMetabolism, Content: "Excreted unchanged by the kidney"},
			{Section: types.SectionMetabolism, Content: "Not hepatically metabolized"},
			{Section: types.SectionDosage, Content: "   "},
		},
	})
	if err := os.WriteFile(filepath.Join(tmpDir, "knowledge", drugsDir, "README.md"), []byte("notes"), 0o644); err != nil {
		t.Fatal(err)
	}

	var buf strings.Builder
	summary, err := store.Ingest(context.Background(), &buf)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if summary.Indexed != 2 || summary.Failed != 0 {
		t.Errorf("summary = %+v, want 2 indexed; output: %s", summary, buf.String())
	}

	results, err := store.Search(context.Background(), QueryOptions{Drug: "METFORMIN"})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d metformin passages, want 2 (blank passage dropped)", len(results))
	}
	if results[0].ID != "metformin-metabolism-1" || results[1].ID != "metformin-metabolism-2" {
		t.Errorf("generated ids = %q, %q", results[0].ID, results[1].ID)
	}
	if results[0].Drug != "Metformin" {
		t.Errorf("Drug = %q, want display name Metformin", results[0].Drug)
	}
}

func TestIngestRejectsUnknownSection(t *testing.T) {
	store, tmpDir := testSetup(t)
	bad := "drug: Foo\npassages:\n  - id: f1\n    section: CONTRAINDICATIONS\n    content: never\n"
	if err := os.WriteFile(filepath.Join(tmpDir, "knowledge", drugsDir, "foo.yaml"), []byte(bad), 0o644); err != nil {
		t.Fatal(err)
	}

	var buf strings.Builder
	summary, err := store.Ingest(context.Background(), &buf)
	if err != nil {
		t.Fatal(err)
	}
	if summary.Failed != 1 {
		t.Errorf("Failed = %d, want 1", summary.Failed)
	}
	if !strings.Contains(buf.String(), "CONTRAINDICATIONS") {
		t.Errorf("output should name the bad section: %s", buf.String())
	}
}

func TestIngestMissingDirectory(t *testing.T) {
	store, err := NewStore(types.KnowledgeBaseConfig{KnowledgeDir: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	if _, err := store.Ingest(context.Background(), &strings.Builder{}); err == nil {
		t.Error("expected error for missing drugs directory")
	}
}

func TestIngestWritesExportYAML(t *testing.T) {
	store, tmpDir := testSetup(t)
	ingestHelper(t, store, tmpDir)

	path := filepath.Join(tmpDir, "knowledge", indexDir, "export.yaml")
	if _, err := os.Stat(path); err != nil {
		t.Errorf("export.yaml not written: %v", err)
	}
}

func TestIngestSkipsUnchanged(t *testing.T) {
	store, tmpDir := testSetup(t)
	ingestHelper(t, store, tmpDir)

	var buf strings.Builder
	summary, err := store.Ingest(context.Background(), &buf)
	if err != nil {
		t.Fatal(err)
	}
	if summary.Skipped != 1 {
		t.Errorf("Skipped = %d, want 1", summary.Skipped)
	}
	if summary.Indexed != 0 {
		t.Errorf("Indexed = %d, want 0", summary.Indexed)
	}
	if !strings.Contains(buf.String(), "skipped") {
		t.Errorf("output should contain 'skipped': %s", buf.String())
	}
}

func TestIngestUpdatesChanged(t *testing.T) {
	store, tmpDir := testSetup(t)
	ingestHelper(t, store, tmpDir)

	mono := warfarin()
	mono.Passages = mono.Passages[:2]
	path := writeMonograph(t, tmpDir, "warfarin", mono)
	future := time.Now().Add(time.Hour)
	os.Chtimes(path, future, future)

	var buf strings.Builder
	summary, err := store.Ingest(context.Background(), &buf)
	if err != nil {
		t.Fatal(err)
	}
	if summary.Updated != 1 {
		t.Errorf("Updated = %d, want 1", summary.Updated)
	}

	results, err := store.Search(context.Background(), QueryOptions{Drug: "warfarin"})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Errorf("got %d passages after update, want 2", len(results))
	}

	fts, err := store.Search(context.Background(), QueryOptions{Query: "amiodarone"})
	if err != nil {
		t.Fatal(err)
	}
	if len(fts) != 0 {
		t.Errorf("full-text index kept %d stale passages", len(fts))
	}
}

func TestIngestHonorsCancel(t *testing.T) {
	store, tmpDir := testSetup(t)
	writeMonograph(t, tmpDir, "warfarin", warfarin())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := store.Ingest(ctx, &strings.Builder{}); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestIngestSummaryTotal(t *testing.T) {
	s := IngestSummary{Indexed: 2, Updated: 1, Skipped: 3, Failed: 1}
	if s.Total() != 7 {
		t.Errorf("Total = %d, want 7", s.Total())
	}
}

// --- search tests ---

func TestSearchFullText(t *testing.T) {
	store, tmpDir := testSetup(t)
	ingestHelper(t, store, tmpDir)

	results, err := store.Search(context.Background(), QueryOptions{Query: "fibrillation"})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	for _, r := range results {
		if !strings.Contains(strings.ToLower(r.Content), "fibrillation") {
			t.Errorf("result %s does not match query: %q", r.ID, r.Content)
		}
	}
}

func TestSearchFiltersSections(t *testing.T) {
	store, tmpDir := testSetup(t)
	ingestHelper(t, store, tmpDir)

	results, err := store.Search(context.Background(), QueryOptions{
		Drug:     "warfarin",
		Sections: types.SafetyCritical,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 5 {
		t.Fatalf("got %d results, want 5", len(results))
	}
	for _, r := range results {
		if !types.SafetyCritical.Has(r.Section) {
			t.Errorf("result %s in section %s outside filter", r.ID, r.Section)
		}
	}

	limited, err := store.Search(context.Background(), QueryOptions{Drug: "warfarin", MaxResults: 3})
	if err != nil {
		t.Fatal(err)
	}
	if len(limited) != 3 {
		t.Errorf("got %d results, want 3", len(limited))
	}
}

// --- retrieve tests ---

func TestRetrieveScopesToSections(t *testing.T) {
	store, tmpDir := testSetup(t)
	ingestHelper(t, store, tmpDir)

	got, err := store.Retrieve(context.Background(), types.RetrievalRequest{
		Medication:       "warfarin",
		Sections:         types.MinimumIdentification,
		SimilarityWeight: 1.0,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d passages, want 2", len(got))
	}
	for _, p := range got {
		if !types.MinimumIdentification.Has(p.Section) {
			t.Errorf("passage %s outside requested sections", p.ID)
		}
		if p.BaseScore != 100 || p.Score != 100 {
			t.Errorf("passage %s scores = %v/%v, want 100/100", p.ID, p.BaseScore, p.Score)
		}
	}
	if got[0].Section != types.SectionNames {
		t.Errorf("tie should break by section order, got %s first", got[0].Section)
	}
}

func TestRetrieveRanksAndCaps(t *testing.T) {
	store, tmpDir := testSetup(t)
	ingestHelper(t, store, tmpDir)

	req := types.RetrievalRequest{
		Medication:       "warfarin",
		Sections:         types.NewSectionSet(types.SectionInteractions),
		SimilarityWeight: 1.0,
		ContextTerms:     []string{"atrial fibrillation"},
	}
	got, err := store.Retrieve(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d passages, want 2 (per-section cap)", len(got))
	}
	if got[0].ID != "w-int2" {
		t.Errorf("top passage = %s, want w-int2", got[0].ID)
	}
	if got[0].BaseScore != 100 {
		t.Errorf("top base score = %v, want 100", got[0].BaseScore)
	}
	if got[1].BaseScore != 33.33 {
		t.Errorf("second base score = %v, want 33.33", got[1].BaseScore)
	}

	req.SimilarityWeight = 2.0
	req.PerSection = 3
	boosted, err := store.Retrieve(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if len(boosted) != 3 {
		t.Fatalf("got %d passages, want 3", len(boosted))
	}
	if boosted[0].Score != 100 {
		t.Errorf("weighted score should cap at 100, got %v", boosted[0].Score)
	}
	if boosted[1].Score != 66.66 {
		t.Errorf("weighted score = %v, want 66.66", boosted[1].Score)
	}
	if boosted[2].Score != 0 {
		t.Errorf("unmatched passage score = %v, want 0", boosted[2].Score)
	}
}

func TestRetrieveUnknownDrugAndEmptySet(t *testing.T) {
	store, tmpDir := testSetup(t)
	ingestHelper(t, store, tmpDir)

	got, err := store.Retrieve(context.Background(), types.RetrievalRequest{
		Medication: "unobtainium",
		Sections:   types.FullCoverage,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("got %d passages for unknown drug", len(got))
	}

	got, err = store.Retrieve(context.Background(), types.RetrievalRequest{Medication: "warfarin"})
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Errorf("empty section set returned %d passages", len(got))
	}
}

func TestCoverage(t *testing.T) {
	tests := []struct {
		content string
		terms   []string
		want    float64
	}{
		{"Warfarin, in atrial fibrillation.", []string{"warfarin", "atrial", "fibrillation"}, 100},
		{"warfarin only", []string{"warfarin", "atrial"}, 50},
		{"nothing here", []string{"warfarin"}, 0},
		{"anything", nil, 0},
	}
	for _, tt := range tests {
		if got := coverage(tt.content, tt.terms); got != tt.want {
			t.Errorf("coverage(%q, %v) = %v, want %v", tt.content, tt.terms, got, tt.want)
		}
	}
}

func TestQueryTermsDedupesAndDropsShortTokens(t *testing.T) {
	got := queryTerms("Warfarin", []string{"type 2 diabetes", "WARFARIN", "of"})
	want := []string{"warfarin", "type", "diabetes"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("queryTerms = %v, want %v", got, want)
	}
}

// --- export tests ---

func TestExportJSON(t *testing.T) {
	store, tmpDir := testSetup(t)
	ingestHelper(t, store, tmpDir)

	if err := store.ExportJSON(context.Background(), QueryOptions{Sections: types.NewSectionSet(types.SectionToxicity)}); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(filepath.Join(tmpDir, "knowledge", indexDir, "export.json"))
	if err != nil {
		t.Fatal(err)
	}
	var monos []types.DrugMonograph
	if err := json.Unmarshal(data, &monos); err != nil {
		t.Fatal(err)
	}
	if len(monos) != 1 {
		t.Fatalf("got %d monographs, want 1", len(monos))
	}
	if monos[0].Drug != "Warfarin" || monos[0].Source != "test-fixture" {
		t.Errorf("monograph = %+v", monos[0])
	}
	if len(monos[0].Passages) != 1 || monos[0].Passages[0].Section != types.SectionToxicity {
		t.Errorf("passages = %+v", monos[0].Passages)
	}
}

func TestExportYAMLRoundTripsThroughIngest(t *testing.T) {
	store, tmpDir := testSetup(t)
	ingestHelper(t, store, tmpDir)

	if err := store.ExportYAML(context.Background(), QueryOptions{}); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(filepath.Join(tmpDir, "knowledge", indexDir, "export.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	var monos []types.DrugMonograph
	if err := yaml.Unmarshal(data, &monos); err != nil {
		t.Fatal(err)
	}
	if len(monos) != 1 || len(monos[0].Passages) != 8 {
		t.Fatalf("got %+v, want one monograph with 8 passages", monos)
	}

	other, otherDir := testSetup(t)
	writeMonograph(t, otherDir, "warfarin", monos[0])
	var buf strings.Builder
	summary, err := other.Ingest(context.Background(), &buf)
	if err != nil {
		t.Fatal(err)
	}
	if summary.Indexed != 1 {
		t.Errorf("summary = %+v, want 1 indexed", summary)
	}
	got, err := other.Search(context.Background(), QueryOptions{Drug: "warfarin"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 8 {
		t.Errorf("re-ingested %d passages, want 8", len(got))
	}
}
