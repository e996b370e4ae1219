package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cognicore/infiniwiki/pkg/infiniwiki/ident"
	"github.com/cognicore/infiniwiki/pkg/infiniwiki/internalerr"
	"github.com/cognicore/infiniwiki/pkg/infiniwiki/store"
)

// isolate points the CLI at a fresh sqlite file with no model configured.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	chdir(t, dir)
	t.Setenv("INFINIWIKI_DB_DRIVER", "sqlite")
	t.Setenv("DATABASE_URL", filepath.Join(dir, "wiki.db"))
	t.Setenv("INFINIWIKI_CACHE", "memory")
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("LOG_LEVEL", "error")
	return dir
}

func runCLI(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	err := run(context.Background(), args, strings.NewReader(stdin), &out)
	return out.String(), err
}

func TestRunRequiresCommand(t *testing.T) {
	isolate(t)
	if _, err := runCLI(t, ""); !errors.Is(err, flag.ErrHelp) {
		t.Fatalf("expected ErrHelp, got %v", err)
	}
}

func TestRunUnknownCommand(t *testing.T) {
	isolate(t)
	_, err := runCLI(t, "", "frobnicate")
	if err == nil || !strings.Contains(err.Error(), "frobnicate") {
		t.Fatalf("expected unknown command error, got %v", err)
	}
}

func TestSeedThenStats(t *testing.T) {
	dir := isolate(t)
	content := filepath.Join(dir, "home.txt")
	if err := os.WriteFile(content, []byte("Welcome to the wiki"), 0o644); err != nil {
		t.Fatal(err)
	}

	out, err := runCLI(t, "", "seed", "-content", content)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	if !strings.Contains(out, ident.Assign("Infinite Wiki")) {
		t.Errorf("seed output missing identifier: %q", out)
	}

	out, err = runCLI(t, "", "seed", "-content", content)
	if err != nil {
		t.Fatalf("second seed: %v", err)
	}
	if !strings.Contains(out, "already present") {
		t.Errorf("second seed should be a no-op, got %q", out)
	}

	out, err = runCLI(t, "", "stats")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	var st store.Stats
	if err := json.Unmarshal([]byte(out), &st); err != nil {
		t.Fatalf("decode stats %q: %v", out, err)
	}
	if st.TotalArticles != 1 || st.MostActiveUser != "Lau&Five" {
		t.Errorf("unexpected stats %+v", st)
	}
}

func TestSeedMissingContent(t *testing.T) {
	dir := isolate(t)
	if _, err := runCLI(t, "", "seed", "-content", filepath.Join(dir, "missing.txt")); err == nil {
		t.Fatal("expected error for missing seed content")
	}
}

func TestLinksFromStdin(t *testing.T) {
	isolate(t)
	out, err := runCLI(t, "The cats ran", "links", "-viewer", "ada")
	if err != nil {
		t.Fatalf("links: %v", err)
	}
	want := `<a href="/article/` + ident.Assign("cat") + `?viewer=ada">cats</a>`
	if !strings.Contains(out, want) {
		t.Errorf("output %q missing %q", out, want)
	}
}

func TestEnrichPrintsIdentifiers(t *testing.T) {
	isolate(t)
	out, err := runCLI(t, "", "enrich", "Dogs", "dog")
	if err != nil {
		t.Fatalf("enrich: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %q", out)
	}
	for _, line := range lines {
		if !strings.HasSuffix(line, ident.Assign("dog")) {
			t.Errorf("line %q should resolve to dog", line)
		}
	}
}

func TestArticleWithoutModelFails(t *testing.T) {
	isolate(t)
	if _, err := runCLI(t, "", "enrich", "cat"); err != nil {
		t.Fatal(err)
	}
	_, err := runCLI(t, "", "article", "-name", "cat", "-viewer", "ada")
	if !errors.Is(err, internalerr.ErrGenerationFailed) {
		t.Fatalf("expected ErrGenerationFailed, got %v", err)
	}
}

func TestArticleRequiresID(t *testing.T) {
	isolate(t)
	if _, err := runCLI(t, "", "article"); err == nil {
		t.Fatal("expected error without -id or -name")
	}
}

func TestHomeAndHistory(t *testing.T) {
	dir := isolate(t)
	content := filepath.Join(dir, "home.txt")
	if err := os.WriteFile(content, []byte("Every word is a door"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := runCLI(t, "", "seed", "-content", content); err != nil {
		t.Fatal(err)
	}

	out, err := runCLI(t, "", "home", "-viewer", "ada")
	if err != nil {
		t.Fatalf("home: %v", err)
	}
	if !strings.HasPrefix(out, "# Infinite Wiki") || !strings.Contains(out, ">door</a>") {
		t.Errorf("unexpected home page %q", out)
	}

	out, err = runCLI(t, "", "history", "-viewer", "ada")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	var h struct {
		Viewer string
		Recent []store.Visit
	}
	if err := json.Unmarshal([]byte(out), &h); err != nil {
		t.Fatalf("decode history %q: %v", out, err)
	}
	if h.Viewer != "ada" || len(h.Recent) != 1 || h.Recent[0].Name != "Infinite Wiki" {
		t.Errorf("unexpected history %+v", h)
	}
}

func TestHistoryRequiresViewer(t *testing.T) {
	isolate(t)
	if _, err := runCLI(t, "", "history"); err == nil {
		t.Fatal("expected error without -viewer")
	}
}

func TestStatsRejectsArguments(t *testing.T) {
	isolate(t)
	if _, err := runCLI(t, "", "stats", "extra"); err == nil || !strings.Contains(err.Error(), "extra") {
		t.Fatalf("expected unexpected-argument error, got %v", err)
	}
	if _, err := runCLI(t, "", "stats", "-bogus"); err == nil {
		t.Fatal("expected error for unknown flag")
	}
}

func TestLexicon(t *testing.T) {
	dir := isolate(t)

	out, err := runCLI(t, "", "lexicon")
	if err != nil {
		t.Fatalf("lexicon: %v", err)
	}
	var st struct{ FormGroups, TotalVariants, VocabularySize int }
	if err := json.Unmarshal([]byte(out), &st); err != nil {
		t.Fatalf("decode lexicon stats %q: %v", out, err)
	}
	if st.FormGroups == 0 || st.VocabularySize == 0 {
		t.Errorf("expected a populated lexicon, got %+v", st)
	}

	out, err = runCLI(t, "", "lexicon", "-word", "were")
	if err != nil {
		t.Fatalf("lexicon -word: %v", err)
	}
	fields := strings.Split(strings.TrimSpace(out), "\t")
	if len(fields) != 3 || fields[1] != "be" || !strings.Contains(fields[2], "are") {
		t.Errorf("unexpected lexicon entry %q", out)
	}

	out, err = runCLI(t, "", "lexicon", "-vocabulary")
	if err != nil {
		t.Fatalf("lexicon -vocabulary: %v", err)
	}
	if !strings.Contains("\n"+out, "\ncat\n") {
		t.Errorf("vocabulary should list cat")
	}

	// Inspecting the lexicon never opens the database.
	if _, err := os.Stat(filepath.Join(dir, "wiki.db")); !os.IsNotExist(err) {
		t.Errorf("lexicon created the database: %v", err)
	}
}
