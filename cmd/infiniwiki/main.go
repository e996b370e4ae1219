package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/cognicore/infiniwiki/internal/logger"
	"github.com/cognicore/infiniwiki/pkg/infiniwiki"
	"github.com/cognicore/infiniwiki/pkg/infiniwiki/config"
	"github.com/cognicore/infiniwiki/pkg/infiniwiki/ident"
)

const usage = `usage: infiniwiki [-config file] <command> [flags]

commands:
  seed      store the home article
  links     link the words of a text (file or stdin)
  enrich    register words and print their identifiers
  article   print an article, generating it on first visit
  home      print the linked home page
  stats     print registry statistics
  history   print a viewer's discoveries and visits
  lexicon   inspect the lemmatizer lexicon
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdin, os.Stdout); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		log.Fatal(err)
	}
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout io.Writer) error {
	global := flag.NewFlagSet("infiniwiki", flag.ContinueOnError)
	configPath := global.String("config", "", "YAML config file (optional)")
	global.Usage = func() { fmt.Fprint(global.Output(), usage) }
	if err := global.Parse(args); err != nil {
		return err
	}
	if global.NArg() == 0 {
		global.Usage()
		return flag.ErrHelp
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	lg, err := logger.New(cfg.Log.Mode, cfg.Log.Level)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer lg.Sync()

	loader := &config.Loader{Config: cfg, Log: lg}
	cmd, rest := global.Arg(0), global.Args()[1:]
	if cmd == "lexicon" {
		return cmdLexicon(loader, stdout, rest)
	}
	c, ok := commands[cmd]
	if !ok {
		global.Usage()
		return fmt.Errorf("unknown command %q", cmd)
	}

	wiki, err := loader.Open(ctx)
	if err != nil {
		return err
	}
	defer wiki.Close()

	return c(ctx, &env{wiki: wiki, cfg: cfg, stdin: stdin, stdout: stdout}, rest)
}

// parse parses args and rejects positional arguments.
func parse(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() > 0 {
		return fmt.Errorf("%s: unexpected arguments %q", fs.Name(), fs.Args())
	}
	return nil
}

type env struct {
	wiki   *infiniwiki.Wiki
	cfg    config.Config
	stdin  io.Reader
	stdout io.Writer
}

var commands = map[string]func(context.Context, *env, []string) error{
	"seed":    cmdSeed,
	"links":   cmdLinks,
	"enrich":  cmdEnrich,
	"article": cmdArticle,
	"home":    cmdHome,
	"stats":   cmdStats,
	"history": cmdHistory,
}

func cmdSeed(ctx context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("seed", flag.ContinueOnError)
	content := fs.String("content", e.cfg.Seed.ContentPath, "Article text file")
	name := fs.String("name", e.cfg.Seed.Name, "Article name")
	discoverer := fs.String("discoverer", e.cfg.Seed.Discoverer, "Credited discoverer")
	if err := parse(fs, args); err != nil {
		return err
	}

	text, err := os.ReadFile(*content)
	if err != nil {
		return fmt.Errorf("read seed content: %w", err)
	}
	id, inserted, err := e.wiki.Seed(ctx, *name, string(text), *discoverer)
	if err != nil {
		return err
	}
	if inserted {
		fmt.Fprintf(e.stdout, "seeded %q as %s\n", *name, id)
	} else {
		fmt.Fprintf(e.stdout, "%q already present as %s\n", *name, id)
	}
	return nil
}

func cmdLinks(ctx context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("links", flag.ContinueOnError)
	file := fs.String("file", "", "Input file (default stdin)")
	viewer := fs.String("viewer", "", "Viewer carried in links")
	if err := parse(fs, args); err != nil {
		return err
	}

	text, err := readInput(*file, e.stdin)
	if err != nil {
		return err
	}
	out, err := e.wiki.GenerateLinks(ctx, text, *viewer)
	if err != nil {
		return err
	}
	fmt.Fprintln(e.stdout, out)
	return nil
}

func cmdEnrich(ctx context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("enrich", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	ids, err := e.wiki.EnrichUnknownWords(ctx, fs.Args())
	if err != nil {
		return err
	}
	words := make([]string, 0, len(ids))
	for w := range ids {
		words = append(words, w)
	}
	sort.Strings(words)
	for _, w := range words {
		fmt.Fprintf(e.stdout, "%s\t%s\n", w, ids[w])
	}
	return nil
}

func cmdArticle(ctx context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("article", flag.ContinueOnError)
	id := fs.String("id", "", "Article identifier")
	name := fs.String("name", "", "Article name (alternative to -id)")
	viewer := fs.String("viewer", "", "Viewer identity")
	linked := fs.Bool("links", false, "Link the words of the content")
	if err := parse(fs, args); err != nil {
		return err
	}
	if *id == "" && *name != "" {
		*id = ident.Assign(*name)
	}
	if *id == "" {
		return errors.New("article: -id or -name required")
	}

	if *linked {
		page, err := e.wiki.Page(ctx, *id, *viewer)
		if err != nil {
			return err
		}
		fmt.Fprintf(e.stdout, "# %s\n\n%s\n", page.Title, page.HTML)
		return nil
	}
	content, err := e.wiki.GetOrGenerateContent(ctx, *id, *viewer)
	if err != nil {
		return err
	}
	fmt.Fprintln(e.stdout, content)
	return nil
}

func cmdHome(ctx context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("home", flag.ContinueOnError)
	viewer := fs.String("viewer", "", "Viewer identity")
	if err := parse(fs, args); err != nil {
		return err
	}
	page, err := e.wiki.Home(ctx, *viewer)
	if err != nil {
		return err
	}
	fmt.Fprintf(e.stdout, "# %s\n\n%s\n\n", page.Title, page.HTML)
	return printJSON(e.stdout, page.Stats)
}

func cmdStats(ctx context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("stats", flag.ContinueOnError)
	if err := parse(fs, args); err != nil {
		return err
	}
	st, err := e.wiki.GetAggregateStats(ctx)
	if err != nil {
		return err
	}
	return printJSON(e.stdout, st)
}

func cmdHistory(ctx context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	viewer := fs.String("viewer", "", "Viewer identity (required)")
	if err := parse(fs, args); err != nil {
		return err
	}
	if *viewer == "" {
		return errors.New("history: -viewer required")
	}
	h, err := e.wiki.GetUserHistory(ctx, *viewer)
	if err != nil {
		return err
	}
	return printJSON(e.stdout, h)
}

func cmdLexicon(loader *config.Loader, stdout io.Writer, args []string) error {
	fs := flag.NewFlagSet("lexicon", flag.ContinueOnError)
	word := fs.String("word", "", "Show the base form and variants of a word")
	vocab := fs.Bool("vocabulary", false, "List the known base words")
	if err := parse(fs, args); err != nil {
		return err
	}

	rules, err := loader.Lemmatizer()
	if err != nil {
		return err
	}
	lex := rules.Lexicon()
	switch {
	case *word != "":
		fmt.Fprintf(stdout, "%s\t%s\t%s\n", *word, lex.Normalize(*word), strings.Join(lex.Variants(*word), ","))
	case *vocab:
		for _, w := range lex.Words() {
			fmt.Fprintln(stdout, w)
		}
	default:
		return printJSON(stdout, lex.Stats())
	}
	return nil
}

func readInput(path string, stdin io.Reader) (string, error) {
	if path == "" || path == "-" {
		data, err := io.ReadAll(stdin)
		return string(data), err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return strings.TrimRight(string(data), "\n"), nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
