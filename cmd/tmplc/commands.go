package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/natefinch/atomic"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
	_ "modernc.org/sqlite"

	"github.com/CTAG07/safetmpl/pkg/expression"
	"github.com/CTAG07/safetmpl/pkg/parse"
	"github.com/CTAG07/safetmpl/pkg/store"
	"github.com/CTAG07/safetmpl/pkg/templating"
)

// errCheckFailed is returned by check after every file has been reported.
var errCheckFailed = errors.New("one or more templates failed to check")

type rootOptions struct {
	fast         bool
	noAutoescape bool
	blocks       []string
	maxDepth     int
	verbose      bool
}

func (o *rootOptions) config() templating.TemplateConfig {
	cfg := templating.DefaultConfig()
	cfg.Strict = !o.fast
	cfg.Autoescape = !o.noAutoescape
	cfg.BlockDirectives = o.blocks
	if o.maxDepth > 0 {
		cfg.MaxIncludeDepth = o.maxDepth
	}
	return cfg
}

func (o *rootOptions) logger(w io.Writer) *slog.Logger {
	if !o.verbose {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "tmplc",
		Short:         "Check, inspect and render templates",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	flags := root.PersistentFlags()
	flags.BoolVar(&opts.fast, "fast", false, "skip expression syntax probing while parsing")
	flags.BoolVar(&opts.noAutoescape, "no-autoescape", false, "do not HTML-escape substitutions by default")
	flags.StringSliceVar(&opts.blocks, "block", nil, "extra block directive names")
	flags.IntVar(&opts.maxDepth, "max-depth", 0, "maximum {{tmpl}} nesting depth")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "log debug output to stderr")

	root.AddCommand(newCheckCmd(opts), newTreeCmd(opts), newRenderCmd(opts))
	return root
}

func newCheckCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check FILE...",
		Short: "Parse and compile templates, reporting every error",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			registry := templating.NewRegistry(opts.config(), expression.New())
			registry.SetLogger(opts.logger(cmd.ErrOrStderr()))
			out := cmd.OutOrStdout()

			failed := false
			for _, path := range args {
				source, err := os.ReadFile(path)
				if err == nil {
					err = registry.Check(string(source))
				}
				if err != nil {
					failed = true
					_, _ = fmt.Fprintf(out, "FAIL %s: %v\n", path, err)
					continue
				}
				_, _ = fmt.Fprintf(out, "ok   %s\n", path)
			}
			if failed {
				return errCheckFailed
			}
			return nil
		},
	}
}

func newTreeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "tree FILE",
		Short: "Print the parse tree of a template",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			source, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			cfg := opts.config()
			blocks := cfg.Blocks().Union(parse.GuessBlockDirectives(string(source)))
			tree, err := parse.Parse(string(source), blocks,
				parse.WithMode(cfg.Mode()),
				parse.WithChecker(expression.New()),
			)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			writeOutline(out, tree.Root, 0)
			_, _ = fmt.Fprintln(out, "---")
			_, _ = fmt.Fprintln(out, parse.Serialize(tree, blocks))
			return nil
		},
	}
}

// writeOutline prints one line per node, indented by depth.
func writeOutline(w io.Writer, d *parse.DirectiveNode, depth int) {
	indent := strings.Repeat("  ", depth)
	for _, n := range d.Children {
		switch n := n.(type) {
		case *parse.TextNode:
			_, _ = fmt.Fprintf(w, "%stext %q\n", indent, n.Text)
		case *parse.SubstitutionNode:
			if len(n.Pipes) > 0 {
				_, _ = fmt.Fprintf(w, "%s= %s => %s\n", indent, n.Expr, strings.Join(n.Pipes, " => "))
				continue
			}
			_, _ = fmt.Fprintf(w, "%s= %s\n", indent, n.Expr)
		case *parse.DirectiveNode:
			_, _ = fmt.Fprintf(w, "%s%s %s\n", indent, n.Name, strings.TrimSpace(n.Content))
			writeOutline(w, n, depth+1)
		}
	}
}

type renderOptions struct {
	dataPath    string
	optionsPath string
	outPath     string
	dbPath      string
}

func newRenderCmd(opts *rootOptions) *cobra.Command {
	ro := &renderOptions{}
	cmd := &cobra.Command{
		Use:   "render FILE",
		Short: "Render a template with data from a JSON or YAML file",
		Long: "Render a template. Every *.tmpl.html and *.part.html file next to FILE is\n" +
			"registered under its name without the suffix so {{tmpl}} can include it.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRender(cmd, opts, ro, args[0])
		},
	}
	cmd.Flags().StringVarP(&ro.dataPath, "data", "d", "", "JSON or YAML file with the template data")
	cmd.Flags().StringVar(&ro.optionsPath, "options", "", "JSON or YAML file with the template options ($item)")
	cmd.Flags().StringVarP(&ro.outPath, "out", "o", "", "write output to this file instead of stdout")
	cmd.Flags().StringVar(&ro.dbPath, "db", "", "SQLite database whose stored templates are also registered")
	return cmd
}

func runRender(cmd *cobra.Command, opts *rootOptions, ro *renderOptions, path string) error {
	cfg := opts.config()
	registry := templating.NewRegistry(cfg, expression.New())
	registry.SetLogger(opts.logger(cmd.ErrOrStderr()))

	if err := registerSiblings(registry, filepath.Dir(path), cfg); err != nil {
		return err
	}
	if ro.dbPath != "" {
		if err := registerStored(cmd.Context(), registry, ro.dbPath); err != nil {
			return err
		}
	}

	source, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	tmpl, err := registry.Compile(string(source))
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	data, err := loadValue(ro.dataPath)
	if err != nil {
		return err
	}
	options, err := loadValue(ro.optionsPath)
	if err != nil {
		return err
	}

	out, err := tmpl.Render(data, options)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	if ro.outPath == "" {
		_, err = io.WriteString(cmd.OutOrStdout(), out)
		return err
	}
	return atomic.WriteFile(ro.outPath, strings.NewReader(out))
}

// registerSiblings registers the templates and partials found in dir.
func registerSiblings(registry *templating.Registry, dir string, cfg templating.TemplateConfig) error {
	for _, suffix := range []string{cfg.TemplateSuffix, cfg.PartialSuffix} {
		paths, err := filepath.Glob(filepath.Join(dir, "*"+suffix))
		if err != nil {
			return err
		}
		for _, p := range paths {
			source, err := os.ReadFile(p)
			if err != nil {
				return err
			}
			name := strings.TrimSuffix(filepath.Base(p), suffix)
			if err = registry.RegisterTemplate(name, string(source)); err != nil {
				return fmt.Errorf("%s: %w", p, err)
			}
		}
	}
	return nil
}

// registerStored registers every template kept in the SQLite store at dbPath.
func registerStored(ctx context.Context, registry *templating.Registry, dbPath string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() { _ = db.Close() }()

	if err = store.SetupSchema(db); err != nil {
		return err
	}
	st, err := store.New(db)
	if err != nil {
		return err
	}
	defer st.Close()

	records, err := st.List(ctx)
	if err != nil {
		return err
	}
	for _, rec := range records {
		if err = registry.RegisterTemplate(rec.Name, rec.Source); err != nil {
			return err
		}
	}
	return nil
}

// loadValue decodes a JSON or YAML file, chosen by extension. An empty
// path yields nil.
func loadValue(path string) (any, error) {
	if path == "" {
		return nil, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var v any
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(raw, &v)
	default:
		err = json.Unmarshal(raw, &v)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return v, nil
}
