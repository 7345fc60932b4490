package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/sweetpotato0/coach-qa/contrib/chunking/markdown"
	"github.com/sweetpotato0/coach-qa/contrib/store/memory"
	"github.com/sweetpotato0/coach-qa/rag/chunking"
	"github.com/sweetpotato0/coach-qa/rag/document"
	"github.com/sweetpotato0/coach-qa/rag/preprocess"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <file>...",
	Short: "Chunk coach content into a chunk file the in-memory store can load",
	Long: `Chunk coach content into a chunk file the in-memory store can load.

Each input file becomes one source; its ID defaults to the file name without
extension. Markdown files are split along their headings. HTML is reduced to
plain text first. Everything else is split by paragraph.

Examples:
  coachqa ingest --coach coach-7 drills/passing.md drills/warmups.md > chunks.yaml
  coachqa ingest --coach coach-7 --source vid-42 --keywords passing,beginners transcript.txt`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		coach, _ := cmd.Flags().GetString("coach")
		source, _ := cmd.Flags().GetString("source")
		format, _ := cmd.Flags().GetString("format")
		keywords, _ := cmd.Flags().GetStringSlice("keywords")

		if coach == "" {
			return fmt.Errorf("--coach is required")
		}
		if source != "" && len(args) > 1 {
			return fmt.Errorf("--source applies to a single input file")
		}

		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		var all []document.Chunk
		for _, path := range args {
			chunks, err := ingestFile(ctx, path, chunking.Source{
				CoachID:   coach,
				SourceID:  source,
				Keywords:  keywords,
				CreatedAt: time.Now().UTC().Truncate(time.Second),
			}, format)
			if err != nil {
				return err
			}
			all = append(all, chunks...)
		}

		out, err := memory.Encode(all)
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(out)
		return err
	},
}

func init() {
	ingestCmd.Flags().String("coach", "", "coach ID the chunks belong to")
	ingestCmd.Flags().String("source", "", "source ID; defaults to the file name")
	ingestCmd.Flags().String("format", "auto", "input format: auto, markdown, html or text")
	ingestCmd.Flags().StringSlice("keywords", nil, "keywords attached to every chunk")
}

func ingestFile(ctx context.Context, path string, src chunking.Source, format string) ([]document.Chunk, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if src.SourceID == "" {
		base := filepath.Base(path)
		src.SourceID = strings.TrimSuffix(base, filepath.Ext(base))
	}
	src.Text = string(data)
	if format == "html" || (format == "auto" || format == "") && isHTML(path) {
		src.Text = preprocess.Normalize(src.Text)
	}

	ch, err := chunkerFor(format, path)
	if err != nil {
		return nil, err
	}
	chunks, err := ch.Chunk(ctx, src)
	if err != nil {
		return nil, fmt.Errorf("chunk %s: %w", path, err)
	}
	return chunks, nil
}

func chunkerFor(format, path string) (chunking.Chunker, error) {
	switch format {
	case "markdown":
		return markdown.New(), nil
	case "text", "html":
		return chunking.NewSimpleChunker(), nil
	case "", "auto":
		switch strings.ToLower(filepath.Ext(path)) {
		case ".md", ".markdown":
			return markdown.New(), nil
		}
		return chunking.NewSimpleChunker(), nil
	default:
		return nil, fmt.Errorf("unknown format %q", format)
	}
}

func isHTML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".html", ".htm":
		return true
	}
	return false
}
