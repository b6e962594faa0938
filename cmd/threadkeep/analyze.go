package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nao1215/threadkeep/internal/analyzer"
	"github.com/nao1215/threadkeep/internal/config"
	"github.com/nao1215/threadkeep/internal/database"
	"github.com/nao1215/threadkeep/internal/model"
)

var (
	// errNoSelection is returned when analyze gets neither a community nor post IDs.
	errNoSelection = errors.New("nothing to analyze: pass a community or --ids")

	// errInvalidItemID is returned for an --ids value that is neither an ID nor a post URL.
	errInvalidItemID = errors.New("invalid post ID")
)

// NewAnalyzeCmd creates the analyze command.
func NewAnalyzeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "analyze [community]",
		Short: "Analyze archived posts with a language model",
		Long: `Analyze sends archived posts, with their top comments, to an
OpenAI-compatible chat completion endpoint and stores the JSON object it
answers with next to the post.

Only valid posts without a stored result are selected unless --force is
given. The API key is read from THREADKEEP_LLM_API_KEY (also via .env),
the configuration file or the prompt file.

Examples:
  # Analyze every new post of r/golang
  threadkeep analyze golang
  threadkeep analyze --group golang

  # Re-analyze two posts with a custom prompt
  threadkeep analyze --ids 1kia2bg,1kib3ch --force --prompt-file prompt.yaml`,
		Args: cobra.MaximumNArgs(1),
		RunE: runAnalyzeCmd,
	}

	cmd.Flags().StringP("group", "g", "", "Community to analyze (same as the positional argument)")
	cmd.Flags().StringSlice("ids", nil, "Post IDs or post URLs to analyze")
	cmd.Flags().Bool("force", false, "Re-analyze posts that already have a result")
	cmd.Flags().String("model", config.DefaultLLMModel, "Model name")
	cmd.Flags().String("base-url", config.DefaultLLMBaseURL, "OpenAI-compatible API base URL")
	cmd.Flags().String("prompt-file", "", "YAML file with system_prompt and user_message_template")
	cmd.Flags().Duration("llm-delay", config.DefaultLLMDelay, "Pause between posts")

	return cmd
}

func runAnalyzeCmd(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close() //nolint:errcheck

	sel := analyzer.Selection{}
	group, err := cmd.Flags().GetString("group")
	if err != nil {
		return err
	}
	if len(args) == 1 {
		group = args[0]
	}
	if group != "" {
		if _, sel.Group, err = resolveTarget(group); err != nil {
			return err
		}
	}
	rawIDs, err := cmd.Flags().GetStringSlice("ids")
	if err != nil {
		return err
	}
	if sel.IDs, err = parseItemIDs(rawIDs); err != nil {
		return err
	}
	if sel.Group == "" && len(sel.IDs) == 0 {
		return errNoSelection
	}
	if sel.Force, err = cmd.Flags().GetBool("force"); err != nil {
		return err
	}

	ctx, stop := signalContext(cmd.Context())
	defer stop()
	a.serveMetrics(ctx)

	db, err := a.openExistingDB()
	if err != nil {
		if errors.Is(err, database.ErrDatabaseNotFound) {
			return fmt.Errorf("%w (fetch some posts first)", err)
		}
		return err
	}
	an, err := a.newAnalyzer(db)
	if err != nil {
		return err
	}

	res, err := an.Analyze(ctx, sel)
	fmt.Fprintf(a.out, "Selected %d posts, analyzed %d, failed %d\n", res.Selected, res.Analyzed, len(res.Failed))
	for _, id := range res.Failed {
		fmt.Fprintf(a.out, "  failed: %s\n", id)
	}
	return err
}

// parseItemIDs accepts bare post IDs and post URLs.
func parseItemIDs(raw []string) ([]model.ItemID, error) {
	ids := make([]model.ItemID, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		if id, ok := model.ExtractItemID(r); ok {
			ids = append(ids, id)
			continue
		}
		if strings.ContainsAny(r, "/?#: ") {
			return nil, fmt.Errorf("%w: %s", errInvalidItemID, r)
		}
		ids = append(ids, model.ItemID(r))
	}
	return ids, nil
}
