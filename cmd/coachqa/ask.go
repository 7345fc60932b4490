package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/sweetpotato0/coach-qa/answer"
	"github.com/sweetpotato0/coach-qa/config"
	"github.com/sweetpotato0/coach-qa/ensemble"
	"github.com/sweetpotato0/coach-qa/mcp"
)

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Answer one question and print the answer package as JSON",
	Long: `Answer one question and print the answer package as JSON.

Examples:
  coachqa ask --coach coach-7 --user athlete-1 "What's a good passing drill for beginners?"
  coachqa ask --coach coach-7 --user athlete-1 --mode crosscheck "How do I stay calm before games?"
  coachqa ask --remote http://127.0.0.1:8080/mcp --coach coach-7 --user athlete-1 "Warm-up ideas?"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		coach, _ := cmd.Flags().GetString("coach")
		user, _ := cmd.Flags().GetString("user")
		modeFlag, _ := cmd.Flags().GetString("mode")
		remote, _ := cmd.Flags().GetString("remote")

		if coach == "" || user == "" {
			return fmt.Errorf("--coach and --user are required")
		}
		req := answer.Request{
			Question: strings.Join(args, " "),
			CoachID:  coach,
			UserID:   user,
		}
		if modeFlag != "" {
			mode, err := ensemble.ParseMode(modeFlag)
			if err != nil {
				return err
			}
			req.Mode = mode
		}

		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		pkg, err := ask(ctx, remote, req)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(pkg)
	},
}

func init() {
	askCmd.Flags().String("coach", "", "coach ID")
	askCmd.Flags().String("user", "", "asking athlete's user ID")
	askCmd.Flags().String("mode", "", "ensemble mode: consensus, crosscheck or moe")
	askCmd.Flags().String("remote", "", "streamable MCP endpoint of a running server; empty runs the pipeline in process")
}

func ask(ctx context.Context, remote string, req answer.Request) (*answer.Package, error) {
	if remote != "" {
		c, err := mcp.Dial(ctx, remote)
		if err != nil {
			return nil, err
		}
		defer c.Close()
		return c.Ask(ctx, req)
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	a, err := newApp(ctx, cfg)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := a.Close(context.Background()); err != nil {
			fmt.Fprintf(os.Stderr, "warning: shutdown: %v\n", err)
		}
	}()
	return a.orchestrator.Answer(ctx, req)
}
