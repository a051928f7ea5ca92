package cli

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/rbroemmelsiek/HtoH-unified-sub001/internal/plan"
)

func newShowCmd(app *App) *cobra.Command {
	var outline bool
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the plan",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := app.open(cmd)
			if err != nil {
				return writeErr(cmd, err)
			}
			defer c.close()

			snap := c.store.Snapshot()
			if outline {
				writeOutline(cmd.OutOrStdout(), snap)
				return nil
			}
			return writeOut(cmd, app, snap)
		},
	}
	cmd.Flags().BoolVar(&outline, "outline", false, "Print an indented outline instead of JSON")
	return cmd
}

func newNavCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "nav",
		Short: "Print the progress of each panel",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := app.open(cmd)
			if err != nil {
				return writeErr(cmd, err)
			}
			defer c.close()
			return writeOut(cmd, app, plan.NewSelectors(c.store).NavSteps())
		},
	}
}

type searchHit struct {
	EID     string       `json:"eid"`
	Type    plan.RowType `json:"type"`
	Name    string       `json:"name"`
	Tooltip bool         `json:"tooltip,omitempty"`
	Video   bool         `json:"video,omitempty"`
}

func newSearchCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "search <text>",
		Short: "List rows whose name, link, tooltip or video script match",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := app.open(cmd)
			if err != nil {
				return writeErr(cmd, err)
			}
			defer c.close()

			hits := []searchHit{}
			if c.syncer.Search(args[0]) {
				plan.Walk(c.store.Snapshot().Root.Children, func(r *plan.Row) {
					if !r.FilterMatch {
						return
					}
					hits = append(hits, searchHit{
						EID:     r.EID,
						Type:    r.Type,
						Name:    r.Name,
						Tooltip: r.HighlightedTooltip,
						Video:   r.HighlightedVideo,
					})
				})
			}
			return writeOut(cmd, app, hits)
		},
	}
}

func newWatchCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Print the plan's progress each time it changes, until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			cmd.SetContext(ctx)

			c, err := app.open(cmd)
			if err != nil {
				return writeErr(cmd, err)
			}
			defer c.close()

			selectors := plan.NewSelectors(c.store)
			var mu sync.Mutex
			report := func(version uint64) {
				mu.Lock()
				defer mu.Unlock()
				_ = writeOut(cmd, app, map[string]any{
					"version": version,
					"name":    c.store.Name(),
					"nav":     selectors.NavSteps(),
				})
			}
			cancel := c.store.Watch(report)
			report(c.store.Version())
			defer cancel()

			<-ctx.Done()
			return nil
		},
	}
}

// writeOutline prints one line per row, indented by depth, with the task
// state of checkboxes.
func writeOutline(w io.Writer, snap plan.Snapshot) {
	if snap.Name != "" {
		fmt.Fprintln(w, snap.Name)
	}
	var walk func(family []*plan.Row, depth int)
	walk = func(family []*plan.Row, depth int) {
		for _, r := range family {
			hidden := ""
			if !r.Visible {
				hidden = " (hidden)"
			}
			fmt.Fprintf(w, "%s%s %s%s  [%s]\n", strings.Repeat("  ", depth), marker(r), r.Name, hidden, r.EID)
			walk(r.Children, depth+1)
		}
	}
	walk(snap.Root.Children, 0)
}

func marker(r *plan.Row) string {
	switch r.Type {
	case plan.TypeCheckbox:
		switch r.Checked {
		case plan.CheckedDone:
			return "[x]"
		case plan.CheckedNext:
			return "[>]"
		default:
			return "[ ]"
		}
	case plan.TypePanel:
		return fmt.Sprintf("# (%d/%d)", r.DoneTasks, r.TotalTasks)
	case plan.TypeLink:
		return "->"
	case plan.TypeComment:
		return "//"
	default:
		return "-"
	}
}
