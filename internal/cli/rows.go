package cli

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/rbroemmelsiek/HtoH-unified-sub001/internal/plan"
)

var (
	errNotApplied   = errors.New("change not applied")
	errHasChildren  = errors.New("row has children; pass --force to delete the subtree")
	errCannotCycle  = errors.New("this session cannot change the row's task state")
	errRowNotLoaded = errors.New("row is not in the loaded plan")
)

func newAddCmd(app *App) *cobra.Command {
	var (
		typ     string
		name    string
		tooltip string
		link    string
		pos     int
	)
	cmd := &cobra.Command{
		Use:   "add <parent-eid>",
		Short: "Add a row under a parent (root for a top-level panel)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.write(cmd, func(c *client) (any, error) {
				patches := []plan.Patch{plan.SetName(name)}
				if tooltip != "" {
					patches = append(patches, plan.SetTooltip(tooltip))
				}
				if link != "" {
					patches = append(patches, plan.SetLink(link))
				}
				row, err := c.syncer.RowAdd(args[0], plan.RowType(typ), pos, patches...)
				if err != nil {
					return nil, err
				}
				return row.Short(), nil
			})
		},
	}
	cmd.Flags().StringVar(&typ, "type", string(plan.TypeCheckbox), "Row type (panel|text|checkbox|link|comment)")
	cmd.Flags().StringVar(&name, "name", "", "Row name")
	cmd.Flags().StringVar(&tooltip, "tooltip", "", "Tooltip text")
	cmd.Flags().StringVar(&link, "link", "", "Link URL")
	cmd.Flags().IntVar(&pos, "pos", -1, "Position among siblings; negative appends")
	return cmd
}

func newRenameCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "rename <eid> <name>",
		Short: "Rename a row",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.write(cmd, func(c *client) (any, error) {
				if !c.syncer.RowUpdate(args[0], plan.SetName(args[1])) {
					return nil, errRowNotLoaded
				}
				return found(c, args[0])
			})
		},
	}
}

func newCycleCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "cycle <eid>",
		Short: "Advance a checkbox: new, next, done, new",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.write(cmd, func(c *client) (any, error) {
				if _, ok := c.store.Find(args[0]); !ok {
					return nil, errRowNotLoaded
				}
				if !c.syncer.Cycle(args[0]) {
					return nil, errCannotCycle
				}
				return found(c, args[0])
			})
		},
	}
}

func newHideCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "hide <eid>",
		Short: "Toggle whether a row is shown to plan sessions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.write(cmd, func(c *client) (any, error) {
				if !c.syncer.ToggleVisible(args[0]) {
					return nil, errRowNotLoaded
				}
				return found(c, args[0])
			})
		},
	}
}

func newReadCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "read <eid>",
		Short: "Mark a link or comment as read",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.write(cmd, func(c *client) (any, error) {
				if !c.syncer.MarkRead(args[0]) {
					return nil, fmt.Errorf("%w: %s is not an unread link or comment", errNotApplied, args[0])
				}
				return found(c, args[0])
			})
		},
	}
}

func newMoveCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "move <eid> <pos>",
		Short: "Move a row to a new position among its siblings",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			pos, err := strconv.Atoi(args[1])
			if err != nil {
				return writeErr(cmd, fmt.Errorf("pos must be an integer: %w", err))
			}
			return app.write(cmd, func(c *client) (any, error) {
				if !c.syncer.RowMove(args[0], pos) {
					return nil, errRowNotLoaded
				}
				return found(c, args[0])
			})
		},
	}
}

func newMoveOutCmd(app *App) *cobra.Command {
	var pos int
	cmd := &cobra.Command{
		Use:   "move-out <eid> <new-parent-eid>",
		Short: "Move a row under a different parent",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.write(cmd, func(c *client) (any, error) {
				if !c.syncer.RowMoveOut(args[0], args[1], pos) {
					return nil, fmt.Errorf("%w: cannot move %s under %s", errNotApplied, args[0], args[1])
				}
				return found(c, args[0])
			})
		},
	}
	cmd.Flags().IntVar(&pos, "pos", -1, "Position under the new parent; negative appends")
	return cmd
}

func newDeleteCmd(app *App) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "delete <eid>",
		Short: "Delete a row and everything below it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.write(cmd, func(c *client) (any, error) {
				if c.syncer.RowDelete(args[0], force) {
					return map[string]any{"deleted": args[0]}, nil
				}
				if modal := c.store.Modal(); modal.Name == plan.ModalConfirmDelete && modal.EID == args[0] {
					return nil, errHasChildren
				}
				return nil, errRowNotLoaded
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Delete a row that has children")
	return cmd
}

func found(c *client, eid string) (plan.ShortRow, error) {
	row, ok := c.store.Find(eid)
	if !ok {
		return plan.ShortRow{}, errRowNotLoaded
	}
	return row.Short(), nil
}
