// Package cli is planctl: a command line client that edits plans through
// the same sync engine and gateways an embedded plan uses.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/rbroemmelsiek/HtoH-unified-sub001/internal/config"
	"github.com/rbroemmelsiek/HtoH-unified-sub001/internal/gateway"
	"github.com/rbroemmelsiek/HtoH-unified-sub001/internal/plan"
)

type App struct {
	Gateway      string
	Endpoint     string
	DatabaseURL  string
	OptionsFile  string
	PollInterval time.Duration
	WriteTimeout time.Duration
	Pretty       bool

	// Session flags. Unset flags fall through to the options file.
	Mode        string
	PlanID      string
	KeyID       string
	SessionType string
	Owner       int64

	// newGateway is replaced in tests.
	newGateway func(ctx context.Context, cfg gateway.Config) (gateway.Gateway, error)
}

func NewRootCmd() *cobra.Command {
	return newRootCmd(gateway.New)
}

func newRootCmd(newGateway func(ctx context.Context, cfg gateway.Config) (gateway.Gateway, error)) *cobra.Command {
	cfg := config.Load()
	app := &App{newGateway: newGateway}

	cmd := &cobra.Command{
		Use:          "planctl",
		Short:        "Read and edit plans from the command line",
		SilenceUsage: true,
		Example: strings.TrimSpace(`
  # Print a template as an outline
  planctl show --plan buyer --mode template --session-type ambassador --owner 7 --outline

  # Tick a task in a client's plan on a remote server
  planctl cycle 01HV... --endpoint https://plans.example --plan buyer --key k1 --session-type client --owner 42

  # Follow changes as they are pushed
  planctl watch --gateway push --endpoint https://plans.example --plan buyer --mode template
`),
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&app.Gateway, "gateway", cfg.GatewayKind, "Gateway kind (local|http|push); default picks http when an endpoint is set")
	flags.StringVar(&app.Endpoint, "endpoint", cfg.GatewayEndpoint, "Server base URL for the http and push gateways")
	flags.StringVar(&app.DatabaseURL, "db", cfg.DatabaseURL, "Database for the local gateway (sqlite://, postgres:// or memory://)")
	flags.StringVar(&app.OptionsFile, "options", "", "YAML or JSON file with widget options (planId, keyId, ownerId, mode, sessionType)")
	flags.DurationVar(&app.PollInterval, "poll", cfg.PollInterval, "Poll interval of the http gateway")
	flags.DurationVar(&app.WriteTimeout, "write-timeout", cfg.WriteTimeout, "Timeout of each backend write")
	flags.BoolVar(&app.Pretty, "pretty", false, "Pretty-print JSON output")

	flags.StringVar(&app.Mode, "mode", plan.ModePlan, "Session mode (plan|template|widget|named|viewonly)")
	flags.StringVar(&app.PlanID, "plan", "", "Plan id")
	flags.StringVar(&app.KeyID, "key", "", "Instance key id; empty reads the template as an example")
	flags.StringVar(&app.SessionType, "session-type", "", "Session type (client|ambassador|example|viewonly)")
	flags.Int64Var(&app.Owner, "owner", plan.UnsetOwner, "Owner id of the session")

	cmd.AddCommand(newShowCmd(app))
	cmd.AddCommand(newNavCmd(app))
	cmd.AddCommand(newSearchCmd(app))
	cmd.AddCommand(newWatchCmd(app))
	cmd.AddCommand(newAddCmd(app))
	cmd.AddCommand(newRenameCmd(app))
	cmd.AddCommand(newCycleCmd(app))
	cmd.AddCommand(newHideCmd(app))
	cmd.AddCommand(newReadCmd(app))
	cmd.AddCommand(newMoveCmd(app))
	cmd.AddCommand(newMoveOutCmd(app))
	cmd.AddCommand(newDeleteCmd(app))

	return cmd
}

// session merges the session flags the user set with the options file.
func (app *App) session(cmd *cobra.Command) (plan.Session, error) {
	var explicit config.WidgetOptions
	flags := cmd.Flags()
	if flags.Changed("mode") {
		explicit.Mode = &app.Mode
	}
	if flags.Changed("plan") {
		explicit.PlanID = &app.PlanID
	}
	if flags.Changed("key") {
		explicit.KeyID = &app.KeyID
	}
	if flags.Changed("session-type") {
		explicit.SessionType = &app.SessionType
	}
	if flags.Changed("owner") {
		explicit.OwnerID = &app.Owner
	}

	var block []byte
	if app.OptionsFile != "" {
		raw, err := os.ReadFile(app.OptionsFile)
		if err != nil {
			return plan.Session{}, fmt.Errorf("read options: %w", err)
		}
		block = raw
	}
	widget, err := config.ResolveWidget(explicit, nil, block)
	if err != nil {
		return plan.Session{}, err
	}
	return widget.Session, nil
}

// client is one loaded plan: the syncer over its gateway.
type client struct {
	gw     gateway.Gateway
	syncer *plan.Syncer
	store  *plan.Store
}

// open loads the session's plan and keeps it subscribed until close.
func (app *App) open(cmd *cobra.Command) (*client, error) {
	session, err := app.session(cmd)
	if err != nil {
		return nil, err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	gw, err := app.newGateway(ctx, gateway.Config{
		Kind:         gateway.Kind(app.Gateway),
		Endpoint:     app.Endpoint,
		DatabaseURL:  app.DatabaseURL,
		PollInterval: app.PollInterval,
	})
	if err != nil {
		return nil, err
	}

	store := plan.NewStore(session)
	syncer := plan.NewSyncer(ctx, store, gw, plan.SyncOptions{WriteTimeout: app.WriteTimeout})
	if err := syncer.GetPlan(ctx); err != nil {
		gw.Close()
		return nil, err
	}
	if failed, msg := store.TreeError(); failed {
		syncer.Close()
		gw.Close()
		return nil, errors.New(msg)
	}
	return &client{gw: gw, syncer: syncer, store: store}, nil
}

// settle waits for in-flight writes and reports any the backend refused.
func (c *client) settle(before int) error {
	c.syncer.Wait()
	failures := c.store.WriteFailures()
	if len(failures) <= before {
		return nil
	}
	last := failures[len(failures)-1]
	return fmt.Errorf("%w: %s %s: %s", plan.ErrWriteRejected, last.Action, last.Row.EID, last.Err)
}

func (c *client) close() {
	c.syncer.Wait()
	c.syncer.Close()
	c.gw.Close()
}

// write runs one edit and waits for the backend to settle it.
func (app *App) write(cmd *cobra.Command, edit func(c *client) (any, error)) error {
	c, err := app.open(cmd)
	if err != nil {
		return writeErr(cmd, err)
	}
	defer c.close()

	before := len(c.store.WriteFailures())
	out, err := edit(c)
	if err != nil {
		return writeErr(cmd, err)
	}
	if err := c.settle(before); err != nil {
		return writeErr(cmd, err)
	}
	return writeOut(cmd, app, out)
}

func writeOut(cmd *cobra.Command, app *App, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	if app.Pretty {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(v)
}

func writeErr(cmd *cobra.Command, err error) error {
	fmt.Fprintln(cmd.ErrOrStderr(), err.Error())
	return err
}
