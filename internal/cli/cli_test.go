package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rbroemmelsiek/HtoH-unified-sub001/internal/backend"
	"github.com/rbroemmelsiek/HtoH-unified-sub001/internal/gateway"
	"github.com/rbroemmelsiek/HtoH-unified-sub001/internal/plan"
	"github.com/rbroemmelsiek/HtoH-unified-sub001/internal/store"
)

// sharedGateway keeps one in-memory engine alive across invocations.
type sharedGateway struct {
	*gateway.Local
}

func (sharedGateway) Close() error { return nil }

type runner func(args ...string) (string, error)

func newRunner(t *testing.T) runner {
	t.Helper()
	local := gateway.NewLocal(backend.New(store.NewMemoryRepository(), backend.Options{}))
	return func(args ...string) (string, error) {
		cmd := newRootCmd(func(context.Context, gateway.Config) (gateway.Gateway, error) {
			return sharedGateway{local}, nil
		})
		var out, errOut bytes.Buffer
		cmd.SetOut(&out)
		cmd.SetErr(&errOut)
		cmd.SetArgs(args)
		err := cmd.ExecuteContext(context.Background())
		return out.String(), err
	}
}

var (
	templateFlags   = []string{"--mode", "template", "--plan", "buyer", "--session-type", "ambassador", "--owner", "7"}
	ambassadorFlags = []string{"--plan", "buyer", "--key", "k1", "--session-type", "ambassador", "--owner", "7"}
	exampleFlags    = []string{"--plan", "buyer", "--session-type", "client", "--owner", "42"}
)

func with(args []string, flags []string) []string {
	return append(append([]string{}, args...), flags...)
}

func decodeRow(t *testing.T, out string) plan.ShortRow {
	t.Helper()
	var row plan.ShortRow
	require.NoError(t, json.Unmarshal([]byte(out), &row), out)
	return row
}

func seedTemplate(t *testing.T, run runner) (panel, task plan.ShortRow) {
	t.Helper()
	out, err := run(with([]string{"add", "root", "--type", "panel", "--name", "Disclosure"}, templateFlags)...)
	require.NoError(t, err)
	panel = decodeRow(t, out)

	out, err = run(with([]string{"add", panel.EID, "--name", "Sign disclosure", "--tooltip", "Both parties sign"}, templateFlags)...)
	require.NoError(t, err)
	task = decodeRow(t, out)
	return panel, task
}

func TestAddRenameAndShow(t *testing.T) {
	run := newRunner(t)
	panel, task := seedTemplate(t, run)
	assert.Equal(t, plan.TypePanel, panel.Type)
	assert.Equal(t, plan.TypeCheckbox, task.Type)
	assert.Equal(t, panel.EID, task.PID)

	out, err := run(with([]string{"rename", task.EID, "Sign the disclosure"}, templateFlags)...)
	require.NoError(t, err)
	assert.Equal(t, "Sign the disclosure", decodeRow(t, out).Name)

	out, err = run(with([]string{"show", "--outline"}, templateFlags)...)
	require.NoError(t, err)
	assert.Contains(t, out, "# (0/1) Disclosure")
	assert.Contains(t, out, "  [ ] Sign the disclosure")

	out, err = run(with([]string{"nav"}, templateFlags)...)
	require.NoError(t, err)
	var steps []plan.NavStep
	require.NoError(t, json.Unmarshal([]byte(out), &steps))
	require.Len(t, steps, 1)
	assert.Equal(t, 1, steps[0].TotalTasks)
}

func TestCycleInInstance(t *testing.T) {
	run := newRunner(t)
	seedTemplate(t, run)

	out, err := run(with([]string{"show"}, ambassadorFlags)...)
	require.NoError(t, err)
	var snap plan.Snapshot
	require.NoError(t, json.Unmarshal([]byte(out), &snap))
	require.Len(t, snap.Root.Children, 1)
	require.Len(t, snap.Root.Children[0].Children, 1)
	taskEID := snap.Root.Children[0].Children[0].EID

	out, err = run(with([]string{"cycle", taskEID}, ambassadorFlags)...)
	require.NoError(t, err)
	assert.Equal(t, plan.CheckedNext, decodeRow(t, out).Checked)

	out, err = run(with([]string{"nav"}, ambassadorFlags)...)
	require.NoError(t, err)
	var steps []plan.NavStep
	require.NoError(t, json.Unmarshal([]byte(out), &steps))
	require.Len(t, steps, 1)
	assert.Equal(t, 1, steps[0].WhatsNext)

	// Template sessions never change task state.
	_, err = run(with([]string{"cycle", taskEID}, templateFlags)...)
	assert.Error(t, err)
}

func TestRejectedWriteFails(t *testing.T) {
	run := newRunner(t)
	_, task := seedTemplate(t, run)

	_, err := run(with([]string{"rename", task.EID, "Nope"}, exampleFlags)...)
	assert.ErrorIs(t, err, plan.ErrWriteRejected)

	out, err := run(with([]string{"show", "--outline"}, templateFlags)...)
	require.NoError(t, err)
	assert.Contains(t, out, "Sign disclosure")
	assert.NotContains(t, out, "Nope")
}

func TestDeleteNeedsForceForSubtree(t *testing.T) {
	run := newRunner(t)
	panel, _ := seedTemplate(t, run)

	_, err := run(with([]string{"delete", panel.EID}, templateFlags)...)
	assert.ErrorIs(t, err, errHasChildren)

	out, err := run(with([]string{"delete", panel.EID, "--force"}, templateFlags)...)
	require.NoError(t, err)
	assert.Contains(t, out, panel.EID)

	out, err = run(with([]string{"show", "--outline"}, templateFlags)...)
	require.NoError(t, err)
	assert.NotContains(t, out, "Disclosure")
}

func TestMoveAndMoveOut(t *testing.T) {
	run := newRunner(t)
	_, task := seedTemplate(t, run)

	out, err := run(with([]string{"add", "root", "--type", "panel", "--name", "Cooperation"}, templateFlags)...)
	require.NoError(t, err)
	second := decodeRow(t, out)

	out, err = run(with([]string{"move", second.EID, "0"}, templateFlags)...)
	require.NoError(t, err)
	assert.Equal(t, 0, decodeRow(t, out).Pos)

	out, err = run(with([]string{"move-out", task.EID, second.EID}, templateFlags)...)
	require.NoError(t, err)
	assert.Equal(t, second.EID, decodeRow(t, out).PID)

	out, err = run(with([]string{"show", "--outline"}, templateFlags)...)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 4)
	assert.Contains(t, lines[1], "Cooperation")
	assert.Contains(t, lines[2], "Sign disclosure")
	assert.Contains(t, lines[3], "Disclosure")

	_, err = run(with([]string{"move-out", second.EID, second.EID}, templateFlags)...)
	assert.ErrorIs(t, err, errNotApplied)
}

func TestSearchAndHide(t *testing.T) {
	run := newRunner(t)
	_, task := seedTemplate(t, run)

	out, err := run(with([]string{"search", "sign"}, templateFlags)...)
	require.NoError(t, err)
	var hits []searchHit
	require.NoError(t, json.Unmarshal([]byte(out), &hits))
	require.Len(t, hits, 1)
	assert.Equal(t, task.EID, hits[0].EID)
	assert.True(t, hits[0].Tooltip)

	out, err = run(with([]string{"hide", task.EID}, templateFlags)...)
	require.NoError(t, err)
	assert.False(t, decodeRow(t, out).Visible)

	out, err = run(with([]string{"show", "--outline"}, templateFlags)...)
	require.NoError(t, err)
	assert.Contains(t, out, "Sign disclosure (hidden)")
}

func TestOptionsFile(t *testing.T) {
	run := newRunner(t)
	seedTemplate(t, run)

	path := filepath.Join(t.TempDir(), "widget.yaml")
	require.NoError(t, os.WriteFile(path, []byte("planId: buyer\nmode: template\nsessionType: ambassador\nownerId: 7\n"), 0o644))

	out, err := run("show", "--outline", "--options", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Disclosure")

	// Flags win over the file.
	_, err = run("show", "--options", path, "--plan", "")
	assert.Error(t, err)
}
