package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/molingest/pkg/client"
	"github.com/turtacn/molingest/pkg/types/common"
)

// execute runs the root command with args and captures both streams.
func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(append([]string{"--no-color"}, args...))
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func writeData(t *testing.T, w http.ResponseWriter, status int, data interface{}) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	require.NoError(t, json.NewEncoder(w).Encode(common.NewSuccessResponse(data, "req-1")))
}

func writeError(t *testing.T, w http.ResponseWriter, status int, code, message string) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	require.NoError(t, json.NewEncoder(w).Encode(common.NewErrorResponse(code, message, "", "req-1")))
}

func TestNewRootCommand_Structure(t *testing.T) {
	cmd := NewRootCommand()
	assert.Equal(t, "molingest", cmd.Use)
	assert.NotEmpty(t, cmd.Short)
	assert.NotEmpty(t, cmd.Long)
	assert.Contains(t, cmd.Version, Version)

	var names []string
	for _, sub := range cmd.Commands() {
		names = append(names, sub.Name())
	}
	assert.Subset(t, names, []string{"upload", "detect", "validate", "migrate", "sweep", "index"})

	for _, flag := range []string{"config", "log-level", "output", "verbose", "no-color", "timeout", "server", "tenant", "user"} {
		assert.NotNil(t, cmd.PersistentFlags().Lookup(flag), flag)
	}
}

func TestNewUploadCmd_Subcommands(t *testing.T) {
	cmd := NewUploadCmd()
	var names []string
	for _, sub := range cmd.Commands() {
		names = append(names, sub.Name())
	}
	assert.ElementsMatch(t, []string{"create", "status", "confirm", "cancel", "errors", "summary"}, names)
}

func TestRoot_RejectsUnknownOutputFormat(t *testing.T) {
	_, _, err := execute(t, "--output", "yaml", "detect", "x.smi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown output format")
}

func TestRoot_RemoteCommandNeedsTenant(t *testing.T) {
	_, _, err := execute(t, "--tenant=", "--server", "http://127.0.0.1:1", "upload", "status", "u-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--tenant")
}

func TestIndexBackfill_Preconditions(t *testing.T) {
	_, _, err := execute(t, "--tenant=", "index", "backfill")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--tenant")

	// the default configuration uses the in-process index
	_, _, err = execute(t, "--tenant", "tenant-a", "index", "backfill")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "index.backend milvus")
}

func TestGetCLIContext_Missing(t *testing.T) {
	cmd := NewUploadCmd()
	_, err := GetCLIContext(cmd)
	assert.Error(t, err)

	cmd.SetContext(context.Background())
	_, err = GetCLIContext(cmd)
	assert.Error(t, err)
}

func TestPrintError_APIError(t *testing.T) {
	cmd := NewRootCommand()
	var stderr bytes.Buffer
	cmd.SetErr(&stderr)

	PrintError(cmd, &client.APIError{StatusCode: 409, Code: "UPLOAD_002", Message: "invalid upload status transition", Detail: "status processing"})
	assert.Contains(t, stderr.String(), "invalid upload status transition (UPLOAD_002)")
	assert.Contains(t, stderr.String(), "status processing")

	stderr.Reset()
	PrintError(cmd, nil)
	assert.Empty(t, stderr.String())
}

type fakeTable struct{}

func (fakeTable) TableHeaders() []string { return []string{"Code", "Count"} }
func (fakeTable) TableRows() [][]string  { return [][]string{{"invalid_structure", "3"}} }

func TestPrintResult_Formats(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printTable(&buf, fakeTable{}))
	assert.Contains(t, buf.String(), "CODE")
	assert.Contains(t, buf.String(), "invalid_structure")

	buf.Reset()
	require.NoError(t, printJSON(&buf, map[string]int{"count": 3}))
	assert.JSONEq(t, `{"count":3}`, buf.String())

	buf.Reset()
	require.NoError(t, printText(&buf, "plain"))
	assert.Equal(t, "plain\n", buf.String())

	// without a tabular form the table format prints text
	buf.Reset()
	require.NoError(t, printTable(&buf, "plain"))
	assert.Equal(t, "plain\n", buf.String())
}

func TestColorStatus_NoColor(t *testing.T) {
	color.NoColor = true
	assert.Equal(t, client.StatusCompleted, colorStatus(client.StatusCompleted))
	assert.Equal(t, "validating", colorStatus("validating"))
}
