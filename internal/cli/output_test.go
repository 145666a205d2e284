package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/txsync/internal/api"
	"github.com/roach88/txsync/internal/engine"
)

func TestOutputFormatter_JSONSuccess(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "json", Writer: buf}

	require.NoError(t, formatter.Success(map[string]string{"result": "success"}))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.NotNil(t, resp.Data)
	assert.Nil(t, resp.Error)
}

func TestOutputFormatter_JSONError(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "json", Writer: buf}

	details := map[string]string{"idempotency_key": "idemp_1"}
	require.NoError(t, formatter.Error("SUBMISSION_REJECTED", "duplicate", details))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "SUBMISSION_REJECTED", resp.Error.Code)
	assert.Equal(t, "duplicate", resp.Error.Message)
	assert.NotNil(t, resp.Error.Details)
}

type rendered struct{ text string }

func (r rendered) RenderText(w io.Writer) error {
	_, err := fmt.Fprintf(w, "<%s>", r.text)
	return err
}

func TestOutputFormatter_TextSuccess(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "text", Writer: buf}

	require.NoError(t, formatter.Success("Transaction committed"))
	assert.Equal(t, "Transaction committed\n", buf.String())

	buf.Reset()
	require.NoError(t, formatter.Success(rendered{text: "table"}))
	assert.Equal(t, "<table>", buf.String())
}

func TestOutputFormatter_TextError(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "text", Writer: buf}

	require.NoError(t, formatter.Error("TRANSPORT_FAILURE", "connection refused", map[string]string{"k": "v"}))
	assert.Contains(t, buf.String(), "Error [TRANSPORT_FAILURE]: connection refused")
	assert.NotContains(t, buf.String(), "Details:")

	buf.Reset()
	formatter.Verbose = true
	require.NoError(t, formatter.Error("TRANSPORT_FAILURE", "connection refused", map[string]string{"k": "v"}))
	assert.Contains(t, buf.String(), "Details:")
}

func TestOutputFormatter_Fail(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode string
		wantExit int
		wantMsg  string
	}{
		{
			name:     "rejected uses server detail",
			err:      &engine.Error{Code: engine.ErrCodeSubmissionRejected, Message: "server rejected transaction", Detail: "amount too large"},
			wantCode: "SUBMISSION_REJECTED",
			wantExit: ExitFailure,
			wantMsg:  "amount too large",
		},
		{
			name:     "invalid input",
			err:      &engine.Error{Code: engine.ErrCodeInvalidInput, Message: "bad amount"},
			wantCode: "INVALID_INPUT",
			wantExit: ExitCommandError,
			wantMsg:  "submit: INVALID_INPUT: bad amount",
		},
		{
			name:     "no selection",
			err:      &engine.Error{Code: engine.ErrCodeNoSelection, Message: "no transaction selected"},
			wantCode: "NO_SELECTION",
			wantExit: ExitCommandError,
		},
		{
			name:     "bare transport error",
			err:      &api.TransportError{Op: "list transactions", StatusCode: 503},
			wantCode: "TRANSPORT_FAILURE",
			wantExit: ExitFailure,
		},
		{
			name:     "exit error keeps its code",
			err:      WrapExitError(ExitCommandError, "load config", errors.New("no such file")),
			wantCode: "E_COMMAND",
			wantExit: ExitCommandError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			formatter := &OutputFormatter{Format: "json", Writer: buf}

			err := formatter.Fail("submit", tt.err, nil)
			require.Error(t, err)
			assert.Equal(t, tt.wantExit, GetExitCode(err))
			assert.ErrorIs(t, err, tt.err)

			var resp CLIResponse
			require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.wantCode, resp.Error.Code)
			if tt.wantMsg != "" {
				assert.Equal(t, tt.wantMsg, resp.Error.Message)
			}
		})
	}
}

func TestOutputFormatter_VerboseLog(t *testing.T) {
	tests := []struct {
		name    string
		verbose bool
		wantLog bool
	}{
		{"verbose_enabled", true, true},
		{"verbose_disabled", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := &bytes.Buffer{}
			diag := &bytes.Buffer{}
			formatter := &OutputFormatter{Format: "json", Writer: out, ErrWriter: diag, Verbose: tt.verbose}

			formatter.VerboseLog("retry with --key %s", "idemp_1")

			assert.Empty(t, out.String())
			if tt.wantLog {
				assert.Contains(t, diag.String(), "retry with --key idemp_1")
			} else {
				assert.Empty(t, diag.String())
			}
		})
	}
}

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitSuccess, GetExitCode(nil))
	assert.Equal(t, ExitFailure, GetExitCode(errors.New("plain")))
	assert.Equal(t, ExitCommandError, GetExitCode(fmt.Errorf("outer: %w", NewExitError(ExitCommandError, "bad flag"))))
}

func TestExitError_Message(t *testing.T) {
	assert.Equal(t, "bad flag", NewExitError(ExitCommandError, "bad flag").Error())
	assert.Equal(t, "load config: missing", WrapExitError(ExitCommandError, "load config", errors.New("missing")).Error())
}
