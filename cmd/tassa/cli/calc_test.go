package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tassa-soggiorno/tassa/internal/calc"
)

func runCalc(t *testing.T, opts CalcOptions) (int, string, string) {
	t.Helper()
	stdout := new(bytes.Buffer)
	stderr := new(bytes.Buffer)
	opts.Stdout = stdout
	opts.Stderr = stderr
	code := CalcCommand(context.Background(), opts)
	return code, stdout.String(), stderr.String()
}

func TestCalcCommandSampleHuman(t *testing.T) {
	code, stdout, stderr := runCalc(t, CalcOptions{Sample: true})
	require.Equal(t, ExitOK, code, stderr)
	require.Contains(t, stdout, "Tassa di soggiorno")
	require.Contains(t, stdout, "Prenotazioni tassabili: 19 (escluse: 3, esenti: 0)")
	require.Contains(t, stdout, "Totale da versare: 498.00 EUR")
	require.Contains(t, stdout, "2025-03")
	require.NotContains(t, stdout, "Avvisi")
}

func TestCalcCommandJSON(t *testing.T) {
	code, stdout, _ := runCalc(t, CalcOptions{
		Sample:     true,
		JSONOutput: true,
		Policy:     calc.PolicyInput{Structure: "hotel-5"},
	})
	require.Equal(t, ExitOK, code)

	var result calc.Result
	require.NoError(t, json.Unmarshal([]byte(stdout), &result))
	require.Equal(t, "581.00", result.Document.GrandTotal.StringFixed(2))
	require.NotEmpty(t, result.RunID)
}

func TestCalcCommandWarningsExitCode(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "prenotazioni.csv")
	sheet := "Ospite;Arrivo;Partenza;Ospiti\nJane Doe;01/07/2025;03/07/2025;3\n"
	require.NoError(t, os.WriteFile(path, []byte(sheet), 0o600))

	code, stdout, _ := runCalc(t, CalcOptions{File: path})
	require.Equal(t, ExitWarnings, code)
	require.Contains(t, stdout, "Totale da versare: 36.00 EUR")
	require.Contains(t, stdout, "Avvisi (2):")
}

func TestCalcCommandReadsStdinAndWritesCSV(t *testing.T) {
	out := filepath.Join(t.TempDir(), "report.csv")
	sheet := "Nome,Check-in,Check-out,Adulti,Bambini,Età bambini,Stato\n" +
		"Mario Rossi,2025-08-01,2025-08-13,2,1,12,OK\n"
	code, _, stderr := runCalc(t, CalcOptions{
		File:      "-",
		Stdin:     strings.NewReader(sheet),
		CSVPath:   out,
		Separator: "semicolon",
	})
	require.Equal(t, ExitOK, code, stderr)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	require.Contains(t, string(data), "Mario Rossi;2025-08-01;2025-08-13;2;1;12;12;10;3;no;180.00;OK;2025-08")
}

func TestCalcCommandFailures(t *testing.T) {
	cases := []struct {
		name string
		opts CalcOptions
		want string
	}{
		{name: "no input", opts: CalcOptions{}, want: "--file or --sample is required"},
		{name: "missing file", opts: CalcOptions{File: filepath.Join(t.TempDir(), "nope.csv")}, want: "no such file"},
		{name: "header only", opts: CalcOptions{File: "-", Stdin: strings.NewReader("foo;bar\n")}, want: "missing required fields"},
		{name: "missing columns", opts: CalcOptions{File: "-", Stdin: strings.NewReader("Nome,Arrivo\nx,2025-01-01\n")}, want: "missing required fields"},
		{name: "bad separator", opts: CalcOptions{Sample: true, Separator: "pipe"}, want: "separator"},
		{name: "bad policy", opts: CalcOptions{Sample: true, Policy: calc.PolicyInput{Bucketing: "week"}}, want: "invalid request"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			code, _, stderr := runCalc(t, tc.opts)
			require.Equal(t, ExitFailure, code)
			require.Contains(t, stderr, tc.want)
		})
	}
}

func TestParseCalcFlags(t *testing.T) {
	opts, err := ParseCalcFlags([]string{
		"--sample", "--rate", "4,5", "--max-nights", "7", "--liable", "confirmed, no_show",
		"--exempt", "Fabio Minella", "--exempt", "Mario Rossi", "--bucketing", "quarter", "--json",
	}, new(bytes.Buffer))
	require.NoError(t, err)
	require.True(t, opts.Sample)
	require.True(t, opts.JSONOutput)
	require.Equal(t, "4.5", opts.Policy.Rate.String())
	require.Equal(t, 7, *opts.Policy.MaxNights)
	require.Nil(t, opts.Policy.MinAge)
	require.Equal(t, []string{"confirmed", "no_show"}, opts.Policy.LiableStatuses)
	require.Equal(t, []string{"Fabio Minella", "Mario Rossi"}, opts.Policy.ExemptNames)
	require.Equal(t, "quarter", opts.Policy.Bucketing)

	_, err = ParseCalcFlags([]string{"--rate", "sei"}, new(bytes.Buffer))
	require.Error(t, err)
	_, err = ParseCalcFlags([]string{"--unknown"}, new(bytes.Buffer))
	require.Error(t, err)
}

func TestJobsCLIRequiresConfiguration(t *testing.T) {
	_, err := NewJobsCLI("")
	require.Error(t, err)

	var c *JobsCLI
	_, err = c.TriggerCleanup(context.Background(), 0)
	require.Error(t, err)
	_, err = c.InspectQueues(context.Background())
	require.Error(t, err)

	buf := new(bytes.Buffer)
	RenderQueueStats(buf, []QueueStats{{Queue: "exports", Pending: 2}})
	require.Equal(t, "exports  pending=2 active=0 scheduled=0 retry=0 failed=0\n", buf.String())
}
