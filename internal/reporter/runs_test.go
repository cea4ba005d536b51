package reporter

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"bill-reconciliation-service/internal/storage"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRun() *storage.Run {
	started := time.Date(2018, 1, 15, 10, 0, 0, 0, time.UTC)
	return &storage.Run{
		ID:               "run-1",
		StartedAt:        started,
		CompletedAt:      started.Add(2 * time.Second),
		BillsSource:      "bills.json",
		OperationSources: []string{"account.csv"},
		TotalBills:       2,
		DebitsMatched:    2,
		CreditsMatched:   1,
		UnusedOperations: 1,
		TotalDebit:       decimal.NewFromInt(82),
		TotalCredit:      decimal.NewFromInt(30),
		Matches: []*storage.BillMatchRecord{
			{BillID: "bill1", DebitOperationID: "op1", CreditOperationID: "op2"},
			{BillID: "bill2", DebitOperationID: "op3"},
		},
	}
}

func TestRunReporter_Console(t *testing.T) {
	rr, err := NewRunReporter(FormatConsole)
	require.NoError(t, err)

	var list bytes.Buffer
	require.NoError(t, rr.WriteRuns([]*storage.Run{sampleRun()}, &list))
	assert.Contains(t, list.String(), "RUN ID")
	assert.Contains(t, list.String(), "run-1")

	var show bytes.Buffer
	require.NoError(t, rr.WriteRun(sampleRun(), &show))
	out := show.String()
	assert.Contains(t, out, "Duration:    2s")
	assert.Contains(t, out, "2 debits (82.00), 1 credits (30.00)")
	assert.Contains(t, out, "Operations:  account.csv")

	lines := strings.Split(strings.TrimSpace(out), "\n")
	assert.Equal(t, []string{"bill2", "op3", "-"}, strings.Fields(lines[len(lines)-1]))
}

func TestRunReporter_Empty(t *testing.T) {
	rr, _ := NewRunReporter(FormatConsole)
	var buf bytes.Buffer
	require.NoError(t, rr.WriteRuns(nil, &buf))
	assert.Contains(t, buf.String(), "No reconciliation runs")

	jr, _ := NewRunReporter(FormatJSON)
	buf.Reset()
	require.NoError(t, jr.WriteRuns(nil, &buf))
	assert.JSONEq(t, "[]", buf.String())

	assert.Error(t, rr.WriteRun(nil, &buf))
}

func TestRunReporter_JSON(t *testing.T) {
	rr, err := NewRunReporter(FormatJSON)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, rr.WriteRun(sampleRun(), &buf))

	var decoded storage.Run
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "run-1", decoded.ID)
	assert.Len(t, decoded.Matches, 2)
	assert.True(t, decoded.TotalDebit.Equal(decimal.NewFromInt(82)))
}

func TestNewRunReporter_RejectsCSV(t *testing.T) {
	_, err := NewRunReporter(FormatCSV)
	assert.Error(t, err)
}
