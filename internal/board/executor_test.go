package board

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Guizzs26/boardsync/internal/config"
)

var (
	updateSelRe  = regexp.MustCompile(`(m\d+): change_multiple_column_values \(board_id: "[^"]*", item_id: "([^"]*)"`)
	createSelRe  = regexp.MustCompile(`(m\d+): create_item \(board_id: "[^"]*", group_id: "([^"]*)", item_name: "([^"]*)"`)
	subitemSelRe = regexp.MustCompile(`(m\d+): create_subitem \(parent_item_id: "([^"]*)", item_name: "([^"]*)"`)
	groupSelRe   = regexp.MustCompile(`create_group \(board_id: "[^"]*", group_name: "([^"]*)"`)
)

// fakeBoard simulates the remote board API over httptest: it parses the
// aliased mutations the executor renders and answers with deterministic ids,
// so tests can verify call shape, call counts and result zipping.
type fakeBoard struct {
	mu           sync.Mutex
	totalCalls   int
	singleCalls  int
	batchCalls   int
	primeCalls   int
	groupCreates int
	lastAuth     string
	lastVersion  string

	existingGroups map[string]string

	// failStatus, when set, returns an HTTP error for matching item calls.
	failStatus func(query string) int
}

func (f *fakeBoard) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Query string `json:"query"`
		}
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &req)

		f.mu.Lock()
		defer f.mu.Unlock()
		f.totalCalls++
		f.lastAuth = r.Header.Get("Authorization")
		f.lastVersion = r.Header.Get("API-Version")

		switch {
		case strings.HasPrefix(req.Query, "query {"):
			f.primeCalls++
			type group struct {
				ID    string `json:"id"`
				Title string `json:"title"`
			}
			var groups []group
			for title, id := range f.existingGroups {
				groups = append(groups, group{ID: id, Title: title})
			}
			writeData(w, map[string]any{"boards": []map[string]any{{"groups": groups}}})

		case strings.Contains(req.Query, "create_group"):
			f.groupCreates++
			m := groupSelRe.FindStringSubmatch(req.Query)
			if m == nil {
				http.Error(w, "unparseable create_group", http.StatusBadRequest)
				return
			}
			writeData(w, map[string]any{"create_group": map[string]string{"id": "grp-" + m[1]}})

		default:
			data := make(map[string]any)
			for _, m := range updateSelRe.FindAllStringSubmatch(req.Query, -1) {
				data[m[1]] = map[string]string{"id": "new-" + m[2]}
			}
			for _, m := range createSelRe.FindAllStringSubmatch(req.Query, -1) {
				data[m[1]] = map[string]string{"id": "item-" + m[3]}
			}
			for _, m := range subitemSelRe.FindAllStringSubmatch(req.Query, -1) {
				data[m[1]] = map[string]string{"id": "sub-" + m[3]}
			}
			if len(data) == 1 {
				f.singleCalls++
			} else {
				f.batchCalls++
			}

			if f.failStatus != nil {
				if status := f.failStatus(req.Query); status != 0 {
					w.WriteHeader(status)
					fmt.Fprint(w, `{"error_message":"induced failure"}`)
					return
				}
			}
			writeData(w, data)
		}
	}
}

func writeData(w http.ResponseWriter, data map[string]any) {
	_ = json.NewEncoder(w).Encode(map[string]any{"data": data})
}

func (f *fakeBoard) counts() (total, single, batch int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.totalCalls, f.singleCalls, f.batchCalls
}

func newTestExecutor(t *testing.T, fake *fakeBoard) (*Executor, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(fake.handler())
	t.Cleanup(server.Close)

	cfg := &config.Config{
		BoardAPIURL:          server.URL,
		BoardAPIToken:        "test-token",
		BoardAPIVersion:      "2026-01",
		BoardID:              "board-1",
		BoardBatchSize:       3,
		MaxConcurrentBatches: 2,
		InterBatchDelay:      time.Millisecond,
		RequestTimeout:       5 * time.Second,
		MaxRetries:           2,
		RetryBaseDelay:       time.Millisecond,
		RetryMaxDelay:        5 * time.Millisecond,
		RetryMultiplier:      2.0,
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	client, err := NewClient(cfg, logger)
	require.NoError(t, err)
	return NewExecutor(client, cfg, logger), server
}

func updateRecords(n int) []Record {
	records := make([]Record, n)
	for i := range records {
		records[i] = Record{
			Key:        fmt.Sprintf("rec-%d", i),
			ExternalID: fmt.Sprintf("it-%d", i),
			Fields:     map[string]string{"numbers_qty": "10"},
		}
	}
	return records
}

func TestNewClient_RequiresToken(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	_, err := NewClient(&config.Config{}, logger)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BOARD_API_TOKEN")
}

func TestExecute_SingleRecord(t *testing.T) {
	fake := &fakeBoard{}
	exec, _ := newTestExecutor(t, fake)

	result, err := exec.Execute(context.Background(), OpUpdateItem, updateRecords(1), false)
	require.NoError(t, err)

	require.Len(t, result.Records, 1)
	assert.NoError(t, result.Records[0].Err)
	assert.Equal(t, "new-it-0", result.Records[0].ExternalID)
	assert.Equal(t, 1, result.Succeeded)
	assert.True(t, result.Success())

	total, single, batch := fake.counts()
	assert.Equal(t, 1, total)
	assert.Equal(t, 1, single)
	assert.Equal(t, 0, batch)
	assert.Equal(t, "Bearer test-token", fake.lastAuth)
	assert.Equal(t, "2026-01", fake.lastVersion)
}

func TestExecute_RetryCeiling(t *testing.T) {
	fake := &fakeBoard{failStatus: func(string) int { return http.StatusTooManyRequests }}
	exec, _ := newTestExecutor(t, fake)

	result, err := exec.Execute(context.Background(), OpUpdateItem, updateRecords(1), false)
	require.NoError(t, err)

	recErr := result.Records[0].Err
	require.Error(t, recErr)
	assert.Equal(t, ClassRateLimit, ClassOf(recErr))
	assert.Contains(t, recErr.Error(), "exhausted 2 retries")

	// MaxRetries 2 means exactly 3 attempts, never more.
	total, _, _ := fake.counts()
	assert.Equal(t, 3, total)
	assert.Equal(t, 1, result.Failed)
}

func TestExecute_PermanentErrorFailsFast(t *testing.T) {
	fake := &fakeBoard{failStatus: func(string) int { return http.StatusUnauthorized }}
	exec, _ := newTestExecutor(t, fake)

	result, err := exec.Execute(context.Background(), OpUpdateItem, updateRecords(1), false)
	require.NoError(t, err)

	assert.Equal(t, ClassAuth, ClassOf(result.Records[0].Err))
	total, _, _ := fake.counts()
	assert.Equal(t, 1, total)
}

func TestExecute_BatchZipsResultsBySubmissionOrder(t *testing.T) {
	fake := &fakeBoard{}
	exec, _ := newTestExecutor(t, fake)
	records := updateRecords(3)

	result, err := exec.Execute(context.Background(), OpUpdateItem, records, false)
	require.NoError(t, err)
	require.Len(t, result.Records, 3)

	for i, rr := range result.Records {
		require.NoError(t, rr.Err)
		assert.Equal(t, records[i].Key, rr.Key)
		assert.Equal(t, fmt.Sprintf("new-it-%d", i), rr.ExternalID)
	}

	total, _, batch := fake.counts()
	assert.Equal(t, 1, total)
	assert.Equal(t, 1, batch)
}

func TestExecute_BatchFallbackOneSingleCallPerRecord(t *testing.T) {
	// Batched calls fail with a transient error; single-item calls succeed.
	fake := &fakeBoard{failStatus: func(query string) int {
		if strings.Count(query, "change_multiple_column_values") > 1 {
			return http.StatusInternalServerError
		}
		return 0
	}}
	exec, _ := newTestExecutor(t, fake)

	result, err := exec.Execute(context.Background(), OpUpdateItem, updateRecords(3), false)
	require.NoError(t, err)

	assert.Equal(t, 3, result.Succeeded)
	assert.Equal(t, 3, result.FallbackSucceeded)
	for i, rr := range result.Records {
		assert.NoError(t, rr.Err)
		assert.True(t, rr.ViaFallback)
		assert.Equal(t, fmt.Sprintf("new-it-%d", i), rr.ExternalID)
	}

	// The batch burns its full retry budget, then each record gets exactly
	// one single-item call.
	_, single, batch := fake.counts()
	assert.Equal(t, 3, batch)
	assert.Equal(t, 3, single)
}

func TestExecute_BatchPermanentFailureSkipsFallback(t *testing.T) {
	fake := &fakeBoard{failStatus: func(query string) int {
		if strings.Count(query, "change_multiple_column_values") > 1 {
			return http.StatusForbidden
		}
		return 0
	}}
	exec, _ := newTestExecutor(t, fake)

	result, err := exec.Execute(context.Background(), OpUpdateItem, updateRecords(3), false)
	require.NoError(t, err)

	assert.Equal(t, 3, result.Failed)
	for _, rr := range result.Records {
		assert.Equal(t, ClassAuthz, ClassOf(rr.Err))
		assert.False(t, rr.ViaFallback)
	}

	total, single, batch := fake.counts()
	assert.Equal(t, 1, total)
	assert.Equal(t, 1, batch)
	assert.Equal(t, 0, single)
}

func TestExecute_ValidationFailuresSettleIndividually(t *testing.T) {
	fake := &fakeBoard{}
	exec, _ := newTestExecutor(t, fake)

	records := updateRecords(3)
	records[1].ExternalID = "" // fails validation before any call

	result, err := exec.Execute(context.Background(), OpUpdateItem, records, false)
	require.NoError(t, err)

	assert.Equal(t, ClassValidation, ClassOf(result.Records[1].Err))
	assert.NoError(t, result.Records[0].Err)
	assert.NoError(t, result.Records[2].Err)
	assert.Equal(t, "new-it-0", result.Records[0].ExternalID)
	assert.Equal(t, "new-it-2", result.Records[2].ExternalID)
	assert.Equal(t, 2, result.Succeeded)
	assert.Equal(t, 1, result.Failed)

	// The invalid record never reaches the wire.
	total, _, _ := fake.counts()
	assert.Equal(t, 1, total)
}

func TestExecute_GroupResolutionCollapsesAndPrimes(t *testing.T) {
	fake := &fakeBoard{existingGroups: map[string]string{"FW26": "grp-fw26"}}
	exec, _ := newTestExecutor(t, fake)

	records := []Record{
		{Key: "r0", Title: "ACME PO-0", GroupName: "FW26", Fields: map[string]string{}},
		{Key: "r1", Title: "ACME PO-1", GroupName: "FW26", Fields: map[string]string{}},
		{Key: "r2", Title: "ACME PO-2", GroupName: "HOLIDAY", Fields: map[string]string{}},
	}

	result, err := exec.Execute(context.Background(), OpCreateItem, records, false)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Succeeded)

	// One prime for the board, one creation for the only missing group.
	fake.mu.Lock()
	defer fake.mu.Unlock()
	assert.Equal(t, 1, fake.primeCalls)
	assert.Equal(t, 1, fake.groupCreates)
}

func TestExecute_GroupCacheSurvivesAcrossCalls(t *testing.T) {
	fake := &fakeBoard{existingGroups: map[string]string{"FW26": "grp-fw26"}}
	exec, _ := newTestExecutor(t, fake)

	rec := []Record{{Key: "r0", Title: "ACME PO-0", GroupName: "FW26", Fields: map[string]string{}}}

	_, err := exec.Execute(context.Background(), OpCreateItem, rec, false)
	require.NoError(t, err)
	_, err = exec.Execute(context.Background(), OpCreateItem, rec, false)
	require.NoError(t, err)

	fake.mu.Lock()
	defer fake.mu.Unlock()
	assert.Equal(t, 1, fake.primeCalls)
	assert.Equal(t, 0, fake.groupCreates)
}

func TestExecute_DryRunTouchesNothing(t *testing.T) {
	fake := &fakeBoard{}
	exec, _ := newTestExecutor(t, fake)

	records := []Record{
		{Key: "r0", Title: "ACME PO-0", GroupName: "FW26", Fields: map[string]string{}},
		{Key: "r1", ExternalID: "", Fields: map[string]string{}}, // invalid for create
	}

	result, err := exec.Execute(context.Background(), OpCreateItem, records, true)
	require.NoError(t, err)

	assert.True(t, result.DryRun)
	assert.NoError(t, result.Records[0].Err)
	// Validation still runs in dry-run so operators see bad records early.
	assert.Equal(t, ClassValidation, ClassOf(result.Records[1].Err))

	total, _, _ := fake.counts()
	assert.Equal(t, 0, total)
}

func TestExecute_ConcurrentBatchesPreserveOrder(t *testing.T) {
	fake := &fakeBoard{}
	exec, _ := newTestExecutor(t, fake)
	records := updateRecords(7)

	result, err := exec.Execute(context.Background(), OpUpdateItem, records, false)
	require.NoError(t, err)

	assert.Equal(t, 7, result.Succeeded)
	for i, rr := range result.Records {
		require.NoError(t, rr.Err, "record %d", i)
		assert.Equal(t, fmt.Sprintf("rec-%d", i), rr.Key)
		assert.Equal(t, fmt.Sprintf("new-it-%d", i), rr.ExternalID)
	}

	// 7 records at batch size 3: two full batches plus a single-record tail.
	total, single, batch := fake.counts()
	assert.Equal(t, 3, total)
	assert.Equal(t, 2, batch)
	assert.Equal(t, 1, single)
}

func TestExecute_NoRecordsIsNoop(t *testing.T) {
	fake := &fakeBoard{}
	exec, _ := newTestExecutor(t, fake)

	result, err := exec.Execute(context.Background(), OpUpdateItem, nil, false)
	require.NoError(t, err)
	assert.Empty(t, result.Records)
	assert.True(t, result.Success())

	total, _, _ := fake.counts()
	assert.Equal(t, 0, total)
}
