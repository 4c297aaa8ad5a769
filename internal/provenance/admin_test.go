package provenance

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/banshee-data/cloudsplit/internal/timeutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunsHandler(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	h := s.runsHandler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/runs", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	for i, src := range []string{"a.pcb", "b.pcb"} {
		require.NoError(t, s.StartRun(&Run{Source: src, Splits: "1x1x1", CreatedAt: int64(10 + i)}))
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/runs?limit=1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var runs []Run
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, "b.pcb", runs[0].Source)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/runs?run="+runs[0].RunID, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var detail struct {
		Run        Run            `json:"run"`
		Partitions []PartitionRow `json:"partitions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &detail))
	assert.Equal(t, runs[0].RunID, detail.Run.RunID)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/runs?run=nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/runs?limit=many", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBackup(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	require.NoError(t, s.StartRun(&Run{Source: "scan.pcb", Splits: "1x1x1"}))

	dest := filepath.Join(t.TempDir(), "copy.db")
	require.NoError(t, s.Backup(dest))
	assert.Error(t, s.Backup(dest), "VACUUM INTO refuses an existing file")

	copyStore, err := Open(dest)
	require.NoError(t, err)
	defer copyStore.Close()
	runs, err := copyStore.ListRuns(0)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestBackupHandler(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	s.SetClock(timeutil.NewMockClock(time.Unix(1700000000, 0)))

	rec := httptest.NewRecorder()
	s.backupHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/backup", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "attachment; filename=cloudsplit-backup-1700000000.db", rec.Header().Get("Content-Disposition"))
	assert.NotZero(t, rec.Body.Len())
}
