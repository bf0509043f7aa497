package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/bimestre-scheduler-api/internal/models"
)

func TestCleanupTargetsOrder(t *testing.T) {
	index := map[string]int{}
	for i, target := range CleanupTargets {
		index[target.Table] = i
	}

	assert.Less(t, index["user_career_permissions"], index["careers"])
	assert.Less(t, index["event_instructors"], index["schedule_events"])
	assert.Less(t, index["schedule_events"], index["academic_structures"])
	assert.Less(t, index["start_vacancies"], index["event_instructors"])
	assert.Equal(t, TermTable, CleanupTargets[len(CleanupTargets)-1].Table)
}

func TestCleanupRepositoryDelete(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewCleanupRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM schedule_events WHERE term_id = $1")).
		WithArgs("term-1").
		WillReturnResult(sqlmock.NewResult(0, 7))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM careers WHERE term_id = $1")).
		WithArgs("term-1").
		WillReturnError(errors.New("fk violation"))

	n, err := repo.Delete(context.Background(), CleanupTarget{Table: "schedule_events", Where: "term_id = $1"}, "term-1")
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)

	_, err = repo.Delete(context.Background(), CleanupTarget{Table: "careers", Where: "term_id = $1"}, "term-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "delete from careers")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCleanupRepositorySnapshot(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewCleanupRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM upload_logs WHERE term_id = $1")).
		WithArgs("term-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "file_name"}).AddRow("up-1", []byte("plan.xlsx")))

	rows, err := repo.Snapshot(context.Background(), CleanupTarget{Table: "upload_logs", Where: "term_id = $1"}, "term-1")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "plan.xlsx", rows[0]["file_name"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCleanupRepositoryInsertAndListHistory(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewCleanupRepository(db)

	mock.ExpectExec("INSERT INTO cleanup_logs").WillReturnResult(sqlmock.NewResult(1, 1))
	entry := &models.CleanupExecutionLog{
		ExecutionID: "exec-1",
		ExecutedAt:  time.Now().UTC(),
		Status:      models.CleanupCompleted,
		TableCounts: models.TableCounts{"terms": 1},
	}
	require.NoError(t, repo.InsertLog(context.Background(), entry))
	assert.NotEmpty(t, entry.ID)

	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("FROM cleanup_logs ORDER BY executed_at DESC LIMIT $1")).
		WithArgs(50).
		WillReturnRows(sqlmock.NewRows([]string{"execution_id", "executed_at", "status", "terms_deleted", "total_records_deleted", "execution_seconds", "trigger_source"}).
			AddRow("exec-1", now, "COMPLETED", 1, 12, 0.5, "MANUAL"))

	items, err := repo.ListHistory(context.Background(), 50)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, models.CleanupCompleted, items[0].Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}
