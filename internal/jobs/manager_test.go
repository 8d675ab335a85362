package jobs

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"resume-tailor/internal/billing"
	"resume-tailor/internal/constants"
	"resume-tailor/internal/storage/dbtest"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type fakeGate struct {
	users []string
	err   error
}

func (g *fakeGate) Consume(_ *gorm.DB, userID string) error {
	g.users = append(g.users, userID)
	return g.err
}

var fixedNow = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

func newTestManager(t *testing.T, gate CreditGate) (*Manager, sqlmock.Sqlmock) {
	t.Helper()
	db, mock := dbtest.NewMockDB(t)
	m := NewManager(db, gate, "generation.exchange", "generation.requested",
		WithDeadline(5*time.Minute), WithTTL(24*time.Hour), WithClock(func() time.Time { return fixedNow }))
	m.newID = func() (string, error) { return "job-1", nil }
	return m, mock
}

var jobColumns = []string{"job_id", "owner_user_id", "file_id", "status", "company_name", "job_title", "error_message", "created_at", "deadline_at", "expires_at"}

func TestCreateWritesJobAndOutboxInOneTransaction(t *testing.T) {
	gate := &fakeGate{}
	m, mock := newTestManager(t, gate)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO `generation_jobs`").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO `outbox_messages`").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	job, err := m.Create(context.Background(), CreateRequest{
		UserID: "u1", FileID: "f1", JobDescription: "Go engineer", PromptVersion: "structured-v1",
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	assert.Equal(t, []string{"u1"}, gate.users)
	assert.Equal(t, "job-1", job.JobID)
	assert.Equal(t, constants.JobStatusProcessing, job.Status)
	assert.Equal(t, fixedNow.Add(5*time.Minute), job.DeadlineAt)
	assert.Equal(t, fixedNow.Add(24*time.Hour), job.ExpiresAt)
}

func TestCreateWithoutCreditsWritesNothing(t *testing.T) {
	gate := &fakeGate{err: &billing.InsufficientCreditsError{UserID: "u1"}}
	m, mock := newTestManager(t, gate)

	mock.ExpectBegin()
	mock.ExpectRollback()

	_, err := m.Create(context.Background(), CreateRequest{UserID: "u1", FileID: "f1", JobDescription: "jd"})
	require.ErrorIs(t, err, billing.ErrInsufficientCredits)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCompleteIsTerminalOnce(t *testing.T) {
	m, mock := newTestManager(t, nil)

	mock.ExpectExec("UPDATE `generation_jobs` SET .*WHERE job_id = \\? AND status = \\?").
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), "job-1", constants.JobStatusProcessing).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE `generation_jobs` SET").
		WillReturnResult(sqlmock.NewResult(0, 0))

	c := Completion{Result: datatypes.JSON(`{"ok":true}`), CompanyName: "Initech", JobTitle: "SRE", PromptVersion: "structured-v1"}
	require.NoError(t, m.Complete(context.Background(), "job-1", c))
	assert.ErrorIs(t, m.Complete(context.Background(), "job-1", c), ErrJobAlreadyTerminal)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFailAfterCompleteRejected(t *testing.T) {
	m, mock := newTestManager(t, nil)

	mock.ExpectExec("UPDATE `generation_jobs` SET .*`status`=.*WHERE job_id = \\? AND status = \\?").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := m.Fail(context.Background(), "job-1", "boom")
	assert.True(t, errors.Is(err, ErrJobAlreadyTerminal))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetAppliesDeadlineView(t *testing.T) {
	m, mock := newTestManager(t, nil)
	created := fixedNow.Add(-20 * time.Minute)

	mock.ExpectQuery("SELECT \\* FROM `generation_jobs` WHERE job_id = \\?").
		WillReturnRows(sqlmock.NewRows(jobColumns).
			AddRow("job-1", "u1", "f1", constants.JobStatusProcessing, "", "", "", created, created.Add(5*time.Minute), created.Add(24*time.Hour)))

	job, err := m.Get(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, constants.JobStatusFailed, job.Status)
	assert.Equal(t, constants.JobTimedOutMessage, job.ErrorMessage)
	assert.Equal(t, constants.UnknownCompany, job.CompanyName)
	assert.Equal(t, constants.UnknownPosition, job.JobTitle)
}

func TestGetExpiredIsNotFound(t *testing.T) {
	m, mock := newTestManager(t, nil)
	created := fixedNow.Add(-25 * time.Hour)

	mock.ExpectQuery("SELECT \\* FROM `generation_jobs`").
		WillReturnRows(sqlmock.NewRows(jobColumns).
			AddRow("job-1", "u1", "f1", constants.JobStatusCompleted, "Initech", "SRE", "", created, created.Add(5*time.Minute), created.Add(24*time.Hour)))

	_, err := m.Get(context.Background(), "job-1")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestGetFailedDefaultsMessage(t *testing.T) {
	m, mock := newTestManager(t, nil)
	created := fixedNow.Add(-time.Minute)

	mock.ExpectQuery("SELECT \\* FROM `generation_jobs`").
		WillReturnRows(sqlmock.NewRows(jobColumns).
			AddRow("job-1", "u1", "f1", constants.JobStatusFailed, "Initech", "SRE", "", created, created.Add(5*time.Minute), created.Add(24*time.Hour)))

	job, err := m.Get(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, constants.DefaultJobErrorMessage, job.ErrorMessage)
	assert.Equal(t, "Initech", job.CompanyName)
}

func TestGetUnknownJob(t *testing.T) {
	m, mock := newTestManager(t, nil)
	mock.ExpectQuery("SELECT \\* FROM `generation_jobs`").WillReturnRows(sqlmock.NewRows(jobColumns))

	_, err := m.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestListCompletedOrdersByCompletion(t *testing.T) {
	m, mock := newTestManager(t, nil)
	created := fixedNow.Add(-time.Hour)

	mock.ExpectQuery("SELECT \\* FROM `generation_jobs` WHERE owner_user_id = \\? AND status = \\? AND expires_at > \\? ORDER BY completed_at DESC").
		WillReturnRows(sqlmock.NewRows(jobColumns).
			AddRow("job-2", "u1", "f1", constants.JobStatusCompleted, "Initech", "SRE", "", created, created.Add(5*time.Minute), created.Add(24*time.Hour)).
			AddRow("job-1", "u1", "f1", constants.JobStatusCompleted, "", "", "", created, created.Add(5*time.Minute), created.Add(24*time.Hour)))

	list, err := m.ListCompleted(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "job-2", list[0].JobID)
	assert.Equal(t, constants.UnknownCompany, list[1].CompanyName)
}

func TestSweeperRunOnce(t *testing.T) {
	m, mock := newTestManager(t, nil)

	mock.ExpectExec("UPDATE `generation_jobs` SET .*WHERE status = \\? AND deadline_at < \\?").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec("DELETE FROM `generation_jobs` WHERE expires_at < \\?").
		WillReturnResult(sqlmock.NewResult(0, 3))

	NewSweeper(m, time.Minute, zerolog.New(io.Discard)).RunOnce(context.Background())
	require.NoError(t, mock.ExpectationsWereMet())
}
