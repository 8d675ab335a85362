package outbox

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"testing"

	"resume-tailor/internal/storage/dbtest"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type published struct {
	exchange, routingKey, body string
}

type fakePublisher struct {
	mu     sync.Mutex
	sent   []published
	failOn map[string]error
}

func (f *fakePublisher) PublishMessage(_ context.Context, exchange, routingKey string, message []byte, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failOn[string(message)]; err != nil {
		return err
	}
	f.sent = append(f.sent, published{exchange, routingKey, string(message)})
	return nil
}

var outboxColumns = []string{"id", "aggregate_id", "event_type", "payload", "target_exchange", "target_routing_key", "status", "retry_count"}

func TestEnqueueWritesPendingRow(t *testing.T) {
	db, mock := dbtest.NewMockDB(t)

	mock.ExpectExec("INSERT INTO `outbox_messages`").
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := Enqueue(db, "job-1", "GenerationRequested", "gen.exchange", "gen.key", map[string]string{"job_id": "job-1"})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessPendingMessagesPublishesAndMarks(t *testing.T) {
	db, mock := dbtest.NewMockDB(t)
	pub := &fakePublisher{failOn: map[string]error{`{"job_id":"bad"}`: errors.New("channel closed")}}
	relay := NewMessageRelay(db, pub, log.New(io.Discard, "", 0), WithMaxRetries(3))

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT \\* FROM `outbox_messages` WHERE status = \\?.*FOR UPDATE SKIP LOCKED").
		WillReturnRows(sqlmock.NewRows(outboxColumns).
			AddRow(1, "job-1", "GenerationRequested", `{"job_id":"job-1"}`, "gen.exchange", "gen.key", "PENDING", 0).
			AddRow(2, "bad", "GenerationRequested", `{"job_id":"bad"}`, "gen.exchange", "gen.key", "PENDING", 2))
	mock.ExpectExec("UPDATE `outbox_messages` SET .*`status`=.*WHERE id = \\?").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE `outbox_messages` SET .*`retry_count`=.*WHERE id = \\?").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	sent, err := relay.processPendingMessages(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sent)
	require.Len(t, pub.sent, 1)
	assert.Equal(t, published{"gen.exchange", "gen.key", `{"job_id":"job-1"}`}, pub.sent[0])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessPendingMessagesEmptyBatch(t *testing.T) {
	db, mock := dbtest.NewMockDB(t)
	relay := NewMessageRelay(db, &fakePublisher{}, log.New(io.Discard, "", 0))

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT \\* FROM `outbox_messages`").
		WillReturnRows(sqlmock.NewRows(outboxColumns))
	mock.ExpectCommit()

	sent, err := relay.processPendingMessages(context.Background())
	require.NoError(t, err)
	assert.Zero(t, sent)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStopIsIdempotent(t *testing.T) {
	db, _ := dbtest.NewMockDB(t)
	relay := NewMessageRelay(db, &fakePublisher{}, log.New(io.Discard, "", 0))
	relay.Start()
	relay.Stop()
	relay.Stop()
}
