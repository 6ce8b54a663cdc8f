package storage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/spigell/cv-matcher/internal/ai"
)

type recordingWriter struct {
	mu      sync.Mutex
	err     error
	block   chan struct{}
	records map[Collection][]UploadRecord
	ctxErrs []error
}

func (w *recordingWriter) InsertUpload(ctx context.Context, coll Collection, rec UploadRecord) error {
	if w.block != nil {
		<-w.block
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	w.ctxErrs = append(w.ctxErrs, ctx.Err())
	if w.err != nil {
		return w.err
	}
	if w.records == nil {
		w.records = make(map[Collection][]UploadRecord)
	}
	w.records[coll] = append(w.records[coll], rec)
	return nil
}

func TestArchiverWritesRecord(t *testing.T) {
	writer := &recordingWriter{}
	archiver := NewArchiver(writer, time.Second, zap.NewNop())

	rec := UploadRecord{CVFilename: "cv.pdf", Result: ai.MatchResult{Match: 50, MissingSkills: []string{}}}
	err, open := <-archiver.Archive(context.Background(), DemoUploads, rec)
	require.NoError(t, err)
	require.False(t, open)

	require.Len(t, writer.records[DemoUploads], 1)
	stored := writer.records[DemoUploads][0]
	require.Equal(t, "cv.pdf", stored.CVFilename)
	require.False(t, stored.CreatedAt.IsZero())
}

func TestArchiverOutlivesCancelledRequest(t *testing.T) {
	writer := &recordingWriter{block: make(chan struct{})}
	archiver := NewArchiver(writer, time.Second, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := archiver.Archive(ctx, EmployeeUploads, UploadRecord{CVFilename: "cv.docx"})
	cancel()
	close(writer.block)

	require.NoError(t, <-done)
	require.Equal(t, []error{nil}, writer.ctxErrs)
}

func TestArchiverReportsFailure(t *testing.T) {
	core, observed := observer.New(zapcore.ErrorLevel)
	writer := &recordingWriter{err: errors.New("no reachable servers")}

	var failed []Collection
	archiver := NewArchiver(writer, time.Second, zap.New(core), WithFailureHook(func(coll Collection) {
		failed = append(failed, coll)
	}))

	err := <-archiver.Archive(context.Background(), EmployerUploads, UploadRecord{BatchID: "batch-1"})
	require.EqualError(t, err, "no reachable servers")
	require.Equal(t, []Collection{EmployerUploads}, failed)

	entries := observed.All()
	require.Len(t, entries, 1)
	require.Equal(t, "employer_uploads", entries[0].ContextMap()["collection"])
	require.Equal(t, "batch-1", entries[0].ContextMap()["batch_id"])
}

func TestArchiverWaitDrainsPendingWrites(t *testing.T) {
	writer := &recordingWriter{block: make(chan struct{})}
	archiver := NewArchiver(writer, time.Second, zap.NewNop())

	for range 3 {
		archiver.Archive(context.Background(), EmployerUploads, UploadRecord{})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, archiver.Wait(ctx), context.DeadlineExceeded)

	close(writer.block)
	require.NoError(t, archiver.Wait(context.Background()))
	require.Len(t, writer.records[EmployerUploads], 3)
}

func TestUserType(t *testing.T) {
	require.True(t, Employee.Valid())
	require.True(t, Employer.Valid())
	require.False(t, UserType("admin").Valid())
	require.Equal(t, "employees", Employee.Collection())
	require.Equal(t, "employers", Employer.Collection())
}

func TestUserIDHex(t *testing.T) {
	var anonymous *User
	require.Empty(t, anonymous.IDHex())
	require.Empty(t, (&User{}).IDHex())

	id := primitive.NewObjectID()
	require.Equal(t, id.Hex(), (&User{ID: id}).IDHex())
}

func TestBatchHistoryPipeline(t *testing.T) {
	pipeline := batchHistoryPipeline("user-1", historyLimit(0))

	require.Len(t, pipeline, 5)
	require.Equal(t, bson.D{{Key: "$match", Value: bson.D{{Key: "user_id", Value: "user-1"}}}}, pipeline[0])
	require.Equal(t, "$group", pipeline[2][0].Key)
	require.Equal(t, bson.D{{Key: "$limit", Value: int64(DefaultHistoryLimit)}}, pipeline[4])

	var _ mongo.Pipeline = pipeline
}

func TestUploadRecordBSONKeys(t *testing.T) {
	raw, err := bson.Marshal(UploadRecord{
		BatchID: "b",
		JDText:  "jd",
		Result:  ai.MatchResult{Match: 70, MissingSkills: []string{"Go"}, Summary: "s"},
	})
	require.NoError(t, err)

	var doc bson.M
	require.NoError(t, bson.Unmarshal(raw, &doc))
	require.Equal(t, "b", doc["employer_id"])
	require.NotContains(t, doc, "_id")
	require.NotContains(t, doc, "jd_filename")

	result, ok := doc["analysis_result"].(bson.M)
	require.True(t, ok)
	require.Equal(t, 70.0, result["JD-Match"])
	require.Equal(t, "s", result["Profile Summary"])
}
