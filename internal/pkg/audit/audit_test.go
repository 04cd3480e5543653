package audit

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	mu   sync.Mutex
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.msgs = append(w.msgs, msgs...)
	return w.err
}

func (w *fakeWriter) Close() error { return nil }

type fakePutter struct {
	inputs []*s3.PutObjectInput
	bodies [][]byte
}

func (p *fakePutter) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	body, _ := io.ReadAll(in.Body)
	p.inputs = append(p.inputs, in)
	p.bodies = append(p.bodies, body)
	return &s3.PutObjectOutput{}, nil
}

type captureSink struct{ recs []Record }

func (c *captureSink) Record(_ context.Context, rec Record) { c.recs = append(c.recs, rec) }

func sampleRecord() Record {
	rec := NewRecord("billing", time.Date(2026, 4, 5, 6, 7, 8, 0, time.UTC))
	rec.ProviderEventID = "evt_1"
	rec.OrderNo = "ORD-1"
	rec.OK = true
	rec.HTTPStatus = 200
	rec.SignatureOK = true
	rec.BodySHA256 = "abc123"
	rec.Payload = []byte(`{"order_no":"ORD-1"}`)
	rec.BodyLength = len(rec.Payload)
	return rec
}

func TestKafkaSinkPublishesKeyedJSON(t *testing.T) {
	w := &fakeWriter{}
	sink := NewKafkaSinkWithWriter(w)

	sink.Record(context.Background(), sampleRecord())

	require.Len(t, w.msgs, 1)
	assert.Equal(t, "billing:evt_1", string(w.msgs[0].Key))

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &decoded))
	assert.Equal(t, "ORD-1", decoded["order_no"])
	_, hasPayload := decoded["Payload"]
	assert.False(t, hasPayload, "raw payload must not be published")
}

func TestKafkaSinkSwallowsErrors(t *testing.T) {
	sink := NewKafkaSinkWithWriter(&fakeWriter{err: errors.New("broker down")})
	assert.NotPanics(t, func() { sink.Record(context.Background(), sampleRecord()) })
}

func TestS3ArchiveStoresVerifiedBodies(t *testing.T) {
	p := &fakePutter{}
	archive := NewS3ArchiveWithClient(p, "audit-bucket")

	archive.Record(context.Background(), sampleRecord())
	require.NoError(t, archive.Close())

	require.Len(t, p.inputs, 1)
	assert.Equal(t, "audit-bucket", *p.inputs[0].Bucket)
	assert.Equal(t, "webhooks/billing/2026/04/05/abc123.json", *p.inputs[0].Key)
	assert.Equal(t, `{"order_no":"ORD-1"}`, string(p.bodies[0]))
}

func TestS3ArchiveSkipsUnverifiedBodies(t *testing.T) {
	p := &fakePutter{}
	archive := NewS3ArchiveWithClient(p, "audit-bucket")

	rec := sampleRecord()
	rec.SignatureOK = false
	archive.Record(context.Background(), rec)
	require.NoError(t, archive.Close())

	assert.Empty(t, p.inputs)
}

func TestMultiFansOut(t *testing.T) {
	a, b := &captureSink{}, &captureSink{}
	Multi{a, nil, b}.Record(context.Background(), sampleRecord())
	assert.Len(t, a.recs, 1)
	assert.Len(t, b.recs, 1)
}

func TestLoadArchiveConfigRequiresBucket(t *testing.T) {
	t.Setenv("S3_ARCHIVE_ENABLED", "true")
	t.Setenv("S3_ACCESS_KEY_ID", "key")
	t.Setenv("S3_SECRET_ACCESS_KEY", "secret")
	t.Setenv("S3_BUCKET_NAME", "")

	_, err := LoadArchiveConfig()
	assert.Error(t, err)
}

type blockingPutter struct {
	release chan struct{}
	mu      sync.Mutex
	calls   int
}

func (p *blockingPutter) PutObject(ctx context.Context, _ *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()
	select {
	case <-p.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return &s3.PutObjectOutput{}, nil
}

func TestS3ArchiveDoesNotBlockCaller(t *testing.T) {
	p := &blockingPutter{release: make(chan struct{})}
	archive := NewS3ArchiveWithClient(p, "audit-bucket")

	done := make(chan struct{})
	go func() {
		archive.Record(context.Background(), sampleRecord())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Record blocked on the upload")
	}

	close(p.release)
	require.NoError(t, archive.Close())
	p.mu.Lock()
	defer p.mu.Unlock()
	assert.Equal(t, 1, p.calls)
}
