package queue

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relgraph/backend/pkg/common"
	"github.com/relgraph/backend/pkg/graph"
	"github.com/relgraph/backend/pkg/snapshot"
	"github.com/relgraph/backend/pkg/store"
)

type published struct {
	exchange string
	key      string
	msg      amqp091.Publishing
}

type fakeChannel struct {
	mu         sync.Mutex
	exchanges  []string
	queues     map[string]amqp091.Table
	published  []published
	publishErr error
	deliveries map[string]chan amqp091.Delivery
	bindings   []string
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{queues: make(map[string]amqp091.Table), deliveries: make(map[string]chan amqp091.Delivery)}
}

func (f *fakeChannel) ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp091.Table) error {
	f.exchanges = append(f.exchanges, name+":"+kind)
	return nil
}

func (f *fakeChannel) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp091.Table) (amqp091.Queue, error) {
	if name == "" {
		name = "amq.gen-test"
	}
	f.queues[name] = args
	return amqp091.Queue{Name: name}, nil
}

func (f *fakeChannel) QueueBind(name, key, exchange string, _ bool, _ amqp091.Table) error {
	f.bindings = append(f.bindings, exchange+"/"+key+"->"+name)
	return nil
}

func (f *fakeChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp091.Publishing) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		return f.publishErr
	}
	f.published = append(f.published, published{exchange: exchange, key: key, msg: msg})
	return nil
}

func (f *fakeChannel) Consume(queue, _ string, _, _, _, _ bool, _ amqp091.Table) (<-chan amqp091.Delivery, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch, ok := f.deliveries[queue]
	if !ok {
		ch = make(chan amqp091.Delivery)
		f.deliveries[queue] = ch
	}
	return ch, nil
}

func (f *fakeChannel) sent() []published {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]published(nil), f.published...)
}

type fakeAck struct {
	mu      sync.Mutex
	acks    int
	nacks   int
	requeue bool
}

func (a *fakeAck) Ack(uint64, bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.acks++
	return nil
}

func (a *fakeAck) Nack(_ uint64, _ bool, requeue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nacks++
	a.requeue = requeue
	return nil
}

func (a *fakeAck) Reject(uint64, bool) error { return nil }

func (a *fakeAck) counts() (int, int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.acks, a.nacks
}

func delivery(ack *fakeAck, body string, headers amqp091.Table) amqp091.Delivery {
	return amqp091.Delivery{Acknowledger: ack, DeliveryTag: 1, Body: []byte(body), Headers: headers}
}

func TestSetupQueues(t *testing.T) {
	ch := newFakeChannel()
	require.NoError(t, SetupQueues(ch, Queues, 5*time.Second))

	assert.Equal(t, []string{"graph_events:topic"}, ch.exchanges)
	for _, name := range []string{"extract_queue", "extract_queue_dlq", "extract_queue_retry", "rebuild_queue", "rebuild_queue_dlq", "rebuild_queue_retry"} {
		assert.Contains(t, ch.queues, name)
	}
	retry := ch.queues["extract_queue_retry"]
	assert.Equal(t, int32(5000), retry["x-message-ttl"])
	assert.Equal(t, "extract_queue", retry["x-dead-letter-routing-key"])
}

func TestHandleProcessingErrorRetries(t *testing.T) {
	ch := newFakeChannel()
	ack := &fakeAck{}

	HandleProcessingError(context.Background(), ch, delivery(ack, `{"document_ids":["d1"]}`, amqp091.Table{"x-retries": int64(2)}), ExtractQueue, errors.New("db down"), 10)

	sent := ch.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "extract_queue_retry", sent[0].key)
	assert.Equal(t, int32(3), sent[0].msg.Headers["x-retries"])
	acks, nacks := ack.counts()
	assert.Equal(t, 1, acks)
	assert.Zero(t, nacks)
}

func TestHandleProcessingErrorDeadLetters(t *testing.T) {
	tests := []struct {
		name    string
		headers amqp091.Table
		err     error
	}{
		{"retries exhausted", amqp091.Table{"x-retries": int32(10)}, errors.New("still failing")},
		{"malformed", nil, ErrMalformedMessage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ch := newFakeChannel()
			ack := &fakeAck{}

			HandleProcessingError(context.Background(), ch, delivery(ack, "x", tt.headers), RebuildQueue, tt.err, 10)

			sent := ch.sent()
			require.Len(t, sent, 1)
			assert.Equal(t, "rebuild_queue_dlq", sent[0].key)
			assert.Equal(t, tt.err.Error(), sent[0].msg.Headers["x-last-error"])
		})
	}
}

func TestHandleProcessingErrorRequeuesWhenPublishFails(t *testing.T) {
	ch := newFakeChannel()
	ch.publishErr = errors.New("channel closed")
	ack := &fakeAck{}

	HandleProcessingError(context.Background(), ch, delivery(ack, "x", nil), ExtractQueue, errors.New("boom"), 10)

	acks, nacks := ack.counts()
	assert.Zero(t, acks)
	assert.Equal(t, 1, nacks)
	assert.True(t, ack.requeue)
}

type memDocuments struct {
	docs   []common.Document
	filter store.DocumentFilter
}

func (m *memDocuments) ListDocuments(_ context.Context, filter store.DocumentFilter) ([]common.Document, error) {
	m.filter = filter
	var out []common.Document
	for _, d := range m.docs {
		for _, id := range filter.IDs {
			if d.ID == id {
				out = append(out, d)
			}
		}
	}
	return out, nil
}

func (m *memDocuments) SaveDocuments(context.Context, []common.Document) error { return nil }

type fakeRunner struct {
	docs     []common.Document
	opts     graph.RunOptions
	err      error
	rebuilds int
}

func (r *fakeRunner) Run(_ context.Context, docs []common.Document, opts graph.RunOptions) (*graph.RunReport, error) {
	r.docs, r.opts = docs, opts
	if r.err != nil {
		return nil, r.err
	}
	return &graph.RunReport{ID: "run", Documents: len(docs), Succeeded: len(docs)}, nil
}

func (r *fakeRunner) Rebuild(context.Context) (*snapshot.Snapshot, error) {
	r.rebuilds++
	if r.err != nil {
		return nil, r.err
	}
	return snapshot.Build([]common.RelationshipEdge{{
		Source: "AAPL", Target: "TSM", Kind: common.KindSupplier, Confidence: 0.5, Documents: []string{"d1"},
	}}, uint64(r.rebuilds))
}

func TestProcessExtractMessage(t *testing.T) {
	docs := &memDocuments{docs: []common.Document{{ID: "d1", Content: "a"}, {ID: "d2", Content: "b"}}}
	runner := &fakeRunner{}

	err := ProcessExtractMessage(context.Background(), docs, runner, []byte(`{"document_ids":["d1","d1","d3"],"concurrency":2}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"d1", "d3"}, docs.filter.IDs)
	require.Len(t, runner.docs, 1)
	assert.Equal(t, "d1", runner.docs[0].ID)
	assert.Equal(t, graph.RunOptions{Concurrency: 2}, runner.opts)

	err = ProcessExtractMessage(context.Background(), docs, runner, []byte(`{"document_ids":["d2"],"max_retries":0}`))
	require.NoError(t, err)
	require.NotNil(t, runner.opts.MaxRetries)
	assert.Equal(t, 0, *runner.opts.MaxRetries)
}

func TestProcessExtractMessageErrors(t *testing.T) {
	docs := &memDocuments{docs: []common.Document{{ID: "d1", Content: "a"}}}

	err := ProcessExtractMessage(context.Background(), docs, &fakeRunner{}, []byte(`not json`))
	require.ErrorIs(t, err, ErrMalformedMessage)

	err = ProcessExtractMessage(context.Background(), docs, &fakeRunner{}, []byte(`{"document_ids":[]}`))
	require.ErrorIs(t, err, ErrMalformedMessage)

	persist := errors.New("persist failed")
	err = ProcessExtractMessage(context.Background(), docs, &fakeRunner{err: persist}, []byte(`{"document_ids":["d1"]}`))
	require.ErrorIs(t, err, persist)

	runner := &fakeRunner{}
	err = ProcessExtractMessage(context.Background(), docs, runner, []byte(`{"document_ids":["gone"]}`))
	require.NoError(t, err, "unknown documents are skipped")
	assert.Nil(t, runner.docs)
}

func TestProcessRebuildMessage(t *testing.T) {
	runner := &fakeRunner{}
	require.NoError(t, ProcessRebuildMessage(context.Background(), runner, []byte(`{"message":"manual"}`)))
	require.NoError(t, ProcessRebuildMessage(context.Background(), runner, nil))
	assert.Equal(t, 2, runner.rebuilds)

	require.ErrorIs(t, ProcessRebuildMessage(context.Background(), runner, []byte(`{`)), ErrMalformedMessage)
}

func TestSnapshotEventHook(t *testing.T) {
	ch := newFakeChannel()
	snap, err := snapshot.Build([]common.RelationshipEdge{{
		Source: "AAPL", Target: "TSM", Kind: common.KindSupplier, Confidence: 0.9, Documents: []string{"d1"},
	}}, 42)
	require.NoError(t, err)

	hook := SnapshotEventHook(ch, func(v uint64) string { return "snapshots/v000042.json" })
	hook(context.Background(), snap)

	sent := ch.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, EventsExchange, sent[0].exchange)
	assert.Equal(t, SnapshotTopic, sent[0].key)

	var evt SnapshotEvent
	require.NoError(t, json.Unmarshal(sent[0].msg.Body, &evt))
	assert.Equal(t, uint64(42), evt.Version)
	assert.Equal(t, 2, evt.Nodes)
	assert.Equal(t, 1, evt.Edges)
	assert.Equal(t, "snapshots/v000042.json", evt.ArchiveKey)
}

func TestConsumeRoutesMessages(t *testing.T) {
	ch := newFakeChannel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var handled []string
	done := make(chan error, 1)
	go func() {
		done <- Consume(ctx, ch, ch, Queues, 3, func(_ context.Context, queueName string, body []byte) error {
			mu.Lock()
			handled = append(handled, queueName+":"+string(body))
			mu.Unlock()
			if string(body) == "bad" {
				return errors.New("bad message")
			}
			return nil
		})
	}()

	var extract chan amqp091.Delivery
	require.Eventually(t, func() bool {
		ch.mu.Lock()
		defer ch.mu.Unlock()
		extract = ch.deliveries[ExtractQueue]
		return extract != nil && ch.deliveries[RebuildQueue] != nil
	}, time.Second, 5*time.Millisecond)

	okAck, badAck := &fakeAck{}, &fakeAck{}
	extract <- delivery(okAck, "good", nil)
	extract <- delivery(badAck, "bad", nil)

	require.Eventually(t, func() bool {
		a, _ := okAck.counts()
		b, _ := badAck.counts()
		return a == 1 && b == 1
	}, time.Second, 5*time.Millisecond)

	sent := ch.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "extract_queue_retry", sent[0].key)

	cancel()
	require.NoError(t, <-done)
	mu.Lock()
	assert.Equal(t, []string{"extract_queue:good", "extract_queue:bad"}, handled)
	mu.Unlock()
}

func TestSubscribeSnapshots(t *testing.T) {
	ch := newFakeChannel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan SnapshotEvent, 2)
	done := make(chan error, 1)
	go func() {
		done <- SubscribeSnapshots(ctx, ch, func(_ context.Context, evt SnapshotEvent) error {
			got <- evt
			return errors.New("ignored")
		})
	}()

	var events chan amqp091.Delivery
	require.Eventually(t, func() bool {
		ch.mu.Lock()
		defer ch.mu.Unlock()
		events = ch.deliveries["amq.gen-test"]
		return events != nil
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"graph_events/graph.snapshot->amq.gen-test"}, ch.bindings)

	events <- amqp091.Delivery{Body: []byte("{not json")}
	events <- amqp091.Delivery{Body: []byte(`{"version":9,"nodes":2,"edges":1}`)}
	events <- amqp091.Delivery{Body: []byte(`{"version":10,"nodes":3,"edges":2}`)}

	assert.Equal(t, uint64(9), (<-got).Version)
	assert.Equal(t, uint64(10), (<-got).Version)

	cancel()
	require.NoError(t, <-done)
}
