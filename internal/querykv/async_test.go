package querykv

import (
	"testing"
	"time"

	"github.com/hanpama/reactivecache/internal/entity"
)

// chanTransport is a single-process stand-in for a cross-thread/cross-tab
// transport: the test sets handler to the writer's Handler, and Connect
// returns a Sender that invokes it directly (synchronously, for
// deterministic tests). The reader's own inbound handler is not used.
type chanTransport struct {
	handler func(Message)
}

func (t *chanTransport) Connect(handler func(Message)) (Sender, error) {
	return chanSender{t}, nil
}

type chanSender struct{ t *chanTransport }

func (s chanSender) SendMessage(m Message) { s.t.handler(m) }

func TestAsyncReaderWriter_SaveQueryAppliesOnWriter(t *testing.T) {
	store, _, backend := newTestStore(time.Now())
	writer := NewAsyncWriter(store, 8)
	transport := &chanTransport{}
	transport.handler = writer.Handler

	reader, err := NewAsyncReader(transport)
	if err != nil {
		t.Fatalf("NewAsyncReader: %v", err)
	}

	userKey := entity.KeyFor("User", "1")
	if err := reader.SaveEntity(userKey, map[string]any{"__typename": "User", "id": "1", "name": "Alice"}, nil); err != nil {
		t.Fatalf("SaveEntity: %v", err)
	}
	if err := reader.SaveQuery("getUser", QueryKey(1), map[string]any{"id": "1"}, map[entity.Key]struct{}{userKey: {}}, nil, 4); err != nil {
		t.Fatalf("SaveQuery: %v", err)
	}
	writer.Close()

	if _, ok := backend.GetString(valueKeyStr(u32Key(uint32(QueryKey(1))))); !ok {
		t.Fatalf("expected the writer to have applied the query save")
	}
}

func TestAsyncReaderWriter_DeleteQueryPropagates(t *testing.T) {
	store, _, _ := newTestStore(time.Now())
	writer := NewAsyncWriter(store, 8)
	transport := &chanTransport{}
	transport.handler = writer.Handler
	reader, _ := NewAsyncReader(transport)

	if err := reader.SaveQuery("q", QueryKey(5), "v", nil, nil, 4); err != nil {
		t.Fatalf("SaveQuery: %v", err)
	}
	reader.DeleteQuery(QueryKey(5))
	writer.Close()

	if _, ok := store.LoadQuery("q", QueryKey(5), time.Hour, 4); ok {
		t.Fatalf("expected deleted query to miss after writer drains")
	}
}
