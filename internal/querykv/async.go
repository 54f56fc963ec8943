package querykv

import "github.com/hanpama/reactivecache/internal/entity"

// Writer is the save-path surface both the sync Store and the async
// Reader implement, so the query package can depend on an interface rather
// than choosing a deployment shape.
type Writer interface {
	SaveQuery(defID string, key QueryKey, value any, refIDs map[entity.Key]struct{}, extra *Extras, maxCount int) error
	SaveEntity(key entity.Key, value any, refIDs map[entity.Key]struct{}) error
	ActivateQuery(defID string, key QueryKey, maxCount int)
	DeleteQuery(key QueryKey)
}

// MessageKind tags the variant held in a Message, mirroring the four
// message names a transport carries between an async Reader and its Writer.
type MessageKind int

const (
	MsgSaveQuery MessageKind = iota
	MsgSaveEntity
	MsgActivateQuery
	MsgDeleteQuery
)

// Message is the wire shape exchanged between an async Reader and its
// single Writer instance. Exactly one of the payload fields is set,
// selected by Kind.
type Message struct {
	Kind          MessageKind
	SaveQuery     *SaveQueryMsg
	SaveEntity    *SaveEntityMsg
	ActivateQuery *ActivateQueryMsg
	DeleteQuery   *DeleteQueryMsg
}

type SaveQueryMsg struct {
	QueryDefID string
	QueryKey   QueryKey
	Value      any
	RefIDs     map[entity.Key]struct{}
	Extra      *Extras
	MaxCount   int
}

type SaveEntityMsg struct {
	EntityKey entity.Key
	Value     any
	RefIDs    map[entity.Key]struct{}
}

type ActivateQueryMsg struct {
	QueryDefID string
	QueryKey   QueryKey
	MaxCount   int
}

type DeleteQueryMsg struct {
	QueryKey QueryKey
}

// Transport is the injected message channel between an async Reader and
// its Writer: connect registers the handler that receives inbound
// messages and returns the Sender used to emit them.
type Transport interface {
	Connect(handler func(Message)) (Sender, error)
}

// Sender is the half of a Transport connection a Reader holds to emit
// messages toward the Writer.
type Sender interface {
	SendMessage(Message)
}

// AsyncWriter is the single source-of-truth instance in an async-store
// deployment: it owns the backend-backed sync Store and applies every
// queued message strictly FIFO on one goroutine, so concurrent Reader
// instances never race each other's writes.
type AsyncWriter struct {
	store   *Store
	mailbox chan Message
	done    chan struct{}
}

// NewAsyncWriter starts the writer's drain goroutine immediately.
func NewAsyncWriter(store *Store, bufferSize int) *AsyncWriter {
	w := &AsyncWriter{store: store, mailbox: make(chan Message, bufferSize), done: make(chan struct{})}
	go w.run()
	return w
}

func (w *AsyncWriter) run() {
	for msg := range w.mailbox {
		w.apply(msg)
	}
	close(w.done)
}

func (w *AsyncWriter) apply(msg Message) {
	switch msg.Kind {
	case MsgSaveQuery:
		m := msg.SaveQuery
		_ = w.store.SaveQuery(m.QueryDefID, m.QueryKey, m.Value, m.RefIDs, m.Extra, m.MaxCount)
	case MsgSaveEntity:
		m := msg.SaveEntity
		_ = w.store.SaveEntity(m.EntityKey, m.Value, m.RefIDs)
	case MsgActivateQuery:
		m := msg.ActivateQuery
		w.store.ActivateQuery(m.QueryDefID, m.QueryKey, m.MaxCount)
	case MsgDeleteQuery:
		w.store.DeleteQuery(msg.DeleteQuery.QueryKey)
	}
}

// Handler is the inbound message handler to register with a Transport so
// messages sent by remote Reader instances land on this writer's mailbox.
func (w *AsyncWriter) Handler(msg Message) { w.mailbox <- msg }

// Close stops accepting new messages and blocks until the mailbox drains.
func (w *AsyncWriter) Close() {
	close(w.mailbox)
	<-w.done
}

// AsyncReader is a non-writer instance of an async-store deployment: every
// save-path call is enqueued over the transport and applied asynchronously
// on the writer. Loads are intentionally unsupported here: the writer is
// the sole source of truth for reads on the async path.
type AsyncReader struct {
	sender Sender
}

// NewAsyncReader connects to a Transport, ignoring inbound messages (a
// reader has nothing to apply messages to).
func NewAsyncReader(transport Transport) (*AsyncReader, error) {
	sender, err := transport.Connect(func(Message) {})
	if err != nil {
		return nil, err
	}
	return &AsyncReader{sender: sender}, nil
}

func (r *AsyncReader) SaveQuery(defID string, key QueryKey, value any, refIDs map[entity.Key]struct{}, extra *Extras, maxCount int) error {
	r.sender.SendMessage(Message{Kind: MsgSaveQuery, SaveQuery: &SaveQueryMsg{
		QueryDefID: defID, QueryKey: key, Value: value, RefIDs: refIDs, Extra: extra, MaxCount: maxCount,
	}})
	return nil
}

func (r *AsyncReader) SaveEntity(key entity.Key, value any, refIDs map[entity.Key]struct{}) error {
	r.sender.SendMessage(Message{Kind: MsgSaveEntity, SaveEntity: &SaveEntityMsg{EntityKey: key, Value: value, RefIDs: refIDs}})
	return nil
}

func (r *AsyncReader) ActivateQuery(defID string, key QueryKey, maxCount int) {
	r.sender.SendMessage(Message{Kind: MsgActivateQuery, ActivateQuery: &ActivateQueryMsg{QueryDefID: defID, QueryKey: key, MaxCount: maxCount}})
}

func (r *AsyncReader) DeleteQuery(key QueryKey) {
	r.sender.SendMessage(Message{Kind: MsgDeleteQuery, DeleteQuery: &DeleteQueryMsg{QueryKey: key}})
}

var (
	_ Writer = (*Store)(nil)
	_ Writer = (*AsyncReader)(nil)
)
