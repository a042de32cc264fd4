package storage

import (
	"github.com/Veraticus/receipt-reconciler/internal/model"
	"github.com/Veraticus/receipt-reconciler/internal/service"
)

// collection names double as SQLite table names.
const (
	colTransactions   = "transactions"
	colFiles          = "files"
	colConnections    = "file_connections"
	colPartners       = "partners"
	colCategories     = "categories"
	colQueueItems     = "queue_items"
	colWorkerRequests = string(model.WorkerRequests)
	colWorkerRuns     = string(model.WorkerRuns)
)

type opKind int

const (
	opPut opKind = iota
	opDelete
	opIncrement
)

// op is one pending write. doc points at the caller's document so its
// Version can be advanced after a successful commit.
type op struct {
	doc        any
	version    *int64
	collection string
	id         string
	kind       opKind
	delta      int
}

// opBatch implements service.Batch by recording operations for a store to
// apply atomically.
type opBatch struct {
	ops []op
}

var _ service.Batch = (*opBatch)(nil)

func (b *opBatch) put(collection, id string, version *int64, doc any) {
	b.ops = append(b.ops, op{kind: opPut, collection: collection, id: id, version: version, doc: doc})
}

func (b *opBatch) PutTransaction(txn *model.Transaction) {
	b.put(colTransactions, txn.ID, &txn.Version, txn)
}

func (b *opBatch) PutFile(file *model.File) {
	b.put(colFiles, file.ID, &file.Version, file)
}

func (b *opBatch) DeleteFile(id string) {
	b.ops = append(b.ops, op{kind: opDelete, collection: colFiles, id: id})
}

func (b *opBatch) PutConnection(conn *model.FileConnection) {
	b.put(colConnections, conn.ID, &conn.Version, conn)
}

func (b *opBatch) DeleteConnection(id string) {
	b.ops = append(b.ops, op{kind: opDelete, collection: colConnections, id: id})
}

func (b *opBatch) PutPartner(partner *model.Partner) {
	b.put(colPartners, partner.ID, &partner.Version, partner)
}

func (b *opBatch) PutCategory(category *model.Category) {
	b.put(colCategories, category.ID, &category.Version, category)
}

func (b *opBatch) IncrementCategoryCount(id string, delta int) {
	b.ops = append(b.ops, op{kind: opIncrement, collection: colCategories, id: id, delta: delta})
}

func (b *opBatch) PutQueueItem(item *model.QueueItem) {
	b.put(colQueueItems, item.ID, &item.Version, item)
}

func (b *opBatch) PutWorker(collection model.WorkerCollection, record *model.WorkerRecord) {
	b.put(string(collection), record.ID, &record.Version, record)
}

func (b *opBatch) Len() int {
	return len(b.ops)
}

// advanceVersions bumps the in-memory Version of every written document.
// Called only after the batch committed.
func (b *opBatch) advanceVersions() {
	for _, o := range b.ops {
		if o.kind == opPut && o.version != nil {
			*o.version++
		}
	}
}
