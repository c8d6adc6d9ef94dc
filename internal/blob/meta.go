package blob

import "fmt"

// MetaType distinguishes ordinary index records from ones produced by GC.
type MetaType int

const (
	MetaNormal MetaType = iota
	MetaGC
)

// MetaTypes lists every MetaType in enumeration order.
var MetaTypes = []MetaType{MetaNormal, MetaGC}

func (t MetaType) String() string {
	switch t {
	case MetaNormal:
		return "NORMAL"
	case MetaGC:
		return "GC"
	default:
		return fmt.Sprintf("MetaType(%d)", int(t))
	}
}

// Meta is a key/index record pointing at a value inside a blob.
type Meta struct {
	Key       string   `json:"key"`
	BlobID    string   `json:"blobId"`
	Offset    int64    `json:"offset"`
	Validated bool     `json:"validated"`
	Type      MetaType `json:"type"`
	// DelayMs only buckets the record for the validation policy.
	DelayMs float64 `json:"delayMs"`
}
