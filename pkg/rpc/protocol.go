package rpc

import (
	"github.com/jjo/promql-assist/pkg/assist"
	"github.com/jjo/promql-assist/pkg/datasource"
)

// JSON-RPC error codes.
const (
	CodeMethodNotFound   int64 = -32601
	CodeInvalidParams    int64 = -32602
	CodeInternalError    int64 = -32603
	CodeNotAttached      int64 = -32002
	CodeRequestCancelled int64 = -32800
	CodeRequestFailed    int64 = -32803
)

// Notification methods sent to the client.
const (
	NotifyChange   = "onChange"
	NotifyRunQuery = "onRunQuery"
	NotifyRepair   = "onRepair"
	NotifyCatalog  = "onCatalog"
	NotifyError    = "onError"
)

type TextParams struct {
	Text string `json:"text"`
}

type WindowParams struct {
	Window assist.TimeWindow `json:"window"`
}

type TypeaheadParams struct {
	Line   string `json:"line"`
	Cursor int    `json:"cursor"`
}

type SelectLabelsParams struct {
	Selector string   `json:"selector"`
	Labels   []string `json:"labels"`
}

type RangeResult struct {
	Refreshing bool `json:"refreshing"`
}

type TypeaheadResult struct {
	Context     string              `json:"context,omitempty"`
	Suggestions []assist.Suggestion `json:"suggestions"`
}

// RepairAck answers a repair request; the outcome arrives as an onRepair notification.
type RepairAck struct {
	Started bool `json:"started"`
}

type RunQueryResult struct {
	Data *datasource.Data `json:"data"`
	View assist.View      `json:"view"`
}

// CatalogEvent summarises a catalog swap or a failed load.
type CatalogEvent struct {
	Ready   bool   `json:"ready"`
	Metrics int    `json:"metrics"`
	Error   string `json:"error,omitempty"`
}
