package assist

import (
	"time"

	"github.com/jjo/promql-assist/pkg/datasource"
)

// TimeWindow is the visible query range.
type TimeWindow = datasource.TimeWindow

// Event names a controller input considered by the refresh scheduler.
type Event int

const (
	EventMount Event = iota
	EventRangeChanged
	EventDatasourceChanged
	EventResultsChanged
	EventEdit
	EventTypeahead
)

func (e Event) String() string {
	switch e {
	case EventMount:
		return "mount"
	case EventRangeChanged:
		return "range-changed"
	case EventDatasourceChanged:
		return "datasource-changed"
	case EventResultsChanged:
		return "results-changed"
	case EventEdit:
		return "edit"
	case EventTypeahead:
		return "typeahead"
	}
	return "unknown"
}

// decision is what the scheduler asks of the controller.
type decision struct {
	Refresh bool
	// ResetReady drops the current catalog before the refresh starts.
	ResetReady bool
}

// scheduler remembers the last minute-floored window a load was decided for.
type scheduler struct {
	window TimeWindow
}

// roundWindow floors both endpoints to the minute.
func roundWindow(w TimeWindow) TimeWindow {
	return TimeWindow{From: w.From.Truncate(time.Minute), To: w.To.Truncate(time.Minute)}
}

// WindowChanged reports whether prev and next differ once floored to the minute.
func WindowChanged(prev, next TimeWindow) bool {
	a, b := roundWindow(prev), roundWindow(next)
	return !a.From.Equal(b.From) || !a.To.Equal(b.To)
}

// shouldRefresh evaluates ev. w is the window after the event and hasProvider whether a
// language provider is attached.
func (s *scheduler) shouldRefresh(ev Event, w TimeWindow, hasProvider bool) decision {
	switch ev {
	case EventDatasourceChanged:
		s.window = roundWindow(w)
		return decision{Refresh: hasProvider, ResetReady: true}
	case EventRangeChanged:
		if !WindowChanged(s.window, w) {
			return decision{}
		}
		s.window = roundWindow(w)
		return decision{Refresh: hasProvider}
	case EventMount:
		s.window = roundWindow(w)
		return decision{Refresh: hasProvider}
	}
	return decision{}
}
