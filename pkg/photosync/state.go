package photosync

import (
	"github.com/virtualtourist/tourist/pkg/models"
)

// State is where a pin's photo collection stands from the caller's point of
// view.
type State string

const (
	StateNoData        State = "no_data"
	StateHasCachedData State = "has_cached_data"
	StateFetching      State = "fetching"
	StateEmpty         State = "empty"
)

// Result is the outcome of a load or refresh. On failure Err is set and State
// is whatever it was before the attempt.
type Result struct {
	State  State           `json:"state"`
	Pin    *models.Pin     `json:"pin"`
	Photos []*models.Photo `json:"photos"`
	Err    error           `json:"-"`
}

func (r *Result) OK() bool {
	return r.Err == nil
}

// Message is the human readable failure, or "" on success.
func (r *Result) Message() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

// NextPage picks the remote page to request for a pin whose cursor is at page
// of pages. A pin that has never been fetched, or that reported no pages,
// starts at 1. Otherwise the page advances modulo pages, which yields 0 when
// page+1 == pages.
func NextPage(page, pages int) int {
	if page == 0 || pages == 0 {
		return 1
	}
	return (page + 1) % pages
}

// stateOf derives the state of a pin that isn't being fetched.
func stateOf(pin *models.Pin, cached int) State {
	switch {
	case cached > 0:
		return StateHasCachedData
	case pin.Fetched():
		return StateEmpty
	default:
		return StateNoData
	}
}
