// Package agent implements the autonomous research loop: plan queries,
// search the web, scrape and ingest sources, synthesise a report, and
// evaluate whether to stop or re-plan.
package agent

// Status values a research run moves through.
const (
	StatusPlanning     = "planning"
	StatusSearching    = "searching"
	StatusScraping     = "scraping"
	StatusSynthesising = "synthesising"
	StatusEvaluating   = "evaluating"
	StatusRePlanning   = "re-planning"
	StatusDone         = "done"
)

// State is the shared record threaded through every stage of a run.
type State struct {
	Goal        string   `json:"goal"`
	Plan        []string `json:"plan"`
	URLsFound   []string `json:"urls_found"`
	URLsScraped []string `json:"urls_scraped"`
	Findings    []string `json:"findings"`
	Report      string   `json:"report"`
	Iteration   int      `json:"iteration"`
	Status      string   `json:"status"`
	ArtifactID  string   `json:"artifact_id"`
}

func newState(goal string) *State {
	return &State{
		Goal:   goal,
		Status: StatusPlanning,
	}
}
