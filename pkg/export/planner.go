package export

import (
	"fmt"
	"math"
	"slices"
	"strconv"
	"time"

	"github.com/Sternrassler/sensboxd/pkg/catalog"
	"github.com/Sternrassler/sensboxd/pkg/collection"
	"github.com/Sternrassler/sensboxd/pkg/universe"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// DefaultTimeZone is where watched dates and filename dates are computed.
const DefaultTimeZone = "Europe/Paris"

// DefaultSourceName appears in every filename.
const DefaultSourceName = "SensCritique"

var jobsPlanned = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "sensboxd_export_jobs_total",
	Help: "Export jobs planned by kind",
}, []string{"kind"})

// Source provides the loaded items. *collection.Store implements it.
type Source interface {
	ItemsIn(category int) []catalog.Item
	Username() string
}

// Plan is the ordered list of non-empty jobs with aggregate counts.
type Plan struct {
	Jobs       []Job
	TotalItems int
	JobCount   int
}

// Planner builds export jobs.
type Planner struct {
	// Location is the target time zone for dates.
	Location *time.Location

	// Now stamps filenames. Defaults to time.Now.
	Now func() time.Time

	// SourceName is the service name used in filenames.
	SourceName string
}

// NewPlanner creates a planner for loc. A nil loc loads DefaultTimeZone.
func NewPlanner(loc *time.Location) (*Planner, error) {
	if loc == nil {
		var err error
		loc, err = time.LoadLocation(DefaultTimeZone)
		if err != nil {
			return nil, fmt.Errorf("load time zone %s: %w", DefaultTimeZone, err)
		}
	}
	return &Planner{
		Location:   loc,
		Now:        time.Now,
		SourceName: DefaultSourceName,
	}, nil
}

// PlanCategoryExport builds the job for one category and kind. It returns
// ErrNoDataToExport when no item matches.
func (p *Planner) PlanCategoryExport(src Source, category int, kind Kind) (Job, error) {
	u := universe.Lookup(category)
	rows := [][]string{kind.Header(u)}
	for _, item := range src.ItemsIn(category) {
		if !kind.Matches(item) {
			continue
		}
		rows = append(rows, p.row(item, kind))
	}

	if len(rows) <= 1 {
		return Job{}, fmt.Errorf("%s %s: %w", u.Label, kind, ErrNoDataToExport)
	}

	jobsPlanned.WithLabelValues(kind.String()).Inc()
	return Job{
		Category: u,
		Kind:     kind,
		Filename: p.filename(src.Username(), u, kind),
		Rows:     rows,
	}, nil
}

// PlanAllExports builds every non-empty job, ascending by category with the
// diary job before the wishlist job. A plan without jobs returns
// ErrNoDataToExport.
func (p *Planner) PlanAllExports(src Source, available []collection.Availability) (Plan, error) {
	ordered := slices.Clone(available)
	slices.SortStableFunc(ordered, func(a, b collection.Availability) int {
		return a.CategoryID - b.CategoryID
	})

	var plan Plan
	for _, avail := range ordered {
		for _, kind := range Kinds {
			job, err := p.PlanCategoryExport(src, avail.CategoryID, kind)
			if err != nil {
				continue
			}
			plan.Jobs = append(plan.Jobs, job)
			plan.TotalItems += job.ItemCount()
		}
	}
	plan.JobCount = len(plan.Jobs)

	if plan.JobCount == 0 {
		return plan, ErrNoDataToExport
	}
	return plan, nil
}

func (p *Planner) row(item catalog.Item, kind Kind) []string {
	title := Sanitize(item.DisplayTitle())
	year := integerField(item.ReleaseYear())
	creators := Sanitize(item.PrimaryCreator())

	if kind == Wishlist {
		return []string{title, year, creators}
	}
	return []string{title, year, creators, ratingField(item.Viewer.Rating), p.dateField(item.Viewer.WatchedAt)}
}

// dateField localises before truncating to a day.
func (p *Planner) dateField(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.In(p.location()).Format("2006-01-02")
}

func (p *Planner) filename(username string, u universe.Universe, kind Kind) string {
	now := time.Now
	if p.Now != nil {
		now = p.Now
	}
	d := now().In(p.location())
	source := p.SourceName
	if source == "" {
		source = DefaultSourceName
	}
	return fmt.Sprintf("%d.%d.%d Export %s de %s - %s %s.csv",
		d.Year(), int(d.Month()), d.Day(), source, username, u.Label, kind.suffix())
}

func (p *Planner) location() *time.Location {
	if p.Location == nil {
		return time.UTC
	}
	return p.Location
}

// integerField keeps the integer part of s, or "" when s is not a number.
func integerField(s string) string {
	if s == "" {
		return ""
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return ""
	}
	return truncated(f)
}

func ratingField(r *float64) string {
	if r == nil {
		return ""
	}
	return truncated(*r)
}

func truncated(f float64) string {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return ""
	}
	return strconv.FormatInt(int64(math.Trunc(f)), 10)
}
