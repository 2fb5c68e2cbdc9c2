package migrate

// Kind classifies a migration object.
type Kind string

const (
	// KindSchema is a schema-level object
	KindSchema Kind = "schema"
	// KindTable is a table-level object
	KindTable Kind = "table"
)

// Status is the final outcome of one migration object.
type Status string

const (
	// StatusPending means the object has not been processed yet
	StatusPending Status = "pending"
	// StatusSkipped means policy flags left the object untouched
	StatusSkipped Status = "skipped"
	// StatusApplied means DDL and/or data reached the target
	StatusApplied Status = "applied"
	// StatusFailed means DDL application or data copy failed
	StatusFailed Status = "failed"
)

// Object is one schema or table to migrate.
type Object struct {
	// Name is the qualified object name ("staging" or "staging.orders")
	Name string
	// Schema is the containing schema
	Schema string
	// Table is the table name, empty for schema objects
	Table string
	// Kind is schema or table
	Kind Kind
	// RowLimit overrides the plan-wide row limit when positive
	RowLimit int64
}

// Policy holds the global flags of a migration run.
type Policy struct {
	// Commit executes DDL and writes data; false is a full dry-run
	Commit bool
	// SkipDDLs leaves the target schema untouched
	SkipDDLs bool
	// CleverDDLs skips DDL application when an object of the same name
	// already exists on the target
	CleverDDLs bool
	// SkipData migrates DDL only
	SkipData bool
	// EvenNotEmpty allows copying into a target that already holds data.
	// When false, a non-empty target aborts the whole run.
	EvenNotEmpty bool
	// Truncate empties each target table before its data copy
	Truncate bool
	// Limit caps the number of rows copied per table (0 = no cap)
	Limit int64
	// AbortOnError stops the run at the first failed object instead of
	// continuing with the rest of the plan
	AbortOnError bool
}

// Plan is the immutable, fully resolved object sequence of one migration
// run. Schemas always precede their tables. A Plan is built once and never
// mutated; Run appends outcomes to a separate Result.
type Plan struct {
	objects []Object
	policy  Policy
}

// Objects returns a copy of the ordered object list.
func (p *Plan) Objects() []Object {
	out := make([]Object, len(p.objects))
	copy(out, p.objects)
	return out
}

// Policy returns the run policy.
func (p *Plan) Policy() Policy { return p.policy }

// Size returns the number of objects in the plan.
func (p *Plan) Size() int { return len(p.objects) }

// ObjectResult is the recorded outcome of one object.
type ObjectResult struct {
	// Object is the plan entry this outcome belongs to
	Object Object
	// Status is the final status
	Status Status
	// Rows is the number of rows copied (or read, in a dry-run)
	Rows int64
	// DDL is the extracted DDL text, kept for dry-run preview
	DDL string
	// Err is the failure, if any
	Err error
}

// Result accumulates per-object outcomes of one run.
type Result struct {
	results []ObjectResult
}

// Results returns the outcomes in plan order.
func (r *Result) Results() []ObjectResult {
	out := make([]ObjectResult, len(r.results))
	copy(out, r.results)
	return out
}

// Statuses maps object names to their final status.
func (r *Result) Statuses() map[string]Status {
	out := make(map[string]Status, len(r.results))
	for _, res := range r.results {
		out[res.Object.Name] = res.Status
	}
	return out
}

// Failed returns the outcomes that ended in failure.
func (r *Result) Failed() []ObjectResult {
	var out []ObjectResult
	for _, res := range r.results {
		if res.Status == StatusFailed {
			out = append(out, res)
		}
	}
	return out
}

// OK reports whether no object failed.
func (r *Result) OK() bool { return len(r.Failed()) == 0 }

func (r *Result) add(res ObjectResult) { r.results = append(r.results, res) }
