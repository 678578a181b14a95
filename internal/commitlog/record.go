package commitlog

import "time"

// DetachedBranch is reported when HEAD does not point at a local branch.
const DetachedBranch = "(detached)"

// TimestampLayout is the display format for entry headings.
const TimestampLayout = "2006-01-02 15:04:05 MST"

// Record is the normalized metadata of one commit. Records are produced by
// the inspector and treated as immutable afterwards.
type Record struct {
	Hash        string
	RepoName    string
	RepoPath    string
	Branch      string
	Message     string // first line of the commit message
	FullMessage string // body after the subject, may be empty
	AuthorName  string
	AuthorEmail string
	AuthorTime  time.Time

	// ChangedFiles are repository-relative paths in the order git reports them.
	ChangedFiles []string
}

// ShortHash returns the abbreviated commit hash.
func (r *Record) ShortHash() string {
	if len(r.Hash) > 7 {
		return r.Hash[:7]
	}
	return r.Hash
}

// Timestamp renders the author time in loc for display. It is presentation
// only and never used to order entries.
func (r *Record) Timestamp(loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return r.AuthorTime.In(loc).Format(TimestampLayout)
}
