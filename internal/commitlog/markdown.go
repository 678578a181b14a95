package commitlog

import (
	"fmt"
	"strings"
	"time"
)

// Header is the content of a freshly created log file.
const Header = "# Commit Log\n\n"

const (
	entryPrefix    = "### "
	fieldRepo      = "- **Repository:** "
	fieldBranch    = "- **Branch:** "
	fieldHash      = "- **Commit Hash:** "
	fieldMessage   = "- **Message:** "
	fieldAuthor    = "- **Author:** "
	fieldFiles     = "- **Files Changed:**"
	fileItemPrefix = "  - "
	noFiles        = "(none)"
	separator      = "---"
)

// Entry is one parsed block of the log file.
type Entry struct {
	Timestamp  string
	Repository string
	Branch     string
	Hash       string
	Message    string
	Author     string
	Files      []string
}

// Render formats rec as a self-contained log block.
func Render(rec *Record, loc *time.Location) string {
	var sb strings.Builder

	sb.WriteString(entryPrefix + rec.Timestamp(loc) + "\n")
	sb.WriteString(fieldRepo + singleLine(rec.RepoName) + "\n")
	sb.WriteString(fieldBranch + singleLine(rec.Branch) + "\n")
	sb.WriteString(fieldHash + "`" + rec.Hash + "`\n")
	sb.WriteString(fieldMessage + singleLine(rec.Message) + "\n")
	sb.WriteString(fmt.Sprintf("%s%s <%s>\n", fieldAuthor, singleLine(rec.AuthorName), singleLine(rec.AuthorEmail)))
	sb.WriteString(fieldFiles + "\n")
	if len(rec.ChangedFiles) == 0 {
		sb.WriteString(fileItemPrefix + noFiles + "\n")
	}
	for _, f := range rec.ChangedFiles {
		sb.WriteString(fileItemPrefix + singleLine(f) + "\n")
	}
	sb.WriteString("\n" + separator + "\n\n")

	return sb.String()
}

// Prepend inserts block above the most recent entry of existing. Everything
// already in existing is kept byte for byte; an empty document gets Header.
func Prepend(existing, block string) string {
	if existing == "" {
		return Header + block
	}

	if pos := firstEntryOffset(existing); pos >= 0 {
		return existing[:pos] + block + existing[pos:]
	}

	// No entries yet: keep a leading title (and the blank lines after it) on top.
	pos := 0
	if strings.HasPrefix(existing, "# ") {
		nl := strings.IndexByte(existing, '\n')
		if nl < 0 {
			return existing + "\n\n" + block
		}
		pos = nl + 1
		for pos < len(existing) && existing[pos] == '\n' {
			pos++
		}
		if pos == nl+1 {
			return existing[:pos] + "\n" + block + existing[pos:]
		}
	}
	return existing[:pos] + block + existing[pos:]
}

func firstEntryOffset(content string) int {
	if strings.HasPrefix(content, entryPrefix) {
		return 0
	}
	idx := strings.Index(content, "\n"+entryPrefix)
	if idx < 0 {
		return -1
	}
	return idx + 1
}

// Parse reads every entry of a log document in file order (newest first).
// Lines it does not recognize are ignored so hand edits do not break it.
func Parse(content string) []Entry {
	var entries []Entry
	var cur *Entry
	inFiles := false

	flush := func() {
		if cur != nil {
			entries = append(entries, *cur)
		}
		cur = nil
		inFiles = false
	}

	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimRight(line, "\r")

		if strings.HasPrefix(line, entryPrefix) {
			flush()
			cur = &Entry{Timestamp: strings.TrimSpace(strings.TrimPrefix(line, entryPrefix))}
			continue
		}
		if cur == nil {
			continue
		}

		switch {
		case line == separator:
			flush()
		case strings.HasPrefix(line, fieldRepo):
			cur.Repository = strings.TrimPrefix(line, fieldRepo)
			inFiles = false
		case strings.HasPrefix(line, fieldBranch):
			cur.Branch = strings.TrimPrefix(line, fieldBranch)
			inFiles = false
		case strings.HasPrefix(line, fieldHash):
			cur.Hash = strings.Trim(strings.TrimPrefix(line, fieldHash), "` ")
			inFiles = false
		case strings.HasPrefix(line, fieldMessage):
			cur.Message = strings.TrimPrefix(line, fieldMessage)
			inFiles = false
		case strings.HasPrefix(line, fieldAuthor):
			cur.Author = strings.TrimPrefix(line, fieldAuthor)
			inFiles = false
		case strings.HasPrefix(line, fieldFiles):
			inFiles = true
		case inFiles && strings.HasPrefix(line, fileItemPrefix):
			name := strings.TrimPrefix(line, fileItemPrefix)
			if name != noFiles {
				cur.Files = append(cur.Files, name)
			}
		}
	}
	flush()

	return entries
}

// Contains reports whether content already holds an entry for hash in the
// named repository.
func Contains(content, repoName, hash string) bool {
	if hash == "" || !strings.Contains(content, hash) {
		return false
	}
	for _, e := range Parse(content) {
		if e.Hash == hash && e.Repository == singleLine(repoName) {
			return true
		}
	}
	return false
}

// singleLine keeps a field on one Markdown line.
func singleLine(s string) string {
	s = strings.ReplaceAll(s, "\r\n", " ")
	s = strings.ReplaceAll(s, "\n", " ")
	return strings.TrimSpace(s)
}
