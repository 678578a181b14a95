// Package commitlog defines the commit record mirrored into the shared log
// file and the Markdown layout of that file.
//
// The log is a single Markdown document, most recent entry first:
//
//	# Commit Log
//
//	### 2024-05-01 14:03:22 UTC
//	- **Repository:** api
//	- **Branch:** main
//	- **Commit Hash:** `bbb222...`
//	- **Message:** fix bug
//	- **Author:** Jane <jane@example.com>
//	- **Files Changed:**
//	  - x.txt
//	  - y.txt
//
//	---
//
// The layout is the persisted state of the system, so Render and Parse must
// stay compatible across releases.
package commitlog
