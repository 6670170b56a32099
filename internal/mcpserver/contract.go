package mcpserver

// NoteFormatContract describes the note file format that LLM consumers
// should follow when writing notes.
const NoteFormatContract = `# MythNote Note Format

Every note is one Markdown file. Notes are addressed by file name only; the
directory a note lives in is derived from its name.

## Structure

` + "```" + `markdown
---
created: 2025-01-15 09:30:00   # set once when the note is created, never changed
modified: 2025-01-16 18:02:11  # updated on every write
title: Weekly standup          # OPTIONAL - otherwise the first "# " heading is used
tags:                          # OPTIONAL - hierarchical, "/" separated
  - work/meetings
source_url: https://example.com
pinned: false
deleted: false                 # true moves the note to the trash
---

Body text in standard Markdown.
` + "```" + `

## Rules

1. **File names** end with ` + "`" + `.md` + "`" + `, are 4 to 255 characters long and contain no
   path separators.
2. **created is immutable.** A write that changes the created value of an
   existing note is rejected. Omit it when overwriting and the stored value
   is kept.
3. **Tags** are category paths such as ` + "`" + `work/proj` + "`" + `. A note tagged
   ` + "`" + `work/proj` + "`" + ` also appears under ` + "`" + `work` + "`" + `. Leading and trailing
   slashes and empty segments are dropped.
4. **Timestamps** use the ` + "`" + `YYYY-MM-DD HH:MM:SS` + "`" + ` form in UTC.
5. **Deleting** sets ` + "`" + `deleted: true` + "`" + `; use the delete_notes tool rather than
   removing files. Emptying the trash is permanent.
6. **Encoding** is UTF-8.
`
