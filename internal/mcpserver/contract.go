package mcpserver

// RecordFormatContract describes the record files accepted in the drop
// directory and the raw record shape accepted by the ingest endpoints.
const RecordFormatContract = `# noterank Record Format Contract

Records reach noterank either as files in the drop directory or as JSON
bodies posted to /api/ingest/notes and /api/ingest/users.

## Files

- ` + "`" + `.json` + "`" + `, ` + "`" + `.yaml` + "`" + `, ` + "`" + `.yml` + "`" + `: a list of note records, a single note record, or an
  object with ` + "`" + `notes` + "`" + ` and ` + "`" + `users` + "`" + ` lists. A single object with ` + "`" + `kind: user` + "`" + `
  is a user record.
- ` + "`" + `.md` + "`" + `: one note. YAML frontmatter holds the record fields, the body
  becomes ` + "`" + `content` + "`" + `. ` + "`" + `id` + "`" + ` defaults to the file name stem and ` + "`" + `title` + "`" + ` to
  the first H1. Inline #tags are added to the frontmatter tags.
- Hidden files and directories are ignored. Removing a file forgets its
  records.

## Note record

| Field | Type | Default |
|---|---|---|
| id | string or number | required |
| title, description, content | string | "" |
| author_id | string | "" |
| is_public, is_published | bool | true |
| tags | list of strings or objects with name, title, value or id | [] |
| series | string or tag object | none |
| created_at | ISO 8601 date or timestamp, UTC when zone-less | none |
| like_count, view_count | integer | 0 |
| thumbnail_url | string | none |

Only notes that are both public and published are ever recommended.

## User record

| Field | Type |
|---|---|
| id | string or number (required) |
| liked_notes | list of note ids or note objects |
| recently_read_notes | list of note ids or note objects |
| skills | tag list |
| series | list of preferred series |

## Example

` + "```" + `yaml
notes:
  - id: py-101
    title: Python basics
    tags: [python, beginner]
    series: Python path
    created_at: 2025-01-10T08:00:00Z
users:
  - id: u1
    liked_notes: [py-101]
    recently_read_notes: []
` + "```" + `
`
