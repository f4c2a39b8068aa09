// Package markdown renders Notion API payloads as Markdown text.
//
// Conversion is pure: the same payload always yields the same text. Objects are walked in
// document order, so property lists keep the order Notion returned them in.
package markdown

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// ErrInvalidPayload is returned for payloads that aren't a JSON object.
var ErrInvalidPayload = errors.New("payload is not a JSON object")

// Convert renders payload by its "object" field: page, database, block, list, user or
// comment. Other objects are rendered as a fenced JSON block.
func Convert(payload json.RawMessage) (string, error) {
	if !gjson.ValidBytes(payload) {
		return "", ErrInvalidPayload
	}
	root := gjson.ParseBytes(payload)
	if !root.IsObject() {
		return "", ErrInvalidPayload
	}

	w := &writer{}
	switch object := root.Get("object").String(); object {
	case "page":
		w.page(root)
	case "database":
		w.database(root)
	case "block":
		w.blocks([]gjson.Result{root})
	case "list":
		w.list(root)
	case "user":
		w.user(root)
	case "comment":
		w.comment(root)
	default:
		if err := w.fencedJSON(payload); err != nil {
			return "", fmt.Errorf("render %q object: %w", object, err)
		}
	}

	return strings.TrimRight(w.String(), "\n") + "\n", nil
}

type writer struct {
	strings.Builder
}

func (w *writer) line(format string, args ...any) {
	fmt.Fprintf(w, format, args...)
	w.WriteByte('\n')
}

func (w *writer) page(page gjson.Result) {
	w.line("# %s", orUntitled(pageTitle(page)))
	w.WriteByte('\n')
	w.properties(page.Get("properties"), propertyValue)
	if url := page.Get("url").String(); url != "" {
		w.WriteByte('\n')
		w.line("[View in Notion](%s)", url)
	}
}

func (w *writer) database(db gjson.Result) {
	w.line("# %s", orUntitled(richText(db.Get("title"))))
	w.WriteByte('\n')
	if description := richText(db.Get("description")); description != "" {
		w.line("%s", description)
		w.WriteByte('\n')
	}
	w.line("## Properties")
	w.WriteByte('\n')
	w.properties(db.Get("properties"), func(prop gjson.Result) string {
		return "`" + prop.Get("type").String() + "`"
	})
	if url := db.Get("url").String(); url != "" {
		w.WriteByte('\n')
		w.line("[View in Notion](%s)", url)
	}
}

func (w *writer) properties(props gjson.Result, value func(gjson.Result) string) {
	props.ForEach(func(name, prop gjson.Result) bool {
		w.line("- **%s**: %s", name.String(), value(prop))
		return true
	})
}

func (w *writer) list(list gjson.Result) {
	results := list.Get("results").Array()
	if len(results) == 0 {
		w.line("_No results._")
	}

	// Blocks keep their own layout; everything else is one bullet per result.
	var blocks []gjson.Result
	flush := func() {
		if len(blocks) > 0 {
			w.blocks(blocks)
			blocks = nil
		}
	}
	for _, item := range results {
		if item.Get("object").String() == "block" {
			blocks = append(blocks, item)
			continue
		}
		flush()
		w.listItem(item)
	}
	flush()

	if list.Get("has_more").Bool() {
		w.WriteByte('\n')
		w.line("_More results available. Next cursor: `%s`_", list.Get("next_cursor").String())
	}
}

func (w *writer) listItem(item gjson.Result) {
	switch item.Get("object").String() {
	case "page":
		w.line("- %s", link(orUntitled(pageTitle(item)), item.Get("url").String()))
	case "database":
		w.line("- %s", link(orUntitled(richText(item.Get("title"))), item.Get("url").String()))
	case "user":
		w.line("- %s", userSummary(item))
	case "comment":
		w.line("- %s", richText(item.Get("rich_text")))
	default:
		w.line("- `%s`", item.Get("id").String())
	}
}

func (w *writer) user(user gjson.Result) {
	w.line("# %s", orDefault(user.Get("name").String(), "Unnamed user"))
	w.WriteByte('\n')
	w.line("- **ID**: %s", user.Get("id").String())
	w.line("- **Type**: %s", user.Get("type").String())
	if email := user.Get("person.email").String(); email != "" {
		w.line("- **Email**: %s", email)
	}
	if workspace := user.Get("bot.workspace_name").String(); workspace != "" {
		w.line("- **Workspace**: %s", workspace)
	}
}

func (w *writer) comment(comment gjson.Result) {
	w.line("%s", richText(comment.Get("rich_text")))
	w.WriteByte('\n')
	w.line("_Comment %s by %s at %s_",
		comment.Get("id").String(),
		comment.Get("created_by.id").String(),
		comment.Get("created_time").String())
}

func (w *writer) fencedJSON(payload []byte) error {
	var buf bytes.Buffer
	if err := json.Indent(&buf, payload, "", "  "); err != nil {
		return err
	}
	w.line("```json")
	w.line("%s", buf.String())
	w.line("```")
	return nil
}

func pageTitle(page gjson.Result) string {
	var title string
	page.Get("properties").ForEach(func(_, prop gjson.Result) bool {
		if prop.Get("type").String() == "title" {
			title = plainText(prop.Get("title"))
			return false
		}
		return true
	})
	return title
}

func userSummary(user gjson.Result) string {
	name := orDefault(user.Get("name").String(), "Unnamed user")
	if email := user.Get("person.email").String(); email != "" {
		return fmt.Sprintf("%s (%s, %s)", name, user.Get("type").String(), email)
	}
	return fmt.Sprintf("%s (%s)", name, user.Get("type").String())
}

func link(text, url string) string {
	if url == "" {
		return text
	}
	return "[" + text + "](" + url + ")"
}

func orUntitled(s string) string {
	return orDefault(s, "Untitled")
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}
