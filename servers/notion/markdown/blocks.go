package markdown

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

func (w *writer) blocks(blocks []gjson.Result) {
	prevListItem := false
	for _, block := range blocks {
		kind := block.Get("type").String()
		listItem := isListItem(kind)
		// A list ends with a blank line before whatever follows it.
		if prevListItem && !listItem {
			w.WriteByte('\n')
		}
		w.block(block, kind)
		if !listItem {
			w.WriteByte('\n')
		}
		prevListItem = listItem
	}
}

func (w *writer) block(block gjson.Result, kind string) {
	data := block.Get(kind)
	text := richText(data.Get("rich_text"))

	switch kind {
	case "paragraph":
		w.line("%s", text)
	case "heading_1", "heading_2", "heading_3":
		level, _ := strconv.Atoi(strings.TrimPrefix(kind, "heading_"))
		w.line("%s %s", strings.Repeat("#", level), text)
	case "bulleted_list_item", "toggle":
		w.line("- %s", text)
	case "numbered_list_item":
		w.line("1. %s", text)
	case "to_do":
		mark := " "
		if data.Get("checked").Bool() {
			mark = "x"
		}
		w.line("- [%s] %s", mark, text)
	case "quote":
		w.line("> %s", text)
	case "callout":
		if emoji := data.Get("icon.emoji").String(); emoji != "" {
			text = emoji + " " + text
		}
		w.line("> %s", text)
	case "code":
		w.line("```%s", data.Get("language").String())
		w.line("%s", plainText(data.Get("rich_text")))
		w.line("```")
	case "divider":
		w.line("---")
	case "child_page":
		w.line("**Page:** %s", orUntitled(data.Get("title").String()))
	case "child_database":
		w.line("**Database:** %s", orUntitled(data.Get("title").String()))
	case "bookmark", "embed", "link_preview":
		url := data.Get("url").String()
		w.line("%s", link(orDefault(plainText(data.Get("caption")), url), url))
	case "image":
		w.line("![%s](%s)", plainText(data.Get("caption")), fileURL(data))
	case "equation":
		w.line("$$%s$$", data.Get("expression").String())
	default:
		w.line("_Unsupported block type: %s_", kind)
	}
}

func isListItem(kind string) bool {
	switch kind {
	case "bulleted_list_item", "numbered_list_item", "to_do", "toggle":
		return true
	}
	return false
}

// richText renders a rich text array with its annotations and links.
func richText(items gjson.Result) string {
	var b strings.Builder
	items.ForEach(func(_, item gjson.Result) bool {
		text := item.Get("plain_text").String()
		if text == "" {
			text = item.Get("text.content").String()
		}
		if text == "" {
			return true
		}

		annotations := item.Get("annotations")
		if annotations.Get("code").Bool() {
			text = "`" + text + "`"
		}
		if annotations.Get("bold").Bool() {
			text = "**" + text + "**"
		}
		if annotations.Get("italic").Bool() {
			text = "*" + text + "*"
		}
		if annotations.Get("strikethrough").Bool() {
			text = "~~" + text + "~~"
		}

		href := item.Get("href").String()
		if href == "" {
			href = item.Get("text.link.url").String()
		}
		b.WriteString(link(text, href))
		return true
	})
	return b.String()
}

func plainText(items gjson.Result) string {
	var b strings.Builder
	items.ForEach(func(_, item gjson.Result) bool {
		text := item.Get("plain_text").String()
		if text == "" {
			text = item.Get("text.content").String()
		}
		b.WriteString(text)
		return true
	})
	return b.String()
}

func fileURL(data gjson.Result) string {
	if url := data.Get("file.url").String(); url != "" {
		return url
	}
	return data.Get("external.url").String()
}

// propertyValue renders the value of a page property.
func propertyValue(prop gjson.Result) string {
	kind := prop.Get("type").String()
	data := prop.Get(kind)

	switch kind {
	case "title", "rich_text":
		return richText(data)
	case "number":
		if data.Type == gjson.Null {
			return ""
		}
		return data.Raw
	case "select", "status":
		return data.Get("name").String()
	case "multi_select":
		return joinNames(data)
	case "date":
		return dateRange(data)
	case "checkbox":
		if data.Bool() {
			return "Yes"
		}
		return "No"
	case "url", "email", "phone_number", "created_time", "last_edited_time":
		return data.String()
	case "people":
		return joinNames(data)
	case "created_by", "last_edited_by":
		return orDefault(data.Get("name").String(), data.Get("id").String())
	case "relation":
		var ids []string
		data.ForEach(func(_, rel gjson.Result) bool {
			ids = append(ids, rel.Get("id").String())
			return true
		})
		return strings.Join(ids, ", ")
	case "files":
		return joinNames(data)
	case "formula":
		formulaKind := data.Get("type").String()
		if formulaKind == "date" {
			return dateRange(data.Get("date"))
		}
		return data.Get(formulaKind).String()
	case "rollup":
		rollupKind := data.Get("type").String()
		if rollupKind == "array" {
			return fmt.Sprintf("%d items", len(data.Get("array").Array()))
		}
		return data.Get(rollupKind).String()
	case "unique_id":
		if prefix := data.Get("prefix").String(); prefix != "" {
			return prefix + "-" + data.Get("number").String()
		}
		return data.Get("number").String()
	default:
		return "_" + kind + "_"
	}
}

func joinNames(items gjson.Result) string {
	var names []string
	items.ForEach(func(_, item gjson.Result) bool {
		names = append(names, orDefault(item.Get("name").String(), item.Get("id").String()))
		return true
	})
	return strings.Join(names, ", ")
}

func dateRange(date gjson.Result) string {
	start := date.Get("start").String()
	if end := date.Get("end").String(); end != "" {
		return start + " → " + end
	}
	return start
}
