package export

import (
	"encoding/json"
	"fmt"
	"html"
	"strings"
)

// pmNode is one node of a ProseMirror document tree. Rich text cells
// store their content as ProseMirror JSON; plain strings are also
// accepted and rendered as a single paragraph.
type pmNode struct {
	Type    string         `json:"type"`
	Attrs   map[string]any `json:"attrs"`
	Content []pmNode       `json:"content"`
	Text    string         `json:"text"`
	Marks   []pmMark       `json:"marks"`
}

type pmMark struct {
	Type  string         `json:"type"`
	Attrs map[string]any `json:"attrs"`
}

// RichTextToHTML renders a rich text cell's content. Content that
// parses as a ProseMirror document is rendered structurally; anything
// else is escaped into a paragraph.
func RichTextToHTML(text string) string {
	if strings.TrimSpace(text) == "" {
		return ""
	}
	if strings.HasPrefix(strings.TrimSpace(text), "{") {
		var root pmNode
		if err := json.Unmarshal([]byte(text), &root); err == nil && root.Type != "" {
			return root.render()
		}
	}
	return fmt.Sprintf("<p>%s</p>\n", html.EscapeString(text))
}

func (n pmNode) render() string {
	switch n.Type {
	case "doc":
		return n.renderContent()
	case "paragraph":
		return fmt.Sprintf("<p>%s</p>\n", n.renderContent())
	case "heading":
		level := 1
		if lvl, ok := n.Attrs["level"].(float64); ok && lvl >= 1 && lvl <= 6 {
			level = int(lvl)
		}
		return fmt.Sprintf("<h%d>%s</h%d>\n", level, n.renderContent(), level)
	case "bulletList", "bullet_list":
		return fmt.Sprintf("<ul>\n%s</ul>\n", n.renderContent())
	case "orderedList", "ordered_list":
		return fmt.Sprintf("<ol>\n%s</ol>\n", n.renderContent())
	case "listItem", "list_item":
		return fmt.Sprintf("<li>%s</li>\n", n.renderContent())
	case "blockquote":
		return fmt.Sprintf("<blockquote>\n%s</blockquote>\n", n.renderContent())
	case "codeBlock", "code_block":
		var raw strings.Builder
		for _, child := range n.Content {
			raw.WriteString(child.Text)
		}
		return fmt.Sprintf("<pre><code>%s</code></pre>\n", html.EscapeString(raw.String()))
	case "text":
		return renderMarked(n.Text, n.Marks)
	case "hardBreak", "hard_break":
		return "<br>"
	case "horizontalRule", "horizontal_rule":
		return "<hr>\n"
	default:
		// Unknown node kinds still render their children.
		return n.renderContent()
	}
}

func (n pmNode) renderContent() string {
	var out strings.Builder
	for _, child := range n.Content {
		out.WriteString(child.render())
	}
	return out.String()
}

// renderMarked wraps escaped text in its marks, outermost mark first.
func renderMarked(text string, marks []pmMark) string {
	if text == "" {
		return ""
	}
	out := html.EscapeString(text)
	for i := len(marks) - 1; i >= 0; i-- {
		switch marks[i].Type {
		case "bold", "strong":
			out = "<strong>" + out + "</strong>"
		case "italic", "em":
			out = "<em>" + out + "</em>"
		case "code":
			out = "<code>" + out + "</code>"
		case "strikethrough", "strike":
			out = "<s>" + out + "</s>"
		case "underline":
			out = "<u>" + out + "</u>"
		case "link":
			href, _ := marks[i].Attrs["href"].(string)
			out = fmt.Sprintf(`<a href="%s">%s</a>`, html.EscapeString(href), out)
		}
	}
	return out
}
