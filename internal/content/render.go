package content

import (
	"fmt"
	"html"
	"strconv"
	"strings"
)

// Render converts a Content Document to its canonical HTML string.
//
// The transformation is pure and deterministic: identical input yields
// byte-identical output, and no I/O happens mid-render (image dimensions
// are attributes resolved at insertion time). Unknown or malformed nodes
// abort the render with a *Error rather than producing partial output.
func Render(doc Node) (string, error) {
	if doc.Type != TypeDoc {
		return "", contentError(doc.Type, "root must be a doc node")
	}
	var out strings.Builder
	if err := renderChildren(&out, doc.Content); err != nil {
		return "", err
	}
	return out.String(), nil
}

// RenderJSON parses a serialized Content Document and renders it.
func RenderJSON(raw []byte) (string, error) {
	doc, err := Parse(raw)
	if err != nil {
		return "", err
	}
	return Render(doc)
}

func renderChildren(out *strings.Builder, children []Node) error {
	for i := range children {
		if err := renderNode(out, children[i]); err != nil {
			return err
		}
	}
	return nil
}

func renderNode(out *strings.Builder, node Node) error {
	switch node.Type {
	case TypeDoc:
		return contentError(node.Type, "doc node may only appear at the root")
	case TypeParagraph:
		return renderWrapped(out, node, "<p>", "</p>\n")
	case TypeHeading:
		level := attrInt(node.Attrs, "level", 1)
		if level < 1 || level > 6 {
			return contentError(node.Type, "level must be between 1 and 6")
		}
		tag := "h" + strconv.Itoa(level)
		return renderWrapped(out, node, "<"+tag+">", "</"+tag+">\n")
	case TypeText:
		return renderText(out, node)
	case TypeImage:
		return renderImage(out, node)
	case TypeSpacer:
		height := attrInt(node.Attrs, "height", 24)
		if height < 0 {
			return contentError(node.Type, "height must not be negative")
		}
		fmt.Fprintf(out, `<div class="spacer" style="height:%dpx"></div>`+"\n", height)
		return nil
	case TypePriceTable:
		return renderPriceTable(out, node)
	case TypeBulletList:
		return renderWrapped(out, node, "<ul>\n", "</ul>\n")
	case TypeOrderedList:
		return renderWrapped(out, node, "<ol>\n", "</ol>\n")
	case TypeListItem:
		return renderWrapped(out, node, "<li>", "</li>\n")
	case TypeHardBreak:
		out.WriteString("<br>")
		return nil
	case TypeHorizontalRule:
		out.WriteString("<hr>\n")
		return nil
	default:
		// Fail closed: an unregistered type means the client and server
		// schemas have diverged, and dropping the block would publish an
		// incomplete document.
		return contentError(node.Type, "unknown node type")
	}
}

func renderWrapped(out *strings.Builder, node Node, open, close string) error {
	out.WriteString(open)
	if err := renderChildren(out, node.Content); err != nil {
		return err
	}
	out.WriteString(close)
	return nil
}

func renderText(out *strings.Builder, node Node) error {
	if len(node.Content) > 0 {
		return contentError(node.Type, "text nodes must not have children")
	}
	rendered := html.EscapeString(node.Text)
	// Marks wrap outside-in so the first mark is the outermost tag.
	for i := len(node.Marks) - 1; i >= 0; i-- {
		mark := node.Marks[i]
		switch mark.Type {
		case MarkBold:
			rendered = "<strong>" + rendered + "</strong>"
		case MarkItalic:
			rendered = "<em>" + rendered + "</em>"
		case MarkUnderline:
			rendered = "<u>" + rendered + "</u>"
		case MarkStrike:
			rendered = "<s>" + rendered + "</s>"
		case MarkCode:
			rendered = "<code>" + rendered + "</code>"
		case MarkLink:
			href := attrString(mark.Attrs, "href")
			if href == "" {
				return contentError(node.Type, "link mark requires an href")
			}
			rendered = `<a href="` + html.EscapeString(href) + `">` + rendered + `</a>`
		default:
			return contentError(node.Type, fmt.Sprintf("unknown mark type %q", mark.Type))
		}
	}
	out.WriteString(rendered)
	return nil
}

func renderImage(out *strings.Builder, node Node) error {
	src := attrString(node.Attrs, "src")
	if src == "" {
		return contentError(node.Type, "image requires a src")
	}
	alt := attrString(node.Attrs, "alt")
	width, hasWidth := attrFloat(node.Attrs, "width")
	height, hasHeight := attrFloat(node.Attrs, "height")

	out.WriteString(`<img src="` + html.EscapeString(src) + `" alt="` + html.EscapeString(alt) + `"`)
	if hasWidth {
		fmt.Fprintf(out, ` width="%d"`, int(width))
	}
	if hasHeight {
		fmt.Fprintf(out, ` height="%d"`, int(height))
	}
	out.WriteString(">\n")
	return nil
}

// renderPriceTable renders the rows attribute as a table with a computed
// total. Row amounts are qty * price, formatted with two decimals.
func renderPriceTable(out *strings.Builder, node Node) error {
	rawRows, ok := node.Attrs["rows"].([]any)
	if !ok {
		return contentError(node.Type, "rows attribute is required")
	}
	currency := attrString(node.Attrs, "currency")
	if currency == "" {
		currency = "USD"
	}

	out.WriteString(`<table class="price-table">` + "\n")
	out.WriteString("<thead><tr><th>Item</th><th>Qty</th><th>Price</th><th>Amount</th></tr></thead>\n<tbody>\n")

	var total float64
	for _, rawRow := range rawRows {
		row, ok := rawRow.(map[string]any)
		if !ok {
			return contentError(node.Type, "each row must be an object")
		}
		name := attrString(row, "name")
		qty, hasQty := attrFloat(row, "qty")
		if !hasQty {
			qty = 1
		}
		price, _ := attrFloat(row, "price")
		amount := qty * price
		total += amount

		fmt.Fprintf(out, "<tr><td>%s</td><td>%s</td><td>%s</td><td>%s</td></tr>\n",
			html.EscapeString(name), formatQty(qty), formatAmount(price), formatAmount(amount))
	}

	out.WriteString("</tbody>\n")
	fmt.Fprintf(out, `<tfoot><tr><td colspan="3">Total</td><td>%s&nbsp;%s</td></tr></tfoot>`+"\n",
		formatAmount(total), html.EscapeString(currency))
	out.WriteString("</table>\n")
	return nil
}

func formatAmount(value float64) string {
	return strconv.FormatFloat(value, 'f', 2, 64)
}

func formatQty(value float64) string {
	if value == float64(int64(value)) {
		return strconv.FormatInt(int64(value), 10)
	}
	return strconv.FormatFloat(value, 'f', -1, 64)
}
