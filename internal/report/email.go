package report

import (
	"fmt"
	"html"
	"regexp"
	"strings"
	"time"
)

const emailStyle = `font-family: Calibri, Arial, sans-serif; font-size: 11pt; color: #1f1f1f; line-height: 1.35;`

// WriteEmailDraft writes the markdown report as a multipart .eml draft.
func WriteEmailDraft(path, markdown string, runDate time.Time) error {
	subject := fmt.Sprintf("Dividend reconciliation %s", runDate.Format("2006-01-02"))
	return WriteFile(path, buildEML(subject, markdown))
}

func buildEML(subject, body string) string {
	const boundary = "divrecon-alt"
	headers := []string{
		"MIME-Version: 1.0",
		fmt.Sprintf("Content-Type: multipart/alternative; boundary=%q", boundary),
		fmt.Sprintf("Subject: %s", subject),
		"X-Unsent: 1",
	}
	plain := normalizeCRLF(markdownToEmailPlain(body))

	var out strings.Builder
	out.WriteString(strings.Join(headers, "\r\n"))
	out.WriteString("\r\n\r\n")
	writePart(&out, boundary, "text/plain", plain)
	writePart(&out, boundary, "text/html", markdownToEmailHTML(body))
	out.WriteString("--" + boundary + "--\r\n")
	return out.String()
}

func writePart(out *strings.Builder, boundary, contentType, content string) {
	out.WriteString("--" + boundary + "\r\n")
	out.WriteString("Content-Type: " + contentType + "; charset=UTF-8\r\n")
	out.WriteString("Content-Transfer-Encoding: 8bit\r\n\r\n")
	out.WriteString(content)
	if !strings.HasSuffix(content, "\r\n") {
		out.WriteString("\r\n")
	}
	out.WriteString("\r\n")
}

func normalizeCRLF(s string) string {
	normalized := strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(normalized, "\n", "\r\n")
}

func headingText(trimmed string) (string, bool) {
	if !strings.HasPrefix(trimmed, "#") {
		return "", false
	}
	text := strings.TrimLeft(trimmed, "#")
	if !strings.HasPrefix(text, " ") {
		return "", false
	}
	return strings.TrimSpace(text), true
}

func markdownToEmailPlain(body string) string {
	var out []string
	prevBlank := false
	for _, line := range strings.Split(strings.ReplaceAll(body, "\r\n", "\n"), "\n") {
		trimmed := strings.TrimSpace(line)
		if text, ok := headingText(trimmed); ok {
			line = text
		}
		if isTableSeparator(trimmed) {
			continue
		}
		line = strings.ReplaceAll(line, "**", "")
		line = strings.ReplaceAll(line, `\|`, "|")
		if strings.TrimSpace(line) == "" {
			if prevBlank {
				continue
			}
			prevBlank = true
			out = append(out, "")
			continue
		}
		prevBlank = false
		out = append(out, line)
	}
	return strings.TrimRight(strings.Join(out, "\n"), "\n") + "\n"
}

var boldTokenRe = regexp.MustCompile(`\*\*([^*]+)\*\*`)

func markdownToEmailHTML(body string) string {
	var b strings.Builder
	b.WriteString(`<html><body style="` + emailStyle + `">`)
	inList := false
	inTable := false
	headerRow := false

	closeBlocks := func() {
		if inList {
			b.WriteString(`</ul>`)
			inList = false
		}
		if inTable {
			b.WriteString(`</table>`)
			inTable = false
		}
	}

	for _, raw := range strings.Split(strings.ReplaceAll(body, "\r\n", "\n"), "\n") {
		trimmed := strings.TrimSpace(raw)
		switch {
		case trimmed == "":
			closeBlocks()
			b.WriteString(`<div style="height: 10px;"></div>`)

		case strings.HasPrefix(trimmed, "|"):
			if isTableSeparator(trimmed) {
				continue
			}
			if !inTable {
				closeBlocks()
				b.WriteString(`<table style="border-collapse: collapse;">`)
				inTable = true
				headerRow = true
			}
			cell := "td"
			if headerRow {
				cell = "th"
				headerRow = false
			}
			b.WriteString(`<tr>`)
			for _, c := range splitTableRow(trimmed) {
				b.WriteString(`<` + cell + ` style="border: 1px solid #ccc; padding: 4px;">` + renderInlineBold(c) + `</` + cell + `>`)
			}
			b.WriteString(`</tr>`)

		case strings.HasPrefix(trimmed, "- "):
			if !inList {
				closeBlocks()
				b.WriteString(`<ul style="margin: 0 0 0 18px; padding-left: 18px; list-style-type: disc;">`)
				inList = true
			}
			b.WriteString(`<li style="margin: 2px 0;">` + renderInlineBold(strings.TrimSpace(trimmed[2:])) + `</li>`)

		default:
			closeBlocks()
			if text, ok := headingText(trimmed); ok {
				b.WriteString(`<div style="font-weight: 700; margin: 12px 0 6px 0;">` + renderInlineBold(text) + `</div>`)
				continue
			}
			b.WriteString(`<div style="margin: 2px 0;">` + renderInlineBold(trimmed) + `</div>`)
		}
	}
	closeBlocks()
	b.WriteString(`</body></html>`)
	return b.String()
}

func isTableSeparator(line string) bool {
	if !strings.HasPrefix(line, "|") {
		return false
	}
	return strings.Trim(line, "|- :") == ""
}

// splitTableRow splits on unescaped pipes and unescapes cell content.
func splitTableRow(line string) []string {
	line = strings.TrimSuffix(strings.TrimPrefix(line, "|"), "|")
	var cells []string
	var cur strings.Builder
	for i := 0; i < len(line); i++ {
		if line[i] == '\\' && i+1 < len(line) && line[i+1] == '|' {
			cur.WriteByte('|')
			i++
			continue
		}
		if line[i] == '|' {
			cells = append(cells, strings.TrimSpace(cur.String()))
			cur.Reset()
			continue
		}
		cur.WriteByte(line[i])
	}
	return append(cells, strings.TrimSpace(cur.String()))
}

func renderInlineBold(s string) string {
	matches := boldTokenRe.FindAllStringSubmatchIndex(s, -1)
	if len(matches) == 0 {
		return html.EscapeString(s)
	}
	var out strings.Builder
	last := 0
	for _, m := range matches {
		out.WriteString(html.EscapeString(s[last:m[0]]))
		out.WriteString("<strong>")
		out.WriteString(html.EscapeString(s[m[2]:m[3]]))
		out.WriteString("</strong>")
		last = m[1]
	}
	out.WriteString(html.EscapeString(s[last:]))
	return out.String()
}
