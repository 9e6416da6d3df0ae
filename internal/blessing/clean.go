package blessing

import "strings"

// cleanText strips the wrapping a model sometimes puts around a one-line
// answer: markdown code fences, surrounding quotes and a leading label.
func cleanText(text string) string {
	text = stripMarkdownFences(strings.TrimSpace(text))
	text = strings.TrimSpace(text)
	for _, label := range []string{"祝福語：", "祝福語:"} {
		text = strings.TrimSpace(strings.TrimPrefix(text, label))
	}
	for _, q := range [][2]string{{`"`, `"`}, {"「", "」"}, {"“", "”"}, {"『", "』"}} {
		if len(text) >= len(q[0])+len(q[1]) && strings.HasPrefix(text, q[0]) && strings.HasSuffix(text, q[1]) {
			text = strings.TrimSpace(text[len(q[0]) : len(text)-len(q[1])])
		}
	}
	return text
}

// stripMarkdownFences removes ``` ... ``` wrapping, returning the content
// between the fences, or text unchanged when it is not fenced.
func stripMarkdownFences(text string) string {
	if !strings.HasPrefix(text, "```") {
		return text
	}
	lines := strings.Split(text, "\n")
	if len(lines) < 3 {
		return text
	}
	end := len(lines) - 1
	for i := len(lines) - 1; i > 0; i-- {
		if strings.TrimSpace(lines[i]) == "```" {
			end = i
			break
		}
	}
	return strings.Join(lines[1:end], "\n")
}
