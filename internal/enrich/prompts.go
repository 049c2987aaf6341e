package enrich

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/comigor/chatvault/internal/history"
)

const pass1System = "You are a conversation analyst. " +
	"You are given the titles and opening lines of conversations from a chat history export. " +
	"Identify 5-20 distinct topical labels that would meaningfully organize this history. " +
	"Each label must be 2-4 words, clear, and must not overlap with the others. " +
	`Return ONLY a JSON object with one field: {"labels": ["Label 1", "Label 2", ...]}. ` +
	"No other text."

const pass2UserPrefix = "Conversation transcript:\n\n"

// Pass1System is the system prompt of vocabulary discovery.
func Pass1System() string { return pass1System }

// Pass1User wraps the sample for vocabulary discovery.
func Pass1User(sample string) string {
	return "Here are conversation titles and opening lines from a chat history export:\n\n" +
		sample +
		"\n\nGenerate 5-20 labels for organizing these conversations."
}

// Pass2System embeds the discovered vocabulary, numbered, in the
// classification prompt.
func Pass2System(labels []string) string {
	var list strings.Builder
	for i, l := range labels {
		if i > 0 {
			list.WriteByte('\n')
		}
		fmt.Fprintf(&list, "%d. %s", i+1, l)
	}

	return "You are analyzing a chat conversation transcript. " +
		"Return ONLY a JSON object with exactly these three fields:\n" +
		`- "cluster_label": string, chosen from ONLY these options:` + "\n" +
		list.String() + "\n" +
		`- "summary": string, 3-5 sentences covering the main topic, key decisions and conclusions. Plain English, no jargon.` + "\n" +
		`- "instructions": string or null, any standing instructions the user gave the assistant ` +
		`(for example "always answer in bullet points" or "use metric units"). null if there are none.` + "\n" +
		"No other text, no markdown, just valid JSON."
}

// Pass2User builds the classification payload, keeping at most maxChars
// characters of the transcript.
func Pass2User(text string, maxChars int) string {
	return pass2UserPrefix + truncate(text, maxChars)
}

// truncate cuts s to at most n runes. n <= 0 disables the limit.
func truncate(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

// buildSample lists the first n conversations as "- title: snippet" lines.
// Snippets are single-line prefixes of the transcript.
func buildSample(convs []history.Conversation, n, snippetChars int) string {
	if n > 0 && len(convs) > n {
		convs = convs[:n]
	}
	var b strings.Builder
	for i, c := range convs {
		if i > 0 {
			b.WriteByte('\n')
		}
		snippet := strings.Join(strings.Fields(truncate(c.FullText, snippetChars)), " ")
		b.WriteString("- ")
		b.WriteString(c.Title)
		if snippet != "" {
			b.WriteString(": ")
			b.WriteString(snippet)
		}
	}
	return b.String()
}
