package export

import (
	"strings"
	"unicode/utf8"

	"github.com/comigor/chatvault/internal/history"
)

// UntitledPlaceholder replaces missing or blank titles.
const UntitledPlaceholder = "Untitled"

// charsPerToken is the divisor of the token estimate. It is a rough English
// average, not a tokenizer.
const charsPerToken = 4

var (
	imageContentTypes = map[string]bool{
		"multimodal_text":     true,
		"image_asset_pointer": true,
	}
	codeContentTypes = map[string]bool{
		"code":             true,
		"execution_output": true,
	}
)

// Normalize flattens an exported conversation into a storage record. It never
// fails: absent fields fall back to safe defaults.
func Normalize(raw RawExportRecord) history.Conversation {
	rec := history.Conversation{
		ID:      raw.ID,
		Title:   UntitledPlaceholder,
		GroupID: raw.GizmoID,
	}
	if raw.Title != nil && strings.TrimSpace(*raw.Title) != "" {
		rec.Title = *raw.Title
	}
	if raw.CreateTime != nil {
		ts := int64(*raw.CreateTime)
		rec.CreatedAt = &ts
	}
	if raw.UpdateTime != nil {
		ts := int64(*raw.UpdateTime)
		rec.UpdatedAt = &ts
	}

	if raw.CurrentNode == nil || *raw.CurrentNode == "" {
		return rec
	}

	path := ActivePath(raw.Mapping, *raw.CurrentNode)
	var texts []string
	for _, m := range path {
		hasImages, hasCode := mediaFlags(m.Content)
		rec.HasImages = rec.HasImages || hasImages
		rec.HasCode = rec.HasCode || hasCode

		if !Includable(m) {
			continue
		}
		rec.MessageCount++
		if t := messageText(m.Content); t != "" {
			texts = append(texts, t)
		}
	}

	rec.FullText = strings.Join(texts, "\n\n")
	rec.TokenEstimate = utf8.RuneCountInString(rec.FullText) / charsPerToken
	return rec
}

// messageText joins the string parts of c, skipping structured parts.
func messageText(c *Content) string {
	if c == nil {
		return ""
	}
	var parts []string
	for _, p := range c.Parts {
		if s, ok := p.Text(); ok && s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "\n")
}

func mediaFlags(c *Content) (hasImages, hasCode bool) {
	if c == nil {
		return false, false
	}
	hasImages = imageContentTypes[c.ContentType]
	hasCode = codeContentTypes[c.ContentType]
	for _, p := range c.Parts {
		ct := p.ContentType()
		hasImages = hasImages || imageContentTypes[ct]
		hasCode = hasCode || codeContentTypes[ct]
	}
	return hasImages, hasCode
}
