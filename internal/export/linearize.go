package export

import "github.com/comigor/chatvault/internal/logger"

// ActivePath walks parent references from current back to the root and returns
// every message found on the way, in root-to-leaf order. Sibling branches are
// never visited. The walk stops at a missing node (the partial chain is kept)
// and never takes more steps than the mapping has entries, so a cyclic parent
// graph still terminates.
func ActivePath(mapping map[string]MessageNode, current string) []Message {
	var path []Message
	id := current
	for steps := 0; id != "" && steps < len(mapping); steps++ {
		node, ok := mapping[id]
		if !ok {
			logger.L.Debug("dangling node reference; keeping partial chain", "node", id, "collected", len(path))
			break
		}
		if node.Message != nil {
			path = append(path, *node.Message)
		}
		if node.Parent == nil {
			break
		}
		id = *node.Parent
	}

	// built leaf-first
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}

// Linearize returns the transcript the user actually saw: the active path
// filtered down to includable user and assistant messages.
func Linearize(mapping map[string]MessageNode, current string) []Message {
	path := ActivePath(mapping, current)
	out := path[:0]
	for _, m := range path {
		if Includable(m) {
			out = append(out, m)
		}
	}
	return out
}

// Includable reports whether m belongs in the visible transcript: authored by
// the user or the assistant, with at least one non-empty part. Structured
// (non-string) parts always count as non-empty.
func Includable(m Message) bool {
	if m.Author.Role != "user" && m.Author.Role != "assistant" {
		return false
	}
	if m.Content == nil || len(m.Content.Parts) == 0 {
		return false
	}
	for _, p := range m.Content.Parts {
		if !p.IsEmpty() {
			return true
		}
	}
	return false
}
