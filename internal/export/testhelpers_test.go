package export

func strPtr(s string) *string { return &s }

func textMessage(id, role string, parts ...Part) *Message {
	return &Message{
		ID:      id,
		Author:  Author{Role: role},
		Content: &Content{ContentType: "text", Parts: parts},
	}
}

func userNode(id, parent, text string) MessageNode {
	return node(id, parent, textMessage(id, "user", TextPart(text)))
}

func assistantNode(id, parent, text string) MessageNode {
	return node(id, parent, textMessage(id, "assistant", TextPart(text)))
}

func structNode(id, parent string) MessageNode {
	return node(id, parent, nil)
}

func node(id, parent string, msg *Message) MessageNode {
	n := MessageNode{ID: id, Message: msg}
	if parent != "" {
		n.Parent = strPtr(parent)
	}
	return n
}

func mappingOf(nodes ...MessageNode) map[string]MessageNode {
	m := make(map[string]MessageNode, len(nodes))
	for _, n := range nodes {
		m[n.ID] = n
	}
	return m
}

func texts(msgs []Message) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, messageText(m.Content))
	}
	return out
}
