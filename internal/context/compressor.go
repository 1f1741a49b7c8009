package context

// WindowCompressor keeps the first message plus the most recent 2*MaxPairs
// messages. The first message is the system prompt and is never evicted.
type WindowCompressor struct {
	MaxPairs int
}

// Compress returns at most 2*MaxPairs+1 messages.
func (c *WindowCompressor) Compress(messages []Message) []Message {
	pairs := c.MaxPairs
	if pairs < 0 {
		pairs = 0
	}
	keep := 2 * pairs
	if len(messages) <= keep+1 {
		return messages
	}
	out := make([]Message, 0, keep+1)
	out = append(out, messages[0])
	out = append(out, messages[len(messages)-keep:]...)
	return out
}
