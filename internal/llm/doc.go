// Package llm defines the chat-style model executor contract used by the
// kernel. Provider adapters live in sub-packages (openai, echo).
package llm
