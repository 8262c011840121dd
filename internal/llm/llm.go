package llm

import "context"

// 消息角色。
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message 是对话中的一条消息。
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request 描述发送给大模型的对话请求。
type Request struct {
	Model    string    `json:"model,omitempty"`
	Messages []Message `json:"messages"`
}

// Response 是大模型返回的回复。Latency 单位为毫秒。
type Response struct {
	Content string `json:"content"`
	Tokens  int    `json:"tokens,omitempty"`
	Latency int64  `json:"latency,omitempty"`
}

// Client 定义了调用大模型的统一接口。
type Client interface {
	Generate(ctx context.Context, req Request) (*Response, error)
}

// LastMessage 返回最后一条消息的内容，没有消息时返回空串。
func (r Request) LastMessage() string {
	if len(r.Messages) == 0 {
		return ""
	}
	return r.Messages[len(r.Messages)-1].Content
}

// WithSystemMessage 返回在最前面插入一条 system 消息的新请求，原请求不受影响。
func (r Request) WithSystemMessage(content string) Request {
	messages := make([]Message, 0, len(r.Messages)+1)
	messages = append(messages, Message{Role: RoleSystem, Content: content})
	messages = append(messages, r.Messages...)
	r.Messages = messages
	return r
}
