// Package echo provides an offline model executor that answers with the last
// user message. It is used by the CLI when no provider is configured.
package echo

import (
	"context"
	"time"
	"unicode/utf8"

	"AgentKernel/internal/llm"
)

// Client 原样返回最后一条 user 消息。
type Client struct {
	Prefix string
}

// New 创建 echo 客户端。
func New(prefix string) *Client {
	return &Client{Prefix: prefix}
}

// Generate 实现 llm.Client。
func (c *Client) Generate(ctx context.Context, req llm.Request) (*llm.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start := time.Now()
	var last string
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == llm.RoleUser {
			last = req.Messages[i].Content
			break
		}
	}
	content := c.Prefix + last
	return &llm.Response{
		Content: content,
		Tokens:  utf8.RuneCountInString(content),
		Latency: time.Since(start).Milliseconds(),
	}, nil
}
