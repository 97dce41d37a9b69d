package suggest

import (
	"fmt"
	"strings"

	"github.com/kkhouse/wecopilot/pkg/convstore"
	"github.com/kkhouse/wecopilot/pkg/knowledge"
)

const (
	// historyWindow is how many trailing turns go into the prompt. The store
	// keeps more; the prompt stays small.
	historyWindow = 5
	// passageWindow is how many retrieved passages go into the prompt.
	passageWindow = 3
)

const systemPrompt = `你是一个专业的房产销售顾问助手，你的任务是帮助客服人员生成专业、热情且准确的回复建议。

## 角色要求：
- 热情专业，善于倾听客户需求
- 基于知识库信息提供准确答案
- 避免过度承诺，诚实回答不确定的问题
- 引导客户进一步沟通，促成线下面谈

## 输出要求：
请根据客户问题和提供的知识库信息，生成3条不同风格的回复建议：
1. 简洁直接型：直接回答问题，言简意赅
2. 热情详细型：提供详细信息，展现专业性
3. 引导询问型：通过反问了解更多需求，引导深入沟通

每条建议用 "建议1:"、"建议2:"、"建议3:" 开头，换行分隔。`

// BuildPrompt assembles the single-message prompt: role text, the last few
// conversation turns, the top retrieved passages, then the current question.
func BuildPrompt(query string, history []convstore.Turn, passages []knowledge.Passage) string {
	var sb strings.Builder
	sb.WriteString(systemPrompt)

	if len(history) > 0 {
		sb.WriteString("\n## 对话历史：\n")
		start := 0
		if len(history) > historyWindow {
			start = len(history) - historyWindow
		}
		for _, turn := range history[start:] {
			role := "客服"
			if turn.IsCustomer {
				role = "客户"
			}
			fmt.Fprintf(&sb, "%s：%s\n", role, turn.Body)
		}
	}

	if len(passages) > 0 {
		sb.WriteString("\n## 相关知识库信息：\n")
		n := len(passages)
		if n > passageWindow {
			n = passageWindow
		}
		for i, p := range passages[:n] {
			fmt.Fprintf(&sb, "%d. %s\n", i+1, p.Content)
		}
	}

	fmt.Fprintf(&sb, "\n## 当前客户问题：\n%s\n", query)
	return sb.String()
}
