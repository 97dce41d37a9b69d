package suggest

import (
	"fmt"
	"strings"
	"testing"

	"github.com/kkhouse/wecopilot/pkg/convstore"
	"github.com/kkhouse/wecopilot/pkg/knowledge"
)

func TestBuildPromptBareQuery(t *testing.T) {
	p := BuildPrompt("有三室的房源吗", nil, nil)

	if !strings.Contains(p, "房产销售顾问助手") {
		t.Error("prompt missing role text")
	}
	if !strings.Contains(p, "## 当前客户问题：\n有三室的房源吗") {
		t.Error("prompt missing current question section")
	}
	if strings.Contains(p, "## 对话历史：") || strings.Contains(p, "## 相关知识库信息：") {
		t.Error("empty history/passages should not emit their sections")
	}
}

func TestBuildPromptHistoryRoles(t *testing.T) {
	history := []convstore.Turn{
		{Body: "你好", IsCustomer: true},
		{Body: "您好，请问有什么可以帮您？", IsCustomer: false},
	}
	p := BuildPrompt("首付多少", history, nil)

	if !strings.Contains(p, "客户：你好\n") {
		t.Error("customer turn not rendered")
	}
	if !strings.Contains(p, "客服：您好，请问有什么可以帮您？\n") {
		t.Error("staff turn not rendered")
	}
}

func TestBuildPromptTruncatesHistory(t *testing.T) {
	var history []convstore.Turn
	for i := 0; i < 8; i++ {
		history = append(history, convstore.Turn{Body: fmt.Sprintf("t%d", i), IsCustomer: true})
	}
	p := BuildPrompt("q", history, nil)

	if strings.Contains(p, "客户：t2\n") {
		t.Error("turn outside the window leaked into the prompt")
	}
	for i := 3; i < 8; i++ {
		if !strings.Contains(p, fmt.Sprintf("客户：t%d\n", i)) {
			t.Errorf("turn t%d missing from prompt", i)
		}
	}
}

func TestBuildPromptTruncatesPassages(t *testing.T) {
	passages := []knowledge.Passage{
		{Content: "p1"}, {Content: "p2"}, {Content: "p3"}, {Content: "p4"},
	}
	p := BuildPrompt("q", nil, passages)

	if !strings.Contains(p, "1. p1\n") || !strings.Contains(p, "3. p3\n") {
		t.Error("top passages missing from prompt")
	}
	if strings.Contains(p, "p4") {
		t.Error("passage past the window leaked into the prompt")
	}
}
