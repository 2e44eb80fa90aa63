package meta

import (
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"

	"daily-goods-assistant/search"
)

const (
	// ChatPrompt instructs the model to act as a grocery price assistant answering only from known data.
	ChatPrompt = "너는 인공지능 챗봇으로, 주어진 데이터를 분석해서 소비자가 구매하고 싶은 물품을 검색해서 현재 판매가격과 할인 또는 원플러스원 물품으로 파는곳을 제공해줘. 데이터에 있는 내용으로만 답하고 내용이 없다면, 잘 모르겠다고 답변해"
	// AssistantPrompt is the same instruction used alongside retrieved context.
	AssistantPrompt = ChatPrompt + "."
)

// CreateConversation pairs the system prompt with a single user message.
func CreateConversation(basePrompt string, userContent string) []openai.ChatCompletionMessage {
	return []openai.ChatCompletionMessage{
		{
			Role:    openai.ChatMessageRoleSystem,
			Content: basePrompt,
		},
		{
			Role:    openai.ChatMessageRoleUser,
			Content: userContent,
		},
	}
}

// JoinContext concatenates the text stored with each match, separated by a blank line, keeping the order the
// index returned them in. A match without a string text field contributes an empty snippet.
func JoinContext(matches []search.Match) string {
	snippets := make([]string, len(matches))
	for i, match := range matches {
		if text, ok := match.Metadata[search.TextField].(string); ok {
			snippets[i] = text
		}
	}
	return strings.Join(snippets, "\n\n")
}

// UserPrompt wraps the retrieved context and the question into the user turn of an assistant request.
func UserPrompt(context string, question string) string {
	return fmt.Sprintf("맥락:\n%s\n\n질문:\n%s\n\n위 정보를 기반으로 최대한 자세히 답변해줘.", context, question)
}
