// Package history 提供会话历史的存储与截断
package history

import (
	"strings"
	"unicode/utf8"

	"github.com/ashwinyue/next-chat/internal/model"
)

// Entry 发送给上游的一条历史
type Entry struct {
	Role    string
	Content string
}

// Cost 返回一条历史序列化后的字符数
// 与 Serialize 的 "role:content\n" 格式一致
func (e Entry) Cost() int {
	return utf8.RuneCountInString(e.Role) + utf8.RuneCountInString(e.Content) + 2
}

// FromMessages 把存储的消息转换为历史条目
func FromMessages(messages []*model.ChatMessage) []Entry {
	entries := make([]Entry, 0, len(messages))
	for _, m := range messages {
		entries = append(entries, Entry{Role: m.Role, Content: m.Content})
	}
	return entries
}

// Truncate 从最新一条向前累计，保留总字符数不超过 budget 的后缀
// 第一条放不下的消息保留 budget 减去已用字符数的内容前缀，随后停止
// 因此结果可能超出 budget 至多 len(role)+2；结果按时间顺序返回
// 输入不会被修改
func Truncate(entries []Entry, budget int) []Entry {
	if budget <= 0 || len(entries) == 0 {
		return []Entry{}
	}

	kept := make([]Entry, 0, len(entries))
	running := 0
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		cost := e.Cost()
		running += cost

		if running <= budget {
			kept = append(kept, e)
			continue
		}

		// 剩余额度只计内容，角色和分隔符可能超出 budget
		if allowance := budget - (running - cost); allowance > 0 {
			kept = append(kept, Entry{Role: e.Role, Content: prefix(e.Content, allowance)})
		}
		break
	}

	for i, j := 0, len(kept)-1; i < j; i, j = i+1, j-1 {
		kept[i], kept[j] = kept[j], kept[i]
	}
	return kept
}

// Size 返回历史序列化后的总字符数
func Size(entries []Entry) int {
	total := 0
	for _, e := range entries {
		total += e.Cost()
	}
	return total
}

// Serialize 把历史渲染为上游 user 消息中使用的文本
func Serialize(entries []Entry) string {
	var b strings.Builder
	for _, e := range entries {
		b.WriteString(e.Role)
		b.WriteByte(':')
		b.WriteString(e.Content)
		b.WriteByte('\n')
	}
	return b.String()
}

func prefix(s string, n int) string {
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
