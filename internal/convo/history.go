package convo

import (
	"context"
	"sort"
	"strconv"

	"github.com/quailyquaily/threadmorph/internal/blocks"
	"github.com/quailyquaily/threadmorph/internal/msgcodec"
	"github.com/quailyquaily/threadmorph/internal/slackapi"
)

// HistorySource is the slice of the Slack surface history reconstruction
// reads from.
type HistorySource interface {
	ConversationReplies(ctx context.Context, channelID, threadTS string) ([]slackapi.RawMessage, error)
}

// FetchHistory rebuilds the model-visible conversation for a thread from
// the transport. The thread is the only store; nothing is cached between
// rounds.
func FetchHistory(ctx context.Context, src HistorySource, channelID, threadTS string) ([]blocks.Message, error) {
	raw, err := src.ConversationReplies(ctx, channelID, threadTS)
	if err != nil {
		return nil, err
	}
	return BuildHistory(raw), nil
}

// BuildHistory converts raw thread messages into ordered model messages.
// Messages arrive in whatever order pagination produced; they are sorted
// by timestamp first. Bot messages are decoded back into content blocks,
// with each message's tool results re-synthesized as a user turn
// immediately after it.
func BuildHistory(raw []slackapi.RawMessage) []blocks.Message {
	sorted := append([]slackapi.RawMessage(nil), raw...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return tsValue(sorted[i].TS) < tsValue(sorted[j].TS)
	})

	var history []blocks.Message
	for _, msg := range sorted {
		if msg.BotID == "" {
			if msg.Text == "" {
				continue
			}
			history = append(history, blocks.UserText(msg.Text))
			continue
		}
		if msgcodec.SkipFromHistory(msg) {
			continue
		}
		content, toolResults := msgcodec.Decode(msg.Text, msg.Attachments)
		if len(content) > 0 {
			history = append(history, blocks.Assistant(content))
		}
		if len(toolResults) > 0 {
			history = append(history, blocks.UserToolResults(toolResults))
		}
	}
	return history
}

func tsValue(ts string) float64 {
	v, err := strconv.ParseFloat(ts, 64)
	if err != nil {
		return 0
	}
	return v
}
