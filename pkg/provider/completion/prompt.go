package completion

import (
	"context"
	"fmt"
	"strings"

	"github.com/rhuss/modelbridge/pkg/api"
	"github.com/rhuss/modelbridge/pkg/multimodal"
	"github.com/rhuss/modelbridge/pkg/provider"
)

// Render flattens a normalized conversation into a single prompt. Each user
// turn is wrapped as BOS InstOpen text InstClose and each assistant turn is
// appended as " text EOS". The system text is placed inside the first user
// instruction between SysOpen and SysClose.
//
// The conversation must alternate starting with a user turn and must end
// with one.
func (m Markers) Render(conv provider.Conversation, texts []string) string {
	var b strings.Builder
	for i, msg := range conv.Messages {
		text := texts[i]
		if msg.Role == api.RoleUser {
			if i == 0 && conv.System != "" {
				text = m.SysOpen + conv.System + m.SysClose + text
			}
			b.WriteString(m.BOS)
			b.WriteString(m.InstOpen)
			b.WriteString(" ")
			b.WriteString(strings.TrimSpace(text))
			b.WriteString(" ")
			b.WriteString(m.InstClose)
			continue
		}
		b.WriteString(" ")
		b.WriteString(strings.TrimSpace(text))
		b.WriteString(" ")
		b.WriteString(m.EOS)
	}
	return b.String()
}

// messageText extracts the text of one turn. Images cannot be represented:
// they are dropped with a warning when the turn keeps other content and are
// rejected when they are all the turn has.
func (a *Adapter) messageText(ctx context.Context, idx int, msg api.CanonicalMessage) (string, error) {
	text := msg.Text()
	for _, part := range msg.Content {
		if part.Type != api.ContentImage {
			continue
		}
		_, err := multimodal.EncodeImage(ctx, *part.Image, provider.KindCompletion, a.cfg.Name, nil)
		if err == nil {
			continue
		}
		if strings.TrimSpace(text) == "" {
			return "", err
		}
		provider.DropImage(a.cfg.Name, idx, err)
	}
	if len(msg.ToolCalls) > 0 {
		return "", api.NewUnsupportedContentError(a.cfg.Name,
			fmt.Sprintf("messages[%d]: model family does not support tool calls", idx))
	}
	return text, nil
}
