package mind

import (
	"go.uber.org/zap"

	"github.com/keshon/chatmind/internal/ai"
)

const (
	promptPreviewRunes = 500
	replyPreviewRunes  = 200
)

// LogGeneration logs the prompt right before it goes to the backend.
func LogGeneration(log *zap.Logger, attempt int, req ai.Request) {
	log.Debug("generate",
		zap.Int("attempt", attempt),
		zap.Int("prompt_len", len(req.Prompt)),
		zap.Int("stop_sequences", len(req.Stop)),
		zap.String("prompt_tail", previewTail(req.Prompt, promptPreviewRunes)),
	)
}

// LogReply logs a delivered reply.
func LogReply(log *zap.Logger, text string) {
	log.Info("reply delivered", zap.Int("len", len(text)), zap.String("reply", preview(text, replyPreviewRunes)))
}

func preview(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "..."
}

// previewTail keeps the end of a prompt, where the newest history sits.
func previewTail(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return "..." + string(r[len(r)-max:])
}
