package preprocess

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
)

// fillerMessages is a curated list of greetings, acknowledgements, and
// back-channels that are always dropped during semantic pruning, regardless
// of score.
var fillerMessages = map[string]struct{}{
	"hi": {}, "hello": {}, "hey": {},
	"ok": {}, "okay": {}, "alright": {},
	"thanks": {}, "thank you": {},
	"yes": {}, "no": {}, "sure": {},
	"got it": {}, "i see": {},
	"uh huh": {}, "mhm": {}, "yep": {},
	"bye": {}, "goodbye": {},
	"好的": {}, "谢谢": {}, "嗯": {},
}

// importantPatterns are regexes whose match marks a message as important
// regardless of its LLM-scored importance: explicit dates, clock times,
// numeric identifiers, and currency amounts are the signals spec names.
var importantPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\b\d{4}[-/.]\d{1,2}[-/.]\d{1,2}\b`),      // date
	regexp.MustCompile(`\b\d{1,2}:\d{2}(:\d{2})?\s*(am|pm|AM|PM)?\b`), // clock time
	regexp.MustCompile(`\b[A-Z0-9]{6,}\b`),                        // numeric/alphanumeric identifier
	regexp.MustCompile(`[$¥€£]\s?\d+(\.\d+)?`),                    // currency amount
}

// pruneMessages applies semantic pruning when the pipeline's scene is one of
// the scenes pruning is defined for. A message is kept iff it matches an
// importantPattern, scores at or above pruningThreshold via the configured
// ImportanceScorer, or (when no scorer is configured) is not on the filler
// list. Filler-list messages are always dropped.
func (p *Pipeline) pruneMessages(ctx context.Context, pruning pruningConfig, messages []Message) ([]Message, error) {
	if _, ok := prunableScenes[pruning.scene]; !ok {
		return messages, nil
	}

	out := make([]Message, 0, len(messages))
	for _, m := range messages {
		keep, err := p.keepMessage(ctx, pruning, m)
		if err != nil {
			return nil, err
		}
		if keep {
			out = append(out, m)
		}
	}
	return out, nil
}

func (p *Pipeline) keepMessage(ctx context.Context, pruning pruningConfig, m Message) (bool, error) {
	normalised := strings.ToLower(strings.TrimSpace(m.Text))
	if _, filler := fillerMessages[normalised]; filler {
		return false, nil
	}

	for _, re := range importantPatterns {
		if re.MatchString(m.Text) {
			return true, nil
		}
	}

	if p.scorer == nil {
		return true, nil
	}

	score, err := p.scorer.Score(ctx, m.Text)
	if err != nil {
		slog.Warn("preprocess: importance scorer failed, keeping message", "error", err)
		return true, nil
	}
	return score >= pruning.threshold, nil
}
