package voice

import "strings"

// Quick acknowledgments keep the line from going dead while the slower LLM
// round-trip runs. Rules are checked in priority order: explicit question
// markers, then please-wait markers, then confirmation markers, then the
// default filler.
type ackRule struct {
	category string
	keywords []string
	reply    string
}

var ackRules = []ackRule{
	{
		category: "question",
		keywords: []string{"ございますか", "でしょうか", "いかがですか"},
		reply:    "確認しますので、少々お待ち下さい。",
	},
	{
		category: "wait",
		keywords: []string{"お待ちください", "確認します", "代わります", "変わります"},
		reply:    "承知いたしました。",
	},
	{
		category: "confirm",
		keywords: []string{"復唱", "かしこまりました"},
		reply:    "はい。",
	},
}

const (
	// firstAckText is the longer formal acknowledgment owed to the very
	// first caller utterance (~1.5 s read time).
	firstAckText = "はい、かしこまりました。"
	// defaultAckText is the short filler for subsequent turns (~0.5 s).
	defaultAckText = "はい。"
)

var recitationCues = []string{"復唱"}

// acknowledgmentFor picks the quick acknowledgment for a recognized
// utterance.
func acknowledgmentFor(text string, firstUtterance bool) string {
	if firstUtterance {
		return firstAckText
	}
	for _, rule := range ackRules {
		for _, kw := range rule.keywords {
			if strings.Contains(text, kw) {
				return rule.reply
			}
		}
	}
	return defaultAckText
}

// hasRecitationCue reports whether the utterance asks to read information
// back, which widens the ingest thresholds until the next flush.
func hasRecitationCue(text string) bool {
	for _, cue := range recitationCues {
		if strings.Contains(text, cue) {
			return true
		}
	}
	return false
}
