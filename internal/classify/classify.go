// Package classify assigns a sensitivity tier to free text.
//
// It is the only classifier in confidant: the command surface, HTTP API, CLI
// and history importer all go through Classify or Analyze.
package classify

import (
	"regexp"
	"strings"

	"github.com/lazypower/confidant/internal/tags"
)

// Result is the detail behind a classification.
type Result struct {
	Tag        tags.Tag
	Confidence float64 // 0..1
	Scores     map[tags.Tag]int
	Override   bool // an explicit sensitivity declaration decided the tag
}

type rule struct {
	keywords []string
	patterns []*regexp.Regexp
}

var rules = map[tags.Tag]rule{
	tags.Chronological: {
		keywords: []string{
			"meeting", "appointment", "deadline", "schedule", "calendar",
			"birthday", "anniversary", "o'clock", "last month", "next month",
			"monday", "tuesday", "wednesday", "thursday", "friday", "saturday", "sunday",
			"january", "february", "april", "june", "july", "august",
			"september", "october", "november", "december",
		},
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`\b\d{1,2}[/.-]\d{1,2}[/.-]\d{2,4}\b`),
			regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}\b`),
			regexp.MustCompile(`(?i)\b\d{1,2}:\d{2}\s*(am|pm)?\b`),
			regexp.MustCompile(`(?i)\b\d{1,2}\s*(am|pm)\b`),
			regexp.MustCompile(`\b(19|20)\d{2}\b`),
		},
	},
	tags.General: {
		keywords: []string{
			"favorite", "favourite", "enjoy", "prefer", "idea", "hobby",
			"recipe", "movie", "music", "restaurant", "i like", "i love",
		},
	},
	tags.Confidential: {
		keywords: []string{
			"password", "passcode", "ssn", "social security", "account number",
			"routing number", "bank", "salary", "home address", "medical",
			"diagnosis", "prescription", "passport", "license number", "private",
		},
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),
			regexp.MustCompile(`(?i)\b[\w.+-]+@[\w-]+\.[a-z]{2,}\b`),
			regexp.MustCompile(`\+\d[\d\s().-]{7,}\d`),
		},
	},
	tags.Secret: {
		keywords: []string{
			"credit card", "cvv", "private key", "seed phrase", "recovery phrase",
			"api key", "access code", "launch code", "vault", "classified",
			"don't tell", "do not tell", "between us",
		},
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`\b(?:\d[ -]?){12,15}\d\b`),
			regexp.MustCompile(`-----BEGIN [A-Z ]*PRIVATE KEY-----`),
			regexp.MustCompile(`\b[A-Z]{2}\d{2}[A-Z0-9]{11,30}\b`),
		},
	},
	tags.UltraSecret: {
		keywords: []string{
			"eyes only", "burn after reading", "never tell anyone",
			"take to the grave", "master password", "nuclear code",
		},
	},
}

var (
	ultraOverride        = regexp.MustCompile(`\bultra[\s_-]?secret`)
	secretOverride       = regexp.MustCompile(`\bsecret(s|ly)?\b`)
	confidentialOverride = regexp.MustCompile(`\bconfidential(ly)?\b`)
	chronoOverride       = regexp.MustCompile(`\b(yesterday|today|tomorrow|tonight|last night|next week|last week|remind me)\b`)
)

// Classify returns the tier for text. It never fails; empty or ambiguous input
// is GENERAL.
func Classify(text string) tags.Tag {
	return Analyze(text).Tag
}

// Analyze classifies text and reports the scores behind the decision.
//
// Explicit declarations are checked first, in order: ultra secret, secret,
// confidential, then chronological trigger words. Otherwise every tier is
// scored as (keyword hits*2 + pattern hits*3) * rank and the highest wins, ties
// going to the earlier tier in declaration order.
func Analyze(text string) Result {
	lower := strings.ToLower(strings.TrimSpace(text))
	if lower == "" {
		return Result{Tag: tags.General}
	}

	switch {
	case ultraOverride.MatchString(lower):
		return overridden(tags.UltraSecret)
	case secretOverride.MatchString(lower):
		return overridden(tags.Secret)
	case confidentialOverride.MatchString(lower):
		return overridden(tags.Confidential)
	case chronoOverride.MatchString(lower):
		return overridden(tags.Chronological)
	}

	scores := make(map[tags.Tag]int, len(rules))
	best, bestScore, total := tags.General, 0, 0
	for _, t := range tags.All() {
		s := score(rules[t], text, lower) * t.Rank()
		scores[t] = s
		total += s
		if s > bestScore {
			best, bestScore = t, s
		}
	}
	if bestScore == 0 {
		return Result{Tag: tags.General, Scores: scores}
	}
	return Result{
		Tag:        best,
		Confidence: float64(bestScore) / float64(total),
		Scores:     scores,
	}
}

func overridden(t tags.Tag) Result {
	return Result{Tag: t, Confidence: 1, Override: true}
}

func score(r rule, text, lower string) int {
	keywordHits := 0
	for _, kw := range r.keywords {
		if strings.Contains(lower, kw) {
			keywordHits++
		}
	}
	patternHits := 0
	for _, p := range r.patterns {
		if p.MatchString(text) {
			patternHits++
		}
	}
	return keywordHits*2 + patternHits*3
}

var mentionRe = regexp.MustCompile(`\+\d[\d\s().-]{7,}\d`)

// Mentions returns the phone-number principal ids referenced in text, in
// order of first appearance, canonicalised to "+" followed by digits.
func Mentions(text string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, m := range mentionRe.FindAllString(text, -1) {
		var b strings.Builder
		b.WriteByte('+')
		for _, r := range m {
			if r >= '0' && r <= '9' {
				b.WriteRune(r)
			}
		}
		id := b.String()
		if len(id) < 9 || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
