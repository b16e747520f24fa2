package extract

import (
	"regexp"
	"strings"

	"github.com/nhle/lifeflow/internal/provider"
)

// spamRules is the outcome of the rule-based spam pass.
type spamRules struct {
	Score   float64
	Reasons []string
	// HardMatch means the provider itself labelled the message spam.
	// It overrides whatever the LLM thinks.
	HardMatch bool
}

func (r spamRules) reason() string {
	return strings.Join(r.Reasons, "; ")
}

// promotionalDomainPatterns match sender domains used by bulk mailers.
var promotionalDomainPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^mail\.`),
	regexp.MustCompile(`^email-`),
	regexp.MustCompile(`^email\.`),
	regexp.MustCompile(`^noreply\.`),
	regexp.MustCompile(`^no-reply\.`),
	regexp.MustCompile(`^marketing\.`),
	regexp.MustCompile(`^newsletter\.`),
	regexp.MustCompile(`^promo\.`),
	regexp.MustCompile(`^promotions\.`),
	regexp.MustCompile(`^offers\.`),
	regexp.MustCompile(`^deals\.`),
	regexp.MustCompile(`^notifications\.`),
	regexp.MustCompile(`^updates\.`),
	regexp.MustCompile(`^alerts\.`),
	regexp.MustCompile(`^info\d+\.`),
	regexp.MustCompile(`^info-`),
	regexp.MustCompile(`^store-`),
	regexp.MustCompile(`^store\.`),
	regexp.MustCompile(`^shop\.`),
	regexp.MustCompile(`^sales\.`),
	regexp.MustCompile(`^news\.`),
	regexp.MustCompile(`^e-?mail`),
}

// promotionalLocalPatterns match the local part of bulk sender addresses,
// e.g. store-news@example.com.
var promotionalLocalPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^store-`),
	regexp.MustCompile(`^news-`),
	regexp.MustCompile(`^email-`),
	regexp.MustCompile(`^info\d+`),
	regexp.MustCompile(`^marketing`),
	regexp.MustCompile(`^promo`),
	regexp.MustCompile(`^sales`),
	regexp.MustCompile(`^shop`),
}

// promotionalKeywords flag promotional content in subject or body.
// Single broad words cause false positives, so most entries are phrases.
var promotionalKeywords = []string{
	"unsubscribe", "opt-out", "opt out", "manage preferences",
	"view in browser", "special offer", "limited time", "limited-time",
	"act now", "activate your", "activate now", "click here", "shop now",
	"buy now", "sale", "discount", "coupon", "promo code", "promotional",
	"newsletter", "advertisement", "earn back", "statement credits",
	"rewards", "snag your", "consider purchasing", "lifetime membership",
	"percent off", "% off", "exclusive offer", "don't miss", "hurry",
	"last chance", "ending soon",
}

const (
	labelSpamScore       = 1.0
	labelPromotionsScore = 0.9
	labelUpdatesScore    = 0.3
	promoDomainScore     = 0.8
	promoLocalScore      = 0.75
	promoContentScore    = 0.8
)

// scoreSpam runs the rule-based classifier over one message. The score
// is the max of every matching rule's confidence.
func scoreSpam(msg provider.Message) spamRules {
	var r spamRules

	bump := func(score float64, reason string) {
		if score > r.Score {
			r.Score = score
		}
		r.Reasons = append(r.Reasons, reason)
	}

	for _, label := range msg.Labels {
		switch label {
		case "SPAM", "JUNK":
			bump(labelSpamScore, "provider SPAM label")
			r.HardMatch = true
		case "CATEGORY_PROMOTIONS", "PROMOTIONS":
			bump(labelPromotionsScore, "provider promotions label")
		case "CATEGORY_UPDATES":
			bump(labelUpdatesScore, "provider CATEGORY_UPDATES label")
		}
	}

	domain := senderDomain(msg.From)
	if domain != "" {
		for _, p := range promotionalDomainPatterns {
			if p.MatchString(domain) {
				bump(promoDomainScore, "promotional domain pattern: "+domain)
				break
			}
		}
	}

	if local := senderLocal(msg.From); local != "" {
		for _, p := range promotionalLocalPatterns {
			if p.MatchString(local) {
				bump(promoLocalScore, "promotional address pattern: "+msg.From)
				break
			}
		}
	}

	text := strings.ToLower(msg.Subject + " " + msg.Body)
	for _, keyword := range promotionalKeywords {
		if strings.Contains(text, keyword) {
			bump(promoContentScore, "promotional content: "+keyword)
			break
		}
	}

	return r
}

// fuseSpam combines rule and LLM verdicts. Hard rule matches override the
// LLM; otherwise the LLM's verdict counts when its score clears the
// threshold, and a clean LLM verdict suppresses soft rule matches.
func fuseSpam(rules spamRules, analysis *mailAnalysis, threshold float64) (bool, string, float64) {
	if rules.HardMatch {
		return true, rules.reason(), rules.Score
	}

	if analysis != nil {
		if analysis.IsSpam {
			score := rules.Score
			if score < 0.6 {
				score = 0.6
			}
			reason := "LLM detected spam"
			if len(rules.Reasons) > 0 {
				reason += "; " + rules.reason()
			}
			return true, reason, score
		}
		// The LLM saw the full context and says it is legitimate.
		return false, "", 0
	}

	if rules.Score >= threshold {
		return true, rules.reason(), rules.Score
	}
	return false, "", rules.Score
}

// senderDomain extracts the domain of "Name <user@host>" or "user@host".
func senderDomain(sender string) string {
	addr := senderAddr(sender)
	if idx := strings.LastIndex(addr, "@"); idx >= 0 {
		return strings.ToLower(addr[idx+1:])
	}
	return ""
}

// senderLocal extracts the local part of the sender address.
func senderLocal(sender string) string {
	addr := senderAddr(sender)
	if idx := strings.LastIndex(addr, "@"); idx >= 0 {
		return strings.ToLower(addr[:idx])
	}
	return ""
}

var angleAddrPattern = regexp.MustCompile(`<([^>]+)>`)

func senderAddr(sender string) string {
	if m := angleAddrPattern.FindStringSubmatch(sender); m != nil {
		return m[1]
	}
	return strings.TrimSpace(sender)
}
