package tools

import (
	"encoding/base64"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// MaxQueryChars bounds free-text tool input.
const MaxQueryChars = 5000

type guardRule struct {
	category string
	re       *regexp.Regexp
}

var guardRules = []guardRule{
	{"prompt_leak", regexp.MustCompile(`(?i)\b(?:show|reveal|print|display|tell|give)\s+(?:me\s+)?(?:your|the|system)?\s*(?:system\s+)?(?:prompt|instructions|rules)\b`)},
	{"prompt_leak", regexp.MustCompile(`(?i)\b(?:what|how)\s+(?:were|are)\s+(?:you|your)\s+(?:told|instructed|programmed)\b`)},
	{"prompt_leak", regexp.MustCompile(`(?i)\b(?:ignore|forget|disregard)\s+(?:all\s+)?(?:the\s+)?(?:previous|prior|above)\s+(?:instructions?|rules?|prompts?)\b`)},
	{"prompt_leak", regexp.MustCompile(`(?i)\brepeat\s+(?:back|after|your)\s+(?:system|initial)\s+(?:prompt|instructions?)\b`)},
	{"jailbreak", regexp.MustCompile(`(?i)\byou\s+are\s+(?:now|from\s+now)\b`)},
	{"jailbreak", regexp.MustCompile(`(?i)\b(?:pretend\s+(?:to\s+be|you\s+are)|roleplay\s+as)\b`)},
	{"jailbreak", regexp.MustCompile(`(?i)\b(?:jailbreak|dev(?:eloper)?\s+mode|god\s+mode|admin\s+mode)\b`)},
	{"system_tag", regexp.MustCompile(`(?i)[\[<{]\s*(?:system|sys|assistant|admin|root)\b`)},
	{"system_tag", regexp.MustCompile(`(?i)<<\s*SYS\s*>>|###\s*(?:system|instruction)|<\|im_start\|>|<\|endoftext\|>`)},
	{"obfuscation", regexp.MustCompile(`[\x{200b}-\x{200f}\x{2060}-\x{206f}]|[\x{0300}-\x{036f}]{3,}`)},
	{"encoding", regexp.MustCompile(`(?i)\\x[0-9a-f]{2}|\\u[0-9a-f]{4}|&#x?[0-9a-f]+;|[A-Za-z0-9+/]{50,}={0,2}`)},
}

var base64Run = regexp.MustCompile(`[A-Za-z0-9+/]{20,}={0,2}`)

const (
	// a single character repeated more often than this in a row
	maxCharRun = 10
	// from this many words on, no single word may make up half the query
	minWordsForRepetition = 6
)

// CheckQuery returns a rejection reason for free text that tries to steer
// the answer model instead of asking about companies, or "" when the text
// is acceptable.
func CheckQuery(q string) string {
	if n := utf8.RuneCountInString(q); n > MaxQueryChars {
		return "query exceeds 5000 characters"
	}
	if category := matchRules(q); category != "" {
		return "query contains " + category + " markers"
	}
	if hiddenInBase64(q) {
		return "query contains encoded instructions"
	}
	if repetitive(q) {
		return "query contains excessive repetition"
	}
	return ""
}

func matchRules(q string) string {
	for _, r := range guardRules {
		if r.re.MatchString(q) {
			return r.category
		}
	}
	return ""
}

// hiddenInBase64 decodes base64-looking runs and checks the payload against
// the same rules as plain text.
func hiddenInBase64(q string) bool {
	for _, run := range base64Run.FindAllString(q, -1) {
		decoded, err := base64.StdEncoding.DecodeString(run)
		if err != nil {
			decoded, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(run, "="))
		}
		if err != nil || !utf8.Valid(decoded) {
			continue
		}
		if matchRules(string(decoded)) != "" {
			return true
		}
	}
	return false
}

// repetitive reports long runs of one character or a query dominated by a
// single word. Digits are exempt from the run check so amounts like
// 10000000000 pass.
func repetitive(q string) bool {
	var (
		prev rune
		run  int
	)
	for _, r := range q {
		switch {
		case unicode.IsDigit(r) || unicode.IsSpace(r):
			run = 0
		case r == prev:
			run++
			if run > maxCharRun {
				return true
			}
		default:
			run = 1
		}
		prev = r
	}

	words := strings.Fields(strings.ToLower(q))
	if len(words) < minWordsForRepetition {
		return false
	}
	counts := make(map[string]int, len(words))
	for _, w := range words {
		counts[w]++
		if counts[w]*2 > len(words) {
			return true
		}
	}
	return false
}
