// Package intent classifies recognized utterances into local commands or
// pass-through queries for the language model.
package intent

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Intent is the classification assigned to an utterance.
type Intent string

const (
	Greeting           Intent = "greeting"
	TimeQuery          Intent = "time-query"
	DateQuery          Intent = "date-query"
	OpenSearchEngine   Intent = "open-search-engine"
	OpenChatSite       Intent = "open-chat-site"
	EncyclopediaLookup Intent = "encyclopedia-lookup"
	Passthrough        Intent = "passthrough"
)

// Local reports whether the intent is answered without a provider call.
func (i Intent) Local() bool {
	return i != Passthrough && i != ""
}

const (
	greetingResponse       = "Привет, сэр. Чем могу помочь?"
	searchEngineResponse   = "Открываю Google"
	chatSiteResponse       = "Открываю ChatGPT"
	encyclopediaClarify    = "Пожалуйста, уточните, что искать в Википедии"
	encyclopediaKeyword    = "википедия"
	defaultSearchURL       = "https://google.com"
	defaultChatURL         = "https://chat.openai.com"
	defaultEncyclopediaURL = "https://ru.wikipedia.org/wiki/"
)

var (
	greetingTokens    = []string{"привет", "здравствуй"}
	timeKeywords      = []string{"время"}
	dateKeywords      = []string{"дата"}
	searchPhrases     = []string{"открой google"}
	chatPhrases       = []string{"открой чат"}
	encyclopediaWords = []string{encyclopediaKeyword}

	encyclopediaRe = regexp.MustCompile(`(?i)` + regexp.QuoteMeta(encyclopediaKeyword))
)

// Result is the outcome of routing one utterance. For local intents Response
// holds the reply; NavigateURL is set when the command asks to open a page.
// For Passthrough, Query carries the original text for the provider.
type Result struct {
	Intent      Intent
	Response    string
	NavigateURL string
	Query       string
	Term        string
}

// Options configures URLs and the clock. Zero values use the defaults.
type Options struct {
	SearchURL           string
	ChatURL             string
	EncyclopediaBaseURL string
	Location            *time.Location
	Now                 func() time.Time
}

// Router maps utterances to intents. It performs no side effects.
type Router struct {
	searchURL       string
	chatURL         string
	encyclopediaURL string
	loc             *time.Location
	now             func() time.Time
}

func NewRouter(opts Options) *Router {
	r := &Router{
		searchURL:       strings.TrimSpace(opts.SearchURL),
		chatURL:         strings.TrimSpace(opts.ChatURL),
		encyclopediaURL: strings.TrimSpace(opts.EncyclopediaBaseURL),
		loc:             opts.Location,
		now:             opts.Now,
	}
	if r.searchURL == "" {
		r.searchURL = defaultSearchURL
	}
	if r.chatURL == "" {
		r.chatURL = defaultChatURL
	}
	if r.encyclopediaURL == "" {
		r.encyclopediaURL = defaultEncyclopediaURL
	}
	if r.loc == nil {
		r.loc = time.Local
	}
	if r.now == nil {
		r.now = time.Now
	}
	return r
}

// Route classifies the utterance. The first matching rule wins, so a greeting
// always short-circuits everything below it.
func (r *Router) Route(utterance string) Result {
	lower := strings.ToLower(utterance)

	switch {
	case containsAny(lower, greetingTokens):
		return Result{Intent: Greeting, Response: greetingResponse}
	case containsAny(lower, timeKeywords):
		return Result{Intent: TimeQuery, Response: "Сейчас " + r.now().In(r.loc).Format("15:04")}
	case containsAny(lower, dateKeywords):
		return Result{Intent: DateQuery, Response: "Сегодня " + FormatLongDate(r.now().In(r.loc))}
	case containsAny(lower, searchPhrases):
		return Result{Intent: OpenSearchEngine, Response: searchEngineResponse, NavigateURL: r.searchURL}
	case containsAny(lower, chatPhrases):
		return Result{Intent: OpenChatSite, Response: chatSiteResponse, NavigateURL: r.chatURL}
	case containsAny(lower, encyclopediaWords):
		return r.encyclopedia(utterance)
	default:
		return Result{Intent: Passthrough, Query: utterance}
	}
}

func (r *Router) encyclopedia(utterance string) Result {
	term := utterance
	if loc := encyclopediaRe.FindStringIndex(utterance); loc != nil {
		term = utterance[:loc[0]] + utterance[loc[1]:]
	}
	term = strings.TrimSpace(term)
	if term == "" {
		return Result{Intent: EncyclopediaLookup, Response: encyclopediaClarify}
	}
	return Result{
		Intent:      EncyclopediaLookup,
		Response:    fmt.Sprintf("Ищу \"%s\" в Википедии", term),
		NavigateURL: r.encyclopediaURL + EncodeURIComponent(term),
		Term:        term,
	}
}

// EncodeURIComponent escapes s the way browsers' encodeURIComponent does:
// letters, digits and -_.!~*'() pass through, every other UTF-8 byte becomes
// an uppercase %XX.
func EncodeURIComponent(s string) string {
	const hex = "0123456789ABCDEF"
	var b strings.Builder
	b.Grow(len(s) * 3)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if uriUnreserved(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(hex[c>>4])
		b.WriteByte(hex[c&0x0f])
	}
	return b.String()
}

func uriUnreserved(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	}
	switch c {
	case '-', '_', '.', '!', '~', '*', '\'', '(', ')':
		return true
	}
	return false
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}
