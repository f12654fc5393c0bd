package assistant

import (
	"context"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/prompts"
	"golang.org/x/text/unicode/norm"
)

const dictionaryPrompt = `사용자의 질문을 보고, 우리의 사전을 참고해서 사용자의 질문을 변경해주세요.
만약 변경할 필요가 없다고 판단된다면, 사용자의 질문을 변경하지 않아도 됩니다.
그런 경우에는 질문만 반환해주세요.
사전: {{.dictionary}}

질문: {{.input}}`

type alias struct {
	phrase string
	rule   Rule
}

// Normalizer rewrites domain jargon into the canonical legal terms.
type Normalizer struct {
	rules []Rule
	// aliases sorted longest first so that overlapping phrases resolve to the longer match.
	aliases  []alias
	model    ChatModel
	fallback bool
	prompt   prompts.PromptTemplate
	logger   zerolog.Logger
}

// NewNormalizer builds a normalizer. model may be nil when fallback is false.
func NewNormalizer(rules []Rule, model ChatModel, fallback bool, logger zerolog.Logger) *Normalizer {
	aliases := []alias{}
	for _, rule := range rules {
		for _, phrase := range rule.Aliases {
			phrase = norm.NFC.String(strings.TrimSpace(phrase))
			if phrase == "" {
				continue
			}
			aliases = append(aliases, alias{phrase: phrase, rule: rule})
		}
	}
	sort.SliceStable(aliases, func(i, j int) bool {
		return len(aliases[i].phrase) > len(aliases[j].phrase)
	})
	return &Normalizer{
		rules:    rules,
		aliases:  aliases,
		model:    model,
		fallback: fallback && model != nil,
		prompt:   prompts.NewPromptTemplate(dictionaryPrompt, []string{"dictionary", "input"}),
		logger:   logger,
	}
}

// Normalize applies the literal rules, then asks the model when none matched.
func (n *Normalizer) Normalize(ctx context.Context, question string) (string, error) {
	question = norm.NFC.String(question)
	if rewritten, ok := n.applyLiteral(question); ok {
		return rewritten, nil
	}
	if !n.fallback || len(n.rules) == 0 {
		return question, nil
	}

	text, err := n.prompt.Format(map[string]any{
		"dictionary": n.dictionaryText(),
		"input":      question,
	})
	if err != nil {
		return "", errors.Wrap(err, "failed to format dictionary prompt")
	}
	out, err := n.model.Generate(ctx, []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeHuman, text),
	})
	if err != nil {
		return "", err
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return question, nil
	}
	if out != question {
		n.logger.Debug().Str("question", question).Str("rewritten", out).Msg("dictionary rewrite by model")
	}
	return out, nil
}

func (n *Normalizer) applyLiteral(question string) (string, bool) {
	rewritten := question
	applied := false
	for _, a := range n.aliases {
		if a.phrase == a.rule.Target {
			continue
		}
		out, ok := replaceWord(rewritten, a.phrase, a.rule.Target)
		if !ok {
			continue
		}
		rewritten = out
		applied = true
		n.logger.Debug().Str("rule", a.rule.String()).Str("phrase", a.phrase).Msg("dictionary rewrite applied")
	}
	return rewritten, applied
}

// replaceWord substitutes phrase only where it starts a word, so 외국사람 is
// left alone while 사람은 becomes 거주자는. The particle attached to each
// replaced phrase is re-chosen for the target's final syllable.
func replaceWord(s, phrase, target string) (string, bool) {
	var b strings.Builder
	replaced := false
	for {
		i := strings.Index(s, phrase)
		if i < 0 {
			break
		}
		end := i + len(phrase)
		head := s[:i]
		if head == "" {
			head = b.String()
		}
		if prev, _ := utf8.DecodeLastRuneInString(head); unicode.Is(unicode.Hangul, prev) {
			b.WriteString(s[:end])
			s = s[end:]
			continue
		}
		b.WriteString(s[:i])
		b.WriteString(target)
		s = fixParticle(s[end:], target)
		replaced = true
	}
	b.WriteString(s)
	return b.String(), replaced
}

// particles pairs the form used after a final consonant with the form used after a vowel.
var particles = []struct {
	consonant, vowel string
}{
	{"은", "는"},
	{"이", "가"},
	{"을", "를"},
	{"과", "와"},
}

// fixParticle rewrites the particle at the start of rest to agree with noun.
// Single-syllable particles must end the word, which keeps copulas such as
// 이다 untouched.
func fixParticle(rest, noun string) string {
	final, ok := finalConsonant(noun)
	if !ok {
		return rest
	}
	for _, p := range particles {
		wrong, right := p.consonant, p.vowel
		if final != 0 {
			wrong, right = p.vowel, p.consonant
		}
		if after, found := strings.CutPrefix(rest, wrong); found && endsWord(after) {
			return right + after
		}
	}
	// 으로 follows a consonant other than ㄹ, 로 follows a vowel or ㄹ.
	if final == 0 || final == jongseongRieul {
		if after, found := strings.CutPrefix(rest, "으로"); found {
			return "로" + after
		}
	} else if after, found := strings.CutPrefix(rest, "로"); found {
		return "으로" + after
	}
	return rest
}

const (
	hangulBase     = 0xAC00
	hangulLast     = 0xD7A3
	jongseongCount = 28
	jongseongRieul = 8
)

// finalConsonant reports the final consonant index of the last syllable of s,
// 0 meaning none. ok is false when s does not end with a Hangul syllable.
func finalConsonant(s string) (int, bool) {
	r, _ := utf8.DecodeLastRuneInString(s)
	if r < hangulBase || r > hangulLast {
		return 0, false
	}
	return int(r-hangulBase) % jongseongCount, true
}

func endsWord(s string) bool {
	r, _ := utf8.DecodeRuneInString(s)
	return s == "" || !unicode.Is(unicode.Hangul, r)
}

// dictionaryText renders the rules the way they are listed in the prompt.
func (n *Normalizer) dictionaryText() string {
	items := make([]string, 0, len(n.rules))
	for _, rule := range n.rules {
		items = append(items, "'"+rule.String()+"'")
	}
	return "[" + strings.Join(items, ", ") + "]"
}
