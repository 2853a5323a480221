package refinement

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/koscakluka/ema-dictation/core/llms"
)

const correctionInstructions = `You correct speech recognition output.

Rules:
1. Fix obvious recognition errors such as homophones and missing punctuation.
2. Fix grammar and spelling.
3. Keep the original tone and style.
4. Do not add information.
5. If the text is already correct, return it unchanged.
6. Language: %s

Reply with the corrected text only.`

const translationInstructions = `You are a professional translator. Translate the user's text into %s.

Rules:
1. Keep the tone and style of the original.
2. The translation must read naturally in the target language.
3. Proper nouns may stay in the original or use their common translation.
4. Do not add explanations or notes.

Wrap the translation in <translated></translated> tags, for example <translated>translated text</translated>.`

func correctionMessages(text, language string, context []string) []llms.Message {
	if language == "" {
		language = "same as the text"
	}

	messages := []llms.Message{llms.SystemMessage(fmt.Sprintf(correctionInstructions, language))}
	if c := contextBlock(context); c != "" {
		messages = append(messages, llms.UserMessage(c))
	}
	return append(messages, llms.UserMessage("Text to correct: "+text))
}

func translationMessages(text, targetLanguage string, context []string) []llms.Message {
	messages := []llms.Message{llms.SystemMessage(fmt.Sprintf(translationInstructions, targetLanguage))}
	if c := contextBlock(context); c != "" {
		messages = append(messages, llms.UserMessage(c))
	}
	return append(messages, llms.UserMessage("Text to translate: "+text))
}

// contextBlock lists the preceding utterances so the model can resolve names
// and terms. They are reference only and must not be rewritten.
func contextBlock(context []string) string {
	var b strings.Builder
	for _, entry := range context {
		if strings.TrimSpace(entry) == "" {
			continue
		}
		if b.Len() == 0 {
			b.WriteString("Previous utterances, for reference only:\n")
		}
		b.WriteString("- ")
		b.WriteString(strings.TrimSpace(entry))
		b.WriteString("\n")
	}
	return b.String()
}

var translatedPattern = regexp.MustCompile(`(?s)<translated>(.*?)</translated>`)

func extractTranslation(response string) (string, bool) {
	match := translatedPattern.FindStringSubmatch(response)
	if match == nil {
		return "", false
	}
	text := strings.TrimSpace(match[1])
	return text, text != ""
}
