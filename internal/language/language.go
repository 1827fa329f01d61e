package language

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/text/language"
)

// Auto asks the engine to detect the spoken language itself.
const Auto = "auto"

var ErrInvalid = errors.New("invalid language")

type Language struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// catalog lists the two-letter languages whisper.cpp accepts for -l.
var catalog = []Language{
	{"en", "English"}, {"zh", "Chinese"}, {"de", "German"}, {"es", "Spanish"},
	{"ru", "Russian"}, {"ko", "Korean"}, {"fr", "French"}, {"ja", "Japanese"},
	{"pt", "Portuguese"}, {"tr", "Turkish"}, {"pl", "Polish"}, {"ca", "Catalan"},
	{"nl", "Dutch"}, {"ar", "Arabic"}, {"sv", "Swedish"}, {"it", "Italian"},
	{"id", "Indonesian"}, {"hi", "Hindi"}, {"fi", "Finnish"}, {"vi", "Vietnamese"},
	{"he", "Hebrew"}, {"uk", "Ukrainian"}, {"el", "Greek"}, {"ms", "Malay"},
	{"cs", "Czech"}, {"ro", "Romanian"}, {"da", "Danish"}, {"hu", "Hungarian"},
	{"ta", "Tamil"}, {"no", "Norwegian"}, {"th", "Thai"}, {"ur", "Urdu"},
	{"hr", "Croatian"}, {"bg", "Bulgarian"}, {"lt", "Lithuanian"}, {"la", "Latin"},
	{"mi", "Maori"}, {"ml", "Malayalam"}, {"cy", "Welsh"}, {"sk", "Slovak"},
	{"te", "Telugu"}, {"fa", "Persian"}, {"lv", "Latvian"}, {"bn", "Bengali"},
	{"sr", "Serbian"}, {"az", "Azerbaijani"}, {"sl", "Slovenian"}, {"kn", "Kannada"},
	{"et", "Estonian"}, {"mk", "Macedonian"}, {"br", "Breton"}, {"eu", "Basque"},
	{"is", "Icelandic"}, {"hy", "Armenian"}, {"ne", "Nepali"}, {"mn", "Mongolian"},
	{"bs", "Bosnian"}, {"kk", "Kazakh"}, {"sq", "Albanian"}, {"sw", "Swahili"},
	{"gl", "Galician"}, {"mr", "Marathi"}, {"pa", "Punjabi"}, {"si", "Sinhala"},
	{"km", "Khmer"}, {"sn", "Shona"}, {"yo", "Yoruba"}, {"so", "Somali"},
	{"af", "Afrikaans"}, {"oc", "Occitan"}, {"ka", "Georgian"}, {"be", "Belarusian"},
	{"tg", "Tajik"}, {"sd", "Sindhi"}, {"gu", "Gujarati"}, {"am", "Amharic"},
	{"yi", "Yiddish"}, {"lo", "Lao"}, {"uz", "Uzbek"}, {"fo", "Faroese"},
	{"ht", "Haitian Creole"}, {"ps", "Pashto"}, {"tk", "Turkmen"}, {"nn", "Nynorsk"},
	{"mt", "Maltese"}, {"sa", "Sanskrit"}, {"lb", "Luxembourgish"}, {"my", "Myanmar"},
	{"bo", "Tibetan"}, {"tl", "Tagalog"}, {"mg", "Malagasy"}, {"as", "Assamese"},
	{"tt", "Tatar"}, {"ln", "Lingala"}, {"ha", "Hausa"}, {"ba", "Bashkir"},
	{"jw", "Javanese"}, {"su", "Sundanese"},
}

// whisperCodes maps ISO 639-1 codes to the differing codes whisper.cpp uses.
var whisperCodes = map[string]string{
	"jv": "jw",
	"nb": "no",
}

var (
	byCode = make(map[string]Language, len(catalog))
	byName = make(map[string]Language, len(catalog))
)

func init() {
	for _, l := range catalog {
		byCode[l.Code] = l
		byName[strings.ToLower(l.Name)] = l
	}
}

// Catalog returns the supported languages sorted by code.
func Catalog() []Language {
	out := make([]Language, len(catalog))
	copy(out, catalog)
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

// Normalize maps a language code, English language name or BCP-47 tag to the
// two-letter code passed to the engine. "auto" and blank input yield Auto.
func Normalize(raw string) (string, error) {
	input := strings.ToLower(strings.TrimSpace(raw))
	if input == "" || input == Auto {
		return Auto, nil
	}

	name := input
	if len(input) == 2 {
		if l, ok := lookupCode(input); ok {
			name = strings.ToLower(l.Name)
		}
	} else if strings.ContainsAny(input, "-_") {
		if l, ok := lookupTag(input); ok {
			name = strings.ToLower(l.Name)
		}
	}

	l, ok := byName[name]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalid, raw)
	}
	return l.Code, nil
}

func lookupCode(code string) (Language, bool) {
	if l, ok := fromISO(code); ok {
		return l, true
	}

	// Deprecated ISO codes (iw, in, ji) canonicalise to their current form.
	tag, err := language.Parse(code)
	if err != nil {
		return Language{}, false
	}
	base, _ := tag.Base()
	return fromISO(base.String())
}

func lookupTag(input string) (Language, bool) {
	tag, err := language.Parse(strings.ReplaceAll(input, "_", "-"))
	if err != nil {
		return Language{}, false
	}

	base, confidence := tag.Base()
	if confidence == language.No {
		return Language{}, false
	}
	return fromISO(base.String())
}

func fromISO(code string) (Language, bool) {
	if alias, ok := whisperCodes[code]; ok {
		code = alias
	}
	l, ok := byCode[code]
	return l, ok
}
