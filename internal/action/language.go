package action

import (
	"fmt"
	"runtime"
	"strings"
)

// Interpreter argv prefixes keyed by fence language tag.
var interpreters = map[string][]string{
	"javascript": {"node", "-e"},
	"js":         {"node", "-e"},
	"node":       {"node", "-e"},
	"python":     {"python3", "-c"},
	"python3":    {"python3", "-c"},
	"py":         {"python3", "-c"},
}

var shells = map[string]bool{
	"bash":    true,
	"sh":      true,
	"shell":   true,
	"zsh":     true,
	"console": true,
}

// Command returns the argv that runs code written in lang.
func Command(lang, code string) ([]string, error) {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if shells[lang] {
		if runtime.GOOS == "windows" {
			return []string{"cmd", "/C", code}, nil
		}
		return []string{"sh", "-c", code}, nil
	}
	if prefix, ok := interpreters[lang]; ok {
		return append(append([]string(nil), prefix...), code), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedLanguage, lang)
}

// Runnable reports whether Command knows lang.
func Runnable(lang string) bool {
	_, err := Command(lang, "")
	return err == nil
}
