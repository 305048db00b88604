package textutil

import (
	"path"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// maxFileNameLen is the budget for generated episode filenames. Most
// filesystems allow 255 bytes; staying well under leaves room for suffixes.
const maxFileNameLen = 200

var unsafeChars = strings.NewReplacer(
	"<", "",
	">", "",
	":", "",
	"\"", "",
	"/", "",
	"\\", "",
	"|", "",
	"?", "",
	"*", "",
)

// SanitizeFileName strips characters that are illegal in filenames, collapses
// runs of whitespace, and trims leading/trailing dots and spaces.
func SanitizeFileName(name string) string {
	name = norm.NFC.String(name)
	name = unsafeChars.Replace(name)
	name = strings.Join(strings.Fields(name), " ")
	return strings.Trim(name, ". ")
}

// ExtensionFromURL extracts a lowercase file extension from the path portion
// of an audio URL, ignoring any query string. Defaults to ".mp3".
func ExtensionFromURL(rawURL string) string {
	trimmed := rawURL
	if idx := strings.IndexByte(trimmed, '?'); idx >= 0 {
		trimmed = trimmed[:idx]
	}
	ext := path.Ext(trimmed)
	if ext == "" || ext == "." {
		return ".mp3"
	}
	return strings.ToLower(ext)
}

// EpisodeFileName builds "{podcast} - {episode}{ext}" from sanitized titles,
// truncating the episode-title segment first to stay within the filename
// budget. The extension is never cut.
func EpisodeFileName(podcastTitle, episodeTitle, audioURL string) string {
	podcast := SanitizeFileName(podcastTitle)
	episode := SanitizeFileName(episodeTitle)
	ext := ExtensionFromURL(audioURL)

	if podcast == "" {
		podcast = "Podcast"
	}
	if episode == "" {
		episode = "Episode"
	}

	const sep = " - "
	if over := len(podcast) + len(sep) + len(episode) + len(ext) - maxFileNameLen; over > 0 {
		keep := len(episode) - over
		if keep < 1 {
			keep = 1
		}
		episode = truncate(episode, keep)
		if episode == "" {
			episode = "Episode"
		}
		// A pathological podcast title can exhaust the budget on its own.
		if remaining := maxFileNameLen - len(sep) - len(ext) - len(episode); len(podcast) > remaining {
			podcast = truncate(podcast, remaining)
		}
	}

	return podcast + sep + episode + ext
}

func truncate(value string, limit int) string {
	if limit <= 0 {
		return ""
	}
	if len(value) <= limit {
		return value
	}
	runes := []rune(value)
	for len(runes) > 0 && len(string(runes)) > limit {
		runes = runes[:len(runes)-1]
	}
	return strings.Trim(string(runes), ". ")
}
