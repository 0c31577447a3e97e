package gateway

import (
	"encoding/hex"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/unicode"

	"gridwave.io/gsm/stkgw/at"
)

// Entry is one decoded message from a modem listing.
type Entry struct {
	// Index is the storage slot from the listing's metadata line, needed to
	// delete the message after consumption.
	Index  string
	Sender string
	// Text is the message body, unpacked and transliterated to ASCII.
	Text string
}

// ParseListing decodes a raw AT+CMGL listing into entries.
//
// The listing alternates metadata lines (comma-separated, quoted fields)
// with body lines. Bodies carrying Unicode arrive hex-encoded as UTF-16BE;
// anything that does not decode cleanly is taken verbatim. Every body is
// transliterated, since nothing downstream accepts non-ASCII text.
//
// Parsing is only idempotent if the caller deletes each message from the
// modem right after consuming its entry; otherwise the next cycle lists and
// stores it again.
func ParseListing(raw string) []Entry {
	if len(raw) < len(at.ListTerminator) {
		return nil
	}
	trimmed := strings.TrimRight(raw[:len(raw)-len(at.ListTerminator)], " \t\r\n")
	if trimmed == "" {
		return nil
	}

	lines := strings.Split(trimmed, at.CRLF)
	entries := make([]Entry, 0, len(lines)/2)
	for i := 0; i+1 < len(lines); i += 2 {
		meta := strings.Split(strings.ReplaceAll(lines[i], `"`, ""), ",")
		if len(meta) < 3 {
			continue
		}
		fields := strings.Fields(meta[0])
		if len(fields) == 0 {
			continue
		}
		entries = append(entries, Entry{
			Index:  fields[len(fields)-1],
			Sender: meta[2],
			Text:   Transliterate(decodeBody(lines[i+1])),
		})
	}
	return entries
}

func decodeBody(body string) string {
	if text, ok := decodeHexUTF16(body); ok {
		return text
	}
	return body
}

// decodeHexUTF16 interprets body as hex-encoded UTF-16BE. It reports false
// for invalid hex, odd byte counts, or byte sequences that do not form valid
// UTF-16, in which case the caller keeps the raw body.
func decodeHexUTF16(body string) (string, bool) {
	raw, err := hex.DecodeString(body)
	if err != nil || len(raw) == 0 || len(raw)%2 != 0 {
		return "", false
	}
	decoded, err := unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM).NewDecoder().Bytes(raw)
	if err != nil {
		return "", false
	}
	text := string(decoded)
	// The decoder substitutes U+FFFD for broken surrogates instead of
	// failing; treat that as "this was never UTF-16 to begin with".
	if strings.ContainsRune(text, utf8.RuneError) {
		return "", false
	}
	return text, true
}
