package encoder

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"gopkg.in/alexcesaro/quotedprintable.v3"

	"github.com/shineum/smtp-mail-lite/internal/email"
)

// DateLayout is the RFC 2822 date format. Go layouts always render English
// day and month abbreviations, independent of the host locale.
const DateLayout = "Mon, 02 Jan 2006 15:04:05 -0700"

// FormatDate renders t for the Date header.
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

// MessageID renders the Message-ID header value as
// "<{unix seconds with fraction}{sender from '@'}>". Whole seconds keep a
// ".0" fraction.
//
// This keeps the historical format of the service: the sender's '@' and
// domain follow the timestamp directly, with no local part before the '@'
// and no token beyond the timestamp. Two sends from the same sender within the
// clock resolution produce the same id.
func MessageID(t time.Time, from email.Address) string {
	secs := float64(t.Unix()) + float64(t.Nanosecond())/float64(time.Second)
	ts := strconv.FormatFloat(secs, 'f', -1, 64)
	if !strings.Contains(ts, ".") {
		ts += ".0"
	}
	return "<" + ts + from.Domain() + ">"
}

// maxHardLineLen is the RFC 5322 line limit, excluding CRLF.
const maxHardLineLen = 998

// maxEncodedWordLen is the RFC 2047 limit for one encoded-word.
const maxEncodedWordLen = 75

const qWordPrefix = "=?UTF-8?q?"

// formatSubject renders the Subject value, folded so that no line passes
// maxLineLen where whitespace allows it. ASCII subjects fold at their own
// spaces. Anything else becomes a run of encoded-words, one per fold.
func formatSubject(subject string) (string, error) {
	encoded := quotedprintable.QEncoding.Encode("UTF-8", subject)
	if encoded == subject {
		return foldWords("Subject", strings.Split(subject, " "))
	}
	payload := strings.TrimSuffix(strings.TrimPrefix(encoded, qWordPrefix), "?=")
	first := min(maxEncodedWordLen, maxLineLen-len("Subject: "))
	return foldWords("Subject", splitQWords(payload, first))
}

// foldWords joins words with single spaces, replacing a space with CRLF SP
// when the next word would overflow the line. Unfolding restores the input.
func foldWords(header string, words []string) (string, error) {
	var b strings.Builder
	lineLen := len(header) + len(": ")
	for i, w := range words {
		if i > 0 {
			if w != "" && lineLen+1+len(w) > maxLineLen {
				b.WriteString("\r\n ")
				lineLen = 1
			} else {
				b.WriteByte(' ')
				lineLen++
			}
		}
		if lineLen+len(w) > maxHardLineLen {
			return "", fmt.Errorf("%w: %s word of %d bytes cannot be folded", ErrInvalidHeader, strings.ToLower(header), len(w))
		}
		b.WriteString(w)
		lineLen += len(w)
	}
	return b.String(), nil
}

// splitQWords cuts a Q-encoded payload into encoded-words of at most
// maxEncodedWordLen bytes, the first one at most first bytes. Cuts never fall
// inside an escape or before a UTF-8 continuation byte, so every word decodes
// to whole characters.
func splitQWords(payload string, first int) []string {
	overhead := len(qWordPrefix) + len("?=")
	budget := first - overhead

	var words []string
	start := 0
	for i := 0; i < len(payload); {
		n := 1
		if payload[i] == '=' && i+2 < len(payload) {
			n = 3
		}
		// Extend over the continuation bytes of a multi-byte character.
		if n == 3 && isLeadByte(payload[i+1:i+3]) {
			for i+n+2 < len(payload) && payload[i+n] == '=' && isContinuationByte(payload[i+n+1:i+n+3]) {
				n += 3
			}
		}
		if i+n-start > budget && i > start {
			words = append(words, qWordPrefix+payload[start:i]+"?=")
			start = i
			budget = maxEncodedWordLen - overhead
		}
		i += n
	}
	return append(words, qWordPrefix+payload[start:]+"?=")
}

func isLeadByte(hex string) bool {
	return hex[0] >= 'C' && hex[0] <= 'F'
}

func isContinuationByte(hex string) bool {
	return hex[0] >= '8' && hex[0] <= 'B'
}
