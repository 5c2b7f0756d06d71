// Package extract pulls phone numbers and verification codes out of
// noisy, adversarial SMS text forwarded by the chat gateway.
package extract

import (
    "regexp"
    "strconv"
    "strings"

    "github.com/hamzaKhattat/reservation-engine/internal/phonenumber"
)

var (
    toPrefixRe   = regexp.MustCompile(`(?i)to\s*[:\-]?\s*([+\d][\d\s().+-]{5,20}\d)`)
    codePrefixRe = regexp.MustCompile(`(?i)code\s*[:\-]?\s*(\d{3,8})`)

    // keywordCodeRe captures a 4-8 digit token that follows a code keyword
    // within a few non-digit characters, e.g. "verification code is 7710".
    keywordCodeRe = regexp.MustCompile(`(?i)(?:code|verification|otp|pin|passcode|codigo)\D{0,20}?\b(\d{4,8})\b`)

    maskedToRe     = regexp.MustCompile(`(?i)to\s*[:\-]?\s*[+\d][\d\s().+•*-]*?[•*]{2,}\s*(\d{2,3})\b`)
    maskGlyphRe    = regexp.MustCompile(`[•*]{2,}\s*(\d{2,3})\b`)
    wordBoundaryRe = regexp.MustCompile(`\b(\d{2,3})\b`)

    // codeKeywords are scanned case-insensitively; the list holds English,
    // Spanish, Russian and German keywords.
    codeKeywords = []string{
        "code", "verification", "otp", "confirm", "pin",
        "codigo", "код", "verifizierung", "passcode",
    }

    nullCodes = map[string]bool{
        "0000": true, "1234": true, "1111": true, "4321": true, "12345": true,
    }
)

// ExtractFull looks for an explicit "to: <phone>" token and an explicit
// "code: <digits>" token. If either is missing it falls back to
// servicePattern for the code. Returns empty strings for whatever could
// not be found.
func ExtractFull(text, servicePattern string) (phone, code string) {
    if loc := toPrefixRe.FindStringSubmatchIndex(text); loc != nil {
        if !maskGlyphFollows(text, loc[1]) {
            phone = phonenumber.Normalize(text[loc[2]:loc[3]])
        }
    }

    if m := codePrefixRe.FindStringSubmatch(text); m != nil {
        code = m[1]
    } else if servicePattern != "" {
        if re, err := regexp.Compile(servicePattern); err == nil {
            matches := re.FindAllStringSubmatch(text, -1)
            if len(matches) > 0 {
                last := matches[len(matches)-1]
                if len(last) > 1 {
                    code = last[1]
                } else {
                    code = last[0]
                }
            }
        }
    }

    return phone, code
}

// maskGlyphFollows reports whether a mask glyph continues the digit run
// that toPrefixRe stopped at, meaning the excluded character class only
// captured the unmasked prefix of a masked "to:" phone span rather than
// a complete number.
func maskGlyphFollows(text string, afterMatch int) bool {
    for _, r := range text[afterMatch:] {
        switch {
        case r == '•' || r == '*':
            return true
        case r >= '0' && r <= '9', r == ' ', r == '-', r == '.', r == '(', r == ')', r == '+':
            continue
        default:
            return false
        }
    }
    return false
}

// ExtractMaskedTail recovers the unredacted trailing 2-3 digits of a
// partially masked phone number, e.g. "to: +20112••407", "•••\***872",
// trying progressively looser patterns and returning the last qualifying
// match of the first pattern that produces one.
func ExtractMaskedTail(text string) string {
    if all := maskedToRe.FindAllStringSubmatch(text, -1); len(all) > 0 {
        return all[len(all)-1][1]
    }

    if all := maskGlyphRe.FindAllStringSubmatch(text, -1); len(all) > 0 {
        return all[len(all)-1][1]
    }

    if all := wordBoundaryRe.FindAllStringSubmatch(text, -1); len(all) > 0 {
        return all[len(all)-1][1]
    }

    digits := lastDigitRun(text, 3)
    return digits
}

func lastDigitRun(text string, maxLen int) string {
    var runs []string
    var cur strings.Builder
    flush := func() {
        if cur.Len() > 0 {
            runs = append(runs, cur.String())
            cur.Reset()
        }
    }
    for _, r := range text {
        if r >= '0' && r <= '9' {
            cur.WriteRune(r)
        } else {
            flush()
        }
    }
    flush()

    if len(runs) == 0 {
        return ""
    }
    last := runs[len(runs)-1]
    if len(last) > maxLen {
        last = last[len(last)-maxLen:]
    }
    return last
}

// candidate is a scored code extraction.
type candidate struct {
    value    string
    priority int
    score    int
}

// ExtractCodeWithContext ranks every numeric token that could plausibly
// be a verification code and returns the highest-scoring one, breaking
// ties by pattern priority (earlier pattern = higher priority).
func ExtractCodeWithContext(text, serviceName, servicePattern string) string {
    lower := strings.ToLower(text)
    var candidates []candidate

    addCandidate := func(value string, priority int) {
        if value == "" {
            return
        }
        score := priority * 100

        if containsAnyKeyword(lower) {
            score += 50
        }
        if serviceName != "" && strings.Contains(lower, strings.ToLower(serviceName)) {
            score += 20
        }
        if nullCodes[value] {
            score -= 100
        }
        if looksLikePhoneFragment(value) {
            score -= 30
        }

        candidates = append(candidates, candidate{value: value, priority: priority, score: score})
    }

    if servicePattern != "" {
        if re, err := regexp.Compile(servicePattern); err == nil {
            for _, m := range re.FindAllStringSubmatch(text, -1) {
                if len(m) > 1 {
                    addCandidate(m[1], 3)
                } else {
                    addCandidate(m[0], 3)
                }
            }
        }
    }

    if m := codePrefixRe.FindStringSubmatch(text); m != nil {
        addCandidate(m[1], 2)
    }

    for _, m := range keywordCodeRe.FindAllStringSubmatch(text, -1) {
        addCandidate(m[1], 2)
    }

    for _, m := range wordBoundaryRe.FindAllStringSubmatch(text, -1) {
        addCandidate(m[1], 1)
    }

    if len(candidates) == 0 {
        return ""
    }

    best := candidates[0]
    for _, c := range candidates[1:] {
        if c.score > best.score || (c.score == best.score && c.priority > best.priority) {
            best = c
        }
    }
    return best.value
}

func containsAnyKeyword(lowerText string) bool {
    for _, kw := range codeKeywords {
        if strings.Contains(lowerText, kw) {
            return true
        }
    }
    return false
}

// looksLikePhoneFragment flags long numeric tokens more likely to be a
// phone number or timestamp fragment than a short verification code.
func looksLikePhoneFragment(value string) bool {
    n, err := strconv.Atoi(value)
    if err != nil {
        return false
    }
    return len(value) >= 6 && n > 100000
}
