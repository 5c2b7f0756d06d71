package extract

import "testing"

func TestExtractFull(t *testing.T) {
    phone, code := ExtractFull("to: +201112223344 code: 482913", "")
    if phone != "+201112223344" {
        t.Errorf("phone = %q, want +201112223344", phone)
    }
    if code != "482913" {
        t.Errorf("code = %q, want 482913", code)
    }
}

func TestExtractFullMaskedToYieldsEmptyPhone(t *testing.T) {
    phone, _ := ExtractFull("to: 20 11122•••407 your code is 55921", "")
    if phone != "" {
        t.Errorf("phone = %q, want empty so the masked-tail fallback runs", phone)
    }
}

func TestExtractFullFallbackPattern(t *testing.T) {
    _, code := ExtractFull("Your WhatsApp code is 555123, do not share it.", `(\d{6})`)
    if code != "555123" {
        t.Errorf("code = %q, want 555123", code)
    }
}

func TestExtractMaskedTail(t *testing.T) {
    cases := []struct {
        text string
        want string
    }{
        {"to: 20 11122•••407 your code is 55921", "407"},
        {"•••\\***872", "872"},
        {"account ending **407", "407"},
    }
    for _, c := range cases {
        if got := ExtractMaskedTail(c.text); got != c.want {
            t.Errorf("ExtractMaskedTail(%q) = %q, want %q", c.text, got, c.want)
        }
    }
}

func TestExtractCodeWithContextRejectsNullCodes(t *testing.T) {
    code := ExtractCodeWithContext("Reminder: meeting at 1234 today", "", "")
    if code == "1234" {
        t.Errorf("should not prefer a known null code, got %q", code)
    }
}

func TestExtractCodeWithContextPrefersKeywordProximity(t *testing.T) {
    code := ExtractCodeWithContext("System timestamp 20240101 your verification code is 7710", "", "")
    if code != "7710" {
        t.Errorf("code = %q, want 7710", code)
    }
}
