package phonenumber

import "testing"

func TestNormalize(t *testing.T) {
    cases := []struct {
        in   string
        want string
    }{
        {"+20 111 222 3344", "+201112223344"},
        {"0020111 2223344", "+201112223344"},
        {"20111-222-3344", "+201112223344"},
        {"123", ""},
        {"", ""},
        {"not a number at all", ""},
    }

    for _, c := range cases {
        if got := Normalize(c.in); got != c.want {
            t.Errorf("Normalize(%q) = %q, want %q", c.in, got, c.want)
        }
    }
}

func TestNormalizeIdempotent(t *testing.T) {
    inputs := []string{"+20 111 222 3344", "0020111 2223344", "+447911123456"}
    for _, in := range inputs {
        once := Normalize(in)
        twice := Normalize(once)
        if once != twice {
            t.Errorf("Normalize not idempotent for %q: %q != %q", in, once, twice)
        }
    }
}

func TestDetectCountry(t *testing.T) {
    cases := []struct {
        in   string
        want string
    }{
        {"+201112223344", "+20"},
        {"+971501234567", "+971"},
        {"+447911123456", "+44"},
        {"+15551234567", "+1"},
        {"+99999999999", "+1"}, // unknown prefix defaults to +1
    }

    for _, c := range cases {
        if got := DetectCountry(c.in); got != c.want {
            t.Errorf("DetectCountry(%q) = %q, want %q", c.in, got, c.want)
        }
    }
}

func TestExtractLastDigits(t *testing.T) {
    if got := ExtractLastDigits("+201112223407", 3); got != "407" {
        t.Errorf("got %q, want 407", got)
    }
    if got := ExtractLastDigits("+123", 5); got != "123" {
        t.Errorf("got %q, want 123", got)
    }
}
