package notify

import (
    "strings"
    "testing"

    "golang.org/x/text/language"
)

func TestRenderCodeDelivered(t *testing.T) {
    out := Render(TemplateCodeDelivered, language.English, map[string]string{
        "service":     "WhatsApp",
        "phone":       "+201112223344",
        "code":        "482913",
        "amount":      "10",
        "new_balance": "90",
    })
    if !strings.Contains(out, "482913") || !strings.Contains(out, "90") {
        t.Errorf("rendered template missing expected values: %q", out)
    }
}

func TestRenderFallsBackToEnglish(t *testing.T) {
    out := Render(TemplateLowStockAlert, language.French, map[string]string{"service": "Telegram"})
    if !strings.Contains(out, "Telegram") {
        t.Errorf("expected English fallback to mention service, got %q", out)
    }
}

func TestRenderArabic(t *testing.T) {
    out := Render(TemplateReservationExpired, language.Arabic, map[string]string{"service": "Instagram"})
    if out == "" {
        t.Fatal("expected non-empty Arabic render")
    }
}
