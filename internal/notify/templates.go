package notify

import (
    "fmt"

    "golang.org/x/text/language"
)

// templates is an immutable static mapping loaded at startup (spec.md §9
// "Global mutable state... Translations are an immutable static mapping
// loaded at startup"), grounded on original_source/translations.py's
// Arabic/English static phrase table.
var templates = map[string]map[language.Tag]string{
    TemplateCodeDelivered: {
        language.English: "Code delivered for %s on %s: %s. Debited %s, new balance %s.",
        language.Arabic:  "تم استلام الرمز لـ %s على %s: %s. تم خصم %s، الرصيد الجديد %s.",
    },
    TemplateReservationExpired: {
        language.English: "Your reservation for %s expired with no charge.",
        language.Arabic:  "انتهت صلاحية حجزك لـ %s بدون أي رسوم.",
    },
    TemplateInsufficientBalance: {
        language.English: "Insufficient balance to complete %s on %s (price %s).",
        language.Arabic:  "الرصيد غير كافٍ لإتمام %s على %s (السعر %s).",
    },
    TemplateLowStockAlert: {
        language.English: "Low stock alert: no numbers remaining for %s.",
        language.Arabic:  "تنبيه نفاد المخزون: لا توجد أرقام متبقية لـ %s.",
    },
}

var matcher = language.NewMatcher([]language.Tag{language.English, language.Arabic})

// Render fills templateKey's pattern for tag (falling back to English if
// tag is unsupported) with the values found in params. Templates list
// their placeholders positionally; missing keys render as empty strings.
func Render(templateKey string, tag language.Tag, params map[string]string) string {
    variants, ok := templates[templateKey]
    if !ok {
        return templateKey
    }

    _, index, _ := matcher.Match(tag)
    resolved := []language.Tag{language.English, language.Arabic}[index]

    pattern, ok := variants[resolved]
    if !ok {
        pattern = variants[language.English]
    }

    switch templateKey {
    case TemplateCodeDelivered:
        return fmt.Sprintf(pattern, params["service"], params["phone"], params["code"], params["amount"], params["new_balance"])
    case TemplateReservationExpired:
        return fmt.Sprintf(pattern, params["service"])
    case TemplateInsufficientBalance:
        return fmt.Sprintf(pattern, params["service"], params["phone"], params["price"])
    case TemplateLowStockAlert:
        return fmt.Sprintf(pattern, params["service"])
    default:
        return pattern
    }
}

