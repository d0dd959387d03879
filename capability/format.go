package capability

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
	"golang.org/x/text/unicode/norm"
)

// Format grants locale-aware number formatting. Engines have no Intl, so
// components that want "1,234.5" ask the host.
type Format struct {
	locale language.Tag
}

// NewFormat returns a formatter defaulting to locale. An unparseable locale
// falls back to English.
func NewFormat(locale string) *Format {
	tag, err := language.Parse(locale)
	if err != nil {
		tag = language.English
	}
	return &Format{locale: tag}
}

func (f *Format) Module() Module {
	return Module{
		"number":    Func(f.Number),
		"percent":   Func(f.Percent),
		"normalize": Func(f.Normalize),
	}
}

func (f *Format) printer(args map[string]any) *message.Printer {
	tag := f.locale
	if s, ok := args["locale"].(string); ok && s != "" {
		if t, err := language.Parse(s); err == nil {
			tag = t
		}
	}
	return message.NewPrinter(tag)
}

// Number formats args.value with grouping. args.decimals caps the fraction
// digits.
func (f *Format) Number(ctx context.Context, args map[string]any) (any, error) {
	v, ok := toFloat(args["value"])
	if !ok {
		return nil, errors.New("numeric value required")
	}
	var opts []number.Option
	if d, ok := toFloat(args["decimals"]); ok {
		if d < 0 || d > 20 {
			return nil, fmt.Errorf("decimals out of range: %v", d)
		}
		opts = append(opts, number.MaxFractionDigits(int(d)))
	}
	return f.printer(args).Sprint(number.Decimal(v, opts...)), nil
}

// Percent formats args.value (a ratio, 0.25 for 25%).
func (f *Format) Percent(ctx context.Context, args map[string]any) (any, error) {
	v, ok := toFloat(args["value"])
	if !ok {
		return nil, errors.New("numeric value required")
	}
	return f.printer(args).Sprint(number.Percent(v)), nil
}

// Normalize returns args.text in Unicode NFC.
func (f *Format) Normalize(ctx context.Context, args map[string]any) (any, error) {
	s, ok := args["text"].(string)
	if !ok {
		return nil, errors.New("text required")
	}
	return norm.NFC.String(s), nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
