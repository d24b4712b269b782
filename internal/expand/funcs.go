package expand

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/wikireader/wikireader/internal/wiki"
)

// pfContext is what a parser-function implementation gets: already-expanded
// string arguments plus enough of the Expander to look things up against
// the index or the rendering clock.
type pfContext struct {
	ctx   context.Context
	e     *Expander
	frame *Frame
}

type parserFunc func(pc *pfContext, args []string) (string, error)

// parserFuncs is the required set from §4.5 plus a representative subset
// of the arithmetic/string/URL helper functions ("equivalent to
// ParserFunctions + StringFunctions" — not the full upstream catalogue,
// which runs to dozens of rarely-used functions).
var parserFuncs = map[string]parserFunc{
	"if":         pfIf,
	"ifeq":       pfIfeq,
	"ifexist":    pfIfexist,
	"ifexpr":     pfIfexpr,
	"switch":     pfSwitch,
	"expr":       pfExpr,
	"time":       pfTime,
	"tag":        pfTag,
	"titleparts": pfTitleparts,
	"rel2abs":    pfRel2abs,
	"lc":         pfLc,
	"uc":         pfUc,
	"lcfirst":    pfLcfirst,
	"ucfirst":    pfUcfirst,
	"len":        pfLen,
	"sub":        pfSub,
	"pos":        pfPos,
	"replace":    pfReplace,
	"explode":    pfExplode,
	"urlencode":  pfUrlencode,
	"anchorencode": pfAnchorencode,
}

func arg(args []string, i int) string {
	if i < len(args) {
		return args[i]
	}
	return ""
}

func isTrue(s string) bool {
	return strings.TrimSpace(s) != ""
}

func pfIf(pc *pfContext, args []string) (string, error) {
	if isTrue(arg(args, 0)) {
		return arg(args, 1), nil
	}
	return arg(args, 2), nil
}

func pfIfeq(pc *pfContext, args []string) (string, error) {
	if strings.TrimSpace(arg(args, 0)) == strings.TrimSpace(arg(args, 1)) {
		return arg(args, 2), nil
	}
	return arg(args, 3), nil
}

func pfIfexist(pc *pfContext, args []string) (string, error) {
	title := wiki.Normalize(arg(args, 0), pc.e.nsmap)
	if pc.e.Exists(title) {
		return arg(args, 1), nil
	}
	return arg(args, 2), nil
}

func pfIfexpr(pc *pfContext, args []string) (string, error) {
	v, err := evalExpr(arg(args, 0))
	if err != nil {
		return "", err
	}
	if v != 0 {
		return arg(args, 1), nil
	}
	return arg(args, 2), nil
}

// pfSwitch implements MediaWiki's case/fallthrough semantics: a case with
// no "=" falls through (its value is supplied by the next case that does
// have one), and a trailing unlabeled argument (or one keyed "#default")
// is the default.
func pfSwitch(pc *pfContext, args []string) (string, error) {
	if len(args) == 0 {
		return "", nil
	}
	needle := strings.TrimSpace(args[0])
	rest := args[1:]

	var pendingKeys []string
	var defaultVal string
	haveDefault := false

	for i, a := range rest {
		eq := strings.IndexByte(a, '=')
		if eq < 0 {
			// A bare entry is itself a case label awaiting the next
			// labeled entry's value (fallthrough); if it's the trailing
			// argument with nothing after it, it's the default instead.
			if i == len(rest)-1 && !haveDefault {
				defaultVal, haveDefault = a, true
			}
			pendingKeys = append(pendingKeys, strings.TrimSpace(a))
			continue
		}
		key := strings.TrimSpace(a[:eq])
		val := a[eq+1:]
		if key == "#default" {
			defaultVal, haveDefault = val, true
			pendingKeys = nil
			continue
		}
		if key == needle {
			return val, nil
		}
		for _, pk := range pendingKeys {
			if pk == needle {
				return val, nil
			}
		}
		pendingKeys = nil
	}
	if haveDefault {
		return defaultVal, nil
	}
	return "", nil
}

func pfExpr(pc *pfContext, args []string) (string, error) {
	v, err := evalExpr(arg(args, 0))
	if err != nil {
		return "", err
	}
	return formatExprResult(v), nil
}

var timeLayouts = []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05", "2006-01-02", "20060102150405"}

func pfTime(pc *pfContext, args []string) (string, error) {
	format := arg(args, 0)
	ts := strings.TrimSpace(arg(args, 1))
	when := pc.e.now()
	if ts != "" && !strings.EqualFold(ts, "now") {
		parsed := false
		for _, layout := range timeLayouts {
			if t, err := time.Parse(layout, ts); err == nil {
				when, parsed = t, true
				break
			}
		}
		if !parsed {
			return "", fmt.Errorf("unrecognized timestamp %q", ts)
		}
	}
	return formatMediaWikiTime(format, when), nil
}

func formatMediaWikiTime(format string, t time.Time) string {
	var b strings.Builder
	for _, r := range format {
		switch r {
		case 'Y':
			b.WriteString(fmt.Sprintf("%04d", t.Year()))
		case 'y':
			b.WriteString(fmt.Sprintf("%02d", t.Year()%100))
		case 'm':
			b.WriteString(fmt.Sprintf("%02d", int(t.Month())))
		case 'n':
			b.WriteString(strconv.Itoa(int(t.Month())))
		case 'd':
			b.WriteString(fmt.Sprintf("%02d", t.Day()))
		case 'j':
			b.WriteString(strconv.Itoa(t.Day()))
		case 'H':
			b.WriteString(fmt.Sprintf("%02d", t.Hour()))
		case 'i':
			b.WriteString(fmt.Sprintf("%02d", t.Minute()))
		case 's':
			b.WriteString(fmt.Sprintf("%02d", t.Second()))
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// pfTag produces literal text, not a reparsed extension-tag node: the
// wikitext parser runs once, up front (C4), and C5 operates purely at the
// node level afterward, so #tag's output can't re-enter the grammar the
// way it does in a preprocessor that interleaves parsing and expansion.
func pfTag(pc *pfContext, args []string) (string, error) {
	if len(args) == 0 {
		return "", fmt.Errorf("missing tag name")
	}
	name := strings.TrimSpace(args[0])
	content := arg(args, 1)
	var attrs strings.Builder
	for _, a := range args[2:] {
		if eq := strings.IndexByte(a, '='); eq >= 0 {
			fmt.Fprintf(&attrs, " %s=%q", strings.TrimSpace(a[:eq]), a[eq+1:])
		}
	}
	return fmt.Sprintf("<%s%s>%s</%s>", name, attrs.String(), content, name), nil
}

func pfTitleparts(pc *pfContext, args []string) (string, error) {
	parts := strings.Split(arg(args, 0), "/")
	n := len(parts)
	if s := arg(args, 1); s != "" {
		if v, err := strconv.Atoi(s); err == nil && v > 0 && v < n {
			n = v
		}
	}
	offset := 0
	if s := arg(args, 2); s != "" {
		if v, err := strconv.Atoi(s); err == nil {
			offset = v
		}
	}
	if offset < 0 || offset >= len(parts) {
		return "", nil
	}
	end := offset + n
	if end > len(parts) {
		end = len(parts)
	}
	return strings.Join(parts[offset:end], "/"), nil
}

func pfRel2abs(pc *pfContext, args []string) (string, error) {
	rel := arg(args, 0)
	base := arg(args, 1)
	segs := strings.Split(base, "/")
	for _, part := range strings.Split(rel, "/") {
		switch part {
		case ".":
			// no-op
		case "..":
			if len(segs) > 0 {
				segs = segs[:len(segs)-1]
			}
		default:
			segs = append(segs, part)
		}
	}
	return strings.Join(segs, "/"), nil
}

func pfLc(pc *pfContext, args []string) (string, error) { return strings.ToLower(arg(args, 0)), nil }
func pfUc(pc *pfContext, args []string) (string, error) { return strings.ToUpper(arg(args, 0)), nil }

func pfLcfirst(pc *pfContext, args []string) (string, error) {
	s := arg(args, 0)
	if s == "" {
		return s, nil
	}
	return strings.ToLower(s[:1]) + s[1:], nil
}

func pfUcfirst(pc *pfContext, args []string) (string, error) {
	s := arg(args, 0)
	if s == "" {
		return s, nil
	}
	return strings.ToUpper(s[:1]) + s[1:], nil
}

func pfLen(pc *pfContext, args []string) (string, error) {
	return strconv.Itoa(len([]rune(arg(args, 0)))), nil
}

func pfSub(pc *pfContext, args []string) (string, error) {
	runes := []rune(arg(args, 0))
	start, _ := strconv.Atoi(arg(args, 1))
	if start < 0 {
		start = len(runes) + start
	}
	if start < 0 {
		start = 0
	}
	if start > len(runes) {
		start = len(runes)
	}
	length := len(runes) - start
	if s := arg(args, 2); s != "" {
		if v, err := strconv.Atoi(s); err == nil {
			length = v
			if length < 0 {
				length = len(runes) - start + length
			}
		}
	}
	end := start + length
	if end > len(runes) {
		end = len(runes)
	}
	if end < start {
		end = start
	}
	return string(runes[start:end]), nil
}

func pfPos(pc *pfContext, args []string) (string, error) {
	haystack, needle := arg(args, 0), arg(args, 1)
	idx := strings.Index(haystack, needle)
	if idx < 0 {
		return "", nil
	}
	return strconv.Itoa(len([]rune(haystack[:idx]))), nil
}

func pfReplace(pc *pfContext, args []string) (string, error) {
	return strings.ReplaceAll(arg(args, 0), arg(args, 1), arg(args, 2)), nil
}

func pfExplode(pc *pfContext, args []string) (string, error) {
	parts := strings.Split(arg(args, 0), arg(args, 1))
	idx, _ := strconv.Atoi(arg(args, 2))
	if idx < 0 {
		idx = len(parts) + idx
	}
	if idx < 0 || idx >= len(parts) {
		return "", nil
	}
	return parts[idx], nil
}

func pfUrlencode(pc *pfContext, args []string) (string, error) {
	return url.QueryEscape(arg(args, 0)), nil
}

func pfAnchorencode(pc *pfContext, args []string) (string, error) {
	return strings.ReplaceAll(strings.TrimSpace(arg(args, 0)), " ", "_"), nil
}
