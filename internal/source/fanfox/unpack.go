package fanfox

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/dop251/goja"
)

const scriptTimeout = 5 * time.Second

var (
	pixVar    = regexp.MustCompile(`pix\s*=\s*"(.*?)"\s*;`)
	pvalueVar = regexp.MustCompile(`pvalue\s*=\s*\[(.*?)\]\s*;`)
)

// imageLocation unpacks a chapterfun script and returns the page image URL.
func imageLocation(ctx context.Context, body []byte, scriptURL string) (string, error) {
	code, err := unpack(ctx, string(body))
	if err != nil {
		return "", &ParseError{URL: scriptURL, Field: "script", Err: err}
	}

	pix := pixVar.FindStringSubmatch(code)
	if pix == nil {
		return "", &ParseError{URL: scriptURL, Field: "pix"}
	}

	pvalue := pvalueVar.FindStringSubmatch(code)
	if pvalue == nil {
		return "", &ParseError{URL: scriptURL, Field: "pvalue"}
	}

	first := strings.TrimSpace(strings.ReplaceAll(strings.Split(pvalue[1], ",")[0], `"`, ""))
	if first == "" {
		return "", &ParseError{URL: scriptURL, Field: "pvalue"}
	}

	return "https:" + strings.TrimSpace(pix[1]) + first, nil
}

// unpack evaluates a packed "eval(function(p,a,c,k,e,d){...}(...))" payload
// and returns the source it expands to. Scripts that are not packed are
// returned unchanged.
func unpack(ctx context.Context, script string) (string, error) {
	script = strings.TrimSpace(script)
	if !strings.HasPrefix(script, "eval") {
		return script, nil
	}

	vm := goja.New()

	ctx, cancel := context.WithTimeout(ctx, scriptTimeout)
	defer cancel()

	stop := context.AfterFunc(ctx, func() {
		vm.Interrupt(ctx.Err())
	})
	defer stop()

	v, err := vm.RunString(strings.TrimPrefix(script, "eval"))
	if err != nil {
		return "", err
	}

	return v.String(), nil
}
