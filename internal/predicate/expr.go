package predicate

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/zclconf/go-cty/cty"
)

// ErrSyntax is wrapped by every expression compile failure.
var ErrSyntax = errors.New("invalid predicate expression")

// Expr is a predicate compiled from an expression string.
//
// Each bare word in the expression is a containment test against the
// requirement set. Words combine with and/or/not (or &&, ||, !) and
// parentheses; true and false are literals.
type Expr struct {
	source string
	expr   hclsyntax.Expression
	// words maps the bound variable name to the requirement it tests.
	words map[string]string
}

// Compile parses src into an Expr.
func Compile(src string) (*Expr, error) {
	tokens, err := tokenize(src)
	if err != nil {
		return nil, err
	}
	if len(tokens) == 0 {
		return nil, fmt.Errorf("%w: empty expression", ErrSyntax)
	}

	words := make(map[string]string)
	bound := make(map[string]string)
	parts := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		switch strings.ToLower(tok) {
		case "and", "&&":
			parts = append(parts, "&&")
		case "or", "||":
			parts = append(parts, "||")
		case "not", "!":
			parts = append(parts, "!")
		case "(", ")":
			parts = append(parts, tok)
		case "true", "false":
			parts = append(parts, strings.ToLower(tok))
		default:
			name, ok := bound[tok]
			if !ok {
				name = fmt.Sprintf("req%d", len(bound))
				bound[tok] = name
				words[name] = tok
			}
			parts = append(parts, name)
		}
	}

	expr, diags := hclsyntax.ParseExpression([]byte(strings.Join(parts, " ")), "predicate", hcl.InitialPos)
	if diags.HasErrors() {
		return nil, fmt.Errorf("%w %q: %s", ErrSyntax, src, diags.Error())
	}

	e := &Expr{source: src, expr: expr, words: words}

	// Type check once with every requirement absent.
	if _, err := e.eval(NewRequirements()); err != nil {
		return nil, err
	}
	return e, nil
}

// MustCompile is like Compile but panics on error.
func MustCompile(src string) *Expr {
	e, err := Compile(src)
	if err != nil {
		panic(err)
	}
	return e
}

// Eval implements Predicate. An expression that fails to evaluate is false.
func (e *Expr) Eval(reqs Requirements) bool {
	ok, err := e.eval(reqs)
	return err == nil && ok
}

// Source implements Predicate.
func (e *Expr) Source() (string, bool) {
	return e.source, true
}

// Requirements returns the requirement words the expression tests, sorted.
func (e *Expr) Requirements() []string {
	return NewRequirements(wordsOf(e.words)...).List()
}

func (e *Expr) String() string {
	return e.source
}

func (e *Expr) eval(reqs Requirements) (bool, error) {
	vars := make(map[string]cty.Value, len(e.words))
	for name, word := range e.words {
		vars[name] = cty.BoolVal(reqs.Has(word))
	}

	val, diags := e.expr.Value(&hcl.EvalContext{Variables: vars})
	if diags.HasErrors() {
		return false, fmt.Errorf("%w %q: %s", ErrSyntax, e.source, diags.Error())
	}
	if !val.IsKnown() || val.IsNull() || !val.Type().Equals(cty.Bool) {
		return false, fmt.Errorf("%w %q: result is not a boolean", ErrSyntax, e.source)
	}
	return val.True(), nil
}

func wordsOf(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for _, w := range m {
		out = append(out, w)
	}
	return out
}

// tokenize splits src into words, parentheses and operators.
func tokenize(src string) ([]string, error) {
	var tokens []string
	var word strings.Builder

	flush := func() {
		if word.Len() > 0 {
			tokens = append(tokens, word.String())
			word.Reset()
		}
	}

	runes := []rune(src)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case unicode.IsSpace(r):
			flush()
		case r == '(' || r == ')' || r == '!':
			flush()
			tokens = append(tokens, string(r))
		case r == '&' || r == '|':
			flush()
			if i+1 >= len(runes) || runes[i+1] != r {
				return nil, fmt.Errorf("%w %q: stray %q", ErrSyntax, src, r)
			}
			tokens = append(tokens, string([]rune{r, r}))
			i++
		case r == '"' || r == '\'' || r == '=' || r == '<' || r == '>' || r == '?' || r == ':':
			return nil, fmt.Errorf("%w %q: unexpected %q", ErrSyntax, src, r)
		default:
			word.WriteRune(r)
		}
	}
	flush()
	return tokens, nil
}
