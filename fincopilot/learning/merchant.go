package learning

import (
	"regexp"
	"strings"
	"sync"
	"unicode"

	radix "github.com/armon/go-radix"

	"github.com/ZanzyTHEbar/fincopilot/fincopilot/textnorm"
)

type merchantPattern struct {
	re  *regexp.Regexp
	key string
}

// Brand patterns run against the folded concept, most specific first.
var merchantPatterns = []merchantPattern{
	{regexp.MustCompile(`\buber\s*eats\b`), "ubereats"},
	{regexp.MustCompile(`\bjust\s*eat\b`), "justeat"},
	{regexp.MustCompile(`\bel\s+corte\s+ingles\b`), "elcorteingles"},
	{regexp.MustCompile(`\bmc\s*donald'?s?\b`), "mcdonalds"},
	{regexp.MustCompile(`\bburger\s*king\b`), "burgerking"},
	{regexp.MustCompile(`\bdisney\s*(\+|plus)`), "disneyplus"},
	{regexp.MustCompile(`\bprime\s*video\b`), "amazon"},
	{regexp.MustCompile(`\bamazon\b`), "amazon"},
	{regexp.MustCompile(`\bmercadona\b`), "mercadona"},
	{regexp.MustCompile(`\bcarrefour\b`), "carrefour"},
	{regexp.MustCompile(`\blidl\b`), "lidl"},
	{regexp.MustCompile(`\baldi\b`), "aldi"},
	{regexp.MustCompile(`\beroski\b`), "eroski"},
	{regexp.MustCompile(`\bnetflix\b`), "netflix"},
	{regexp.MustCompile(`\bspotify\b`), "spotify"},
	{regexp.MustCompile(`\bhbo\b`), "hbo"},
	{regexp.MustCompile(`\bglovo\b`), "glovo"},
	{regexp.MustCompile(`\bcabify\b`), "cabify"},
	{regexp.MustCompile(`\buber\b`), "uber"},
	{regexp.MustCompile(`\brenfe\b`), "renfe"},
	{regexp.MustCompile(`\brepsol\b`), "repsol"},
	{regexp.MustCompile(`\bcepsa\b`), "cepsa"},
	{regexp.MustCompile(`\biberdrola\b`), "iberdrola"},
	{regexp.MustCompile(`\bendesa\b`), "endesa"},
	{regexp.MustCompile(`\bmovistar\b`), "movistar"},
	{regexp.MustCompile(`\bvodafone\b`), "vodafone"},
	{regexp.MustCompile(`\bzara\b`), "zara"},
	{regexp.MustCompile(`\bikea\b`), "ikea"},
	{regexp.MustCompile(`\bdecathlon\b`), "decathlon"},
	{regexp.MustCompile(`\bstarbucks\b`), "starbucks"},
}

// Abbreviations seen on card statements, matched as token prefixes.
var defaultAliases = map[string]string{
	"amzn":  "amazon",
	"mcd":   "mcdonalds",
	"eci":   "elcorteingles",
	"bk":    "burgerking",
	"mdona": "mercadona",
	"crf":   "carrefour",
}

// Words that never identify a merchant.
var stopwords = map[string]bool{
	"compra": true, "compras": true, "pago": true, "gasto": true, "cargo": true,
	"ticket": true, "factura": true, "recibo": true, "tienda": true, "super": true,
	"supermercado": true, "semanal": true, "mensual": true, "diario": true,
	"del": true, "los": true, "las": true, "con": true, "para": true, "por": true,
	"una": true, "unos": true, "unas": true, "the": true, "and": true, "from": true,
	"payment": true, "purchase": true, "card": true, "tarjeta": true,
}

// MerchantExtractor derives a merchant key from free-text concepts.
type MerchantExtractor struct {
	mu      sync.RWMutex
	aliases *radix.Tree
}

// NewMerchantExtractor loads the default alias table.
func NewMerchantExtractor() *MerchantExtractor {
	e := &MerchantExtractor{aliases: radix.New()}
	for alias, key := range defaultAliases {
		e.aliases.Insert(alias, key)
	}
	return e
}

// AddAlias maps an abbreviation to a merchant key.
func (e *MerchantExtractor) AddAlias(alias, key string) {
	alias, key = textnorm.Fold(alias), textnorm.Fold(key)
	if alias == "" || key == "" {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.aliases.Insert(alias, key)
}

// Extract returns the merchant key for concept, or "" when none can be found.
func (e *MerchantExtractor) Extract(concept string) string {
	folded := textnorm.Fold(concept)
	if folded == "" {
		return ""
	}

	for _, p := range merchantPatterns {
		if p.re.MatchString(folded) {
			return p.key
		}
	}

	tokens := strings.FieldsFunc(folded, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '.'
	})

	if key := e.lookupAlias(tokens); key != "" {
		return key
	}

	for _, tok := range tokens {
		tok = strings.Trim(tok, ".")
		if significant(tok) {
			return tok
		}
	}
	return ""
}

// lookupAlias matches a token against alias prefixes; the alias must cover the token
// up to a non-letter boundary, so "bk" matches "bk.madrid" but not "bkfast".
func (e *MerchantExtractor) lookupAlias(tokens []string) string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, tok := range tokens {
		prefix, v, ok := e.aliases.LongestPrefix(tok)
		if !ok {
			continue
		}
		rest := tok[len(prefix):]
		if rest == "" || !unicode.IsLetter(rune(rest[0])) {
			return v.(string)
		}
	}
	return ""
}

func significant(tok string) bool {
	if len([]rune(tok)) < 3 || stopwords[tok] {
		return false
	}
	return strings.ContainsFunc(tok, unicode.IsLetter)
}
