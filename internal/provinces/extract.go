package provinces

import (
	"context"
	"regexp"
	"strings"

	"github.com/ristrutturiamolo/callpilot/pkg/logging"
)

// Guesser asks a language model for the province code of an address. It is
// the last-resort strategy and its answer is still validated against the
// code set.
type Guesser interface {
	GuessProvince(ctx context.Context, address string) (string, error)
}

var (
	codeRe        = regexp.MustCompile(`\b([A-Z]{2})\b`)
	zipRe         = regexp.MustCompile(`\d{5}`)
	placeholderRe = regexp.MustCompile(`(?i)follow-?up call|address tbd|indirizzo da definire|da compilare`)
)

// Extractor resolves an Italian address to a 2-letter province code using
// three strategies in order: direct code match, ZIP lookup, LLM guess.
type Extractor struct {
	zips   *ZipCache
	llm    Guesser
	logger *logging.Logger
}

// NewExtractor wires the strategies together. zips and llm may be nil; the
// corresponding strategy is then skipped.
func NewExtractor(zips *ZipCache, llm Guesser, logger *logging.Logger) *Extractor {
	if logger == nil {
		logger = logging.Default()
	}
	return &Extractor{zips: zips, llm: llm, logger: logger}
}

// Extract returns the province code for the address, or "" when it cannot
// be determined. Placeholder addresses short-circuit to "".
func (e *Extractor) Extract(ctx context.Context, address string) string {
	address = strings.TrimSpace(address)
	if address == "" || placeholderRe.MatchString(address) {
		return ""
	}

	if code := extractDirect(address); code != "" {
		return code
	}

	if e.zips != nil {
		for _, zip := range zipRe.FindAllString(address, -1) {
			code, err := e.zips.Lookup(ctx, zip)
			if err != nil {
				e.logger.Warn("zip lookup failed", "zip", zip, "error", err)
				break
			}
			if code != "" {
				return code
			}
		}
	}

	if e.llm != nil {
		code, err := e.llm.GuessProvince(ctx, address)
		if err != nil {
			e.logger.Warn("llm province guess failed", "error", err)
			return ""
		}
		code = strings.ToUpper(strings.TrimSpace(code))
		if IsValidCode(code) {
			return code
		}
	}
	return ""
}

// extractDirect scans for a standalone 2-letter uppercase token that is a
// known province code, e.g. the "(RM)" suffix of a postal address.
func extractDirect(address string) string {
	for _, m := range codeRe.FindAllString(address, -1) {
		if IsValidCode(m) {
			return m
		}
	}
	return ""
}
