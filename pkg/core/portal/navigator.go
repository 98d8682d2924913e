package portal

import (
	"context"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"go.uber.org/zap"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"ans_transparency/pkg/models"
)

// DefaultQuarters is how many quarters LatestQuarters returns when asked for n <= 0.
const DefaultQuarters = 3

var (
	yearPattern    = regexp.MustCompile(`^\d{4}/?$`)
	quarterPattern = regexp.MustCompile(`([1-4])T`)
)

// Navigator walks the portal's directory listings to locate statement archives.
type Navigator struct {
	client *Client
	logger *zap.Logger
}

// NewNavigator creates a navigator on top of client.
func NewNavigator(client *Client) *Navigator {
	return &Navigator{client: client, logger: client.logger.With(zap.String("component", "portal"))}
}

// links lists a page, logging and swallowing any failure.
func (n *Navigator) links(ctx context.Context, pageURL string) []Link {
	links, err := n.client.Links(ctx, pageURL)
	if err != nil {
		n.logger.Warn("listing unavailable", zap.String("url", pageURL), zap.Error(err))
		return nil
	}
	return links
}

// FindStatementsFolder returns the URL of the financial-statements folder linked
// from baseURL, or false if no link mentions both "demonstracoes" and "contabeis".
func (n *Navigator) FindStatementsFolder(ctx context.Context, baseURL string) (string, bool) {
	for _, l := range n.links(ctx, DirURL(baseURL)) {
		name := fold(l.Name())
		if strings.Contains(name, "demonstracoes") && strings.Contains(name, "contabeis") {
			n.logger.Info("statements folder found", zap.String("url", l.URL))
			return l.URL, true
		}
	}
	n.logger.Warn("statements folder not found", zap.String("url", baseURL))
	return "", false
}

// LatestQuarters returns up to count quarter entries, newest first, walking the
// year folders below folderURL in descending order.
func (n *Navigator) LatestQuarters(ctx context.Context, folderURL string, count int) []models.QuarterFolder {
	if count <= 0 {
		count = DefaultQuarters
	}

	// 1. Year folders, newest first
	var years []Link
	for _, l := range n.links(ctx, DirURL(folderURL)) {
		if yearPattern.MatchString(l.Name()) {
			years = append(years, l)
		}
	}
	sort.SliceStable(years, func(i, j int) bool { return years[i].Name() > years[j].Name() })

	// 2. Quarter entries inside each year until count is reached
	var out []models.QuarterFolder
	for _, y := range years {
		year, err := strconv.Atoi(strings.TrimSuffix(y.Name(), "/"))
		if err != nil {
			continue
		}

		var quarters []Link
		for _, l := range n.links(ctx, DirURL(y.URL)) {
			if quarterPattern.MatchString(strings.ToUpper(l.Name())) {
				quarters = append(quarters, l)
			}
		}
		sort.SliceStable(quarters, func(i, j int) bool {
			return strings.ToUpper(quarters[i].Name()) > strings.ToUpper(quarters[j].Name())
		})

		for _, q := range quarters {
			m := quarterPattern.FindStringSubmatch(strings.ToUpper(q.Name()))
			out = append(out, models.QuarterFolder{
				Year:    year,
				Quarter: m[1] + "T",
				Name:    q.Name(),
				URL:     q.URL,
			})
			if len(out) == count {
				return out
			}
		}
	}

	if len(out) < count {
		n.logger.Warn("fewer quarters than requested", zap.Int("requested", count), zap.Int("found", len(out)))
	}
	return out
}

// fold lowercases s and strips diacritics: "Demonstrações" -> "demonstracoes".
func fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.ToLower(out)
}
