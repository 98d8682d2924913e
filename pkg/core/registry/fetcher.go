// Package registry downloads the ANS registry of active health-plan operators
// and maps its drifting column names onto canonical fields.
package registry

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"path"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"ans_transparency/pkg/core/logging"
	"ans_transparency/pkg/core/portal"
	"ans_transparency/pkg/core/tabular"
)

var (
	// ErrTryNext is returned by a Strategy that found nothing it can use.
	ErrTryNext = eris.New("registry: strategy not applicable")
	// ErrRegistryUnavailable means no strategy produced a usable registry table.
	ErrRegistryUnavailable = eris.New("registry: unavailable")
)

// Client is the subset of the portal client used here.
type Client interface {
	Get(ctx context.Context, url string) ([]byte, error)
	Links(ctx context.Context, pageURL string) ([]portal.Link, error)
}

// Strategy tries one way of obtaining the registry from the listing links.
type Strategy interface {
	Name() string
	Fetch(ctx context.Context, links []portal.Link) (*tabular.Table, error)
}

// DirectFileStrategy downloads the newest CSV listed on the page.
type DirectFileStrategy struct {
	Client Client
}

func (DirectFileStrategy) Name() string { return "csv" }

func (s DirectFileStrategy) Fetch(ctx context.Context, links []portal.Link) (*tabular.Table, error) {
	csvs := withExt(links, ".csv")
	if len(csvs) == 0 {
		return nil, ErrTryNext
	}
	sort.SliceStable(csvs, func(i, j int) bool { return csvs[i].Href > csvs[j].Href })

	body, err := s.Client.Get(ctx, csvs[0].URL)
	if err != nil {
		return nil, err
	}
	return tabular.Read(bytes.NewReader(body), tabular.Latin1)
}

// ArchiveStrategy downloads the first zip listed and reads the first CSV inside.
type ArchiveStrategy struct {
	Client Client
}

func (ArchiveStrategy) Name() string { return "zip" }

func (s ArchiveStrategy) Fetch(ctx context.Context, links []portal.Link) (*tabular.Table, error) {
	zips := withExt(links, ".zip")
	if len(zips) == 0 {
		return nil, ErrTryNext
	}

	body, err := s.Client.Get(ctx, zips[0].URL)
	if err != nil {
		return nil, err
	}
	zr, err := zip.NewReader(bytes.NewReader(body), int64(len(body)))
	if err != nil {
		return nil, eris.Wrap(err, "registry: open zip")
	}
	for _, f := range zr.File {
		if !strings.EqualFold(path.Ext(f.Name), ".csv") {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, eris.Wrapf(err, "registry: open %s", f.Name)
		}
		defer rc.Close()
		return tabular.Read(rc, tabular.Latin1)
	}
	return nil, ErrTryNext
}

func withExt(links []portal.Link, ext string) []portal.Link {
	var out []portal.Link
	for _, l := range links {
		if strings.HasSuffix(strings.ToLower(l.Href), ext) {
			out = append(out, l)
		}
	}
	return out
}

// Fetcher runs its strategies in order against the registry listing page.
type Fetcher struct {
	client     Client
	url        string
	strategies []Strategy
	logger     *zap.Logger
}

// NewFetcher creates a fetcher that tries the direct CSV first and then the archive.
func NewFetcher(client Client, registryURL string, logger *zap.Logger) *Fetcher {
	return &Fetcher{
		client: client,
		url:    portal.DirURL(registryURL),
		strategies: []Strategy{
			DirectFileStrategy{Client: client},
			ArchiveStrategy{Client: client},
		},
		logger: logging.OrNop(logger).With(zap.String("component", "registry")),
	}
}

// WithStrategies replaces the strategy list.
func (f *Fetcher) WithStrategies(s ...Strategy) *Fetcher {
	f.strategies = s
	return f
}

// Fetch returns the raw registry table. Every failure is reported as ErrRegistryUnavailable.
func (f *Fetcher) Fetch(ctx context.Context) (*tabular.Table, error) {
	links, err := f.client.Links(ctx, f.url)
	if err != nil {
		return nil, eris.Wrap(ErrRegistryUnavailable, err.Error())
	}

	for _, s := range f.strategies {
		tbl, err := s.Fetch(ctx, links)
		if errors.Is(err, ErrTryNext) {
			f.logger.Debug("strategy skipped", zap.String("strategy", s.Name()))
			continue
		}
		if err != nil {
			f.logger.Error("strategy failed", zap.String("strategy", s.Name()), zap.Error(err))
			return nil, eris.Wrap(ErrRegistryUnavailable, err.Error())
		}
		if tbl.Len() == 0 {
			return nil, eris.Wrap(ErrRegistryUnavailable, "registry table is empty")
		}
		f.logger.Info("registry downloaded",
			zap.String("strategy", s.Name()),
			zap.Int("rows", tbl.Len()),
			zap.Int("skipped", tbl.Skipped),
		)
		return tbl, nil
	}
	return nil, eris.Wrap(ErrRegistryUnavailable, "no csv or zip listed at "+f.url)
}
