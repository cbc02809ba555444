package cvm

import (
	"context"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/finlake/internal/catalog"
	"github.com/sells-group/finlake/internal/fetcher"
	"github.com/sells-group/finlake/internal/objstore"
)

// ErrNoNewData is returned by Retrieve when every archive it would download
// is already in bronze/landing.
var ErrNoNewData = eris.New("cvm: no new data")

// YearPlaceholder is substituted with the filing year in Dataset.DownloadURL.
const YearPlaceholder = "{year}"

// Dataset describes one CVM filing family on the open data portal.
type Dataset struct {
	Doc         catalog.DocumentType
	LandingURL  string
	DownloadURL string
	FilePrefix  string
}

// ArchiveURL returns the download URL for year.
func (d Dataset) ArchiveURL(year int) string {
	return strings.ReplaceAll(d.DownloadURL, YearPlaceholder, strconv.Itoa(year))
}

// DefaultDatasets returns the ITR and DFP datasets on dados.cvm.gov.br.
func DefaultDatasets() []Dataset {
	return []Dataset{
		{
			Doc:         catalog.DocITR,
			LandingURL:  "https://dados.cvm.gov.br/dataset/cia_aberta-doc-itr",
			DownloadURL: "https://dados.cvm.gov.br/dados/CIA_ABERTA/DOC/ITR/DADOS/itr_cia_aberta_{year}.zip",
			FilePrefix:  "itr_cia_aberta",
		},
		{
			Doc:         catalog.DocDFP,
			LandingURL:  "https://dados.cvm.gov.br/dataset/cia_aberta-doc-dfp",
			DownloadURL: "https://dados.cvm.gov.br/dados/CIA_ABERTA/DOC/DFP/DADOS/dfp_cia_aberta_{year}.zip",
			FilePrefix:  "dfp_cia_aberta",
		},
	}
}

// Result is the outcome of a retrieval cycle.
type Result struct {
	RawKeys     []string
	NewArchives []string
	LastUpdate  time.Time
}

// Retriever moves CVM archives into bronze/landing and their CSV entries
// into bronze/raw.
type Retriever struct {
	gw       *objstore.Gateway
	fetch    fetcher.Fetcher
	datasets []Dataset
	now      func() time.Time
	log      *zap.Logger
}

// NewRetriever creates a Retriever over the given datasets.
func NewRetriever(gw *objstore.Gateway, f fetcher.Fetcher, datasets []Dataset) *Retriever {
	return &Retriever{
		gw:       gw,
		fetch:    f,
		datasets: datasets,
		now:      time.Now,
		log:      zap.L().With(zap.String("component", "cvm.retriever")),
	}
}

// RawPrefix is the bronze/raw folder holding doc's CSV files.
func RawPrefix(doc catalog.DocumentType) string {
	return catalog.Key(catalog.BronzeRaw, catalog.SourceCVM, doc) + "/"
}

// Retrieve fetches the archives of every dataset for years. DFP is skipped
// for the current calendar year because it is not published until the
// following one. When at least one archive is new, the returned raw key set
// covers every CSV in the datasets' raw folders, not just the new ones.
func (r *Retriever) Retrieve(ctx context.Context, years []int, traceID string) (*Result, error) {
	res := &Result{}
	currentYear := r.now().In(SaoPaulo).Year()

	for _, ds := range r.datasets {
		var (
			stamp   time.Time
			checked bool
		)
		for _, year := range years {
			if ds.Doc == catalog.DocDFP && year >= currentYear {
				r.log.Debug("skipping dfp for current year", zap.Int("year", year))
				continue
			}
			if !checked {
				t, err := r.lastUpdate(ctx, ds)
				if err != nil {
					return nil, err
				}
				stamp, checked = t, true
				if stamp.After(res.LastUpdate) {
					res.LastUpdate = stamp
				}
			}

			key, fresh, err := r.retrieveArchive(ctx, ds, year, stamp, traceID)
			if err != nil {
				return nil, err
			}
			if fresh {
				res.NewArchives = append(res.NewArchives, key)
			}
		}
	}

	if len(res.NewArchives) == 0 {
		r.log.Info("no new archives on the portal")
		return res, ErrNoNewData
	}

	for _, ds := range r.datasets {
		keys, err := r.gw.List(ctx, RawPrefix(ds.Doc))
		if err != nil {
			return nil, eris.Wrapf(err, "cvm: list raw %s", ds.Doc)
		}
		for _, k := range keys {
			if strings.HasSuffix(strings.ToLower(k), ".csv") {
				res.RawKeys = append(res.RawKeys, k)
			}
		}
	}
	sort.Strings(res.RawKeys)

	r.log.Info("retrieval complete",
		zap.Int("new_archives", len(res.NewArchives)),
		zap.Int("raw_files", len(res.RawKeys)),
	)
	return res, nil
}

func (r *Retriever) lastUpdate(ctx context.Context, ds Dataset) (time.Time, error) {
	page, err := r.fetch.DownloadBytes(ctx, ds.LandingURL)
	if err != nil {
		return time.Time{}, eris.Wrapf(err, "cvm: fetch landing page %s", ds.LandingURL)
	}
	t, err := ParseLastUpdate(page)
	if err != nil {
		return time.Time{}, eris.Wrapf(err, "cvm: %s landing page", ds.Doc)
	}
	return t, nil
}

// retrieveArchive stores one year's archive and its entries. An archive that
// already landed is extracted again so raw entries missing after an earlier
// failure get written. fresh is true when the archive or any raw entry was
// newly written.
func (r *Retriever) retrieveArchive(ctx context.Context, ds Dataset, year int, stamp time.Time, traceID string) (string, bool, error) {
	name := ds.FilePrefix + "-" + strconv.Itoa(year) + "-" + stamp.Format(StampLayout) + ".zip"
	key := catalog.Key(catalog.BronzeLanding, catalog.SourceCVM, ds.Doc, name)
	log := r.log.With(zap.String("dataset", string(ds.Doc)), zap.Int("year", year))
	refDate := stamp.Format(StampLayout)

	exists, err := r.gw.Exists(ctx, key)
	if err != nil {
		return "", false, eris.Wrapf(err, "cvm: check %s", key)
	}
	if exists {
		log.Info("archive already landed", zap.String("key", key))
		written, err := r.extract(ctx, ds, key, refDate, traceID)
		if err != nil {
			return "", false, err
		}
		if written > 0 {
			log.Warn("restored raw entries from landed archive",
				zap.String("key", key),
				zap.Int("written", written),
			)
		}
		return key, written > 0, nil
	}

	url := ds.ArchiveURL(year)
	log.Info("downloading archive", zap.String("url", url))
	data, err := r.fetch.DownloadBytes(ctx, url)
	if err != nil {
		return "", false, eris.Wrapf(err, "cvm: download %s", url)
	}

	put, err := r.gw.Put(ctx, key, data, objstore.Provenance{
		TraceID:      traceID,
		Source:       catalog.SourceCVM,
		DocumentType: ds.Doc,
		ContentType:  catalog.ContentZIP,
		RefDate:      refDate,
	})
	if err != nil {
		return "", false, err
	}

	written, err := r.extract(ctx, ds, put.Key, refDate, traceID)
	if err != nil {
		return "", false, err
	}
	log.Info("archive extracted",
		zap.String("key", put.Key),
		zap.Int("written", written),
	)
	return key, true, nil
}

// extract writes every entry of the stored archive under the raw prefix and
// returns how many were not already present.
func (r *Retriever) extract(ctx context.Context, ds Dataset, archiveKey, refDate, traceID string) (int, error) {
	stored, _, err := r.gw.Get(ctx, archiveKey)
	if err != nil {
		return 0, err
	}
	entries, err := fetcher.ExtractZIPBytes(stored)
	if err != nil {
		return 0, eris.Wrapf(err, "cvm: unzip %s", archiveKey)
	}

	written := 0
	for _, e := range entries {
		rawKey := path.Join(catalog.Key(catalog.BronzeRaw, catalog.SourceCVM, ds.Doc), e.Name)
		res, err := r.gw.Put(ctx, rawKey, e.Data, objstore.Provenance{
			TraceID:      traceID,
			Source:       catalog.SourceCVM,
			DocumentType: ds.Doc,
			ContentType:  catalog.ContentCSV,
			RefDate:      refDate,
		})
		if err != nil {
			return 0, err
		}
		if res.Written {
			written++
		}
	}
	return written, nil
}
