package objstore

import (
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/finlake/internal/catalog"
)

// Provenance is the typed metadata record attached to every artifact.
type Provenance struct {
	FileHash     string
	IngestTS     time.Time
	TraceID      string
	Source       catalog.DataSource
	DocumentType catalog.DocumentType
	ContentType  catalog.ContentType
	RefDate      string                  // optional
	Aggregation  catalog.AggregationType // optional
}

// Validate checks the fields every artifact must carry, excluding the hash
// and timestamp which the gateway assigns.
func (p Provenance) Validate() error {
	if p.TraceID == "" {
		return eris.New("objstore: provenance missing trace id")
	}
	if _, err := catalog.ParseDataSource(string(p.Source)); err != nil {
		return eris.Wrap(err, "objstore: provenance")
	}
	if _, err := catalog.ParseDocumentType(string(p.DocumentType)); err != nil {
		return eris.Wrap(err, "objstore: provenance")
	}
	if _, err := catalog.ParseContentType(string(p.ContentType)); err != nil {
		return eris.Wrap(err, "objstore: provenance")
	}
	if p.Aggregation != "" {
		if _, err := catalog.ParseAggregationType(string(p.Aggregation)); err != nil {
			return eris.Wrap(err, "objstore: provenance")
		}
	}
	return nil
}

// Metadata renders the provenance as object metadata.
func (p Provenance) Metadata() map[string]string {
	md := map[string]string{
		catalog.MetaFileHash:     p.FileHash,
		catalog.MetaIngestTS:     p.IngestTS.UTC().Format(time.RFC3339),
		catalog.MetaTraceID:      p.TraceID,
		catalog.MetaSource:       string(p.Source),
		catalog.MetaDocumentType: string(p.DocumentType),
		catalog.MetaContentType:  string(p.ContentType),
	}
	if p.RefDate != "" {
		md[catalog.MetaRefDate] = p.RefDate
	}
	if p.Aggregation != "" {
		md[catalog.MetaAggregationType] = string(p.Aggregation)
	}
	return md
}

// ParseProvenance reads object metadata back into a Provenance, rejecting
// records with missing required fields or unknown enumeration values.
func ParseProvenance(md map[string]string) (Provenance, error) {
	var p Provenance
	for _, k := range []string{catalog.MetaFileHash, catalog.MetaIngestTS, catalog.MetaTraceID, catalog.MetaSource, catalog.MetaDocumentType, catalog.MetaContentType} {
		if md[k] == "" {
			return p, eris.Errorf("objstore: metadata missing %q", k)
		}
	}

	ts, err := time.Parse(time.RFC3339, md[catalog.MetaIngestTS])
	if err != nil {
		return p, eris.Wrap(err, "objstore: parse ingest timestamp")
	}

	p = Provenance{
		FileHash:     md[catalog.MetaFileHash],
		IngestTS:     ts,
		TraceID:      md[catalog.MetaTraceID],
		Source:       catalog.DataSource(md[catalog.MetaSource]),
		DocumentType: catalog.DocumentType(md[catalog.MetaDocumentType]),
		ContentType:  catalog.ContentType(md[catalog.MetaContentType]),
		RefDate:      md[catalog.MetaRefDate],
		Aggregation:  catalog.AggregationType(md[catalog.MetaAggregationType]),
	}
	if err := p.Validate(); err != nil {
		return Provenance{}, err
	}
	return p, nil
}
