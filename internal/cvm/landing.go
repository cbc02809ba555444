package cvm

import (
	"bytes"
	"regexp"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"
)

// ErrLastUpdateNotFound is returned when a landing page carries no
// "Última Atualização" timestamp.
var ErrLastUpdateNotFound = eris.New("cvm: last update timestamp not found")

// StampLayout formats the last update time inside landing keys and the
// enr_last_updated_date column.
const StampLayout = "2006-01-02T15-04-05"

var isoStamp = regexp.MustCompile(`\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}(?:\.\d+)?(?:[+-]\d{2}:?\d{2}|Z)?`)

var stampLayouts = []string{
	"2006-01-02T15:04:05.999999999Z0700",
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
}

// SaoPaulo is the timezone CVM publishes in.
var SaoPaulo = mustLoadLocation("America/Sao_Paulo")

func mustLoadLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(err)
	}
	return loc
}

// ParseLastUpdate extracts the dataset's last update time from a CKAN
// landing page. It prefers the span in the "Última Atualização" table row,
// falls back to the first automatic-local-datetime span, and reads the
// data-datetime attribute before the visible text.
func ParseLastUpdate(html []byte) (time.Time, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return time.Time{}, eris.Wrap(err, "cvm: parse landing page")
	}

	var span *goquery.Selection
	doc.Find("th").EachWithBreak(func(_ int, th *goquery.Selection) bool {
		if !strings.Contains(th.Text(), "Última Atualização") {
			return true
		}
		if s := th.Closest("tr").Find("span.automatic-local-datetime").First(); s.Length() > 0 {
			span = s
			return false
		}
		return true
	})
	if span == nil {
		span = doc.Find("span.automatic-local-datetime").First()
	}
	if span.Length() == 0 {
		return time.Time{}, ErrLastUpdateNotFound
	}

	text, ok := span.Attr("data-datetime")
	if ok {
		text = strings.TrimSpace(text)
	} else {
		text = strings.TrimSpace(span.Text())
		if m := isoStamp.FindString(text); m != "" {
			text = m
		}
	}

	for _, layout := range stampLayouts {
		if t, err := time.Parse(layout, text); err == nil {
			return t.In(SaoPaulo), nil
		}
	}
	return time.Time{}, eris.Errorf("cvm: unrecognized last update timestamp %q", text)
}
