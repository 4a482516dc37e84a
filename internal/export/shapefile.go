package export

import (
	"errors"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"

	"github.com/chanzer0/tififn-times/internal/model"
)

// wgs84 is the ESRI projection text for EPSG:4326.
const wgs84 = `GEOGCS["GCS_WGS_1984",DATUM["D_WGS_1984",SPHEROID["WGS_1984",6378137.0,298.257223563]],PRIMEM["Greenwich",0.0],UNIT["Degree",0.0174532925199433]]`

var shpFields = []shp.Field{
	shp.NumberField("CFS", 12),
	shp.DateField("DATE"),
	shp.StringField("TIME", 8),
	shp.StringField("CALL_TYPE", 80),
	shp.StringField("AGENCY", 40),
	shp.StringField("ADDRESS", 120),
	shp.StringField("GEO_ADDR", 254),
}

// WriteShapefile writes every log with coordinates as a POINT feature
// (x = longitude, y = latitude) to path, plus the .shx, .dbf and .prj
// companions. Logs without coordinates are skipped. It returns the number
// of features written.
func WriteShapefile(path string, logs []model.LogRecord) (int, error) {
	if !strings.HasSuffix(strings.ToLower(path), ".shp") {
		path += ".shp"
	}
	base := path[:len(path)-len(".shp")]

	w, err := shp.Create(path, shp.POINT)
	if err != nil {
		return 0, eris.Wrapf(err, "shapefile: create %s", path)
	}
	if err := w.SetFields(shpFields); err != nil {
		w.Close()
		return 0, eris.Wrap(err, "shapefile: set fields")
	}

	var n int
	for i := range logs {
		rec := &logs[i]
		if !rec.Geocoded() {
			continue
		}
		row := int(w.Write(&shp.Point{X: *rec.Longitude, Y: *rec.Latitude}))
		attrs := []any{
			int(rec.CaseNumber),
			rec.LogDate.Format("20060102"),
			timeText(rec.LogTime),
			deref(rec.CallType),
			deref(rec.Agency),
			deref(rec.Address),
			deref(rec.GeocodedAddress),
		}
		for field, v := range attrs {
			if s, ok := v.(string); ok {
				v = fit(s, shpFields[field].Size)
			}
			if err := w.WriteAttribute(row, field, v); err != nil {
				w.Close()
				return n, eris.Wrapf(err, "shapefile: write attribute %s", shpFields[field])
			}
		}
		n++
	}
	w.Close()

	// go-shp v0.1.1 names the attribute table <base>dbf; readers expect <base>.dbf.
	if err := os.Rename(base+"dbf", base+".dbf"); err != nil && !errors.Is(err, os.ErrNotExist) {
		return n, eris.Wrap(err, "shapefile: move attribute table")
	}
	if err := os.WriteFile(base+".prj", []byte(wgs84), 0o644); err != nil {
		return n, eris.Wrap(err, "shapefile: write projection")
	}
	return n, nil
}

// fit truncates s to at most size bytes without splitting a UTF-8 sequence.
func fit(s string, size uint8) string {
	if len(s) <= int(size) {
		return s
	}
	s = s[:size]
	for len(s) > 0 && !utf8.ValidString(s) {
		s = s[:len(s)-1]
	}
	return s
}
