package export

import (
	"io"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/chanzer0/tififn-times/internal/model"
)

// SheetName is the worksheet holding exported logs.
const SheetName = "Dispatch Logs"

var xlsxHeader = []string{
	"ID", "CFS Number", "Date", "Time", "Address", "Apt/Suite", "Call Type",
	"Agency", "Disposition", "Incident Number", "Latitude", "Longitude",
	"Geocoded Address", "Geocoded At",
}

// WriteXLSX writes logs as one worksheet with a header row.
func WriteXLSX(w io.Writer, logs []model.LogRecord) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet(SheetName)
	if err != nil {
		return eris.Wrap(err, "xlsx: add sheet")
	}

	header := sheet.AddRow()
	for _, h := range xlsxHeader {
		header.AddCell().SetString(h)
	}

	for i := range logs {
		rec := &logs[i]
		row := sheet.AddRow()
		row.AddCell().SetInt64(rec.ID)
		row.AddCell().SetInt64(rec.CaseNumber)
		row.AddCell().SetString(rec.LogDate.Format(model.DateLayout))
		row.AddCell().SetString(timeText(rec.LogTime))
		row.AddCell().SetString(deref(rec.Address))
		row.AddCell().SetString(deref(rec.AptSuite))
		row.AddCell().SetString(deref(rec.CallType))
		row.AddCell().SetString(deref(rec.Agency))
		row.AddCell().SetString(deref(rec.Disposition))
		row.AddCell().SetString(deref(rec.IncidentNumber))
		floatCell(row, rec.Latitude)
		floatCell(row, rec.Longitude)
		row.AddCell().SetString(deref(rec.GeocodedAddress))
		if rec.GeocodedAt != nil {
			row.AddCell().SetString(rec.GeocodedAt.UTC().Format(time.RFC3339))
		} else {
			row.AddCell()
		}
	}

	return eris.Wrap(f.Write(w), "xlsx: write")
}

func floatCell(row *xlsx.Row, v *float64) {
	c := row.AddCell()
	if v != nil {
		c.SetFloat(*v)
	}
}
