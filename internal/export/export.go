// Package export writes geocoded dispatch logs to spreadsheet and GIS formats.
package export

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/chanzer0/tififn-times/internal/model"
)

// Format is an output file format.
type Format string

// Supported formats.
const (
	FormatXLSX      Format = "xlsx"
	FormatShapefile Format = "shp"
)

// ParseFormat validates a format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatXLSX, FormatShapefile:
		return f, nil
	default:
		return "", eris.Errorf("export: unknown format %q (want xlsx or shp)", s)
	}
}

// Source lists geocoded logs in an inclusive date range.
type Source interface {
	ListGeocoded(ctx context.Context, start, end time.Time) ([]model.LogRecord, error)
}

// Export writes the geocoded logs dated start..end to out and returns how
// many were written.
func Export(ctx context.Context, src Source, format Format, start, end time.Time, out string) (int, error) {
	if start.After(end) {
		return 0, eris.Errorf("export: start %s is after end %s",
			start.Format(model.DateLayout), end.Format(model.DateLayout))
	}
	logs, err := src.ListGeocoded(ctx, start, end)
	if err != nil {
		return 0, eris.Wrap(err, "export: list geocoded logs")
	}

	var n int
	switch format {
	case FormatXLSX:
		n, err = writeXLSXFile(out, logs)
	case FormatShapefile:
		n, err = WriteShapefile(out, logs)
	default:
		return 0, eris.Errorf("export: unknown format %q", format)
	}
	if err != nil {
		return 0, err
	}

	zap.L().Info("export complete",
		zap.String("format", string(format)),
		zap.String("path", out),
		zap.Int("records", n),
	)
	return n, nil
}

func writeXLSXFile(path string, logs []model.LogRecord) (int, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, eris.Wrapf(err, "export: create %s", path)
	}
	if err := WriteXLSX(f, logs); err != nil {
		f.Close() //nolint:errcheck
		return 0, err
	}
	if err := f.Close(); err != nil {
		return 0, eris.Wrapf(err, "export: close %s", path)
	}
	return len(logs), nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func timeText(t *model.TimeOfDay) string {
	if t == nil {
		return ""
	}
	return t.String()
}
