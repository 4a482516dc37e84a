package scrape

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func page(rows ...string) string {
	return `<html><body>
<div class="art-Post"><div class="art-PostContent">
<table><tr><td>
<table>` + strings.Join(rows, "\n") + `</table>
</td></tr></table>
</div></div>
</body></html>`
}

func row(block0, block1, block2 string) string {
	return "<tr><td>CFS #<br>Address<br>Call Type</td><td>" + block0 +
		"</td><td>Time<br>Apt/Suite</td><td>" + block1 +
		"</td><td>Agency<br>Disposition<br>Incident #</td><td>" + block2 + "</td></tr>"
}

func TestParse_SingleRow(t *testing.T) {
	recs, err := ParseString(page(row("12345<br>123 Main St<br>TRAFFIC STOP", "14:30", "ICPD<br>CLEARED<br>24-001")))
	require.NoError(t, err)
	require.Len(t, recs, 1)

	r := recs[0]
	assert.EqualValues(t, 12345, r.CaseNumber)
	require.NotNil(t, r.Address)
	assert.Equal(t, "123 Main St", *r.Address)
	assert.Equal(t, "TRAFFIC STOP", *r.CallType)
	require.NotNil(t, r.LogTime)
	assert.Equal(t, "14:30:00", r.LogTime.String())
	assert.Nil(t, r.AptSuite)
	assert.Equal(t, "ICPD", *r.Agency)
	assert.Equal(t, "CLEARED", *r.Disposition)
	assert.Equal(t, "24-001", *r.IncidentNumber)
	assert.False(t, r.Geocoded())
}

func TestParse_TwelveHourTimeAndApt(t *testing.T) {
	recs, err := ParseString(page(row("7<br>9 Oak St<br>ALARM", " 2:05 pm <br> Apt 4 ", "JCSO")))
	require.NoError(t, err)
	require.Len(t, recs, 1)
	require.NotNil(t, recs[0].LogTime)
	assert.Equal(t, "14:05:00", recs[0].LogTime.String())
	assert.Equal(t, "Apt 4", *recs[0].AptSuite)
	assert.Nil(t, recs[0].Disposition)
	assert.Nil(t, recs[0].IncidentNumber)
}

func TestParse_BadTimeKeepsRow(t *testing.T) {
	recs, err := ParseString(page(row("99<br>1 Elm St<br>CHECK", "sometime", "ICPD")))
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Nil(t, recs[0].LogTime)
	assert.Equal(t, "1 Elm St", *recs[0].Address)
}

func TestParse_DropsMalformedRows(t *testing.T) {
	recs, err := ParseString(page(
		"<tr><td>header</td><td>only</td></tr>",
		row("ABC<br>1 Elm St<br>CHECK", "10:00", "ICPD"),
		row("", "10:00", "ICPD"),
		row("0<br>1 Elm St", "10:00", "ICPD"),
		row("555<br>2 Elm St<br>CHECK", "10:00", "ICPD"),
	))
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.EqualValues(t, 555, recs[0].CaseNumber)
}

func TestParse_MissingMarkupIsNoData(t *testing.T) {
	for name, doc := range map[string]string{
		"empty":        "",
		"no container": "<html><body><table><tr><td>x</td></tr></table></body></html>",
		"no nested":    `<div class="art-PostContent"><table><tr><td>x</td></tr></table></div>`,
		"no table":     `<div class="art-PostContent"><p>No calls</p></div>`,
	} {
		t.Run(name, func(t *testing.T) {
			recs, err := ParseString(doc)
			require.NoError(t, err)
			assert.Empty(t, recs)
		})
	}
}

func TestParse_AddressOnlyBlock(t *testing.T) {
	recs, err := ParseString(page(row("321", "", "")))
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Nil(t, recs[0].Address)
	assert.Nil(t, recs[0].CallType)
	assert.Nil(t, recs[0].LogTime)
	assert.Nil(t, recs[0].Agency)
}
