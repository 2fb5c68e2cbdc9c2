package importer

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vertica-tools/vload/pkg/errors"
)

func TestCSVReaderMapsRowsByHeader(t *testing.T) {
	r, err := NewCSVReader(strings.NewReader(
		"AccountCurrencyCode,Clicks\nEUR,12\nUSD,7\n"), 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"AccountCurrencyCode", "Clicks"}, r.Header())

	rec, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, Record{"AccountCurrencyCode": "EUR", "Clicks": "12"}, rec)

	rec, err = r.Next()
	require.NoError(t, err)
	assert.Equal(t, Record{"AccountCurrencyCode": "USD", "Clicks": "7"}, rec)

	_, err = r.Next()
	assert.Equal(t, io.EOF, err)
}

func TestCSVReaderCustomSeparator(t *testing.T) {
	r, err := NewCSVReader(strings.NewReader("a;b\n1;2\n"), ';')
	require.NoError(t, err)

	rec, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, Record{"a": "1", "b": "2"}, rec)
}

func TestCSVReaderRejectsEmptyStream(t *testing.T) {
	_, err := NewCSVReader(strings.NewReader(""), 0)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeData))
}

func TestCSVReaderFailsOnRaggedRow(t *testing.T) {
	r, err := NewCSVReader(strings.NewReader("a,b\n1\n"), 0)
	require.NoError(t, err)

	_, err = r.Next()
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeData))
}

func TestRunImportsCSVStream(t *testing.T) {
	conn := &fakeConn{}
	im := newTestImporter(t, conn)

	reader, err := NewCSVReader(strings.NewReader(
		"AccountCurrencyCode,Clicks\nEUR,12\nUSD,7\n"), 0)
	require.NoError(t, err)

	accepted, err := im.Run(context.Background(), reader)
	require.NoError(t, err)
	assert.Equal(t, int64(2), accepted)
}
