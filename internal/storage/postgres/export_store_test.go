package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/webannotate/internal/webview"
)

func TestStoreExportInsertsRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewExportStoreWithPool(mock, "")
	require.NoError(t, err)

	saved := "file:///tmp/annotated.pdf"
	rec := webview.ExportRecord{
		ID:        "0190c5a6-0000-7000-8000-000000000001",
		SourceURL: "https://example.com/a",
		Filename:  "annotated.pdf",
		SizeBytes: 2048,
		Width:     612,
		Height:    792,
		HandleURI: "blob:webannotate/abc",
		SavedTo:   saved,
		CreatedAt: time.Unix(1700000000, 0).UTC(),
	}

	mock.ExpectExec("INSERT INTO exports").
		WithArgs(
			rec.ID,
			"https://example.com/a",
			rec.Filename,
			rec.SizeBytes,
			rec.Width,
			rec.Height,
			rec.HandleURI,
			&saved,
			rec.CreatedAt,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.StoreExport(context.Background(), rec))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreExportWrapsErrors(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewExportStoreWithPool(mock, "export_audit")
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO export_audit").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(errors.New("relation does not exist"))

	err = store.StoreExport(context.Background(), webview.ExportRecord{ID: "x"})
	require.ErrorContains(t, err, "insert export")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExportStoreValidation(t *testing.T) {
	t.Parallel()

	_, err := NewExportStoreWithPool(nil, "")
	require.Error(t, err)

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewExportStoreWithPool(mock, "exports; DROP TABLE x")
	require.Error(t, err)

	store, err := NewExportStoreWithPool(mock, "")
	require.NoError(t, err)
	require.Error(t, store.StoreExport(context.Background(), webview.ExportRecord{}))

	_, err = NewExportStore(context.Background(), ExportStoreConfig{})
	require.Error(t, err)
}
