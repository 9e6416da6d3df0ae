// Package sheets implements guest.Store on a Google Sheets response sheet.
// The first row holds headers; every following row is one guest.
package sheets

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"github.com/fpang/guest-avatar/internal/guest"
)

// ErrColumnNotFound is returned by WriteField when no header maps to the
// requested field.
var ErrColumnNotFound = errors.New("column not found in sheet header")

// Store reads and writes guest rows in one sheet of a spreadsheet.
type Store struct {
	svc           *sheets.Service
	spreadsheetID string
	sheetName     string

	mu     sync.Mutex
	header map[string]int
}

var _ guest.Store = (*Store)(nil)

// Options configure New.
type Options struct {
	SpreadsheetID   string
	SheetName       string
	CredentialsFile string
	CredentialsJSON string
	// ClientOptions are appended after the credential options.
	ClientOptions []option.ClientOption
}

// New builds a Sheets client authenticated with a service-account key.
func New(ctx context.Context, opts Options) (*Store, error) {
	clientOpts := []option.ClientOption{option.WithScopes(sheets.SpreadsheetsScope)}
	switch {
	case opts.CredentialsJSON != "":
		clientOpts = append(clientOpts, option.WithCredentialsJSON([]byte(opts.CredentialsJSON)))
	case opts.CredentialsFile != "":
		clientOpts = append(clientOpts, option.WithCredentialsFile(opts.CredentialsFile))
	}
	clientOpts = append(clientOpts, opts.ClientOptions...)

	svc, err := sheets.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return NewWithService(svc, opts.SpreadsheetID, opts.SheetName), nil
}

// NewWithService wraps an existing Sheets service.
func NewWithService(svc *sheets.Service, spreadsheetID, sheetName string) *Store {
	return &Store{svc: svc, spreadsheetID: spreadsheetID, sheetName: sheetName}
}

// Guests reads the whole sheet. Columns whose header does not match a known
// field are ignored; known fields with no column read as empty.
func (s *Store) Guests(ctx context.Context) ([]guest.Record, error) {
	resp, err := s.svc.Spreadsheets.Values.Get(s.spreadsheetID, quoteSheet(s.sheetName)).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("read sheet %s: %w", s.sheetName, err)
	}
	if len(resp.Values) == 0 {
		log.Info().Str("sheet", s.sheetName).Msg("Sheet is empty")
		return nil, nil
	}

	header := headerCells(resp.Values[0])
	index := headerIndex(header)
	s.mu.Lock()
	s.header = index
	s.mu.Unlock()

	for _, field := range []string{guest.FieldName, guest.FieldPhotoURL, guest.FieldVideoURL, guest.FieldStatus} {
		if _, ok := index[field]; !ok {
			log.Warn().Str("field", field).Str("sheet", s.sheetName).Msg("No sheet column matches field")
		}
	}

	records := make([]guest.Record, 0, len(resp.Values)-1)
	for i, cells := range resp.Values[1:] {
		records = append(records, rowToRecord(i, cells, index))
	}

	log.Debug().Int("rows", len(records)).Str("sheet", s.sheetName).Msg("Guests read from sheet")
	return records, nil
}

// WriteField writes value into the cell for field on data row row.
func (s *Store) WriteField(ctx context.Context, row int, field, value string) error {
	col, err := s.column(ctx, field)
	if err != nil {
		return err
	}

	cell := fmt.Sprintf("%s!%s%d", quoteSheet(s.sheetName), columnLetter(col), row+2)
	_, err = s.svc.Spreadsheets.Values.Update(s.spreadsheetID, cell, &sheets.ValueRange{
		Values: [][]interface{}{{value}},
	}).ValueInputOption("RAW").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("update %s: %w", cell, err)
	}

	log.Debug().Str("cell", cell).Str("field", field).Msg("Sheet cell updated")
	return nil
}

func (s *Store) column(ctx context.Context, field string) (int, error) {
	s.mu.Lock()
	index := s.header
	s.mu.Unlock()

	if index == nil {
		resp, err := s.svc.Spreadsheets.Values.Get(s.spreadsheetID, quoteSheet(s.sheetName)+"!1:1").Context(ctx).Do()
		if err != nil {
			return 0, fmt.Errorf("read sheet header: %w", err)
		}
		var header []string
		if len(resp.Values) > 0 {
			header = headerCells(resp.Values[0])
		}
		index = headerIndex(header)
		s.mu.Lock()
		s.header = index
		s.mu.Unlock()
	}

	col, ok := index[field]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrColumnNotFound, field)
	}
	return col, nil
}

func headerCells(row []interface{}) []string {
	out := make([]string, len(row))
	for i, v := range row {
		out[i] = toString(v)
	}
	return out
}
