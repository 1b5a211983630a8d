package sheets

import (
	"fmt"

	"google.golang.org/api/option"
	sheetsapi "google.golang.org/api/sheets/v4"

	"github.com/feedmehq/feedme-worker/internal/config"
	"github.com/feedmehq/feedme-worker/internal/domain"
)

const (
	updateChunkSize = 200
	dataRowStart    = 3
)

// Client implements domain.SheetClient against the Sheets v4 API.
type Client struct {
	svc          *sheetsapi.Service
	header       []string
	descriptions []string
}

// New constructs a Client authenticated with the configured service
// account file.
func New(ctx domain.Context, cfg config.Config) (*Client, error) {
	svc, err := sheetsapi.NewService(ctx,
		option.WithCredentialsFile(cfg.GoogleCredentialsFile),
		option.WithScopes(sheetsapi.SpreadsheetsScope),
	)
	if err != nil {
		return nil, fmt.Errorf("op=sheets.new: %w", err)
	}
	return &Client{
		svc:          svc,
		header:       cfg.HeaderList(),
		descriptions: cfg.DescriptionList(),
	}, nil
}

// ListSheetTitles returns the spreadsheet's tab titles in order.
func (c *Client) ListSheetTitles(ctx domain.Context, spreadsheetID string) ([]string, error) {
	resp, err := c.svc.Spreadsheets.Get(spreadsheetID).
		Fields("sheets(properties(title))").
		Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("op=sheets.listTitles: %w", err)
	}
	titles := make([]string, 0, len(resp.Sheets))
	for _, s := range resp.Sheets {
		if s.Properties != nil {
			titles = append(titles, s.Properties.Title)
		}
	}
	return titles, nil
}

// GetRows reads a range as strings.
func (c *Client) GetRows(ctx domain.Context, spreadsheetID, rangeA1 string) ([][]string, error) {
	resp, err := c.svc.Spreadsheets.Values.Get(spreadsheetID, rangeA1).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("op=sheets.getRows: %w", err)
	}
	out := make([][]string, 0, len(resp.Values))
	for _, row := range resp.Values {
		cells := make([]string, 0, len(row))
		for _, v := range row {
			cells = append(cells, fmt.Sprint(v))
		}
		out = append(out, cells)
	}
	return out, nil
}

func toValues(rows [][]string) [][]any {
	out := make([][]any, 0, len(rows))
	for _, row := range rows {
		cells := make([]any, len(row))
		for i, v := range row {
			cells[i] = v
		}
		out = append(out, cells)
	}
	return out
}

func (c *Client) update(ctx domain.Context, spreadsheetID, rangeA1 string, rows [][]string) error {
	_, err := c.svc.Spreadsheets.Values.Update(spreadsheetID, rangeA1, &sheetsapi.ValueRange{
		Values: toValues(rows),
	}).ValueInputOption("USER_ENTERED").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("op=sheets.update: %w", err)
	}
	return nil
}

func (c *Client) clear(ctx domain.Context, spreadsheetID, rangeA1 string) error {
	_, err := c.svc.Spreadsheets.Values.Clear(spreadsheetID, rangeA1, &sheetsapi.ClearValuesRequest{}).
		Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("op=sheets.clear: %w", err)
	}
	return nil
}

// BatchUpdate writes cell updates in chunks so one oversized request
// never trips the API limit.
func (c *Client) BatchUpdate(ctx domain.Context, spreadsheetID string, updates []domain.RangeUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	for i := 0; i < len(updates); i += updateChunkSize {
		end := i + updateChunkSize
		if end > len(updates) {
			end = len(updates)
		}
		data := make([]*sheetsapi.ValueRange, 0, end-i)
		for _, u := range updates[i:end] {
			data = append(data, &sheetsapi.ValueRange{Range: u.Range, Values: toValues(u.Values)})
		}
		_, err := c.svc.Spreadsheets.Values.BatchUpdate(spreadsheetID, &sheetsapi.BatchUpdateValuesRequest{
			ValueInputOption: "USER_ENTERED",
			Data:             data,
		}).Context(ctx).Do()
		if err != nil {
			return fmt.Errorf("op=sheets.batchUpdate: %w", err)
		}
	}
	return nil
}

// Append inserts rows after the last data row, chunked.
func (c *Client) Append(ctx domain.Context, spreadsheetID, rangeA1 string, rows [][]string) error {
	if len(rows) == 0 {
		return nil
	}
	for i := 0; i < len(rows); i += updateChunkSize {
		end := i + updateChunkSize
		if end > len(rows) {
			end = len(rows)
		}
		_, err := c.svc.Spreadsheets.Values.Append(spreadsheetID, rangeA1, &sheetsapi.ValueRange{
			Values: toValues(rows[i:end]),
		}).ValueInputOption("USER_ENTERED").InsertDataOption("INSERT_ROWS").Context(ctx).Do()
		if err != nil {
			return fmt.Errorf("op=sheets.append: %w", err)
		}
	}
	return nil
}

func (c *Client) sheetIDByTitle(ctx domain.Context, spreadsheetID, sheetName string) (int64, bool, error) {
	resp, err := c.svc.Spreadsheets.Get(spreadsheetID).
		Fields("sheets(properties(title,sheetId,gridProperties(columnCount)))").
		Context(ctx).Do()
	if err != nil {
		return 0, false, fmt.Errorf("op=sheets.sheetID: %w", err)
	}
	for _, s := range resp.Sheets {
		if s.Properties != nil && s.Properties.Title == sheetName {
			return s.Properties.SheetId, true, nil
		}
	}
	return 0, false, nil
}

func (c *Client) ensureColumns(ctx domain.Context, spreadsheetID, sheetName string, required int) error {
	resp, err := c.svc.Spreadsheets.Get(spreadsheetID).
		Fields("sheets(properties(title,sheetId,gridProperties(columnCount)))").
		Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("op=sheets.ensureColumns: %w", err)
	}
	for _, s := range resp.Sheets {
		if s.Properties == nil || s.Properties.Title != sheetName {
			continue
		}
		current := int64(26)
		if s.Properties.GridProperties != nil && s.Properties.GridProperties.ColumnCount > 0 {
			current = s.Properties.GridProperties.ColumnCount
		}
		if current >= int64(required) {
			return nil
		}
		_, err := c.svc.Spreadsheets.BatchUpdate(spreadsheetID, &sheetsapi.BatchUpdateSpreadsheetRequest{
			Requests: []*sheetsapi.Request{{
				AppendDimension: &sheetsapi.AppendDimensionRequest{
					SheetId:   s.Properties.SheetId,
					Dimension: "COLUMNS",
					Length:    int64(required) - current,
				},
			}},
		}).Context(ctx).Do()
		if err != nil {
			return fmt.Errorf("op=sheets.ensureColumns: %w", err)
		}
		return nil
	}
	return nil
}

// EnsureHeader enforces the two header rows on a handle tab. A header
// change migrates existing data rows by column name; a tab whose rows
// look misaligned under a matching header is repaired from the known
// legacy schemas.
func (c *Client) EnsureHeader(ctx domain.Context, spreadsheetID, sheetName string) ([]string, error) {
	existing, err := c.GetRows(ctx, spreadsheetID, fmt.Sprintf("%s!1:2", sheetName))
	if err != nil {
		return nil, err
	}
	headerRows := [][]string{c.header, c.descriptions}

	if len(existing) == 0 {
		if err := c.clear(ctx, spreadsheetID, fmt.Sprintf("%s!A1:AZ2", sheetName)); err != nil {
			return nil, err
		}
		if err := c.update(ctx, spreadsheetID, fmt.Sprintf("%s!1:2", sheetName), headerRows); err != nil {
			return nil, err
		}
		if err := c.applyFormatting(ctx, spreadsheetID, sheetName); err != nil {
			return nil, err
		}
		return c.header, nil
	}

	current := existing[0]
	if !equalHeader(current, c.header) {
		rows, err := c.GetRows(ctx, spreadsheetID, fmt.Sprintf("%s!A3:AZ10000", sheetName))
		if err != nil {
			return nil, err
		}
		migrated := migrateRows(current, rows, c.header)
		if err := c.clear(ctx, spreadsheetID, fmt.Sprintf("%s!A1:AZ10000", sheetName)); err != nil {
			return nil, err
		}
		if err := c.update(ctx, spreadsheetID, fmt.Sprintf("%s!1:2", sheetName), headerRows); err != nil {
			return nil, err
		}
		if err := c.Append(ctx, spreadsheetID, fmt.Sprintf("%s!A3", sheetName), migrated); err != nil {
			return nil, err
		}
		if err := c.applyFormatting(ctx, spreadsheetID, sheetName); err != nil {
			return nil, err
		}
		return c.header, nil
	}

	sample, err := c.GetRows(ctx, spreadsheetID, fmt.Sprintf("%s!A3:AZ60", sheetName))
	if err != nil {
		return nil, err
	}
	if needsRepair(sample, c.header) {
		allRows, err := c.GetRows(ctx, spreadsheetID, fmt.Sprintf("%s!A3:AZ10000", sheetName))
		if err != nil {
			return nil, err
		}
		if repaired := repairRowsFromLegacy(allRows, c.header); repaired != nil {
			if err := c.clear(ctx, spreadsheetID, fmt.Sprintf("%s!A3:AZ10000", sheetName)); err != nil {
				return nil, err
			}
			if err := c.Append(ctx, spreadsheetID, fmt.Sprintf("%s!A3", sheetName), repaired); err != nil {
				return nil, err
			}
		}
	}

	// Re-assert both rows to clear stale trailing cells from older schemas.
	if err := c.clear(ctx, spreadsheetID, fmt.Sprintf("%s!A1:AZ2", sheetName)); err != nil {
		return nil, err
	}
	if err := c.update(ctx, spreadsheetID, fmt.Sprintf("%s!1:2", sheetName), headerRows); err != nil {
		return nil, err
	}
	if err := c.applyFormatting(ctx, spreadsheetID, sheetName); err != nil {
		return nil, err
	}
	return c.header, nil
}

func equalHeader(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// SortByPostedAt sorts all data rows newest-first.
func (c *Client) SortByPostedAt(ctx domain.Context, spreadsheetID, sheetName string) error {
	sheetID, ok, err := c.sheetIDByTitle(ctx, spreadsheetID, sheetName)
	if err != nil || !ok {
		return err
	}
	postedIdx := headerIndex(c.header, "posted_at")
	if postedIdx < 0 {
		return nil
	}
	_, err = c.svc.Spreadsheets.BatchUpdate(spreadsheetID, &sheetsapi.BatchUpdateSpreadsheetRequest{
		Requests: []*sheetsapi.Request{{
			SortRange: &sheetsapi.SortRangeRequest{
				Range: &sheetsapi.GridRange{
					SheetId:          sheetID,
					StartRowIndex:    dataRowStart - 1,
					StartColumnIndex: 0,
					EndColumnIndex:   int64(len(c.header)),
				},
				SortSpecs: []*sheetsapi.SortSpec{{
					DimensionIndex: int64(postedIdx),
					SortOrder:      "DESCENDING",
				}},
			},
		}},
	}).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("op=sheets.sort: %w", err)
	}
	return nil
}

func orNA[T any](v *T) string {
	if v == nil {
		return "n/a"
	}
	return fmt.Sprint(*v)
}

// UpsertProfileSnapshot writes the profile band in the columns after
// the schema so it never collides with data columns.
func (c *Client) UpsertProfileSnapshot(ctx domain.Context, spreadsheetID, sheetName string, p domain.ProfileDetails, sampledAtLabel string) error {
	trust := "Standard"
	if p.Verified {
		trust = "Verified"
	}
	category := p.BusinessCategory
	if category == "" {
		category = "n/a"
	}
	labels := [][]string{{"HANDLE SNAPSHOT", "Followers", "Following", "Posts", "Trust / Category"}}
	values := [][]string{{
		p.Handle,
		orNA(p.FollowersCount) + " • Audience",
		orNA(p.FollowsCount) + " • Network",
		orNA(p.PostsCount) + " • Lifetime Posts",
		fmt.Sprintf("%s • %s • %s", trust, category, sampledAtLabel),
	}}

	startCol := len(c.header) + 1
	endCol := startCol + 4
	if err := c.ensureColumns(ctx, spreadsheetID, sheetName, endCol); err != nil {
		return err
	}
	startA1 := colToA1(startCol)
	endA1 := colToA1(endCol)

	// Older writes used fixed X:AC and could collide on narrower schemas.
	if err := c.clear(ctx, spreadsheetID, fmt.Sprintf("%s!X1:AC2", sheetName)); err != nil {
		return err
	}
	if err := c.clear(ctx, spreadsheetID, fmt.Sprintf("%s!%s1:%s2", sheetName, startA1, endA1)); err != nil {
		return err
	}
	if err := c.update(ctx, spreadsheetID, fmt.Sprintf("%s!%s1:%s1", sheetName, startA1, endA1), labels); err != nil {
		return err
	}
	return c.update(ctx, spreadsheetID, fmt.Sprintf("%s!%s2:%s2", sheetName, startA1, endA1), values)
}

func (c *Client) applyFormatting(ctx domain.Context, spreadsheetID, sheetName string) error {
	sheetID, ok, err := c.sheetIDByTitle(ctx, spreadsheetID, sheetName)
	if err != nil || !ok {
		return err
	}

	neon := &sheetsapi.Color{Red: 0.8, Green: 1.0, Blue: 0.0}
	black := &sheetsapi.Color{Red: 0, Green: 0, Blue: 0}
	grey := &sheetsapi.Color{Red: 0.4, Green: 0.4, Blue: 0.4}

	requests := []*sheetsapi.Request{
		{
			UpdateSheetProperties: &sheetsapi.UpdateSheetPropertiesRequest{
				Properties: &sheetsapi.SheetProperties{
					SheetId:        sheetID,
					GridProperties: &sheetsapi.GridProperties{FrozenRowCount: 2},
				},
				Fields: "gridProperties.frozenRowCount",
			},
		},
		{
			RepeatCell: &sheetsapi.RepeatCellRequest{
				Range: &sheetsapi.GridRange{SheetId: sheetID, StartRowIndex: 0, EndRowIndex: 1},
				Cell: &sheetsapi.CellData{UserEnteredFormat: &sheetsapi.CellFormat{
					BackgroundColor:     neon,
					TextFormat:          &sheetsapi.TextFormat{Bold: true, ForegroundColor: black},
					HorizontalAlignment: "CENTER",
					WrapStrategy:        "WRAP",
				}},
				Fields: "userEnteredFormat(backgroundColor,textFormat,horizontalAlignment,wrapStrategy)",
			},
		},
		{
			RepeatCell: &sheetsapi.RepeatCellRequest{
				Range: &sheetsapi.GridRange{SheetId: sheetID, StartRowIndex: 1, EndRowIndex: 2},
				Cell: &sheetsapi.CellData{UserEnteredFormat: &sheetsapi.CellFormat{
					TextFormat:   &sheetsapi.TextFormat{Italic: true, ForegroundColor: grey},
					WrapStrategy: "WRAP",
				}},
				Fields: "userEnteredFormat(textFormat,wrapStrategy)",
			},
		},
		{
			UpdateDimensionProperties: &sheetsapi.UpdateDimensionPropertiesRequest{
				Range:      &sheetsapi.DimensionRange{SheetId: sheetID, Dimension: "COLUMNS", StartIndex: 0, EndIndex: int64(len(c.header))},
				Properties: &sheetsapi.DimensionProperties{PixelSize: 140},
				Fields:     "pixelSize",
			},
		},
	}

	dateFormat := &sheetsapi.CellFormat{
		NumberFormat: &sheetsapi.NumberFormat{Type: "DATE_TIME", Pattern: "dd-MM-yy hh:mm AM/PM"},
	}
	for _, name := range []string{"posted_at", "scanned_at", "last_updated_at"} {
		idx := headerIndex(c.header, name)
		if idx < 0 {
			continue
		}
		requests = append(requests, &sheetsapi.Request{
			RepeatCell: &sheetsapi.RepeatCellRequest{
				Range: &sheetsapi.GridRange{
					SheetId:          sheetID,
					StartRowIndex:    2,
					EndRowIndex:      10000,
					StartColumnIndex: int64(idx),
					EndColumnIndex:   int64(idx) + 1,
				},
				Cell:   &sheetsapi.CellData{UserEnteredFormat: dateFormat},
				Fields: "userEnteredFormat.numberFormat",
			},
		})
	}

	if idx := headerIndex(c.header, "velocity"); idx >= 0 {
		requests = append(requests, &sheetsapi.Request{
			RepeatCell: &sheetsapi.RepeatCellRequest{
				Range: &sheetsapi.GridRange{
					SheetId:          sheetID,
					StartRowIndex:    2,
					EndRowIndex:      10000,
					StartColumnIndex: int64(idx),
					EndColumnIndex:   int64(idx) + 1,
				},
				Cell: &sheetsapi.CellData{UserEnteredFormat: &sheetsapi.CellFormat{
					TextFormat:          &sheetsapi.TextFormat{FontSize: 36, Bold: true},
					HorizontalAlignment: "CENTER",
				}},
				Fields: "userEnteredFormat(textFormat,horizontalAlignment)",
			},
		})
	}

	wide := map[string]int64{
		"post_url":         260,
		"caption":          360,
		"hashtags":         220,
		"caption_mentions": 220,
		"display_url":      220,
		"video_url":        220,
		"music_info":       220,
	}
	for name, width := range wide {
		idx := headerIndex(c.header, name)
		if idx < 0 {
			continue
		}
		requests = append(requests, &sheetsapi.Request{
			UpdateDimensionProperties: &sheetsapi.UpdateDimensionPropertiesRequest{
				Range:      &sheetsapi.DimensionRange{SheetId: sheetID, Dimension: "COLUMNS", StartIndex: int64(idx), EndIndex: int64(idx) + 1},
				Properties: &sheetsapi.DimensionProperties{PixelSize: width},
				Fields:     "pixelSize",
			},
		})
	}

	_, err = c.svc.Spreadsheets.BatchUpdate(spreadsheetID, &sheetsapi.BatchUpdateSpreadsheetRequest{
		Requests: requests,
	}).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("op=sheets.format: %w", err)
	}
	return nil
}
