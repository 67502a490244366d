package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"

	"civicwatch/models"
)

// InsertReport persists a new report row and returns its generated id.
func (d *Database) InsertReport(ctx context.Context, r *models.Report) (int64, error) {
	categories, err := marshalCategories(r.FlaggedCategories)
	if err != nil {
		return 0, err
	}

	result, err := d.db.ExecContext(ctx, `
		INSERT INTO reports (
			user_id, crime_type, is_anonymous, title, address,
			latitude, longitude, description, severity, status,
			reported_at, updated_at, media_analysis, is_detected,
			flagged_categories, is_blurred
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.UserID, r.CrimeType, r.IsAnonymous, r.Title, r.Address,
		r.Latitude, r.Longitude, r.Description, r.Severity, r.Status,
		r.ReportedAt, r.UpdatedAt, nullableJSON(r.MediaAnalysis), r.IsDetected,
		categories, r.IsBlurred)
	if err != nil {
		return 0, fmt.Errorf("failed to insert report: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get report id: %w", err)
	}
	return id, nil
}

// InsertMedia persists the media asset belonging to an already-inserted
// report. This is an independent write; a failure here leaves the report row
// in place.
func (d *Database) InsertMedia(ctx context.Context, m *models.MediaAsset) (int64, error) {
	categories, err := marshalCategories(m.FlaggedCategories)
	if err != nil {
		return 0, err
	}

	result, err := d.db.ExecContext(ctx, `
		INSERT INTO report_media (
			report_id, file_url, file_type, uploaded_at,
			analysis_result, is_detected, flagged_categories, is_blurred
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ReportID, m.FileURL, m.FileType, m.UploadedAt,
		nullableJSON(m.AnalysisResult), m.IsDetected, categories, m.IsBlurred)
	if err != nil {
		return 0, fmt.Errorf("failed to insert media asset: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get media id: %w", err)
	}
	return id, nil
}

// CountReports returns the total number of report rows.
func (d *Database) CountReports(ctx context.Context) (int, error) {
	var count int
	if err := d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM reports`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count reports: %w", err)
	}
	return count, nil
}

// ListPage returns one fixed-size page of reports, newest first, together
// with the total count the list view needs for its pager.
func (d *Database) ListPage(ctx context.Context, page int) (*models.ReportPage, error) {
	count, err := d.CountReports(ctx)
	if err != nil {
		return nil, err
	}

	from, _ := models.PageWindow(page)
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, user_id, crime_type, is_anonymous, title, address,
			latitude, longitude, description, severity, status,
			reported_at, updated_at, media_analysis, is_detected,
			flagged_categories, is_blurred
		FROM reports
		ORDER BY reported_at DESC, id DESC
		LIMIT ? OFFSET ?`, models.PageSize, from)
	if err != nil {
		return nil, fmt.Errorf("failed to query reports page: %w", err)
	}
	defer rows.Close()

	reports := []models.Report{}
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		reports = append(reports, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating report rows: %w", err)
	}

	return &models.ReportPage{
		Reports:    reports,
		Page:       page,
		TotalCount: count,
		TotalPages: models.TotalPages(count),
	}, nil
}

// GetReport fetches one report by id.
func (d *Database) GetReport(ctx context.Context, id int64) (*models.Report, error) {
	row := d.db.QueryRowContext(ctx, `
		SELECT id, user_id, crime_type, is_anonymous, title, address,
			latitude, longitude, description, severity, status,
			reported_at, updated_at, media_analysis, is_detected,
			flagged_categories, is_blurred
		FROM reports WHERE id = ?`, id)
	return scanReport(row)
}

// UpdateStatus sets the status of a report. Transition rules live with the
// calling role services; this only performs the write.
func (d *Database) UpdateStatus(ctx context.Context, id int64, status string) error {
	result, err := d.db.ExecContext(ctx,
		`UPDATE reports SET status = ?, updated_at = NOW() WHERE id = ?`, status, id)
	return validateResult(result, err, true)
}

// DeleteReport removes a report and its media rows.
func (d *Database) DeleteReport(ctx context.Context, id int64) error {
	if _, err := d.db.ExecContext(ctx, `DELETE FROM report_media WHERE report_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete report media: %w", err)
	}
	result, err := d.db.ExecContext(ctx, `DELETE FROM reports WHERE id = ?`, id)
	return validateResult(result, err, true)
}

// GetMediaForReport returns the media assets attached to a report.
func (d *Database) GetMediaForReport(ctx context.Context, reportID int64) ([]models.MediaAsset, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, report_id, file_url, file_type, uploaded_at,
			analysis_result, is_detected, flagged_categories, is_blurred
		FROM report_media WHERE report_id = ?`, reportID)
	if err != nil {
		return nil, fmt.Errorf("failed to query report media: %w", err)
	}
	defer rows.Close()

	assets := []models.MediaAsset{}
	for rows.Next() {
		var m models.MediaAsset
		var analysis, categories sql.NullString
		if err := rows.Scan(&m.ID, &m.ReportID, &m.FileURL, &m.FileType, &m.UploadedAt,
			&analysis, &m.IsDetected, &categories, &m.IsBlurred); err != nil {
			return nil, fmt.Errorf("failed to scan media row: %w", err)
		}
		if analysis.Valid {
			m.AnalysisResult = json.RawMessage(analysis.String)
		}
		m.FlaggedCategories = unmarshalCategories(categories)
		assets = append(assets, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating media rows: %w", err)
	}
	return assets, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanReport(row rowScanner) (*models.Report, error) {
	var r models.Report
	var userID sql.NullString
	var analysis, categories sql.NullString
	if err := row.Scan(&r.ID, &userID, &r.CrimeType, &r.IsAnonymous, &r.Title, &r.Address,
		&r.Latitude, &r.Longitude, &r.Description, &r.Severity, &r.Status,
		&r.ReportedAt, &r.UpdatedAt, &analysis, &r.IsDetected,
		&categories, &r.IsBlurred); err != nil {
		return nil, fmt.Errorf("failed to scan report row: %w", err)
	}
	if userID.Valid {
		r.UserID = &userID.String
	}
	if analysis.Valid {
		r.MediaAnalysis = json.RawMessage(analysis.String)
	}
	r.FlaggedCategories = unmarshalCategories(categories)
	return &r, nil
}

func marshalCategories(categories []string) ([]byte, error) {
	if categories == nil {
		categories = []string{}
	}
	data, err := json.Marshal(categories)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal flagged categories: %w", err)
	}
	return data, nil
}

func unmarshalCategories(raw sql.NullString) []string {
	categories := []string{}
	if raw.Valid && raw.String != "" {
		if err := json.Unmarshal([]byte(raw.String), &categories); err != nil {
			log.Printf("Malformed flagged_categories value: %v", err)
		}
	}
	return categories
}

func nullableJSON(raw json.RawMessage) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}

func validateResult(r sql.Result, e error, checkRowsAffected bool) error {
	if e != nil {
		log.Printf("Query failed: %v", e)
		return e
	}
	rows, err := r.RowsAffected()
	if err != nil {
		log.Printf("Failed to get status of db op: %s", err)
		return err
	}
	if checkRowsAffected && rows != 1 {
		return fmt.Errorf("expected to affect 1 row, affected %d", rows)
	}
	return nil
}
