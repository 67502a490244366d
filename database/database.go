package database

import (
	"database/sql"
	"fmt"
	"log"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"civicwatch/config"
)

// Database wraps the MySQL connection used by the report repository.
type Database struct {
	db *sql.DB
}

// NewDatabase opens the MySQL connection pool and waits for the server to
// become reachable.
func NewDatabase(cfg *config.Config) (*Database, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?parseTime=true",
		cfg.DBUser, cfg.DBPassword, cfg.DBHost, cfg.DBPort, cfg.DBName)

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test connection with exponential backoff retry
	waitInterval := 1 * time.Second
	deadline := time.Now().Add(60 * time.Second)
	for {
		if err := db.Ping(); err == nil {
			break
		} else if time.Now().After(deadline) {
			return nil, fmt.Errorf("database ping timeout: %w", err)
		} else {
			log.Printf("Database connection failed, retrying in %v: %v", waitInterval, err)
		}
		time.Sleep(waitInterval)
		waitInterval *= 2
		if waitInterval > 30*time.Second {
			waitInterval = 30 * time.Second
		}
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	return &Database{db: db}, nil
}

// NewDatabaseFromDB wraps an existing connection, used by tests.
func NewDatabaseFromDB(db *sql.DB) *Database {
	return &Database{db: db}
}

// DB exposes the underlying handle for wiring.
func (d *Database) DB() *sql.DB {
	return d.db
}

// Close closes the database connection
func (d *Database) Close() error {
	return d.db.Close()
}

// CreateReportTables creates the reports and report_media tables if they
// don't exist.
func (d *Database) CreateReportTables() error {
	reports := `
	CREATE TABLE IF NOT EXISTS reports (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		user_id VARCHAR(255) NULL,
		crime_type VARCHAR(100) NOT NULL,
		is_anonymous BOOLEAN NOT NULL DEFAULT FALSE,
		title VARCHAR(500),
		address VARCHAR(500),
		latitude DOUBLE NOT NULL,
		longitude DOUBLE NOT NULL,
		description TEXT,
		severity ENUM('low', 'medium', 'high') NOT NULL,
		status ENUM('pending', 'under_investigation', 'resolved') NOT NULL DEFAULT 'pending',
		reported_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
		media_analysis JSON NULL,
		is_detected BOOLEAN NOT NULL DEFAULT FALSE,
		flagged_categories JSON NULL,
		is_blurred BOOLEAN NOT NULL DEFAULT FALSE,
		INDEX idx_reports_status (status),
		INDEX idx_reports_reported_at (reported_at),
		INDEX idx_reports_user_id (user_id)
	)`
	if _, err := d.db.Exec(reports); err != nil {
		return fmt.Errorf("failed to create reports table: %w", err)
	}

	media := `
	CREATE TABLE IF NOT EXISTS report_media (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		report_id BIGINT NOT NULL,
		file_url VARCHAR(1024) NOT NULL,
		file_type ENUM('image', 'video') NOT NULL,
		uploaded_at TIMESTAMP NOT NULL,
		analysis_result JSON NULL,
		is_detected BOOLEAN NOT NULL DEFAULT FALSE,
		flagged_categories JSON NULL,
		is_blurred BOOLEAN NOT NULL DEFAULT FALSE,
		INDEX idx_report_media_report_id (report_id),
		CONSTRAINT fk_report_media_report FOREIGN KEY (report_id) REFERENCES reports(id)
	)`
	if _, err := d.db.Exec(media); err != nil {
		return fmt.Errorf("failed to create report_media table: %w", err)
	}

	return nil
}
