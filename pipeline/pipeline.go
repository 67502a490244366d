package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/apex/log"
	"github.com/golang/geo/s2"

	"civicwatch/changefeed"
	"civicwatch/metrics"
	"civicwatch/models"
	"civicwatch/moderation"
	"civicwatch/storage"
)

// State is the position of a submission run in its fixed stage order.
type State string

const (
	StateValidating       State = "validating"
	StateAnalyzingMedia   State = "analyzing_media"
	StateRedacting        State = "redacting"
	StateUploading        State = "uploading"
	StatePersistingReport State = "persisting_report"
	StatePersistingMedia  State = "persisting_media"
	StateCompleted        State = "completed"
	StateFailed           State = "failed"
)

// Moderator analyzes media content. Implemented by moderation.Client.
type Moderator interface {
	Analyze(ctx context.Context, media []byte, mimeType string, thresholds map[string]float64, requestRedactedVariant bool) (*moderation.Result, error)
}

// Redactor picks the bytes to store. Implemented by redaction.Coordinator.
type Redactor interface {
	Decide(ctx context.Context, result *moderation.Result, autoRedactEnabled bool, original []byte) ([]byte, bool)
}

// Repository persists reports and media assets. Implemented by
// database.Database.
type Repository interface {
	InsertReport(ctx context.Context, r *models.Report) (int64, error)
	InsertMedia(ctx context.Context, m *models.MediaAsset) (int64, error)
}

// MediaUpload is the optional evidence payload of a submission.
type MediaUpload struct {
	Bytes    []byte
	Filename string
	MimeType string
}

// Submission is the validated field set handed to the pipeline. Coordinates
// are pointers so "absent" is distinguishable from 0.
type Submission struct {
	UserID      *string
	IsAnonymous bool
	CrimeType   string
	Severity    string
	Title       string
	Address     string
	Description string
	ReportedAt  time.Time
	Latitude    *float64
	Longitude   *float64
	Media       *MediaUpload
}

// Outcome describes a finished run.
type Outcome struct {
	State             State
	FailedStage       State
	ReportID          int64
	MediaID           int64
	FileURL           string
	Detected          bool
	FlaggedCategories []string
	Blurred           bool
}

// Pipeline orchestrates one submission:
// Validate -> Analyze -> Redact -> Upload -> PersistReport -> PersistMedia,
// media stages skipped when there is no media. Each run is a sequential
// chain with no shared mutable state; many runs may execute concurrently.
type Pipeline struct {
	moderator  Moderator
	redactor   Redactor
	store      storage.Store
	repo       Repository
	notifier   changefeed.Notifier
	thresholds map[string]float64
	autoRedact bool
	dbTimeout  time.Duration
}

// New creates a pipeline. A nil thresholds map selects the default table.
func New(moderator Moderator, redactor Redactor, store storage.Store, repo Repository, notifier changefeed.Notifier, thresholds map[string]float64, autoRedact bool, dbTimeout time.Duration) *Pipeline {
	if thresholds == nil {
		thresholds = moderation.DefaultThresholds
	}
	return &Pipeline{
		moderator:  moderator,
		redactor:   redactor,
		store:      store,
		repo:       repo,
		notifier:   notifier,
		thresholds: thresholds,
		autoRedact: autoRedact,
		dbTimeout:  dbTimeout,
	}
}

// Run executes one submission attempt. There is no retry inside a run; a
// resubmission is a fresh run with a fresh identifier. On error the returned
// outcome has State == StateFailed and FailedStage set to the failing stage.
func (p *Pipeline) Run(ctx context.Context, sub *Submission) (*Outcome, error) {
	started := time.Now()
	outcome, err := p.run(ctx, sub)
	metrics.SubmissionDurationSeconds.Observe(time.Since(started).Seconds())
	if err != nil {
		metrics.SubmissionsTotal.WithLabelValues(string(outcome.FailedStage)).Inc()
		metrics.StageFailuresTotal.WithLabelValues(string(outcome.FailedStage)).Inc()
	} else {
		metrics.SubmissionsTotal.WithLabelValues(string(StateCompleted)).Inc()
	}
	return outcome, err
}

func (p *Pipeline) run(ctx context.Context, sub *Submission) (*Outcome, error) {
	outcome := &Outcome{State: StateValidating}

	// Validate. Guaranteed to make zero external calls.
	if err := validate(sub); err != nil {
		return fail(outcome, StateValidating, err)
	}

	var (
		result     *moderation.Result
		mediaBytes []byte
		blurred    bool
		fileURL    string
	)

	if sub.Media != nil {
		// Analyze.
		outcome.State = StateAnalyzingMedia
		var err error
		result, err = p.moderator.Analyze(ctx, sub.Media.Bytes, sub.Media.MimeType, p.thresholds, p.autoRedact)
		if err != nil {
			return fail(outcome, StateAnalyzingMedia, err)
		}

		// Redact. A failed variant fetch degrades in place, it never fails
		// the run.
		outcome.State = StateRedacting
		mediaBytes, blurred = p.redactor.Decide(ctx, result, p.autoRedact, sub.Media.Bytes)
		if result.Detected() && p.autoRedact && !blurred {
			metrics.RedactionFallbacksTotal.Inc()
		}

		// Upload.
		outcome.State = StateUploading
		fileURL, err = p.store.Put(ctx, mediaBytes, sub.Media.Filename, sub.Media.MimeType)
		if err != nil {
			return fail(outcome, StateUploading, err)
		}

		outcome.Detected = result.Detected()
		outcome.FlaggedCategories = result.Flagged
		outcome.Blurred = blurred
		outcome.FileURL = fileURL
	}

	// PersistReport.
	outcome.State = StatePersistingReport
	now := time.Now().UTC()
	report := &models.Report{
		UserID:      sub.UserID,
		CrimeType:   strings.ToLower(sub.CrimeType),
		IsAnonymous: sub.IsAnonymous,
		Title:       sub.Title,
		Address:     sub.Address,
		Latitude:    *sub.Latitude,
		Longitude:   *sub.Longitude,
		Description: sub.Description,
		Severity:    strings.ToLower(sub.Severity),
		Status:      models.StatusPending,
		ReportedAt:  sub.ReportedAt,
		UpdatedAt:   now,
	}
	if result != nil {
		// The report carries copies of the media moderation fields, not an
		// independent derivation.
		report.MediaAnalysis = result.Raw
		report.IsDetected = result.Detected()
		report.FlaggedCategories = result.Flagged
		report.IsBlurred = blurred
	}

	dbCtx, cancel := context.WithTimeout(ctx, p.dbTimeout)
	reportID, err := p.repo.InsertReport(dbCtx, report)
	cancel()
	if err != nil {
		if fileURL != "" {
			// The uploaded object is now orphaned; accepted limitation.
			log.Warnf("Report insert failed, evidence object orphaned: %s", fileURL)
		}
		return fail(outcome, StatePersistingReport, fmt.Errorf("%w: %v", ErrReportPersist, err))
	}
	outcome.ReportID = reportID

	// PersistMedia. Independent write; no compensating delete of the report
	// on failure.
	if sub.Media != nil {
		outcome.State = StatePersistingMedia
		asset := &models.MediaAsset{
			ReportID:          reportID,
			FileURL:           fileURL,
			FileType:          fileKind(sub.Media.MimeType),
			UploadedAt:        now,
			AnalysisResult:    result.Raw,
			IsDetected:        result.Detected(),
			FlaggedCategories: result.Flagged,
			IsBlurred:         blurred,
		}
		dbCtx, cancel := context.WithTimeout(ctx, p.dbTimeout)
		mediaID, err := p.repo.InsertMedia(dbCtx, asset)
		cancel()
		if err != nil {
			// The report row landed, so viewers still need to hear about it.
			p.notify(changefeed.KindInsert, reportID)
			return fail(outcome, StatePersistingMedia, fmt.Errorf("%w: %v", ErrMediaPersist, err))
		}
		outcome.MediaID = mediaID
	}

	outcome.State = StateCompleted
	p.notify(changefeed.KindInsert, reportID)
	log.WithField("report_id", reportID).Info("Submission completed")
	return outcome, nil
}

func (p *Pipeline) notify(kind string, reportID int64) {
	if p.notifier == nil {
		return
	}
	p.notifier.NotifyChange(changefeed.TopicReports, kind, reportID)
	metrics.ChangeEventsTotal.WithLabelValues(kind).Inc()
}

func fail(outcome *Outcome, stage State, err error) (*Outcome, error) {
	outcome.State = StateFailed
	outcome.FailedStage = stage
	return outcome, stageErr(stage, err)
}

// validate checks required fields. It touches nothing outside the
// submission struct.
func validate(sub *Submission) error {
	var missing []string
	if strings.TrimSpace(sub.CrimeType) == "" {
		missing = append(missing, "crime_type")
	}
	if sub.ReportedAt.IsZero() {
		missing = append(missing, "reported_at")
	}
	if strings.TrimSpace(sub.Description) == "" {
		missing = append(missing, "description")
	}
	if sub.Latitude == nil {
		missing = append(missing, "latitude")
	}
	if sub.Longitude == nil {
		missing = append(missing, "longitude")
	}
	if strings.TrimSpace(sub.Severity) == "" {
		missing = append(missing, "severity")
	}
	if sub.Latitude != nil && sub.Longitude != nil {
		if !s2.LatLngFromDegrees(*sub.Latitude, *sub.Longitude).IsValid() {
			missing = append(missing, "coordinates")
		}
	}
	if len(missing) > 0 {
		return &ValidationError{Fields: missing}
	}
	return nil
}

// fileKind maps a mime type to the coarse file kind column.
func fileKind(mimeType string) string {
	if strings.HasPrefix(mimeType, "video/") {
		return models.FileKindVideo
	}
	return models.FileKindImage
}
