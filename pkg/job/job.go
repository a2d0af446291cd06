package job

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
)

// QueueStats is the well-known queue shared by the producer and the worker.
const QueueStats = "stats"

// ErrMalformed wraps every job decode or validation failure.
var ErrMalformed = errors.New("malformed job")

// UserSnapshot is the user as stored when the job was submitted.
type UserSnapshot struct {
	ID           int64     `json:"id" validate:"gt=0"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	Age          float64   `json:"age"`
	CreationDate time.Time `json:"creation_date" validate:"required"`
}

// ExerciseRecord is one logged exercise session.
type ExerciseRecord struct {
	Name     string    `json:"name" validate:"required"`
	Duration *float64  `json:"duration"` // minutes
	Date     time.Time `json:"date" validate:"required"`
}

// MeasurementRecord is a periodic check-in; any value may be missing.
type MeasurementRecord struct {
	Date        time.Time `json:"date" validate:"required"`
	Weight      *float64  `json:"weight"`
	CaloriesIn  *float64  `json:"calories_in"`
	CaloriesOut *float64  `json:"calories_out"`
}

// StatsJob is a point-in-time snapshot of a user's history plus the address
// the computed Result must be posted back to.
type StatsJob struct {
	User         *UserSnapshot       `json:"user" validate:"required"`
	Exercises    []ExerciseRecord    `json:"exercises" validate:"required,dive"`
	Measurements []MeasurementRecord `json:"measurements" validate:"required,dive"`
	CallbackURL  string              `json:"callback_url" validate:"required"`
}

// Result is the computed aggregate, posted to the callback and broadcast.
type Result struct {
	Date             time.Time `json:"date" validate:"required"`
	UserID           int64     `json:"user_id" validate:"gt=0"`
	TotalExercises   int       `json:"total_exercises" validate:"gte=0"`
	DailyExercises   float64   `json:"daily_exercises" validate:"gte=0"`
	DailyCaloriesIn  float64   `json:"daily_calories_in" validate:"gte=0"`
	DailyCaloriesOut float64   `json:"daily_calories_out" validate:"gte=0"`
}

// LogEntry is the body published on the logs exchange.
type LogEntry struct {
	Timestamp string `json:"timestamp"`
	Content   string `json:"content"`
}

func NewLogEntry(now time.Time, content string) LogEntry {
	return LogEntry{Timestamp: now.Format(time.RFC3339Nano), Content: content}
}

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Encode serializes a job, forcing empty histories to encode as arrays.
func Encode(j *StatsJob) ([]byte, error) {
	out := *j
	if out.Exercises == nil {
		out.Exercises = []ExerciseRecord{}
	}
	if out.Measurements == nil {
		out.Measurements = []MeasurementRecord{}
	}
	return json.Marshal(&out)
}

// Decode parses and validates a job body. Every failure wraps ErrMalformed.
func Decode(body []byte) (*StatsJob, error) {
	var j StatsJob
	if err := json.Unmarshal(body, &j); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := getValidator().Struct(&j); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return &j, nil
}

// ValidateResult checks a Result received on the callback endpoint.
func ValidateResult(r *Result) error {
	return getValidator().Struct(r)
}
