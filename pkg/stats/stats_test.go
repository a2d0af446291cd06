package stats_test

import (
	"testing"
	"time"

	"fitnessbuddy/pkg/job"
	"fitnessbuddy/pkg/stats"
)

func f(v float64) *float64 { return &v }

var now = time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)

func exercises(n int) []job.ExerciseRecord {
	out := make([]job.ExerciseRecord, n)
	for i := range out {
		out[i] = job.ExerciseRecord{Name: "run", Duration: f(30), Date: now.AddDate(0, 0, -i)}
	}
	return out
}

func TestCompute_TenDayScenario(t *testing.T) {
	user := job.UserSnapshot{ID: 7, CreationDate: now.AddDate(0, 0, -10).Add(-4 * time.Hour)}
	var ms []job.MeasurementRecord
	for i := 0; i < 10; i++ {
		ms = append(ms, job.MeasurementRecord{Date: now, CaloriesIn: f(2000), CaloriesOut: f(1800)})
	}

	got := stats.Compute(now, user, exercises(5), ms)

	if got.UserID != 7 {
		t.Errorf("user_id = %d, want 7", got.UserID)
	}
	if got.TotalExercises != 5 {
		t.Errorf("total_exercises = %d, want 5", got.TotalExercises)
	}
	if got.DailyExercises != 0.5 {
		t.Errorf("daily_exercises = %v, want 0.5", got.DailyExercises)
	}
	if got.DailyCaloriesIn != 2000 {
		t.Errorf("daily_calories_in = %v, want 2000", got.DailyCaloriesIn)
	}
	if got.DailyCaloriesOut != 1800 {
		t.Errorf("daily_calories_out = %v, want 1800", got.DailyCaloriesOut)
	}
	if !got.Date.Equal(now) {
		t.Errorf("date = %v, want %v", got.Date, now)
	}
}

func TestCompute_NewUser(t *testing.T) {
	user := job.UserSnapshot{ID: 1, CreationDate: now.Add(-time.Hour)}

	got := stats.Compute(now, user, nil, nil)

	if got.DailyExercises != 0 || got.DailyCaloriesIn != 0 || got.DailyCaloriesOut != 0 {
		t.Fatalf("expected zero averages, got %+v", got)
	}
	if got.TotalExercises != 0 {
		t.Fatalf("total_exercises = %d, want 0", got.TotalExercises)
	}
}

func TestCompute_ZeroGuards(t *testing.T) {
	tests := []struct {
		name      string
		created   time.Time
		ex        int
		wantDaily float64
	}{
		{"created today", now.Add(-11 * time.Hour), 3, 0},
		{"created in future", now.AddDate(0, 0, 2), 3, 0},
		{"one day", now.AddDate(0, 0, -1), 3, 3},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			user := job.UserSnapshot{ID: 1, CreationDate: tc.created}
			got := stats.Compute(now, user, exercises(tc.ex), nil)
			if got.DailyExercises != tc.wantDaily {
				t.Errorf("daily_exercises = %v, want %v", got.DailyExercises, tc.wantDaily)
			}
			if got.DailyCaloriesIn != 0 || got.DailyCaloriesOut != 0 {
				t.Errorf("calorie averages without measurements: %+v", got)
			}
		})
	}
}

func TestCompute_Rounding(t *testing.T) {
	user := job.UserSnapshot{ID: 1, CreationDate: now.AddDate(0, 0, -3)}
	ms := []job.MeasurementRecord{
		{Date: now, CaloriesIn: f(1000.123), CaloriesOut: f(100)},
		{Date: now, CaloriesIn: f(1000.456), CaloriesOut: f(200)},
		{Date: now, CaloriesIn: f(1000.001), CaloriesOut: f(201)},
	}

	got := stats.Compute(now, user, exercises(1), ms)

	if got.DailyExercises != 0.33 {
		t.Errorf("daily_exercises = %v, want 0.33", got.DailyExercises)
	}
	if got.DailyCaloriesIn != 1000.19 {
		t.Errorf("daily_calories_in = %v, want 1000.19", got.DailyCaloriesIn)
	}
	if got.DailyCaloriesOut != 167 {
		t.Errorf("daily_calories_out = %v, want 167", got.DailyCaloriesOut)
	}
}

func TestCompute_NullCaloriesCountAsSamples(t *testing.T) {
	user := job.UserSnapshot{ID: 1, CreationDate: now.AddDate(0, 0, -3)}
	ms := []job.MeasurementRecord{
		{Date: now, CaloriesIn: f(3000)},
		{Date: now, Weight: f(80)},
	}

	got := stats.Compute(now, user, nil, ms)

	if got.DailyCaloriesIn != 1500 {
		t.Errorf("daily_calories_in = %v, want 1500", got.DailyCaloriesIn)
	}
	if got.DailyCaloriesOut != 0 {
		t.Errorf("daily_calories_out = %v, want 0", got.DailyCaloriesOut)
	}
}

func TestAgeDays_CalendarGranularity(t *testing.T) {
	late := time.Date(2026, 10, 15, 23, 59, 0, 0, time.UTC)
	early := time.Date(2026, 10, 16, 0, 1, 0, 0, time.UTC)
	if got := stats.AgeDays(early, late); got != 1 {
		t.Fatalf("AgeDays = %d, want 1", got)
	}
}
