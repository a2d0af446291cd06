// Package stats computes per-user daily averages from a job snapshot.
//
// Exercise frequency is normalised by account age in days, calorie intake and
// output by the number of measurement samples. Degenerate inputs (no
// exercises, no measurements, an account created today) produce zeros.
package stats

import (
	"math"
	"time"

	"fitnessbuddy/pkg/job"
)

// Compute aggregates the snapshot as of now.
func Compute(now time.Time, user job.UserSnapshot, exercises []job.ExerciseRecord, measurements []job.MeasurementRecord) job.Result {
	res := job.Result{
		Date:           now,
		UserID:         user.ID,
		TotalExercises: len(exercises),
	}

	if days := AgeDays(now, user.CreationDate); days > 0 {
		res.DailyExercises = round2(float64(len(exercises)) / float64(days))
	}

	if n := len(measurements); n > 0 {
		var in, out float64
		for _, m := range measurements {
			if m.CaloriesIn != nil {
				in += *m.CaloriesIn
			}
			if m.CaloriesOut != nil {
				out += *m.CaloriesOut
			}
		}
		res.DailyCaloriesIn = round2(in / float64(n))
		res.DailyCaloriesOut = round2(out / float64(n))
	}

	return res
}

// AgeDays counts calendar days between created and now, both read in now's
// location. It is negative when created lies in the future.
func AgeDays(now, created time.Time) int {
	loc := now.Location()
	c := created.In(loc)
	from := time.Date(c.Year(), c.Month(), c.Day(), 0, 0, 0, 0, time.UTC)
	to := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return int(to.Sub(from).Hours() / 24)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
