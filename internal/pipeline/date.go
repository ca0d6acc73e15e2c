package pipeline

import (
	"errors"
	"fmt"
	"time"

	"github.com/quiverdata/govcontracts/internal/datekey"
)

// EnvDeploymentDate names the processing date in YYYYMMDD form.
const EnvDeploymentDate = "QC_DATAFLEET_DEPLOYMENT_DATE"

// ErrBeforeDatasetStart is returned for dates the vendor has no data for.
var ErrBeforeDatasetStart = errors.New("date precedes dataset start")

// ProcessingDate returns the date named by EnvDeploymentDate, or the day
// before now in UTC when it is unset.
func ProcessingDate(getenv func(string) string, now time.Time) (time.Time, error) {
	if v := getenv(EnvDeploymentDate); v != "" {
		d, err := datekey.Parse(v)
		if err != nil {
			return time.Time{}, fmt.Errorf("parsing %s: %w", EnvDeploymentDate, err)
		}
		return d, nil
	}
	return datekey.Day(now).AddDate(0, 0, -1), nil
}

// CheckDate rejects dates before start. A zero start accepts every date.
func CheckDate(date, start time.Time) error {
	if !start.IsZero() && datekey.Day(date).Before(start) {
		return fmt.Errorf("%s: %w %s", datekey.Format(date), ErrBeforeDatasetStart, datekey.Format(start))
	}
	return nil
}
