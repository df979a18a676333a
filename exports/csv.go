package exports

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/jszwec/csvutil"

	"github.com/stevecastle/stereopair/affine"
)

type csvRow struct {
	ID             string `csv:"id"`
	State          string `csv:"state"`
	Left           string `csv:"left"`
	Right          string `csv:"right"`
	Output         string `csv:"output"`
	LeftTransform  string `csv:"left_transform"`
	RightTransform string `csv:"right_transform"`
	Message        string `csv:"message,omitempty"`
	CreatedAt      string `csv:"created_at"`
	CompletedAt    string `csv:"completed_at,omitempty"`
}

func formatTransform(t affine.Transform) string {
	c := t.Coefficients()
	parts := make([]string, len(c))
	for i, v := range c {
		parts[i] = strconv.FormatFloat(v, 'g', -1, 64)
	}
	return strings.Join(parts, ",")
}

func formatCSVTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}

// WriteCSV writes jobs as a CSV table. Transforms use the a,b,c,d,e,f form
// the compose command accepts.
func WriteCSV(w io.Writer, jobs []Job) error {
	rows := make([]csvRow, len(jobs))
	for i, j := range jobs {
		rows[i] = csvRow{
			ID:             j.ID,
			State:          j.State.String(),
			Left:           j.Left,
			Right:          j.Right,
			Output:         j.Output,
			LeftTransform:  formatTransform(j.LeftTransform),
			RightTransform: formatTransform(j.RightTransform),
			Message:        j.Message,
			CreatedAt:      formatCSVTime(j.CreatedAt),
			CompletedAt:    formatCSVTime(j.CompletedAt),
		}
	}
	b, err := csvutil.Marshal(rows)
	if err != nil {
		return fmt.Errorf("marshal exports csv: %w", err)
	}
	_, err = w.Write(b)
	return err
}
