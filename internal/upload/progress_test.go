package upload

import (
	"bytes"
	"io"
	"testing"
)

func TestProgressReaderReportsMonotonic(t *testing.T) {
	data := bytes.Repeat([]byte{0xAB}, 1000)
	var reports []int
	pr := newProgressReader(bytes.NewReader(data), int64(len(data)), func(pct int) {
		reports = append(reports, pct)
	})

	buf := make([]byte, 64)
	if _, err := io.CopyBuffer(io.Discard, pr, buf); err != nil {
		t.Fatalf("copy failed: %v", err)
	}

	if len(reports) == 0 {
		t.Fatal("no progress reported")
	}
	for i := 1; i < len(reports); i++ {
		if reports[i] <= reports[i-1] {
			t.Fatalf("progress regressed: %v", reports)
		}
	}
	if last := reports[len(reports)-1]; last != 100 {
		t.Errorf("final progress = %d, want 100", last)
	}
}

func TestProgressReaderRounding(t *testing.T) {
	tests := []struct {
		name  string
		total int64
		reads []int
		want  []int
	}{
		{
			name:  "halfway rounds up",
			total: 200,
			reads: []int{101},
			want:  []int{51},
		},
		{
			name:  "rounds to nearest",
			total: 3,
			reads: []int{1, 1, 1},
			want:  []int{33, 67, 100},
		},
		{
			name:  "overshoot clamps to 100",
			total: 10,
			reads: []int{10, 5},
			want:  []int{100},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			totalBytes := 0
			for _, n := range tt.reads {
				totalBytes += n
			}
			var reports []int
			pr := newProgressReader(bytes.NewReader(make([]byte, totalBytes)), tt.total, func(pct int) {
				reports = append(reports, pct)
			})

			for _, n := range tt.reads {
				if _, err := io.ReadFull(pr, make([]byte, n)); err != nil {
					t.Fatalf("read: %v", err)
				}
			}

			if len(reports) != len(tt.want) {
				t.Fatalf("reports = %v, want %v", reports, tt.want)
			}
			for i := range tt.want {
				if reports[i] != tt.want[i] {
					t.Errorf("report %d = %d, want %d", i, reports[i], tt.want[i])
				}
			}
		})
	}
}

func TestProgressReaderNilCallback(t *testing.T) {
	pr := newProgressReader(bytes.NewReader(make([]byte, 100)), 100, nil)
	if _, err := io.Copy(io.Discard, pr); err != nil {
		t.Fatalf("copy failed: %v", err)
	}
}

func TestProgressReaderUnknownTotal(t *testing.T) {
	called := false
	pr := newProgressReader(bytes.NewReader(make([]byte, 100)), 0, func(int) { called = true })
	if _, err := io.Copy(io.Discard, pr); err != nil {
		t.Fatalf("copy failed: %v", err)
	}
	if called {
		t.Error("progress reported with unknown total")
	}
}
