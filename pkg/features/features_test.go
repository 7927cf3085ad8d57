package features

import (
	"errors"
	"io"
	"log/slog"
	"math"
	"reflect"
	"strings"
	"testing"
)

func TestValidateVector(t *testing.T) {
	tests := []struct {
		name    string
		vec     []float64
		wantErr error
	}{
		{name: "valid", vec: []float64{5.1, 3.5, 1.4, 0.2}},
		{name: "zeros", vec: []float64{0, 0, 0, 0}},
		{name: "empty", vec: []float64{}, wantErr: ErrArity},
		{name: "nil", vec: nil, wantErr: ErrArity},
		{name: "too short", vec: []float64{1, 2, 3}, wantErr: ErrArity},
		{name: "too long", vec: []float64{1, 2, 3, 4, 5}, wantErr: ErrArity},
		{name: "NaN", vec: []float64{1, math.NaN(), 3, 4}, wantErr: ErrNotFinite},
		{name: "Inf", vec: []float64{1, 2, math.Inf(1), 4}, wantErr: ErrNotFinite},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateVector(tt.vec)
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("ValidateVector() error = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("ValidateVector() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateVector_ArityMessage(t *testing.T) {
	err := ValidateVector(nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "exactly 4 features required") {
		t.Errorf("message %q does not state the arity requirement", err.Error())
	}
}

func TestClassName(t *testing.T) {
	for i, want := range []string{"setosa", "versicolor", "virginica"} {
		if got := ClassName(i); got != want {
			t.Errorf("ClassName(%d) = %q, want %q", i, got, want)
		}
	}

	defer func() {
		if recover() == nil {
			t.Error("ClassName(3) should panic")
		}
	}()
	ClassName(3)
}

func TestNames_ReturnsCopies(t *testing.T) {
	f, tn := Names()
	f[0] = "changed"
	tn[0] = "changed"
	if FeatureNames[0] != "sepal_length" || TargetNames[0] != "setosa" {
		t.Error("Names() must not alias the package tables")
	}
}

func TestLoadIris(t *testing.T) {
	ds, err := LoadIris()
	if err != nil {
		t.Fatalf("LoadIris() error = %v", err)
	}
	if ds.Len() != 150 {
		t.Fatalf("Len() = %d, want 150", ds.Len())
	}

	counts := make([]int, NumClasses)
	for _, y := range ds.Y {
		counts[y]++
	}
	for c, n := range counts {
		if n != 50 {
			t.Errorf("class %d has %d samples, want 50", c, n)
		}
	}

	want := []float64{5.1, 3.5, 1.4, 0.2}
	if !reflect.DeepEqual(ds.X[0], want) {
		t.Errorf("first row = %v, want %v", ds.X[0], want)
	}
}

func TestReadCSV_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{name: "empty", input: ""},
		{name: "header only", input: "a,b,c,d,target\n"},
		{name: "bad number", input: "a,b,c,d,target\n1,x,3,4,0\n"},
		{name: "bad label", input: "a,b,c,d,target\n1,2,3,4,7\n"},
		{name: "short row", input: "a,b,c,d,target\n1,2,3,0\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ReadCSV(strings.NewReader(tt.input)); err == nil {
				t.Error("ReadCSV() expected error, got nil")
			}
		})
	}
}

func TestQuantile(t *testing.T) {
	values := []float64{4, 1, 3, 2, 5}
	tests := []struct {
		q    float64
		want float64
	}{
		{0, 1},
		{0.25, 2},
		{0.5, 3},
		{0.75, 4},
		{1, 5},
	}
	for _, tt := range tests {
		if got := Quantile(values, tt.q); got != tt.want {
			t.Errorf("Quantile(%v) = %v, want %v", tt.q, got, tt.want)
		}
	}

	// linear interpolation between ranks
	if got := Quantile([]float64{1, 2, 3, 4}, 0.25); math.Abs(got-1.75) > 1e-12 {
		t.Errorf("Quantile(0.25) = %v, want 1.75", got)
	}

	if values[0] != 4 {
		t.Error("Quantile must not reorder its input")
	}
}

func TestDetectOutliers(t *testing.T) {
	X := [][]float64{
		{1, 10}, {2, 11}, {3, 12}, {4, 13}, {5, 14},
		{100, 12},
		{3, -50},
	}

	report := DetectOutliers(X)
	if !reflect.DeepEqual(report.Rows, []int{5, 6}) {
		t.Errorf("Rows = %v, want [5 6]", report.Rows)
	}
	if len(report.Bounds) != 2 {
		t.Fatalf("Bounds len = %d, want 2", len(report.Bounds))
	}
	b := report.Bounds[0]
	if b.Lower != b.Q1-1.5*(b.Q3-b.Q1) || b.Upper != b.Q3+1.5*(b.Q3-b.Q1) {
		t.Errorf("bounds %+v are not Q1/Q3 -/+ 1.5*IQR", b)
	}
}

func TestPreprocess_KeepsRows(t *testing.T) {
	ds, err := LoadIris()
	if err != nil {
		t.Fatal(err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	out, report := Preprocess(ds.X, logger)
	if len(out) != ds.Len() {
		t.Fatalf("Preprocess() returned %d rows, want %d", len(out), ds.Len())
	}
	if report.Count() == 0 {
		t.Error("iris sepal_width has IQR outliers, report is empty")
	}
	for i := range out {
		if !reflect.DeepEqual(out[i], ds.X[i]) {
			t.Fatalf("row %d changed", i)
		}
	}
}

func TestTrainTestSplit(t *testing.T) {
	ds, err := LoadIris()
	if err != nil {
		t.Fatal(err)
	}

	s1, err := TrainTestSplit(ds, DefaultTestRatio, DefaultSeed)
	if err != nil {
		t.Fatalf("TrainTestSplit() error = %v", err)
	}
	if len(s1.TestX) != 30 || len(s1.TestY) != 30 {
		t.Errorf("test size = %d/%d, want 30", len(s1.TestX), len(s1.TestY))
	}
	if len(s1.TrainX) != 120 || len(s1.TrainY) != 120 {
		t.Errorf("train size = %d/%d, want 120", len(s1.TrainX), len(s1.TrainY))
	}

	s2, err := TrainTestSplit(ds, DefaultTestRatio, DefaultSeed)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(s1, s2) {
		t.Error("same seed must produce the same split")
	}

	s3, err := TrainTestSplit(ds, DefaultTestRatio, 7)
	if err != nil {
		t.Fatal(err)
	}
	if reflect.DeepEqual(s1.TestY, s3.TestY) && reflect.DeepEqual(s1.TestX, s3.TestX) {
		t.Error("different seeds should produce different splits")
	}
}

func TestTrainTestSplit_InvalidArgs(t *testing.T) {
	ds := Dataset{X: [][]float64{{1, 2, 3, 4}}, Y: []int{0}}
	if _, err := TrainTestSplit(ds, 0.2, 1); err == nil {
		t.Error("expected error for single-sample dataset")
	}

	ds, _ = LoadIris()
	for _, r := range []float64{0, 1, -0.1, 1.5} {
		if _, err := TrainTestSplit(ds, r, 1); err == nil {
			t.Errorf("expected error for ratio %v", r)
		}
	}
}
