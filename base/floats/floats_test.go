package floats_test

import (
	"math"
	"slices"
	"testing"

	"example.com/cycle-timer/base/floats"
)

func TestMedian(t *testing.T) {
	tests := []struct {
		name      string
		input     []float64
		want      float64
		wantPanic bool
	}{
		{
			name:      "Nil slice",
			input:     nil,
			wantPanic: true,
		},
		{
			name:      "Empty slice",
			input:     []float64{},
			wantPanic: true,
		},
		{
			name:  "Single element",
			input: []float64{24.576},
			want:  24.576,
		},
		{
			name:  "Two elements",
			input: []float64{1.0, 2.0},
			want:  1.5,
		},
		{
			name:  "Three elements",
			input: []float64{3.0, 1.0, 2.0},
			want:  2.0,
		},
		{
			name:  "Four elements",
			input: []float64{4.0, 1.0, 3.0, 2.0},
			want:  2.5,
		},
		{
			name:  "Negative values",
			input: []float64{-1.0, -2.0, -3.0, -4.0, -5.0},
			want:  -3.0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.wantPanic {
				defer func() {
					if r := recover(); r == nil {
						t.Errorf("expected panic, got none")
					}
				}()
				_ = floats.Median(tt.input)
			} else {
				input := slices.Clone(tt.input)
				got := floats.Median(input)
				if got != tt.want {
					t.Errorf("Median(%v) = %v, want %v", tt.input, got, tt.want)
				}
				if !slices.Equal(input, tt.input) {
					t.Errorf("Median(%v) modified its input", tt.input)
				}
			}
		})
	}
}

func TestMeanStddev(t *testing.T) {
	tests := []struct {
		name       string
		input      []float64
		wantMean   float64
		wantStddev float64
	}{
		{
			name:       "Single element",
			input:      []float64{3.0},
			wantMean:   3.0,
			wantStddev: 0.0,
		},
		{
			name:       "Constant",
			input:      []float64{2.0, 2.0, 2.0, 2.0},
			wantMean:   2.0,
			wantStddev: 0.0,
		},
		{
			name:       "Simple",
			input:      []float64{2.0, 4.0, 4.0, 4.0, 5.0, 5.0, 7.0, 9.0},
			wantMean:   5.0,
			wantStddev: math.Sqrt(32.0 / 7.0),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mean, stddev := floats.MeanStddev(tt.input)
			if math.Abs(mean-tt.wantMean) > 1e-12 {
				t.Errorf("MeanStddev(%v): mean = %v, want %v", tt.input, mean, tt.wantMean)
			}
			if math.Abs(stddev-tt.wantStddev) > 1e-12 {
				t.Errorf("MeanStddev(%v): stddev = %v, want %v", tt.input, stddev, tt.wantStddev)
			}
		})
	}

	t.Run("Empty slice", func(t *testing.T) {
		defer func() {
			if r := recover(); r == nil {
				t.Errorf("MeanStddev of empty slice did not panic")
			}
		}()
		floats.MeanStddev(nil)
	})
}
