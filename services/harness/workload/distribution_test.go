// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package workload

import (
	"testing"

	"github.com/AleutianAI/gclab/services/harness/failure"
)

func TestParseSizeSpec(t *testing.T) {
	tests := []struct {
		input   string
		want    SizeSpec
		wantErr bool
	}{
		{"fixed(1024)", Fixed(1024), false},
		{" Fixed( 64 ) ", Fixed(64), false},
		{"2048", Fixed(2048), false},
		{"uniform(512,4096)", Uniform(512, 4096), false},
		{"uniform(512, 4096)", Uniform(512, 4096), false},
		{"exponential(1024)", Exponential(1024), false},
		{"exp(10)", Exponential(10), false},
		{"fixed(0)", SizeSpec{}, true},
		{"0", SizeSpec{}, true},
		{"uniform(10,1)", SizeSpec{}, true},
		{"uniform(10)", SizeSpec{}, true},
		{"pareto(10)", SizeSpec{}, true},
		{"fixed(abc)", SizeSpec{}, true},
		{"fixed", SizeSpec{}, true},
		{"", SizeSpec{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseSizeSpec(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseSizeSpec(%q) = %v, want error", tt.input, got)
				}
				if !failure.IsConfiguration(err) {
					t.Errorf("error %v is not a configuration error", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseSizeSpec(%q) error = %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("ParseSizeSpec(%q) = %+v, want %+v", tt.input, got, tt.want)
			}
		})
	}
}

func TestSizeSpec_StringRoundTrip(t *testing.T) {
	for _, spec := range []SizeSpec{Fixed(1), Uniform(3, 9), Exponential(77)} {
		got, err := ParseSizeSpec(spec.String())
		if err != nil || got != spec {
			t.Errorf("round trip of %s = %+v, %v", spec, got, err)
		}
	}
}

func TestSizeSpec_Mean(t *testing.T) {
	if got := Uniform(10, 20).Mean(); got != 15 {
		t.Errorf("uniform mean = %v, want 15", got)
	}
	if got := Exponential(64).Mean(); got != 64 {
		t.Errorf("exponential mean = %v, want 64", got)
	}
}

func TestParseRetentionClass(t *testing.T) {
	for _, c := range []RetentionClass{ClassTransient, ClassWeak, ClassStrong} {
		got, err := ParseRetentionClass(c.String())
		if err != nil || got != c {
			t.Errorf("ParseRetentionClass(%q) = %v, %v", c.String(), got, err)
		}
	}
	if _, err := ParseRetentionClass("soft"); !failure.IsConfiguration(err) {
		t.Errorf("expected configuration error, got %v", err)
	}
}
