package cmd

import (
	"testing"
	"time"
)

func TestPathTemplateGenerate(t *testing.T) {
	ts := time.Date(2024, 3, 7, 15, 4, 5, 0, time.UTC)

	tests := []struct {
		name     string
		template string
		want     string
	}{
		{name: "default", template: DefaultPathTemplate, want: "person_company/person_company_3.csv.zst"},
		{name: "dated", template: "exports/{YYYY}/{MM}/{DD}/{HH}/{file}", want: "exports/2024/03/07/15/person_company_3.csv.zst"},
		{name: "ordinal", template: "{prefix}/part-{ordinal}", want: "person_company/part-3"},
		{name: "leading slash", template: "/{file}", want: "person_company_3.csv.zst"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NewPathTemplate(tt.template).Generate("/tmp/out/person_company", 3, "/tmp/out/person_company_3.csv.zst", ts)
			if got != tt.want {
				t.Fatalf("Generate() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestGenerateFilename(t *testing.T) {
	tests := []struct {
		prefix  string
		ordinal int64
		fmtExt  string
		compExt string
		want    string
	}{
		{"person_company", 1, ".csv", "", "person_company_1.csv"},
		{"person_company", 12, ".csv", ".zst", "person_company_12.csv.zst"},
		{"/data/export/people", 2, ".parquet", "", "/data/export/people_2.parquet"},
	}

	for _, tt := range tests {
		if got := GenerateFilename(tt.prefix, tt.ordinal, tt.fmtExt, tt.compExt); got != tt.want {
			t.Errorf("GenerateFilename(%q, %d) = %q, want %q", tt.prefix, tt.ordinal, got, tt.want)
		}
	}
}

func TestOutputPath(t *testing.T) {
	if got := outputPath(".", "people_1.csv"); got != "people_1.csv" {
		t.Errorf("unexpected relative path %q", got)
	}
	if got := outputPath("/var/exports", "people_1.csv"); got != "/var/exports/people_1.csv" {
		t.Errorf("unexpected joined path %q", got)
	}
	if got := outputPath("/var/exports", "/tmp/people_1.csv"); got != "/tmp/people_1.csv" {
		t.Errorf("absolute prefix should win, got %q", got)
	}
}
