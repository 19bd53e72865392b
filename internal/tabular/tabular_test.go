package tabular

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRead(t *testing.T) {
	input := "\uFEFFL0_D0, attr0 ,attr0\n1_L0_D0,5,x\n2_L0_D0, 7 ,y\n1_L0_D0\n"
	table, err := Read(context.Background(), strings.NewReader(input), DefaultOptions())
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}

	wantCols := []string{"L0_D0", "attr0", "attr0_1"}
	if len(table.Columns) != len(wantCols) {
		t.Fatalf("columns = %v, want %v", table.Columns, wantCols)
	}
	for i, c := range wantCols {
		if table.Columns[i] != c {
			t.Errorf("column %d = %q, want %q", i, table.Columns[i], c)
		}
	}
	if table.Rows != 3 {
		t.Errorf("Rows = %d, want 3", table.Rows)
	}
	if got := table.Values["attr0"]; got[1] != "7" || got[2] != "" {
		t.Errorf("attr0 = %q", got)
	}
	if d := table.Distinct("L0_D0"); len(d) != 2 {
		t.Errorf("distinct L0_D0 = %v", d)
	}
}

func TestReadDuplicateHeaders(t *testing.T) {
	tests := []struct {
		header string
		want   []string
	}{
		{"a,a,a_1", []string{"a", "a_2", "a_1"}},
		{"a_1,a,a", []string{"a_1", "a", "a_2"}},
		{"a,a,a", []string{"a", "a_1", "a_2"}},
		{"a,a,a_2,a_2", []string{"a", "a_1", "a_2", "a_2_1"}},
	}
	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			row := strings.Repeat("v,", len(tt.want)-1) + "v"
			table, err := Read(context.Background(), strings.NewReader(tt.header+"\n"+row+"\n"), DefaultOptions())
			if err != nil {
				t.Fatalf("Read failed: %v", err)
			}
			if strings.Join(table.Columns, ",") != strings.Join(tt.want, ",") {
				t.Errorf("columns = %v, want %v", table.Columns, tt.want)
			}
			if len(table.Values) != len(tt.want) {
				t.Errorf("%d value slices for %d columns", len(table.Values), len(tt.want))
			}
			for _, c := range table.Columns {
				if len(table.Values[c]) != table.Rows {
					t.Errorf("column %s has %d values, want %d", c, len(table.Values[c]), table.Rows)
				}
			}
		})
	}
}

func TestReadEmpty(t *testing.T) {
	if _, err := Read(context.Background(), strings.NewReader(""), DefaultOptions()); err == nil {
		t.Error("expected error for an empty file")
	}

	table, err := Read(context.Background(), strings.NewReader("a,b\n"), DefaultOptions())
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if table.Rows != 0 {
		t.Errorf("Rows = %d, want 0", table.Rows)
	}
	if v, ok := table.Column("a"); !ok || len(v) != 0 {
		t.Errorf("Column(a) = %v, %v", v, ok)
	}
	if _, ok := table.Column("zzz"); ok {
		t.Error("unknown column reported present")
	}
}

func TestReadFileSemicolon(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.csv")
	if err := os.WriteFile(path, []byte("a;b\n1;2\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	table, err := ReadFile(context.Background(), path, Options{Comma: ';'})
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if table.Values["b"][0] != "2" {
		t.Errorf("b = %v", table.Values["b"])
	}

	if _, err := ReadFile(context.Background(), filepath.Join(t.TempDir(), "missing.csv"), DefaultOptions()); !os.IsNotExist(err) {
		t.Errorf("expected not-exist error, got %v", err)
	}
}
