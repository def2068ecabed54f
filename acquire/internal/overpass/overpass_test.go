package overpass

import (
	"context"
	"encoding/csv"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const sample = `{
  "version": 0.6,
  "elements": [
    {"type": "node", "id": 1, "lat": 48.8566, "lon": 2.3522, "tags": {"man_made": "surveillance", "start_date": "2019-06-01"}},
    {"type": "node", "id": 2, "lat": 45.75, "lon": 4.85, "tags": {"surveillance": "public"}},
    {"type": "way", "id": 3, "tags": {"survey:date": "2021-11"}},
    {"type": "node", "id": 4, "lat": 43.3, "lon": 5.4}
  ]
}`

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()
	recs, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("csv: %v", err)
	}
	return recs
}

func TestQuery_GET(t *testing.T) {
	// WHAT: The query travels as data=, elements become Lat/Long/Timestamp rows.
	// WHY: type and id are dropped; tags collapse to an extracted date.
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("method = %s", r.Method)
		}
		gotQuery = r.URL.Query().Get("data")
		w.Write([]byte(sample))
	}))
	defer srv.Close()

	out := filepath.Join(t.TempDir(), "osm_cleaned.csv")
	n, err := New(Config{}, nil).Query(context.Background(), srv.URL, DefaultQuery, out)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if n != 4 {
		t.Errorf("rows = %d, want 4", n)
	}
	if gotQuery != DefaultQuery {
		t.Errorf("query not forwarded: %q", gotQuery)
	}

	recs := readCSV(t, out)
	want := [][]string{
		{"Lat", "Long", "Timestamp"},
		{"48.8566", "2.3522", "2019-06"},
		{"45.75", "4.85", ""},
		{"", "", "2021-11"},
		{"43.3", "5.4", ""},
	}
	if len(recs) != len(want) {
		t.Fatalf("got %v", recs)
	}
	for i := range want {
		if strings.Join(recs[i], ",") != strings.Join(want[i], ",") {
			t.Errorf("row %d = %v, want %v", i, recs[i], want[i])
		}
	}
}

func TestQuery_POST(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		if r.FormValue("data") == "" {
			t.Error("empty form data")
		}
		w.Write([]byte(`{"elements": []}`))
	}))
	defer srv.Close()

	out := filepath.Join(t.TempDir(), "osm.csv")
	n, err := New(Config{Post: true}, nil).Query(context.Background(), srv.URL, DefaultQuery, out)
	if err != nil || n != 0 {
		t.Fatalf("Query = %d, %v", n, err)
	}
	if recs := readCSV(t, out); len(recs) != 1 {
		t.Errorf("want header only, got %v", recs)
	}
}

func TestQuery_MissingElements(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"remark": "runtime error"}`))
	}))
	defer srv.Close()

	out := filepath.Join(t.TempDir(), "osm.csv")
	n, err := New(Config{}, nil).Query(context.Background(), srv.URL, DefaultQuery, out)
	if err != nil || n != 0 {
		t.Fatalf("Query = %d, %v", n, err)
	}
}

func TestQuery_FailuresWriteNothing(t *testing.T) {
	// WHAT: HTTP errors and bad JSON leave no file.
	// WHY: A partial table would be taken for a real (empty) result.
	cases := map[string]http.HandlerFunc{
		"status": func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "too many requests", http.StatusTooManyRequests)
		},
		"json": func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"elements": [`))
		},
	}
	for name, h := range cases {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(h)
			defer srv.Close()
			out := filepath.Join(t.TempDir(), "osm.csv")
			if _, err := New(Config{}, nil).Query(context.Background(), srv.URL, DefaultQuery, out); err == nil {
				t.Fatal("expected error")
			}
			if _, err := os.Stat(out); !os.IsNotExist(err) {
				t.Error("file written on failure")
			}
		})
	}
}

func TestDecode_TagShapes(t *testing.T) {
	// WHAT: Tags given as a serialized string still yield a date; unreadable tags yield none.
	// WHY: One element with odd tags must not discard every other node of the response.
	in := `{"elements": [
		{"type": "node", "id": 1, "lat": 48.85, "lon": 2.35, "tags": {"start_date": "2019-06-01"}},
		{"type": "node", "id": 2, "lat": 45.75, "lon": 4.85, "tags": "{'start_date': '2020-01'}"},
		{"type": "node", "id": 3, "lat": 43.3, "lon": 5.4, "tags": "{'date': }"},
		{"type": "node", "id": 4, "lat": 47.2, "lon": -1.55, "tags": ["2021-01"]}
	]}`
	nodes, err := Decode(strings.NewReader(in))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(nodes) != 4 {
		t.Fatalf("nodes = %d, want 4", len(nodes))
	}
	want := []string{"2019-06", "2020-01", "", ""}
	for i, n := range nodes {
		if got := n.Row()[2]; got != want[i] {
			t.Errorf("node %d timestamp = %q, want %q", i+1, got, want[i])
		}
	}
}
