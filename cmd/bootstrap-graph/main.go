package main

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/danielpatrickdp/grid-rao/internal/graph"
	"github.com/danielpatrickdp/grid-rao/internal/replay"
	"github.com/danielpatrickdp/grid-rao/internal/store"
)

// #region main
func main() {
	dbPath := flag.String("db", envOr("RAO_DB", "rao.db"), "result database to load boundaries into")
	input := flag.String("in", "", "boundary file: CSV with two country columns, or JSON [{\"a\":..,\"b\":..}]")
	sever := flag.String("sever", "", "comma-separated countries whose boundaries are removed after loading")
	flag.Parse()

	if *input == "" && *sever == "" {
		fmt.Fprintln(os.Stderr, "usage: bootstrap-graph --in boundaries.csv [--db rao.db] [--sever FR,BE]")
		os.Exit(2)
	}

	fmt.Println("=== Graph Bootstrap Tool ===")
	fmt.Printf("  DB: %s | Input: %s\n", *dbPath, *input)

	s, err := store.NewStore(*dbPath)
	if err != nil {
		log.Fatalf("failed to open store: %v", err)
	}
	defer s.Close()

	boundaryStore, err := graph.NewBoundaryStore(s.DB())
	if err != nil {
		log.Fatalf("failed to init boundary store: %v", err)
	}

	added := 0
	if *input != "" {
		pairs, err := readBoundaries(*input)
		if err != nil {
			log.Fatalf("read boundaries: %v", err)
		}
		fmt.Printf("\n--- Loading %d boundaries ---\n", len(pairs))
		for _, p := range pairs {
			if err := boundaryStore.AddBoundary(p.A, p.B); err != nil {
				log.Printf("boundary %s-%s: %v", p.A, p.B, err)
				continue
			}
			added++
		}
	}

	if *sever != "" {
		fmt.Println("\n--- Severing countries ---")
		for _, c := range strings.Split(*sever, ",") {
			c = strings.TrimSpace(c)
			if c == "" {
				continue
			}
			if err := boundaryStore.SeverCountry(c); err != nil {
				log.Printf("sever %s: %v", c, err)
				continue
			}
			fmt.Printf("  severed %s\n", c)
		}
	}

	boundaries, err := boundaryStore.Boundaries()
	if err != nil {
		log.Fatalf("list boundaries: %v", err)
	}
	countries := map[string]bool{}
	for _, b := range boundaries {
		countries[b.CountryA] = true
		countries[b.CountryB] = true
	}

	fmt.Printf("\n=== Bootstrap Complete ===\n")
	fmt.Printf("  Boundaries processed: %d\n", added)
	fmt.Printf("  Boundaries stored:    %d\n", len(boundaries))
	fmt.Printf("  Countries:            %d\n", len(countries))
}

// #endregion main

// #region input

// readBoundaries parses a CSV or JSON boundary file, chosen by extension.
func readBoundaries(path string) ([]replay.FixtureBoundary, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if strings.EqualFold(filepath.Ext(path), ".json") {
		var pairs []replay.FixtureBoundary
		if err := json.NewDecoder(f).Decode(&pairs); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		return pairs, nil
	}
	return readCSV(f)
}

// readCSV reads "country_a,country_b" rows. A header row and '#' comments are skipped.
func readCSV(r io.Reader) ([]replay.FixtureBoundary, error) {
	cr := csv.NewReader(r)
	cr.Comment = '#'
	cr.FieldsPerRecord = 2
	cr.TrimLeadingSpace = true

	var pairs []replay.FixtureBoundary
	for line := 1; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if line == 1 && strings.EqualFold(rec[0], "country_a") {
			continue
		}
		pairs = append(pairs, replay.FixtureBoundary{
			A: strings.ToUpper(strings.TrimSpace(rec[0])),
			B: strings.ToUpper(strings.TrimSpace(rec[1])),
		})
	}
	return pairs, nil
}

// #endregion input

// #region helpers
func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// #endregion helpers
