// Command import_books loads a CSV catalogue into the library database.
//
// Each row holds title, author and optionally genre and published year. A
// header row starting with "title" is skipped, as are books whose title and
// author are already catalogued.
package main

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/241209-JavaReactAWS/sharvani-rolando-sanjana-project1/config"
	"github.com/241209-JavaReactAWS/sharvani-rolando-sanjana-project1/library"
	"github.com/241209-JavaReactAWS/sharvani-rolando-sanjana-project1/logging"
)

// importer stands in for an admin session.
var importer = &library.Caller{Username: "import_books", Role: library.RoleAdmin}

type result struct {
	Imported []*library.Book
	Skipped  int
	Errors   int
}

func main() {
	var configPath string
	cmd := &cobra.Command{
		Use:          "import_books <file.csv>",
		Short:        "Import books from a CSV file",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			log := logging.New(cfg.Log).WithComponent("import")

			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			mgr, err := library.NewManager(library.Options{
				Driver: library.Driver(cfg.Database.Driver),
				DSN:    cfg.DSN(),
			})
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer mgr.Close()

			fmt.Printf("Importing books from %s...\n", args[0])
			res, err := importBooks(cmd.Context(), mgr.Books, f, log)
			if err != nil {
				return err
			}
			printSummary(res)
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "YAML config file (default $LIBRARY_CONFIG)")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func importBooks(ctx context.Context, books *library.BookService, r io.Reader, log *logging.Logger) (*result, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	res := &result{}
	for line := 1; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return res, nil
		}
		if err != nil {
			return res, fmt.Errorf("read csv: %w", err)
		}
		if line == 1 && len(rec) > 0 && strings.EqualFold(strings.TrimSpace(rec[0]), "title") {
			continue
		}

		in, err := parseRecord(rec)
		if err != nil {
			log.Warn("skipping malformed row", "line", line, "error", err)
			res.Errors++
			continue
		}
		b, err := books.CreateNewBook(ctx, in, importer)
		switch {
		case library.IsConflict(err, library.ConflictTitleAndAuthorAlreadyExists):
			log.Debug("already catalogued", "title", in.Title, "author", in.Author)
			res.Skipped++
		case err != nil:
			log.WithError(err).Warn("import failed", "line", line, "title", in.Title)
			res.Errors++
		default:
			log.Debug("imported", "id", b.ID, "title", b.Title)
			res.Imported = append(res.Imported, b)
		}
	}
}

func parseRecord(rec []string) (library.NewBook, error) {
	if len(rec) < 2 {
		return library.NewBook{}, fmt.Errorf("want at least title and author, got %d fields", len(rec))
	}
	in := library.NewBook{Title: rec[0], Author: rec[1]}
	if len(rec) > 2 {
		in.Genre = strings.TrimSpace(rec[2])
	}
	if len(rec) > 3 && strings.TrimSpace(rec[3]) != "" {
		year, err := strconv.Atoi(strings.TrimSpace(rec[3]))
		if err != nil {
			return library.NewBook{}, fmt.Errorf("published year %q: %w", rec[3], err)
		}
		in.PublishedYear = year
	}
	return in, nil
}

func printSummary(res *result) {
	fmt.Printf("\nImport complete!\n")
	fmt.Printf("Successfully imported: %d books\n", len(res.Imported))
	fmt.Printf("Already catalogued: %d\n", res.Skipped)
	fmt.Printf("Errors: %d\n", res.Errors)

	if len(res.Imported) == 0 {
		return
	}
	fmt.Println("\nImported books:")
	fmt.Printf("%-4s %-50s %-30s\n", "ID", "Title", "Author")
	fmt.Println(strings.Repeat("-", 86))
	for _, b := range res.Imported {
		fmt.Printf("%-4d %-50s %-30s\n", b.ID, truncateString(b.Title, 50), truncateString(b.Author, 30))
	}
}

func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
