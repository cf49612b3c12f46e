package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"library-service/config"
	"library-service/library"
)

// manifest is the YAML catalog accepted by the importer:
//
//	books:
//	  - title: "1984"
//	    author: George Orwell
//	    year: 1949
//	    language: English
type manifest struct {
	Books []manifestBook `yaml:"books"`
}

type manifestBook struct {
	Title    string `yaml:"title"`
	Author   string `yaml:"author"`
	Year     *int64 `yaml:"year"`
	Language string `yaml:"language"`
}

func (b manifestBook) input() library.BookInput {
	in := library.BookInput{Title: b.Title, Author: b.Author, Year: b.Year}
	if b.Language != "" {
		lang := b.Language
		in.Language = &lang
	}
	return in
}

var (
	manifestPath string
	dbPath       string
	fresh        bool
)

var rootCmd = &cobra.Command{
	Use:   "import_books",
	Short: "Bulk-load books from a YAML manifest",
	Run:   runImport,
}

func init() {
	rootCmd.Flags().StringVarP(&manifestPath, "manifest", "m", "books.yaml", "YAML manifest listing the books")
	rootCmd.Flags().StringVar(&dbPath, "db", "", "Database path (defaults to database.path from the config)")
	rootCmd.Flags().BoolVar(&fresh, "fresh", false, "Remove the existing database files before importing")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadManifest(path string) (*manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var m manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	if len(m.Books) == 0 {
		return nil, fmt.Errorf("manifest %s lists no books", path)
	}
	return &m, nil
}

func removeDatabase(path string) {
	fmt.Println("Cleaning up existing database files...")
	for _, file := range []string{path, path + "-shm", path + "-wal"} {
		if err := os.Remove(file); err != nil && !os.IsNotExist(err) {
			fmt.Printf("Warning: Could not remove %s: %v\n", file, err)
		}
	}
	fmt.Println("Database cleanup complete.")
}

func runImport(cmd *cobra.Command, args []string) {
	if dbPath == "" {
		cfg, err := config.Load()
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
		dbPath = cfg.Database.Path
	}

	m, err := loadManifest(manifestPath)
	if err != nil {
		log.Fatalf("Error: %v", err)
	}

	if fresh {
		removeDatabase(dbPath)
	}

	manager, err := library.NewLibraryManager(dbPath)
	if err != nil {
		log.Fatalf("Error opening database: %v", err)
	}
	defer manager.Close()

	ctx := context.Background()
	fmt.Printf("Importing %d books from %s...\n", len(m.Books), manifestPath)

	var imported []*library.Book
	errorCount := 0
	for i, entry := range m.Books {
		fmt.Printf("Importing: %s by %s... ", entry.Title, entry.Author)

		book, err := manager.AddBook(ctx, entry.input())
		if err != nil {
			fmt.Printf("ERROR - entry %d: %v\n", i+1, err)
			errorCount++
			continue
		}

		fmt.Printf("SUCCESS (ID: %d)\n", book.ID)
		imported = append(imported, book)
	}

	fmt.Printf("\nImport complete!\n")
	fmt.Printf("Successfully imported: %d books\n", len(imported))
	fmt.Printf("Errors: %d\n", errorCount)

	if len(imported) > 0 {
		fmt.Println("\nImported books:")
		fmt.Printf("%-5s %-50s %-30s\n", "ID", "Title", "Author")
		fmt.Println(strings.Repeat("-", 87))
		for _, book := range imported {
			fmt.Printf("%-5d %-50s %-30s\n", book.ID, library.TruncateString(book.Title, 50), library.TruncateString(book.Author, 30))
		}
	}
	if errorCount > 0 {
		os.Exit(1)
	}
}
