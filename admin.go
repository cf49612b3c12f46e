package main

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/spf13/cobra"

	"library-service/library"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	Run:   runMigrate,
}

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Repair cached book availability from the checkout ledger",
	Run:   runReconcile,
}

var booksCmd = &cobra.Command{
	Use:   "books",
	Short: "Inspect and edit the catalog",
}

var booksListCmd = &cobra.Command{
	Use:   "list [search]",
	Short: "List books, optionally matching title or author",
	Args:  cobra.MaximumNArgs(1),
	Run:   runBooksList,
}

var booksAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a book to the catalog",
	Run:   runBooksAdd,
}

var (
	bookTitle    string
	bookAuthor   string
	bookYear     int64
	bookLanguage string
)

func init() {
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(reconcileCmd)
	rootCmd.AddCommand(booksCmd)
	booksCmd.AddCommand(booksListCmd)
	booksCmd.AddCommand(booksAddCmd)

	booksAddCmd.Flags().StringVarP(&bookTitle, "title", "t", "", "Book title (required)")
	booksAddCmd.Flags().StringVarP(&bookAuthor, "author", "a", "", "Book author (required)")
	booksAddCmd.Flags().Int64VarP(&bookYear, "year", "y", 0, "Publication year")
	booksAddCmd.Flags().StringVarP(&bookLanguage, "language", "l", "", "Language")
	booksAddCmd.MarkFlagRequired("title")
	booksAddCmd.MarkFlagRequired("author")
}

func runMigrate(cmd *cobra.Command, args []string) {
	cfg, mgr, cleanup := openManager()
	defer cleanup()

	version, err := mgr.Database().SchemaVersion(context.Background())
	if err != nil {
		log.Fatalf("Failed to read schema version: %v", err)
	}
	fmt.Printf("Database %s is at schema version %d\n", cfg.Database.Path, version)
}

func runReconcile(cmd *cobra.Command, args []string) {
	_, mgr, cleanup := openManager()
	defer cleanup()

	ctx := context.Background()
	repaired, err := mgr.ReconcileAvailability(ctx)
	if err != nil {
		log.Fatalf("Failed to reconcile availability: %v", err)
	}
	if len(repaired) == 0 {
		fmt.Println("All availability flags match the checkout ledger.")
		return
	}

	err = mgr.Audit(ctx, library.AuditEntry{
		Action:     library.ActionReconcile,
		EntityType: library.EntityBook,
		Details:    map[string][]int64{"book_ids": repaired},
		IP:         "cli",
	})
	if err != nil {
		fmt.Printf("Warning: could not write audit entry: %v\n", err)
	}
	fmt.Printf("Repaired availability of %d book(s): %v\n", len(repaired), repaired)
}

func runBooksList(cmd *cobra.Command, args []string) {
	_, mgr, cleanup := openManager()
	defer cleanup()

	search := ""
	if len(args) == 1 {
		search = args[0]
	}
	books, err := mgr.ListBooks(context.Background(), search)
	if err != nil {
		log.Fatalf("Failed to list books: %v", err)
	}
	if len(books) == 0 {
		fmt.Println("No books in library.")
		return
	}

	fmt.Printf("%-5s %-30s %-25s %-6s %-10s\n", "ID", "Title", "Author", "Year", "Available")
	fmt.Println(strings.Repeat("-", 80))
	for _, b := range books {
		fmt.Println(library.PrettyBook(b))
	}
}

func runBooksAdd(cmd *cobra.Command, args []string) {
	_, mgr, cleanup := openManager()
	defer cleanup()

	in := library.BookInput{Title: bookTitle, Author: bookAuthor}
	if bookYear != 0 {
		in.Year = &bookYear
	}
	if bookLanguage != "" {
		in.Language = &bookLanguage
	}

	book, err := mgr.AddBook(context.Background(), in)
	if err != nil {
		log.Fatalf("Failed to add book: %v", err)
	}
	fmt.Printf("Added book '%s' with ID %d\n", book.Title, book.ID)
}
