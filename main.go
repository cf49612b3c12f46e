package main

import (
	"fmt"
	"log"
	"os"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"library-service/config"
	"library-service/library"
)

var rootCmd = &cobra.Command{
	Use:   "library-service",
	Short: "Library management backend",
	Long:  "HTTP backend and administration tool for a small library: catalog, checkouts, users and sessions.",
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// readPassword securely reads a password with masking
func readPassword(prompt string) (string, error) {
	fmt.Print(prompt)
	bytePassword, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		return "", err
	}
	fmt.Println() // Add newline after password input
	return strings.TrimSpace(string(bytePassword)), nil
}

// passwordOrPrompt returns flagValue, or asks for the password twice when
// the flag was left empty.
func passwordOrPrompt(flagValue, who string) string {
	if flagValue != "" {
		return flagValue
	}
	password, err := readPassword(fmt.Sprintf("Enter password for %s: ", who))
	if err != nil {
		log.Fatalf("Failed to read password: %v", err)
	}
	confirm, err := readPassword("Repeat password: ")
	if err != nil {
		log.Fatalf("Failed to read password: %v", err)
	}
	if password != confirm {
		log.Fatal("Passwords do not match")
	}
	return password
}

// openManager loads the configuration and opens the library database,
// applying pending migrations.
func openManager() (*config.Config, *library.LibraryManager, func()) {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	mgr, err := library.NewLibraryManager(cfg.Database.Path, library.WithSessionTTL(cfg.Session.TTL))
	if err != nil {
		log.Fatalf("Failed to open database %s: %v", cfg.Database.Path, err)
	}

	return cfg, mgr, func() { mgr.Close() }
}
