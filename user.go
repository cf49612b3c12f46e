package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"library-service/library"
)

// operator is the identity of whoever runs the CLI. It holds admin
// capabilities and matches no stored user.
var operator = &library.Principal{Name: "cli", Role: library.RoleAdmin}

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage users",
	Long:  "Create, list, and manage library accounts. Use it to bootstrap the first administrator.",
}

var userListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all users",
	Run:   runUserList,
}

var userCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new user",
	Run:   runUserCreate,
}

var userResetPasswordCmd = &cobra.Command{
	Use:   "reset-password [email]",
	Short: "Reset user password",
	Args:  cobra.ExactArgs(1),
	Run:   runUserResetPassword,
}

var userSetRoleCmd = &cobra.Command{
	Use:   "set-role [email] [role]",
	Short: "Change a user's role (admin, librarian, member)",
	Args:  cobra.ExactArgs(2),
	Run:   runUserSetRole,
}

var userActivateCmd = &cobra.Command{
	Use:   "activate [email]",
	Short: "Re-enable a deactivated user",
	Args:  cobra.ExactArgs(1),
	Run:   func(cmd *cobra.Command, args []string) { setActive(args[0], true) },
}

var userDeactivateCmd = &cobra.Command{
	Use:   "deactivate [email]",
	Short: "Deactivate a user and end their sessions",
	Args:  cobra.ExactArgs(1),
	Run:   func(cmd *cobra.Command, args []string) { setActive(args[0], false) },
}

var (
	userName     string
	userEmail    string
	userPassword string
	userRole     string
)

func init() {
	rootCmd.AddCommand(userCmd)
	userCmd.AddCommand(userListCmd)
	userCmd.AddCommand(userCreateCmd)
	userCmd.AddCommand(userResetPasswordCmd)
	userCmd.AddCommand(userSetRoleCmd)
	userCmd.AddCommand(userActivateCmd)
	userCmd.AddCommand(userDeactivateCmd)

	userCreateCmd.Flags().StringVarP(&userName, "name", "n", "", "Display name (required)")
	userCreateCmd.Flags().StringVarP(&userEmail, "email", "e", "", "User email (required)")
	userCreateCmd.Flags().StringVarP(&userPassword, "password", "p", "", "User password (prompted when omitted)")
	userCreateCmd.Flags().StringVarP(&userRole, "role", "r", "member", "User role (admin/librarian/member)")
	userCreateCmd.MarkFlagRequired("name")
	userCreateCmd.MarkFlagRequired("email")

	userResetPasswordCmd.Flags().StringVarP(&userPassword, "password", "p", "", "New password (prompted when omitted)")
}

func runUserList(cmd *cobra.Command, args []string) {
	_, mgr, cleanup := openManager()
	defer cleanup()

	users, err := mgr.ListUsers(context.Background())
	if err != nil {
		log.Fatalf("Failed to list users: %v", err)
	}
	if len(users) == 0 {
		fmt.Println("No users registered.")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tEMAIL\tROLE\tACTIVE\tCREATED")
	for _, u := range users {
		active := "yes"
		if !u.IsActive {
			active = "no"
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n",
			u.ID, library.TruncateString(u.Name, 30), u.Email, u.Role, active, u.CreatedAt)
	}
	w.Flush()
}

func runUserCreate(cmd *cobra.Command, args []string) {
	role, err := library.ParseRole(userRole)
	if err != nil {
		log.Fatalf("Invalid role: %s (must be admin, librarian or member)", userRole)
	}

	_, mgr, cleanup := openManager()
	defer cleanup()

	password := passwordOrPrompt(userPassword, userEmail)
	user, err := mgr.CreateUser(context.Background(), userName, userEmail, password, role)
	if err != nil {
		log.Fatalf("Failed to create user: %v", err)
	}

	fmt.Printf("User %s created successfully (ID: %d, role: %s)\n", user.Email, user.ID, user.Role)
}

func runUserResetPassword(cmd *cobra.Command, args []string) {
	_, mgr, cleanup := openManager()
	defer cleanup()

	ctx := context.Background()
	user := lookupUser(ctx, mgr, args[0])

	password := passwordOrPrompt(userPassword, fmt.Sprintf("%s (ID: %d)", user.Name, user.ID))
	if err := mgr.ResetPassword(ctx, user.ID, password); err != nil {
		log.Fatalf("Failed to reset password: %v", err)
	}
	recordCLIAudit(ctx, mgr, library.ActionPasswordReset, user.ID, nil)

	fmt.Printf("Password successfully reset for %s (ID: %d)\n", user.Name, user.ID)
}

func runUserSetRole(cmd *cobra.Command, args []string) {
	role, err := library.ParseRole(args[1])
	if err != nil {
		log.Fatalf("Invalid role: %s (must be admin, librarian or member)", args[1])
	}

	_, mgr, cleanup := openManager()
	defer cleanup()

	ctx := context.Background()
	user := lookupUser(ctx, mgr, args[0])
	if _, err := mgr.SetUserRole(ctx, operator, user.ID, role); err != nil {
		log.Fatalf("Failed to change role: %v", err)
	}
	recordCLIAudit(ctx, mgr, library.ActionUserRole, user.ID, map[string]string{"role": string(role)})

	fmt.Printf("%s is now %s\n", user.Email, role)
}

func setActive(email string, active bool) {
	_, mgr, cleanup := openManager()
	defer cleanup()

	ctx := context.Background()
	user := lookupUser(ctx, mgr, email)
	if _, _, err := mgr.SetUserActive(ctx, operator, user.ID, active); err != nil {
		log.Fatalf("Failed to update user: %v", err)
	}

	if active {
		recordCLIAudit(ctx, mgr, library.ActionUserUnblock, user.ID, nil)
		fmt.Printf("%s activated\n", user.Email)
	} else {
		recordCLIAudit(ctx, mgr, library.ActionUserBlock, user.ID, nil)
		fmt.Printf("%s deactivated, all sessions ended\n", user.Email)
	}
}

func lookupUser(ctx context.Context, mgr *library.LibraryManager, email string) *library.User {
	user, err := mgr.GetUserByEmail(ctx, email)
	if err != nil {
		log.Fatalf("User %s not found: %v", email, err)
	}
	return user
}

// recordCLIAudit logs a command-line change with no acting user and a
// "cli" source address.
func recordCLIAudit(ctx context.Context, mgr *library.LibraryManager, action string, userID int64, details any) {
	err := mgr.Audit(ctx, library.AuditEntry{
		Action:     action,
		EntityType: library.EntityUser,
		EntityID:   &userID,
		Details:    details,
		IP:         "cli",
	})
	if err != nil {
		fmt.Printf("Warning: could not write audit entry: %v\n", err)
	}
}
