// Package report renders a human-readable summary of the broker's
// persistent records: registered users, login history and file uploads.
package report

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/channelgrid/stomp-broker/internal/logger"
	"github.com/channelgrid/stomp-broker/internal/store"
)

type Generator struct {
	store store.Querier
}

func NewGenerator(querier store.Querier) *Generator {
	return &Generator{store: querier}
}

// Invoke lets the generator run as a shutdown hook, emitting the final
// report to stdout.
func (g *Generator) Invoke(ctx context.Context) error {
	return g.Write(os.Stdout)
}

// Write renders the full report
func (g *Generator) Write(w io.Writer) error {
	rule := strings.Repeat("=", 80)
	fmt.Fprintln(w, rule)
	fmt.Fprintln(w, "SERVER REPORT - Generated at:", time.Now().Format("2006-01-02T15:04:05"))
	fmt.Fprintln(w, rule)

	g.writeUsers(w)
	g.writeLoginHistory(w)
	g.writeFileUploads(w)

	fmt.Fprintln(w, rule)
	return nil
}

func (g *Generator) writeUsers(w io.Writer) {
	fmt.Fprintln(w, "\n1. REGISTERED USERS:")
	fmt.Fprintln(w, strings.Repeat("-", 80))

	result, err := g.store.Query("SELECT username, registration_date FROM users ORDER BY registration_date")
	if err != nil {
		logger.ErrorF("Fail to query registered users, details: %v", err)
		fmt.Fprintf(w, "   ERROR: %v\n", err)
		return
	}
	if result.Empty() {
		fmt.Fprintln(w, "   No users registered")
		return
	}
	for _, row := range result.Rows {
		if len(row) >= 2 {
			fmt.Fprintf(w, "   Username: %s, Registered: %s\n", row[0], row[1])
		}
	}
}

func (g *Generator) writeLoginHistory(w io.Writer) {
	fmt.Fprintln(w, "\n2. LOGIN HISTORY:")
	fmt.Fprintln(w, strings.Repeat("-", 80))

	result, err := g.store.Query("SELECT username, login_time, logout_time FROM login_history ORDER BY username, login_time DESC")
	if err != nil {
		logger.ErrorF("Fail to query login history, details: %v", err)
		fmt.Fprintf(w, "   ERROR: %v\n", err)
		return
	}
	if result.Empty() {
		fmt.Fprintln(w, "   No login history")
		return
	}

	currentUser := ""
	for _, row := range result.Rows {
		if len(row) < 3 {
			continue
		}
		logoutTime := row[2]
		if logoutTime == "" {
			logoutTime = "Still logged in"
		}
		if row[0] != currentUser {
			currentUser = row[0]
			fmt.Fprintf(w, "\n   User: %s\n", currentUser)
		}
		fmt.Fprintf(w, "      Login:  %s\n", row[1])
		fmt.Fprintf(w, "      Logout: %s\n", logoutTime)
	}
}

func (g *Generator) writeFileUploads(w io.Writer) {
	fmt.Fprintln(w, "\n3. FILE UPLOADS:")
	fmt.Fprintln(w, strings.Repeat("-", 80))

	result, err := g.store.Query("SELECT username, filename, upload_time, game_channel FROM file_tracking ORDER BY username, upload_time DESC")
	if err != nil {
		logger.ErrorF("Fail to query file uploads, details: %v", err)
		fmt.Fprintf(w, "   ERROR: %v\n", err)
		return
	}
	if result.Empty() {
		fmt.Fprintln(w, "   No files uploaded")
		return
	}

	currentUser := ""
	for _, row := range result.Rows {
		if len(row) < 4 {
			continue
		}
		if row[0] != currentUser {
			currentUser = row[0]
			fmt.Fprintf(w, "\n   User: %s\n", currentUser)
		}
		fmt.Fprintf(w, "      File: %s\n", row[1])
		fmt.Fprintf(w, "      Time: %s\n", row[2])
		fmt.Fprintf(w, "      Game: %s\n", row[3])
	}
}
