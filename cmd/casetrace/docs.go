package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/casetrace/casetrace/internal/home"
	"github.com/casetrace/casetrace/internal/store"
)

var docsCopyIntoHome bool

var docsCmd = &cobra.Command{
	Use:   "docs",
	Short: "Manage case documents in the local database",
}

var docsAddCmd = &cobra.Command{
	Use:   "add <case-id> <file>...",
	Short: "Register document files with a case",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		caseID := args[0]
		files := args[1:]

		h, st, err := openLocalStore()
		if err != nil {
			return err
		}
		defer st.Close()

		if docsCopyIntoHome {
			if err := h.EnsureCaseDocumentsDir(caseID); err != nil {
				return err
			}
		}

		for _, f := range files {
			path, err := filepath.Abs(f)
			if err != nil {
				return err
			}
			if _, err := os.Stat(path); err != nil {
				return fmt.Errorf("document %s: %w", f, err)
			}

			name := filepath.Base(path)
			if docsCopyIntoHome {
				dst := h.CaseDocumentPath(caseID, name)
				if err := copyFile(path, dst); err != nil {
					return fmt.Errorf("copy %s: %w", f, err)
				}
				path = dst
			}

			doc := &store.Document{
				ID:     uuid.NewString(),
				CaseID: caseID,
				Name:   name,
				Path:   path,
			}
			if err := st.CreateDocument(cmd.Context(), doc); err != nil {
				return fmt.Errorf("register %s: %w", name, err)
			}
			fmt.Printf("%s  %s\n", doc.ID, name)
		}
		return nil
	},
}

var docsListCmd = &cobra.Command{
	Use:   "list <case-id>",
	Short: "List documents registered with a case",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, st, err := openLocalStore()
		if err != nil {
			return err
		}
		defer st.Close()

		docs, err := st.ListDocuments(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		for _, d := range docs {
			mark := " "
			if d.HasText() {
				mark = "x"
			}
			fmt.Printf("[%s] %-36s %s\n", mark, d.ID, d.Name)
		}
		return nil
	},
}

// openLocalStore opens the sqlite store under the home directory.
func openLocalStore() (*home.Dir, *store.SQLiteStore, error) {
	h, err := home.New(homeDir)
	if err != nil {
		return nil, nil, err
	}
	if err := h.EnsureExists(); err != nil {
		return nil, nil, err
	}
	st, err := store.OpenSQLite(h.DatabasePath())
	if err != nil {
		return nil, nil, fmt.Errorf("open job store: %w", err)
	}
	return h, st, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func init() {
	docsAddCmd.Flags().BoolVar(&docsCopyIntoHome, "copy", false, "Copy files into the casetrace home directory")

	docsCmd.AddCommand(docsAddCmd)
	docsCmd.AddCommand(docsListCmd)
	rootCmd.AddCommand(docsCmd)
}
