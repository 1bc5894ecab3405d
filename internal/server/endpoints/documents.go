package endpoints

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/casetrace/casetrace/internal/api"
	"github.com/casetrace/casetrace/internal/store"
	"github.com/casetrace/casetrace/internal/svcctx"
)

// RegisterDocumentRequest is the request body for registering a document
// with a case. Path points at a file on the server's filesystem; text may
// be supplied directly for documents that need no extraction.
type RegisterDocumentRequest struct {
	Name string `json:"name"`
	Path string `json:"path,omitempty"`
	Text string `json:"text,omitempty"`
}

// RegisterDocumentResponse is the response for registering a document.
type RegisterDocumentResponse struct {
	ID string `json:"id"`
}

// RegisterDocumentEndpoint handles POST /api/cases/{case_id}/documents.
type RegisterDocumentEndpoint struct{}

func (e *RegisterDocumentEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/cases/{case_id}/documents", e.handler
}

func (e *RegisterDocumentEndpoint) RequiresInit() bool { return true }

func (e *RegisterDocumentEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	var req RegisterDocumentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	if req.Path == "" && req.Text == "" {
		writeError(w, http.StatusBadRequest, "path or text is required")
		return
	}

	st := svcctx.StoreFrom(r.Context())
	if st == nil {
		writeError(w, http.StatusServiceUnavailable, "store not initialized")
		return
	}

	doc := &store.Document{
		ID:     uuid.NewString(),
		CaseID: r.PathValue("case_id"),
		Name:   req.Name,
		Path:   req.Path,
	}
	if err := st.CreateDocument(r.Context(), doc); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	// Inline text skips the extraction phase entirely.
	if req.Text != "" {
		if err := st.SaveExtractedText(r.Context(), doc.ID, req.Text, 1.0); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}

	writeJSON(w, http.StatusCreated, RegisterDocumentResponse{ID: doc.ID})
}

func (e *RegisterDocumentEndpoint) Command(getServerURL func() string) *cobra.Command {
	var name, path string
	cmd := &cobra.Command{
		Use:   "add <case-id>",
		Short: "Register a source document with a case",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if name == "" {
				return fmt.Errorf("--name is required")
			}
			client := api.NewClient(getServerURL())
			var resp RegisterDocumentResponse
			url := fmt.Sprintf("/api/cases/%s/documents", args[0])
			req := RegisterDocumentRequest{Name: name, Path: path}
			if err := client.Post(cmd.Context(), url, req, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Document name (required)")
	cmd.Flags().StringVar(&path, "path", "", "Path to the document file on the server")
	return cmd
}

// DocumentSummary is a document without its extracted text, for listings.
type DocumentSummary struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Path        string  `json:"path,omitempty"`
	Extracted   bool    `json:"extracted"`
	Confidence  float64 `json:"confidence,omitempty"`
	CreatedAt   string  `json:"created_at"`
	ExtractedAt string  `json:"extracted_at,omitempty"`
}

// ListDocumentsResponse is the response for listing case documents.
type ListDocumentsResponse struct {
	Documents []DocumentSummary `json:"documents"`
}

// ListDocumentsEndpoint handles GET /api/cases/{case_id}/documents.
type ListDocumentsEndpoint struct{}

func (e *ListDocumentsEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/cases/{case_id}/documents", e.handler
}

func (e *ListDocumentsEndpoint) RequiresInit() bool { return true }

func (e *ListDocumentsEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	st := svcctx.StoreFrom(r.Context())
	if st == nil {
		writeError(w, http.StatusServiceUnavailable, "store not initialized")
		return
	}

	docs, err := st.ListDocuments(r.Context(), r.PathValue("case_id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := ListDocumentsResponse{Documents: make([]DocumentSummary, 0, len(docs))}
	for _, d := range docs {
		s := DocumentSummary{
			ID:         d.ID,
			Name:       d.Name,
			Path:       d.Path,
			Extracted:  d.HasText(),
			Confidence: d.Confidence,
			CreatedAt:  d.CreatedAt.Format(time.RFC3339),
		}
		if d.ExtractedAt != nil {
			s.ExtractedAt = d.ExtractedAt.Format(time.RFC3339)
		}
		resp.Documents = append(resp.Documents, s)
	}

	writeJSON(w, http.StatusOK, resp)
}

func (e *ListDocumentsEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "list <case-id>",
		Short: "List documents registered with a case",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp ListDocumentsResponse
			path := fmt.Sprintf("/api/cases/%s/documents", args[0])
			if err := client.Get(cmd.Context(), path, &resp); err != nil {
				return err
			}
			if api.IsStructuredOutput() {
				return api.Output(resp)
			}
			for _, d := range resp.Documents {
				mark := " "
				if d.Extracted {
					mark = "x"
				}
				fmt.Printf("[%s] %-36s %s\n", mark, d.ID, d.Name)
			}
			return nil
		},
	}
}
