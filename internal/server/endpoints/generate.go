package endpoints

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dbsketch/dbsketch/internal/api"
	"github.com/dbsketch/dbsketch/internal/schema"
	"github.com/dbsketch/dbsketch/internal/svcctx"
)

// maxUploadBytes caps multipart memory for diagram uploads.
const maxUploadBytes = 32 << 20 // 32MB

// allowedImageTypes is the closed set of accepted upload content types.
var allowedImageTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/webp": true,
}

// GenerateSchemaEndpoint handles POST /generate-schema with a multipart image
// upload. It is the single externally observable operation of the pipeline.
type GenerateSchemaEndpoint struct{}

var _ api.Endpoint = (*GenerateSchemaEndpoint)(nil)

func (e *GenerateSchemaEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/generate-schema", e.handler
}

func (e *GenerateSchemaEndpoint) RequiresInit() bool { return true }

func (e *GenerateSchemaEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("failed to parse form: %v", err))
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "no file uploaded")
		return
	}
	defer file.Close()

	// Reject unsupported content types before any pipeline stage runs.
	contentType := header.Header.Get("Content-Type")
	if !allowedImageTypes[contentType] {
		writeError(w, http.StatusBadRequest, "invalid file type")
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to read upload: %v", err))
		return
	}

	extractor := svcctx.ExtractorFrom(r.Context())
	if extractor == nil {
		writeError(w, http.StatusServiceUnavailable, "pipeline not configured")
		return
	}

	ds, err := extractor.Run(r.Context(), data)
	if err != nil {
		logger := svcctx.LoggerFrom(r.Context())
		logger.Error("schema extraction failed", "error", err)
		// All pipeline failures collapse into one external error shape.
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("processing failed: %v", err))
		return
	}

	writeJSON(w, http.StatusOK, ds)
}

func (e *GenerateSchemaEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "generate <image-file>",
		Short: "Extract a database schema from an ER diagram image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			data, err := os.ReadFile(path)
			if err != nil {
				return err
			}

			contentType := contentTypeForFile(path)
			client := api.NewClient(getServerURL())
			var ds schema.DatabaseSchema
			if err := client.PostFile(cmd.Context(), "/generate-schema", "file", path, contentType, data, &ds); err != nil {
				return err
			}
			return api.Output(ds)
		},
	}
}

func contentTypeForFile(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".webp":
		return "image/webp"
	default:
		return "image/png"
	}
}
