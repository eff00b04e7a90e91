package nginx

import (
	"bytes"
	"fmt"
	"os"
	"path"

	"ecrdeploy/internal/logging"

	crossplane "github.com/nginxinc/nginx-go-crossplane"
	"go.uber.org/zap"
)

// FileMode is the permission config files are written with.
const FileMode os.FileMode = 0o644

// buildOptions renders with four-space indentation and no tabs.
var buildOptions = crossplane.BuildOptions{Indent: 4, Tabs: false}

// FileWriter stores a file. control.SSH implements it for remote hosts.
type FileWriter interface {
	WriteFile(name string, data []byte, perm os.FileMode) error
}

// Render serializes a document. Equal documents render byte-identically.
func Render(c crossplane.Config) ([]byte, error) {
	var buf bytes.Buffer
	opts := buildOptions
	if err := crossplane.Build(&buf, c, &opts); err != nil {
		return nil, fmt.Errorf("failed to render nginx config %s: %w", c.File, err)
	}
	return buf.Bytes(), nil
}

// WriteFiles renders each document and writes it to dir/<document file>
// through w.
func WriteFiles(w FileWriter, dir string, docs ...crossplane.Config) error {
	for _, doc := range docs {
		if doc.File == "" {
			return fmt.Errorf("config document has no file name")
		}
		target := path.Join(dir, doc.File)

		data, err := Render(doc)
		if err != nil {
			return err
		}

		logging.Logger().Info("Writing nginx config", zap.String("path", target))

		if err := w.WriteFile(target, data, FileMode); err != nil {
			return fmt.Errorf("failed to write nginx config %s: %w", target, err)
		}
	}
	return nil
}

// WriteLocal writes the documents under dir on this machine, creating
// directories as needed.
func WriteLocal(dir string, docs ...crossplane.Config) error {
	for _, doc := range docs {
		if doc.File == "" {
			return fmt.Errorf("config document has no file name")
		}
	}
	logging.Logger().Info("Writing nginx config locally",
		zap.String("dir", dir),
		zap.Int("files", len(docs)))

	opts := buildOptions
	payload := crossplane.Payload{Config: docs}
	if err := crossplane.BuildFiles(payload, dir, &opts); err != nil {
		return fmt.Errorf("failed to write nginx config to %s: %w", dir, err)
	}
	return nil
}
